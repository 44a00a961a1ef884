package wggesucht

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"

	"rental-crawler/scraper"
)

// Image recovery techniques, in merge order.
const (
	TechniqueGallery    = "gallery"
	TechniqueScript     = "script"
	TechniqueBackground = "background"
	TechniqueImgTag     = "img"
)

// ImageResult is the merged, de-duplicated photo set of one listing.
type ImageResult struct {
	URLs []string
	// Counts holds the number of accepted candidates per technique, before
	// cross-technique de-duplication.
	Counts map[string]int
}

var (
	gallerySelectors = "#WG-Pictures img, #WG-Pictures a, .gallery img, .gallery a, " +
		".sp-thumbnail, .sp-image, .carousel-item img, [data-large], [data-full], a[data-lightbox]"
	galleryAttrs = []string{"data-large", "data-full", "data-big", "data-src", "href", "src"}
	imgAttrs     = []string{"data-src", "data-lazy", "data-original", "src"}

	fullResReplacer = strings.NewReplacer(
		".small.", ".large.",
		"/thumb/", "/large/",
		"_thumb", "_large",
		".sized.", ".large.",
	)

	imageKey    = regexp.MustCompile(`(?i)images?|pictures?|photos?|gallery`)
	assignedKey = regexp.MustCompile(`([\w$.]+)["']?\s*[:=]\s*$`)
	scriptArray = regexp.MustCompile(`(?is)([\w$.]*(?:images?|pictures?|photos?|gallery)\w*)["']?\s*[:=]\s*(\[[^\]]*\])`)
	urlLiteral  = regexp.MustCompile(`(?i)(?:https?:)?(?:\\?/){2}[^"'\s\\]+(?:\\/[^"'\s\\]+)*\.(?:jpe?g|png|webp)`)
	cssURL      = regexp.MustCompile(`(?i)background(?:-image)?\s*:[^;]*url\(\s*['"]?([^'")]+)['"]?\s*\)`)

	rejectMarkers = []string{"thumb", "icon", "small", "avatar", "logo", "placeholder", "sprite", "blank"}
)

// ExtractImages runs all four techniques and merges their results. Foreign
// listing containers never contribute.
func ExtractImages(doc *goquery.Document, pageURL string) ImageResult {
	base, _ := url.Parse(pageURL)
	res := ImageResult{Counts: make(map[string]int)}
	seen := make(map[string]bool)

	add := func(technique, raw string) {
		u, ok := canonicalImageURL(base, raw)
		if !ok {
			return
		}
		res.Counts[technique]++
		if seen[u] {
			return
		}
		seen[u] = true
		res.URLs = append(res.URLs, u)
	}

	for _, u := range galleryImages(doc) {
		add(TechniqueGallery, u)
	}
	for _, u := range scriptImages(doc) {
		add(TechniqueScript, u)
	}
	main := mainRegion(doc)
	for _, u := range backgroundImages(main) {
		add(TechniqueBackground, u)
	}
	for _, u := range imgTagImages(main) {
		add(TechniqueImgTag, u)
	}
	return res
}

func galleryImages(doc *goquery.Document) []string {
	var out []string
	scraper.Own(doc.Find(gallerySelectors)).Each(func(_ int, s *goquery.Selection) {
		for _, attr := range galleryAttrs {
			v := strings.TrimSpace(s.AttrOr(attr, ""))
			if v == "" || (attr == "href" && !looksLikeImage(v)) {
				continue
			}
			out = append(out, v)
			return
		}
	})
	return out
}

// scriptImages recovers image URLs from data literals in inline scripts.
// Object and array literals are decoded as JSON5 and walked with their key
// path, so arrays nested under another listing's key never contribute.
// Scripts are never executed.
func scriptImages(doc *goquery.Document) []string {
	var out []string
	scraper.Own(doc.Find("script")).Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			return
		}
		out = append(out, scriptLiteralImages(s.Text())...)
	})
	return out
}

func scriptLiteralImages(text string) []string {
	var out []string
	residual := []byte(text)

	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		end := literalEnd(text, i)
		if end < 0 {
			continue
		}
		lit := text[i:end]
		var v any
		if err := json5.Unmarshal([]byte(lit), &v); err != nil {
			// not data; literals nested inside are tried on their own
			continue
		}
		key := ""
		if m := assignedKey.FindStringSubmatch(text[max(0, i-200):i]); m != nil {
			key = m[1]
		}
		walkScriptValue(v, key, false, lit, &out)
		for j := i; j < end; j++ {
			residual[j] = ' '
		}
		i = end - 1
	}

	// arrays the decoder rejected, e.g. ones built from expressions
	for _, m := range scriptArray.FindAllStringSubmatch(string(residual), -1) {
		if foreignKey(m[1]) {
			continue
		}
		for _, lit := range urlLiteral.FindAllString(m[2], -1) {
			out = append(out, strings.ReplaceAll(lit, `\/`, "/"))
		}
	}
	return out
}

// walkScriptValue collects URL strings below image-like keys. Subtrees under
// a foreign key are skipped whatever they contain.
func walkScriptValue(v any, key string, inImages bool, lit string, out *[]string) {
	if foreignKey(key) {
		return
	}
	if imageKey.MatchString(key) {
		inImages = true
	}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		// source order, so photo order survives the map
		sort.SliceStable(keys, func(a, b int) bool {
			return strings.Index(lit, keys[a]) < strings.Index(lit, keys[b])
		})
		for _, k := range keys {
			walkScriptValue(t[k], k, inImages, lit, out)
		}
	case []any:
		for _, e := range t {
			walkScriptValue(e, key, inImages, lit, out)
		}
	case string:
		if inImages {
			*out = append(*out, urlLiteral.FindAllString(t, -1)...)
		}
	}
}

// literalEnd returns the index just past the bracket closing the one at
// start, or -1. Brackets inside string literals do not count.
func literalEnd(text string, start int) int {
	var (
		depth int
		quote byte
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func backgroundImages(main *goquery.Selection) []string {
	var out []string
	scraper.Own(main.Find("[style]")).Each(func(_ int, s *goquery.Selection) {
		for _, m := range cssURL.FindAllStringSubmatch(s.AttrOr("style", ""), -1) {
			out = append(out, m[1])
		}
	})
	return out
}

func imgTagImages(main *goquery.Selection) []string {
	var out []string
	scraper.Own(main.Find("img")).Each(func(_ int, s *goquery.Selection) {
		for _, attr := range imgAttrs {
			if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
				out = append(out, v)
				return
			}
		}
	})
	return out
}

func mainRegion(doc *goquery.Document) *goquery.Selection {
	if main := doc.Find(mainColumnSelector).First(); main.Length() > 0 {
		return main
	}
	if main := doc.Find("main").First(); main.Length() > 0 {
		return main
	}
	return doc.Find("body").First()
}

// canonicalImageURL resolves raw against base, upgrades thumbnail segments to
// full resolution and strips query and fragment. Unwanted variants are
// rejected.
func canonicalImageURL(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(strings.ToLower(raw), "data:") {
		return "", false
	}
	ref, err := url.Parse(fullResReplacer.Replace(raw))
	if err != nil {
		return "", false
	}
	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)

	p := strings.ToLower(u.Path)
	if strings.HasSuffix(p, ".svg") || strings.HasSuffix(p, ".gif") {
		return "", false
	}
	name := p[strings.LastIndex(p, "/")+1:]
	for _, marker := range rejectMarkers {
		if strings.Contains(name, marker) || strings.Contains(p, "/"+marker) {
			return "", false
		}
	}
	return u.String(), true
}

// foreignKey reports whether a script variable holds another listing's data,
// e.g. "similarOffersImages".
func foreignKey(key string) bool {
	key = strings.ToLower(key)
	for _, m := range []string{"similar", "related", "recommend", "other"} {
		if strings.Contains(key, m) {
			return true
		}
	}
	return false
}

func looksLikeImage(v string) bool {
	v = strings.ToLower(v)
	if i := strings.IndexAny(v, "?#"); i >= 0 {
		v = v[:i]
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp"} {
		if strings.HasSuffix(v, ext) {
			return true
		}
	}
	return false
}
