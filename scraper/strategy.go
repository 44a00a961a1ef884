package scraper

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// excludedMarkers identify containers rendering other listings (similar
// offers, sidebars, recommendations). Nothing inside them belongs to the
// listing being extracted.
var excludedMarkers = []string{"similar", "sidebar", "recommend", "related", "other_ads"}

// Strategy is one named, pure way of extracting a field from a document.
type Strategy struct {
	Name    string
	Extract func(doc *goquery.Document) string
}

// Cascade tries strategies in order and returns the first non-trivial result
// together with the name of the strategy that produced it.
func Cascade(doc *goquery.Document, strategies []Strategy) (value, name string, ok bool) {
	for _, s := range strategies {
		v := CleanText(s.Extract(doc))
		if Trivial(v) {
			continue
		}
		return v, s.Name, true
	}
	return "", "", false
}

// Trivial reports whether v carries no content.
func Trivial(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "n/a", "-", "--", "k.a.", "keine angabe":
		return true
	}
	return false
}

// Excluded reports whether the first node of sel, or any ancestor, is a
// foreign-listing container.
func Excluded(sel *goquery.Selection) bool {
	if sel.Length() == 0 {
		return false
	}
	node := sel.First()
	if markedExcluded(node) {
		return true
	}
	found := false
	node.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		if markedExcluded(p) {
			found = true
			return false
		}
		return true
	})
	return found
}

func markedExcluded(s *goquery.Selection) bool {
	if s.Is("html, body") {
		return false
	}
	attrs := strings.ToLower(s.AttrOr("class", "") + " " + s.AttrOr("id", ""))
	if strings.TrimSpace(attrs) == "" {
		return false
	}
	for _, m := range excludedMarkers {
		if strings.Contains(attrs, m) {
			return true
		}
	}
	return false
}

// Own filters sel down to nodes outside excluded containers.
func Own(sel *goquery.Selection) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return !Excluded(s)
	})
}

// WithoutForeign returns a copy of doc with every foreign-listing container
// removed. doc itself is not modified.
func WithoutForeign(doc *goquery.Document) *goquery.Document {
	clean := goquery.CloneDocument(doc)
	clean.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return markedExcluded(s)
	}).Remove()
	return clean
}

// FirstText returns the cleaned text of the first node matching selector
// outside excluded containers.
func FirstText(doc *goquery.Document, selector string) string {
	var out string
	Own(doc.Find(selector)).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := CleanText(s.Text()); !Trivial(t) {
			out = t
			return false
		}
		return true
	})
	return out
}

// CleanText trims and collapses whitespace (non-breaking spaces included).
func CleanText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
