package scraper

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var captchaSelectors = []string{
	".g-recaptcha",
	"[data-sitekey]",
	".h-captcha",
	"#cf-challenge-running",
	".cf-challenge",
	"#challenge-form",
	"form[id*='captcha']",
	"iframe[src*='captcha']",
}

var suspiciousTitles = []string{
	"just a moment",
	"access denied",
	"attention required",
	"sicherheitsabfrage",
	"zugriff verweigert",
	"are you a robot",
	"bist du ein mensch",
}

// DetectBlock inspects an HTTP status and parsed document for anti-bot
// signals. It returns a short reason and true when the page is a block page.
func DetectBlock(status int, doc *goquery.Document) (string, bool) {
	switch status {
	case http.StatusForbidden:
		return "http 403", true
	case http.StatusTooManyRequests:
		return "http 429", true
	}
	if doc == nil {
		return "", false
	}

	title := strings.ToLower(CleanText(doc.Find("title").First().Text()))
	for _, t := range suspiciousTitles {
		if strings.Contains(title, t) {
			return "suspicious title: " + t, true
		}
	}

	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			return "captcha markup: " + sel, true
		}
	}
	return "", false
}
