package wggesucht

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rental-crawler/scraper"
	"rental-crawler/utils"
)

// ContactResult is the landlord contact disclosed by the reveal control.
type ContactResult struct {
	Published bool
	Name      string
	Mobile    string
	Landline  string
	Email     string
}

// PreferredPhone returns the mobile number, falling back to the landline.
func (c ContactResult) PreferredPhone() string {
	if c.Mobile != "" {
		return c.Mobile
	}
	return c.Landline
}

var (
	contactNameSelector     = ".contact_name, .wg_contact_name, .name"
	contactMobileSelector   = ".phone_mobile, [data-phone-type='mobile'], .mobile_number"
	contactLandlineSelector = ".phone_landline, [data-phone-type='landline'], .landline_number"
	mobilePrefix            = regexp.MustCompile(`^(?:\+49|0049|0)\s*1[5-7]`)
)

// ParseContact reads the revealed contact panel. A page without the panel
// yields Published=false.
func ParseContact(doc *goquery.Document) ContactResult {
	panel := scraper.Own(doc.Find(contactPanelSelector)).First()
	if panel.Length() == 0 {
		return ContactResult{}
	}

	c := ContactResult{
		Name:     scraper.CleanText(panel.Find(contactNameSelector).First().Text()),
		Mobile:   phoneText(panel.Find(contactMobileSelector).First()),
		Landline: phoneText(panel.Find(contactLandlineSelector).First()),
	}
	if mail, ok := panel.Find("a[href^='mailto:']").First().Attr("href"); ok {
		c.Email = strings.TrimSpace(strings.TrimPrefix(mail, "mailto:"))
	}

	// untyped tel: links are classified by their prefix
	if c.Mobile == "" && c.Landline == "" {
		panel.Find("a[href^='tel:']").Each(func(_ int, s *goquery.Selection) {
			n := phoneText(s)
			switch {
			case mobilePrefix.MatchString(n) && c.Mobile == "":
				c.Mobile = n
			case !mobilePrefix.MatchString(n) && c.Landline == "":
				c.Landline = n
			}
		})
	}

	c.Published = c.Mobile != "" || c.Landline != "" || c.Email != ""
	return c
}

func phoneText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "tel:") {
		return strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
	}
	if a := s.Find("a[href^='tel:']").First(); a.Length() > 0 {
		return phoneText(a)
	}
	return scraper.CleanText(s.Text())
}

// Revealer triggers the phone reveal control on a loaded detail page.
type Revealer struct {
	sessions *SessionManager
	wait     time.Duration
	poll     time.Duration
}

// NewRevealer creates a Revealer backed by the session manager.
func NewRevealer(sessions *SessionManager) *Revealer {
	return &Revealer{sessions: sessions, wait: 5 * time.Second, poll: 250 * time.Millisecond}
}

var errNoPanel = errors.New("contact panel did not appear")

// Reveal clicks the reveal control and waits for the contact panel. An
// inline login prompt triggers one login and one retry. It returns false
// without error when the listing publishes no phone or gated extraction is
// disabled for this pass.
func (r *Revealer) Reveal(ctx context.Context, page scraper.Page, pageURL string) (bool, error) {
	if !r.sessions.Enabled() {
		return false, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		control := r.findControl(ctx, page)
		if control == "" {
			return false, nil
		}
		if err := page.Click(ctx, control); err != nil {
			return false, &scraper.TransientNetworkError{URL: pageURL, Err: err}
		}

		found, err := r.waitAny(ctx, page, contactPanelSelector, strings.Join(inlineLoginSelectors, ", "))
		if err != nil {
			return false, err
		}
		switch found {
		case contactPanelSelector:
			return true, nil
		case "":
			return false, errNoPanel
		}

		// inline login prompt
		if attempt > 0 {
			return false, &scraper.LoginFailure{Identity: r.sessions.creds.Email, Reason: "login prompt persisted after login"}
		}
		seen := r.sessions.generation()
		if _, err := r.sessions.Refresh(ctx, seen); err != nil {
			return false, err
		}
		if err := r.sessions.Apply(ctx, page); err != nil {
			return false, err
		}
		if err := page.Navigate(ctx, pageURL); err != nil {
			return false, &scraper.TransientNetworkError{URL: pageURL, Err: err}
		}
	}
	return false, errNoPanel
}

func (r *Revealer) findControl(ctx context.Context, page scraper.Page) string {
	for _, sel := range revealSelectors {
		if ok, _ := page.Exists(ctx, sel); ok {
			return sel
		}
	}
	return ""
}

// waitAny polls until one of selectors exists, returning it, or "" once the
// wait budget is spent.
func (r *Revealer) waitAny(ctx context.Context, page scraper.Page, selectors ...string) (string, error) {
	deadline := time.Now().Add(r.wait)
	for {
		for _, sel := range selectors {
			if ok, _ := page.Exists(ctx, sel); ok {
				return sel, nil
			}
		}
		if time.Now().After(deadline) {
			return "", nil
		}
		if err := utils.Sleep(ctx, r.poll); err != nil {
			return "", &scraper.TransientNetworkError{URL: "", Err: err}
		}
	}
}
