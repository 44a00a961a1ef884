package wggesucht

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rental-crawler/models"
	"rental-crawler/scraper"
	"rental-crawler/utils"
)

// SearchPage is one fetched and parsed results page.
type SearchPage struct {
	URL      string
	Stubs    []models.ListingStub
	Rendered bool
	Empty    bool
}

// SearchFetcher retrieves result pages over HTTP and escalates to a rendered
// browser fetch when the answer looks like an anti-bot page.
type SearchFetcher struct {
	http    scraper.Getter
	browser scraper.PageSource
	limiter *utils.HostLimiter
	retry   *utils.RetryConfig
	logger  *utils.Logger
	// zeroThreshold: a page with no cards is suspicious when the previous run
	// of the same search found at least this many.
	zeroThreshold int
	renderWait    time.Duration
}

// NewSearchFetcher wires a fetcher. browser may be nil (HTTP-only).
func NewSearchFetcher(http scraper.Getter, browser scraper.PageSource, limiter *utils.HostLimiter,
	retry *utils.RetryConfig, zeroThreshold int, logger *utils.Logger) *SearchFetcher {
	return &SearchFetcher{
		http:          http,
		browser:       browser,
		limiter:       limiter,
		retry:         retry,
		logger:        logger,
		zeroThreshold: zeroThreshold,
		renderWait:    30 * time.Second,
	}
}

// Fetch loads and parses pageURL. previousFound is the card count of the
// last run of the same search (0 when unknown).
func (f *SearchFetcher) Fetch(ctx context.Context, pageURL string, previousFound int) (*SearchPage, error) {
	var (
		status int
		body   string
	)
	err := f.retry.Do(ctx, "search "+pageURL, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx, pageURL); err != nil {
			return err
		}
		resp, err := f.http.Get(ctx, pageURL)
		if err != nil {
			return err
		}
		status, body = resp.Status, resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}

	page, reason, err := f.parse(pageURL, status, body, previousFound)
	if err != nil || reason == "" {
		return page, err
	}

	f.logger.Warn("[wggesucht] Anti-bot signal on %s (%s), escalating to browser", pageURL, reason)
	if f.browser == nil {
		return nil, &scraper.BlockedError{URL: pageURL, Reason: reason}
	}

	html, err := f.render(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	page, reason, err = f.parse(pageURL, 200, html, previousFound)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, &scraper.BlockedError{URL: pageURL, Reason: reason + " after rendering"}
	}
	page.Rendered = true
	return page, nil
}

// parse returns a non-empty reason when the page must be treated as blocked.
func (f *SearchFetcher) parse(pageURL string, status int, body string, previousFound int) (*SearchPage, string, error) {
	var doc *goquery.Document
	if body != "" {
		d, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, "", fmt.Errorf("wggesucht: parse %s: %w", pageURL, err)
		}
		doc = d
	}
	if reason, blocked := scraper.DetectBlock(status, doc); blocked {
		return nil, reason, nil
	}
	if doc == nil {
		return nil, fmt.Sprintf("empty body (status %d)", status), nil
	}

	stubs, err := ParseSearchPage(doc, pageURL)
	if err != nil {
		return nil, "", err
	}
	empty := len(stubs) == 0 && IsEmptyResults(doc)
	if len(stubs) == 0 && f.zeroThreshold > 0 && previousFound >= f.zeroThreshold {
		return nil, fmt.Sprintf("zero cards, previous run found %d", previousFound), nil
	}
	return &SearchPage{URL: pageURL, Stubs: stubs, Empty: empty}, "", nil
}

func (f *SearchFetcher) render(ctx context.Context, pageURL string) (string, error) {
	page, release, err := f.browser.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("wggesucht: acquire tab: %w", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, f.renderWait)
	defer cancel()

	if err := f.limiter.Wait(ctx, pageURL); err != nil {
		return "", err
	}
	if err := page.Navigate(ctx, pageURL); err != nil {
		return "", &scraper.TransientNetworkError{URL: pageURL, Err: err}
	}
	_ = page.WaitVisible(ctx, "body")
	html, err := page.HTML(ctx)
	if err != nil {
		return "", &scraper.TransientNetworkError{URL: pageURL, Err: err}
	}
	return html, nil
}
