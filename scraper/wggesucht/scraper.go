package wggesucht

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rental-crawler/models"
	"rental-crawler/scraper"
	"rental-crawler/utils"
)

// Options tunes one crawler instance.
type Options struct {
	BaseURL       string
	Pages         int
	Concurrency   int
	RateLimit     time.Duration
	BatchDelay    time.Duration
	DetailTimeout time.Duration
	MaxRetries    int
	ZeroThreshold int
}

// CrawlRequest is one search pass.
type CrawlRequest struct {
	Filter models.SearchFilter
	// PreviousFound is the card count of the last run of this search.
	PreviousFound int
	// Recrawl lists listings flagged on earlier passes; they are visited even
	// when the search no longer returns them.
	Recrawl []models.ListingStub
}

// Outcome is the result of visiting one candidate. Raw is nil when nothing
// could be extracted; Err carries the failure or a partial-extraction warning.
type Outcome struct {
	Stub models.ListingStub
	Raw  *models.RawListing
	Err  error
}

// Handler consumes outcomes. Calls are serialized, so a handler may update
// the run summary without further locking.
type Handler func(ctx context.Context, o Outcome)

// Scraper orchestrates search, detail extraction and contact reveal for the
// marketplace.
type Scraper struct {
	opts     Options
	logger   *utils.Logger
	http     scraper.Getter
	browser  scraper.PageSource
	sessions *SessionManager
	revealer *Revealer
	fetcher  *SearchFetcher
	limiter  *utils.HostLimiter
	retry    *utils.RetryConfig
	now      func() time.Time

	mu sync.Mutex
}

// New creates a ready-to-use Scraper. browser may be nil for HTTP-only
// operation; sessions may be nil to disable gated extraction.
func New(opts Options, http scraper.Getter, browser scraper.PageSource, sessions *SessionManager, logger *utils.Logger) *Scraper {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.Pages < 1 {
		opts.Pages = 1
	}
	if opts.DetailTimeout <= 0 {
		opts.DetailTimeout = 45 * time.Second
	}
	if sessions == nil {
		sessions = NewSessionManager(Credentials{}, nil, nil, opts.BaseURL, 0, logger)
	}

	limiter := utils.NewHostLimiter(opts.RateLimit)
	retry := &utils.RetryConfig{
		MaxAttempts: opts.MaxRetries,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Logger:      logger,
		Retryable:   scraper.IsRetryable,
	}

	return &Scraper{
		opts:     opts,
		logger:   logger,
		http:     http,
		browser:  browser,
		sessions: sessions,
		revealer: NewRevealer(sessions),
		fetcher:  NewSearchFetcher(http, browser, limiter, retry, opts.ZeroThreshold, logger),
		limiter:  limiter,
		retry:    retry,
		now:      time.Now,
	}
}

// Sessions exposes the session manager.
func (s *Scraper) Sessions() *SessionManager { return s.sessions }

// Crawl runs one search pass: result pages first, then every candidate's
// detail page on the worker pool. Per-item failures are isolated and
// reported through handle; search-level blocks or template changes stop the
// search phase and are recorded on summary.
func (s *Scraper) Crawl(ctx context.Context, req CrawlRequest, summary *models.RunSummary, handle Handler) {
	log := s.logger.With("search", req.Filter.Name)

	if s.sessions.Enabled() {
		if _, err := s.sessions.Ensure(ctx); err != nil {
			summary.AddError(string(scraper.Kind(err)), s.opts.BaseURL, err.Error())
		}
	}
	summary.LoginOK = s.sessions.Current() != nil

	stubs := s.search(ctx, req, summary, log)
	summary.Found = len(stubs)

	seen := utils.NewURLSet()
	for _, st := range stubs {
		seen.Add(st.ExternalID)
	}
	for _, st := range req.Recrawl {
		if seen.Add(st.ExternalID) {
			stubs = append(stubs, st)
		}
	}

	if summary.Blocked {
		log.Warn("[wggesucht] Search blocked, skipping %d detail pages", len(stubs))
		return
	}
	log.Info("[wggesucht] %d candidates (%d from search, %d recrawl)", len(stubs), summary.Found, len(stubs)-summary.Found)
	s.details(ctx, stubs, summary, handle)
}

func (s *Scraper) search(ctx context.Context, req CrawlRequest, summary *models.RunSummary, log *utils.Logger) []models.ListingStub {
	searchURL, err := BuildSearchURL(req.Filter)
	if err == nil {
		searchURL, err = rebase(searchURL, s.opts.BaseURL)
	}
	if err != nil {
		summary.AddError(string(scraper.KindInternal), "", err.Error())
		return nil
	}

	seen := utils.NewURLSet()
	var stubs []models.ListingStub

	for page := req.Filter.Page; page < req.Filter.Page+s.opts.Pages; page++ {
		pageURL, err := PageURL(searchURL, page)
		if err != nil {
			summary.AddError(string(scraper.KindInternal), searchURL, err.Error())
			break
		}
		log.Info("[wggesucht] Fetching page %d: %s", page, pageURL)

		previous := 0
		if page == req.Filter.Page {
			previous = req.PreviousFound
		}
		result, err := s.fetcher.Fetch(ctx, pageURL, previous)
		if err != nil {
			kind := scraper.Kind(err)
			switch kind {
			case scraper.KindBlocked:
				summary.Blocked = true
			case scraper.KindStructural:
				summary.StructureBroken = true
				log.Error("[wggesucht] Template change suspected on %s: %v", pageURL, err)
			}
			summary.AddError(string(kind), pageURL, err.Error())
			break
		}
		summary.PagesFetched++

		added := 0
		for _, st := range result.Stubs {
			if seen.Add(st.ExternalID) {
				stubs = append(stubs, st)
				added++
			}
		}
		log.Debug("[wggesucht] Page %d: %d stubs (%d new)", page, len(result.Stubs), added)
		if len(result.Stubs) == 0 || added == 0 {
			break
		}

		if page+1 < req.Filter.Page+s.opts.Pages {
			if err := utils.Sleep(ctx, s.opts.BatchDelay); err != nil {
				break
			}
		}
	}
	return stubs
}

func (s *Scraper) details(ctx context.Context, stubs []models.ListingStub, summary *models.RunSummary, handle Handler) {
	pool := utils.NewWorkerPool(s.opts.Concurrency)
	var blocked atomic.Bool

	emit := func(ctx context.Context, o Outcome) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch kind := scraper.Kind(o.Err); kind {
		case "":
		case scraper.KindSkipped:
			summary.Skipped++
		case scraper.KindGone:
			summary.Gone++
		default:
			if o.Raw == nil {
				summary.Failed++
			}
			if kind == scraper.KindBlocked {
				summary.Blocked = true
			}
			summary.AddError(string(kind), o.Stub.URL, o.Err.Error())
		}
		handle(ctx, o)
	}

	pool.OnPanic(func(r any) {
		s.logger.Error("[wggesucht] Recovered panic outside item isolation: %v", r)
	})

	for i, st := range stubs {
		stub := st
		err := pool.Submit(ctx, func(ctx context.Context) {
			if blocked.Load() {
				emit(ctx, Outcome{Stub: stub, Err: fmt.Errorf("%w: %s", scraper.ErrSkipped, stub.URL)})
				return
			}
			defer func() {
				if r := recover(); r != nil {
					emit(ctx, Outcome{Stub: stub, Err: fmt.Errorf("panic extracting %s: %v", stub.URL, r)})
				}
			}()
			raw, err := s.detail(ctx, stub)
			if scraper.Kind(err) == scraper.KindBlocked {
				blocked.Store(true)
			}
			emit(ctx, Outcome{Stub: stub, Raw: raw, Err: err})
		})
		if err != nil {
			s.logger.Warn("[wggesucht] Crawl cancelled, %d candidates not visited: %v", len(stubs)-i, err)
			break
		}
	}
	pool.Wait()
	if summary.Skipped > 0 {
		s.logger.Warn("[wggesucht] Detail pages blocked, %d candidates skipped until the next pass", summary.Skipped)
	}
}

// detail extracts one listing. A partial-extraction warning is returned
// together with a non-nil listing.
func (s *Scraper) detail(ctx context.Context, stub models.ListingStub) (*models.RawListing, error) {
	started := s.now()
	defer s.logger.Duration("detail "+stub.URL, started)

	ctx, cancel := context.WithTimeout(ctx, s.opts.DetailTimeout)
	defer cancel()

	var (
		html string
		err  error
	)
	if s.browser != nil {
		html, err = s.renderDetail(ctx, stub.URL)
	} else {
		html, err = s.fetchDetail(ctx, stub.URL)
	}
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("wggesucht: parse detail %s: %w", stub.URL, err)
	}
	if reason, blocked := scraper.DetectBlock(200, doc); blocked {
		return nil, &scraper.BlockedError{URL: stub.URL, Reason: reason}
	}
	if reason, gone := DetectGone(doc); gone {
		return nil, &scraper.GoneError{URL: stub.URL, Reason: reason}
	}

	raw, warn := ExtractDetail(doc, stub.URL)
	applyStubHints(&raw, stub)
	raw.ScrapedAt = s.now()
	if warn != nil {
		// hints may have filled what the page lacked
		if missing := missingCore(raw); len(missing) == 0 {
			warn = nil
			raw.RecrawlReason = ""
			if len(raw.Images) == 0 {
				raw.RecrawlReason = "no_images"
			}
		}
	}
	return &raw, warn
}

func (s *Scraper) fetchDetail(ctx context.Context, url string) (string, error) {
	var html string
	err := s.retry.Do(ctx, "detail "+url, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx, url); err != nil {
			return err
		}
		resp, err := s.http.Get(ctx, url)
		if err != nil {
			return err
		}
		if reason, blocked := scraper.DetectBlock(resp.Status, nil); blocked {
			return &scraper.BlockedError{URL: url, Reason: reason}
		}
		if resp.Status == http.StatusNotFound || resp.Status == http.StatusGone {
			return &scraper.GoneError{URL: url, Reason: "http " + strconv.Itoa(resp.Status)}
		}
		html = resp.Body
		return nil
	})
	return html, err
}

func (s *Scraper) renderDetail(ctx context.Context, url string) (string, error) {
	page, release, err := s.browser.Acquire(ctx)
	if err != nil {
		return "", &scraper.TransientNetworkError{URL: url, Err: err}
	}
	defer release()

	if err := s.sessions.Apply(ctx, page); err != nil {
		s.logger.Warn("[wggesucht] Apply session cookies: %v", err)
	}
	if err := s.limiter.Wait(ctx, url); err != nil {
		return "", err
	}
	if err := page.Navigate(ctx, url); err != nil {
		return "", &scraper.TransientNetworkError{URL: url, Err: err}
	}
	s.awaitHydration(ctx, page)

	if _, err := s.revealer.Reveal(ctx, page, url); err != nil {
		s.logger.Warn("[wggesucht] Contact reveal on %s: %v", url, err)
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return "", &scraper.TransientNetworkError{URL: url, Err: err}
	}
	return html, nil
}

// awaitHydration gives client-side rendering a bounded window to produce the
// main content; extraction proceeds either way.
func (s *Scraper) awaitHydration(ctx context.Context, page scraper.Page) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := page.Exists(ctx, hydratedSelector); ok {
			return
		}
		if utils.Sleep(ctx, 200*time.Millisecond) != nil {
			return
		}
	}
}

// applyStubHints fills fields the detail page did not provide from the
// search card.
func applyStubHints(raw *models.RawListing, stub models.ListingStub) {
	if raw.ExternalID == "" {
		raw.ExternalID = stub.ExternalID
	}
	fill := func(field string, dst *string, v string) {
		if *dst != "" || v == "" {
			return
		}
		*dst = v
		raw.Strategies[field] = "search_card"
		raw.Unresolved = remove(raw.Unresolved, field)
	}
	fill(FieldTitle, &raw.Title, stub.Title)
	if stub.RoughPrice != nil {
		fill(FieldPrice, &raw.RawPrice, strconv.FormatFloat(*stub.RoughPrice, 'f', -1, 64)+" €")
	}
	if stub.RoughSize != nil {
		fill(FieldSize, &raw.RawSize, strconv.FormatFloat(*stub.RoughSize, 'f', -1, 64)+" m²")
	}
	if stub.RoughRooms != nil {
		fill(FieldRooms, &raw.RawRooms, strconv.FormatFloat(*stub.RoughRooms, 'f', -1, 64)+" Zimmer")
	}
	fill(FieldDistrict, &raw.District, stub.DistrictHint)
	fill(FieldFrom, &raw.RawFrom, stub.AvailableHint)
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// rebase moves rawURL onto base, keeping path and query.
func rebase(rawURL, base string) (string, error) {
	if base == "" || base == BaseURL {
		return rawURL, nil
	}
	if !strings.HasPrefix(rawURL, BaseURL) {
		return "", fmt.Errorf("wggesucht: %q is not a marketplace url", rawURL)
	}
	return strings.TrimRight(base, "/") + strings.TrimPrefix(rawURL, BaseURL), nil
}
