package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"rental-crawler/config"
	"rental-crawler/models"
	"rental-crawler/scraper"
	"rental-crawler/scraper/wggesucht"
	"rental-crawler/storage"
	"rental-crawler/utils"
)

func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.Store, error) {
	driver, target := cfg.StoreTarget()
	logger.Info("[store] Opening %s store at %s", driver, target)

	switch driver {
	case "postgres":
		return storage.OpenPostgres(ctx, cfg.DSN(), logger)
	case "sqlite", "libsql":
		return storage.OpenSQLite(ctx, cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("config: unknown STORE_DRIVER %q", driver)
	}
}

// loadProfiles reads the profile file and saves its preferences so matching
// and the API see the same set. A missing file yields empty profiles.
func loadProfiles(ctx context.Context, path string, store storage.MatchStore, logger *utils.Logger) (*config.Profiles, error) {
	p, err := config.LoadProfiles(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("[config] No profile file at %s", path)
		return &config.Profiles{}, nil
	}
	if err != nil {
		return nil, err
	}
	for _, pref := range p.Preferences {
		if err := store.SavePreference(ctx, pref); err != nil {
			return nil, err
		}
	}
	logger.Info("[config] Loaded %d searches and %d preferences from %s", len(p.Searches), len(p.Preferences), path)
	return p, nil
}

// crawlStack is the browser, HTTP client and session manager a crawl needs.
type crawlStack struct {
	browser  *scraper.BrowserPool
	http     *scraper.HTTPClient
	sessions *wggesucht.SessionManager
	scraper  *wggesucht.Scraper
}

func (c *crawlStack) Close() {
	if c.browser != nil {
		c.browser.Close()
	}
}

// pageSource keeps a nil pool from becoming a non-nil interface.
func (c *crawlStack) pageSource() scraper.PageSource {
	if c.browser == nil {
		return nil
	}
	return c.browser
}

func newCrawlStack(cfg *config.Config, pages int, sessions wggesucht.SessionStore, logger *utils.Logger) (*crawlStack, error) {
	detailTimeout := time.Duration(cfg.DetailTimeoutSec) * time.Second
	httpClient, err := scraper.NewHTTPClient(detailTimeout)
	if err != nil {
		return nil, err
	}
	stack := &crawlStack{http: httpClient}

	browser, err := scraper.NewBrowserPool(scraper.BrowserOptions{
		ChromeBin: cfg.ChromeBin,
		Headless:  cfg.Headless,
		MaxTabs:   cfg.MaxConcurrency,
	}, logger)
	switch {
	case errors.Is(err, scraper.ErrNoBrowser):
		logger.Warn("[browser] No Chrome found, running HTTP-only (no login, no contact reveal)")
	case err != nil:
		return nil, err
	default:
		stack.browser = browser
	}

	creds := wggesucht.Credentials{Email: cfg.WGEmail, Password: cfg.WGPassword}
	stack.sessions = wggesucht.NewSessionManager(creds, sessions, stack.pageSource(),
		wggesucht.BaseURL, cfg.SessionTTL(), logger)

	stack.scraper = wggesucht.New(wggesucht.Options{
		Pages:         pages,
		Concurrency:   cfg.MaxConcurrency,
		RateLimit:     time.Duration(cfg.RateLimitMs) * time.Millisecond,
		BatchDelay:    time.Duration(cfg.BatchDelayMs) * time.Millisecond,
		DetailTimeout: detailTimeout,
		MaxRetries:    cfg.MaxRetries,
		ZeroThreshold: cfg.BlockZeroThreshold,
	}, httpClient, stack.pageSource(), stack.sessions, logger)
	return stack, nil
}

func exportCSV(path string, listings []models.ListingRecord, logger *utils.Logger) error {
	w, err := storage.NewCSVWriter(path)
	if err != nil {
		return err
	}
	var exporter storage.ListingExporter = w
	defer exporter.Close()
	if err := exporter.Export(listings); err != nil {
		return err
	}
	logger.Info("[csv] Exported %d listings to %s", len(listings), path)
	return nil
}
