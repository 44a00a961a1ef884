package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"rental-crawler/models"
	"rental-crawler/utils"
)

// ErrNoBrowser is returned when no Chrome/Chromium binary can be found.
var ErrNoBrowser = errors.New("browser: no chrome binary found")

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Page is one browser tab. All methods honor ctx cancellation; a cancelled
// navigation aborts the page load.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	SetValue(ctx context.Context, selector, value string) error
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context, urls ...string) ([]models.Cookie, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error
}

// PageSource hands out tabs. The returned release func must be called on
// every exit path; it is safe to call more than once.
type PageSource interface {
	Acquire(ctx context.Context) (Page, func(), error)
}

// BrowserOptions configures the headless browser.
type BrowserOptions struct {
	ChromeBin string
	Headless  bool
	MaxTabs   int
}

// BrowserPool owns one Chrome process and bounds the number of open tabs.
type BrowserPool struct {
	logger      *utils.Logger
	tabs        chan struct{}
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancel      context.CancelFunc
}

// NewBrowserPool starts Chrome. It returns ErrNoBrowser when no binary is
// available so callers can fall back to HTTP-only operation.
func NewBrowserPool(opts BrowserOptions, logger *utils.Logger) (*BrowserPool, error) {
	chromeBin := FindChromeBinary(opts.ChromeBin)
	if chromeBin == "" {
		return nil, ErrNoBrowser
	}
	logger.Info("[browser] Using browser binary: %s", chromeBin)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("lang", "de-DE"),
		chromedp.UserAgent(userAgent),
		chromedp.ExecPath(chromeBin),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	// Suppress chromedp log noise
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("browser: start: %w", err)
	}

	maxTabs := opts.MaxTabs
	if maxTabs < 1 {
		maxTabs = 1
	}
	return &BrowserPool{
		logger:      logger,
		tabs:        make(chan struct{}, maxTabs),
		browserCtx:  browserCtx,
		cancelAlloc: cancelAlloc,
		cancel:      cancel,
	}, nil
}

// Acquire opens a new tab, blocking while all tabs are in use.
func (b *BrowserPool) Acquire(ctx context.Context) (Page, func(), error) {
	select {
	case b.tabs <- struct{}{}:
	case <-ctx.Done():
		return nil, func() {}, ctx.Err()
	}

	tabCtx, closeTab := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		closeTab()
		<-b.tabs
		return nil, func() {}, fmt.Errorf("browser: open tab: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			closeTab()
			<-b.tabs
		})
	}
	return &chromePage{tabCtx: tabCtx}, release, nil
}

// Close shuts the browser down.
func (b *BrowserPool) Close() {
	b.cancel()
	b.cancelAlloc()
}

type chromePage struct {
	tabCtx context.Context
}

// run executes actions on the tab, bounded by ctx. Cancelling ctx aborts the
// actions without closing the tab.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	expr := fmt.Sprintf(`document.querySelector(%s) !== null`, quoted)
	if err := p.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromePage) SetValue(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Cookies(ctx context.Context, urls ...string) ([]models.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := getCookiesParams(urls).Do(ctx)
		if err != nil {
			return err
		}
		raw = cookies
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	return fromNetworkCookies(raw), nil
}

// getCookiesParams scopes the cookie query to urls; none means the current
// page.
func getCookiesParams(urls []string) *network.GetCookiesParams {
	get := network.GetCookies()
	if len(urls) > 0 {
		get = get.WithUrls(urls)
	}
	return get
}

func fromNetworkCookies(raw []*network.Cookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		mc := models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			mc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, mc)
	}
	return out
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	return p.run(ctx, network.Enable(), chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			set := network.SetCookie(c.Name, c.Value).
				WithDomain(strings.TrimPrefix(c.Domain, ".")).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if !c.Expires.IsZero() {
				ts := cdp.TimeSinceEpoch(c.Expires)
				set = set.WithExpires(&ts)
			}
			if err := set.Do(ctx); err != nil {
				return fmt.Errorf("browser: set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// FindChromeBinary locates a Chrome/Chromium binary, preferring explicit.
func FindChromeBinary(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
