package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"rental-crawler/models"
)

// Response is a fetched document.
type Response struct {
	URL    string
	Status int
	Body   string
}

// Getter fetches a URL over plain HTTP.
type Getter interface {
	Get(ctx context.Context, url string) (*Response, error)
}

// HTTPClient is the lightweight fetch path: browser-like headers, a cookie jar
// and a Cloudflare-tolerant transport.
type HTTPClient struct {
	client *resty.Client
	jar    *cookiejar.Jar
}

// NewHTTPClient creates an HTTPClient with the given request timeout.
func NewHTTPClient(timeout time.Duration) (*HTTPClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("http: cookie jar: %w", err)
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(timeout)
	client.SetHeaders(map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "de-DE,de;q=0.9,en;q=0.6",
		"Cache-Control":   "no-cache",
	})

	return &HTTPClient{client: client, jar: jar}, nil
}

// Get fetches rawURL. Network failures and 5xx answers come back as
// TransientNetworkError; any other status is returned for the caller to judge.
func (c *HTTPClient) Get(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := c.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientNetworkError{URL: rawURL, Err: err}
	}

	out := &Response{
		URL:    rawURL,
		Status: resp.StatusCode(),
		Body:   string(resp.Body()),
	}
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		out.URL = resp.RawResponse.Request.URL.String()
	}
	if resp.StatusCode() >= 500 {
		return out, &TransientNetworkError{URL: rawURL, Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	return out, nil
}

// SetCookies seeds the jar with session cookies for rawURL's host.
func (c *HTTPClient) SetCookies(rawURL string, cookies []models.Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("http: parse %q: %w", rawURL, err)
	}
	hc := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc = append(hc, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	c.jar.SetCookies(u, hc)
	return nil
}
