package wggesucht

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"rental-crawler/models"
	"rental-crawler/scraper"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func fixtureDoc(t *testing.T, name string) *goquery.Document {
	t.Helper()
	return htmlDoc(t, fixture(t, name))
}

func htmlDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

// fakePage is a scripted browser tab. Selectors become present up front or
// as a reaction to clicks and navigations.
type fakePage struct {
	mu         sync.Mutex
	present    map[string]bool
	onClick    map[string][]string
	onNavigate func(p *fakePage, url string)
	html       string
	cookies    []models.Cookie

	navigated []string
	clicked   []string
	values    map[string]string
	applied   [][]models.Cookie
}

func newFakePage(present ...string) *fakePage {
	p := &fakePage{
		present: make(map[string]bool),
		onClick: make(map[string][]string),
		values:  make(map[string]string),
	}
	for _, sel := range present {
		p.present[sel] = true
	}
	return p
}

func (p *fakePage) has(selector string) bool {
	for _, sel := range strings.Split(selector, ",") {
		if p.present[strings.TrimSpace(sel)] {
			return true
		}
	}
	return false
}

func (p *fakePage) set(selectors ...string) {
	for _, sel := range selectors {
		p.present[sel] = true
	}
}

func (p *fakePage) unset(selectors ...string) {
	for _, sel := range selectors {
		delete(p.present, sel)
	}
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if p.onNavigate != nil {
		p.onNavigate(p, url)
	}
	return nil
}

func (p *fakePage) WaitVisible(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.has(selector) {
		return nil
	}
	return context.DeadlineExceeded
}

func (p *fakePage) Exists(_ context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.has(selector), nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicked = append(p.clicked, selector)
	p.set(p.onClick[selector]...)
	return nil
}

func (p *fakePage) SetValue(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[selector] = value
	return nil
}

func (p *fakePage) Title(context.Context) (string, error) { return "", nil }

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) Cookies(context.Context, ...string) ([]models.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *fakePage) SetCookies(_ context.Context, cookies []models.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, cookies)
	return nil
}

// fakeSource hands out its pages in order, repeating the last one.
type fakeSource struct {
	mu       sync.Mutex
	pages    []*fakePage
	acquired int
}

func (s *fakeSource) Acquire(context.Context) (scraper.Page, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.acquired
	if i >= len(s.pages) {
		i = len(s.pages) - 1
	}
	s.acquired++
	return s.pages[i], func() {}, nil
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// loginPage scripts a successful login through the modal.
func loginPage() *fakePage {
	p := newFakePage("a.login_button")
	p.onClick[loginOpenSelector] = []string{loginEmailSelector}
	p.onClick[loginSubmitSelector] = []string{"#user_menu"}
	p.cookies = []models.Cookie{{Name: "X-Client-Id", Value: "wg-1", Domain: ".wg-gesucht.de", Path: "/"}}
	return p
}

type memSessionStore struct {
	mu    sync.Mutex
	saved []*models.SessionState
	load  *models.SessionState
}

func (m *memSessionStore) LoadSession(context.Context, models.Platform) (*models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load, nil
}

func (m *memSessionStore) SaveSession(_ context.Context, s *models.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return nil
}
