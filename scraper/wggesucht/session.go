package wggesucht

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"rental-crawler/models"
	"rental-crawler/scraper"
	"rental-crawler/utils"
)

// SessionStore persists the marketplace session across runs.
type SessionStore interface {
	LoadSession(ctx context.Context, platform models.Platform) (*models.SessionState, error)
	SaveSession(ctx context.Context, s *models.SessionState) error
}

// Credentials for the marketplace account.
type Credentials struct {
	Email    string
	Password string
}

// SessionManager owns the shared SessionState. Logins are serialized; readers
// take an immutable snapshot via Current.
type SessionManager struct {
	creds   Credentials
	store   SessionStore
	pages   scraper.PageSource
	logger  *utils.Logger
	baseURL string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	current  atomic.Pointer[models.SessionState]
	disabled atomic.Bool
}

// NewSessionManager creates a manager. pages may be nil, in which case gated
// extraction is disabled.
func NewSessionManager(creds Credentials, store SessionStore, pages scraper.PageSource,
	baseURL string, ttl time.Duration, logger *utils.Logger) *SessionManager {
	m := &SessionManager{
		creds:   creds,
		store:   store,
		pages:   pages,
		logger:  logger,
		baseURL: baseURL,
		ttl:     ttl,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	if creds.Email == "" || creds.Password == "" || pages == nil {
		m.disabled.Store(true)
	}
	return m
}

// Current returns the active session snapshot, or nil.
func (m *SessionManager) Current() *models.SessionState {
	s := m.current.Load()
	if !s.Valid(m.now()) {
		return nil
	}
	return s
}

// Enabled reports whether gated extraction may be attempted this pass.
func (m *SessionManager) Enabled() bool {
	return !m.disabled.Load()
}

// Ensure makes a usable session available: a persisted unexpired session is
// reused, otherwise a login is performed.
func (m *SessionManager) Ensure(ctx context.Context) (*models.SessionState, error) {
	if s := m.Current(); s != nil {
		return s, nil
	}
	if m.disabled.Load() {
		return nil, m.disabledErr()
	}

	if m.store != nil {
		s, err := m.store.LoadSession(ctx, models.PlatformWGGesucht)
		if err != nil {
			m.logger.Warn("[session] Load persisted session: %v", err)
		} else if s.Valid(m.now()) && s.Identity == m.creds.Email {
			m.mu.Lock()
			if m.current.Load() == nil {
				m.current.Store(s)
			}
			m.mu.Unlock()
			m.logger.Info("[session] Reusing persisted session for %s (generation %d)", s.Identity, s.Generation)
			return m.Current(), nil
		}
	}
	return m.Refresh(ctx, m.generation())
}

// Refresh logs in again unless another caller already replaced the session
// whose generation was seen. Only one login runs at a time.
func (m *SessionManager) Refresh(ctx context.Context, seenGeneration int64) (*models.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.current.Load(); s.Valid(m.now()) && s.Generation > seenGeneration {
		return s, nil
	}
	if m.disabled.Load() {
		return nil, m.disabledErr()
	}

	s, err := m.login(ctx)
	if err != nil {
		m.disabled.Store(true)
		m.logger.Warn("[session] %v; gated extraction disabled for this pass", err)
		return nil, err
	}

	s.Generation = m.generation() + 1
	m.current.Store(s)
	if m.store != nil {
		if err := m.store.SaveSession(ctx, s); err != nil {
			m.logger.Warn("[session] Persist session: %v", err)
		}
	}
	m.logger.Info("[session] Logged in as %s (generation %d)", s.Identity, s.Generation)
	return s, nil
}

// Apply installs the current session's cookies on page. It is a no-op
// without a session.
func (m *SessionManager) Apply(ctx context.Context, page scraper.Page) error {
	s := m.Current()
	if s == nil {
		return nil
	}
	return page.SetCookies(ctx, s.Cookies)
}

func (m *SessionManager) generation() int64 {
	if s := m.current.Load(); s != nil {
		return s.Generation
	}
	return 0
}

func (m *SessionManager) disabledErr() error {
	reason := "disabled for this pass"
	if m.creds.Email == "" || m.creds.Password == "" {
		reason = "no credentials configured"
	} else if m.pages == nil {
		reason = "no browser available"
	}
	return &scraper.LoginFailure{Identity: m.creds.Email, Reason: reason}
}

func (m *SessionManager) login(ctx context.Context) (*models.SessionState, error) {
	page, release, err := m.pages.Acquire(ctx)
	if err != nil {
		return nil, &scraper.LoginFailure{Identity: m.creds.Email, Reason: "acquire tab", Err: err}
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	fail := func(reason string, err error) error {
		return &scraper.LoginFailure{Identity: m.creds.Email, Reason: reason, Err: err}
	}

	if err := page.Navigate(ctx, m.baseURL); err != nil {
		return nil, fail("open start page", err)
	}

	if ok, _ := page.Exists(ctx, loggedInSelector); !ok {
		if err := page.Click(ctx, loginOpenSelector); err != nil {
			return nil, fail("open login modal", err)
		}
		if err := page.WaitVisible(ctx, loginEmailSelector); err != nil {
			return nil, fail("login form not shown", err)
		}
		if err := page.SetValue(ctx, loginEmailSelector, m.creds.Email); err != nil {
			return nil, fail("fill email", err)
		}
		if err := page.SetValue(ctx, loginPasswordSelector, m.creds.Password); err != nil {
			return nil, fail("fill password", err)
		}
		if err := page.Click(ctx, loginSubmitSelector); err != nil {
			return nil, fail("submit", err)
		}
		if err := m.awaitLoggedIn(ctx, page); err != nil {
			return nil, err
		}
	}

	cookies, err := page.Cookies(ctx, m.baseURL)
	if err != nil {
		return nil, fail("read cookies", err)
	}
	if len(cookies) == 0 {
		return nil, fail("no session cookies", nil)
	}

	now := m.now()
	s := &models.SessionState{
		Platform:   models.PlatformWGGesucht,
		Identity:   m.creds.Email,
		Cookies:    cookies,
		ObtainedAt: now,
	}
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}
	return s, nil
}

// awaitLoggedIn polls for the logged-in marker until ctx expires.
func (m *SessionManager) awaitLoggedIn(ctx context.Context, page scraper.Page) error {
	for {
		if ok, _ := page.Exists(ctx, loggedInSelector); ok {
			return nil
		}
		if bad, _ := page.Exists(ctx, loginErrorSelector); bad {
			return &scraper.LoginFailure{Identity: m.creds.Email, Reason: "credentials rejected"}
		}
		if err := utils.Sleep(ctx, 500*time.Millisecond); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return &scraper.LoginFailure{Identity: m.creds.Email, Reason: "no logged-in marker before timeout", Err: err}
			}
			return &scraper.LoginFailure{Identity: m.creds.Email, Reason: "cancelled", Err: err}
		}
	}
}
