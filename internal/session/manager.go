package session

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/browser"
	"github.com/janekbaraniewski/reqwatch/internal/config"
	"github.com/janekbaraniewski/reqwatch/internal/core"
)

// ContextFactory builds a browsing context. Swapped for a fake in tests.
type ContextFactory func(browser.Options) (browser.Context, error)

// Manager is the session state machine. It exclusively owns the browsing
// context and the cookie-carrying HTTP client used by the usage fetcher.
type Manager struct {
	mu      sync.Mutex
	state   core.SessionState
	browser browser.Context
	client  *http.Client

	newContext ContextFactory
	browserCfg config.BrowserConfig

	onState []func(core.SessionState)
	onAuth  []func()

	loginOpen bool
}

func NewManager(cfg config.BrowserConfig, factory ContextFactory) (*Manager, error) {
	if factory == nil {
		factory = func(opts browser.Options) (browser.Context, error) {
			return browser.NewChrome(opts)
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	m := &Manager{
		state:      core.SessionUnknown,
		newContext: factory,
		browserCfg: cfg,
		client: &http.Client{
			Jar:     jar,
			Timeout: 20 * time.Second,
		},
	}

	if cookies, err := config.LoadCookies(); err == nil && len(cookies) > 0 {
		m.seedCookies(fromPersisted(cookies))
	}

	return m, nil
}

// State returns the current session state.
func (m *Manager) State() core.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Client is the HTTP client carrying the session cookies. Only the usage
// fetcher should use it, and only while the state is Authenticated.
func (m *Manager) Client() *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// OnStateChange registers a callback fired on every state transition.
func (m *Manager) OnStateChange(fn func(core.SessionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, fn)
}

// OnAuthenticated registers a callback fired whenever the session becomes
// authenticated (initial check or login completion).
func (m *Manager) OnAuthenticated(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAuth = append(m.onAuth, fn)
}

func (m *Manager) setState(s core.SessionState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	stateFns := append([]func(core.SessionState){}, m.onState...)
	var authFns []func()
	if s == core.SessionAuthenticated {
		authFns = append(authFns, m.onAuth...)
	}
	m.mu.Unlock()

	log.Printf("session level=info event=state_change from=%s to=%s", prev, s)
	for _, fn := range stateFns {
		fn(s)
	}
	for _, fn := range authFns {
		fn()
	}
}

// CheckAuth navigates the browsing context to the billing page and
// classifies where it lands. Redirect to the login surface means the
// stored session is gone.
func (m *Manager) CheckAuth(ctx context.Context) (core.SessionState, error) {
	m.setState(core.SessionChecking)

	bctx, err := m.ensureContext()
	if err != nil {
		m.setState(core.SessionError)
		return core.SessionError, err
	}

	if err := bctx.Navigate(ctx, BillingURL); err != nil {
		m.setState(core.SessionError)
		return core.SessionError, core.WrapError(core.KindNetwork, "load billing page", err)
	}

	location, err := bctx.Location(ctx)
	if err != nil {
		m.setState(core.SessionError)
		return core.SessionError, core.WrapError(core.KindUnknown, "read page location", err)
	}

	state := Classify(location)
	if state == core.SessionUnknown {
		state = core.SessionUnauthenticated
	}
	if state == core.SessionAuthenticated {
		if err := m.syncCookies(ctx, bctx); err != nil {
			log.Printf("session level=warn event=cookie_sync_failed error=%v", err)
		}
	}
	m.setState(state)
	return state, nil
}

// Login destroys any stale browsing context, opens a visible one on the
// login surface and watches navigation until it leaves the login pattern.
// Landing on the billing page completes the login.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	if m.browser != nil {
		_ = m.browser.Close()
		m.browser = nil
	}
	m.loginOpen = true
	m.mu.Unlock()

	opts := browser.Options{
		Headless:    false, // the user has to see the login form
		ExecPath:    m.browserCfg.ExecPath,
		UserDataDir: m.browserCfg.UserDataDir,
	}
	bctx, err := m.newContext(opts)
	if err != nil {
		m.mu.Lock()
		m.loginOpen = false
		m.mu.Unlock()
		m.setState(core.SessionError)
		return core.WrapError(core.KindUnknown, "open login browser", err)
	}

	m.mu.Lock()
	m.browser = bctx
	m.mu.Unlock()

	bctx.OnNavigate(m.handleNavigation)

	if err := bctx.Navigate(ctx, LoginURL); err != nil {
		return core.WrapError(core.KindNetwork, "open login page", err)
	}
	m.setState(core.SessionUnauthenticated)
	return nil
}

// handleNavigation reacts to top-frame navigations while a login surface
// is open. State changes flow only through Classify.
func (m *Manager) handleNavigation(url string) {
	m.mu.Lock()
	open := m.loginOpen
	bctx := m.browser
	m.mu.Unlock()
	if !open || bctx == nil {
		return
	}

	switch Classify(url) {
	case core.SessionAuthenticated:
		m.mu.Lock()
		m.loginOpen = false
		m.mu.Unlock()

		syncCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.syncCookies(syncCtx, bctx); err != nil {
			log.Printf("session level=warn event=cookie_sync_failed error=%v", err)
		}
		m.setState(core.SessionAuthenticated)
	case core.SessionUnauthenticated:
		// Still on the login flow, nothing to do.
	default:
		// Left the login surface for somewhere unrelated; reload the
		// billing page to force a classifiable location.
		go func() {
			navCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			_ = bctx.Navigate(navCtx, BillingURL)
		}()
	}
}

// Logout tears down the browsing context and clears persisted cookies.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.browser != nil {
		_ = m.browser.Close()
		m.browser = nil
	}
	m.loginOpen = false
	jar, jarErr := cookiejar.New(nil)
	if jarErr == nil {
		m.client.Jar = jar
	}
	m.mu.Unlock()

	if err := config.ClearCookies(); err != nil {
		log.Printf("session level=warn event=cookie_clear_failed error=%v", err)
	}
	m.setState(core.SessionUnauthenticated)
	return nil
}

// MarkExpired is called by the fetch path when a request lands on the
// login surface mid-cycle.
func (m *Manager) MarkExpired() {
	m.setState(core.SessionUnauthenticated)
}

// Close releases the browsing context. Subscriptions on the context are
// released by the context's own Close before the process exits.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		err := m.browser.Close()
		m.browser = nil
		return err
	}
	return nil
}

// Context exposes the live browsing context to the identity resolver.
// May be nil when no browser has been opened.
func (m *Manager) Context() browser.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

func (m *Manager) ensureContext() (browser.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return m.browser, nil
	}
	bctx, err := m.newContext(browser.Options{
		Headless:    m.browserCfg.Headless,
		ExecPath:    m.browserCfg.ExecPath,
		UserDataDir: m.browserCfg.UserDataDir,
	})
	if err != nil {
		return nil, core.WrapError(core.KindUnknown, "open browser context", err)
	}
	m.browser = bctx
	return bctx, nil
}

// syncCookies copies the browser's cookies into the HTTP client jar and
// persists them for the next start.
func (m *Manager) syncCookies(ctx context.Context, bctx browser.Context) error {
	cookies, err := bctx.Cookies(ctx)
	if err != nil {
		return err
	}
	var kept []*http.Cookie
	for _, ck := range cookies {
		if ck.Domain == "github.com" || ck.Domain == ".github.com" {
			kept = append(kept, ck)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	m.seedCookies(kept)
	if err := config.SaveCookies(toPersisted(kept)); err != nil {
		return fmt.Errorf("persist cookies: %w", err)
	}
	return nil
}

func (m *Manager) seedCookies(cookies []*http.Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := url.Parse("https://github.com/")
	if err != nil || m.client.Jar == nil {
		return
	}
	m.client.Jar.SetCookies(target, cookies)
}

func toPersisted(cookies []*http.Cookie) []config.SessionCookie {
	out := make([]config.SessionCookie, 0, len(cookies))
	for _, ck := range cookies {
		out = append(out, config.SessionCookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Domain:  ck.Domain,
			Path:    ck.Path,
			Expires: ck.Expires,
			Secure:  ck.Secure,
		})
	}
	return out
}

func fromPersisted(cookies []config.SessionCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		out = append(out, &http.Cookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Domain:  ck.Domain,
			Path:    ck.Path,
			Expires: ck.Expires,
			Secure:  ck.Secure,
		})
	}
	return out
}
