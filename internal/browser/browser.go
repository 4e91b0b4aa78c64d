// Package browser owns the authenticated browsing context used to reach
// the billing page. The rest of the system talks to it through Context so
// tests can substitute a fake.
package browser

import (
	"context"
	"net/http"
)

// Context is one live browsing context. All calls are blocking and honor
// the passed context's deadline.
type Context interface {
	// Navigate loads the given URL and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)
	// Evaluate runs a JS expression in the page and decodes the JSON
	// result into out.
	Evaluate(ctx context.Context, expr string, out any) error
	// HTML returns the current page's full markup.
	HTML(ctx context.Context) (string, error)
	// Cookies returns the context's cookies for the current profile.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// OnNavigate registers a callback fired with the destination URL of
	// every top-frame navigation. Callbacks must not block.
	OnNavigate(fn func(url string))
	// Close releases the context. Registered callbacks are dropped first
	// so none fire against a torn-down target.
	Close() error
}

// Options configures a real Chrome-backed context.
type Options struct {
	Headless    bool
	ExecPath    string
	UserDataDir string
}
