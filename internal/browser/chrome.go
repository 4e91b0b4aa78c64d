package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Chrome is the chromedp-backed Context. One Chrome owns one browser
// process; its lifetime is the authenticated session's lifetime.
type Chrome struct {
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	ctx         context.Context

	mu     sync.Mutex
	navFns []func(url string)
	closed bool
}

func NewChrome(opts Options) (*Chrome, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 900),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		allocCancel: allocCancel,
		ctxCancel:   tabCancel,
		ctx:         tabCtx,
	}

	// Start the browser eagerly so the first Navigate doesn't pay the
	// spawn cost inside its own deadline.
	startCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		nav, ok := ev.(*page.EventFrameNavigated)
		if !ok || nav.Frame == nil || nav.Frame.ParentID != "" {
			return
		}
		c.mu.Lock()
		fns := append([]func(string){}, c.navFns...)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		for _, fn := range fns {
			go fn(nav.Frame.URL)
		}
	})

	return c, nil
}

func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeDeadline(c.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// mergeDeadline applies the caller context's deadline (or a default bound)
// to the browser's own context.
func mergeDeadline(browserCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callerCtx.Deadline(); ok {
		return context.WithDeadline(browserCtx, deadline)
	}
	return context.WithTimeout(browserCtx, 30*time.Second)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Location(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

func (c *Chrome) Evaluate(ctx context.Context, expr string, out any) error {
	if err := c.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("read page markup: %w", err)
	}
	return html, nil
}

func (c *Chrome) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var out []*http.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cookies {
			httpCookie := &http.Cookie{
				Name:   ck.Name,
				Value:  ck.Value,
				Domain: ck.Domain,
				Path:   ck.Path,
				Secure: ck.Secure,
			}
			if ck.Expires > 0 {
				httpCookie.Expires = time.Unix(int64(ck.Expires), 0)
			}
			out = append(out, httpCookie)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return out, nil
}

func (c *Chrome) OnNavigate(fn func(url string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.navFns = append(c.navFns, fn)
}

// Close drops navigation callbacks before tearing down the browser so no
// callback fires against a dead target.
func (c *Chrome) Close() error {
	c.mu.Lock()
	c.navFns = nil
	c.closed = true
	c.mu.Unlock()

	c.ctxCancel()
	c.allocCancel()
	return nil
}
