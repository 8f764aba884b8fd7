package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/example/deskbot/internal/vision"
)

// ChromeOptions configures a Chrome instance.
type ChromeOptions struct {
	Headless bool
	// ViewportWidth and ViewportHeight fix the emulated viewport so slot
	// positions stay comparable across restarts. Zero values keep the
	// browser default.
	ViewportWidth  int
	ViewportHeight int
	// OperationTimeout bounds each individual driver call. Zero means
	// DefaultOperationTimeout.
	OperationTimeout time.Duration
	UserAgent        string
	Logger           *slog.Logger
}

// DefaultOperationTimeout bounds a single driver call against a hung page.
const DefaultOperationTimeout = 30 * time.Second

// Chrome drives a real Chrome instance over the DevTools protocol.
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ Driver = (*Chrome)(nil)

// NewChrome launches a browser. The caller must Close it.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		timeout:     opts.OperationTimeout,
		logger:      opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultOperationTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	startup := []chromedp.Action{chromedp.ActionFunc(func(context.Context) error { return nil })}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		startup = append(startup, chromedp.EmulateViewport(int64(opts.ViewportWidth), int64(opts.ViewportHeight)))
	}
	if err := chromedp.Run(browserCtx, startup...); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("driver: launch chrome: %w", err)
	}
	return c, nil
}

// run executes actions against the browser with the per-operation timeout,
// cancelling early if the caller's context is done first.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrDriverClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(opCtx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("driver: navigate %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Click(ctx context.Context, x, y int) error {
	if err := c.run(ctx, chromedp.MouseClickXY(float64(x), float64(y))); err != nil {
		return fmt.Errorf("driver: click (%d,%d): %w", x, y, err)
	}
	return nil
}

func (c *Chrome) Type(ctx context.Context, text string) error {
	if err := c.run(ctx, input.InsertText(text)); err != nil {
		return fmt.Errorf("driver: type text: %w", err)
	}
	return nil
}

// keyNames maps the key names the page adapters use onto DevTools key
// identifiers. Unknown names pass through unchanged.
var keyNames = map[string]string{
	"Enter":      kb.Enter,
	"Escape":     kb.Escape,
	"Tab":        kb.Tab,
	"Backspace":  kb.Backspace,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"PageDown":   kb.PageDown,
	"PageUp":     kb.PageUp,
}

func (c *Chrome) PressKey(ctx context.Context, key string) error {
	mapped, ok := keyNames[key]
	if !ok {
		mapped = key
	}
	if err := c.run(ctx, chromedp.KeyEvent(mapped)); err != nil {
		return fmt.Errorf("driver: press %s: %w", key, err)
	}
	return nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("driver: screenshot: %w", err)
	}
	return buf, nil
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("driver: current url: %w", err)
	}
	return url, nil
}

func (c *Chrome) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	var raw json.RawMessage
	if err := c.run(ctx, chromedp.Evaluate(expression, &raw)); err != nil {
		return nil, fmt.Errorf("driver: evaluate: %w", err)
	}
	return raw, nil
}

func (c *Chrome) Viewport(ctx context.Context) (vision.Viewport, error) {
	var vp vision.Viewport
	err := c.run(ctx, chromedp.Evaluate(`({width: window.innerWidth, height: window.innerHeight})`, &vp))
	if err != nil {
		return vision.Viewport{}, fmt.Errorf("driver: viewport: %w", err)
	}
	return vp, nil
}

func (c *Chrome) ExtractSessionState(ctx context.Context) ([]byte, error) {
	var state SessionState
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cookies {
			state.Cookies = append(state.Cookies, Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				SameSite: ck.SameSite.String(),
			})
		}
		return nil
	}), chromedp.ActionFunc(func(ctx context.Context) error {
		var origin OriginStorage
		err := chromedp.Evaluate(`(() => {
			const entries = [];
			for (let i = 0; i < localStorage.length; i++) {
				const name = localStorage.key(i);
				entries.push({name: name, value: localStorage.getItem(name)});
			}
			return {origin: location.origin, entries: entries};
		})()`, &origin).Do(ctx)
		if err != nil {
			return err
		}
		if origin.Origin != "" && origin.Origin != "null" {
			state.Origins = append(state.Origins, origin)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("driver: extract session state: %w", err)
	}
	return json.Marshal(state)
}

func (c *Chrome) RestoreSessionState(ctx context.Context, blob []byte) error {
	var state SessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("driver: decode session state: %w", err)
	}

	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range state.Cookies {
			set := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithHTTPOnly(ck.HTTPOnly).
				WithSecure(ck.Secure)
			if ck.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				set = set.WithExpires(&expires)
			}
			if ck.SameSite != "" {
				set = set.WithSameSite(network.CookieSameSite(ck.SameSite))
			}
			if err := set.Do(ctx); err != nil {
				return fmt.Errorf("cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("driver: restore cookies: %w", err)
	}

	// localStorage writes require a document on the matching origin, so
	// each captured origin gets a visit before injection.
	for _, origin := range state.Origins {
		if len(origin.Entries) == 0 {
			continue
		}
		payload, err := json.Marshal(origin.Entries)
		if err != nil {
			return fmt.Errorf("driver: encode storage for %s: %w", origin.Origin, err)
		}
		script := fmt.Sprintf(`(() => {
			for (const item of %s) {
				localStorage.setItem(item.name, item.value);
			}
			return true;
		})()`, payload)
		var ok bool
		err = c.run(ctx, chromedp.Navigate(origin.Origin), chromedp.Evaluate(script, &ok))
		if err != nil {
			return fmt.Errorf("driver: restore storage for %s: %w", origin.Origin, err)
		}
	}
	return nil
}

func (c *Chrome) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	c.allocCancel()
	c.logger.Debug("browser closed")
	return nil
}
