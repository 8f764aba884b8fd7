package testfixtures

import (
	"context"
	"sync"

	"github.com/example/deskbot/internal/driver"
	"github.com/example/deskbot/internal/vision"
)

// ScriptedDriver implements driver.Driver with overridable behaviour per
// call. Unset functions fall back to benign defaults, and every invocation
// is recorded for assertions.
type ScriptedDriver struct {
	NavigateFunc     func(ctx context.Context, url string) error
	ClickFunc        func(ctx context.Context, x, y int) error
	TypeFunc         func(ctx context.Context, text string) error
	PressKeyFunc     func(ctx context.Context, key string) error
	ScreenshotFunc   func(ctx context.Context) ([]byte, error)
	CurrentURLFunc   func(ctx context.Context) (string, error)
	EvaluateFunc     func(ctx context.Context, expression string) ([]byte, error)
	ViewportFunc     func(ctx context.Context) (vision.Viewport, error)
	ExtractStateFunc func(ctx context.Context) ([]byte, error)
	RestoreStateFunc func(ctx context.Context, blob []byte) error
	CloseFunc        func(ctx context.Context) error

	mu    sync.Mutex
	calls []string
}

var _ driver.Driver = (*ScriptedDriver)(nil)

func (d *ScriptedDriver) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

// Calls returns the recorded call names in order.
func (d *ScriptedDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// CallCount returns how many times the named call was recorded.
func (d *ScriptedDriver) CallCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, c := range d.calls {
		if c == name {
			count++
		}
	}
	return count
}

func (d *ScriptedDriver) Navigate(ctx context.Context, url string) error {
	d.record("Navigate")
	if d.NavigateFunc != nil {
		return d.NavigateFunc(ctx, url)
	}
	return nil
}

func (d *ScriptedDriver) Click(ctx context.Context, x, y int) error {
	d.record("Click")
	if d.ClickFunc != nil {
		return d.ClickFunc(ctx, x, y)
	}
	return nil
}

func (d *ScriptedDriver) Type(ctx context.Context, text string) error {
	d.record("Type")
	if d.TypeFunc != nil {
		return d.TypeFunc(ctx, text)
	}
	return nil
}

func (d *ScriptedDriver) PressKey(ctx context.Context, key string) error {
	d.record("PressKey")
	if d.PressKeyFunc != nil {
		return d.PressKeyFunc(ctx, key)
	}
	return nil
}

func (d *ScriptedDriver) Screenshot(ctx context.Context) ([]byte, error) {
	d.record("Screenshot")
	if d.ScreenshotFunc != nil {
		return d.ScreenshotFunc(ctx)
	}
	return nil, nil
}

func (d *ScriptedDriver) CurrentURL(ctx context.Context) (string, error) {
	d.record("CurrentURL")
	if d.CurrentURLFunc != nil {
		return d.CurrentURLFunc(ctx)
	}
	return "https://desks.example.com/floor", nil
}

func (d *ScriptedDriver) Evaluate(ctx context.Context, expression string) ([]byte, error) {
	d.record("Evaluate")
	if d.EvaluateFunc != nil {
		return d.EvaluateFunc(ctx, expression)
	}
	return []byte("null"), nil
}

func (d *ScriptedDriver) Viewport(ctx context.Context) (vision.Viewport, error) {
	d.record("Viewport")
	if d.ViewportFunc != nil {
		return d.ViewportFunc(ctx)
	}
	return vision.Viewport{Width: 1920, Height: 1080}, nil
}

func (d *ScriptedDriver) ExtractSessionState(ctx context.Context) ([]byte, error) {
	d.record("ExtractSessionState")
	if d.ExtractStateFunc != nil {
		return d.ExtractStateFunc(ctx)
	}
	return []byte(`{"cookies":[],"origins":[]}`), nil
}

func (d *ScriptedDriver) RestoreSessionState(ctx context.Context, blob []byte) error {
	d.record("RestoreSessionState")
	if d.RestoreStateFunc != nil {
		return d.RestoreStateFunc(ctx, blob)
	}
	return nil
}

func (d *ScriptedDriver) Close(ctx context.Context) error {
	d.record("Close")
	if d.CloseFunc != nil {
		return d.CloseFunc(ctx)
	}
	return nil
}
