// Package browser abstracts the headless browser engines the analyzer can
// drive. Each engine is started, launched, opened into a page and torn down
// by the session package; the rest of the code only sees these interfaces.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ysmood/gson"
)

// Viewport is the fixed page size used for every analysis.
type Viewport struct {
	Width  int
	Height int
}

// Rect is an element box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Engine is a browser family that can be started on demand.
type Engine interface {
	Name() string
	Start(ctx context.Context) (Driver, error)
}

// Driver is a started engine process.
type Driver interface {
	Launch(ctx context.Context) (Browser, error)
	Stop() error
}

// Browser is a launched browser instance.
type Browser interface {
	NewPage(ctx context.Context, vp Viewport) (Page, error)
	Close() error
}

// Page is a single tab. JavaScript passed to Evaluate is a zero-argument
// function expression.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Evaluate(ctx context.Context, fn string) (gson.JSON, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	Close() error
}

// Element is a remote element handle. JavaScript passed to Call is a
// one-argument function expression receiving the element, e.g.
// "el => el.tagName". Handles must be released after use.
type Element interface {
	Visible(ctx context.Context) (bool, error)
	Call(ctx context.Context, fn string) (gson.JSON, error)
	Box(ctx context.Context) (*Rect, error)
	Release() error
}

// IsTimeout reports whether err is a deadline failure from any engine.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Options configures engine construction.
type Options struct {
	AllowDownload bool
	// ProfileDir reuses a Chromium profile, e.g. for authenticated pages.
	ProfileDir string
}

// ByName builds the engines for the given names, in order.
func ByName(names []string, opts Options) ([]Engine, error) {
	engines := make([]Engine, 0, len(names))
	for _, name := range names {
		switch name {
		case "chromium", "chrome":
			engines = append(engines, NewRodEngine(opts))
		case "firefox", "webkit":
			engines = append(engines, NewPlaywrightEngine(name, opts))
		default:
			return nil, fmt.Errorf("unknown engine: %s (supported: chromium, firefox, webkit)", name)
		}
	}
	return engines, nil
}

// remaining converts the context deadline into a playwright-style timeout in
// milliseconds; 0 means "no timeout".
func remaining(ctx context.Context) float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		return 1
	}
	return ms
}

// await runs fn in a goroutine and gives up when ctx is done. Used for calls
// that do not accept a timeout of their own.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
