// Package browsertest provides in-memory browser engines for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/ysmood/gson"
)

// ErrFake is a generic injected failure.
var ErrFake = errors.New("fake failure")

// Log records lifecycle calls across fakes in the order they happen.
type Log struct {
	mu    sync.Mutex
	calls []string
}

func (l *Log) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the recorded calls.
func (l *Log) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// Engine is a scripted browser.Engine. Each *Err field fails the matching
// step; Page is handed out by NewPage.
type Engine struct {
	EngineName string
	Log        *Log
	Page       *Page

	StartErr        error
	LaunchErr       error
	NewPageErr      error
	StopErr         error
	BrowserCloseErr error
	PanicOnStart    bool
}

var _ browser.Engine = (*Engine)(nil)

func (e *Engine) Name() string { return e.EngineName }

func (e *Engine) Start(context.Context) (browser.Driver, error) {
	e.Log.add("%s: start", e.EngineName)
	if e.PanicOnStart {
		panic("engine exploded")
	}
	if e.StartErr != nil {
		return nil, e.StartErr
	}
	return &driver{e: e}, nil
}

type driver struct{ e *Engine }

func (d *driver) Launch(context.Context) (browser.Browser, error) {
	d.e.Log.add("%s: launch", d.e.EngineName)
	if d.e.LaunchErr != nil {
		return nil, d.e.LaunchErr
	}
	return &fakeBrowser{e: d.e}, nil
}

func (d *driver) Stop() error {
	d.e.Log.add("%s: stop", d.e.EngineName)
	return d.e.StopErr
}

type fakeBrowser struct{ e *Engine }

func (b *fakeBrowser) NewPage(_ context.Context, vp browser.Viewport) (browser.Page, error) {
	b.e.Log.add("%s: new page %dx%d", b.e.EngineName, vp.Width, vp.Height)
	if b.e.NewPageErr != nil {
		return nil, b.e.NewPageErr
	}
	p := b.e.Page
	if p == nil {
		p = &Page{}
	}
	p.log = b.e.Log
	return p, nil
}

func (b *fakeBrowser) Close() error {
	b.e.Log.add("%s: close browser", b.e.EngineName)
	return b.e.BrowserCloseErr
}

// Page is a scripted browser.Page.
type Page struct {
	NavigateErr error
	// NavigateStall blocks Navigate until its context ends.
	NavigateStall bool
	// Shot serves Screenshot; nil yields a one-byte image.
	Shot func(ctx context.Context, fullPage bool) ([]byte, error)
	// Script is the JSON text Evaluate returns.
	Script    string
	ScriptErr error
	Elements  map[string][]*Element
	CloseErr  error
	// PanicOnQuery makes QueryAll panic, simulating a broken driver.
	PanicOnQuery bool

	log       *Log
	mu        sync.Mutex
	navigated []string
	evaluated int
}

var _ browser.Page = (*Page)(nil)

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.log.add("navigate %s", url)
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	p.mu.Unlock()
	if p.NavigateStall {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.NavigateErr
}

// Navigated returns every URL passed to Navigate.
func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// Evaluated returns how many scripts ran through Evaluate.
func (p *Page) Evaluated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evaluated
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if p.Shot == nil {
		return []byte{0x89}, nil
	}
	return p.Shot(ctx, fullPage)
}

func (p *Page) Evaluate(context.Context, string) (gson.JSON, error) {
	p.mu.Lock()
	p.evaluated++
	p.mu.Unlock()
	if p.ScriptErr != nil {
		return gson.New(nil), p.ScriptErr
	}
	if p.Script == "" {
		return gson.New(nil), nil
	}
	return gson.NewFrom(p.Script), nil
}

func (p *Page) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	if p.PanicOnQuery {
		panic("query exploded")
	}
	var out []browser.Element
	for _, el := range p.Elements[selector] {
		out = append(out, el)
	}
	return out, nil
}

func (p *Page) Close() error {
	p.log.add("close page")
	return p.CloseErr
}

// Element is a visible element handle unless Hidden is set.
type Element struct {
	Tag    string
	Attrs  map[string]string
	Text   string
	XPath  string
	Rect   *browser.Rect
	Hidden bool

	mu       sync.Mutex
	released int
}

var _ browser.Element = (*Element)(nil)

func (e *Element) Visible(context.Context) (bool, error) { return !e.Hidden, nil }

// Call answers the element scripts by recognizing what they read.
func (e *Element) Call(_ context.Context, fn string) (gson.JSON, error) {
	switch {
	case strings.Contains(fn, "pathTo"):
		return gson.New(e.XPath), nil
	case strings.Contains(fn, "el.attributes"):
		attrs := map[string]any{}
		for k, v := range e.Attrs {
			attrs[k] = v
		}
		return gson.New(attrs), nil
	case strings.Contains(fn, "textContent"):
		return gson.New(e.Text), nil
	case strings.Contains(fn, "tagName"):
		return gson.New(e.Tag), nil
	}
	return gson.New(nil), fmt.Errorf("unexpected script: %s", fn)
}

func (e *Element) Box(context.Context) (*browser.Rect, error) { return e.Rect, nil }

func (e *Element) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released++
	return nil
}

// Released returns how many times the handle was released.
func (e *Element) Released() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}
