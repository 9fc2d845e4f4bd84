package dom

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/ysmood/gson"
)

var errFake = errors.New("fake failure")

type fakeElement struct {
	tag     string
	attrs   map[string]any
	text    string
	xpath   string
	box     *browser.Rect
	hidden  bool
	visErr  error
	pathErr error
	tagErr  error
	boxErr  error
	stall   bool

	mu       sync.Mutex
	released int
}

func (f *fakeElement) Visible(ctx context.Context) (bool, error) {
	if f.stall {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return !f.hidden, f.visErr
}

func (f *fakeElement) Call(_ context.Context, fn string) (gson.JSON, error) {
	switch fn {
	case tagNameJS:
		if f.tagErr != nil {
			return gson.New(nil), f.tagErr
		}
		return gson.New(f.tag), nil
	case attributesJS:
		attrs := f.attrs
		if attrs == nil {
			attrs = map[string]any{}
		}
		return gson.New(attrs), nil
	case textJS:
		return gson.New(f.text), nil
	case xpathJS:
		if f.pathErr != nil {
			return gson.New(nil), f.pathErr
		}
		return gson.New(f.xpath), nil
	}
	return gson.New(nil), fmt.Errorf("unexpected script: %s", fn)
}

func (f *fakeElement) Box(context.Context) (*browser.Rect, error) {
	return f.box, f.boxErr
}

func (f *fakeElement) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fakeElement) releasedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

type fakePage struct {
	script    gson.JSON
	scriptErr error
	elements  map[string][]*fakeElement
	queryErr  map[string]error

	evaluated []string
	queried   []string
}

func (p *fakePage) Navigate(context.Context, string) error { return nil }

func (p *fakePage) Screenshot(context.Context, bool) ([]byte, error) { return nil, errFake }

func (p *fakePage) Evaluate(_ context.Context, fn string) (gson.JSON, error) {
	p.evaluated = append(p.evaluated, fn)
	if p.scriptErr != nil {
		return gson.New(nil), p.scriptErr
	}
	return p.script, nil
}

func (p *fakePage) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	p.queried = append(p.queried, selector)
	if err := p.queryErr[selector]; err != nil {
		return nil, err
	}
	var out []browser.Element
	for _, el := range p.elements[selector] {
		out = append(out, el)
	}
	return out, nil
}

func (p *fakePage) Close() error { return nil }

func visibleEl(tag, text string) *fakeElement {
	return &fakeElement{
		tag:   tag,
		text:  text,
		xpath: "/html/body/" + tag + "[1]",
		box:   &browser.Rect{X: 1, Y: 2, Width: 30, Height: 10},
	}
}
