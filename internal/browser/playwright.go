package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"
	"github.com/ysmood/gson"
)

// PlaywrightEngine drives Firefox or WebKit through the playwright driver.
type PlaywrightEngine struct {
	kind string
	opts Options
}

// NewPlaywrightEngine returns an engine for kind ("firefox" or "webkit").
func NewPlaywrightEngine(kind string, opts Options) *PlaywrightEngine {
	return &PlaywrightEngine{kind: kind, opts: opts}
}

func (e *PlaywrightEngine) Name() string { return e.kind }

// Start runs the playwright driver process.
func (e *PlaywrightEngine) Start(ctx context.Context) (Driver, error) {
	if e.opts.AllowDownload {
		err := playwright.Install(&playwright.RunOptions{Browsers: []string{e.kind}})
		if err != nil {
			return nil, fmt.Errorf("install %s: %w", e.kind, err)
		}
	}

	pw, err := await(ctx, func() (*playwright.Playwright, error) {
		return playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	})
	if err != nil {
		return nil, fmt.Errorf("start playwright driver: %w", mapErr(err))
	}
	return &pwDriver{pw: pw, kind: e.kind}, nil
}

type pwDriver struct {
	pw   *playwright.Playwright
	kind string
}

func (d *pwDriver) Launch(ctx context.Context) (Browser, error) {
	bt := d.pw.Firefox
	if d.kind == "webkit" {
		bt = d.pw.WebKit
	}

	opts := playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(true)}
	if ms := remaining(ctx); ms > 0 {
		opts.Timeout = playwright.Float(ms)
	}
	b, err := bt.Launch(opts)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", d.kind, mapErr(err))
	}
	return &pwBrowser{browser: b}, nil
}

func (d *pwDriver) Stop() error {
	return d.pw.Stop()
}

type pwBrowser struct {
	browser playwright.Browser
}

func (b *pwBrowser) NewPage(ctx context.Context, vp Viewport) (Page, error) {
	page, err := await(ctx, func() (playwright.Page, error) {
		return b.browser.NewPage(playwright.BrowserNewPageOptions{
			Viewport: &playwright.Size{Width: vp.Width, Height: vp.Height},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", mapErr(err))
	}
	return &pwPage{page: page}, nil
}

func (b *pwBrowser) Close() error {
	return b.browser.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Navigate(ctx context.Context, url string) error {
	opts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateNetworkidle}
	if ms := remaining(ctx); ms > 0 {
		opts.Timeout = playwright.Float(ms)
	}
	_, err := p.page.Goto(url, opts)
	return mapErr(err)
}

func (p *pwPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	opts := playwright.PageScreenshotOptions{FullPage: playwright.Bool(fullPage)}
	if ms := remaining(ctx); ms > 0 {
		opts.Timeout = playwright.Float(ms)
	}
	data, err := p.page.Screenshot(opts)
	return data, mapErr(err)
}

func (p *pwPage) Evaluate(ctx context.Context, fn string) (gson.JSON, error) {
	v, err := await(ctx, func() (any, error) { return p.page.Evaluate(fn) })
	if err != nil {
		return gson.New(nil), mapErr(err)
	}
	return gson.New(v), nil
}

func (p *pwPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	handles, err := await(ctx, func() ([]playwright.ElementHandle, error) {
		return p.page.QuerySelectorAll(selector)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]Element, len(handles))
	for i, h := range handles {
		out[i] = &pwElement{handle: h}
	}
	return out, nil
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

type pwElement struct {
	handle playwright.ElementHandle
}

func (e *pwElement) Visible(ctx context.Context) (bool, error) {
	v, err := await(ctx, e.handle.IsVisible)
	return v, mapErr(err)
}

func (e *pwElement) Call(ctx context.Context, fn string) (gson.JSON, error) {
	v, err := await(ctx, func() (any, error) { return e.handle.Evaluate(fn) })
	if err != nil {
		return gson.New(nil), mapErr(err)
	}
	return gson.New(v), nil
}

func (e *pwElement) Box(ctx context.Context) (*Rect, error) {
	r, err := await(ctx, e.handle.BoundingBox)
	if err != nil || r == nil {
		return nil, mapErr(err)
	}
	return &Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}

func (e *pwElement) Release() error {
	return e.handle.Dispose()
}

// mapErr folds playwright timeouts into context.DeadlineExceeded so callers
// can treat both engines alike.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
