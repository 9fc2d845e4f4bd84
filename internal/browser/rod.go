package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// networkIdle is how long the page must go without requests before a
// navigation counts as settled.
const networkIdle = 500 * time.Millisecond

var errNoLocalChromium = errors.New("no local Chromium-family browser found")

// RodEngine drives a Chromium-family browser over CDP.
type RodEngine struct {
	opts Options
}

// NewRodEngine returns the Chromium engine.
func NewRodEngine(opts Options) *RodEngine {
	return &RodEngine{opts: opts}
}

func (e *RodEngine) Name() string { return "chromium" }

// Start launches the browser process.
func (e *RodEngine) Start(ctx context.Context) (Driver, error) {
	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")

	if path, has := launcher.LookPath(); has {
		l = l.Bin(path)
	} else if !e.opts.AllowDownload {
		return nil, errNoLocalChromium
	}

	if e.opts.ProfileDir != "" {
		l = l.UserDataDir(e.opts.ProfileDir)
	}

	u, err := l.Context(ctx).Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch chromium process: %w", err)
	}
	return &rodDriver{launcher: l, controlURL: u, keepProfile: e.opts.ProfileDir != ""}, nil
}

type rodDriver struct {
	launcher   *launcher.Launcher
	controlURL string
	// keepProfile is set when the user-data dir belongs to the user.
	keepProfile bool
}

// Launch connects to the running process.
func (d *rodDriver) Launch(ctx context.Context) (Browser, error) {
	b := rod.New().ControlURL(d.controlURL)
	if _, err := await(ctx, func() (struct{}, error) { return struct{}{}, b.Connect() }); err != nil {
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	return &rodBrowser{browser: b}, nil
}

// Stop kills the process. The user-data dir is removed only when rod
// created it.
func (d *rodDriver) Stop() error {
	d.launcher.Kill()
	if !d.keepProfile {
		d.launcher.Cleanup()
	}
	return nil
}

type rodBrowser struct {
	browser *rod.Browser
}

func (b *rodBrowser) NewPage(ctx context.Context, vp Viewport) (Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	// Detach the page from the creation context; later calls bring their own.
	page = page.Context(context.Background())

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	return &rodPage{page: page}, nil
}

func (b *rodBrowser) Close() error {
	return b.browser.Close()
}

type rodPage struct {
	page *rod.Page
}

// Navigate loads url and waits for the network to go idle. The idle wait is
// bounded by ctx; running out of time is reported as a deadline error.
func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)

	wait := page.WaitRequestIdle(networkIdle, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return err
	}
	if err := page.WaitLoad(); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) Evaluate(ctx context.Context, fn string) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(fn)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (p *rodPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

// Call rebinds fn so the element arrives as its first argument instead of
// as this, which keeps scripts identical across engines.
func (e *rodElement) Call(ctx context.Context, fn string) (gson.JSON, error) {
	res, err := e.el.Context(ctx).Eval(`function() { return (` + fn + `)(this) }`)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (e *rodElement) Box(ctx context.Context) (*Rect, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return nil, err
	}
	box := shape.Box()
	if box == nil {
		return nil, nil
	}
	return &Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (e *rodElement) Release() error {
	return e.el.Release()
}
