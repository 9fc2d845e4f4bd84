package analyzer

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/momkoo/dashboard/internal/browser/browsertest"
	"github.com/momkoo/dashboard/internal/config"
	"github.com/rs/zerolog"
	"github.com/ysmood/got"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Screenshot.FullPageTimeout = 20 * time.Millisecond
	cfg.Screenshot.ViewportTimeout = 10 * time.Millisecond
	return cfg
}

func goButton() *browsertest.Element {
	return &browsertest.Element{
		Tag:   "button",
		Attrs: map[string]string{"id": "go"},
		Text:  "Go",
		XPath: `id("go")`,
		Rect:  &browser.Rect{X: 8, Y: 8, Width: 31, Height: 21},
	}
}

func TestAnalyzeButtonPage(t *testing.T) {
	g := got.T(t)

	log := &browsertest.Log{}
	btn := goButton()
	page := &browsertest.Page{Elements: map[string][]*browsertest.Element{"button": {btn}}}
	a := New(testConfig(), []browser.Engine{
		&browsertest.Engine{EngineName: "chromium", Log: log, Page: page},
	}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "https://example.com"})

	g.True(res.Success)
	g.Nil(res.Error)
	g.Nil(res.Screenshot)
	g.Len(res.DOMInfo, 1)
	g.Eq(res.DOMInfo[0].Tag, "button")
	g.Eq(res.DOMInfo[0].XPath, `id("go")`)
	g.Eq(res.DOMInfo[0].Text, "Go")
	g.Eq(res.DOMInfo[0].Attributes, map[string]string{"id": "go"})
	g.Eq(btn.Released(), 1)
	g.Eq(page.Evaluated(), 0)

	calls := log.Calls()
	g.Eq(calls[len(calls)-3:], []string{"close page", "chromium: close browser", "chromium: stop"})
}

func TestAnalyzeWithScreenshot(t *testing.T) {
	g := got.T(t)

	page := &browsertest.Page{Shot: func(_ context.Context, fullPage bool) ([]byte, error) {
		return []byte("full"), nil
	}}
	a := New(testConfig(), []browser.Engine{&browsertest.Engine{EngineName: "chromium", Page: page}}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "https://example.com", Screenshot: true})

	g.True(res.Success)
	g.Eq(*res.Screenshot, base64.StdEncoding.EncodeToString([]byte("full")))
	g.Len(res.DOMInfo, 0)
}

func TestAnalyzeScreenshotFailureStillExtracts(t *testing.T) {
	g := got.T(t)

	var shots []bool
	page := &browsertest.Page{
		Shot: func(ctx context.Context, fullPage bool) ([]byte, error) {
			shots = append(shots, fullPage)
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Elements: map[string][]*browsertest.Element{"button": {goButton()}},
	}
	a := New(testConfig(), []browser.Engine{&browsertest.Engine{EngineName: "chromium", Page: page}}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "https://example.com", Screenshot: true})

	g.False(res.Success)
	g.Nil(res.Screenshot)
	g.Has(*res.Error, "screenshot capture failed")
	g.Eq(shots, []bool{true, false})
	g.Len(res.DOMInfo, 1)
}

func TestAnalyzeNoEngine(t *testing.T) {
	g := got.T(t)

	log := &browsertest.Log{}
	a := New(testConfig(), []browser.Engine{
		&browsertest.Engine{EngineName: "chromium", Log: log, StartErr: errors.New("no binary")},
		&browsertest.Engine{EngineName: "firefox", Log: log, LaunchErr: errors.New("crashed")},
	}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "https://example.com", Screenshot: true})

	g.False(res.Success)
	g.Nil(res.Screenshot)
	g.Eq(len(res.DOMInfo), 0)
	g.True(res.DOMInfo != nil)
	g.True(strings.HasPrefix(*res.Error, "no browser engine could be launched"))
	g.Has(*res.Error, "crashed")
	g.Eq(log.Calls(), []string{"chromium: start", "firefox: start", "firefox: launch", "firefox: stop"})
}

func TestAnalyzeNavigationFailureTearsDown(t *testing.T) {
	g := got.T(t)

	log := &browsertest.Log{}
	page := &browsertest.Page{NavigateErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	a := New(testConfig(), []browser.Engine{&browsertest.Engine{EngineName: "chromium", Log: log, Page: page}}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "http://localhost:1", Screenshot: true})

	g.False(res.Success)
	g.Has(*res.Error, "navigation failed")
	g.Has(*res.Error, "ERR_CONNECTION_REFUSED")
	g.Len(res.DOMInfo, 0)

	calls := log.Calls()
	g.Eq(calls[len(calls)-3:], []string{"close page", "chromium: close browser", "chromium: stop"})
}

func TestAnalyzeInvalidURLNeverStartsEngine(t *testing.T) {
	g := got.T(t)

	log := &browsertest.Log{}
	a := New(testConfig(), []browser.Engine{&browsertest.Engine{EngineName: "chromium", Log: log}}, zerolog.Nop())

	for _, u := range []string{"", "example.com", "ftp://example.com", "https://", "about:"} {
		res := a.Analyze(context.Background(), Request{URL: u})
		g.False(res.Success)
		g.Has(*res.Error, "invalid url")
	}
	g.Len(log.Calls(), 0)
}

func TestAnalyzeScriptTier(t *testing.T) {
	g := got.T(t)

	path := filepath.Join(t.TempDir(), "build_dom_tree.js")
	g.Nil(os.WriteFile(path, []byte("function buildDomTree(root) { return []; }"), 0o600))

	page := &browsertest.Page{
		Script:   `[{"tag": "A", "text": "home", "xpath": "/html/body/a[1]", "boundingClientRect": {"x": 0, "y": 0, "width": 40, "height": 12}}]`,
		Elements: map[string][]*browsertest.Element{"button": {goButton()}},
	}
	a := New(testConfig(), []browser.Engine{&browsertest.Engine{EngineName: "chromium", Page: page}}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "https://example.com", ScriptPath: path})

	g.True(res.Success)
	g.Len(res.DOMInfo, 1)
	g.Eq(res.DOMInfo[0].Tag, "a")
	g.Eq(res.DOMInfo[0].XPath, "/html/body/a[1]")
	g.Eq(page.Evaluated(), 1)
}

func TestAnalyzeMissingScriptFallsBack(t *testing.T) {
	g := got.T(t)

	page := &browsertest.Page{Elements: map[string][]*browsertest.Element{"button": {goButton()}}}
	cfg := testConfig()
	cfg.DOM.Script = filepath.Join(t.TempDir(), "missing.js")
	a := New(cfg, []browser.Engine{&browsertest.Engine{EngineName: "chromium", Page: page}}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "https://example.com"})

	g.True(res.Success)
	g.Len(res.DOMInfo, 1)
	g.Eq(page.Evaluated(), 0)
}

func TestAnalyzeBrokenQueriesYieldEmptySuccess(t *testing.T) {
	g := got.T(t)

	page := &browsertest.Page{PanicOnQuery: true}
	a := New(testConfig(), []browser.Engine{&browsertest.Engine{EngineName: "chromium", Page: page}}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "about:blank"})

	g.True(res.Success)
	g.Len(res.DOMInfo, 0)
}

type explodingEngine struct {
	browsertest.Engine
}

func (*explodingEngine) Name() string { panic("name lookup exploded") }

func TestAnalyzeRecoversPanic(t *testing.T) {
	g := got.T(t)

	a := New(testConfig(), []browser.Engine{&explodingEngine{}}, zerolog.Nop())

	res := a.Analyze(context.Background(), Request{URL: "https://example.com"})

	g.False(res.Success)
	g.Eq(*res.Error, "internal error: name lookup exploded")
	g.Len(res.DOMInfo, 0)
}

func TestValidateURL(t *testing.T) {
	g := got.T(t)

	for _, u := range []string{"https://example.com/a?b=c", "http://localhost:8080", "file:///tmp/page.html", "about:blank"} {
		g.Nil(ValidateURL(u))
	}
	for _, u := range []string{" ", "://bad", "mailto:x@y.z", "https:///path", "file://"} {
		g.True(errors.Is(ValidateURL(u), ErrInvalidURL))
	}
}
