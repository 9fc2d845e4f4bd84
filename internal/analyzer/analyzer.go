// Package analyzer runs one page analysis end to end: open a browser
// session, optionally capture a screenshot, extract the DOM, and fold
// everything into a report. The session is always torn down.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/momkoo/dashboard/internal/config"
	"github.com/momkoo/dashboard/internal/dom"
	"github.com/momkoo/dashboard/internal/report"
	"github.com/momkoo/dashboard/internal/screenshot"
	"github.com/momkoo/dashboard/internal/session"
	"github.com/rs/zerolog"
)

// ErrInvalidURL rejects targets that no engine could load.
var ErrInvalidURL = errors.New("invalid url")

// Request is one analysis job.
type Request struct {
	URL        string
	Screenshot bool
	// ScriptPath overrides the configured tree-builder script.
	ScriptPath string
}

// Analyzer is reusable; each Analyze call owns its own session.
type Analyzer struct {
	cfg     config.Config
	engines []browser.Engine
	log     zerolog.Logger
}

// New returns an Analyzer trying engines in order.
func New(cfg config.Config, engines []browser.Engine, log zerolog.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, engines: engines, log: log}
}

// Analyze never fails: every problem ends up in the report's error field.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (res report.Result) {
	start := time.Now()
	req.URL = strings.TrimSpace(req.URL)
	log := a.log.With().Str("url", req.URL).Logger()

	var agg report.Aggregator
	var sess *session.Session

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("analysis aborted")
			agg.AddError(fmt.Sprintf("internal error: %v", r))
		}
		if sess != nil {
			sess.Close()
		}
		res = agg.Result()
		log.Info().
			Bool("success", res.Success).
			Int("elements", len(res.DOMInfo)).
			Dur("took", time.Since(start)).
			Msg("analysis finished")
	}()

	if err := ValidateURL(req.URL); err != nil {
		agg.AddErr("", err)
		return
	}

	script := a.loadScript(req.ScriptPath, log)

	sess = session.New(a.engines, a.sessionOptions(), log)
	if err := sess.Open(ctx, req.URL); err != nil {
		log.Error().Err(err).Msg("session failed")
		agg.AddErr("", err)
		return
	}
	page := sess.Page()
	log.Info().Str("engine", sess.Engine()).Msg("page ready")

	if req.Screenshot {
		if b64, err := screenshot.Capture(ctx, page, a.screenshotOptions(), log); err != nil {
			agg.AddErr("", err)
		} else {
			agg.SetScreenshot(b64)
		}
	}

	records, tier := dom.NewExtractor(a.domOptions(script), log).Extract(ctx, page)
	sess.MarkExtracted()
	agg.SetElements(records)
	log.Debug().Str("tier", string(tier)).Int("count", len(records)).Msg("dom extracted")
	return
}

func (a *Analyzer) loadScript(override string, log zerolog.Logger) string {
	path := override
	if path == "" {
		path = a.cfg.DOM.Script
	}
	script, err := dom.LoadScript(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("dom script unavailable, using selector queries")
		return ""
	}
	if script != "" {
		log.Debug().Str("path", path).Int("bytes", len(script)).Msg("dom script loaded")
	}
	return script
}

func (a *Analyzer) sessionOptions() session.Options {
	return session.Options{
		Viewport:          browser.Viewport{Width: a.cfg.Browser.Width, Height: a.cfg.Browser.Height},
		LaunchTimeout:     a.cfg.Browser.LaunchTimeout,
		NavigationTimeout: a.cfg.Browser.NavigationTimeout,
	}
}

func (a *Analyzer) screenshotOptions() screenshot.Options {
	return screenshot.Options{
		FullPageTimeout: a.cfg.Screenshot.FullPageTimeout,
		ViewportTimeout: a.cfg.Screenshot.ViewportTimeout,
		MaxWidth:        a.cfg.Screenshot.MaxWidth,
	}
}

func (a *Analyzer) domOptions(script string) dom.Options {
	d := a.cfg.DOM
	return dom.Options{
		Script:         script,
		ScriptEntry:    d.ScriptEntry,
		Selectors:      d.Selectors,
		MaxElements:    d.MaxElements,
		MaxText:        d.MaxText,
		ScriptTimeout:  d.ScriptTimeout,
		QueryTimeout:   d.QueryTimeout,
		VisibleTimeout: d.VisibleTimeout,
		EvalTimeout:    d.EvalTimeout,
		TextTimeout:    d.TextTimeout,
	}
}

// ValidateURL accepts http(s) URLs with a host, file URLs with a path and
// about: pages.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("%w: missing path in %q", ErrInvalidURL, raw)
		}
	case "about":
		if u.Opaque == "" {
			return fmt.Errorf("%w: missing page in %q", ErrInvalidURL, raw)
		}
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	return nil
}
