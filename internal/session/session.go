// Package session owns the browser lifecycle for one analysis: engine
// start with fallback, page creation, navigation and ordered teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/rs/zerolog"
)

var (
	// ErrNoEngine means every configured engine failed to start or launch.
	ErrNoEngine = errors.New("no browser engine could be launched")
	// ErrNavigation means the target did not load within the timeout.
	ErrNavigation = errors.New("navigation failed")
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUninitialized State = iota
	StateEngineStarted
	StateBrowserLaunched
	StatePageCreated
	StateNavigated
	StateDOMExtracted
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEngineStarted:
		return "engine-started"
	case StateBrowserLaunched:
		return "browser-launched"
	case StatePageCreated:
		return "page-created"
	case StateNavigated:
		return "navigated"
	case StateDOMExtracted:
		return "dom-extracted"
	case StateTornDown:
		return "torn-down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configures a Session.
type Options struct {
	Viewport          browser.Viewport
	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
}

// DefaultOptions returns the 1920x1080 viewport and the stock timeouts.
func DefaultOptions() Options {
	return Options{
		Viewport:          browser.Viewport{Width: 1920, Height: 1080},
		LaunchTimeout:     60 * time.Second,
		NavigationTimeout: 60 * time.Second,
	}
}

// Session is single use: Open once, Close once (further Closes are no-ops).
type Session struct {
	engines []browser.Engine
	opts    Options
	log     zerolog.Logger

	state   State
	engine  string
	driver  browser.Driver
	browser browser.Browser
	page    browser.Page
}

// New creates a session that will try engines in order.
func New(engines []browser.Engine, opts Options, log zerolog.Logger) *Session {
	def := DefaultOptions()
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = def.Viewport
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = def.LaunchTimeout
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = def.NavigationTimeout
	}
	return &Session{
		engines: engines,
		opts:    opts,
		log:     log.With().Str("component", "session").Logger(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Engine returns the name of the engine that launched, or "".
func (s *Session) Engine() string { return s.engine }

// Page returns the open page, or nil before page creation.
func (s *Session) Page() browser.Page { return s.page }

// Open starts the first working engine, creates a page and navigates to
// url. Failures wrap ErrNoEngine or ErrNavigation. Resources acquired
// before a failure are kept for Close.
func (s *Session) Open(ctx context.Context, url string) error {
	if s.state != StateUninitialized {
		return fmt.Errorf("session already opened (state %s)", s.state)
	}

	if err := s.launch(ctx); err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.LaunchTimeout)
	page, err := s.browser.NewPage(pctx, s.opts.Viewport)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoEngine, s.engine, err)
	}
	s.page = page
	s.transition(StatePageCreated)

	nctx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	s.log.Info().Str("url", url).Msg("navigating")
	if err := s.navigate(nctx, url); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
	}
	s.transition(StateNavigated)
	return nil
}

// MarkExtracted records that DOM extraction finished on the page.
func (s *Session) MarkExtracted() {
	if s.state == StateNavigated {
		s.transition(StateDOMExtracted)
	}
}

// Close releases page, browser and engine in that order. Each step runs
// even if an earlier one failed; the failures are returned.
func (s *Session) Close() []error {
	if s.state == StateTornDown {
		return nil
	}

	var errs []error
	if s.page != nil {
		if err := closeStep("close page", s.page.Close); err != nil {
			errs = append(errs, err)
		}
	}
	if s.browser != nil {
		if err := closeStep("close browser", s.browser.Close); err != nil {
			errs = append(errs, err)
		}
	}
	if s.driver != nil {
		if err := closeStep("stop "+s.engine, s.driver.Stop); err != nil {
			errs = append(errs, err)
		}
	}
	for _, err := range errs {
		s.log.Warn().Err(err).Msg("teardown step failed")
	}

	s.page, s.browser, s.driver = nil, nil, nil
	s.transition(StateTornDown)
	return errs
}

func (s *Session) launch(ctx context.Context) error {
	if len(s.engines) == 0 {
		return fmt.Errorf("%w: no engines configured", ErrNoEngine)
	}

	var causes []error
	for _, eng := range s.engines {
		name := eng.Name()
		if err := s.tryEngine(ctx, eng); err != nil {
			s.log.Warn().Err(err).Str("engine", name).Msg("engine unavailable")
			causes = append(causes, fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.log.Info().Str("engine", name).Msg("browser launched")
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNoEngine, errors.Join(causes...))
}

func (s *Session) tryEngine(ctx context.Context, eng browser.Engine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil && s.driver != nil {
			if stopErr := closeStep("stop "+eng.Name(), s.driver.Stop); stopErr != nil {
				s.log.Warn().Err(stopErr).Msg("teardown step failed")
			}
			s.driver, s.engine = nil, ""
			s.state = StateUninitialized
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.LaunchTimeout)
	defer cancel()

	drv, err := eng.Start(ctx)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	s.driver = drv
	s.engine = eng.Name()
	s.transition(StateEngineStarted)

	b, err := drv.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	s.browser = b
	s.transition(StateBrowserLaunched)
	return nil
}

func (s *Session) navigate(ctx context.Context, url string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.page.Navigate(ctx, url)
}

func (s *Session) transition(to State) {
	s.log.Debug().Str("state", to.String()).Str("from", s.state.String()).Msg("session state")
	s.state = to
}

func closeStep(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
