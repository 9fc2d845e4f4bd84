package dom

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"
)

// Tier identifies which strategy produced a result.
type Tier string

const (
	TierScript Tier = "script"
	TierQuery  Tier = "query"
)

// DefaultSelectors are queried in order by the fallback tier.
var DefaultSelectors = []string{
	"button", "a", `input:not([type="hidden"])`, "select", "textarea",
	`[role="button"]`, `[role="link"]`, `[role="menuitem"]`, `[role="option"]`, `[role="tab"]`,
	"[onclick]", "summary", "details",
	"h1", "h2", "h3", "h4", "h5", "h6", "p", "li", "img", "span", "div",
}

const (
	attributesJS = `el => Array.from(el.attributes).reduce((obj, attr) => { obj[attr.name] = attr.value; return obj; }, {})`
	textJS       = `el => el.textContent || ''`
)

var (
	errPanic    = errors.New("recovered panic")
	errNoResult = errors.New("script returned no element list")
)

// Options bounds extraction. Zero values fall back to the defaults used by
// NewExtractor.
type Options struct {
	// Script is the tree-builder source; empty disables the script tier.
	Script      string
	ScriptEntry string
	Selectors   []string
	MaxElements int
	MaxText     int

	ScriptTimeout  time.Duration
	QueryTimeout   time.Duration
	VisibleTimeout time.Duration
	EvalTimeout    time.Duration
	TextTimeout    time.Duration
}

// Extractor produces the element records for one page.
type Extractor struct {
	opts Options
	log  zerolog.Logger
}

// NewExtractor fills in defaults for unset options.
func NewExtractor(opts Options, log zerolog.Logger) *Extractor {
	if opts.ScriptEntry == "" {
		opts.ScriptEntry = "buildDomTree"
	}
	if len(opts.Selectors) == 0 {
		opts.Selectors = DefaultSelectors
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = 300
	}
	if opts.MaxText <= 0 {
		opts.MaxText = 200
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 30 * time.Second
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 3 * time.Second
	}
	if opts.VisibleTimeout <= 0 {
		opts.VisibleTimeout = 300 * time.Millisecond
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = 300 * time.Millisecond
	}
	if opts.TextTimeout <= 0 {
		opts.TextTimeout = 500 * time.Millisecond
	}
	return &Extractor{opts: opts, log: log.With().Str("component", "dom").Logger()}
}

// LoadScript reads the tree-builder script at path. An empty path is not
// an error and yields an empty script.
func LoadScript(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load dom script: %w", err)
	}
	return string(b), nil
}

// Extract returns the visible elements of page. Failures inside either tier
// are logged and never surface; an empty result is a valid outcome.
func (e *Extractor) Extract(ctx context.Context, page browser.Page) ([]ElementRecord, Tier) {
	if e.opts.Script != "" {
		records, err := e.fromScript(ctx, page)
		switch {
		case err != nil:
			e.log.Warn().Err(err).Msg("script tier failed, falling back to selector queries")
		case len(records) == 0:
			e.log.Info().Msg("script tier returned no valid elements, falling back to selector queries")
		default:
			e.log.Info().Int("count", len(records)).Str("tier", string(TierScript)).Msg("extracted elements")
			return records, TierScript
		}
	}

	records := e.fromQuery(ctx, page)
	e.log.Info().Int("count", len(records)).Str("tier", string(TierQuery)).Msg("extracted elements")
	return records, TierQuery
}

// scriptCall wraps the configured source so its entry function runs on
// document.body. A missing entry yields an empty list.
func (e *Extractor) scriptCall() string {
	entry := e.opts.ScriptEntry
	return "() => {\n" + e.opts.Script + "\n;return typeof " + entry + " === 'function' ? " + entry + "(document.body) : [];\n}"
}

func (e *Extractor) fromScript(ctx context.Context, page browser.Page) (records []ElementRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.ScriptTimeout)
	defer cancel()

	res, err := page.Evaluate(ctx, e.scriptCall())
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", e.opts.ScriptEntry, err)
	}

	list, ok := elementList(res)
	if !ok {
		return nil, errNoResult
	}
	e.log.Debug().Int("raw", len(list)).Msg("script tier descriptors received")

	for _, raw := range list {
		if rec, ok := Build(ScriptElement{JSON: raw}); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// elementList accepts either a bare array or an object with an elements
// array.
func elementList(res gson.JSON) ([]gson.JSON, bool) {
	if _, ok := res.Val().([]any); ok {
		return res.Arr(), true
	}
	if els, ok := res.Gets("elements"); ok {
		if _, isArr := els.Val().([]any); isArr {
			return els.Arr(), true
		}
	}
	return nil, false
}

func (e *Extractor) fromQuery(ctx context.Context, page browser.Page) []ElementRecord {
	var handles []browser.Element
	for _, sel := range e.opts.Selectors {
		found, err := e.query(ctx, page, sel)
		if err != nil {
			e.log.Debug().Err(err).Str("selector", sel).Msg("selector query skipped")
			continue
		}
		handles = append(handles, found...)
	}
	e.log.Debug().Int("handles", len(handles)).Msg("selector working set collected")

	records := make([]ElementRecord, 0)
	next := 0
	defer func() {
		for _, h := range handles[next:] {
			release(h)
		}
	}()

	for next < len(handles) {
		if len(records) >= e.opts.MaxElements {
			e.log.Info().Int("max", e.opts.MaxElements).Msg("element cap reached")
			break
		}
		h := handles[next]
		next++
		if rec, ok := e.inspect(ctx, h); ok {
			records = append(records, rec)
		}
	}
	return records
}

func (e *Extractor) query(ctx context.Context, page browser.Page, sel string) (els []browser.Element, err error) {
	defer func() {
		if r := recover(); r != nil {
			els, err = nil, fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
	defer cancel()
	return page.QueryAll(ctx, sel)
}

// inspect reads one handle and always releases it. Any error or timeout
// skips the element.
func (e *Extractor) inspect(ctx context.Context, h browser.Element) (rec ElementRecord, ok bool) {
	defer release(h)
	defer func() {
		if r := recover(); r != nil {
			rec, ok = ElementRecord{}, false
		}
	}()

	visible, err := bounded(ctx, e.opts.VisibleTimeout, h.Visible)
	if err != nil || !visible {
		return ElementRecord{}, false
	}

	tag, err := callString(ctx, h, tagNameJS, e.opts.EvalTimeout)
	if err != nil {
		return ElementRecord{}, false
	}

	attrs, err := e.attributes(ctx, h)
	if err != nil {
		return ElementRecord{}, false
	}

	text, err := callString(ctx, h, textJS, e.opts.TextTimeout)
	if err != nil {
		return ElementRecord{}, false
	}

	xpath := XPath(ctx, h, e.opts.EvalTimeout)

	box, err := bounded(ctx, e.opts.EvalTimeout, h.Box)
	if err != nil {
		return ElementRecord{}, false
	}

	return Build(QueriedElement{
		Tag:        tag,
		Attributes: attrs,
		Text:       truncate(strings.TrimSpace(text), e.opts.MaxText),
		XPath:      xpath,
		Box:        box,
	})
}

func (e *Extractor) attributes(ctx context.Context, h browser.Element) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.EvalTimeout)
	defer cancel()

	v, err := h.Call(ctx, attributesJS)
	if err != nil {
		return nil, err
	}
	attrs := map[string]string{}
	for k, val := range v.Map() {
		attrs[k] = str(val)
	}
	return attrs, nil
}

func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func release(h browser.Element) {
	defer func() { _ = recover() }()
	_ = h.Release()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
