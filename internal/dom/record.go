// Package dom turns a live page into a bounded list of visible element
// records. Records come from one of two tiers: a configured tree-builder
// script evaluated in a single round trip, or per-element selector queries.
package dom

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/momkoo/dashboard/internal/sanitize"
	"github.com/ysmood/gson"
)

const unknownScriptXPath = "unknown_xpath_from_script"

// BoundingBox is an element's position and size in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementRecord is one visible element on the page. Records are immutable
// once built.
type ElementRecord struct {
	Tag         string            `json:"tag"`
	Attributes  map[string]string `json:"attributes"`
	XPath       string            `json:"xpath"`
	Text        string            `json:"text"`
	BoundingBox BoundingBox       `json:"bounding_box"`
	InnerHTML   string            `json:"inner_html"`
	OuterHTML   string            `json:"outer_html"`
}

// RawElement is the per-tier input to Build. The two implementations carry
// differently shaped data; nothing outside this package sees them.
type RawElement interface {
	raw()
}

// ScriptElement is one descriptor returned by the tree-builder script.
type ScriptElement struct {
	JSON gson.JSON
}

// QueriedElement is what the selector tier reads off a live handle.
type QueriedElement struct {
	Tag        string
	Attributes map[string]string
	Text       string
	XPath      string
	Box        *browser.Rect
}

func (ScriptElement) raw()  {}
func (QueriedElement) raw() {}

// Build normalizes raw into a record. The second return value is false when
// the element fails the validity gate and must not be emitted.
func Build(raw RawElement) (ElementRecord, bool) {
	switch r := raw.(type) {
	case ScriptElement:
		return buildScript(r.JSON)
	case QueriedElement:
		return buildQueried(r)
	default:
		return ElementRecord{}, false
	}
}

func buildQueried(q QueriedElement) (ElementRecord, bool) {
	if q.Box == nil {
		return ElementRecord{}, false
	}
	box, ok := gate(q.Box.X, q.Box.Y, gson.New(q.Box.Width), gson.New(q.Box.Height))
	if !ok {
		return ElementRecord{}, false
	}

	tag := q.Tag
	if tag == "" {
		tag = "unknown"
	}
	return ElementRecord{
		Tag:         sanitize.String(strings.ToLower(tag)),
		Attributes:  sanitize.Map(q.Attributes),
		XPath:       sanitize.String(q.XPath),
		Text:        sanitize.String(q.Text),
		BoundingBox: box,
	}, true
}

func buildScript(j gson.JSON) (ElementRecord, bool) {
	rect, found := gson.New(nil), false
	for _, key := range []string{"boundingClientRect", "bounds", "bounding_box", "boundingBox"} {
		if v, ok := j.Gets(key); ok && !v.Nil() {
			rect, found = v, true
			break
		}
	}
	if !found {
		return ElementRecord{}, false
	}

	box, ok := gate(
		number(first(rect, "x", "left")),
		number(first(rect, "y", "top")),
		rect.Get("width"),
		rect.Get("height"),
	)
	if !ok {
		return ElementRecord{}, false
	}

	tag := str(first(j, "tag", "nodeName"))
	if tag == "" {
		tag = "unknown"
	}
	xpath := str(first(j, "xpath"))
	if xpath == "" {
		xpath = unknownScriptXPath
	}

	attrs := map[string]string{}
	if a, ok := j.Gets("attributes"); ok {
		if m, isMap := a.Val().(map[string]any); isMap {
			for k, v := range m {
				attrs[k] = str(gson.New(v))
			}
		}
	}

	return ElementRecord{
		Tag:         sanitize.String(strings.ToLower(tag)),
		Attributes:  sanitize.Map(attrs),
		XPath:       sanitize.String(xpath),
		Text:        sanitize.String(str(first(j, "text", "textContent"))),
		BoundingBox: box,
		InnerHTML:   sanitize.String(str(first(j, "innerHtml"))),
		OuterHTML:   sanitize.String(str(first(j, "outerHtml"))),
	}, true
}

// gate applies the validity rule: width and height must be finite numbers
// greater than zero. A non-finite position collapses to 0.
func gate(x, y float64, width, height gson.JSON) (BoundingBox, bool) {
	w, ok := toFloat(width.Val())
	if !ok || !positive(w) {
		return BoundingBox{}, false
	}
	h, ok := toFloat(height.Val())
	if !ok || !positive(h) {
		return BoundingBox{}, false
	}
	return BoundingBox{X: finite(x), Y: finite(y), Width: w, Height: h}, true
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

// first returns the value of the first key present in j. A present null
// wins over later keys, matching the descriptor contract.
func first(j gson.JSON, keys ...string) gson.JSON {
	for _, k := range keys {
		if v, ok := j.Gets(k); ok {
			return v
		}
	}
	return gson.New(nil)
}

func number(j gson.JSON) float64 {
	v, _ := toFloat(j.Val())
	return v
}

// toFloat accepts any numeric value; engines differ in whether integral
// numbers arrive as float64 or int.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func str(j gson.JSON) string {
	switch v := j.Val().(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return sanitize.String(j.JSON("", ""))
	}
}
