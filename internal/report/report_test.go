package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/momkoo/dashboard/internal/dom"
	"github.com/ysmood/got"
)

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid json %q: %v", data, err)
	}
	return m
}

func TestEmptyAggregatorSucceeds(t *testing.T) {
	g := got.T(t)

	var buf bytes.Buffer
	g.Nil(Encode(&buf, (&Aggregator{}).Result(), false))

	g.Eq(strings.TrimSpace(buf.String()), `{"success":true,"screenshot":null,"dom_info":[],"error":null}`)
}

func TestErrorsJoinedInOrder(t *testing.T) {
	g := got.T(t)

	var a Aggregator
	a.SetScreenshot("aGk=")
	a.AddError("screenshot capture failed: timeout")
	a.AddError("   ")
	a.AddErr("", nil)
	a.AddErr("navigation", errors.New("net::ERR_ABORTED"))
	a.AddErr("", errors.New("bare"))

	r := a.Result()
	g.False(r.Success)
	g.Eq(*r.Error, "screenshot capture failed: timeout; navigation: net::ERR_ABORTED; bare")
	g.Eq(*r.Screenshot, "aGk=")
	g.Len(r.DOMInfo, 0)
}

func TestErrorsAreSanitized(t *testing.T) {
	g := got.T(t)

	var a Aggregator
	a.AddError("bad \xff byte")

	var buf bytes.Buffer
	g.Nil(Encode(&buf, a.Result(), false))
	g.Eq(decode(t, buf.Bytes())["error"], "bad � byte")
}

func TestRecordsSerialized(t *testing.T) {
	g := got.T(t)

	var a Aggregator
	a.SetElements([]dom.ElementRecord{{
		Tag:         "button",
		Attributes:  map[string]string{"id": "go"},
		XPath:       `id("go")`,
		Text:        "Go",
		BoundingBox: dom.BoundingBox{X: 10, Y: 20, Width: 60, Height: 24},
	}})

	var buf bytes.Buffer
	g.Nil(Encode(&buf, a.Result(), true))

	m := decode(t, buf.Bytes())
	g.Eq(m["success"], true)
	rec := m["dom_info"].([]any)[0].(map[string]any)
	g.Eq(rec["tag"], "button")
	g.Eq(rec["xpath"], `id("go")`)
	g.Eq(rec["inner_html"], "")
	g.Eq(rec["outer_html"], "")
	g.Eq(rec["bounding_box"], map[string]any{"x": 10.0, "y": 20.0, "width": 60.0, "height": 24.0})
	g.Has(buf.String(), "\n  \"success\": true")
}

func TestEncodeFallback(t *testing.T) {
	g := got.T(t)

	var a Aggregator
	a.SetElements([]dom.ElementRecord{{Tag: "div", BoundingBox: dom.BoundingBox{Width: math.NaN(), Height: 1}}})
	a.AddError("earlier problem")

	var buf bytes.Buffer
	g.Nil(Encode(&buf, a.Result(), false))

	m := decode(t, buf.Bytes())
	g.Eq(m["success"], false)
	g.Nil(m["screenshot"])
	g.Eq(m["dom_info"], []any{})
	g.Has(m["error"].(string), "result serialization failed: ")
	g.Has(m["error"].(string), ". original error: earlier problem")
}

func TestEncodeFallbackWithoutOriginalError(t *testing.T) {
	g := got.T(t)

	var a Aggregator
	a.SetElements([]dom.ElementRecord{{Tag: "div", BoundingBox: dom.BoundingBox{X: math.Inf(1), Width: 1, Height: 1}}})

	var buf bytes.Buffer
	g.Nil(Encode(&buf, a.Result(), false))
	g.Has(decode(t, buf.Bytes())["error"].(string), "original error: none")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestEncodeWriteFailure(t *testing.T) {
	g := got.T(t)

	err := Encode(failingWriter{}, (&Aggregator{}).Result(), false)
	g.Has(err.Error(), "closed pipe")
}
