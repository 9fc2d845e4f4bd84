// Package report assembles the analysis result and writes it as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/momkoo/dashboard/internal/dom"
	"github.com/momkoo/dashboard/internal/sanitize"
)

// Result is the document written to stdout. Success is true exactly when
// Error is nil.
type Result struct {
	Success    bool                `json:"success"`
	Screenshot *string             `json:"screenshot"`
	DOMInfo    []dom.ElementRecord `json:"dom_info"`
	Error      *string             `json:"error"`
}

// Aggregator collects outputs and errors from the pipeline stages.
type Aggregator struct {
	screenshot *string
	elements   []dom.ElementRecord
	errs       []string
}

// SetScreenshot stores the base64 image.
func (a *Aggregator) SetScreenshot(b64 string) {
	a.screenshot = &b64
}

// SetElements stores the extracted records.
func (a *Aggregator) SetElements(records []dom.ElementRecord) {
	a.elements = records
}

// AddError appends a message. Blank messages are ignored.
func (a *Aggregator) AddError(msg string) {
	msg = strings.TrimSpace(sanitize.String(msg))
	if msg == "" {
		return
	}
	a.errs = append(a.errs, msg)
}

// AddErr appends err prefixed with a stage label.
func (a *Aggregator) AddErr(prefix string, err error) {
	if err == nil {
		return
	}
	if prefix == "" {
		a.AddError(sanitize.String(err))
		return
	}
	a.AddError(prefix + ": " + sanitize.String(err))
}

// Result builds the final document.
func (a *Aggregator) Result() Result {
	r := Result{
		Success:    len(a.errs) == 0,
		Screenshot: a.screenshot,
		DOMInfo:    a.elements,
	}
	if r.DOMInfo == nil {
		r.DOMInfo = []dom.ElementRecord{}
	}
	if !r.Success {
		msg := strings.Join(a.errs, "; ")
		r.Error = &msg
	}
	return r
}

// Encode writes r as JSON. If r cannot be marshaled a minimal failure
// document carrying the cause is written instead; an error is returned only
// when nothing could be written.
func Encode(w io.Writer, r Result, pretty bool) error {
	data, err := marshal(r, pretty)
	if err != nil {
		original := "none"
		if r.Error != nil {
			original = *r.Error
		}
		msg := sanitize.String(fmt.Sprintf("result serialization failed: %v. original error: %s", err, original))
		data, err = marshal(Result{DOMInfo: []dom.ElementRecord{}, Error: &msg}, pretty)
		if err != nil {
			return fmt.Errorf("encode fallback result: %w", err)
		}
	}

	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func marshal(r Result, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(r, "", "  ")
	}
	return json.Marshal(r)
}
