// Package screenshot captures the page image with a degrading fallback:
// full page first, the visible viewport if that times out.
package screenshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/momkoo/dashboard/internal/browser"
	"github.com/momkoo/dashboard/internal/sanitize"
	"github.com/rs/zerolog"
)

// Capturer is the slice of a page needed here.
type Capturer interface {
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
}

// Options configures capture. ViewportTimeout must be shorter than
// FullPageTimeout.
type Options struct {
	FullPageTimeout time.Duration
	ViewportTimeout time.Duration
	// MaxWidth downscales wider images; 0 keeps the original size.
	MaxWidth uint
}

// DefaultOptions mirrors the timeouts the analyzer ships with.
func DefaultOptions() Options {
	return Options{
		FullPageTimeout: 30 * time.Second,
		ViewportTimeout: 15 * time.Second,
	}
}

// Capture returns the base64 encoded PNG. The returned error is already
// phrased for the analysis report. Unset timeouts take the defaults.
func Capture(ctx context.Context, page Capturer, opts Options, log zerolog.Logger) (string, error) {
	log = log.With().Str("component", "screenshot").Logger()

	def := DefaultOptions()
	if opts.FullPageTimeout <= 0 {
		opts.FullPageTimeout = def.FullPageTimeout
	}
	if opts.ViewportTimeout <= 0 {
		opts.ViewportTimeout = def.ViewportTimeout
	}

	data, err := shoot(ctx, page, true, opts.FullPageTimeout)
	if err != nil {
		if !browser.IsTimeout(err) {
			log.Warn().Err(err).Msg("full page capture failed")
			return "", fmt.Errorf("screenshot capture error: %s", sanitize.String(err))
		}

		log.Warn().Err(err).Msg("full page capture timed out, trying viewport only")
		data, err = shoot(ctx, page, false, opts.ViewportTimeout)
		if err != nil {
			log.Warn().Err(err).Msg("viewport capture failed")
			return "", fmt.Errorf("screenshot capture failed: %s", sanitize.String(err))
		}
	}

	if opts.MaxWidth > 0 {
		if scaled, err := Downscale(data, opts.MaxWidth); err != nil {
			log.Warn().Err(err).Msg("downscale skipped")
		} else {
			data = scaled
		}
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	log.Info().Float64("kb", float64(len(encoded))/1024).Msg("screenshot captured")
	return encoded, nil
}

var errEmpty = errors.New("empty image")

func shoot(ctx context.Context, page Capturer, fullPage bool, timeout time.Duration) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("capture panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err = page.Screenshot(ctx, fullPage)
	if err == nil && len(data) == 0 {
		err = errEmpty
	}
	return data, err
}
