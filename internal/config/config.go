// Package config holds the analyzer settings: built-in defaults, an
// optional YAML file layered on top, then flag overrides applied by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config is the full settings tree.
type Config struct {
	Browser    Browser    `yaml:"browser"`
	Screenshot Screenshot `yaml:"screenshot"`
	DOM        DOM        `yaml:"dom"`
}

// Browser configures engines and page setup.
type Browser struct {
	// Engines are tried in order until one launches.
	Engines           []string      `yaml:"engines"`
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	AllowDownload     bool          `yaml:"allowDownload"`
	ProfileDir        string        `yaml:"profileDir"`
	LaunchTimeout     time.Duration `yaml:"launchTimeout"`
	NavigationTimeout time.Duration `yaml:"navigationTimeout"`
}

// Screenshot configures capture.
type Screenshot struct {
	FullPageTimeout time.Duration `yaml:"fullPageTimeout"`
	ViewportTimeout time.Duration `yaml:"viewportTimeout"`
	MaxWidth        uint          `yaml:"maxWidth"`
}

// DOM configures extraction.
type DOM struct {
	Script         string        `yaml:"script"`
	ScriptEntry    string        `yaml:"scriptEntry"`
	MaxElements    int           `yaml:"maxElements"`
	MaxText        int           `yaml:"maxText"`
	Selectors      []string      `yaml:"selectors"`
	ScriptTimeout  time.Duration `yaml:"scriptTimeout"`
	QueryTimeout   time.Duration `yaml:"queryTimeout"`
	VisibleTimeout time.Duration `yaml:"visibleTimeout"`
	EvalTimeout    time.Duration `yaml:"evalTimeout"`
	TextTimeout    time.Duration `yaml:"textTimeout"`
}

// KnownEngines lists the accepted engine names.
var KnownEngines = []string{"chromium", "chrome", "firefox", "webkit"}

// Default returns the stock settings.
func Default() Config {
	return Config{
		Browser: Browser{
			Engines:           []string{"chromium", "firefox"},
			Width:             1920,
			Height:            1080,
			LaunchTimeout:     60 * time.Second,
			NavigationTimeout: 60 * time.Second,
		},
		Screenshot: Screenshot{
			FullPageTimeout: 30 * time.Second,
			ViewportTimeout: 15 * time.Second,
		},
		DOM: DOM{
			ScriptEntry:    "buildDomTree",
			MaxElements:    300,
			MaxText:        200,
			ScriptTimeout:  30 * time.Second,
			QueryTimeout:   3 * time.Second,
			VisibleTimeout: 300 * time.Millisecond,
			EvalTimeout:    300 * time.Millisecond,
			TextTimeout:    500 * time.Millisecond,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// ParseEngines splits a comma separated engine list.
func ParseEngines(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if len(c.Browser.Engines) == 0 {
		errs = append(errs, errors.New("browser.engines: at least one engine is required"))
	}
	for _, name := range c.Browser.Engines {
		if !slices.Contains(KnownEngines, name) {
			errs = append(errs, fmt.Errorf("browser.engines: unknown engine %q", name))
		}
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		errs = append(errs, fmt.Errorf("browser: invalid viewport %dx%d", c.Browser.Width, c.Browser.Height))
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"browser.launchTimeout", c.Browser.LaunchTimeout},
		{"browser.navigationTimeout", c.Browser.NavigationTimeout},
		{"screenshot.fullPageTimeout", c.Screenshot.FullPageTimeout},
		{"screenshot.viewportTimeout", c.Screenshot.ViewportTimeout},
		{"dom.scriptTimeout", c.DOM.ScriptTimeout},
		{"dom.queryTimeout", c.DOM.QueryTimeout},
		{"dom.visibleTimeout", c.DOM.VisibleTimeout},
		{"dom.evalTimeout", c.DOM.EvalTimeout},
		{"dom.textTimeout", c.DOM.TextTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive", d.key))
		}
	}

	if c.Screenshot.ViewportTimeout >= c.Screenshot.FullPageTimeout {
		errs = append(errs, fmt.Errorf("screenshot.viewportTimeout (%s) must be shorter than fullPageTimeout (%s)",
			c.Screenshot.ViewportTimeout, c.Screenshot.FullPageTimeout))
	}
	if c.DOM.MaxElements <= 0 {
		errs = append(errs, errors.New("dom.maxElements: must be positive"))
	}
	if c.DOM.MaxText <= 0 {
		errs = append(errs, errors.New("dom.maxText: must be positive"))
	}
	if strings.TrimSpace(c.DOM.ScriptEntry) == "" {
		errs = append(errs, errors.New("dom.scriptEntry: must not be empty"))
	}

	return errors.Join(errs...)
}
