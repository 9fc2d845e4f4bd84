package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/momkoo/dashboard/internal/analyzer"
	"github.com/momkoo/dashboard/internal/browser"
	"github.com/momkoo/dashboard/internal/config"
	"github.com/momkoo/dashboard/internal/report"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const usage = "usage: pageanalyzer <url> [capture_screenshot true|false] [dom_script_path]"

var errNoURL = errors.New("no URL provided")

var (
	configPath    string
	screenshot    bool
	domScript     string
	domEntry      string
	engines       string
	width         int
	height        int
	maxWidth      uint
	allowDownload bool
	profile       string
	verbose       bool
	pretty        bool
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "pageanalyzer <url> [capture_screenshot] [dom_script]",
		Short: "Snapshot the visible elements of a web page as JSON",
		Long: `pageanalyzer opens a single page in a headless browser and prints a JSON
report with the visible elements (tag, attributes, xpath, text, bounding box)
and, optionally, a base64 PNG screenshot.

Example:
  pageanalyzer https://example.com false ./build_dom_tree.js`,
		Args:          cobra.MaximumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("PAGEANALYZER_CONFIG"), "YAML config file")
	rootCmd.Flags().BoolVar(&screenshot, "screenshot", true, "Capture a screenshot")
	rootCmd.Flags().StringVar(&domScript, "dom-script", os.Getenv("PAGEANALYZER_DOM_SCRIPT"), "Tree-builder script evaluated before falling back to selector queries")
	rootCmd.Flags().StringVar(&domEntry, "dom-entry", "", "Entry function of the tree-builder script (default buildDomTree)")
	rootCmd.Flags().StringVar(&engines, "engines", os.Getenv("PAGEANALYZER_ENGINES"), "Comma separated engines to try in order: chromium, firefox, webkit")
	rootCmd.Flags().IntVar(&width, "width", 0, "Viewport width (default 1920)")
	rootCmd.Flags().IntVar(&height, "height", 0, "Viewport height (default 1080)")
	rootCmd.Flags().UintVar(&maxWidth, "max-width", 0, "Downscale screenshots wider than this")
	rootCmd.Flags().BoolVar(&allowDownload, "allow-download", false, "Download a browser when none is installed")
	rootCmd.Flags().StringVar(&profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON report")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger()

	// The failure report still goes to stdout; the exit code is 1.
	if len(args) == 0 {
		if err := emitFailure(log, errNoURL.Error()+". "+usage); err != nil {
			return err
		}
		return errNoURL
	}

	req := analyzer.Request{URL: args[0], Screenshot: screenshot, ScriptPath: domScript}
	if len(args) > 1 {
		req.Screenshot = strings.EqualFold(strings.TrimSpace(args[1]), "true")
	}
	if len(args) > 2 {
		req.ScriptPath = args[2]
	}
	if req.ScriptPath != "" {
		if _, err := os.Stat(req.ScriptPath); err != nil {
			log.Warn().Str("path", req.ScriptPath).Msg("dom script not found")
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return emitFailure(log, err.Error())
	}

	engs, err := browser.ByName(cfg.Browser.Engines, browser.Options{
		AllowDownload: cfg.Browser.AllowDownload,
		ProfileDir:    cfg.Browser.ProfileDir,
	})
	if err != nil {
		return emitFailure(log, err.Error())
	}

	log.Info().
		Str("url", req.URL).
		Bool("screenshot", req.Screenshot).
		Str("dom_script", req.ScriptPath).
		Strs("engines", cfg.Browser.Engines).
		Msg("starting analysis")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res := analyzer.New(cfg, engs, log).Analyze(ctx, req)
	return emit(log, res)
}

// loadConfig layers flags over the config file over the defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if engines != "" {
		cfg.Browser.Engines = config.ParseEngines(engines)
	}
	if flags.Changed("width") {
		cfg.Browser.Width = width
	}
	if flags.Changed("height") {
		cfg.Browser.Height = height
	}
	if flags.Changed("allow-download") {
		cfg.Browser.AllowDownload = allowDownload
	}
	if profile != "" {
		cfg.Browser.ProfileDir = profile
	}
	if flags.Changed("max-width") {
		cfg.Screenshot.MaxWidth = maxWidth
	}
	if domEntry != "" {
		cfg.DOM.ScriptEntry = domEntry
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()
}

func emitFailure(log zerolog.Logger, msg string) error {
	var agg report.Aggregator
	agg.AddError(msg)
	return emit(log, agg.Result())
}

// emit writes the report to stdout. Only a report that could not be
// written at all is an error for the process.
func emit(log zerolog.Logger, res report.Result) error {
	if err := report.Encode(os.Stdout, res, pretty); err != nil {
		log.Error().Err(err).Msg("could not write report")
		return err
	}
	if !res.Success {
		log.Warn().Str("error", *res.Error).Msg("analysis reported errors")
	}
	return nil
}
