package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/vk/brokerconf/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const usageHeader = `
brokerconf - A management controller for a messaging broker subsystem.

Usage:
  brokerconf [options] [MODEL_PATH]

Arguments:
  MODEL_PATH
    Path to the HCL model file. It is created on the first change if missing.

Options:
`

// flags mirrors the command-line options before they are layered onto the
// settings file.
type flags struct {
	model       string
	settings    string
	listen      string
	brokerURL   string
	logLevel    string
	logFormat   string
	bootTimeout time.Duration
	check       bool
}

func (f *flags) bind(fs *pflag.FlagSet, defaults app.Config) {
	fs.StringVarP(&f.model, "config", "c", "", "Path to the HCL model file.")
	fs.StringVar(&f.settings, "settings", "", "Path to a YAML settings file. Flags override its values.")
	fs.StringVar(&f.listen, "listen", defaults.Listen, "Address of the management endpoint. Empty disables it.")
	fs.StringVar(&f.brokerURL, "broker-url", defaults.BrokerURL, "socket.io URL of the broker control channel. Empty runs the in-process broker.")
	fs.StringVar(&f.logLevel, "log-level", defaults.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.StringVar(&f.logFormat, "log-format", defaults.LogFormat, "Log output format. Options: 'text' or 'json'.")
	fs.DurationVar(&f.bootTimeout, "boot-timeout", defaults.BootTimeout, "Maximum time to bring the model up.")
	fs.BoolVar(&f.check, "check", false, "Validate the model by booting it against the in-process broker, then exit.")
}

// apply layers the flags the user actually set onto cfg.
func (f *flags) apply(fs *pflag.FlagSet, cfg *app.Config) {
	if fs.Changed("listen") {
		cfg.Listen = f.listen
	}
	if fs.Changed("broker-url") {
		cfg.BrokerURL = f.brokerURL
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fs.Changed("boot-timeout") {
		cfg.BootTimeout = f.bootTimeout
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.Check = f.check
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
//
// Values are resolved as defaults, then the settings file, then flags.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	fs := pflag.NewFlagSet("brokerconf", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usageHeader)
		fs.PrintDefaults()
	}

	var f flags
	f.bind(fs, app.DefaultConfig())

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	cfg := app.DefaultConfig()
	if f.settings != "" {
		loaded, err := app.LoadSettings(f.settings, cfg)
		if err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
		cfg = loaded
		slog.Debug("Settings file applied.", "path", f.settings)
	}
	f.apply(fs, &cfg)

	switch {
	case f.model != "":
		cfg.ModelPath = f.model
	case fs.NArg() > 0:
		cfg.ModelPath = fs.Arg(0)
	}
	slog.Debug("Model path determined.", "path", cfg.ModelPath)

	if cfg.ModelPath == "" {
		slog.Debug("No model path provided, printing usage and exiting.")
		fs.Usage()
		return nil, true, nil
	}

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
