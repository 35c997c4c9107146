// Package common provides logging setup and build information shared by all
// binaries and packages of the key provider.
package common

import (
	"log/slog"
	"os"
)

// PackageName is used to namespace metrics and identify the service in logs.
const PackageName = "skip-key-provider"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures the process-wide structured logger.
type LoggingOpts struct {
	// Debug enables debug-level log messages.
	Debug bool

	// JSON switches the handler to JSON output for log shipping.
	JSON bool

	// Service is added as a "service" attribute to every record.
	Service string

	// Version is added as a "version" attribute to every record.
	Version string
}

// SetupLogger creates the process-wide slog.Logger according to opts.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
