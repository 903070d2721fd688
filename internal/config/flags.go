package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/canvasvault/internal/flagx"
)

// Flag names shared with the command tree, which declares them for help
// output and leaves their values to Load.
const (
	FlagDB          = "db"
	FlagPrefs       = "prefs"
	FlagPersona     = "persona"
	FlagEmail       = "email"
	FlagLogLevel    = "log-level"
	FlagLogFormat   = "log-format"
	FlagLogFile     = "log-file"
	FlagMetricsFile = "metrics-file"
	FlagAutoMigrate = "auto-migrate"
)

var flagNames = []string{
	FlagDB, FlagPrefs, FlagPersona, FlagEmail, FlagLogLevel,
	FlagLogFormat, FlagLogFile, FlagMetricsFile, FlagAutoMigrate,
}

// parseFlags overlays cfg with the global flags found in args. Other flags
// and positional arguments are filtered out with flagx.FilterArgs so
// subcommand flags do not interfere.
func parseFlags(cfg *Config, args []string) error {
	allowed := make([]string, 0, len(flagNames)*2)
	for _, n := range flagNames {
		allowed = append(allowed, "-"+n, "--"+n)
	}
	args = flagx.FilterArgs(args, allowed)

	fs := flag.NewFlagSet("canvasctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DBPath, FlagDB, cfg.DBPath, "database file")
	fs.StringVar(&cfg.PrefsPath, FlagPrefs, cfg.PrefsPath, "preference store file")
	fs.StringVar(&cfg.Persona, FlagPersona, cfg.Persona, "active persona")
	fs.StringVar(&cfg.Email, FlagEmail, cfg.Email, "fallback identity email")
	fs.StringVar(&cfg.LogLevel, FlagLogLevel, cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, FlagLogFormat, cfg.LogFormat, "log format (text or json)")
	fs.StringVar(&cfg.LogFile, FlagLogFile, cfg.LogFile, "rotated log file")
	fs.StringVar(&cfg.MetricsFile, FlagMetricsFile, cfg.MetricsFile, "prometheus textfile written on exit")
	fs.BoolVar(&cfg.AutoMigrate, FlagAutoMigrate, cfg.AutoMigrate, "migrate legacy data on startup")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
