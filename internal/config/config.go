// Package config loads runtime configuration for canvasctl.
//
// Sources, later ones overriding earlier ones:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file given with -c, -config or --config. The
//     format is chosen by extension; anything other than .yaml/.yml is JSON.
//  3. CANVAS_* environment variables.
//  4. Command-line flags.
//
// Durations accept "100ms" strings or integer nanoseconds:
//
//	db_path: /home/me/.config/canvasvault/CleansheetDB.sqlite
//	persona: member
//	migration_item_delay: 100ms
//	s3:
//	  endpoint: http://127.0.0.1:9000
//	  bucket: canvas
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/canvasvault/internal/flagx"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/prefs"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// S3Config addresses the bucket used by sync. Sync is disabled while Bucket
// is empty.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

type Config struct {
	DBPath    string
	PrefsPath string
	Persona   string
	// Email is the fallback identity when no device id or signed-in user
	// is stored.
	Email string

	LogLevel     string
	LogFormat    string
	LogFile      string
	LogMaxSizeMB int
	LogMaxFiles  int

	MigrationItemDelay time.Duration
	AutoMigrate        bool
	MetricsFile        string

	S3 S3Config
}

// DataDir is the default home of the database and preference files.
func DataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "canvasvault")
	}
	return ".canvasvault"
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	dir := DataDir()
	c.DBPath = filepath.Join(dir, schema.DefaultFileName)
	c.PrefsPath = filepath.Join(dir, prefs.DefaultFileName)
	c.Persona = "member"
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.LogMaxSizeMB = 10
	c.LogMaxFiles = 5
	c.MigrationItemDelay = 100 * time.Millisecond
	c.S3.Region = "us-east-1"
	c.S3.Prefix = "canvasvault"
}

// LookupFunc reads an environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load builds a Config from defaults, the config file named in args, the
// environment and the flags in args, then validates it.
func Load(args []string, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := flagx.ConfigPath(args); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if lookup != nil {
		if err := parseEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path is empty", ErrInvalidConfig)
	case c.PrefsPath == "":
		return fmt.Errorf("%w: prefs_path is empty", ErrInvalidConfig)
	case c.Persona == "":
		return fmt.Errorf("%w: persona is empty", ErrInvalidConfig)
	case c.MigrationItemDelay < 0:
		return fmt.Errorf("%w: migration_item_delay is negative", ErrInvalidConfig)
	case c.LogMaxSizeMB < 0 || c.LogMaxFiles < 0:
		return fmt.Errorf("%w: log rotation limits must not be negative", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.S3.Enabled() && c.S3.Region == "" {
		return fmt.Errorf("%w: s3.region is required with s3.bucket", ErrInvalidConfig)
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return fmt.Errorf("%w: s3.access_key and s3.secret_key go together", ErrInvalidConfig)
	}
	return nil
}

// LogOptions maps the logging settings onto logging.Options.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:     c.LogLevel,
		Format:    c.LogFormat,
		File:      c.LogFile,
		MaxSizeMB: c.LogMaxSizeMB,
		MaxFiles:  c.LogMaxFiles,
	}
}
