package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/timex"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape. Pointer fields distinguish "absent"
// from a zero value so a partial file only overrides what it names.
type fileConfig struct {
	DBPath             *string         `json:"db_path" yaml:"db_path"`
	PrefsPath          *string         `json:"prefs_path" yaml:"prefs_path"`
	Persona            *string         `json:"persona" yaml:"persona"`
	Email              *string         `json:"email" yaml:"email"`
	LogLevel           *string         `json:"log_level" yaml:"log_level"`
	LogFormat          *string         `json:"log_format" yaml:"log_format"`
	LogFile            *string         `json:"log_file" yaml:"log_file"`
	LogMaxSizeMB       *int            `json:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxFiles        *int            `json:"log_max_files" yaml:"log_max_files"`
	MigrationItemDelay *timex.Duration `json:"migration_item_delay" yaml:"migration_item_delay"`
	AutoMigrate        *bool           `json:"auto_migrate" yaml:"auto_migrate"`
	MetricsFile        *string         `json:"metrics_file" yaml:"metrics_file"`
	S3                 *fileS3         `json:"s3" yaml:"s3"`
}

type fileS3 struct {
	Endpoint  *string `json:"endpoint" yaml:"endpoint"`
	Region    *string `json:"region" yaml:"region"`
	Bucket    *string `json:"bucket" yaml:"bucket"`
	AccessKey *string `json:"access_key" yaml:"access_key"`
	SecretKey *string `json:"secret_key" yaml:"secret_key"`
	Prefix    *string `json:"prefix" yaml:"prefix"`
}

func parseFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	fc.apply(cfg)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (fc *fileConfig) apply(cfg *Config) {
	set(&cfg.DBPath, fc.DBPath)
	set(&cfg.PrefsPath, fc.PrefsPath)
	set(&cfg.Persona, fc.Persona)
	set(&cfg.Email, fc.Email)
	set(&cfg.LogLevel, fc.LogLevel)
	set(&cfg.LogFormat, fc.LogFormat)
	set(&cfg.LogFile, fc.LogFile)
	set(&cfg.LogMaxSizeMB, fc.LogMaxSizeMB)
	set(&cfg.LogMaxFiles, fc.LogMaxFiles)
	if fc.MigrationItemDelay != nil {
		cfg.MigrationItemDelay = fc.MigrationItemDelay.Duration
	}
	set(&cfg.AutoMigrate, fc.AutoMigrate)
	set(&cfg.MetricsFile, fc.MetricsFile)

	if s := fc.S3; s != nil {
		set(&cfg.S3.Endpoint, s.Endpoint)
		set(&cfg.S3.Region, s.Region)
		set(&cfg.S3.Bucket, s.Bucket)
		set(&cfg.S3.AccessKey, s.AccessKey)
		set(&cfg.S3.SecretKey, s.SecretKey)
		set(&cfg.S3.Prefix, s.Prefix)
	}
}
