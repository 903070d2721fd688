package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment variable read by parseEnv.
const EnvPrefix = "CANVAS_"

func parseEnv(cfg *Config, lookup LookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("DB_PATH", &cfg.DBPath)
	str("PREFS_PATH", &cfg.PrefsPath)
	str("PERSONA", &cfg.Persona)
	str("EMAIL", &cfg.Email)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("LOG_FILE", &cfg.LogFile)
	str("METRICS_FILE", &cfg.MetricsFile)
	str("S3_ENDPOINT", &cfg.S3.Endpoint)
	str("S3_REGION", &cfg.S3.Region)
	str("S3_BUCKET", &cfg.S3.Bucket)
	str("S3_ACCESS_KEY", &cfg.S3.AccessKey)
	str("S3_SECRET_KEY", &cfg.S3.SecretKey)
	str("S3_PREFIX", &cfg.S3.Prefix)

	if err := num("LOG_MAX_SIZE_MB", &cfg.LogMaxSizeMB); err != nil {
		return err
	}
	if err := num("LOG_MAX_FILES", &cfg.LogMaxFiles); err != nil {
		return err
	}

	if v, ok := lookup(EnvPrefix + "MIGRATION_ITEM_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sMIGRATION_ITEM_DELAY: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.MigrationItemDelay = d
	}
	if v, ok := lookup(EnvPrefix + "AUTO_MIGRATE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sAUTO_MIGRATE: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		cfg.AutoMigrate = b
	}
	return nil
}
