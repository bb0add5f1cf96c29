package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "VAT_BATCH_"

// ApplyEnv overrides cfg with VAT_BATCH_* environment variables
func ApplyEnv(cfg *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.MetadataStore.Driver = envString("METADATA_DRIVER", cfg.MetadataStore.Driver)
	cfg.MetadataStore.DSN = envString("METADATA_DSN", cfg.MetadataStore.DSN)
	cfg.BusinessStore.Driver = envString("BUSINESS_DRIVER", cfg.BusinessStore.Driver)
	cfg.BusinessStore.DSN = envString("BUSINESS_DSN", cfg.BusinessStore.DSN)

	var err error
	cfg.Batch.AutoRun, err = envBool("AUTO_RUN", cfg.Batch.AutoRun)
	collect(err)
	cfg.Batch.ExitOnCompletion, err = envBool("EXIT_ON_COMPLETION", cfg.Batch.ExitOnCompletion)
	collect(err)
	cfg.Batch.ChunkSize, err = envInt("CHUNK_SIZE", cfg.Batch.ChunkSize)
	collect(err)
	cfg.Batch.InputFile = envString("INPUT_FILE", cfg.Batch.InputFile)
	cfg.Batch.OutputDir = envString("OUTPUT_DIR", cfg.Batch.OutputDir)

	cfg.Web.Host = envString("WEB_HOST", cfg.Web.Host)
	cfg.Web.Port, err = envInt("WEB_PORT", cfg.Web.Port)
	collect(err)
	cfg.Web.ShutdownTimeout.Duration, err = envDuration("WEB_SHUTDOWN_TIMEOUT", cfg.Web.ShutdownTimeout.Duration)
	collect(err)

	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString("LOG_FORMAT", cfg.Log.Format)

	obj := &cfg.Export.ObjectStore
	obj.Enabled, err = envBool("OBJECT_STORE_ENABLED", obj.Enabled)
	collect(err)
	obj.Endpoint = envString("OBJECT_STORE_ENDPOINT", obj.Endpoint)
	obj.AccessKey = envString("OBJECT_STORE_ACCESS_KEY", obj.AccessKey)
	obj.SecretKey = envString("OBJECT_STORE_SECRET_KEY", obj.SecretKey)
	obj.Bucket = envString("OBJECT_STORE_BUCKET", obj.Bucket)

	cfg.Notify.SlackWebhook = envString("SLACK_WEBHOOK", cfg.Notify.SlackWebhook)
	cfg.Notify.FailuresOnly, err = envBool("NOTIFY_FAILURES_ONLY", cfg.Notify.FailuresOnly)
	collect(err)

	return errors.Join(errs...)
}

func envString(key string, def string) string {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		return b, nil
	}
	return def, nil
}

func envInt(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		return i, nil
	}
	return def, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s%s: %w", EnvPrefix, key, err)
		}
		return d, nil
	}
	return def, nil
}
