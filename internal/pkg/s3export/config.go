package s3export

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

// Config holds S3 ledger export configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_EXPORT_PREFIX", "ledger"),
		Enabled:         env.GetEnvBool("S3_EXPORT_ENABLED", false),
	}

	// Validate required fields if export is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 export is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 export is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 export is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if S3 export is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey returns the key of the export for a UTC day.
// Format: <prefix>/YYYY/MM/DD.jsonl
func (c *Config) ObjectKey(day time.Time) string {
	d := day.UTC()
	prefix := c.Prefix
	if prefix == "" {
		prefix = "ledger"
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d.jsonl", prefix, d.Year(), int(d.Month()), d.Day())
}
