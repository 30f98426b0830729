package config

import (
	"errors"
	"os"
	"strings"

	"github.com/ShayCichocki/phylorun/internal/archive"
)

// ErrNoBucket is returned when archiving is enabled without a bucket.
var ErrNoBucket = errors.New("archive enabled but no bucket configured")

// ArchiveCredentials returns the static S3 key pair for the archive.
// It checks in order: AWS environment variables, config file. An empty pair
// means the SDK's default credential chain applies.
func ArchiveCredentials(cfg *Config) (string, string) {
	if id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		return id, secret
	}

	if cfg != nil {
		id := expandEnv(cfg.Archive.AccessKeyID)
		secret := expandEnv(cfg.Archive.SecretAccessKey)
		if id != "" && secret != "" && !strings.HasPrefix(id, "${") && !strings.HasPrefix(secret, "${") {
			return id, secret
		}
	}

	return "", ""
}

// ArchiveConfig returns the archiver settings, or ErrNoBucket when
// archiving is enabled but unusable. The caller checks Archive.Enabled.
func (c *Config) ArchiveConfig() (archive.Config, error) {
	if c.Archive.Bucket == "" {
		return archive.Config{}, ErrNoBucket
	}
	id, secret := ArchiveCredentials(c)
	return archive.Config{
		Bucket:          c.Archive.Bucket,
		Region:          c.Archive.Region,
		Endpoint:        c.Archive.Endpoint,
		PathStyle:       c.Archive.PathStyle,
		Prefix:          c.Archive.Prefix,
		AccessKeyID:     id,
		SecretAccessKey: secret,
	}, nil
}

// MaskSecret returns a masked version of a secret for display.
// Shows the first 4 and last 4 characters.
func MaskSecret(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 12 {
		return "***"
	}

	return key[:4] + "..." + key[len(key)-4:]
}

// KeySource represents where archive credentials were loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "default_chain"
)

// ArchiveCredentialSource returns where the archive credentials come from.
func ArchiveCredentialSource(cfg *Config) KeySource {
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return KeySourceEnv
	}
	if id, _ := ArchiveCredentials(cfg); id != "" {
		return KeySourceConfig
	}
	return KeySourceNone
}
