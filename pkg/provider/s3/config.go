// Package s3 implements the provider interface for AWS S3 and S3-compatible
// storage. Run inputs, pipeline results and completion markers all live in
// S3 buckets in production deployments.
package s3

import "strings"

// Config configures an S3 provider bound to a single bucket.
//
// Credentials follow the AWS SDK v2 default chain (environment, shared
// config/profile, instance role) unless AccessKeyID/SecretAccessKey are set.
//
// For AWS S3, an empty Region that the SDK cannot resolve defaults to
// us-east-1. When Endpoint is set (moto, MinIO) no default region is applied.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	// Required for moto and most S3-compatible stores.
	ForcePathStyle bool

	// MaxKeys is the default page size for List operations.
	// Zero uses the provider default (1000). Values over 1000 are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if strings.ContainsAny(c.Bucket, "/ ") {
		return &ConfigError{Field: "Bucket", Message: "bucket name must not contain '/' or spaces"}
	}

	// If one explicit credential is set, both must be set
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
