// Package s3tracker reads job outcomes from marker objects in S3 or an
// S3-compatible store.
//
// Each job owns the prefix <Prefix><jobID>/. Jobs write a terminal marker
// when they finish:
//
//	_SUCCESS  job succeeded
//	_FAILED   job failed
//	_KILLED   job was killed
//
// A job prefix holding only _QUEUED is still being prepared. Any other
// content without a terminal marker means the job is running. An empty
// prefix means the job is unknown.
package s3tracker

// Config configures an S3 marker tracker.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials file (~/.aws/credentials)
//  4. Shared config file (~/.aws/config) with profile
//  5. EC2 instance metadata / ECS task role / EKS IRSA
//
// For S3-compatible stores (MinIO, Wasabi), set Endpoint and typically
// ForcePathStyle.
type Config struct {
	// Bucket holds the job marker prefixes (required).
	Bucket string

	// Prefix is prepended to every job prefix, e.g. "jobs/".
	Prefix string

	// Region is the AWS region. Defaults to us-east-1 for AWS S3 when not
	// resolved from the environment or profile.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
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
	return "s3 tracker config: " + e.Field + ": " + e.Message
}
