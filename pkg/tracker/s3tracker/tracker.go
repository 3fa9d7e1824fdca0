package s3tracker

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/indexwarden/pkg/jobstatus"
	"github.com/3leaps/indexwarden/pkg/tracker"
)

// Marker object names.
const (
	MarkerQueued  = "_QUEUED"
	MarkerSuccess = "_SUCCESS"
	MarkerFailed  = "_FAILED"
	MarkerKilled  = "_KILLED"
)

// ErrBucketNotFound indicates the configured bucket does not exist.
var ErrBucketNotFound = errors.New("bucket not found")

// ListAPI is the subset of the S3 client the tracker uses.
type ListAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Tracker implements jobstatus.Tracker over S3 marker objects.
type Tracker struct {
	client ListAPI
	bucket string
	prefix string
}

var _ jobstatus.Tracker = (*Tracker)(nil)

// New creates a tracker using the AWS SDK v2 default credential chain unless
// explicit credentials are configured.
func New(ctx context.Context, cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &tracker.TrackerError{Op: "New", Tracker: tracker.KindS3, Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient builds a tracker around an existing client.
func NewWithClient(client ListAPI, bucket, prefix string) *Tracker {
	return &Tracker{client: client, bucket: bucket, prefix: prefix}
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if set; let the SDK resolve env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// resolveRegion defaults to us-east-1 for AWS S3 when the SDK resolved no
// region. S3-compatible endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}

// JobPrefix returns the key prefix owned by jobID.
func (t *Tracker) JobPrefix(jobID string) string {
	return t.prefix + jobID + "/"
}

// GetJob lists the job prefix and derives the job state from its markers.
func (t *Tracker) GetJob(ctx context.Context, jobID string) (jobstatus.Job, error) {
	prefix := t.JobPrefix(jobID)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(prefix),
	}

	markers := make(map[string]bool)
	objects := 0
	for {
		output, err := t.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, t.wrapError(jobID, err)
		}
		for _, obj := range output.Contents {
			objects++
			markers[path.Base(aws.ToString(obj.Key))] = true
		}
		if !aws.ToBool(output.IsTruncated) || output.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}

	if objects == 0 {
		return nil, nil
	}
	return markerJob{state: stateFromMarkers(markers, objects)}, nil
}

func stateFromMarkers(markers map[string]bool, objects int) jobstatus.TrackerState {
	switch {
	case markers[MarkerKilled]:
		return jobstatus.TrackerKilled
	case markers[MarkerFailed]:
		return jobstatus.TrackerFailed
	case markers[MarkerSuccess]:
		return jobstatus.TrackerSucceeded
	case markers[MarkerQueued] && objects == 1:
		return jobstatus.TrackerPrep
	default:
		return jobstatus.TrackerRunning
	}
}

type markerJob struct {
	state jobstatus.TrackerState
}

func (j markerJob) State(ctx context.Context) (jobstatus.TrackerState, error) {
	return j.state, nil
}

// wrapError converts S3 errors to tracker errors with appropriate sentinel errors.
func (t *Tracker) wrapError(jobID string, err error) error {
	wrapped := &tracker.TrackerError{
		Op:      "GetJob",
		Tracker: tracker.KindS3,
		JobID:   jobID,
		Err:     err,
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Err = ErrBucketNotFound
		return wrapped
	}

	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			wrapped.Err = ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = tracker.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = tracker.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = tracker.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = tracker.ErrTrackerUnavailable
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchBucket"):
		wrapped.Err = ErrBucketNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = tracker.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = tracker.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Err = tracker.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = tracker.ErrTrackerUnavailable
	}

	return wrapped
}
