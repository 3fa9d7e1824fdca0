// Package httptracker queries a job tracker over its REST API.
//
// The tracker answers GET {base}/jobs/{id} with
//
//	{"id": "job_1", "state": "RUNNING"}
//
// and 404 for jobs it does not know.
package httptracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/3leaps/indexwarden/pkg/jobstatus"
	"github.com/3leaps/indexwarden/pkg/tracker"
)

// DefaultBurst is used when Config.Burst is unset.
const DefaultBurst = 1

const maxBodyBytes = 1 << 20

// Config configures an HTTP tracker client.
type Config struct {
	// BaseURL is the tracker root, e.g. http://tracker:19888/ws/v1 (required).
	BaseURL string

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter burst size.
	Burst int

	// Client overrides the HTTP client. Defaults to a client with a 30s timeout.
	Client *http.Client
}

// Client implements jobstatus.Tracker against a REST tracker.
type Client struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
}

var _ jobstatus.Tracker = (*Client)(nil)

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("http tracker: base_url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("http tracker: invalid base_url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("http tracker: base_url must be http or https, got %q", base.Scheme)
	}

	c := &Client{base: base, client: cfg.Client}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = DefaultBurst
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

type jobPayload struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// GetJob fetches one job. The returned job carries the state read by this
// call.
func (c *Client) GetJob(ctx context.Context, jobID string) (jobstatus.Job, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.wrap(jobID, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL(jobID), nil)
	if err != nil {
		return nil, c.wrap(jobID, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.wrap(jobID, fmt.Errorf("%w: %w", tracker.ErrTrackerUnavailable, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.wrap(jobID, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := statusError(resp.StatusCode); err != nil {
		return nil, c.wrap(jobID, err)
	}

	var payload jobPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, c.wrap(jobID, fmt.Errorf("%w: decode job: %v", tracker.ErrProtocol, err))
	}
	if payload.State == "" {
		return nil, c.wrap(jobID, fmt.Errorf("%w: job has no state", tracker.ErrProtocol))
	}
	return snapshot{state: jobstatus.TrackerState(strings.ToUpper(payload.State))}, nil
}

// jobURL escapes jobID exactly once, so ids holding '/' or spaces stay a
// single path segment.
func (c *Client) jobURL(jobID string) string {
	u := *c.base
	rawBase := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/jobs/" + jobID
	u.RawPath = rawBase + "/jobs/" + url.PathEscape(jobID)
	return u.String()
}

func (c *Client) wrap(jobID string, err error) error {
	return &tracker.TrackerError{Op: "GetJob", Tracker: tracker.KindHTTP, JobID: jobID, Err: err}
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", tracker.ErrInvalidCredentials, code)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", tracker.ErrAccessDenied, code)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", tracker.ErrThrottled, code)
	case code >= 500:
		return fmt.Errorf("%w: status %d", tracker.ErrTrackerUnavailable, code)
	default:
		return fmt.Errorf("%w: unexpected status %d", tracker.ErrProtocol, code)
	}
}

type snapshot struct {
	state jobstatus.TrackerState
}

func (s snapshot) State(ctx context.Context) (jobstatus.TrackerState, error) {
	return s.state, nil
}
