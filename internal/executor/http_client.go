package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storyboard/internal/domain"
)

// Options configures the HTTP executor client. Base URLs are injected per
// family so tests can substitute fakes.
type Options struct {
	BaseURLs        map[domain.JobFamily]string
	DispatchTimeout time.Duration
	HTTPClient      *http.Client
	Logger          zerolog.Logger
}

// HTTPClient talks to the family workers over HTTP.
type HTTPClient struct {
	baseURLs        map[domain.JobFamily]string
	dispatchTimeout time.Duration
	client          *http.Client
	logger          zerolog.Logger
}

// NewHTTPClient constructs an executor client from explicit options.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if len(opts.BaseURLs) == 0 {
		return nil, fmt.Errorf("executor: at least one worker base url is required")
	}
	urls := make(map[domain.JobFamily]string, len(opts.BaseURLs))
	for family, raw := range opts.BaseURLs {
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("executor: invalid %s worker url: %w", family, err)
		}
		urls[family] = strings.TrimRight(raw, "/")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURLs:        urls,
		dispatchTimeout: timeout,
		client:          client,
		logger:          opts.Logger,
	}, nil
}

// Submit posts a new generation request and waits for acceptance within the
// dispatch timeout.
func (c *HTTPClient) Submit(ctx context.Context, family domain.JobFamily, req SubmitRequest) (*SubmitResponse, error) {
	base, err := c.baseURL(family)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("executor: encode submit: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s/jobs", base, family), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("executor: build submit: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executor: submit %s job: %w", family, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("executor: submit %s job: status %d", family, resp.StatusCode)
	}
	var decoded SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("executor: decode submit response: %w", err)
	}
	if decoded.ExecutorJobID == "" {
		return nil, fmt.Errorf("executor: submit response missing job id")
	}
	c.logger.Debug().
		Str("family", string(family)).
		Str("executor_job_id", decoded.ExecutorJobID).
		Msg("executor accepted job")
	return &decoded, nil
}

// Status fetches the executor's view of a job.
func (c *HTTPClient) Status(ctx context.Context, family domain.JobFamily, executorJobID string) (*StatusResponse, error) {
	base, err := c.baseURL(family)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/jobs/%s", base, family, executorJobID), nil)
	if err != nil {
		return nil, fmt.Errorf("executor: build status: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executor: poll %s job: %w", family, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor: poll %s job: status %d", family, resp.StatusCode)
	}
	var decoded StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("executor: decode status response: %w", err)
	}
	return &decoded, nil
}

// Cancel tells the executor to stop a job. Errors are returned for logging
// but callers treat cancellation as best effort.
func (c *HTTPClient) Cancel(ctx context.Context, family domain.JobFamily, executorJobID string) error {
	base, err := c.baseURL(family)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s/jobs/%s/cancel", base, family, executorJobID), nil)
	if err != nil {
		return fmt.Errorf("executor: build cancel: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("executor: cancel %s job: %w", family, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("executor: cancel %s job: status %d", family, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) baseURL(family domain.JobFamily) (string, error) {
	base, ok := c.baseURLs[family]
	if !ok {
		return "", fmt.Errorf("executor: no worker configured for family %q", family)
	}
	return base, nil
}

var _ Client = (*HTTPClient)(nil)
