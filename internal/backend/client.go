// Package backend starts analysis runs on the hedge fund pipeline service and
// hands back the progress event stream.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// DefaultRunPath is the pipeline endpoint that starts a streamed run.
const DefaultRunPath = "/hedge-fund/run"

// DefaultConnectTimeout bounds connection setup and response headers. The
// body itself is a long-lived stream and has no deadline.
const DefaultConnectTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 8 * 1024

// RunRequest is the body sent to start a run.
type RunRequest struct {
	Tickers       []string   `json:"tickers" validate:"required,min=1,dive,required"`
	Mode          steps.Mode `json:"mode" validate:"required,oneof=signal research pre-research post-research full"`
	ExecuteTrades bool       `json:"execute_trades"`
	DryRun        bool       `json:"dry_run"`
	StartDate     string     `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate       string     `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ModelName     string     `json:"model_name,omitempty"`
}

// Validate validates the RunRequest using the validator.
func (r *RunRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Error represents a failure starting a run.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("backend error for %s: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("backend error for %s: %s: %v", e.URL, e.Message, e.Cause)
	default:
		return fmt.Sprintf("backend error for %s: %s", e.URL, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the client.
type Options struct {
	RunPath        string
	ConnectTimeout time.Duration
	Headers        map[string]string
	HTTPClient     *http.Client
}

// Client talks to the pipeline backend.
type Client struct {
	baseURL string
	runPath string
	headers map[string]string
	http    *http.Client
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts *Options) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{URL: baseURL, Message: "invalid backend URL", Cause: err}
	}
	if opts == nil {
		opts = &Options{}
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		runPath: opts.RunPath,
		headers: opts.Headers,
		http:    opts.HTTPClient,
	}
	if c.runPath == "" {
		c.runPath = DefaultRunPath
	}
	if c.http == nil {
		timeout := opts.ConnectTimeout
		if timeout == 0 {
			timeout = DefaultConnectTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		c.http = &http.Client{Transport: transport}
	}
	return c, nil
}

// RunURL returns the full URL used to start runs.
func (c *Client) RunURL() string {
	return c.baseURL + "/" + strings.TrimLeft(c.runPath, "/")
}

// StartRun posts the run request and returns the event stream. The caller
// must close it. Cancelling ctx aborts the stream.
func (c *Client) StartRun(ctx context.Context, req RunRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run request: %w", err)
	}

	runURL := c.RunURL()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{URL: runURL, Message: "failed to encode request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, runURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{URL: runURL, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{URL: runURL, Message: "HTTP request failed", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		return nil, &Error{URL: runURL, StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}

	return resp.Body, nil
}

// errorMessage extracts the most useful message from a failed response.
func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		switch {
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		case body.Detail != nil:
			if s, ok := body.Detail.(string); ok {
				return s
			}
			if b, err := json.Marshal(body.Detail); err == nil {
				return string(b)
			}
		}
	}

	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
