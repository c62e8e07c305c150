// Package remote is the client for the vendor's asynchronous watermark
// removal API.
//
// Each call carries its own hard timeout. A call that times out, hits a
// 5xx or returns an unreadable body fails with a *TransientError; a call
// the vendor definitively rejects fails with a *PermanentError. If the
// caller's context is done the context error is returned as is.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/unmark"
)

const maxBody = 1 << 20

// JobStatus is a snapshot of a vendor job.
type JobStatus struct {
	State    int
	Progress int
	FileURL  string
}

// Done reports whether the vendor finished the job successfully.
func (s *JobStatus) Done() bool {
	return s.State == StateDone && s.Progress == 100
}

// Failed reports whether the vendor gave up on the job.
func (s *JobStatus) Failed() bool { return s.State < 0 }

// Client talks to the vendor API.
type Client struct {
	base      string
	apiKey    string
	http      *http.Client
	timeout   time.Duration
	limiter   *rate.Limiter
	userAgent string
}

// New creates a vendor client. Both baseURL and apiKey are required.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("%w: vendor base url and api key are required", unmark.ErrMissingConfig)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: vendor base url: %v", unmark.ErrMissingConfig, err)
	}
	c := &Client{
		base:      strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		http:      http.DefaultClient,
		timeout:   DefaultTimeout,
		userAgent: "unmark/1",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type createData struct {
	TaskID string `json:"task_id"`
}

type pollData struct {
	State    int    `json:"state"`
	Progress int    `json:"progress"`
	File     string `json:"file,omitempty"`
}

// CreateJob submits originalURL for asynchronous processing and returns
// the vendor's task id.
func (c *Client) CreateJob(ctx context.Context, originalURL string) (string, error) {
	body, err := json.Marshal(map[string]any{"url": originalURL, "sync": 0})
	if err != nil {
		return "", fmt.Errorf("remote create: encode: %w", err)
	}

	env, err := c.do(ctx, "create", http.MethodPost, c.base+"/watermark-remove", body)
	if err != nil {
		return "", err
	}

	var d createData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return "", &TransientError{Op: "create", Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	if d.TaskID == "" {
		return "", &PermanentError{Op: "create", Reason: "未返回任务ID"}
	}
	return d.TaskID, nil
}

// PollJob fetches the current state of a vendor job. A negative state is
// returned as a *PermanentError carrying the mapped reason.
func (c *Client) PollJob(ctx context.Context, remoteID string) (*JobStatus, error) {
	env, err := c.do(ctx, "poll", http.MethodGet, c.base+"/watermark-remove/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return nil, err
	}

	var d pollData
	if len(env.Data) == 0 {
		return nil, &TransientError{Op: "poll", Err: errors.New("empty data")}
	}
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, &TransientError{Op: "poll", Err: fmt.Errorf("decode data: %w", err)}
	}

	st := &JobStatus{State: d.State, Progress: d.Progress, FileURL: d.File}
	if st.Failed() {
		return st, &PermanentError{Op: "poll", State: d.State, Reason: StateReason(d.State)}
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte) (*envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, rdr)
	if err != nil {
		return nil, fmt.Errorf("remote %s: build request: %w", op, err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("malformed response (http %d): %s", resp.StatusCode, snippet(raw))}
	}
	if resp.StatusCode >= 400 || env.Status != http.StatusOK {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("状态码 %d", env.Status)
		}
		return nil, &PermanentError{Op: op, Reason: msg}
	}
	return &env, nil
}

func snippet(b []byte) string {
	const n = 120
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
