package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/draftdeck/draftdeck/internal/config"
	"go.uber.org/zap"
)

// WorkerClient is the HTTP client for the external AI worker service. Each
// logical call retries transient failures internally with exponential backoff;
// callers never see an intermediate attempt fail.
type WorkerClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger

	maxRetries     int
	defaultTimeout time.Duration
	healthTimeout  time.Duration
	retryBaseDelay time.Duration

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewWorkerClient creates a new WorkerClient.
func NewWorkerClient(cfg *config.Config, log *zap.Logger) *WorkerClient {
	return &WorkerClient{
		BaseURL:        strings.TrimRight(cfg.Worker.BaseURL, "/"),
		HTTPClient:     &http.Client{},
		Logger:         log,
		maxRetries:     cfg.Worker.MaxRetries,
		defaultTimeout: time.Duration(cfg.Worker.TimeoutMs) * time.Millisecond,
		healthTimeout:  time.Duration(cfg.Worker.HealthTimeoutMs) * time.Millisecond,
		retryBaseDelay: time.Duration(cfg.Worker.RetryBaseDelayMs) * time.Millisecond,
		sleep:          time.Sleep,
	}
}

// envelope is the {success, data, error} wrapper every non-binary worker
// response uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// BinaryResult is a successful non-JSON worker response.
type BinaryResult struct {
	Bytes       []byte
	ContentType string
	// FileName is parsed from Content-Disposition when present, else empty;
	// callers supply their own default.
	FileName string
}

// HealthStatus is the result of a worker health probe.
type HealthStatus struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Request performs a JSON call against the worker and unmarshals the
// envelope's data field into out (when out is non-nil). A zero timeout uses
// the configured default.
func (c *WorkerClient) Request(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	var mkBody func() (io.Reader, error)
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		mkBody = func() (io.Reader, error) { return bytes.NewReader(raw), nil }
	}

	resp, err := c.doWithRetry(ctx, method, path, mkBody, "application/json", timeout)
	if err != nil {
		return err
	}
	if out != nil && len(resp.data) > 0 {
		if err := sonic.Unmarshal(resp.data, out); err != nil {
			return fmt.Errorf("unmarshal response data: %w", err)
		}
	}
	return nil
}

// BinaryRequest performs a POST whose successful response must be a non-JSON
// content type (generated image or exported document bytes). A JSON envelope
// here is always an error, even a successful one.
func (c *WorkerClient) BinaryRequest(ctx context.Context, path string, body any, timeout time.Duration) (*BinaryResult, error) {
	var mkBody func() (io.Reader, error)
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		mkBody = func() (io.Reader, error) { return bytes.NewReader(raw), nil }
	}

	resp, err := c.doWithRetryBinary(ctx, http.MethodPost, path, mkBody, "application/json", timeout)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// MultipartRequest performs a multipart upload (reference file parsing) and
// unmarshals the envelope's data field into out. The multipart body is built
// once and replayed across retry attempts.
func (c *WorkerClient) MultipartRequest(ctx context.Context, path string, fields map[string]string, fileField, fileName string, file []byte, out any, timeout time.Duration) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write multipart field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return fmt.Errorf("create multipart file: %w", err)
	}
	if _, err := fw.Write(file); err != nil {
		return fmt.Errorf("write multipart file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	raw := buf.Bytes()
	mkBody := func() (io.Reader, error) { return bytes.NewReader(raw), nil }

	resp, err := c.doWithRetry(ctx, http.MethodPost, path, mkBody, mw.FormDataContentType(), timeout)
	if err != nil {
		return err
	}
	if out != nil && len(resp.data) > 0 {
		if err := sonic.Unmarshal(resp.data, out); err != nil {
			return fmt.Errorf("unmarshal response data: %w", err)
		}
	}
	return nil
}

// CheckHealth probes the worker's status endpoint with a reduced timeout.
// It never returns an error; failures are reported in the result.
func (c *WorkerClient) CheckHealth(ctx context.Context) HealthStatus {
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, LatencyMs: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	st := HealthStatus{LatencyMs: time.Since(start).Milliseconds()}
	if resp.StatusCode != http.StatusOK {
		st.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return st
	}
	st.Healthy = true
	return st
}

type jsonResult struct {
	data json.RawMessage
}

// attemptResult carries one attempt's outcome through classification.
type attemptResult struct {
	status      int
	contentType string
	disposition string
	body        []byte
}

// doAttempt performs a single HTTP attempt with its own deadline.
func (c *WorkerClient) doAttempt(ctx context.Context, method, path string, mkBody func() (io.Reader, error), contentType string, timeout time.Duration) (*attemptResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if mkBody != nil {
		var err error
		body, err = mkBody()
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &attemptResult{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		disposition: resp.Header.Get("Content-Disposition"),
		body:        raw,
	}, nil
}

// retryable wraps a transient attempt failure so the retry loop can carry its
// cause into the final unavailable error.
type retryableError struct {
	cause   string
	timeout bool
}

func (e *retryableError) Error() string { return e.cause }

// runRetries drives the shared attempt/classify/backoff loop. classify turns
// one attempt's response into either a final value, a *WorkerError (terminal),
// or a *retryableError.
func (c *WorkerClient) runRetries(ctx context.Context, method, path string, mkBody func() (io.Reader, error), contentType string, timeout time.Duration, classify func(*attemptResult) (any, error)) (any, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	attempts := c.maxRetries + 1

	var last *retryableError
	for i := 0; i < attempts; i++ {
		if i > 0 {
			// base * 2^(n-1) for the n-th retry
			delay := c.retryBaseDelay * time.Duration(1<<(i-1))
			c.Logger.Sugar().Debugw("retrying worker request",
				"path", path, "attempt", i+1, "delay", delay.String())
			c.sleep(delay)
		}

		res, err := c.doAttempt(ctx, method, path, mkBody, contentType, timeout)
		if err != nil {
			last = &retryableError{cause: err.Error(), timeout: errors.Is(err, context.DeadlineExceeded)}
			continue
		}

		// 4xx is a client error and never retried.
		if res.status >= 400 && res.status < 500 {
			return nil, &WorkerError{
				Message:    fmt.Sprintf("worker rejected request to %s", path),
				StatusCode: res.status,
				Detail:     string(res.body),
			}
		}
		if res.status >= 500 {
			last = &retryableError{cause: fmt.Sprintf("status %d: %s", res.status, truncate(string(res.body), 200))}
			continue
		}

		out, err := classify(res)
		if err != nil {
			var re *retryableError
			if errors.As(err, &re) {
				last = re
				continue
			}
			return nil, err
		}
		return out, nil
	}

	cause := "unknown"
	timedOut := false
	if last != nil {
		cause = last.cause
		timedOut = last.timeout
	}
	c.Logger.Sugar().Errorw("worker request exhausted retries",
		"path", path, "attempts", attempts, "cause", cause, "timeout", timedOut)
	return nil, newUnavailable(attempts, timedOut, cause)
}

func (c *WorkerClient) doWithRetry(ctx context.Context, method, path string, mkBody func() (io.Reader, error), contentType string, timeout time.Duration) (*jsonResult, error) {
	out, err := c.runRetries(ctx, method, path, mkBody, contentType, timeout, func(res *attemptResult) (any, error) {
		var env envelope
		if err := sonic.Unmarshal(res.body, &env); err != nil {
			return nil, &retryableError{cause: fmt.Sprintf("malformed envelope: %v", err)}
		}
		if !env.Success {
			return nil, &retryableError{cause: fmt.Sprintf("worker reported failure: %s", env.Error)}
		}
		return &jsonResult{data: env.Data}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*jsonResult), nil
}

func (c *WorkerClient) doWithRetryBinary(ctx context.Context, method, path string, mkBody func() (io.Reader, error), contentType string, timeout time.Duration) (*BinaryResult, error) {
	out, err := c.runRetries(ctx, method, path, mkBody, contentType, timeout, func(res *attemptResult) (any, error) {
		if isJSONContentType(res.contentType) {
			// Binary was expected; a JSON envelope is an error either way.
			var env envelope
			if err := sonic.Unmarshal(res.body, &env); err != nil {
				return nil, &retryableError{cause: fmt.Sprintf("malformed envelope: %v", err)}
			}
			if !env.Success {
				return nil, &retryableError{cause: fmt.Sprintf("worker reported failure: %s", env.Error)}
			}
			return nil, &retryableError{cause: "expected binary response, got JSON envelope"}
		}
		return &BinaryResult{
			Bytes:       res.body,
			ContentType: res.contentType,
			FileName:    fileNameFromDisposition(res.disposition),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*BinaryResult), nil
}

func isJSONContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func fileNameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
