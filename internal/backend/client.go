// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package backend is the HTTP gateway to the attendance backend. It fetches
// roster snapshots and deltas for the sync engine and uploads captured
// attendance events for the offline queue.
//
// Every call goes through a circuit breaker. Uploads are additionally paced
// by a token bucket. HTTP 429 and 5xx responses are retried with exponential
// backoff, honoring Retry-After.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/zkbridge/internal/logging"
	"github.com/tomtom215/zkbridge/internal/metrics"
	"github.com/tomtom215/zkbridge/internal/models"
	"github.com/tomtom215/zkbridge/internal/validation"
)

// Endpoint labels used in metrics and errors.
const (
	EndpointSyncAll     = "sync_all"
	EndpointSyncChanged = "sync_changed"
	EndpointUpload      = "upload"
)

const maxErrorBodySize = 4096

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("backend circuit breaker is open")

	// ErrInvalidResponse is returned when the backend answers 2xx with a body
	// that is not a successful roster envelope.
	ErrInvalidResponse = errors.New("invalid backend response")
)

// HTTPError is a non-2xx backend response.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s request failed with status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// retryable reports whether the status is worth another attempt.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Config configures the gateway.
type Config struct {
	BaseURL    string
	APIKey     string
	UploadPath string
	Timeout    time.Duration

	// UploadRate limits upload calls per second; zero disables pacing.
	UploadRate  float64
	UploadBurst int

	MaxRetries     int
	RetryBaseDelay time.Duration

	Breaker BreakerConfig
}

// DefaultConfig returns the settings the bridge ships with.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:3000/api",
		UploadPath:     "/bridge/attendance",
		Timeout:        60 * time.Second,
		UploadRate:     10,
		UploadBurst:    5,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Delta is the result of a changed-since roster query.
type Delta struct {
	Users []models.UserRecord
	Count int
	Since string
}

// rosterEnvelope is the backend's roster response. The user list has been
// published under three different keys.
type rosterEnvelope struct {
	Success  *bool               `json:"success"`
	Users    []models.UserRecord `json:"users"`
	Usuarios []models.UserRecord `json:"usuarios"`
	Alumnos  []models.UserRecord `json:"alumnos"`
	Count    int                 `json:"count"`
	Since    string              `json:"since"`
}

func (e *rosterEnvelope) users() []models.UserRecord {
	switch {
	case e.Users != nil:
		return e.Users
	case e.Usuarios != nil:
		return e.Usuarios
	default:
		return e.Alumnos
	}
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL        string
	apiKey         string
	uploadPath     string
	http           *http.Client
	limiter        *rate.Limiter
	breaker        *circuitBreaker
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	uploadPath := cfg.UploadPath
	if uploadPath != "" && !strings.HasPrefix(uploadPath, "/") {
		uploadPath = "/" + uploadPath
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.UploadRate > 0 {
		burst := cfg.UploadBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.UploadRate), burst)
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		uploadPath:     uploadPath,
		http:           &http.Client{Timeout: cfg.Timeout},
		limiter:        limiter,
		breaker:        newCircuitBreaker("backend", cfg.Breaker),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
	}, nil
}

// BreakerState returns the breaker state name (closed, half-open, open).
func (c *Client) BreakerState() string {
	return stateToString(c.breaker.cb.State())
}

// FetchAllUsers returns the complete roster snapshot.
func (c *Client) FetchAllUsers(ctx context.Context) ([]models.UserRecord, error) {
	env, err := c.fetchRoster(ctx, EndpointSyncAll, http.MethodPost, c.baseURL+"/bridge/sync/all", false)
	if err != nil {
		return nil, err
	}
	return env.users(), nil
}

// FetchChangedUsers returns users modified since the given day (YYYY-MM-DD).
func (c *Client) FetchChangedUsers(ctx context.Context, since string) (Delta, error) {
	if !validation.IsSinceDate(since) {
		return Delta{}, fmt.Errorf("invalid since date %q: want %s", since, validation.SinceDateLayout)
	}
	q := url.Values{}
	q.Set("updated_since", since)
	env, err := c.fetchRoster(ctx, EndpointSyncChanged, http.MethodGet, c.baseURL+"/bridge/sync?"+q.Encode(), true)
	if err != nil {
		return Delta{}, err
	}
	users := env.users()
	d := Delta{Users: users, Count: env.Count, Since: env.Since}
	if d.Since == "" {
		d.Since = since
	}
	if d.Count == 0 {
		d.Count = len(users)
	}
	return d, nil
}

func (c *Client) fetchRoster(ctx context.Context, endpoint, method, reqURL string, requireSuccess bool) (*rosterEnvelope, error) {
	body, err := execute(c.breaker, func() ([]byte, error) {
		return c.do(ctx, endpoint, method, reqURL, nil)
	})
	if err != nil {
		return nil, err
	}

	var env rosterEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidResponse, endpoint, err)
	}
	if env.Success != nil && !*env.Success {
		return nil, fmt.Errorf("%w: %s reported success=false", ErrInvalidResponse, endpoint)
	}
	if requireSuccess && env.Success == nil {
		return nil, fmt.Errorf("%w: %s response has no success flag", ErrInvalidResponse, endpoint)
	}
	return &env, nil
}

// UploadEvent posts one attendance event. Any non-2xx response is an error
// and the caller keeps the event queued.
func (c *Client) UploadEvent(ctx context.Context, event models.AttendanceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("upload rate limiter: %w", err)
	}
	_, err = execute(c.breaker, func() ([]byte, error) {
		return c.do(ctx, EndpointUpload, http.MethodPost, c.baseURL+c.uploadPath, payload)
	})
	return err
}

// do performs one logical request, retrying 429 and 5xx responses. It returns
// the body of the first 2xx response.
func (c *Client) do(ctx context.Context, endpoint, method, reqURL string, payload []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		body, retryAfter, err := c.once(ctx, endpoint, method, reqURL, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || !retryable(httpErr.StatusCode) || attempt == c.maxRetries {
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter > 0 {
			delay = retryAfter
		}
		logging.Debug().
			Str("endpoint", endpoint).
			Int("status", httpErr.StatusCode).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying backend request")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func (c *Client) once(ctx context.Context, endpoint, method, reqURL string, payload []byte) ([]byte, time.Duration, error) {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordBackendRequest(endpoint, "error", time.Since(start))
		return nil, 0, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.RecordBackendRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), &HTTPError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(readBodyForError(resp.Body))),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return body, 0, nil
}

// readBodyForError reads at most maxErrorBodySize bytes for error messages.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("... (truncated)")...)
	}
	return body
}

// parseRetryAfter understands the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
