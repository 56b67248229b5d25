package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryAfter = 1 * time.Second
	maxRateRetries    = 5
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrNotLoggedIn  = errors.New("no session, login first")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.URL, e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// ErrRateLimited is returned on 429 responses.
type ErrRateLimited struct {
	RetryAfter time.Duration
	Message    string
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %v)", e.Message, e.RetryAfter)
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func newHTTPClient(skipVerify bool, timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: skipVerify},
		},
		Timeout: timeout,
	}
}

// throttled calls fn until it succeeds, fails with anything other than a
// 429, or has been throttled maxRateRetries times. The server's Retry-After
// is honored between calls.
func throttled[R any](ctx context.Context, logger *slog.Logger, fn func() (R, error)) (R, error) {
	var zero R
	for wait := 1; ; wait++ {
		result, err := fn()
		var limited *ErrRateLimited
		if err == nil || !errors.As(err, &limited) || wait > maxRateRetries {
			return result, err
		}

		logger.Warn("vCD throttled request, backing off", "retry_after", limited.RetryAfter, "wait", wait, "max", maxRateRetries)
		timer := time.NewTimer(limited.RetryAfter)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("gave up waiting out rate limit: %w", ctx.Err())
		}
	}
}

func throttledErr(ctx context.Context, logger *slog.Logger, fn func() error) error {
	_, err := throttled(ctx, logger, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
