package ops

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// HealthChecker checks HTTP endpoints and TCP addresses.
type HealthChecker struct {
	client  *http.Client
	dialer  net.Dialer
	timeout time.Duration
}

// NewHealthChecker creates a checker whose WaitHealthy gives up after timeout.
// Redirects are not followed: a 302 to the login page counts as up.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialer:  net.Dialer{Timeout: 5 * time.Second},
		timeout: timeout,
	}
}

// healthyStatus reports whether an HTTP status means the service is up.
func healthyStatus(code int) bool {
	return code == http.StatusOK || code == http.StatusFound
}

// Check makes one request and returns the status code. A status other than 200 or 302
// is an error.
func (h *HealthChecker) Check(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("health check %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if !healthyStatus(resp.StatusCode) {
		return resp.StatusCode, fmt.Errorf("health check %s: unhealthy status %d", url, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// WaitHealthy polls url with exponential backoff until it is healthy, ctx ends or the
// health timeout elapses.
func (h *HealthChecker) WaitHealthy(ctx context.Context, url string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = h.timeout

	return backoff.RetryNotify(func() error {
		_, err := h.Check(ctx, url)
		return err
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		slog.Info("waiting for service to become healthy", "url", url, "error", err, "retry_in", next.String())
	})
}

// Dial checks that addr accepts TCP connections.
func (h *HealthChecker) Dial(ctx context.Context, addr string) error {
	conn, err := h.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("database dial %s: %w", addr, err)
	}
	return conn.Close()
}
