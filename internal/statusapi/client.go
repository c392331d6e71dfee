package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/park285/Cheese-remote-engine/internal/domain"
	"github.com/valyala/fasthttp"
)

var ErrStatus = errors.New("status api error")

// Client reads the status API of a running remote-engine.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial replaces the TCP dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 5 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/healthz", nil)
}

func (c *Client) Systems(ctx context.Context) (*SystemsResponse, error) {
	var out SystemsResponse
	if err := c.getJSON(ctx, "/systems", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Rounds(ctx context.Context, gameID string, limit int) ([]domain.RoundTrip, error) {
	path := "/games/" + strings.TrimSpace(gameID) + "/rounds"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.RoundTrip
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)

	attempts := max(c.retryMax, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("%w: request %s: %w", ErrStatus, path, err)
		} else if code := resp.StatusCode(); code >= 500 {
			lastErr = fmt.Errorf("%w: status=%d path=%s", ErrStatus, code, path)
		} else if code < 200 || code >= 300 {
			return fmt.Errorf("%w: status=%d path=%s body=%s", ErrStatus, code, path, truncate(string(resp.Body()), 256))
		} else {
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("%w: decode %s: %w", ErrStatus, path, err)
				}
			}
			return nil
		}
		if attempt < attempts {
			if err := sleepWithContext(ctx, backoff(attempt)); err != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff doubles from 100ms, capped at 3.2s.
func backoff(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
