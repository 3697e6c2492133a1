package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/garnizeh/techsync/internal/config"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Client is a narrow wrapper over the remote ticketing API. It owns the retry
// policy: callers only ever see the final outcome of a call.
type Client struct {
	cfg     config.RemoteConfig
	base    string
	client  *http.Client
	limiter *rate.Limiter

	closed int32 // atomic flag for Close()
}

// NewClient creates a client. Everything it needs (base URL, bearer token,
// privacy mode, retry limits) comes from cfg.
func NewClient(cfg config.RemoteConfig, httpClient *http.Client) (*Client, error) {
	cfg.ApplyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}
	switch cfg.PrivacyMode {
	case config.PrivacyModeAuto, config.PrivacyModeStrict, config.PrivacyModeOpen:
	default:
		return nil, fmt.Errorf("invalid privacy mode %q", cfg.PrivacyMode)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		cfg:     cfg,
		base:    strings.TrimRight(u.String(), "/"),
		client:  httpClient,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
	logger.Info("remote: NewClient created",
		slog.String("base_url", c.base),
		slog.String("privacy_mode", cfg.PrivacyMode),
		slog.Int("max_attempts", cfg.MaxAttempts),
		slog.Duration("timeout", cfg.Timeout))
	return c, nil
}

func NewDefaultClient(cfg config.RemoteConfig) (*Client, error) {
	defaultClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return NewClient(cfg, defaultClient)
}

// Close releases idle connections on the underlying transport. Close is
// idempotent and safe to call multiple times.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.client != nil && c.client.Transport != nil {
		if tr, ok := c.client.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
			logger.Info("remote: client Close() called - CloseIdleConnections invoked")
		}
	}
	return nil
}

// package-level logger for pkg/remote; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/remote. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// call performs one logical operation with retries. It returns the number of
// attempts made and, on failure, a *RemoteError describing the last attempt.
func (c *Client) call(ctx context.Context, op, method, path string, in, out any) (int, int, error) {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, 0, &RemoteError{Op: op, Kind: KindInvalid, Err: fmt.Errorf("encode request: %w", err)}
		}
		payload = b
	}

	var last *RemoteError
	var retryAfter time.Duration
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt-1, retryAfter)
			logger.Warn("remote: retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", c.cfg.MaxAttempts),
				slog.String("kind", string(last.Kind)),
				slog.Duration("wait", delay))
			if err := sleep(ctx, delay); err != nil {
				return 0, attempt - 1, last
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			rerr := transportError(err, ctx, ctx)
			rerr.Op, rerr.Attempts = op, attempt-1
			if last != nil {
				last.Attempts = attempt - 1
				return 0, attempt - 1, last
			}
			return 0, 0, rerr
		}

		status, hdr, rerr := c.attempt(ctx, method, path, payload, out)
		if rerr == nil {
			return status, attempt, nil
		}
		rerr.Op, rerr.Attempts = op, attempt
		last = rerr
		if !rerr.Retryable || ctx.Err() != nil {
			return 0, attempt, last
		}
		retryAfter = parseRetryAfter(hdr)
	}
	return 0, c.cfg.MaxAttempts, last
}

// attempt runs a single HTTP exchange under the per-call timeout.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) (int, http.Header, *RemoteError) {
	ctxReq, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctxReq, method, c.base+path, body)
	if err != nil {
		return 0, nil, &RemoteError{Kind: KindInvalid, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, transportError(err, ctxReq, ctx)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, resp.Header, statusError(resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return resp.StatusCode, resp.Header, nil
		}
		if ctxReq.Err() != nil {
			return resp.StatusCode, resp.Header, transportError(err, ctxReq, ctx)
		}
		return resp.StatusCode, resp.Header, &RemoteError{Kind: KindDecode, StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, resp.Header, nil
}

// backoff returns the wait before retry n (1-based): exponential from
// cfg.Backoff, capped at cfg.MaxBackoff, with jitter over the upper half.
// A Retry-After hint replaces the computed delay, still capped.
func (c *Client) backoff(n int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, c.cfg.MaxBackoff)
	}
	d := c.cfg.Backoff << (n - 1)
	if d <= 0 || d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
