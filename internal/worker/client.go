package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"lanerunner/pkg/logx"
)

const maxResponseBytes = 64 << 10

type ClientConfig struct {
	Lane    string
	URL     string
	Token   string
	Timeout time.Duration

	// BreakerMaxFailures consecutive transport failures open the circuit
	// for BreakerOpenTimeout. A negative value disables the breaker.
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration
}

// Client posts {"lane","target"} to a Worker URL and decodes its outcome.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	cb   *gobreaker.CircuitBreaker
	log  logx.Logger
}

type request struct {
	Lane   string `json:"lane"`
	Target string `json:"target"`
}

type response struct {
	Outcome      Outcome `json:"outcome"`
	RetryAfterMS int64   `json:"retry_after_ms,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

func NewClient(cfg ClientConfig, hc *http.Client, log logx.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{cfg: cfg, http: hc, log: log.With(logx.Lane(cfg.Lane))}
	if cfg.BreakerMaxFailures >= 0 {
		trip := uint32(max(cfg.BreakerMaxFailures, 1))
		c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "worker:" + cfg.Lane,
			MaxRequests: 1,
			Timeout:     cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trip
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.log.Warn("worker circuit state changed", logx.String("from", from.String()), logx.String("to", to.String()))
			},
		})
	}
	return c
}

// State returns the breaker state ("closed", "open", "half-open"), or
// "disabled".
func (c *Client) State() string {
	if c.cb == nil {
		return "disabled"
	}
	return c.cb.State().String()
}

func (c *Client) Process(ctx context.Context, lane, target string) (Result, error) {
	if c.cb == nil {
		return c.do(ctx, lane, target)
	}
	v, err := c.cb.Execute(func() (any, error) {
		return c.do(ctx, lane, target)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{Outcome: RateLimited, RetryAfter: c.cfg.BreakerOpenTimeout, Reason: "worker circuit open"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// do performs one call. Only transport problems are returned as errors so
// they count against the breaker; domain outcomes are results.
func (c *Client) do(ctx context.Context, lane, target string) (Result, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(request{Lane: lane, Target: target})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("worker call: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("worker read: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return Result{}, ErrNotReady
	case resp.StatusCode == http.StatusTooManyRequests:
		res := Result{Outcome: RateLimited, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), Reason: "http 429"}
		var r response
		if json.Unmarshal(raw, &r) == nil && r.RetryAfterMS > 0 {
			res.RetryAfter = time.Duration(r.RetryAfterMS) * time.Millisecond
		}
		return res, nil
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("worker returned status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{Outcome: Failure, Reason: fmt.Sprintf("http %d", resp.StatusCode)}, nil
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{Outcome: Failure, Reason: "invalid worker response"}, nil
	}
	if !r.Outcome.Valid() {
		return Result{Outcome: Failure, Reason: fmt.Sprintf("unknown outcome %q", r.Outcome)}, nil
	}
	return Result{
		Outcome:    r.Outcome,
		RetryAfter: time.Duration(r.RetryAfterMS) * time.Millisecond,
		Reason:     r.Reason,
	}, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}
