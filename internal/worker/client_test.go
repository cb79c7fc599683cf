package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"lanerunner/pkg/logx"
)

func TestClientOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    Result
		wantErr error
	}{
		{
			name: "success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"outcome":"success"}`))
			},
			want: Result{Outcome: Success},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"outcome":"not_found","reason":"gone"}`))
			},
			want: Result{Outcome: NotFound, Reason: "gone"},
		},
		{
			name: "rate limited body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"outcome":"rate_limited","retry_after_ms":60000}`))
			},
			want: Result{Outcome: RateLimited, RetryAfter: time.Minute},
		},
		{
			name: "http 429 with retry-after",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "90")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			want: Result{Outcome: RateLimited, RetryAfter: 90 * time.Second, Reason: "http 429"},
		},
		{
			name: "not ready",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantErr: ErrNotReady,
		},
		{
			name: "client error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			want: Result{Outcome: Failure, Reason: "http 400"},
		},
		{
			name: "unknown outcome",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"outcome":"maybe"}`))
			},
			want: Result{Outcome: Failure, Reason: `unknown outcome "maybe"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(ClientConfig{Lane: "a", URL: srv.URL, Timeout: time.Second, BreakerMaxFailures: -1}, srv.Client(), logx.Nop())
			got, err := c.Process(context.Background(), "a", "t1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClientSendsRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Lane != "a" || req.Target != "t1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"outcome":"success"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Lane: "a", URL: srv.URL, Token: "secret"}, srv.Client(), logx.Nop())
	got, err := c.Process(context.Background(), "a", "t1")
	if err != nil || got.Outcome != Success {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestClientTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{Lane: "a", URL: srv.URL, Timeout: 50 * time.Millisecond, BreakerMaxFailures: -1}, srv.Client(), logx.Nop())
	if _, err := c.Process(context.Background(), "a", "t1"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestBreakerOpensAsRateLimited(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		Lane:               "a",
		URL:                srv.URL,
		BreakerMaxFailures: 2,
		BreakerOpenTimeout: time.Minute,
	}, srv.Client(), logx.Nop())

	for i := 0; i < 2; i++ {
		if _, err := c.Process(context.Background(), "a", "t"); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if c.State() != "open" {
		t.Fatalf("state = %s, want open", c.State())
	}
	got, err := c.Process(context.Background(), "a", "t")
	if err != nil {
		t.Fatal(err)
	}
	if got.Outcome != RateLimited || got.RetryAfter != time.Minute {
		t.Fatalf("got %+v", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("open circuit still called the worker: %d calls", calls.Load())
	}
}

func TestRouter(t *testing.T) {
	t.Parallel()

	r := NewRouter(nil, logx.Nop())
	r.Apply([]ClientConfig{{Lane: "a", URL: "http://127.0.0.1:1"}, {Lane: "b"}})
	a1, ok := r.Client("a")
	if !ok {
		t.Fatal("lane a missing")
	}
	if _, ok := r.Client("b"); ok {
		t.Fatal("lane without url should have no client")
	}
	if _, err := r.Process(context.Background(), "zzz", "t"); !errors.Is(err, ErrNoWorker) {
		t.Fatalf("err = %v", err)
	}

	r.Apply([]ClientConfig{{Lane: "a", URL: "http://127.0.0.1:1"}})
	if a2, _ := r.Client("a"); a2 != a1 {
		t.Fatal("unchanged config should keep the client")
	}
	r.Apply([]ClientConfig{{Lane: "a", URL: "http://127.0.0.1:2"}})
	if a3, _ := r.Client("a"); a3 == a1 {
		t.Fatal("changed config should replace the client")
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := map[string]time.Duration{
		"":                              0,
		"30":                            30 * time.Second,
		"-5":                            0,
		"soon":                          0,
		"Mon, 01 Jan 2024 00:02:00 GMT": 2 * time.Minute,
	}
	for in, want := range tests {
		if got := parseRetryAfter(in, now); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}
