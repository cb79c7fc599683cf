package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"lanerunner/pkg/logx"
)

// Router dispatches to one Client per lane id. Apply replaces clients whose
// settings changed and keeps the rest, so breaker state survives reloads.
type Router struct {
	mu      sync.RWMutex
	clients map[string]*Client
	http    *http.Client
	log     logx.Logger
}

func NewRouter(hc *http.Client, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{clients: map[string]*Client{}, http: hc, log: log}
}

// Apply installs the given lane configs, keyed by ClientConfig.Lane.
func (r *Router) Apply(cfgs []ClientConfig) {
	next := make(map[string]*Client, len(cfgs))
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range cfgs {
		if cfg.URL == "" {
			continue
		}
		if old, ok := r.clients[cfg.Lane]; ok && old.cfg == cfg {
			next[cfg.Lane] = old
			continue
		}
		next[cfg.Lane] = NewClient(cfg, r.http, r.log)
	}
	r.clients = next
}

func (r *Router) Client(lane string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[lane]
	return c, ok
}

func (r *Router) Process(ctx context.Context, lane, target string) (Result, error) {
	c, ok := r.Client(lane)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", lane, ErrNoWorker)
	}
	return c.Process(ctx, lane, target)
}
