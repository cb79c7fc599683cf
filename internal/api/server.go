// Package api is the HTTP control surface: JSON lane endpoints and a
// websocket progress stream.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"lanerunner/internal/eventbus"
	"lanerunner/internal/orchestrator"
	"lanerunner/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8088"

type Config struct {
	Enabled     bool
	Addr        string
	Token       string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

// Controller is the orchestrator surface exposed over HTTP.
type Controller interface {
	Lanes(ctx context.Context) ([]string, error)
	Progress(ctx context.Context, name string) (orchestrator.Progress, error)
	Start(ctx context.Context, name string, targets []string, startIndex int) (string, error)
	Resume(ctx context.Context, name string, targets []string) (string, error)
	Stop(ctx context.Context, name string) error
	Override(ctx context.Context, name string) error
	ClearOverride(ctx context.Context, name string) error
}

// Server manages the listener lifecycle. Apply starts, restarts or stops
// it to match the config.
type Server struct {
	ctl Controller
	bus eventbus.Bus
	log logx.Logger
	hub *hub

	mu   sync.Mutex
	cfg  Config
	srv  *http.Server
	addr string
}

func New(ctl Controller, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "api"))
	return &Server{ctl: ctl, bus: bus, log: log, hub: newHub(ctl, log)}
}

// Addr is the bound address, empty when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		s.cfg = cfg
		return nil
	}
	if s.srv != nil && s.cfg == cfg {
		return nil
	}
	s.stopLocked(ctx)
	s.cfg = cfg
	return s.startLocked(cfg)
}

func (s *Server) startLocked(cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(cfg.Token),
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	s.srv = srv
	s.addr = ln.Addr().String()
	s.hub.start(s.bus)

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("api server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("api listening", logx.String("addr", addr), logx.Bool("auth", cfg.Token != ""))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv := s.srv
	s.srv = nil
	s.addr = ""
	s.hub.stop()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("api stopped")
}
