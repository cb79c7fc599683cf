// Package notifier pushes terminal lane transitions (completed, quota
// paused, interrupted, failed) to an operator chat. Messages go through a
// bounded queue, a token bucket, a retry loop and a short dedup window.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lanerunner/internal/eventbus"
	rtsup "lanerunner/internal/runtime/supervisor"
	kit "lanerunner/internal/transport"
	"lanerunner/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Enabled     bool
	Target      kit.ChatTarget
	QueueSize   int
	RatePerSec  int
	RetryMax    int
	RetryBase   time.Duration
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	return c
}

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type HistoryItem struct {
	At   time.Time
	Text string
	Err  string
}

type item struct {
	key  string
	text string
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	send    Sender
	cfg     Config
	limiter *rate.Limiter

	queue chan item
	sup   *rtsup.Supervisor
	unsub func()

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	now func() time.Time
}

func New(cfg Config, send Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log.With(logx.String("comp", "notifier")),
		send:  send,
		dedup: map[string]time.Time{},
		now:   time.Now,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the target, rate and retry settings. The queue size is fixed
// until the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

// Start runs the sender and, when bus is non-nil, forwards terminal lane
// events. Start is idempotent.
func (s *Service) Start(ctx context.Context, bus eventbus.Bus) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	q := make(chan item, s.cfg.QueueSize)
	s.queue = q
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("sender", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case it := <-q:
				s.sendWithRetry(c, it)
			}
		}
	}, rtsup.WithPublishFirstError(true))

	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(64)
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
	sup.Go0("events", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if !ev.Terminal() {
					continue
				}
				if err := s.Notify(c, ev.Type+":"+ev.Lane, FormatEvent(ev)); err != nil && !errors.Is(err, ErrStopped) {
					s.log.Warn("lane notification dropped", logx.Lane(ev.Lane), logx.String("event", ev.Type), logx.Err(err))
				}
			}
		}
	})
}

// Stop drops queued messages that have not been sent by the time ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, q, unsub := s.sup, s.queue, s.unsub
	s.sup, s.queue, s.unsub = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if unsub != nil {
		unsub()
	}

	// Give queued messages a chance within ctx.
	for len(q) > 0 && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(50 * time.Millisecond):
		}
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Debug("notifier stop", logx.Err(err))
	}
}

// Notify queues text. A repeat of key inside the dedup window is dropped
// silently.
func (s *Service) Notify(ctx context.Context, key, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cfg := s.cfg
	q := s.queue
	s.mu.Unlock()
	if !cfg.Enabled {
		return ErrDisabled
	}
	if q == nil {
		return ErrStopped
	}
	if key != "" && cfg.DedupWindow > 0 && !s.dedupAllow(key, cfg.DedupWindow) {
		return nil
	}
	select {
	case q <- item{key: key, text: text}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) dedupAllow(key string, window time.Duration) bool {
	now := s.now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	if len(s.dedup) > 1000 {
		for k, until := range s.dedup {
			if !now.Before(until) {
				delete(s.dedup, k)
			}
		}
	}
	s.dedup[key] = now.Add(window)
	return true
}

func (s *Service) sendWithRetry(ctx context.Context, it item) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.RetryBase * time.Duration(1<<(attempt-1))):
			}
		}
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.send.SendText(callCtx, cfg.Target, it.text, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			s.appendHistory(HistoryItem{At: s.now(), Text: it.text})
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Int("attempt", attempt+1), logx.Err(err))
	}
	s.appendHistory(HistoryItem{At: s.now(), Text: it.text, Err: lastErr.Error()})
	s.log.Warn("notify send gave up", logx.String("key", it.key), logx.Err(lastErr))
}

func (s *Service) appendHistory(h HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, h)
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
}

// History returns recently sent (or given up) messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
