package app

import (
	"context"
	"sync"
	"time"

	"lanerunner/internal/config"
	"lanerunner/internal/eventbus"
	"lanerunner/internal/notifier"
	kit "lanerunner/internal/transport"
	"lanerunner/internal/transport/telegram/adapter"
	"lanerunner/internal/transport/telegram/router"
	"lanerunner/pkg/logx"
)

// telegramSurface owns the bot connection, the command dispatcher, the
// lane notifier and the log chat sink. A token or poll timeout change
// reconnects; other telegram settings apply in place.
type telegramSurface struct {
	ctl  router.Controller
	bus  eventbus.Bus
	logs *logx.Service
	log  logx.Logger

	mu      sync.Mutex
	token   string
	poll    time.Duration
	adapter *adapter.Adapter
	cmdm    *router.CommandManager
	notif   *notifier.Service
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func newTelegramSurface(ctl router.Controller, bus eventbus.Bus, logs *logx.Service, log logx.Logger) *telegramSurface {
	return &telegramSurface{ctl: ctl, bus: bus, logs: logs, log: log.With(logx.String("comp", "telegram"))}
}

// Apply starts, reconfigures or stops the surface. ctx bounds the
// connection lifetime, so it should be the app run context.
func (t *telegramSurface) Apply(ctx context.Context, cfg *config.Config) error {
	tg := cfg.Telegram
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !tg.Enabled {
		t.stopLocked(ctx)
		return nil
	}
	if t.adapter == nil || t.token != tg.Token || t.poll != poll {
		t.stopLocked(ctx)
		if err := t.startLocked(ctx, tg.Token, poll, tg.OwnerUserIDs); err != nil {
			return err
		}
	}

	t.cmdm.SetOwners(tg.OwnerUserIDs)
	ncfg := mapNotifierConfig(cfg)
	t.notif.Apply(ncfg)
	if ncfg.Enabled {
		t.notif.Start(t.runCtx, t.bus)
	} else {
		t.notif.Stop(ctx)
	}
	if t.logs != nil {
		t.logs.SetChatSink(t.adapter, tg.NotifyChat, cfg.Logging.Telegram.ThreadID)
	}
	return nil
}

func (t *telegramSurface) startLocked(ctx context.Context, token string, poll time.Duration, owners []int64) error {
	ad, err := adapter.New(adapter.Config{Token: token, PollTimeout: poll}, t.log)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	updates := make(chan kit.Message, 64)
	if err := ad.Start(runCtx, updates); err != nil {
		cancel()
		return err
	}

	cmdm := router.NewCommandManager(t.log, ad, owners)
	cmdm.SetRegistry(runCtx, router.LaneCommands(t.ctl))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cmdm.DispatchLoop(runCtx, updates)
	}()

	t.token, t.poll = token, poll
	t.adapter, t.cmdm = ad, cmdm
	t.notif = notifier.New(notifier.Config{}, ad, t.log)
	t.runCtx, t.cancel, t.done = runCtx, cancel, done
	t.log.Info("telegram surface started", logx.Int("owners", len(owners)))
	return nil
}

func (t *telegramSurface) Stop(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked(ctx)
}

func (t *telegramSurface) stopLocked(ctx context.Context) {
	if t.adapter == nil {
		return
	}
	if t.logs != nil {
		t.logs.SetChatSink(nil, 0, 0)
	}
	t.notif.Stop(ctx)
	t.cancel()
	if err := t.adapter.Stop(ctx); err != nil {
		t.log.Warn("telegram adapter stop failed", logx.Err(err))
	}
	select {
	case <-t.done:
	case <-ctx.Done():
	}
	t.adapter, t.cmdm, t.notif = nil, nil, nil
	t.runCtx, t.cancel, t.done = nil, nil, nil
	t.token, t.poll = "", 0
	t.log.Info("telegram surface stopped")
}
