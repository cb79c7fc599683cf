package router

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"lanerunner/internal/lane"
	"lanerunner/internal/orchestrator"
	kit "lanerunner/internal/transport"
	"lanerunner/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Message) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                      { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.replies)}, nil
}

func (f *fakeAdapter) last(t *testing.T, n int) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		f.mu.Lock()
		if len(f.replies) >= n {
			s := f.replies[n-1]
			f.mu.Unlock()
			return s
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("reply %d never arrived", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeCtl struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCtl) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeCtl) Lanes(context.Context) ([]string, error) { return []string{"alpha"}, nil }

func (f *fakeCtl) Progress(_ context.Context, name string) (orchestrator.Progress, error) {
	if name != "alpha" {
		return orchestrator.Progress{}, orchestrator.ErrUnknownLane
	}
	return orchestrator.Progress{
		Lane: "alpha", IsRunning: true, Index: 2, Total: 5, QuotaUsed: 2, QuotaLimit: 50,
		Results: lane.Results{{ID: "a", Status: lane.StatusSuccess}, {ID: "b", Status: lane.StatusFailed}},
	}, nil
}

func (f *fakeCtl) Start(_ context.Context, name string, _ []string, idx int) (string, error) {
	f.record(fmt.Sprintf("start %s %d", name, idx))
	if name != "alpha" {
		return "", orchestrator.ErrUnknownLane
	}
	return "0123456789abcdef", nil
}

func (f *fakeCtl) Resume(_ context.Context, name string, _ []string) (string, error) {
	f.record("resume " + name)
	return "", orchestrator.ErrNoTargets
}

func (f *fakeCtl) Stop(_ context.Context, name string) error {
	f.record("stop " + name)
	return nil
}

func (f *fakeCtl) Override(_ context.Context, name string) error {
	f.record("override " + name)
	return nil
}

func (f *fakeCtl) ClearOverride(_ context.Context, name string) error {
	f.record("clear " + name)
	return nil
}

func TestLaneCommands(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	ctl := &fakeCtl{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.SetRegistry(ctx, LaneCommands(ctl))

	in := make(chan kit.Message)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, in)
	}()
	defer func() {
		cancel()
		<-done
	}()

	steps := []struct {
		from int64
		text string
		want string
	}{
		{1, "/status alpha", "alpha: running 2/5\nresults: 1 ok, 0 skipped, 1 failed\nquota: 2/50 today"},
		{1, "/lanes", "alpha: running 2/5"},
		{1, "/start@lanebot alpha 3", "alpha started at 3 (run 01234567)"},
		{1, "/start alpha x", "index must be a non-negative number"},
		{1, "/start zeta", `unknown lane "zeta"`},
		{1, "/resume alpha", "alpha has no targets"},
		{1, "/stop alpha", "alpha stopped"},
		{1, "/override alpha off", "alpha quota override cleared"},
		{1, "/stop", "usage: /stop <lane>"},
		{2, "/stop alpha", "unauthorized"},
		{2, "/nope", "unknown command, try /help"},
		{2, "hello", ""},
	}
	n := 0
	for _, st := range steps {
		in <- kit.Message{ChatID: 10, FromID: st.from, Text: st.text}
		if st.want == "" {
			continue
		}
		n++
		if got := ad.last(t, n); got != st.want {
			t.Fatalf("%q -> %q, want %q", st.text, got, st.want)
		}
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	want := []string{"start alpha 3", "start zeta 0", "resume alpha", "stop alpha", "clear alpha"}
	if !reflect.DeepEqual(ctl.calls, want) {
		t.Fatalf("calls = %q, want %q", ctl.calls, want)
	}
}

func TestHelpListsCommands(t *testing.T) {
	t.Parallel()

	m := NewCommandManager(logx.Nop(), &fakeAdapter{}, nil)
	m.SetRegistry(context.Background(), LaneCommands(&fakeCtl{}))
	help := m.helpText()
	for _, want := range []string{"/lanes", "/status <lane>", "/start <lane> [index]", "/override <lane> [off]", "/help"} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}

func TestTokenizeAndFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in        string
		wantPos   []string
		wantFlags map[string]string
		wantBools map[string]bool
	}{
		{`/start alpha 3`, []string{"alpha", "3"}, map[string]string{}, map[string]bool{}},
		{`/start "my lane" --index=2`, []string{"my lane"}, map[string]string{"index": "2"}, map[string]bool{}},
		{`/x a\ b --dry -1`, []string{"a b"}, map[string]string{"dry": "-1"}, map[string]bool{}},
		{`/x --force`, nil, map[string]string{}, map[string]bool{"force": true}},
	}
	for _, tt := range tests {
		parts := tokenizeCommandLine(tt.in)
		pos, flags, bools := parseFlags(parts[1:])
		if !reflect.DeepEqual(pos, tt.wantPos) || !reflect.DeepEqual(flags, tt.wantFlags) || !reflect.DeepEqual(bools, tt.wantBools) {
			t.Errorf("%q: pos=%q flags=%v bools=%v", tt.in, pos, flags, bools)
		}
	}
}
