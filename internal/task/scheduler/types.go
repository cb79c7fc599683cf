package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lanerunner/internal/lane"
	"lanerunner/internal/task/engine"
	"lanerunner/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// TickHandler runs one tick for a lane.
type TickHandler func(ctx context.Context, id string) error

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	engine Enqueuer
	repo   *lane.Repo

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// tmu guards the tick timers and serializes deadline record writes with
	// timer callbacks.
	tmu         sync.Mutex
	timers      map[string]*time.Timer
	ver         map[string]uint64
	seq         uint64
	halted      bool
	handler     TickHandler
	tickTimeout time.Duration
	now         func() time.Time
}

// Pending describes a lane's next tick.
type Pending struct {
	DueAt   time.Time `json:"due_at"`
	Durable bool      `json:"durable"` // a deadline record exists
	Armed   bool      `json:"armed"`   // an in-process timer is set
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
}

type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Running   bool           `json:"running"`
	Armed     []string       `json:"armed"`
	Schedules []ScheduleInfo `json:"schedules"`
}
