package livedata

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata/clock"
)

var ErrClosed = errors.New("live data manager is closed")

// ThreadID names a polling lane.
//
// Threads share one cache, but each has its own subscriptions, poll rate and in-flight budget.
type ThreadID string

const DefaultThread ThreadID = "default"

type FetchState int

const (
	NeverFetched FetchState = iota
	Queued
	InFlight
	Fresh
	Stale
)

func (s FetchState) String() string {
	switch s {
	case NeverFetched:
		return "never-fetched"
	case Queued:
		return "queued"
	case InFlight:
		return "in-flight"
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

type Kind int

const (
	KindAbsent Kind = iota
	KindPresent
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPresent:
		return "present"
	case KindError:
		return "error"
	default:
		return "absent"
	}
}

// Result is an outcome of fetching one key: Present, Absent or Failed.
type Result struct {
	kind Kind
	data *domain.LiveData
	err  error
}

func Present(data domain.LiveData) Result {
	return Result{kind: KindPresent, data: &data}
}

func Absent() Result {
	return Result{kind: KindAbsent}
}

func Failed(err error) Result {
	return Result{kind: KindError, err: err}
}

func (r Result) Kind() Kind {
	return r.kind
}

// Data is non-nil only for Present.
func (r Result) Data() *domain.LiveData {
	return r.data
}

// Err is non-nil only for Failed.
func (r Result) Err() error {
	return r.err
}

// Fetcher loads live data for a batch of keys.
type Fetcher interface {
	// Fetch returns results keyed by AssetKey.Token .
	//
	// A key missing in the returned map is treated as Absent.
	// Non-nil error means the whole batch is failed.
	Fetch(ctx context.Context, keys []domain.AssetKey) (map[string]Result, error)
}

type FetcherFunc func(context.Context, []domain.AssetKey) (map[string]Result, error)

func (f FetcherFunc) Fetch(ctx context.Context, keys []domain.AssetKey) (map[string]Result, error) {
	return f(ctx, keys)
}

// Update is a new cache entry delivered to listeners.
type Update struct {
	Key  domain.AssetKey
	Data *domain.LiveData
}

// Listener receives updates for keys of a subscription.
//
// Listeners are called without any lock of Manager held,
// so they may call Manager's methods.
// Data in Update is shared; do not modify it.
type Listener func([]Update)

type Clock = clock.Clock

type Config struct {
	// max keys in a fetch
	BatchSize int

	// max outstanding fetches per thread
	ParallelFetches int

	// poll rate for threads without their own rate
	IdlePollRate time.Duration

	// poll rate while LaunchWindow after NotifyLaunched
	FastPollRate time.Duration
	LaunchWindow time.Duration

	// interval of Tick in Run
	TickInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		ParallelFetches: 1,
		IdlePollRate:    30 * time.Second,
		FastPollRate:    2 * time.Second,
		LaunchWindow:    2 * time.Second,
		TickInterval:    time.Second,
	}
}

// fill zero fields with defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ParallelFetches <= 0 {
		c.ParallelFetches = d.ParallelFetches
	}
	if c.IdlePollRate <= 0 {
		c.IdlePollRate = d.IdlePollRate
	}
	if c.FastPollRate <= 0 {
		c.FastPollRate = d.FastPollRate
	}
	if c.LaunchWindow <= 0 {
		c.LaunchWindow = c.FastPollRate
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	return c
}

type Option func(*Manager)

func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithConfig(c Config) Option {
	return func(m *Manager) {
		m.config = c.normalized()
	}
}

// WithThread declares a thread with its own poll rate.
//
// Threads are scheduled in the order they are created.
func WithThread(id ThreadID, pollRate time.Duration) Option {
	return func(m *Manager) {
		m.threadOf(id).pollRate = pollRate
	}
}

func nullLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
