package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opst/assetgraph/pkg/layout"
	"github.com/opst/assetgraph/pkg/livedata"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultListen         = ":8080"
	DefaultLogLevel       = "info"
	DefaultNotifyInterval = 250 * time.Millisecond
)

type Marshalled[S any] interface {
	trySeal(string) (S, error)
}

// verify marshalled object and create "readonly" version of this.
//
// All types named `pkg/configs/server.XxxMarshall` are `Marshalled[*Xxx]` .
//
// # Returns
//
// - S: sealed configuration.
//
// - error: wraps ErrInvalidConfig if misconfiguration is found.
func TrySeal[S any](conf Marshalled[S]) (S, error) {
	return conf.trySeal("(root)")
}

type ServerConfigMarshall struct {
	Listen    string                            `yaml:"listen,omitempty"`
	LogLevel  string                            `yaml:"loglevel,omitempty"`
	Fetcher   *FetcherConfigMarshall            `yaml:"fetcher"`
	Scheduler *SchedulerConfigMarshall          `yaml:"scheduler,omitempty"`
	Threads   map[string]*ThreadConfigMarshall `yaml:"threads,omitempty"`
	Layout    *LayoutConfigMarshall             `yaml:"layout,omitempty"`
}

var _ Marshalled[*ServerConfig] = &ServerConfigMarshall{}

func (s *ServerConfigMarshall) trySeal(path string) (*ServerConfig, error) {
	if s == nil {
		return nil, invalid(path, "is required")
	}

	listen := s.Listen
	if listen == "" {
		listen = DefaultListen
	}
	loglevel := strings.ToLower(s.LogLevel)
	switch loglevel {
	case "":
		loglevel = DefaultLogLevel
	case "debug", "info", "warn", "error", "off":
	default:
		return nil, invalid(path+".loglevel", fmt.Sprintf("is unknown: %s", s.LogLevel))
	}

	fetcher, err := nonnil(s.Fetcher, path+".fetcher")
	if err != nil {
		return nil, err
	}
	fc, err := fetcher.trySeal(path + ".fetcher")
	if err != nil {
		return nil, err
	}
	sc, err := s.Scheduler.trySeal(path + ".scheduler")
	if err != nil {
		return nil, err
	}
	lc, err := s.Layout.trySeal(path + ".layout")
	if err != nil {
		return nil, err
	}

	threads := map[livedata.ThreadID]time.Duration{}
	for name, t := range s.Threads {
		if name == "" {
			return nil, invalid(path+".threads", "has an empty name")
		}
		rate, err := t.trySeal(path + ".threads." + name)
		if err != nil {
			return nil, err
		}
		threads[livedata.ThreadID(name)] = rate
	}

	return &ServerConfig{
		listen:    listen,
		loglevel:  loglevel,
		fetcher:   fc,
		scheduler: sc,
		threads:   threads,
		layout:    lc,
	}, nil
}

type FetcherConfigMarshall struct {
	Kind      string `yaml:"kind"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	DSN       string `yaml:"dsn,omitempty"`
	Table     string `yaml:"table,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
	NodesPath string `yaml:"nodesPath,omitempty"`
	Timeout   string `yaml:"timeout,omitempty"`
}

func (f *FetcherConfigMarshall) trySeal(path string) (*FetcherConfig, error) {
	timeout, err := duration(f.Timeout, 0, path+".timeout")
	if err != nil {
		return nil, err
	}
	fc := &FetcherConfig{
		kind:      FetcherKind(strings.ToLower(f.Kind)),
		endpoint:  f.Endpoint,
		dsn:       f.DSN,
		table:     f.Table,
		keyPrefix: f.KeyPrefix,
		nodesPath: f.NodesPath,
		timeout:   timeout,
	}

	switch fc.kind {
	case FetcherREST:
		if _, err := required(fc.endpoint, path+".endpoint"); err != nil {
			return nil, err
		}
	case FetcherPostgres, FetcherSQLite, FetcherRedis:
		if _, err := required(fc.dsn, path+".dsn"); err != nil {
			return nil, err
		}
	case "":
		return nil, invalid(path+".kind", "is required")
	default:
		return nil, invalid(
			path+".kind",
			fmt.Sprintf("is unknown: %s (rest|postgres|sqlite|redis)", f.Kind),
		)
	}
	return fc, nil
}

type SchedulerConfigMarshall struct {
	BatchSize       int    `yaml:"batchSize,omitempty"`
	ParallelFetches int    `yaml:"parallelFetches,omitempty"`
	IdlePollRate    string `yaml:"idlePollRate,omitempty"`
	FastPollRate    string `yaml:"fastPollRate,omitempty"`
	LaunchWindow    string `yaml:"launchWindow,omitempty"`
	TickInterval    string `yaml:"tickInterval,omitempty"`
	NotifyInterval  string `yaml:"notifyInterval,omitempty"`
}

// nil is sealed into the default.
func (s *SchedulerConfigMarshall) trySeal(path string) (*SchedulerConfig, error) {
	d := livedata.DefaultConfig()
	if s == nil {
		return &SchedulerConfig{config: d, notifyInterval: DefaultNotifyInterval}, nil
	}

	if s.BatchSize < 0 {
		return nil, invalid(path+".batchSize", "should be positive")
	}
	if s.ParallelFetches < 0 {
		return nil, invalid(path+".parallelFetches", "should be positive")
	}

	c := livedata.Config{
		BatchSize:       s.BatchSize,
		ParallelFetches: s.ParallelFetches,
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.ParallelFetches == 0 {
		c.ParallelFetches = d.ParallelFetches
	}

	var err error
	if c.IdlePollRate, err = duration(s.IdlePollRate, d.IdlePollRate, path+".idlePollRate"); err != nil {
		return nil, err
	}
	if c.FastPollRate, err = duration(s.FastPollRate, d.FastPollRate, path+".fastPollRate"); err != nil {
		return nil, err
	}
	if c.LaunchWindow, err = duration(s.LaunchWindow, d.LaunchWindow, path+".launchWindow"); err != nil {
		return nil, err
	}
	if c.TickInterval, err = duration(s.TickInterval, d.TickInterval, path+".tickInterval"); err != nil {
		return nil, err
	}
	notify, err := duration(s.NotifyInterval, DefaultNotifyInterval, path+".notifyInterval")
	if err != nil {
		return nil, err
	}

	return &SchedulerConfig{config: c, notifyInterval: notify}, nil
}

type ThreadConfigMarshall struct {
	PollRate string `yaml:"pollRate"`
}

func (t *ThreadConfigMarshall) trySeal(path string) (time.Duration, error) {
	if t == nil {
		return 0, invalid(path, "is required")
	}
	pr, err := required(t.PollRate, path+".pollRate")
	if err != nil {
		return 0, err
	}
	return duration(pr, 0, path+".pollRate")
}

type LayoutConfigMarshall struct {
	Mini      bool `yaml:"mini,omitempty"`
	CacheSize int  `yaml:"cacheSize,omitempty"`
}

func (l *LayoutConfigMarshall) trySeal(path string) (*LayoutConfig, error) {
	if l == nil {
		return &LayoutConfig{cacheSize: layout.DefaultCacheSize}, nil
	}
	size := l.CacheSize
	if size < 0 {
		return nil, invalid(path+".cacheSize", "should be positive")
	}
	if size == 0 {
		size = layout.DefaultCacheSize
	}
	return &LayoutConfig{mini: l.Mini, cacheSize: size}, nil
}

func invalid(path string, message string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidConfig, path, message)
}

func nonnil[T any](v *T, path string) (*T, error) {
	if v == nil {
		return nil, invalid(path, "is required")
	}
	return v, nil
}

func required[T comparable](v T, path string) (T, error) {
	if v == *new(T) {
		return v, invalid(path, "is required")
	}
	return v, nil
}

// parse a positive duration. Empty string means fallback.
func duration(s string, fallback time.Duration, path string) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s can not be parsed: %w", ErrInvalidConfig, path, err)
	}
	if d <= 0 {
		return 0, invalid(path, "should be positive")
	}
	return d, nil
}
