package server

import (
	"sort"
	"time"

	"github.com/opst/assetgraph/pkg/livedata"
)

type FetcherKind string

const (
	FetcherREST     FetcherKind = "rest"
	FetcherPostgres FetcherKind = "postgres"
	FetcherSQLite   FetcherKind = "sqlite"
	FetcherRedis    FetcherKind = "redis"
)

// Configuration for assetgraphd.
//
// To get `ServerConfig` instance, use `TrySeal` with `ServerConfigMarshall`, or `LoadServerConfig`.
type ServerConfig struct {
	listen    string
	loglevel  string
	fetcher   *FetcherConfig
	scheduler *SchedulerConfig
	threads   map[livedata.ThreadID]time.Duration
	layout    *LayoutConfig
}

// address to listen, like ":8080".
func (c *ServerConfig) Listen() string {
	return c.listen
}

// debug|info|warn|error|off
func (c *ServerConfig) LogLevel() string {
	return c.loglevel
}

func (c *ServerConfig) Fetcher() *FetcherConfig {
	return c.fetcher
}

func (c *ServerConfig) Scheduler() *SchedulerConfig {
	return c.scheduler
}

// poll rates of threads, by thread id.
func (c *ServerConfig) Threads() map[livedata.ThreadID]time.Duration {
	ret := make(map[livedata.ThreadID]time.Duration, len(c.threads))
	for k, v := range c.threads {
		ret[k] = v
	}
	return ret
}

// ids of configured threads, in lexical order.
func (c *ServerConfig) ThreadIDs() []livedata.ThreadID {
	ids := make([]livedata.ThreadID, 0, len(c.threads))
	for id := range c.threads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *ServerConfig) Layout() *LayoutConfig {
	return c.layout
}

// Where live data come from.
type FetcherConfig struct {
	kind      FetcherKind
	endpoint  string
	dsn       string
	table     string
	keyPrefix string
	nodesPath string
	timeout   time.Duration
}

func (c *FetcherConfig) Kind() FetcherKind {
	return c.kind
}

// GraphQL endpoint. Only for rest.
func (c *FetcherConfig) Endpoint() string {
	return c.endpoint
}

// Connection string for postgres, file path for sqlite, or URL for redis.
func (c *FetcherConfig) DSN() string {
	return c.dsn
}

// Table name for postgres and sqlite. Empty means the default of each fetcher.
func (c *FetcherConfig) Table() string {
	return c.table
}

// Key prefix for redis. Empty means the default.
func (c *FetcherConfig) KeyPrefix() string {
	return c.keyPrefix
}

// JSONPath to asset nodes in responses. Only for rest. Empty means the default.
func (c *FetcherConfig) NodesPath() string {
	return c.nodesPath
}

// Timeout of a fetch. 0 means no timeout.
func (c *FetcherConfig) Timeout() time.Duration {
	return c.timeout
}

type SchedulerConfig struct {
	config         livedata.Config
	notifyInterval time.Duration
}

// Config for livedata.Manager.
func (c *SchedulerConfig) Config() livedata.Config {
	return c.config
}

// Minimum interval between notifications of a watch stream.
func (c *SchedulerConfig) NotifyInterval() time.Duration {
	return c.notifyInterval
}

type LayoutConfig struct {
	mini      bool
	cacheSize int
}

// Whether layouts are computed in mini mode by default.
func (c *LayoutConfig) Mini() bool {
	return c.mini
}

// Number of layouts to be memoized.
func (c *LayoutConfig) CacheSize() int {
	return c.cacheSize
}
