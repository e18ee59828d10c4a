package server_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opst/assetgraph/pkg/cmp"
	"github.com/opst/assetgraph/pkg/configs/server"
	"github.com/opst/assetgraph/pkg/layout"
	"github.com/opst/assetgraph/pkg/livedata"
	"github.com/opst/assetgraph/pkg/utils/try"
)

func TestUnmarshal(t *testing.T) {
	t.Run("it loads config from yaml", func(t *testing.T) {
		conf := []byte(`
listen: ":9090"
loglevel: DEBUG
fetcher:
  kind: rest
  endpoint: http://dagster.example.com/graphql
  nodesPath: $.data.nodes[*]
  timeout: 5s
scheduler:
  batchSize: 10
  parallelFetches: 2
  idlePollRate: 1m
  fastPollRate: 500ms
  launchWindow: 3s
  tickInterval: 200ms
  notifyInterval: 1s
threads:
  sidebar:
    pollRate: 10s
layout:
  mini: true
  cacheSize: 8
`)
		result := try.To(server.Unmarshal(conf, server.Env{})).OrFatal(t)

		if actual, expected := result.Listen(), ":9090"; actual != expected {
			t.Errorf(".listen: unmatch: (actual, expected) = (%s, %s)", actual, expected)
		}
		if actual, expected := result.LogLevel(), "debug"; actual != expected {
			t.Errorf(".loglevel: unmatch: (actual, expected) = (%s, %s)", actual, expected)
		}

		f := result.Fetcher()
		if f.Kind() != server.FetcherREST ||
			f.Endpoint() != "http://dagster.example.com/graphql" ||
			f.NodesPath() != "$.data.nodes[*]" ||
			f.Timeout() != 5*time.Second {
			t.Errorf(".fetcher: unexpected: %+v", f)
		}

		expectedScheduler := livedata.Config{
			BatchSize:       10,
			ParallelFetches: 2,
			IdlePollRate:    time.Minute,
			FastPollRate:    500 * time.Millisecond,
			LaunchWindow:    3 * time.Second,
			TickInterval:    200 * time.Millisecond,
		}
		if actual := result.Scheduler().Config(); actual != expectedScheduler {
			t.Errorf(".scheduler: unmatch: (actual, expected) = (%+v, %+v)", actual, expectedScheduler)
		}
		if actual := result.Scheduler().NotifyInterval(); actual != time.Second {
			t.Errorf(".scheduler.notifyInterval: %s", actual)
		}

		threads := result.Threads()
		if len(threads) != 1 || threads["sidebar"] != 10*time.Second {
			t.Errorf(".threads: unexpected: %v", threads)
		}

		if l := result.Layout(); !l.Mini() || l.CacheSize() != 8 {
			t.Errorf(".layout: unexpected: %+v", l)
		}
	})

	t.Run("thread ids are in lexical order", func(t *testing.T) {
		conf := []byte(`
fetcher:
  kind: sqlite
  dsn: /tmp/live.db
threads:
  sidebar:
    pollRate: 10s
  asset-graph:
    pollRate: 5s
  overview:
    pollRate: 1m
  context-menu:
    pollRate: 2s
`)
		result := try.To(server.Unmarshal(conf, server.Env{})).OrFatal(t)

		expected := []livedata.ThreadID{"asset-graph", "context-menu", "overview", "sidebar"}
		for range 5 {
			actual := result.ThreadIDs()
			if !cmp.SliceEq(actual, expected) {
				t.Fatalf("unmatch: (actual, expected) = (%v, %v)", actual, expected)
			}
		}
		if rate := result.Threads()["asset-graph"]; rate != 5*time.Second {
			t.Errorf(".threads.asset-graph: %s", rate)
		}
	})

	t.Run("it fills defaults", func(t *testing.T) {
		conf := []byte(`
fetcher:
  kind: sqlite
  dsn: /var/lib/assetgraph/live.db
`)
		result := try.To(server.Unmarshal(conf, server.Env{})).OrFatal(t)

		if result.Listen() != server.DefaultListen {
			t.Errorf(".listen: %s", result.Listen())
		}
		if result.LogLevel() != server.DefaultLogLevel {
			t.Errorf(".loglevel: %s", result.LogLevel())
		}
		if actual, expected := result.Scheduler().Config(), livedata.DefaultConfig(); actual != expected {
			t.Errorf(".scheduler: unmatch: (actual, expected) = (%+v, %+v)", actual, expected)
		}
		if result.Scheduler().NotifyInterval() != server.DefaultNotifyInterval {
			t.Errorf(".scheduler.notifyInterval: %s", result.Scheduler().NotifyInterval())
		}
		if len(result.Threads()) != 0 {
			t.Errorf(".threads: %v", result.Threads())
		}
		if l := result.Layout(); l.Mini() || l.CacheSize() != layout.DefaultCacheSize {
			t.Errorf(".layout: unexpected: %+v", l)
		}
		if f := result.Fetcher(); f.Kind() != server.FetcherSQLite || f.DSN() != "/var/lib/assetgraph/live.db" || f.Timeout() != 0 {
			t.Errorf(".fetcher: unexpected: %+v", f)
		}
	})

	t.Run("environment variables override yaml", func(t *testing.T) {
		conf := []byte(`
listen: ":9090"
fetcher:
  kind: rest
  endpoint: http://dagster.example.com/graphql
`)
		result := try.To(server.Unmarshal(conf, server.Env{
			Listen:      ":7070",
			FetcherKind: "redis",
			FetcherDSN:  "redis://localhost:6379/0",
		})).OrFatal(t)

		if result.Listen() != ":7070" {
			t.Errorf(".listen: %s", result.Listen())
		}
		if f := result.Fetcher(); f.Kind() != server.FetcherRedis || f.DSN() != "redis://localhost:6379/0" {
			t.Errorf(".fetcher: unexpected: %+v", f)
		}
	})

	t.Run("environment variables can be the only source", func(t *testing.T) {
		result := try.To(server.Unmarshal(nil, server.Env{
			FetcherKind: "postgres", FetcherDSN: "postgres://localhost/assets",
		})).OrFatal(t)
		if f := result.Fetcher(); f.Kind() != server.FetcherPostgres || f.DSN() != "postgres://localhost/assets" {
			t.Errorf(".fetcher: unexpected: %+v", f)
		}
	})

	for name, conf := range map[string]string{
		"no fetcher": `listen: ":80"`,
		"unknown fetcher kind": `
fetcher:
  kind: mysql
  dsn: x
`,
		"rest without endpoint": `
fetcher:
  kind: rest
`,
		"redis without dsn": `
fetcher:
  kind: redis
`,
		"unknown loglevel": `
loglevel: verbose
fetcher: {kind: sqlite, dsn: ":memory:"}
`,
		"broken duration": `
fetcher: {kind: sqlite, dsn: ":memory:"}
scheduler:
  idlePollRate: often
`,
		"negative duration": `
fetcher: {kind: sqlite, dsn: ":memory:"}
scheduler:
  tickInterval: -1s
`,
		"negative batch size": `
fetcher: {kind: sqlite, dsn: ":memory:"}
scheduler:
  batchSize: -1
`,
		"thread without poll rate": `
fetcher: {kind: sqlite, dsn: ":memory:"}
threads:
  sidebar: {}
`,
		"negative cache size": `
fetcher: {kind: sqlite, dsn: ":memory:"}
layout:
  cacheSize: -1
`,
	} {
		t.Run("it rejects misconfiguration: "+name, func(t *testing.T) {
			_, err := server.Unmarshal([]byte(conf), server.Env{})
			if !errors.Is(err, server.ErrInvalidConfig) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadServerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assetgraph.yaml")
	if err := os.WriteFile(path, []byte(`
fetcher:
  kind: rest
  endpoint: http://localhost:3000/graphql
`), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ASSETGRAPH_LISTEN", ":1234")
	t.Setenv("ASSETGRAPH_FETCHER_ENDPOINT", "http://dagster:3000/graphql")

	result := try.To(server.LoadServerConfig(path)).OrFatal(t)
	if result.Listen() != ":1234" {
		t.Errorf(".listen: %s", result.Listen())
	}
	if f := result.Fetcher(); f.Kind() != server.FetcherREST || f.Endpoint() != "http://dagster:3000/graphql" {
		t.Errorf(".fetcher: unexpected: %+v", f)
	}

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := server.LoadServerConfig(filepath.Join(t.TempDir(), "nothing.yaml")); err == nil {
			t.Error("expected error, but nil")
		}
	})
}
