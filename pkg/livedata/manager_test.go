package livedata_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opst/assetgraph/pkg/cmp"
	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata"
	"github.com/opst/assetgraph/pkg/livedata/clock"
)

var t0 = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func keyOf(token string) domain.AssetKey {
	k, err := domain.ParseToken(token)
	if err != nil {
		panic(err)
	}
	return k
}

func keysOf(tokens ...string) []domain.AssetKey {
	ks := make([]domain.AssetKey, len(tokens))
	for i, t := range tokens {
		ks[i] = keyOf(t)
	}
	return ks
}

func tokensOf(keys []domain.AssetKey) []string {
	ts := make([]string, len(keys))
	for i, k := range keys {
		ts[i] = k.Token()
	}
	return ts
}

// recordingFetcher resolves fetches at once, with what respond returns.
type recordingFetcher struct {
	mu       sync.Mutex
	calls    [][]string
	running  int
	maxRun   int
	respond  func(call int, keys []domain.AssetKey) (map[string]livedata.Result, error)
	stepKeys map[string]string
}

func (f *recordingFetcher) Fetch(ctx context.Context, keys []domain.AssetKey) (map[string]livedata.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tokensOf(keys))
	nth := len(f.calls)
	f.running += 1
	if f.maxRun < f.running {
		f.maxRun = f.running
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running -= 1
		f.mu.Unlock()
	}()

	if f.respond != nil {
		return f.respond(nth, keys)
	}
	return presentAll(fmt.Sprintf("call-%d", nth), keys), nil
}

func (f *recordingFetcher) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([][]string, len(f.calls))
	copy(ret, f.calls)
	return ret
}

func presentAll(step string, keys []domain.AssetKey) map[string]livedata.Result {
	ret := map[string]livedata.Result{}
	for _, k := range keys {
		ret[k.Token()] = livedata.Present(domain.LiveData{AssetKey: k, StepKey: step})
	}
	return ret
}

func callsEq(a, b [][]string) bool {
	return cmp.SliceEqWith(a, b, func(x, y []string) bool { return cmp.SliceEq(x, y) })
}

// blockingFetcher holds each fetch until the test resolves it.
type pendingCall struct {
	keys    []string
	resolve chan func(keys []domain.AssetKey) (map[string]livedata.Result, error)
}

type blockingFetcher struct {
	calls chan *pendingCall
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{calls: make(chan *pendingCall, 100)}
}

func (f *blockingFetcher) Fetch(ctx context.Context, keys []domain.AssetKey) (map[string]livedata.Result, error) {
	c := &pendingCall{
		keys:    tokensOf(keys),
		resolve: make(chan func([]domain.AssetKey) (map[string]livedata.Result, error), 1),
	}
	f.calls <- c
	select {
	case r := <-c.resolve:
		return r(keys)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *blockingFetcher) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("fetch is not started")
		return nil
	}
}

func (f *blockingFetcher) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch: %v", c.keys)
	case <-time.After(50 * time.Millisecond):
	}
}

type listenerLog struct {
	mu    sync.Mutex
	calls [][]string
	data  map[string]*domain.LiveData
}

func (l *listenerLog) listen(updates []livedata.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.data == nil {
		l.data = map[string]*domain.LiveData{}
	}
	tokens := []string{}
	for _, u := range updates {
		tokens = append(tokens, u.Key.Token())
		l.data[u.Key.Token()] = u.Data
	}
	l.calls = append(l.calls, tokens)
}

func (l *listenerLog) Calls() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret := make([][]string, len(l.calls))
	copy(ret, l.calls)
	return ret
}

func TestManager_Subscribe(t *testing.T) {
	t.Run("subscribed keys are fetched on the next turn of the clock, and listeners get results", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		log := &listenerLog{}
		unsubscribe, err := testee.SubscribeAll(keysOf("a", "b/c"), livedata.DefaultThread, log.listen)
		if err != nil {
			t.Fatal(err)
		}
		defer unsubscribe()

		if got := fetcher.Calls(); len(got) != 0 {
			t.Fatalf("fetched before the clock turns: %v", got)
		}
		if got := testee.FetchState(keyOf("a"), livedata.DefaultThread); got != livedata.Queued {
			t.Errorf("state before fetch: (actual, expected) = (%s, %s)", got, livedata.Queued)
		}

		fake.Advance(0)
		testee.Wait()

		if got := fetcher.Calls(); !callsEq(got, [][]string{{"a", "b/c"}}) {
			t.Errorf("fetches: (actual, expected) = (%v, %v)", got, [][]string{{"a", "b/c"}})
		}
		if got := log.Calls(); !callsEq(got, [][]string{{"a", "b/c"}}) {
			t.Errorf("notifications: (actual, expected) = (%v, %v)", got, [][]string{{"a", "b/c"}})
		}
		data, ok := testee.CacheEntry(keyOf("b/c"))
		if !ok || data.StepKey != "call-1" {
			t.Errorf("cache entry: (actual, expected) = (%+v, call-1)", data)
		}
		if got := testee.FetchState(keyOf("a"), livedata.DefaultThread); got != livedata.Fresh {
			t.Errorf("state after fetch: (actual, expected) = (%s, %s)", got, livedata.Fresh)
		}
	})

	t.Run("cached data are delivered before Subscribe returns", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		first := &listenerLog{}
		if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, first.listen); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		second := &listenerLog{}
		if _, err := testee.SubscribeAll(keysOf("a", "z"), "other", second.listen); err != nil {
			t.Fatal(err)
		}
		if got := second.Calls(); !callsEq(got, [][]string{{"a"}}) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, [][]string{{"a"}})
		}
		if got := fetcher.Calls(); len(got) != 1 {
			t.Errorf("fresh cache should not be fetched again: %v", got)
		}
	})

	t.Run("unsubscribed listener gets nothing, and the key is not fetched any more", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		changes := [][]string{}
		testee.OnSubscriptionsChanged(func(keys []domain.AssetKey) {
			changes = append(changes, tokensOf(keys))
		})

		log := &listenerLog{}
		unsubscribe, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, log.listen)
		if err != nil {
			t.Fatal(err)
		}
		unsubscribe()
		unsubscribe()

		fake.Advance(0)
		testee.Wait()
		testee.RefreshKeys()
		fake.Advance(time.Hour)
		testee.Tick(context.Background())
		testee.Wait()

		if got := fetcher.Calls(); len(got) != 0 {
			t.Errorf("unexpected fetch: %v", got)
		}
		if got := log.Calls(); len(got) != 0 {
			t.Errorf("unexpected notification: %v", got)
		}
		if !callsEq(changes, [][]string{{"a"}, {}}) {
			t.Errorf("subscription changes: (actual, expected) = (%v, %v)", changes, [][]string{{"a"}, {}})
		}
	})

	t.Run("it fails after Close", func(t *testing.T) {
		testee := livedata.New(&recordingFetcher{})
		testee.Close()
		testee.Close()
		if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func([]livedata.Update) {}); !errors.Is(err, livedata.ErrClosed) {
			t.Errorf("expected ErrClosed, but got %v", err)
		}
	})
}

func TestManager_Dedup(t *testing.T) {
	fake := clock.NewFake(t0)
	fetcher := newBlockingFetcher()
	testee := livedata.New(fetcher, livedata.WithClock(fake))
	defer testee.Close()

	logA, logB := &listenerLog{}, &listenerLog{}
	if _, err := testee.Subscribe(keyOf("a"), "thread-a", logA.listen); err != nil {
		t.Fatal(err)
	}
	if _, err := testee.Subscribe(keyOf("a"), "thread-b", logB.listen); err != nil {
		t.Fatal(err)
	}
	fake.Advance(0)
	testee.Tick(context.Background())

	call := fetcher.next(t)
	if !cmp.SliceEq(call.keys, []string{"a"}) {
		t.Errorf("unmatch: (actual, expected) = (%v, %v)", call.keys, []string{"a"})
	}
	if got := testee.FetchState(keyOf("a"), "thread-b"); got != livedata.InFlight {
		t.Errorf("state: (actual, expected) = (%s, %s)", got, livedata.InFlight)
	}
	if !testee.AreKeysRefreshing(keyOf("a")) {
		t.Errorf("in-flight key should be refreshing")
	}
	fetcher.none(t)

	call.resolve <- func(keys []domain.AssetKey) (map[string]livedata.Result, error) {
		return presentAll("once", keys), nil
	}
	testee.Wait()
	fetcher.none(t)

	for name, log := range map[string]*listenerLog{"thread-a": logA, "thread-b": logB} {
		if got := log.Calls(); !callsEq(got, [][]string{{"a"}}) {
			t.Errorf("%s: (actual, expected) = (%v, %v)", name, got, [][]string{{"a"}})
		}
	}
}

func TestManager_Priority(t *testing.T) {
	t.Run("older data come first, and ties keep subscription order", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		config := livedata.DefaultConfig()
		config.BatchSize = 2
		testee := livedata.New(fetcher, livedata.WithClock(fake), livedata.WithConfig(config))
		defer testee.Close()

		if _, err := testee.SubscribeAll(keysOf("a", "b", "c", "d"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		fake.Advance(10 * time.Second)
		testee.RefreshKeys(keyOf("c"))
		if _, err := testee.Subscribe(keyOf("e"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		fake.Advance(31 * time.Second)
		testee.Tick(context.Background())
		testee.Wait()

		expected := [][]string{
			{"a", "b"}, {"c", "d"}, // first round
			{"e", "c"}, // new e comes before refreshed c
			{"a", "b"}, {"d", "c"}, {"e"}, // a, b, d are older than c and e
		}
		if got := fetcher.Calls(); !callsEq(got, expected) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, expected)
		}
	})

	t.Run("never fetched keys come first", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		config := livedata.DefaultConfig()
		config.BatchSize = 2
		testee := livedata.New(fetcher, livedata.WithClock(fake), livedata.WithConfig(config))
		defer testee.Close()

		if _, err := testee.SubscribeAll(keysOf("a", "b"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		fake.Advance(31 * time.Second)
		if _, err := testee.Subscribe(keyOf("n"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		expected := [][]string{{"a", "b"}, {"n", "a"}, {"b"}}
		if got := fetcher.Calls(); !callsEq(got, expected) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, expected)
		}
	})
}

func TestManager_Batching(t *testing.T) {
	fake := clock.NewFake(t0)
	fetcher := &recordingFetcher{}
	testee := livedata.New(fetcher, livedata.WithClock(fake))
	defer testee.Close()

	tokens := []string{}
	for i := 0; i < 120; i++ {
		tokens = append(tokens, fmt.Sprintf("asset/%03d", i))
	}
	if _, err := testee.SubscribeAll(keysOf(tokens...), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
		t.Fatal(err)
	}
	fake.Advance(0)
	testee.Wait()

	calls := fetcher.Calls()
	sizes := []int{}
	for _, c := range calls {
		sizes = append(sizes, len(c))
	}
	if !cmp.SliceEq(sizes, []int{50, 50, 20}) {
		t.Errorf("batch sizes: (actual, expected) = (%v, %v)", sizes, []int{50, 50, 20})
	}
	if !cmp.SliceEq(calls[0], tokens[:50]) || !cmp.SliceEq(calls[2], tokens[100:]) {
		t.Errorf("batches are not in subscription order: %v", calls)
	}
	if fetcher.maxRun != 1 {
		t.Errorf("fetches on a thread should not overlap: max concurrency = %d", fetcher.maxRun)
	}
}

func TestManager_Failure(t *testing.T) {
	t.Run("transport failure requeues the batch and throttles the thread", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{
			respond: func(nth int, keys []domain.AssetKey) (map[string]livedata.Result, error) {
				if nth == 1 {
					return nil, errors.New("connection refused")
				}
				return presentAll("ok", keys), nil
			},
		}
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		if _, err := testee.SubscribeAll(keysOf("a", "b"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		if got := testee.FetchState(keyOf("a"), livedata.DefaultThread); got != livedata.Queued {
			t.Errorf("state after failure: (actual, expected) = (%s, %s)", got, livedata.Queued)
		}
		if !testee.AreKeysRefreshing(keyOf("b")) {
			t.Errorf("requeued key should be refreshing")
		}

		fake.Advance(29 * time.Second)
		testee.Tick(context.Background())
		testee.Wait()
		if got := fetcher.Calls(); len(got) != 1 {
			t.Fatalf("throttled thread fetched: %v", got)
		}

		fake.Advance(2 * time.Second)
		testee.Tick(context.Background())
		testee.Wait()
		if got := fetcher.Calls(); !callsEq(got, [][]string{{"a", "b"}, {"a", "b"}}) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, [][]string{{"a", "b"}, {"a", "b"}})
		}
		if got := testee.FetchState(keyOf("a"), livedata.DefaultThread); got != livedata.Fresh {
			t.Errorf("state after retry: (actual, expected) = (%s, %s)", got, livedata.Fresh)
		}
	})

	t.Run("per-key error requeues only the key, and absent key keeps its data", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{
			respond: func(nth int, keys []domain.AssetKey) (map[string]livedata.Result, error) {
				if nth == 1 {
					return presentAll("first", keys), nil
				}
				return map[string]livedata.Result{
					"a": livedata.Failed(errors.New("timeout")),
					// "b" is absent
					"c": livedata.Present(domain.LiveData{StepKey: "second"}),
				}, nil
			},
		}
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		log := &listenerLog{}
		if _, err := testee.SubscribeAll(keysOf("a", "b", "c"), livedata.DefaultThread, log.listen); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		testee.RefreshKeys()
		fake.Advance(0)
		testee.Wait()

		if got := log.Calls(); !callsEq(got, [][]string{{"a", "b", "c"}, {"c"}}) {
			t.Errorf("notifications: (actual, expected) = (%v, %v)", got, [][]string{{"a", "b", "c"}, {"c"}})
		}
		if data, _ := testee.CacheEntry(keyOf("b")); data == nil || data.StepKey != "first" {
			t.Errorf("absent key should keep its data: %+v", data)
		}
		if data, _ := testee.CacheEntry(keyOf("a")); data == nil || data.StepKey != "first" {
			t.Errorf("failed key should keep its data: %+v", data)
		}
		if got := testee.FetchState(keyOf("a"), livedata.DefaultThread); got != livedata.Queued {
			t.Errorf("failed key: (actual, expected) = (%s, %s)", got, livedata.Queued)
		}
		if got := testee.FetchState(keyOf("b"), livedata.DefaultThread); got != livedata.Fresh {
			t.Errorf("absent key: (actual, expected) = (%s, %s)", got, livedata.Fresh)
		}
	})
}

func TestManager_Visibility(t *testing.T) {
	fake := clock.NewFake(t0)
	fetcher := &recordingFetcher{}
	testee := livedata.New(fetcher, livedata.WithClock(fake))
	defer testee.Close()

	testee.SetDocumentVisible(false)
	if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
		t.Fatal(err)
	}
	fake.Advance(time.Minute)
	testee.Tick(context.Background())
	testee.Wait()
	if got := fetcher.Calls(); len(got) != 0 {
		t.Fatalf("fetched while hidden: %v", got)
	}

	testee.SetDocumentVisible(true)
	testee.Wait()
	if got := fetcher.Calls(); !callsEq(got, [][]string{{"a"}}) {
		t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, [][]string{{"a"}})
	}
}

func TestManager_PollRate(t *testing.T) {
	t.Run("each thread polls at its own rate", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		testee := livedata.New(
			fetcher, livedata.WithClock(fake),
			livedata.WithThread("fast", 5*time.Second),
		)
		defer testee.Close()

		if _, err := testee.Subscribe(keyOf("slow"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		if _, err := testee.Subscribe(keyOf("quick"), "fast", func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		fake.Advance(6 * time.Second)
		testee.Tick(context.Background())
		testee.Wait()

		calls := fetcher.Calls()
		if len(calls) != 3 || !cmp.SliceEq(calls[2], []string{"quick"}) {
			t.Errorf("unmatch: %v", calls)
		}
		if got := testee.FetchState(keyOf("slow"), livedata.DefaultThread); got != livedata.Fresh {
			t.Errorf("slow: (actual, expected) = (%s, %s)", got, livedata.Fresh)
		}

		testee.SetPollRate(livedata.DefaultThread, time.Second)
		if got := testee.FetchState(keyOf("slow"), livedata.DefaultThread); got != livedata.Stale {
			t.Errorf("slow with short rate: (actual, expected) = (%s, %s)", got, livedata.Stale)
		}
	})

	t.Run("it polls fast for a while after launch", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		config := livedata.DefaultConfig()
		config.LaunchWindow = time.Minute
		testee := livedata.New(fetcher, livedata.WithClock(fake), livedata.WithConfig(config))
		defer testee.Close()

		if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		fake.Advance(3 * time.Second)
		testee.Tick(context.Background())
		testee.Wait()
		if got := len(fetcher.Calls()); got != 1 {
			t.Fatalf("idle thread fetched too early: %d", got)
		}

		testee.NotifyLaunched()
		fake.Advance(0)
		testee.Wait()
		if got := len(fetcher.Calls()); got != 2 {
			t.Fatalf("launch should refresh: %d", got)
		}

		fake.Advance(3 * time.Second)
		testee.Tick(context.Background())
		testee.Wait()
		if got := len(fetcher.Calls()); got != 3 {
			t.Errorf("it should poll fast after launch: %d", got)
		}

		fake.Advance(2 * time.Minute)
		testee.Tick(context.Background())
		testee.Wait()
		fake.Advance(3 * time.Second)
		testee.Tick(context.Background())
		testee.Wait()
		if got := len(fetcher.Calls()); got != 4 {
			t.Errorf("it should be back to idle rate: %d", got)
		}
	})
}

func TestManager_OldestDataTimestamp(t *testing.T) {
	fake := clock.NewFake(t0)
	fetcher := newBlockingFetcher()
	testee := livedata.New(fetcher, livedata.WithClock(fake))
	defer testee.Close()

	if got := testee.OldestDataTimestamp(); got.IsRefreshing || !got.OldestDataTimestamp.IsZero() {
		t.Errorf("empty manager: %+v", got)
	}

	if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
		t.Fatal(err)
	}
	fake.Advance(0)
	call := fetcher.next(t)
	if got := testee.OldestDataTimestamp(); !got.IsRefreshing || !got.OldestDataTimestamp.IsZero() {
		t.Errorf("while fetching: %+v", got)
	}
	call.resolve <- func(keys []domain.AssetKey) (map[string]livedata.Result, error) {
		return presentAll("a", keys), nil
	}
	testee.Wait()

	fake.Advance(5 * time.Second)
	if _, err := testee.Subscribe(keyOf("b"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
		t.Fatal(err)
	}
	fake.Advance(0)
	call = fetcher.next(t)
	call.resolve <- func(keys []domain.AssetKey) (map[string]livedata.Result, error) {
		return presentAll("b", keys), nil
	}
	testee.Wait()

	got := testee.OldestDataTimestamp()
	if got.IsRefreshing {
		t.Errorf("it should not be refreshing: %+v", got)
	}
	if !got.OldestDataTimestamp.Equal(t0) {
		t.Errorf("oldest: (actual, expected) = (%v, %v)", got.OldestDataTimestamp, t0)
	}
}

func TestManager_OnUpdatingOrUpdated(t *testing.T) {
	fake := clock.NewFake(t0)
	testee := livedata.New(&recordingFetcher{}, livedata.WithClock(fake))
	defer testee.Close()

	var mu sync.Mutex
	count := 0
	testee.OnUpdatingOrUpdated(func() {
		mu.Lock()
		defer mu.Unlock()
		count += 1
	})
	if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
		t.Fatal(err)
	}
	fake.Advance(0)
	testee.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("it should be called when starting and when settled: %d", count)
	}
}

func TestManager_ListenerMayCallManager(t *testing.T) {
	fake := clock.NewFake(t0)
	testee := livedata.New(&recordingFetcher{}, livedata.WithClock(fake))
	defer testee.Close()

	var got *domain.LiveData
	if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func(updates []livedata.Update) {
		got, _ = testee.CacheEntry(updates[0].Key)
	}); err != nil {
		t.Fatal(err)
	}
	fake.Advance(0)
	testee.Wait()

	if got == nil {
		t.Errorf("listener could not read the cache")
	}
}

func TestManager_Run(t *testing.T) {
	fetcher := &recordingFetcher{}
	config := livedata.DefaultConfig()
	config.IdlePollRate = 5 * time.Millisecond
	config.TickInterval = 5 * time.Millisecond
	testee := livedata.New(fetcher, livedata.WithConfig(config))
	defer testee.Close()

	if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := testee.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unexpected error: %v", err)
	}
	testee.Wait()

	if got := len(fetcher.Calls()); got < 2 {
		t.Errorf("it should poll repeatedly: %d", got)
	}

	t.Run("it returns nil when the manager is closed", func(t *testing.T) {
		testee := livedata.New(&recordingFetcher{})
		done := make(chan error, 1)
		go func() { done <- testee.Run(context.Background()) }()
		testee.Close()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run does not return")
		}
	})
}

func TestManager_RefreshOnlySubscribed(t *testing.T) {
	t.Run("refreshing a key nobody subscribes does nothing", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		testee.Wait()

		testee.RefreshKeys(keyOf("never/subscribed"))
		for range 5 {
			fake.Advance(time.Second)
			testee.Tick(context.Background())
			testee.Wait()
		}

		if testee.AreKeysRefreshing(keyOf("never/subscribed")) {
			t.Errorf("key not subscribed should not be refreshing")
		}
		if _, ok := testee.CacheEntry(keyOf("never/subscribed")); ok {
			t.Errorf("key not subscribed should not be cached")
		}
		if got := testee.FetchState(keyOf("never/subscribed"), livedata.DefaultThread); got != livedata.NeverFetched {
			t.Errorf("state: (actual, expected) = (%s, %s)", got, livedata.NeverFetched)
		}
		if got := fetcher.Calls(); !callsEq(got, [][]string{{"a"}}) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, [][]string{{"a"}})
		}
	})

	t.Run("the last unsubscribe before dispatch leaves the key idle", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		unsubscribe, err := testee.Subscribe(keyOf("x"), livedata.DefaultThread, func([]livedata.Update) {})
		if err != nil {
			t.Fatal(err)
		}
		unsubscribe()

		fake.Advance(time.Minute)
		testee.Tick(context.Background())
		testee.Wait()

		if testee.AreKeysRefreshing(keyOf("x")) {
			t.Errorf("unsubscribed key should not be refreshing")
		}
		if st := testee.OldestDataTimestamp(); st.IsRefreshing {
			t.Errorf("nothing should be refreshing: %+v", st)
		}
		if got := fetcher.Calls(); len(got) != 0 {
			t.Errorf("unexpected fetch: %v", got)
		}
	})

	t.Run("a key subscribed on another thread stays queued", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := &recordingFetcher{}
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		unsubscribe, err := testee.Subscribe(keyOf("x"), "thread-a", func([]livedata.Update) {})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := testee.Subscribe(keyOf("x"), "thread-b", func([]livedata.Update) {}); err != nil {
			t.Fatal(err)
		}
		unsubscribe()

		if !testee.AreKeysRefreshing(keyOf("x")) {
			t.Errorf("key still subscribed should be refreshing")
		}
		fake.Advance(0)
		testee.Wait()
		if got := fetcher.Calls(); !callsEq(got, [][]string{{"x"}}) {
			t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, [][]string{{"x"}})
		}
	})

	t.Run("a key unsubscribed while in flight is not requeued on failure", func(t *testing.T) {
		fake := clock.NewFake(t0)
		fetcher := newBlockingFetcher()
		testee := livedata.New(fetcher, livedata.WithClock(fake))
		defer testee.Close()

		unsubscribe, err := testee.Subscribe(keyOf("x"), livedata.DefaultThread, func([]livedata.Update) {})
		if err != nil {
			t.Fatal(err)
		}
		fake.Advance(0)
		call := fetcher.next(t)

		testee.RefreshKeys(keyOf("x"))
		unsubscribe()
		call.resolve <- func([]domain.AssetKey) (map[string]livedata.Result, error) {
			return nil, errors.New("connection reset")
		}
		testee.Wait()

		if testee.AreKeysRefreshing(keyOf("x")) {
			t.Errorf("unsubscribed key should not be refreshing")
		}
		fetcher.none(t)
	})
}

func TestManager_KeyErrorDoesNotHoldThread(t *testing.T) {
	fake := clock.NewFake(t0)
	fetcher := &recordingFetcher{
		respond: func(nth int, keys []domain.AssetKey) (map[string]livedata.Result, error) {
			if nth == 1 {
				return map[string]livedata.Result{"a": livedata.Failed(errors.New("timeout"))}, nil
			}
			return presentAll("ok", keys), nil
		},
	}
	testee := livedata.New(fetcher, livedata.WithClock(fake))
	defer testee.Close()

	if _, err := testee.Subscribe(keyOf("a"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
		t.Fatal(err)
	}
	fake.Advance(0)
	testee.Wait()

	if _, err := testee.Subscribe(keyOf("new"), livedata.DefaultThread, func([]livedata.Update) {}); err != nil {
		t.Fatal(err)
	}
	fake.Advance(0)
	testee.Wait()

	if got := fetcher.Calls(); !callsEq(got, [][]string{{"a"}, {"new"}}) {
		t.Fatalf("unmatch: (actual, expected) = (%v, %v)", got, [][]string{{"a"}, {"new"}})
	}
	if got := testee.FetchState(keyOf("new"), livedata.DefaultThread); got != livedata.Fresh {
		t.Errorf("new key: (actual, expected) = (%s, %s)", got, livedata.Fresh)
	}
	if got := testee.FetchState(keyOf("a"), livedata.DefaultThread); got != livedata.Queued {
		t.Errorf("failed key: (actual, expected) = (%s, %s)", got, livedata.Queued)
	}

	// the failed key waits for one poll interval.
	fake.Advance(29 * time.Second)
	testee.Tick(context.Background())
	testee.Wait()
	if got := fetcher.Calls(); len(got) != 2 {
		t.Fatalf("failed key is retried too early: %v", got)
	}

	fake.Advance(2 * time.Second)
	testee.Tick(context.Background())
	testee.Wait()
	expected := [][]string{{"a"}, {"new"}, {"a", "new"}}
	if got := fetcher.Calls(); !callsEq(got, expected) {
		t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, expected)
	}
	if got := testee.FetchState(keyOf("a"), livedata.DefaultThread); got != livedata.Fresh {
		t.Errorf("retried key: (actual, expected) = (%s, %s)", got, livedata.Fresh)
	}
}
