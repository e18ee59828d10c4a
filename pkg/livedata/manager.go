package livedata

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata/clock"
	"github.com/opst/assetgraph/pkg/loop"
	"github.com/opst/assetgraph/pkg/utils/maps"
)

type subscription struct {
	id       uint64
	thread   *thread
	keys     []domain.AssetKey
	tokens   map[string]struct{}
	listener Listener
	active   atomic.Bool
}

type thread struct {
	id ThreadID

	// 0 means "use the manager's rate".
	pollRate time.Duration

	// subscribed keys in subscription order, with reference counts.
	keys *maps.Ordered[string, domain.AssetKey]
	refs map[string]int

	subscriptions *maps.Ordered[uint64, *subscription]

	inFlight       int
	throttledUntil time.Time
	kickPending    bool
}

type notification struct {
	sub     *subscription
	updates []Update
}

// Manager caches live data of assets and keeps it fresh for subscribers.
//
// Create it with New, and release it with Close.
// Multiple Managers can live in a process; they share nothing.
type Manager struct {
	mu sync.Mutex

	fetcher Fetcher
	clock   Clock
	logger  *log.Logger
	config  Config

	store   *store
	threads *maps.Ordered[ThreadID, *thread]

	visible     bool
	closed      bool
	launchedAt  time.Time
	dispatchSeq uint64
	subSeq      uint64

	outbox   []notification
	draining bool

	onSubscriptionsChanged []func([]domain.AssetKey)
	onUpdating             []func()

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New creates a Manager fetching live data with fetcher.
//
// By default, it uses the real clock, discards logs and takes DefaultConfig.
// The document is visible at start.
func New(fetcher Fetcher, options ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		fetcher: fetcher,
		clock:   clock.Real(),
		logger:  nullLogger(),
		config:  DefaultConfig(),
		store:   newStore(),
		threads: maps.NewOrdered[ThreadID, *thread](),
		visible: true,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Close stops scheduling. Fetches in flight are canceled via their context.
//
// Subscribe after Close fails with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, th := range m.threads.Values() {
		for _, sub := range th.subscriptions.Values() {
			sub.active.Store(false)
		}
	}
	m.mu.Unlock()
	m.cancel()
}

// Wait blocks until all dispatched fetches, including ones chained by them, are resolved.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) threadOf(id ThreadID) *thread {
	if th, ok := m.threads.Get(id); ok {
		return th
	}
	th := &thread{
		id:            id,
		keys:          maps.NewOrdered[string, domain.AssetKey](),
		refs:          map[string]int{},
		subscriptions: maps.NewOrdered[uint64, *subscription](),
	}
	m.threads.Set(id, th)
	return th
}

func (m *Manager) pollRateLocked(th *thread, now time.Time) time.Duration {
	if 0 < th.pollRate {
		return th.pollRate
	}
	if !m.launchedAt.IsZero() && now.Sub(m.launchedAt) < m.config.LaunchWindow {
		return m.config.FastPollRate
	}
	return m.config.IdlePollRate
}

// Subscribe registers listener for key on thread.
//
// If key has cached data, listener receives it before Subscribe returns,
// unless another goroutine is delivering notifications at that moment.
// In that case, it is delivered after them.
//
// # Returns
//
// - func(): unsubscribe. Calling it twice or more is harmless.
//
// - error: ErrClosed if the manager is closed.
func (m *Manager) Subscribe(key domain.AssetKey, thread ThreadID, listener Listener) (func(), error) {
	return m.SubscribeAll([]domain.AssetKey{key}, thread, listener)
}

// SubscribeAll is Subscribe for multiple keys in one subscription.
//
// Cached data of the keys are delivered in one call.
func (m *Manager) SubscribeAll(keys []domain.AssetKey, thread ThreadID, listener Listener) (func(), error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}

	th := m.threadOf(thread)
	m.subSeq += 1
	sub := &subscription{
		id:       m.subSeq,
		thread:   th,
		tokens:   map[string]struct{}{},
		listener: listener,
	}
	sub.active.Store(true)

	now := m.clock.Now()
	rate := m.pollRateLocked(th, now)
	cached := []Update{}
	for _, k := range keys {
		token := k.Token()
		if _, dup := sub.tokens[token]; dup {
			continue
		}
		sub.tokens[token] = struct{}{}
		sub.keys = append(sub.keys, k)

		if th.refs[token] == 0 {
			th.keys.Set(token, k)
		}
		th.refs[token] += 1

		e := m.store.ensure(k)
		if e.data != nil {
			cached = append(cached, Update{Key: e.key, Data: e.data})
		}
		if !e.inFlight && (e.fetchedAt.IsZero() || rate < now.Sub(e.lastTouched())) {
			e.queued = true
		}
	}
	th.subscriptions.Set(sub.id, sub)
	if len(cached) != 0 {
		m.outbox = append(m.outbox, notification{sub: sub, updates: cached})
	}
	m.kickLocked(th)
	hooks, subscribed := m.subscriptionHooksLocked()
	m.mu.Unlock()

	m.drain()
	for _, h := range hooks {
		h(subscribed)
	}

	var once sync.Once
	return func() { once.Do(func() { m.unsubscribe(sub) }) }, nil
}

func (m *Manager) unsubscribe(sub *subscription) {
	m.mu.Lock()
	sub.active.Store(false)
	th := sub.thread
	th.subscriptions.Delete(sub.id)
	for _, k := range sub.keys {
		token := k.Token()
		th.refs[token] -= 1
		if 0 < th.refs[token] {
			continue
		}
		delete(th.refs, token)
		th.keys.Delete(token)

		// nobody is waiting for it any more. data stay in cache.
		if e, ok := m.store.get(token); ok && !m.subscribedLocked(token) {
			e.queued = false
			e.requeue = false
			e.retryAt = time.Time{}
		}
	}
	hooks, subscribed := m.subscriptionHooksLocked()
	m.mu.Unlock()

	for _, h := range hooks {
		h(subscribed)
	}
}

// subscribedLocked tells whether token is subscribed on any thread.
func (m *Manager) subscribedLocked(token string) bool {
	for _, th := range m.threads.Values() {
		if 0 < th.refs[token] {
			return true
		}
	}
	return false
}

// subscribed keys over all threads, in thread order and then subscription order.
func (m *Manager) subscribedKeysLocked() []domain.AssetKey {
	seen := map[string]struct{}{}
	keys := []domain.AssetKey{}
	for _, th := range m.threads.Values() {
		for token, k := range th.keys.Iter() {
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *Manager) subscriptionHooksLocked() ([]func([]domain.AssetKey), []domain.AssetKey) {
	if len(m.onSubscriptionsChanged) == 0 {
		return nil, nil
	}
	hooks := make([]func([]domain.AssetKey), len(m.onSubscriptionsChanged))
	copy(hooks, m.onSubscriptionsChanged)
	return hooks, m.subscribedKeysLocked()
}

// OnSubscriptionsChanged registers f called with all subscribed keys whenever subscriptions change.
func (m *Manager) OnSubscriptionsChanged(f func([]domain.AssetKey)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSubscriptionsChanged = append(m.onSubscriptionsChanged, f)
}

// OnUpdatingOrUpdated registers f called when a fetch starts and when it is settled.
func (m *Manager) OnUpdatingOrUpdated(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdating = append(m.onUpdating, f)
}

func (m *Manager) fireUpdating() {
	m.mu.Lock()
	hooks := make([]func(), len(m.onUpdating))
	copy(hooks, m.onUpdating)
	m.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// RefreshKeys requests fetching keys regardless of their freshness.
//
// Without keys, all subscribed keys are requested.
// Keys not subscribed on any thread are ignored.
// Keys in flight are fetched again after the current fetch.
func (m *Manager) RefreshKeys(keys ...domain.AssetKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if len(keys) == 0 {
		keys = m.subscribedKeysLocked()
	}
	for _, k := range keys {
		if !m.subscribedLocked(k.Token()) {
			continue
		}
		e := m.store.ensure(k)
		e.retryAt = time.Time{}
		if e.inFlight {
			e.requeue = true
		} else {
			e.queued = true
		}
	}
	for _, th := range m.threads.Values() {
		th.throttledUntil = time.Time{}
		m.kickLocked(th)
	}
}

// CacheEntry returns cached data of key, if any. It does not cause fetching.
func (m *Manager) CacheEntry(key domain.AssetKey) (*domain.LiveData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store.get(key.Token())
	if !ok || e.data == nil {
		return nil, false
	}
	return e.data, true
}

// AreKeysRefreshing reports whether any of keys is queued or in flight.
func (m *Manager) AreKeysRefreshing(keys ...domain.AssetKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if e, ok := m.store.get(k.Token()); ok && (e.queued || e.inFlight) {
			return true
		}
	}
	return false
}

type Status struct {
	IsRefreshing bool `json:"isRefreshing"`

	// the oldest fetch time over subscribed keys having data. zero if none.
	OldestDataTimestamp time.Time `json:"oldestDataTimestamp"`
}

func (m *Manager) OldestDataTimestamp() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{}
	for _, th := range m.threads.Values() {
		if 0 < th.inFlight {
			status.IsRefreshing = true
		}
	}
	for _, k := range m.subscribedKeysLocked() {
		e, ok := m.store.get(k.Token())
		if !ok {
			continue
		}
		if e.queued || e.inFlight {
			status.IsRefreshing = true
		}
		if e.data == nil || e.fetchedAt.IsZero() {
			continue
		}
		if status.OldestDataTimestamp.IsZero() || e.fetchedAt.Before(status.OldestDataTimestamp) {
			status.OldestDataTimestamp = e.fetchedAt
		}
	}
	return status
}

// FetchState tells the state of key seen from thread.
func (m *Manager) FetchState(key domain.AssetKey, threadID ThreadID) FetchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store.get(key.Token())
	switch {
	case !ok:
		return NeverFetched
	case e.inFlight:
		return InFlight
	case e.queued:
		return Queued
	case e.fetchedAt.IsZero():
		return NeverFetched
	}
	th, ok := m.threads.Get(threadID)
	if !ok {
		// unknown thread polls at the manager's rate.
		th = &thread{}
	}
	now := m.clock.Now()
	if m.pollRateLocked(th, now) < now.Sub(e.fetchedAt) {
		return Stale
	}
	return Fresh
}

// SetPollRate overrides the poll rate of thread. Non-positive d reverts to the default.
func (m *Manager) SetPollRate(thread ThreadID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th := m.threadOf(thread)
	th.pollRate = d
	m.kickLocked(th)
}

// SetDocumentVisible pauses (false) or resumes (true) scheduling.
//
// On resume, every thread is scheduled at once.
func (m *Manager) SetDocumentVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.visible
	m.visible = visible
	if visible && !was {
		for _, th := range m.threads.Values() {
			m.dispatchLocked(th)
		}
	}
}

// NotifyLaunched tells that a run is launched.
//
// For a while after that, threads without their own rate poll fast.
// Subscribed keys are refreshed, too.
func (m *Manager) NotifyLaunched() {
	m.mu.Lock()
	m.launchedAt = m.clock.Now()
	m.mu.Unlock()
	m.RefreshKeys()
}

// Tick runs one scheduling pass over every thread.
func (m *Manager) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, th := range m.threads.Values() {
		m.dispatchLocked(th)
	}
}

// Run calls Tick every TickInterval until ctx is done or the manager is closed.
//
// # Returns
//
// - error: ctx.Err() when ctx is done. nil when the manager is closed.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	_, err := loop.Start(
		ctx, struct{}{},
		func(ctx context.Context, s struct{}) (struct{}, loop.Next) {
			m.Tick(ctx)
			return s, loop.Continue(m.config.TickInterval)
		},
		loop.WithTimer(func(d time.Duration) (<-chan time.Time, func() bool) {
			return clock.After(m.clock, d)
		}),
	)
	if m.ctx.Err() != nil {
		return nil
	}
	return err
}

// schedule a pass for th on the next turn of the clock.
func (m *Manager) kickLocked(th *thread) {
	if th.kickPending || m.closed {
		return
	}
	th.kickPending = true
	m.clock.AfterFunc(0, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		th.kickPending = false
		m.dispatchLocked(th)
	})
}

// eligible entries of th, in priority order.
func (m *Manager) eligibleLocked(th *thread, now time.Time) []*entry {
	rate := m.pollRateLocked(th, now)
	candidates := []*entry{}
	for _, k := range th.keys.Iter() {
		e := m.store.ensure(k)
		if e.inFlight || now.Before(e.retryAt) {
			continue
		}
		last := e.lastTouched()
		if e.queued || last.IsZero() || rate < now.Sub(last) {
			candidates = append(candidates, e)
		}
	}

	// never fetched first, and then older first. Ties keep subscription order.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].fetchedAt, candidates[j].fetchedAt
		if a.IsZero() != b.IsZero() {
			return a.IsZero()
		}
		return a.Before(b)
	})
	return candidates
}

func (m *Manager) dispatchLocked(th *thread) {
	if m.closed || !m.visible {
		return
	}
	now := m.clock.Now()
	if now.Before(th.throttledUntil) {
		return
	}

	for th.inFlight < m.config.ParallelFetches {
		batch := m.eligibleLocked(th, now)
		if len(batch) == 0 {
			return
		}
		if m.config.BatchSize < len(batch) {
			batch = batch[:m.config.BatchSize]
		}

		m.dispatchSeq += 1
		keys := make([]domain.AssetKey, len(batch))
		for i, e := range batch {
			e.inFlight = true
			e.queued = false
			e.requestedAt = now
			keys[i] = e.key
		}
		th.inFlight += 1
		m.inflight.Add(1)
		go m.fetch(th, keys, m.dispatchSeq)
	}
}

func (m *Manager) fetch(th *thread, keys []domain.AssetKey, seq uint64) {
	defer m.inflight.Done()

	m.fireUpdating()
	results, err := m.fetcher.Fetch(m.ctx, keys)

	m.mu.Lock()
	now := m.clock.Now()
	th.inFlight -= 1
	rate := m.pollRateLocked(th, now)

	changed := []Update{}
	failed := false
	if err != nil {
		m.logger.Printf("fetching %d keys on thread %q failed. retry in %s: %v", len(keys), th.id, rate, err)
		failed = true
		for _, k := range keys {
			e := m.store.ensure(k)
			e.inFlight = false
			e.queued = m.subscribedLocked(e.key.Token())
			e.requeue = false
		}
	} else {
		for _, k := range keys {
			token := k.Token()
			e := m.store.ensure(k)
			e.inFlight = false

			r, ok := results[token]
			if !ok {
				r = Absent()
			}
			subscribed := m.subscribedLocked(token)
			switch r.Kind() {
			case KindPresent:
				e.retryAt = time.Time{}
				if m.store.apply(e.key, r.Data(), seq, now) {
					changed = append(changed, Update{Key: e.key, Data: e.data})
				} else {
					m.logger.Printf("discarded out of order result for %s (fetch #%d)", token, seq)
				}
				e.queued = false
			case KindError:
				m.logger.Printf("fetching %s on thread %q failed. retry in %s: %v", token, th.id, rate, r.Err())
				e.queued = subscribed
				if subscribed {
					e.retryAt = now.Add(rate)
				}
			default:
				m.logger.Printf("no live data is returned for %s", token)
				e.queued = false
			}
			if e.requeue {
				e.queued = subscribed
				e.requeue = false
				e.retryAt = time.Time{}
			}
		}
	}
	if failed {
		th.throttledUntil = now.Add(rate)
	}
	m.enqueueLocked(changed)
	m.mu.Unlock()

	m.drain()
	m.fireUpdating()

	m.mu.Lock()
	m.dispatchLocked(th)
	m.mu.Unlock()
}

// enqueue notifications of changed to subscriptions, in thread order and then subscription order.
func (m *Manager) enqueueLocked(changed []Update) {
	if len(changed) == 0 {
		return
	}
	for _, th := range m.threads.Values() {
		for _, sub := range th.subscriptions.Values() {
			updates := []Update{}
			for _, u := range changed {
				if _, ok := sub.tokens[u.Key.Token()]; ok {
					updates = append(updates, u)
				}
			}
			if len(updates) != 0 {
				m.outbox = append(m.outbox, notification{sub: sub, updates: updates})
			}
		}
	}
}

// drain delivers queued notifications one by one.
//
// Only one goroutine drains at a time, so listeners are never called concurrently.
func (m *Manager) drain() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.outbox) != 0 {
		n := m.outbox[0]
		m.outbox = m.outbox[1:]
		m.mu.Unlock()
		m.deliver(n)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *Manager) deliver(n notification) {
	if !n.sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("listener of subscription #%d panicked: %v", n.sub.id, r)
		}
	}()
	n.sub.listener(n.updates)
}
