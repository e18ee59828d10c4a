package livedata

import (
	"sync"
	"time"

	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata/clock"
)

type watcher struct {
	mu       sync.Mutex
	clock    Clock
	interval time.Duration
	onChange func(map[string]*domain.LiveData)

	snapshot  map[string]*domain.LiveData
	timer     clock.Timer
	flushed   bool
	lastFlush time.Time
	stopped   bool
}

// Watch subscribes keys on thread and reports a snapshot of their data to onChange.
//
// Updates are coalesced: the first one is reported on the next turn of the manager's clock,
// and later ones at most once per interval.
// The snapshot is keyed by AssetKey.Token, and onChange owns it.
//
// # Returns
//
// - func(): stops watching. Pending reports are dropped.
//
// - error: ErrClosed if the manager is closed.
func Watch(
	m *Manager,
	keys []domain.AssetKey,
	thread ThreadID,
	interval time.Duration,
	onChange func(map[string]*domain.LiveData),
) (func(), error) {
	w := &watcher{
		clock:    m.clock,
		interval: interval,
		onChange: onChange,
		snapshot: map[string]*domain.LiveData{},
	}
	unsubscribe, err := m.SubscribeAll(keys, thread, w.update)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.stopped = true
			if w.timer != nil {
				w.timer.Stop()
				w.timer = nil
			}
			w.mu.Unlock()
			unsubscribe()
		})
	}, nil
}

func (w *watcher) update(updates []Update) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	for _, u := range updates {
		w.snapshot[u.Key.Token()] = u.Data
	}
	if w.timer != nil {
		return
	}

	delay := time.Duration(0)
	if w.flushed {
		delay = w.interval - w.clock.Now().Sub(w.lastFlush)
		if delay < 0 {
			delay = 0
		}
	}
	w.timer = w.clock.AfterFunc(delay, w.flush)
}

func (w *watcher) flush() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.flushed = true
	w.lastFlush = w.clock.Now()
	snapshot := make(map[string]*domain.LiveData, len(w.snapshot))
	for k, v := range w.snapshot {
		snapshot[k] = v
	}
	w.mu.Unlock()

	w.onChange(snapshot)
}
