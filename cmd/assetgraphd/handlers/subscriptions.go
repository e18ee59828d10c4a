package handlers

import (
	"sync"

	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata"
)

// Subscriptions keeps keys subscribed through the API until Close.
//
// Each key is subscribed at most once per thread.
type Subscriptions struct {
	manager *livedata.Manager
	mu      sync.Mutex
	kept    map[livedata.ThreadID]map[string]func()
}

func NewSubscriptions(m *livedata.Manager) *Subscriptions {
	return &Subscriptions{manager: m, kept: map[livedata.ThreadID]map[string]func(){}}
}

// Keep subscribes keys which are not subscribed on thread yet.
//
// # Returns
//
// - error: livedata.ErrClosed if the manager is closed.
func (s *Subscriptions) Keep(keys []domain.AssetKey, thread livedata.ThreadID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept, ok := s.kept[thread]
	if !ok {
		kept = map[string]func(){}
		s.kept[thread] = kept
	}
	for _, k := range keys {
		token := k.Token()
		if _, ok := kept[token]; ok {
			continue
		}
		unsubscribe, err := s.manager.Subscribe(k, thread, func([]livedata.Update) {})
		if err != nil {
			return err
		}
		kept[token] = unsubscribe
	}
	return nil
}

// Len is the number of kept subscriptions over all threads.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, kept := range s.kept {
		n += len(kept)
	}
	return n
}

// Close unsubscribes all.
func (s *Subscriptions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kept := range s.kept {
		for _, unsubscribe := range kept {
			unsubscribe()
		}
	}
	s.kept = map[livedata.ThreadID]map[string]func(){}
}
