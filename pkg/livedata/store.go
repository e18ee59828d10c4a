package livedata

import (
	"time"

	"github.com/opst/assetgraph/pkg/domain"
)

type entry struct {
	key  domain.AssetKey
	data *domain.LiveData

	// when data is written last. zero if never.
	fetchedAt time.Time

	// when the key is dispatched last. zero if never.
	requestedAt time.Time

	queued   bool
	inFlight bool

	// refresh is requested while in flight.
	requeue bool

	// queued after an error of its own. not dispatched before this.
	retryAt time.Time

	// dispatch sequence of the fetch which wrote data.
	writtenSeq uint64
}

// lastTouched is the later of fetchedAt and requestedAt.
func (e *entry) lastTouched() time.Time {
	if e.fetchedAt.After(e.requestedAt) {
		return e.fetchedAt
	}
	return e.requestedAt
}

// store is the cache shared by all threads. It is not goroutine safe.
type store struct {
	entries map[string]*entry
}

func newStore() *store {
	return &store{entries: map[string]*entry{}}
}

func (s *store) get(token string) (*entry, bool) {
	e, ok := s.entries[token]
	return e, ok
}

func (s *store) ensure(key domain.AssetKey) *entry {
	token := key.Token()
	if e, ok := s.entries[token]; ok {
		return e
	}
	e := &entry{key: key}
	s.entries[token] = e
	return e
}

// apply writes data fetched by a fetch started with seq.
//
// Results from a fetch started before the one which has written the current data are discarded.
//
// # Returns
//
// - bool: true if data is written.
func (s *store) apply(key domain.AssetKey, data *domain.LiveData, seq uint64, now time.Time) bool {
	e := s.ensure(key)
	if seq < e.writtenSeq {
		return false
	}
	e.data = data
	e.writtenSeq = seq
	e.fetchedAt = now
	return true
}
