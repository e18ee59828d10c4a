package livedata

import (
	"sort"

	"github.com/opst/assetgraph/pkg/domain"
)

// InProgressRunIDs returns ids of runs which may still change subscribed assets.
//
// They are collected from unstarted runs, in-progress runs and asset check executions
// in cached data. The result is sorted and has no duplicates.
func (m *Manager) InProgressRunIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := map[string]struct{}{}
	for _, k := range m.subscribedKeysLocked() {
		e, ok := m.store.get(k.Token())
		if !ok {
			continue
		}
		for _, id := range e.data.RunIDs() {
			set[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HandleRunEvents refreshes subscribed keys when any of events concerns them.
//
// An event concerns a key when it names the key, or when its step key is one of op names of the key.
//
// # Returns
//
// - bool: true if refresh is requested.
func (m *Manager) HandleRunEvents(events []domain.RunEvent) bool {
	m.mu.Lock()
	tokens := map[string]struct{}{}
	ops := map[string]struct{}{}
	for _, k := range m.subscribedKeysLocked() {
		tokens[k.Token()] = struct{}{}
		if e, ok := m.store.get(k.Token()); ok && e.data != nil {
			for _, op := range e.data.OpNames {
				ops[op] = struct{}{}
			}
			if e.data.StepKey != "" {
				ops[e.data.StepKey] = struct{}{}
			}
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		if ev.AssetKey != nil {
			if _, ok := tokens[ev.AssetKey.Token()]; ok {
				m.RefreshKeys()
				return true
			}
		}
		if ev.StepKey != "" {
			if _, ok := ops[ev.StepKey]; ok {
				m.RefreshKeys()
				return true
			}
		}
	}
	return false
}
