package engine

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/applimit/internal/core"
)

// StatePool bounds the number of userState instances the Controller keeps
// warm, evicting the least-recently-touched ones once the idle check
// (SPEC_FULL.md §4.7) passes. A user with active entities or indexed groups
// is never evicted — Touch quietly re-inserts it instead, so the pool only
// ever sheds truly idle users and otherwise grows past its nominal capacity
// rather than corrupt live state, generalizing the unbounded-growth note in
// spec.md §9 from ObserverAppData to UserState.
type StatePool struct {
	cache   *lru.Cache[core.UserID, struct{}]
	isIdle  func(core.UserID) bool
	forget  func(core.UserID)
	pending []core.UserID
}

// NewStatePool builds a pool capped at capacity entries. isIdle reports
// whether a userID's userState currently has no active entities and no
// indexed groups; forget actually deletes the userState.
func NewStatePool(capacity int, isIdle func(core.UserID) bool, forget func(core.UserID)) (*StatePool, error) {
	sp := &StatePool{isIdle: isIdle, forget: forget}
	cache, err := lru.NewWithEvict[core.UserID, struct{}](capacity, sp.onEvict)
	if err != nil {
		return nil, err
	}
	sp.cache = cache
	return sp, nil
}

func (sp *StatePool) onEvict(userID core.UserID, _ struct{}) {
	sp.pending = append(sp.pending, userID)
}

// Touch records userID as most-recently-used. If this pushes the pool over
// capacity, the evicted entry is forgotten when idle, or re-admitted
// (bumping something else out instead) when it isn't.
func (sp *StatePool) Touch(userID core.UserID) {
	sp.cache.Add(userID, struct{}{})

	seen := map[core.UserID]bool{userID: true}
	for len(sp.pending) > 0 {
		batch := sp.pending
		sp.pending = nil
		for _, ev := range batch {
			if seen[ev] {
				continue
			}
			seen[ev] = true
			if sp.isIdle(ev) {
				sp.forget(ev)
				continue
			}
			sp.cache.Add(ev, struct{}{})
		}
	}
}

// Forget drops userID from the pool's recency tracking without consulting
// isIdle or calling forget — used when the Controller already removed the
// userState through some other path (OnUserRemoved).
func (sp *StatePool) Forget(userID core.UserID) {
	sp.cache.Remove(userID)
	sp.pending = nil
}
