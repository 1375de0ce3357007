package engine

import "github.com/vitaliisemenov/applimit/internal/core"

// userState is the per-user active-entity set and entity→group reverse
// index (spec.md §3, UserState). It indexes groups by core.GroupKey rather
// than by pointer: a key that no longer resolves to a live group (because
// the group was removed) simply yields nothing when looked up, instead of
// requiring a back-reference the group would otherwise have to keep alive.
type userState struct {
	currentlyActive map[core.EntityName]struct{}
	observedIndex   map[core.EntityName][]core.GroupKey
}

func newUserState() *userState {
	return &userState{
		currentlyActive: make(map[core.EntityName]struct{}),
		observedIndex:   make(map[core.EntityName][]core.GroupKey),
	}
}

// isAnyActive reports whether any of names is currently active.
func (u *userState) isAnyActive(names []core.EntityName) bool {
	for _, n := range names {
		if _, ok := u.currentlyActive[n]; ok {
			return true
		}
	}
	return false
}

// addGroup indexes key under every name it observes.
func (u *userState) addGroup(key core.GroupKey, names []core.EntityName) {
	for _, n := range names {
		u.observedIndex[n] = append(u.observedIndex[n], key)
	}
}

// removeGroup reverses addGroup, deleting any entity entry left empty.
func (u *userState) removeGroup(key core.GroupKey, names []core.EntityName) {
	for _, n := range names {
		keys := u.observedIndex[n]
		for i, k := range keys {
			if k == key {
				keys = append(keys[:i], keys[i+1:]...)
				break
			}
		}
		if len(keys) == 0 {
			delete(u.observedIndex, n)
		} else {
			u.observedIndex[n] = keys
		}
	}
}

// markActive moves name into currentlyActive and returns the groups indexed
// under it (a copy, safe for the caller to range over while groups mutate
// other state).
func (u *userState) markActive(name core.EntityName) []core.GroupKey {
	u.currentlyActive[name] = struct{}{}
	return append([]core.GroupKey(nil), u.observedIndex[name]...)
}

// markInactive moves name out of currentlyActive and returns the groups
// indexed under it, same semantics as markActive.
func (u *userState) markInactive(name core.EntityName) []core.GroupKey {
	delete(u.currentlyActive, name)
	return append([]core.GroupKey(nil), u.observedIndex[name]...)
}

// idle reports whether this user has no active entities and no indexed
// groups, the condition under which StatePool may evict it (SPEC_FULL.md §4.7).
func (u *userState) idle() bool {
	return len(u.currentlyActive) == 0 && len(u.observedIndex) == 0
}
