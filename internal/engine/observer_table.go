package engine

import "github.com/vitaliisemenov/applimit/internal/core"

// observerTable is ObserverAppData (spec.md §3): the per-uid tables of
// app-limit and session-limit observers. The two maps are keyed
// independently: neither this type nor the Controller checks one map when
// inserting into the other, so the same ObserverID can be registered as both
// an app observer and a session observer for one uid.
type observerTable struct {
	appGroups     map[core.ObserverID]*appGroup
	sessionGroups map[core.ObserverID]*sessionGroup
}

func newObserverTable() *observerTable {
	return &observerTable{
		appGroups:     make(map[core.ObserverID]*appGroup),
		sessionGroups: make(map[core.ObserverID]*sessionGroup),
	}
}

func (t *observerTable) empty() bool {
	return len(t.appGroups) == 0 && len(t.sessionGroups) == 0
}
