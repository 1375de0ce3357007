package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/applimit/internal/core"
)

func TestStatePoolEvictsIdleBeyondCapacity(t *testing.T) {
	idle := map[core.UserID]bool{1: true, 2: true, 3: true}
	var forgotten []core.UserID

	pool, err := NewStatePool(2,
		func(id core.UserID) bool { return idle[id] },
		func(id core.UserID) { forgotten = append(forgotten, id) },
	)
	require.NoError(t, err)

	pool.Touch(1)
	pool.Touch(2)
	pool.Touch(3) // should evict 1 (least recently touched, idle)

	assert.Equal(t, []core.UserID{1}, forgotten)
}

func TestStatePoolRefusesToEvictNonIdleUser(t *testing.T) {
	idle := map[core.UserID]bool{1: false, 2: true, 3: true}
	var forgotten []core.UserID

	pool, err := NewStatePool(2,
		func(id core.UserID) bool { return idle[id] },
		func(id core.UserID) { forgotten = append(forgotten, id) },
	)
	require.NoError(t, err)

	pool.Touch(1) // not idle, must never be forgotten
	pool.Touch(2)
	pool.Touch(3) // would evict 1, but 1 isn't idle, so 1 is re-admitted

	assert.NotContains(t, forgotten, core.UserID(1))
}

func TestStatePoolForgetDropsTracking(t *testing.T) {
	pool, err := NewStatePool(2,
		func(core.UserID) bool { return true },
		func(core.UserID) {},
	)
	require.NoError(t, err)

	pool.Touch(1)
	pool.Forget(1)
	assert.False(t, pool.cache.Contains(1))
}
