package ecs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type health struct {
	HP  int
	Max int
}

func intField(raw map[string]any, key string) (int, bool) {
	switch v := raw[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func healthCodec() Codec[health] {
	return Codec[health]{
		Decode: func(raw map[string]any) (*health, error) {
			hp, ok := intField(raw, "hp")
			if !ok {
				return nil, fmt.Errorf("missing field hp")
			}
			max, ok := intField(raw, "max")
			if !ok {
				max = hp
			}
			return &health{HP: hp, Max: max}, nil
		},
		Encode: func(c *health) map[string]any {
			return map[string]any{"hp": c.HP, "max": c.Max}
		},
		Validate: func(c *health) error {
			if c.HP < 0 {
				return errors.New("hp below zero")
			}
			return nil
		},
	}
}

func newTestWorld(t *testing.T) (*World, *Table[health]) {
	t.Helper()
	w := NewWorld(16)
	ht := NewTable[health]("health", healthCodec())
	require.NoError(t, w.Registry().Register(ht))
	return w, ht
}

func TestApplyBatchAllOrNothing(t *testing.T) {
	w, ht := newTestWorld(t)
	a := w.Create()
	b := w.Create()
	ht.Set(a, &health{HP: 10, Max: 10})
	ht.Set(b, &health{HP: 20, Max: 20})

	batch := NewBatch("mod.broken")
	batch.Set(a, "health", map[string]any{"hp": 5, "max": 10})
	batch.Set(b, "health", map[string]any{"hp": -1, "max": 20})

	err := w.ApplyBatch(1, batch)
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 1, rej.OpIdx)
	assert.Equal(t, "mod.broken", rej.Owner)

	// the valid first op must not have leaked through
	got, ok := ht.Get(a)
	require.True(t, ok)
	assert.Equal(t, 10, got.HP)
}

func TestApplyBatchAppliesEverything(t *testing.T) {
	w, ht := newTestWorld(t)
	a := w.Create()
	b := w.Create()
	ht.Set(a, &health{HP: 10, Max: 10})
	ht.Set(b, &health{HP: 20, Max: 20})

	batch := NewBatch("mod.ok")
	batch.Set(a, "health", map[string]any{"hp": 3})
	batch.Destroy(b)
	batch.Spawn(map[string]map[string]any{
		"health": {"hp": 50, "max": 50},
	})

	require.NoError(t, w.ApplyBatch(1, batch))

	got, _ := ht.Get(a)
	assert.Equal(t, 3, got.HP)
	assert.False(t, w.Alive(b))
	assert.False(t, ht.Has(b))
	assert.Equal(t, 2, ht.Len()) // a plus the spawned entity
}

func TestApplyBatchSizeCeiling(t *testing.T) {
	w, ht := newTestWorld(t)
	a := w.Create()
	ht.Set(a, &health{HP: 10, Max: 10})

	batch := NewBatch("mod.flood")
	for i := 0; i < 17; i++ {
		batch.Set(a, "health", map[string]any{"hp": i})
	}

	err := w.ApplyBatch(1, batch)
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "ceiling")

	got, _ := ht.Get(a)
	assert.Equal(t, 10, got.HP)
}

func TestApplyBatchRejectsTombstonedTarget(t *testing.T) {
	w, ht := newTestWorld(t)
	a := w.Create()
	ht.Set(a, &health{HP: 10, Max: 10})
	w.MarkForDestruction(a)
	w.FlushDestroyQueue(1)

	batch := NewBatch("mod.stale")
	batch.Set(a, "health", map[string]any{"hp": 1})

	err := w.ApplyBatch(2, batch)
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "not alive")
}

func TestApplyBatchRejectsUseAfterBatchDestroy(t *testing.T) {
	w, ht := newTestWorld(t)
	a := w.Create()
	ht.Set(a, &health{HP: 10, Max: 10})

	batch := NewBatch("mod.order")
	batch.Destroy(a)
	batch.Set(a, "health", map[string]any{"hp": 1})

	err := w.ApplyBatch(1, batch)
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "destroyed earlier in batch")
	assert.True(t, w.Alive(a))
}

func TestApplyBatchUnknownComponent(t *testing.T) {
	w, _ := newTestWorld(t)
	a := w.Create()

	batch := NewBatch("mod.typo")
	batch.Set(a, "helth", map[string]any{"hp": 1})

	err := w.ApplyBatch(1, batch)
	var rej *RejectError
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "unknown component")
}

func TestBatchCostGrowsWithPayload(t *testing.T) {
	small := NewBatch("mod.a")
	small.Set(1, "health", map[string]any{"hp": 1})

	big := NewBatch("mod.b")
	big.Set(1, "health", map[string]any{"hp": 1, "note": "a long string payload for the accountant"})

	assert.Greater(t, big.CostBytes(), small.CostBytes())
}
