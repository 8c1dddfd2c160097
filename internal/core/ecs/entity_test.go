package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityIDPacking(t *testing.T) {
	id := NewEntityID(7, 3)
	assert.Equal(t, uint32(7), id.Index())
	assert.Equal(t, uint32(3), id.Generation())
	assert.False(t, id.IsZero())
}

func TestStaleReferenceNeverResolves(t *testing.T) {
	p := NewEntityPool()
	id := p.Create()
	p.Destroy(id, 1)
	assert.False(t, p.Alive(id))

	// second destroy through the stale reference is a no-op
	p.Destroy(id, 1)
	assert.Equal(t, 1, p.TombstoneCount())
}

func TestTombstoneQuarantine(t *testing.T) {
	p := NewEntityPool()
	a := p.Create()
	p.Destroy(a, 5)

	// same tick: the index must not come back
	b := p.Create()
	assert.NotEqual(t, a.Index(), b.Index())

	// end of tick 5: still quarantined
	p.ReleaseTombstones(5)
	c := p.Create()
	assert.NotEqual(t, a.Index(), c.Index())

	// end of tick 6: one full tick has passed, index is free again
	p.ReleaseTombstones(6)
	assert.Equal(t, 0, p.TombstoneCount())
	d := p.Create()
	assert.Equal(t, a.Index(), d.Index())
	assert.Equal(t, a.Generation()+1, d.Generation())
	assert.False(t, p.Alive(a))
	assert.True(t, p.Alive(d))
}
