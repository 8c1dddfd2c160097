package ecs

// EntityID encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on destroy to invalidate stale refs.
type EntityID uint64

func NewEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

// tombstone parks a destroyed index until a full tick has passed, so a
// reference held by a just-fired event can never resolve to a new entity.
type tombstone struct {
	index uint32
	tick  uint64
}

// EntityPool manages entity allocation with generational indices, a free
// list, and a tombstone quarantine between the two.
type EntityPool struct {
	generations []uint32
	freeList    []uint32
	tombstones  []tombstone
	nextIndex   uint32
}

func NewEntityPool() *EntityPool {
	return &EntityPool{
		generations: make([]uint32, 0, 1024),
		freeList:    make([]uint32, 0, 256),
		tombstones:  make([]tombstone, 0, 64),
	}
}

func (p *EntityPool) Create() EntityID {
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return NewEntityID(idx, p.generations[idx])
	}
	idx := p.nextIndex
	p.nextIndex++
	if int(idx) >= len(p.generations) {
		p.generations = append(p.generations, 0)
	}
	return NewEntityID(idx, p.generations[idx])
}

func (p *EntityPool) Alive(id EntityID) bool {
	idx := id.Index()
	if idx >= p.nextIndex {
		return false
	}
	return p.generations[idx] == id.Generation()
}

// Destroy invalidates the identifier and tombstones its index. The index does
// not return to the free list until ReleaseTombstones observes a later tick,
// so an identifier is never reused within the tick that destroyed it.
func (p *EntityPool) Destroy(id EntityID, tick uint64) {
	idx := id.Index()
	if idx >= p.nextIndex {
		return
	}
	if p.generations[idx] != id.Generation() {
		return // already destroyed (stale reference)
	}
	p.generations[idx]++
	p.tombstones = append(p.tombstones, tombstone{index: idx, tick: tick})
}

// ReleaseTombstones frees indices destroyed on an earlier tick. Called at
// end-of-tick cleanup: an index destroyed at tick N stays quarantined through
// tick N+1 and becomes allocatable again at N+2.
func (p *EntityPool) ReleaseTombstones(tick uint64) {
	kept := p.tombstones[:0]
	for _, t := range p.tombstones {
		if tick > t.tick {
			p.freeList = append(p.freeList, t.index)
		} else {
			kept = append(kept, t)
		}
	}
	p.tombstones = kept
}

func (p *EntityPool) TombstoneCount() int { return len(p.tombstones) }

// Tombstone is the serializable form of one quarantined index.
type Tombstone struct {
	Index uint32 `json:"index"`
	Tick  uint64 `json:"tick"`
}

// PoolState is the complete allocation state of a pool, flat enough to ride
// inside a snapshot payload.
type PoolState struct {
	Generations []uint32    `json:"generations"`
	FreeList    []uint32    `json:"free_list"`
	Tombstones  []Tombstone `json:"tombstones,omitempty"`
	NextIndex   uint32      `json:"next_index"`
}

// Export copies the pool's allocation state.
func (p *EntityPool) Export() PoolState {
	st := PoolState{
		Generations: append([]uint32(nil), p.generations...),
		FreeList:    append([]uint32(nil), p.freeList...),
		NextIndex:   p.nextIndex,
	}
	for _, t := range p.tombstones {
		st.Tombstones = append(st.Tombstones, Tombstone{Index: t.index, Tick: t.tick})
	}
	return st
}

// Import replaces the pool's allocation state wholesale. Tombstone quarantine
// survives the round trip, so restoring a snapshot cannot revive an
// identifier that was still parked when the snapshot was taken.
func (p *EntityPool) Import(st PoolState) {
	p.generations = append(p.generations[:0], st.Generations...)
	p.freeList = append(p.freeList[:0], st.FreeList...)
	p.tombstones = p.tombstones[:0]
	for _, t := range st.Tombstones {
		p.tombstones = append(p.tombstones, tombstone{index: t.Index, tick: t.Tick})
	}
	p.nextIndex = st.NextIndex
}
