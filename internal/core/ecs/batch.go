package ecs

import "fmt"

// OpKind enumerates the mutations a batch may carry.
type OpKind uint8

const (
	OpSet OpKind = iota
	OpRemove
	OpDestroy
	OpSpawn
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	case OpDestroy:
		return "destroy"
	case OpSpawn:
		return "spawn"
	}
	return "unknown"
}

// Op is one queued mutation. Set carries a raw component value; Spawn carries
// the full component map for the new entity; Remove and Destroy only reference.
type Op struct {
	Kind       OpKind
	Entity     EntityID
	Component  string
	Value      map[string]any
	Components map[string]map[string]any
}

// Batch is a per-owner, per-tick mutation queue. Ops are validated against
// the world as a unit and applied all-or-nothing at a fixed point in the tick.
type Batch struct {
	Owner string
	Ops   []Op
}

func NewBatch(owner string) *Batch {
	return &Batch{Owner: owner}
}

func (b *Batch) Set(id EntityID, component string, value map[string]any) {
	b.Ops = append(b.Ops, Op{Kind: OpSet, Entity: id, Component: component, Value: value})
}

func (b *Batch) Remove(id EntityID, component string) {
	b.Ops = append(b.Ops, Op{Kind: OpRemove, Entity: id, Component: component})
}

func (b *Batch) Destroy(id EntityID) {
	b.Ops = append(b.Ops, Op{Kind: OpDestroy, Entity: id})
}

func (b *Batch) Spawn(components map[string]map[string]any) {
	b.Ops = append(b.Ops, Op{Kind: OpSpawn, Components: components})
}

func (b *Batch) Len() int { return len(b.Ops) }

// CostBytes estimates the resident footprint of the queued ops. Fed into
// per-extension memory accounting.
func (b *Batch) CostBytes() int {
	n := 0
	for i := range b.Ops {
		op := &b.Ops[i]
		n += opOverhead + rawCost(op.Value)
		for _, v := range op.Components {
			n += rawCost(v)
		}
	}
	return n
}

const opOverhead = 64

func rawCost(raw map[string]any) int {
	if raw == nil {
		return 0
	}
	n := 48
	for k, v := range raw {
		n += len(k) + valueCost(v)
	}
	return n
}

func valueCost(v any) int {
	switch t := v.(type) {
	case string:
		return len(t) + 16
	case []any:
		n := 24
		for _, e := range t {
			n += valueCost(e)
		}
		return n
	case map[string]any:
		return rawCost(t)
	default:
		return 16
	}
}

// RejectError reports why a mutation batch was refused. The whole batch is
// discarded; nothing before the failing op was applied.
type RejectError struct {
	Owner  string
	OpIdx  int
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("batch from %s rejected at op %d: %s", e.Owner, e.OpIdx, e.Reason)
}
