package ecs

import "fmt"

// Store is the kind-erased face of a component table. The Registry keeps one
// per component kind for bulk removal, mutation-batch routing, and snapshots.
type Store interface {
	Kind() string
	Remove(id EntityID)
	Has(id EntityID) bool
	Len() int
	// Clear drops every entry. Snapshot restore wipes stores before refilling.
	Clear()
	// DecodeValue turns a raw field map into a validated component value.
	DecodeValue(raw map[string]any) (any, error)
	// SetDecoded stores a value previously produced by DecodeValue.
	SetDecoded(id EntityID, v any)
	// EncodeOf returns one entry encoded back into a raw field map.
	EncodeOf(id EntityID) (map[string]any, bool)
	// EachRaw visits every entry encoded back into a raw field map.
	EachRaw(fn func(EntityID, map[string]any))
}

// Codec converts one component kind between its struct form and the raw field
// maps carried by mutation batches and snapshots. Validate holds the kind's
// invariant; a nil Validate means decoding alone is enough.
type Codec[T any] struct {
	Decode   func(raw map[string]any) (*T, error)
	Encode   func(c *T) map[string]any
	Validate func(c *T) error
}

// Table is the typed map store for one component kind. No reflect on the
// hot path; the kind-erased Store methods exist for batch and snapshot code.
type Table[T any] struct {
	kind  string
	codec Codec[T]
	data  map[EntityID]*T
}

func NewTable[T any](kind string, codec Codec[T]) *Table[T] {
	return &Table[T]{
		kind:  kind,
		codec: codec,
		data:  make(map[EntityID]*T, 256),
	}
}

func (s *Table[T]) Kind() string { return s.kind }

func (s *Table[T]) Set(id EntityID, c *T) {
	s.data[id] = c
}

func (s *Table[T]) Get(id EntityID) (*T, bool) {
	c, ok := s.data[id]
	return c, ok
}

func (s *Table[T]) Remove(id EntityID) {
	delete(s.data, id)
}

func (s *Table[T]) Has(id EntityID) bool {
	_, ok := s.data[id]
	return ok
}

func (s *Table[T]) Len() int {
	return len(s.data)
}

func (s *Table[T]) Clear() {
	clear(s.data)
}

func (s *Table[T]) Each(fn func(EntityID, *T)) {
	for id, c := range s.data {
		fn(id, c)
	}
}

func (s *Table[T]) DecodeValue(raw map[string]any) (any, error) {
	if s.codec.Decode == nil {
		return nil, fmt.Errorf("component %q does not accept raw values", s.kind)
	}
	c, err := s.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("component %q: %w", s.kind, err)
	}
	if s.codec.Validate != nil {
		if err := s.codec.Validate(c); err != nil {
			return nil, fmt.Errorf("component %q: %w", s.kind, err)
		}
	}
	return c, nil
}

func (s *Table[T]) SetDecoded(id EntityID, v any) {
	if c, ok := v.(*T); ok {
		s.data[id] = c
	}
}

func (s *Table[T]) EncodeOf(id EntityID) (map[string]any, bool) {
	c, ok := s.data[id]
	if !ok || s.codec.Encode == nil {
		return nil, false
	}
	return s.codec.Encode(c), true
}

func (s *Table[T]) EachRaw(fn func(EntityID, map[string]any)) {
	if s.codec.Encode == nil {
		return
	}
	for id, c := range s.data {
		fn(id, s.codec.Encode(c))
	}
}
