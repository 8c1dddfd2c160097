package ecs

// Each2 iterates over entities that hold both component A and B.
// It walks the smaller table and probes the larger one.
func Each2[A, B any](ta *Table[A], tb *Table[B], fn func(EntityID, *A, *B)) {
	if ta.Len() <= tb.Len() {
		for id, a := range ta.data {
			if b, ok := tb.data[id]; ok {
				fn(id, a, b)
			}
		}
	} else {
		for id, b := range tb.data {
			if a, ok := ta.data[id]; ok {
				fn(id, a, b)
			}
		}
	}
}
