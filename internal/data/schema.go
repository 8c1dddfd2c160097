package data

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// fieldCheck validates one present field value.
type fieldCheck func(v any) error

// kindSchema describes what a record of one kind must look like. Field
// checks run per source record before merge; required fields are enforced on
// the merged result, because override records are allowed to be partial.
type kindSchema struct {
	required []string
	fields   map[string]fieldCheck
}

var schemas = map[string]*kindSchema{
	KindItem: {
		required: []string{"id", "name"},
		fields: map[string]fieldCheck{
			"id":          checkID,
			"name":        checkName,
			"damage":      checkIntRange(0, 10000),
			"stack":       checkIntRange(1, 10000),
			"decay_ticks": checkIntRange(0, 1<<20),
			"effects":     checkStringList,
		},
	},
	KindNPC: {
		required: []string{"id", "name", "health"},
		fields: map[string]fieldCheck{
			"id":            checkID,
			"name":          checkName,
			"health":        checkIntRange(1, 1000000),
			"regen":         checkIntRange(0, 100000),
			"respawn_ticks": checkIntRange(0, 1<<20),
			"hostile":       checkBool,
		},
	},
	KindZone: {
		required: []string{"id", "name", "width", "height"},
		fields: map[string]fieldCheck{
			"id":     checkID,
			"name":   checkName,
			"width":  checkIntRange(1, 4096),
			"height": checkIntRange(1, 4096),
		},
	},
	KindQuest: {
		required: []string{"id", "name"},
		fields: map[string]fieldCheck{
			"id":     checkID,
			"name":   checkName,
			"stages": checkStringList,
		},
	},
}

// normalizeRecord folds display text to NFC before validation, so byte-wise
// identical names compare equal regardless of how the source file encoded
// its combining marks.
func normalizeRecord(rec map[string]any) {
	if v, ok := rec["name"].(string); ok {
		rec["name"] = norm.NFC.String(v)
	}
}

// validateRecord checks every present field of one source record. Unknown
// fields pass through untouched; extensions are free to carry extra data.
func validateRecord(source, kind, id string, rec map[string]any) error {
	schema := schemas[kind]
	for field, v := range rec {
		check, ok := schema.fields[field]
		if !ok {
			continue
		}
		if err := check(v); err != nil {
			return &SchemaError{Source: source, Kind: kind, ID: id,
				Msg: fmt.Sprintf("field %s: %v", field, err)}
		}
	}
	return nil
}

// requireComplete enforces the required fields on a fully merged record.
func requireComplete(kind, id string, rec map[string]any) error {
	schema := schemas[kind]
	for _, field := range schema.required {
		if _, ok := rec[field]; !ok {
			return &SchemaError{Kind: kind, ID: id,
				Msg: fmt.Sprintf("merged record is missing required field %s", field)}
		}
	}
	return nil
}

// --- field checks ---

func checkID(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("want string, got %T", v)
	}
	if s == "" || len(s) > 64 {
		return fmt.Errorf("length must be 1..64")
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("character %q not allowed", r)
		}
	}
	return nil
}

func checkName(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("want string, got %T", v)
	}
	if s == "" || len(s) > 128 {
		return fmt.Errorf("length must be 1..128")
	}
	return nil
}

func checkBool(v any) error {
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("want bool, got %T", v)
	}
	return nil
}

func checkIntRange(min, max int) fieldCheck {
	return func(v any) error {
		n, ok := asInt(v)
		if !ok {
			return fmt.Errorf("want integer, got %T", v)
		}
		if n < min || n > max {
			return fmt.Errorf("%d outside range %d..%d", n, min, max)
		}
		return nil
	}
}

func checkStringList(v any) error {
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("want list of strings, got %T", v)
	}
	for i, e := range list {
		if _, ok := e.(string); !ok {
			return fmt.Errorf("element %d: want string, got %T", i, e)
		}
	}
	return nil
}

// --- coercion helpers ---

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	}
	return 0, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
