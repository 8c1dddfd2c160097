package data

import "fmt"

// SchemaError reports a malformed or invalid content definition. The load
// fails as a whole; the previously active DefinitionSet stays in service.
type SchemaError struct {
	Source string
	Kind   string
	ID     string
	Msg    string
}

func (e *SchemaError) Error() string {
	s := "schema error"
	if e.Source != "" {
		s += " in " + e.Source
	}
	if e.Kind != "" {
		s += " (" + e.Kind
		if e.ID != "" {
			s += "/" + e.ID
		}
		s += ")"
	}
	return s + ": " + e.Msg
}

// ConflictError reports two records claiming one id at the same load
// position, where override precedence cannot break the tie.
type ConflictError struct {
	Kind   string
	ID     string
	First  string
	Second string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict for %s/%s: defined in both %s and %s", e.Kind, e.ID, e.First, e.Second)
}
