package data

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind names of the definition tables. Source files group their records
// under these top-level keys.
const (
	KindItem  = "items"
	KindNPC   = "npcs"
	KindZone  = "zones"
	KindQuest = "quests"
)

var kindOrder = []string{KindItem, KindNPC, KindZone, KindQuest}

// rawTable maps record id to its merged field map, one table per kind.
type rawTable map[string]map[string]any

// sourceFile is one parsed content file: kind to records in file order.
// YAML and JSON both parse here; JSON is a YAML subset as far as the
// decoder cares.
type sourceFile struct {
	path    string
	records map[string][]map[string]any
}

// listSources returns the content files of a directory sorted by name, so
// precedence inside one source directory is stable across platforms.
func listSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read content dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func parseSource(path string) (*sourceFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	var doc map[string][]map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &SchemaError{Source: path, Msg: fmt.Sprintf("parse: %v", err)}
	}
	for kind := range doc {
		if !knownKind(kind) {
			return nil, &SchemaError{Source: path, Kind: kind, Msg: "unknown definition kind"}
		}
	}
	return &sourceFile{path: path, records: doc}, nil
}

func knownKind(kind string) bool {
	for _, k := range kindOrder {
		if k == kind {
			return true
		}
	}
	return false
}

func recordID(path, kind string, rec map[string]any) (string, error) {
	v, ok := rec["id"]
	if !ok {
		return "", &SchemaError{Source: path, Kind: kind, Msg: "record missing id"}
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", &SchemaError{Source: path, Kind: kind, Msg: fmt.Sprintf("id %v is not a non-empty string", v)}
	}
	return id, nil
}
