package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeSource(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadMergesModOverBase(t *testing.T) {
	base := t.TempDir()
	mod := t.TempDir()
	writeSource(t, base, "items.yaml", `
items:
  - id: sword
    name: Sword
    damage: 10
`)
	writeSource(t, mod, "items.yaml", `
items:
  - id: sword
    damage: 15
    effects: [fire]
`)

	set, err := NewLoader(zap.NewNop(), []string{base}, []string{mod}).Load()
	require.NoError(t, err)

	sword := set.Item("sword")
	require.NotNil(t, sword)
	assert.Equal(t, "Sword", sword.Name)
	assert.Equal(t, 15, sword.Damage)
	assert.Equal(t, []string{"fire"}, sword.Effects)
}

func TestLoadLaterModWins(t *testing.T) {
	base, m1, m2 := t.TempDir(), t.TempDir(), t.TempDir()
	writeSource(t, base, "items.yaml", "items:\n  - {id: ring, name: Ring, damage: 1}\n")
	writeSource(t, m1, "a.yaml", "items:\n  - {id: ring, damage: 2}\n")
	writeSource(t, m2, "b.yaml", "items:\n  - {id: ring, damage: 3}\n")

	set, err := NewLoader(zap.NewNop(), []string{base}, []string{m1, m2}).Load()
	require.NoError(t, err)
	assert.Equal(t, 3, set.Item("ring").Damage)
}

func TestLoadDuplicateWithinOneSourceConflicts(t *testing.T) {
	base := t.TempDir()
	writeSource(t, base, "a.yaml", "items:\n  - {id: ring, name: Ring}\n")
	writeSource(t, base, "b.yaml", "items:\n  - {id: ring, name: Other}\n")

	_, err := NewLoader(zap.NewNop(), []string{base}, nil).Load()
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "ring", conflict.ID)
}

func TestLoadRejectsBadFieldValue(t *testing.T) {
	base := t.TempDir()
	writeSource(t, base, "npcs.yaml", "npcs:\n  - {id: rat, name: Rat, health: -5}\n")

	_, err := NewLoader(zap.NewNop(), []string{base}, nil).Load()
	var schema *SchemaError
	require.ErrorAs(t, err, &schema)
	assert.Contains(t, schema.Msg, "health")
}

func TestLoadRejectsIncompleteMergedRecord(t *testing.T) {
	base := t.TempDir()
	writeSource(t, base, "npcs.yaml", "npcs:\n  - {id: rat, name: Rat}\n")

	_, err := NewLoader(zap.NewNop(), []string{base}, nil).Load()
	var schema *SchemaError
	require.ErrorAs(t, err, &schema)
	assert.Contains(t, schema.Msg, "required field health")
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	base := t.TempDir()
	writeSource(t, base, "weird.yaml", "gadgets:\n  - {id: a}\n")

	_, err := NewLoader(zap.NewNop(), []string{base}, nil).Load()
	var schema *SchemaError
	require.ErrorAs(t, err, &schema)
	assert.Contains(t, schema.Msg, "unknown definition kind")
}

func TestFingerprintIgnoresFileLayout(t *testing.T) {
	oneFile := t.TempDir()
	writeSource(t, oneFile, "all.yaml", `
items:
  - {id: a, name: A, damage: 1}
  - {id: b, name: B, damage: 2}
`)
	twoFiles := t.TempDir()
	writeSource(t, twoFiles, "1.yaml", "items:\n  - {id: a, name: A, damage: 1}\n")
	writeSource(t, twoFiles, "2.yaml", "items:\n  - {id: b, name: B, damage: 2}\n")

	s1, err := NewLoader(zap.NewNop(), []string{oneFile}, nil).Load()
	require.NoError(t, err)
	s2, err := NewLoader(zap.NewNop(), []string{twoFiles}, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, s1.Fingerprint(), s2.Fingerprint())

	changed := t.TempDir()
	writeSource(t, changed, "all.yaml", `
items:
  - {id: a, name: A, damage: 1}
  - {id: b, name: B, damage: 3}
`)
	s3, err := NewLoader(zap.NewNop(), []string{changed}, nil).Load()
	require.NoError(t, err)
	assert.NotEqual(t, s1.Fingerprint(), s3.Fingerprint())
}

func TestLoadNormalizesDisplayNames(t *testing.T) {
	base := t.TempDir()
	writeSource(t, base, "zones.yaml",
		"zones:\n  - {id: cafe, name: \"Café\", width: 10, height: 10}\n")

	set, err := NewLoader(zap.NewNop(), []string{base}, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, "Café", set.Zone("cafe").Name)
}

func TestLoadParsesJSONSources(t *testing.T) {
	base := t.TempDir()
	writeSource(t, base, "items.json", `{"items":[{"id":"gem","name":"Gem","damage":2}]}`)

	set, err := NewLoader(zap.NewNop(), []string{base}, nil).Load()
	require.NoError(t, err)
	require.NotNil(t, set.Item("gem"))
	assert.Equal(t, 2, set.Item("gem").Damage)
}

func TestRawReturnsDetachedCopy(t *testing.T) {
	base := t.TempDir()
	writeSource(t, base, "items.yaml", "items:\n  - {id: orb, name: Orb, damage: 4}\n")

	set, err := NewLoader(zap.NewNop(), []string{base}, nil).Load()
	require.NoError(t, err)

	raw := set.Raw(KindItem, "orb")
	require.NotNil(t, raw)
	raw["damage"] = 999

	assert.Equal(t, 4, set.Item("orb").Damage)
	again := set.Raw(KindItem, "orb")
	assert.Equal(t, 4, again["damage"])
	assert.Nil(t, set.Raw(KindItem, "missing"))
}
