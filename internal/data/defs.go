package data

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ItemDef holds item template data needed for game logic.
type ItemDef struct {
	ID         string
	Name       string
	Damage     int
	Stack      int
	DecayTicks int
	Effects    []string
}

// NPCDef holds NPC template data needed for spawning and upkeep.
type NPCDef struct {
	ID           string
	Name         string
	Health       int
	Regen        int
	RespawnTicks int
	Hostile      bool
}

type ZoneDef struct {
	ID     string
	Name   string
	Width  int
	Height int
}

type QuestDef struct {
	ID     string
	Name   string
	Stages []string
}

// DefinitionSet is one immutable generation of merged content. Readers grab
// it at most once per tick; reloads build a fresh set and swap the pointer,
// never edit in place.
type DefinitionSet struct {
	items  map[string]*ItemDef
	npcs   map[string]*NPCDef
	zones  map[string]*ZoneDef
	quests map[string]*QuestDef
	raw    map[string]rawTable
	fp     uint64
}

func (s *DefinitionSet) Item(id string) *ItemDef   { return s.items[id] }
func (s *DefinitionSet) NPC(id string) *NPCDef     { return s.npcs[id] }
func (s *DefinitionSet) Zone(id string) *ZoneDef   { return s.zones[id] }
func (s *DefinitionSet) Quest(id string) *QuestDef { return s.quests[id] }

func (s *DefinitionSet) EachItem(fn func(*ItemDef)) {
	for _, id := range sortedKeys(s.items) {
		fn(s.items[id])
	}
}

func (s *DefinitionSet) EachNPC(fn func(*NPCDef)) {
	for _, id := range sortedKeys(s.npcs) {
		fn(s.npcs[id])
	}
}

// Raw returns a copy of the merged field map for one record, or nil. Copies
// keep extension hands off the canonical tables.
func (s *DefinitionSet) Raw(kind, id string) map[string]any {
	t, ok := s.raw[kind]
	if !ok {
		return nil
	}
	rec, ok := t[id]
	if !ok {
		return nil
	}
	return deepCopyMap(rec)
}

func (s *DefinitionSet) Fingerprint() uint64 { return s.fp }

func (s *DefinitionSet) Counts() map[string]int {
	return map[string]int{
		KindItem:  len(s.items),
		KindNPC:   len(s.npcs),
		KindZone:  len(s.zones),
		KindQuest: len(s.quests),
	}
}

func (s *DefinitionSet) Total() int {
	return len(s.items) + len(s.npcs) + len(s.zones) + len(s.quests)
}

// build decodes merged raw tables into typed defs, enforcing required fields.
func build(raw map[string]rawTable) (*DefinitionSet, error) {
	set := &DefinitionSet{
		items:  make(map[string]*ItemDef, len(raw[KindItem])),
		npcs:   make(map[string]*NPCDef, len(raw[KindNPC])),
		zones:  make(map[string]*ZoneDef, len(raw[KindZone])),
		quests: make(map[string]*QuestDef, len(raw[KindQuest])),
		raw:    raw,
	}
	for _, kind := range kindOrder {
		for id, rec := range raw[kind] {
			if err := requireComplete(kind, id, rec); err != nil {
				return nil, err
			}
			switch kind {
			case KindItem:
				set.items[id] = decodeItem(id, rec)
			case KindNPC:
				set.npcs[id] = decodeNPC(id, rec)
			case KindZone:
				set.zones[id] = decodeZone(id, rec)
			case KindQuest:
				set.quests[id] = decodeQuest(id, rec)
			}
		}
	}
	set.fp = fingerprint(raw)
	return set, nil
}

func decodeItem(id string, rec map[string]any) *ItemDef {
	d := &ItemDef{ID: id, Stack: 1}
	d.Name, _ = asString(rec["name"])
	if v, ok := rec["damage"]; ok {
		d.Damage, _ = asInt(v)
	}
	if v, ok := rec["stack"]; ok {
		d.Stack, _ = asInt(v)
	}
	if v, ok := rec["decay_ticks"]; ok {
		d.DecayTicks, _ = asInt(v)
	}
	d.Effects = asStringSlice(rec["effects"])
	return d
}

func decodeNPC(id string, rec map[string]any) *NPCDef {
	d := &NPCDef{ID: id}
	d.Name, _ = asString(rec["name"])
	d.Health, _ = asInt(rec["health"])
	if v, ok := rec["regen"]; ok {
		d.Regen, _ = asInt(v)
	}
	if v, ok := rec["respawn_ticks"]; ok {
		d.RespawnTicks, _ = asInt(v)
	}
	d.Hostile = asBool(rec["hostile"])
	return d
}

func decodeZone(id string, rec map[string]any) *ZoneDef {
	d := &ZoneDef{ID: id}
	d.Name, _ = asString(rec["name"])
	d.Width, _ = asInt(rec["width"])
	d.Height, _ = asInt(rec["height"])
	return d
}

func decodeQuest(id string, rec map[string]any) *QuestDef {
	d := &QuestDef{ID: id}
	d.Name, _ = asString(rec["name"])
	d.Stages = asStringSlice(rec["stages"])
	return d
}

// fingerprint hashes the canonical encoding of every merged record: kinds in
// fixed order, ids sorted, map keys sorted. Two loads of identical content
// produce identical fingerprints regardless of file layout.
func fingerprint(raw map[string]rawTable) uint64 {
	h := xxhash.New()
	for _, kind := range kindOrder {
		t := raw[kind]
		ids := make([]string, 0, len(t))
		for id := range t {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(h, "%s/%s", kind, id)
			writeCanonical(h, t[id])
		}
	}
	return h.Sum64()
}

func writeCanonical(h *xxhash.Digest, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.WriteString("{")
		for _, k := range keys {
			fmt.Fprintf(h, "%q:", k)
			writeCanonical(h, t[k])
		}
		h.WriteString("}")
	case []any:
		h.WriteString("[")
		for _, e := range t {
			writeCanonical(h, e)
		}
		h.WriteString("]")
	case string:
		fmt.Fprintf(h, "%q", t)
	default:
		fmt.Fprintf(h, "%v;", t)
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Holder publishes the active DefinitionSet. Swap is atomic; a reader that
// grabbed the old pointer keeps a fully valid set until it lets go.
type Holder struct {
	p atomic.Pointer[DefinitionSet]
}

func NewHolder(s *DefinitionSet) *Holder {
	h := &Holder{}
	h.p.Store(s)
	return h
}

func (h *Holder) Current() *DefinitionSet { return h.p.Load() }

func (h *Holder) Swap(s *DefinitionSet) *DefinitionSet { return h.p.Swap(s) }
