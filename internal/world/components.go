package world

import (
	"errors"
	"fmt"

	"github.com/driftmud/server/internal/core/ecs"
)

// Component kind names. These are the strings mutation batches, snapshots,
// and extension capability calls use to address a store.
const (
	KindPosition = "position"
	KindHealth   = "health"
	KindName     = "name"
	KindItem     = "item"
	KindNPC      = "npc"
	KindAvatar   = "avatar"
)

// Position places an entity on a zone grid.
type Position struct {
	X    int
	Y    int
	Zone string
}

// Health tracks hit points. Current stays within [0, Max].
type Health struct {
	Current int
	Max     int
}

// Name is the display name other sessions see.
type Name struct {
	Display string
}

// Item marks an entity as one world instance of an item definition.
// Decay counts ticks until the instance despawns; zero means permanent.
type Item struct {
	Def   string
	Count int
	Decay int
}

// NPC marks an entity as one live instance of an NPC definition. The spawn
// fields anchor where the replacement appears after death.
type NPC struct {
	Def       string
	SpawnX    int
	SpawnY    int
	SpawnZone string
}

// Avatar links an entity to the gateway session controlling it.
type Avatar struct {
	Session string
}

// Tables bundles the typed stores so engine systems skip the kind-erased
// registry lookup on every access.
type Tables struct {
	Position *ecs.Table[Position]
	Health   *ecs.Table[Health]
	Name     *ecs.Table[Name]
	Item     *ecs.Table[Item]
	NPC      *ecs.Table[NPC]
	Avatar   *ecs.Table[Avatar]
}

// RegisterComponents installs every component store into the world's
// registry and returns the typed handles. Call once per world.
func RegisterComponents(w *ecs.World) (*Tables, error) {
	t := &Tables{
		Position: ecs.NewTable(KindPosition, positionCodec()),
		Health:   ecs.NewTable(KindHealth, healthCodec()),
		Name:     ecs.NewTable(KindName, nameCodec()),
		Item:     ecs.NewTable(KindItem, itemCodec()),
		NPC:      ecs.NewTable(KindNPC, npcCodec()),
		Avatar:   ecs.NewTable(KindAvatar, avatarCodec()),
	}
	for _, s := range []ecs.Store{t.Position, t.Health, t.Name, t.Item, t.NPC, t.Avatar} {
		if err := w.Registry().Register(s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func positionCodec() ecs.Codec[Position] {
	return ecs.Codec[Position]{
		Decode: func(raw map[string]any) (*Position, error) {
			x, ok := intField(raw, "x")
			if !ok {
				return nil, errors.New("missing field x")
			}
			y, ok := intField(raw, "y")
			if !ok {
				return nil, errors.New("missing field y")
			}
			zone, ok := strField(raw, "zone")
			if !ok {
				return nil, errors.New("missing field zone")
			}
			return &Position{X: x, Y: y, Zone: zone}, nil
		},
		Encode: func(c *Position) map[string]any {
			return map[string]any{"x": c.X, "y": c.Y, "zone": c.Zone}
		},
		Validate: func(c *Position) error {
			if c.Zone == "" {
				return errors.New("zone must not be empty")
			}
			return nil
		},
	}
}

func healthCodec() ecs.Codec[Health] {
	return ecs.Codec[Health]{
		Decode: func(raw map[string]any) (*Health, error) {
			cur, ok := intField(raw, "current")
			if !ok {
				return nil, errors.New("missing field current")
			}
			max, ok := intField(raw, "max")
			if !ok {
				max = cur
			}
			return &Health{Current: cur, Max: max}, nil
		},
		Encode: func(c *Health) map[string]any {
			return map[string]any{"current": c.Current, "max": c.Max}
		},
		Validate: func(c *Health) error {
			if c.Max < 1 {
				return errors.New("max must be at least 1")
			}
			if c.Current < 0 {
				return errors.New("current must not be negative")
			}
			if c.Current > c.Max {
				return fmt.Errorf("current %d exceeds max %d", c.Current, c.Max)
			}
			return nil
		},
	}
}

func nameCodec() ecs.Codec[Name] {
	return ecs.Codec[Name]{
		Decode: func(raw map[string]any) (*Name, error) {
			display, ok := strField(raw, "display")
			if !ok {
				return nil, errors.New("missing field display")
			}
			return &Name{Display: display}, nil
		},
		Encode: func(c *Name) map[string]any {
			return map[string]any{"display": c.Display}
		},
		Validate: func(c *Name) error {
			if c.Display == "" {
				return errors.New("display must not be empty")
			}
			return nil
		},
	}
}

func itemCodec() ecs.Codec[Item] {
	return ecs.Codec[Item]{
		Decode: func(raw map[string]any) (*Item, error) {
			def, ok := strField(raw, "def")
			if !ok {
				return nil, errors.New("missing field def")
			}
			count, ok := intField(raw, "count")
			if !ok {
				count = 1
			}
			decay, _ := intField(raw, "decay")
			return &Item{Def: def, Count: count, Decay: decay}, nil
		},
		Encode: func(c *Item) map[string]any {
			return map[string]any{"def": c.Def, "count": c.Count, "decay": c.Decay}
		},
		Validate: func(c *Item) error {
			if c.Def == "" {
				return errors.New("def must not be empty")
			}
			if c.Count < 1 {
				return errors.New("count must be at least 1")
			}
			if c.Decay < 0 {
				return errors.New("decay must not be negative")
			}
			return nil
		},
	}
}

func npcCodec() ecs.Codec[NPC] {
	return ecs.Codec[NPC]{
		Decode: func(raw map[string]any) (*NPC, error) {
			def, ok := strField(raw, "def")
			if !ok {
				return nil, errors.New("missing field def")
			}
			sx, _ := intField(raw, "spawn_x")
			sy, _ := intField(raw, "spawn_y")
			sz, _ := strField(raw, "spawn_zone")
			return &NPC{Def: def, SpawnX: sx, SpawnY: sy, SpawnZone: sz}, nil
		},
		Encode: func(c *NPC) map[string]any {
			return map[string]any{
				"def": c.Def, "spawn_x": c.SpawnX, "spawn_y": c.SpawnY, "spawn_zone": c.SpawnZone,
			}
		},
		Validate: func(c *NPC) error {
			if c.Def == "" {
				return errors.New("def must not be empty")
			}
			return nil
		},
	}
}

func avatarCodec() ecs.Codec[Avatar] {
	return ecs.Codec[Avatar]{
		Decode: func(raw map[string]any) (*Avatar, error) {
			session, ok := strField(raw, "session")
			if !ok {
				return nil, errors.New("missing field session")
			}
			return &Avatar{Session: session}, nil
		},
		Encode: func(c *Avatar) map[string]any {
			return map[string]any{"session": c.Session}
		},
		Validate: func(c *Avatar) error {
			if c.Session == "" {
				return errors.New("session must not be empty")
			}
			return nil
		},
	}
}

// intField coerces a raw field into an int. YAML hands over int, JSON
// float64, Lua bridges float64 as well; all three land here.
func intField(raw map[string]any, key string) (int, bool) {
	switch v := raw[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func strField(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key].(string)
	return v, ok
}
