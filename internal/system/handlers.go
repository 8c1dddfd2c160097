package system

import (
	"errors"
	"fmt"

	"github.com/driftmud/server/internal/core/ecs"
	"github.com/driftmud/server/internal/core/event"
	"github.com/driftmud/server/internal/data"
	"github.com/driftmud/server/internal/sim"
	"github.com/driftmud/server/internal/world"
)

const (
	maxSayLen     = 256
	unarmedDamage = 3
)

// MoveIntent steps an avatar one tile, clamped to its zone's bounds.
func MoveIntent(intake *IntakeSystem, tables *world.Tables, bus *event.Bus, defs *data.Holder) sim.IntentHandler {
	return func(_ uint64, in sim.Intent) error {
		id, ok := intake.Entity(in.Session)
		if !ok {
			return errors.New("no avatar for session")
		}
		dx, okX := intArg(in.Data, "dx")
		dy, okY := intArg(in.Data, "dy")
		if !okX || !okY {
			return errors.New("missing dx or dy")
		}
		if dx < -1 || dx > 1 || dy < -1 || dy > 1 || (dx == 0 && dy == 0) {
			return errors.New("illegal step")
		}
		pos, ok := tables.Position.Get(id)
		if !ok {
			return errors.New("avatar has no position")
		}
		zone := defs.Current().Zone(pos.Zone)
		if zone == nil {
			return fmt.Errorf("unknown zone %q", pos.Zone)
		}
		nx, ny := pos.X+dx, pos.Y+dy
		if nx < 0 || ny < 0 || nx >= zone.Width || ny >= zone.Height {
			return errors.New("step leaves the zone")
		}
		pos.X, pos.Y = nx, ny
		bus.Publish(event.EntityMoved{Entity: id, X: nx, Y: ny})
		return nil
	}
}

// SayIntent broadcasts a line of chat from an avatar.
func SayIntent(intake *IntakeSystem, tables *world.Tables, bus *event.Bus, outbox *world.Outbox) sim.IntentHandler {
	return func(_ uint64, in sim.Intent) error {
		id, ok := intake.Entity(in.Session)
		if !ok {
			return errors.New("no avatar for session")
		}
		text, _ := in.Data["text"].(string)
		if text == "" {
			return errors.New("empty text")
		}
		if len(text) > maxSayLen {
			return errors.New("text too long")
		}
		display := defaultAvatarName
		if n, ok := tables.Name.Get(id); ok {
			display = n.Display
		}
		bus.Publish(event.EntitySpoke{Entity: id, Text: text})
		outbox.Broadcast("say", map[string]any{"from": display, "text": text})
		return nil
	}
}

// AttackIntent lands one strike on an adjacent NPC. Only the health moves
// here; when it reaches zero the respawn pass picks the body up on the same
// tick and publishes the death.
func AttackIntent(intake *IntakeSystem, tables *world.Tables, bus *event.Bus, outbox *world.Outbox) sim.IntentHandler {
	return func(_ uint64, in sim.Intent) error {
		id, ok := intake.Entity(in.Session)
		if !ok {
			return errors.New("no avatar for session")
		}
		target, ok := entityArg(in.Data, "target")
		if !ok {
			return errors.New("missing target")
		}
		if !tables.NPC.Has(target) {
			return errors.New("target is not attackable")
		}
		pos, ok := tables.Position.Get(id)
		if !ok {
			return errors.New("avatar has no position")
		}
		tpos, ok := tables.Position.Get(target)
		if !ok {
			return errors.New("target has no position")
		}
		if pos.Zone != tpos.Zone || absInt(pos.X-tpos.X) > 1 || absInt(pos.Y-tpos.Y) > 1 {
			return errors.New("target out of reach")
		}
		h, ok := tables.Health.Get(target)
		if !ok || h.Current <= 0 {
			return errors.New("target is already dead")
		}
		h.Current -= unarmedDamage
		if h.Current < 0 {
			h.Current = 0
		}
		bus.Publish(event.EntityStruck{
			Attacker:  id,
			Target:    target,
			Damage:    unarmedDamage,
			Remaining: h.Current,
		})
		outbox.Send(in.Session, "attack", map[string]any{
			"target":    uint64(target),
			"remaining": h.Current,
		})
		return nil
	}
}

// intArg coerces an intent field into an int; frames decode through
// encoding/json, so numbers arrive as float64.
func intArg(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func entityArg(data map[string]any, key string) (ecs.EntityID, bool) {
	switch v := data[key].(type) {
	case float64:
		return ecs.EntityID(v), v >= 0
	case int:
		return ecs.EntityID(v), v >= 0
	case int64:
		return ecs.EntityID(v), v >= 0
	case uint64:
		return ecs.EntityID(v), true
	}
	return 0, false
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
