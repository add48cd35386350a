package sim

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/game/ai"
)

// Dispatcher casts abilities for one unit. Every precondition is checked
// before anything changes, so a rejected attempt has no effect.
type Dispatcher struct {
	ctx  context.Context
	w    *World
	self ai.EntityID
}

var _ ai.Dispatcher = (*Dispatcher)(nil)

// Dispatcher returns the action dispatcher for unit self.
func (w *World) Dispatcher(ctx context.Context, self ai.EntityID) *Dispatcher {
	return &Dispatcher{ctx: ctx, w: w, self: self}
}

func reject(reason string) ai.DispatchResult { return ai.DispatchResult{Reason: reason} }

// Attempt casts ability on target if every precondition holds.
func (d *Dispatcher) Attempt(ability ai.AbilityID, target ai.EntityID) ai.DispatchResult {
	w := d.w
	w.mu.Lock()
	defer w.mu.Unlock()

	caster, ok := w.units[d.self]
	if !ok || caster.Dead() {
		return reject("caster dead")
	}
	ab, ok := w.abilities[ability]
	if !ok {
		return reject("unknown ability")
	}
	if caster.channel != nil && !ab.Interrupt {
		return reject("channeling")
	}
	rem, err := w.cooldowns.Remaining(d.ctx, d.self, ability, w.now)
	if err != nil {
		return reject(err.Error())
	}
	if rem > 0 {
		return reject("on cooldown")
	}
	if ab.Requires != "" {
		if _, ok := caster.Effects.Get(ab.Requires); !ok {
			return reject("requires " + string(ab.Requires))
		}
	}
	if ab.Cost > 0 && caster.Resources[ab.Pool] < ab.Cost {
		return reject("not enough " + string(ab.Pool))
	}
	tgt, ok := w.units[target]
	if !ok || tgt.Dead() {
		return reject("invalid target")
	}
	if ab.Harmful != (tgt.Faction != caster.Faction) {
		return reject("invalid target")
	}
	if tgt != caster && ab.Range > 0 && caster.Pos.Dist(tgt.Pos) > ab.Range {
		return reject("out of range")
	}
	if ab.Cooldown > 0 {
		if err := w.cooldowns.Start(d.ctx, d.self, ability, w.now, ab.Cooldown); err != nil {
			return reject(err.Error())
		}
	}

	if ab.Interrupt {
		caster.channel = nil
	}
	if ab.Pool != "" {
		caster.gain(ab.Pool, -ab.Cost)
	}
	if tgt != caster {
		caster.Facing = math.Atan2(tgt.Pos.Y-caster.Pos.Y, tgt.Pos.X-caster.Pos.X)
	}
	if ab.Requires != "" {
		caster.Effects.Remove(ab.Requires)
	}
	if ab.Channel > 0 {
		caster.channel = &Channel{
			Ability:  ab.ID,
			Target:   tgt.ID,
			Until:    w.now + ab.Channel,
			NextTick: w.now + ab.Period,
			Period:   ab.Period,
			Damage:   ab.Damage,
		}
	} else {
		w.hurt(tgt, ab.Damage)
	}
	if ab.Effect != "" {
		tgt.Effects.Apply(w.effects[ab.Effect], caster.ID, w.now)
	}
	if ab.SelfEffect != "" {
		caster.Effects.Apply(w.effects[ab.SelfEffect], caster.ID, w.now)
	}

	w.logger.Debug("ability cast",
		zap.Int64("caster", int64(caster.ID)),
		zap.String("ability", string(ability)),
		zap.Int64("target", int64(tgt.ID)),
		zap.Duration("at", w.now))
	return ai.DispatchResult{Issued: true}
}
