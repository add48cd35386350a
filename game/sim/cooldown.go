package sim

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/game/ai"
)

// Cooldowns keeps ability ready times in a cache hash per unit, keyed by
// ability and stored as sim-clock milliseconds.
type Cooldowns struct {
	cache cache.Cache
	scope string
}

// NewCooldowns creates a cooldown store. scope separates worlds sharing one
// cache (for example a Redis instance).
func NewCooldowns(c cache.Cache, scope string) *Cooldowns {
	return &Cooldowns{cache: c, scope: scope}
}

// cdKey returns the cache key for a unit's cooldown hash.
func (cd *Cooldowns) cdKey(id ai.EntityID) string {
	return "sim:" + cd.scope + ":unit:" + strconv.FormatInt(int64(id), 10) + ":cooldown"
}

// Start puts ability on cooldown for d from now.
func (cd *Cooldowns) Start(ctx context.Context, id ai.EntityID, ability ai.AbilityID, now, d time.Duration) error {
	readyAt := (now + d).Milliseconds()
	return cd.cache.HSet(ctx, cd.cdKey(id), string(ability), strconv.FormatInt(readyAt, 10))
}

// Remaining returns the cooldown left on ability at now.
func (cd *Cooldowns) Remaining(ctx context.Context, id ai.EntityID, ability ai.AbilityID, now time.Duration) (time.Duration, error) {
	val, err := cd.cache.HGet(ctx, cd.cdKey(id), string(ability))
	if cache.IsNotFound(err) || (err == nil && val == "") {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cooldown %s: %w", ability, err)
	}
	readyAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cooldown %s: bad ready time %q", ability, val)
	}
	return remainingAt(readyAt, now), nil
}

// All returns every cooldown still running at now.
func (cd *Cooldowns) All(ctx context.Context, id ai.EntityID, now time.Duration) (map[ai.AbilityID]time.Duration, error) {
	vals, err := cd.cache.HGetAll(ctx, cd.cdKey(id))
	if err != nil {
		return nil, err
	}
	out := make(map[ai.AbilityID]time.Duration, len(vals))
	for ability, val := range vals {
		readyAt, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		if d := remainingAt(readyAt, now); d > 0 {
			out[ai.AbilityID(ability)] = d
		}
	}
	return out, nil
}

// Reset clears every cooldown of a unit.
func (cd *Cooldowns) Reset(ctx context.Context, id ai.EntityID) error {
	return cd.cache.Del(ctx, cd.cdKey(id))
}

func remainingAt(readyAtMs int64, now time.Duration) time.Duration {
	d := time.Duration(readyAtMs)*time.Millisecond - now
	if d < 0 {
		return 0
	}
	return d
}
