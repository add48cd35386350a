package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/game/ai"
)

// Filter selects decision events by agent. An empty filter matches every agent.
type Filter map[ai.EntityID]struct{}

// NewFilter builds a filter over ids.
func NewFilter(ids ...ai.EntityID) Filter {
	f := make(Filter, len(ids))
	for _, id := range ids {
		f[id] = struct{}{}
	}
	return f
}

// ParseFilter parses a comma separated list of agent IDs such as "1,4".
func ParseFilter(s string) (Filter, error) {
	f := Filter{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("agent filter: %q is not an id", part)
		}
		f[ai.EntityID(id)] = struct{}{}
	}
	return f, nil
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev DecisionEvent) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[ev.Decision.Agent]
	return ok
}

// DecodeEvent parses a payload published on DecisionChannel.
func DecodeEvent(payload string) (DecisionEvent, error) {
	var ev DecisionEvent
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}

// Publish sends ev on DecisionChannel.
func Publish(ctx context.Context, ps cache.PubSub, ev DecisionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	return ps.Publish(ctx, DecisionChannel, string(payload))
}
