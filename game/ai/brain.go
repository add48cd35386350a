package ai

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Decision summarises one tick of one brain.
type Decision struct {
	Agent       EntityID    `json:"agent"`
	Role        string      `json:"role"`
	Tick        uint64      `json:"tick"`
	Outcome     Status      `json:"outcome"`
	Attempted   bool        `json:"attempted"`
	Running     bool        `json:"running"`
	Action      string      `json:"action,omitempty"`
	Ability     AbilityID   `json:"ability,omitempty"`
	Target      EntityID    `json:"target,omitempty"`
	Issued      bool        `json:"issued"`
	Reason      string      `json:"reason,omitempty"`
	Idle        bool        `json:"idle"`
	GuardErrors []string    `json:"guard_errors,omitempty"`
	Visited     int         `json:"visited"`
	Trace       []TraceStep `json:"trace,omitempty"`
}

// BrainOption customises a Brain.
type BrainOption func(b *Brain)

// WithMaxGuardErrors sets the per-tick guard error budget. Once reached the
// tick idles without attempting anything. Zero disables the budget.
func WithMaxGuardErrors(n int) BrainOption {
	return func(b *Brain) { b.maxGuardErrs = n }
}

// WithTrace records every visited node in the returned Decision.
func WithTrace(on bool) BrainOption {
	return func(b *Brain) { b.trace = on }
}

// Brain drives one agent's tree. Ticks of the same brain never overlap.
type Brain struct {
	agent        EntityID
	tree         atomic.Pointer[Tree]
	logger       *zap.Logger
	maxGuardErrs int
	trace        bool
	busy         atomic.Bool

	mu   sync.Mutex
	last Decision
}

// NewBrain creates a Brain for agent running tree.
func NewBrain(agent EntityID, tree *Tree, logger *zap.Logger, opts ...BrainOption) *Brain {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Brain{agent: agent, logger: logger}
	b.tree.Store(tree)
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetTree swaps the tree used from the next tick on.
func (b *Brain) SetTree(t *Tree) { b.tree.Store(t) }

// Tree returns the installed tree.
func (b *Brain) Tree() *Tree { return b.tree.Load() }

// Last returns the most recent decision.
func (b *Brain) Last() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Tick runs exactly one evaluation of the tree against a fresh context.
// It never panics; every failure inside the tree degrades to an idle tick.
func (b *Brain) Tick(ctx context.Context, tick uint64, w World, d Dispatcher) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if !b.busy.CompareAndSwap(false, true) {
		return Decision{}, ErrReentrantTick
	}
	defer b.busy.Store(false)

	tree := b.tree.Load()
	dec := Decision{Agent: b.agent, Tick: tick, Outcome: StatusFailure}
	if tree == nil {
		dec.Idle = true
		return b.remember(dec), nil
	}
	dec.Role = tree.Role()

	c := NewContext(w, d, tick, b.logger.With(zap.String("role", tree.Role())))
	c.maxErrs = b.maxGuardErrs
	c.traceOn = b.trace

	dec.Outcome = b.run(tree, c)
	dec.Visited = c.visited
	dec.Trace = c.trace
	dec.Idle = c.aborted
	for _, err := range c.guardErrs {
		dec.GuardErrors = append(dec.GuardErrors, err.Error())
	}
	if a := c.attempt; a != nil {
		dec.Action = a.Action
		dec.Ability = a.Ability
		dec.Target = a.Target
		dec.Running = a.Running
		dec.Attempted = !a.Running
		dec.Issued = a.Issued
		dec.Reason = a.Reason
	}
	if dec.Attempted && !dec.Issued {
		b.logger.Debug("dispatch rejected",
			zap.Uint64("tick", tick),
			zap.String("action", dec.Action),
			zap.String("reason", dec.Reason))
	}
	return b.remember(dec), nil
}

func (b *Brain) run(tree *Tree, c *Context) (st Status) {
	defer func() {
		if r := recover(); r != nil {
			c.guardErrs = append(c.guardErrs, fmt.Errorf("tree %q: %v", tree.Role(), r))
			c.aborted = true
			st = StatusFailure
			b.logger.Error("tree evaluation panicked", zap.Any("recover", r))
		}
	}()
	return tree.Tick(c)
}

func (b *Brain) remember(d Decision) Decision {
	b.mu.Lock()
	b.last = d
	b.mu.Unlock()
	return d
}
