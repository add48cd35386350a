package ai

import "fmt"

// Status is the result of a behavior tree node tick.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusRunning
	// StatusSkipped means a guard declined its subtree; selectors treat it
	// exactly like StatusFailure.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusRunning:
		return "running"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON and logs.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a status name written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range []Status{StatusSuccess, StatusFailure, StatusRunning, StatusSkipped} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// NodeID is assigned in pre-order when a tree is built and never changes.
type NodeID int

// Node is a single node in a behavior tree. Every node type embeds nodeMeta,
// so only pointers to the types in this package satisfy the interface.
type Node interface {
	Tick(c *Context) Status
	Children() []Node
	meta() *nodeMeta
}

type nodeMeta struct {
	id    NodeID
	path  string
	owner *Tree
}

func (m *nodeMeta) meta() *nodeMeta { return m }

// ID returns the node's identity inside its tree (0 before Build).
func (m *nodeMeta) ID() NodeID { return m.id }

// Path returns a readable location such as "root/select[2]/defensives".
func (m *nodeMeta) Path() string { return m.path }

// ---- Composite nodes ----

// Selector is the ordered choice: children are tried in declaration order and
// the first outcome that is neither Failure nor Skipped wins. Declaration
// order is the only priority.
type Selector struct {
	nodeMeta
	Name  string
	Items []Node
}

// Select builds a Selector.
func Select(name string, children ...Node) *Selector {
	return &Selector{Name: name, Items: children}
}

func (s *Selector) Children() []Node { return s.Items }

func (s *Selector) Tick(c *Context) Status {
	for _, child := range s.Items {
		st := c.eval(child)
		if c.halted {
			return st
		}
		switch st {
		case StatusFailure, StatusSkipped:
			continue
		}
		return st
	}
	return StatusFailure
}

// Sequence succeeds only when all children succeed (logical AND).
type Sequence struct {
	nodeMeta
	Name  string
	Items []Node
}

// Seq builds a Sequence.
func Seq(name string, children ...Node) *Sequence {
	return &Sequence{Name: name, Items: children}
}

func (s *Sequence) Children() []Node { return s.Items }

func (s *Sequence) Tick(c *Context) Status {
	for _, child := range s.Items {
		st := c.eval(child)
		if c.halted {
			return st
		}
		switch st {
		case StatusFailure, StatusSkipped:
			return StatusFailure
		case StatusRunning:
			return StatusRunning
		}
	}
	return StatusSuccess
}

// ---- Decorator nodes ----

// Guard only enters Child when Cond holds. When Cond is false the subtree is
// not evaluated at all.
type Guard struct {
	nodeMeta
	Name  string
	Cond  Predicate
	Child Node
	// SkipOnFail reports StatusSkipped instead of StatusFailure.
	SkipOnFail bool
}

// When builds a Guard decorator.
func When(name string, cond Predicate, child Node) *Guard {
	return &Guard{Name: name, Cond: cond, Child: child}
}

func (g *Guard) Children() []Node { return []Node{g.Child} }

func (g *Guard) Tick(c *Context) Status {
	if !c.check(g, g.Cond) {
		if g.SkipOnFail {
			return StatusSkipped
		}
		return StatusFailure
	}
	return c.eval(g.Child)
}

// Inverter negates the result of its child.
type Inverter struct {
	nodeMeta
	Child Node
}

// Not builds an Inverter.
func Not(child Node) *Inverter { return &Inverter{Child: child} }

func (i *Inverter) Children() []Node { return []Node{i.Child} }

func (i *Inverter) Tick(c *Context) Status {
	st := c.eval(i.Child)
	if c.halted {
		return st
	}
	switch st {
	case StatusSuccess:
		return StatusFailure
	case StatusFailure, StatusSkipped:
		return StatusSuccess
	default:
		return StatusRunning
	}
}

// ---- Leaf nodes ----

// Condition evaluates a boolean predicate and never produces an effect.
type Condition struct {
	nodeMeta
	Name string
	Fn   Predicate
}

// Check builds a Condition leaf.
func Check(name string, fn Predicate) *Condition {
	return &Condition{Name: name, Fn: fn}
}

func (cn *Condition) Children() []Node { return nil }

func (cn *Condition) Tick(c *Context) Status {
	if c.check(cn, cn.Fn) {
		return StatusSuccess
	}
	return StatusFailure
}

// Action is the only effect-producing node. When reached and its guard passes
// it resolves a target, re-validates it, and calls the dispatcher exactly
// once. Whatever the dispatcher answers, the tick is consumed.
type Action struct {
	nodeMeta
	Name    string
	Ability AbilityID
	// Guard gates the action; nil always passes.
	Guard Predicate
	// Target picks the entity to affect; nil means the primary target.
	Target TargetFunc
	// InFlight reports that this action's multi-tick effect is already
	// underway. The action then reports Running without dispatching.
	InFlight Predicate
}

// Cast builds an Action for ability on the primary target.
func Cast(ability AbilityID, guard Predicate) *Action {
	return &Action{Ability: ability, Guard: guard}
}

// On sets the action's target resolver and returns the action.
func (a *Action) On(target TargetFunc) *Action {
	a.Target = target
	return a
}

// Named sets the action's display name and returns the action.
func (a *Action) Named(name string) *Action {
	a.Name = name
	return a
}

// Channel marks the action as the continuation of an in-flight effect.
func (a *Action) Channel(inFlight Predicate) *Action {
	a.InFlight = inFlight
	return a
}

func (a *Action) Children() []Node { return nil }

func (a *Action) label() string {
	if a.Name != "" {
		return a.Name
	}
	return string(a.Ability)
}

func (a *Action) Tick(c *Context) Status {
	if !c.check(a, a.Guard) {
		return StatusFailure
	}
	if a.InFlight != nil {
		errs := len(c.guardErrs)
		if c.check(a, a.InFlight) {
			c.continuing(a)
			return StatusRunning
		}
		if len(c.guardErrs) > errs || c.halted {
			// a broken InFlight check fails the action instead of recasting
			return StatusFailure
		}
	}

	resolve := a.Target
	if resolve == nil {
		resolve = PrimaryTarget
	}
	target, ok := resolve(c)
	if !ok {
		return StatusFailure
	}
	// The target may have died or vanished since it was selected.
	live, ok := c.World.Entity(target.ID)
	if !ok || live.Dead {
		return StatusFailure
	}

	if c.dispatch(a, live).Issued {
		return StatusSuccess
	}
	return StatusFailure
}

// PrimaryTarget is the default TargetFunc: the tick's primary target.
func PrimaryTarget(c *Context) (Entity, bool) {
	return c.PrimaryTarget()
}

// SelfTarget targets the acting entity.
func SelfTarget(c *Context) (Entity, bool) {
	return c.World.Self(), true
}
