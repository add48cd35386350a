package ai

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// ErrNoTarget is the sentinel guards and selectors use for "no candidate".
var ErrNoTarget = errors.New("ai: no target")

// ErrReentrantTick is returned when a brain is ticked while a previous tick
// of the same brain is still being evaluated.
var ErrReentrantTick = errors.New("ai: tick already in progress")

// TreeConstructionError reports a malformed composition. A tree that fails to
// build is never installed.
type TreeConstructionError struct {
	Role   string
	Path   string
	Reason string
	Err    error
}

func (e *TreeConstructionError) Error() string {
	msg := "build " + strconv.Quote(e.Role)
	if e.Path != "" {
		msg += " at " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TreeConstructionError) Unwrap() error { return e.Err }

// GuardError wraps a panic recovered while evaluating a node.
type GuardError struct {
	NodeID NodeID
	Path   string
	Value  any
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard %s (#%d): %v", e.Path, e.NodeID, e.Value)
}

// Unwrap exposes the recovered value when it was itself an error.
func (e *GuardError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Tree is the root of a role's decision tree. It is built once and then
// evaluated unchanged every tick; it holds no per-tick state.
type Tree struct {
	role    string
	root    Node
	nodes   []Node
	primary TargetFunc
	scratch func(c *Context) any
}

// TreeOption customises Build.
type TreeOption func(t *Tree)

// WithPrimary installs the resolver for the tick's primary target.
func WithPrimary(fn TargetFunc) TreeOption {
	return func(t *Tree) { t.primary = fn }
}

// WithScratch installs the role's per-tick scratch computation. It runs at
// the start of every tick before the root is evaluated.
func WithScratch(fn func(c *Context) any) TreeOption {
	return func(t *Tree) { t.scratch = fn }
}

// Build validates root and assigns node identities. Nodes may belong to one
// tree only; shared subtrees, cycles, nil children, empty composites and
// actions without an ability are rejected.
func Build(role string, root Node, opts ...TreeOption) (*Tree, error) {
	t := &Tree{role: role, root: root}
	for _, o := range opts {
		o(t)
	}
	if isNil(root) {
		return nil, &TreeConstructionError{Role: role, Reason: "missing root"}
	}

	b := &builder{tree: t, onPath: make(map[Node]bool), seen: make(map[Node]string)}
	if err := b.visit(root, "root"); err != nil {
		return nil, err
	}
	for i, n := range b.order {
		m := n.meta()
		m.id = NodeID(i)
		m.path = b.seen[n]
		m.owner = t
	}
	t.nodes = b.order
	return t, nil
}

type builder struct {
	tree   *Tree
	order  []Node
	onPath map[Node]bool
	seen   map[Node]string
}

func (b *builder) fail(path, reason string) error {
	return &TreeConstructionError{Role: b.tree.role, Path: path, Reason: reason}
}

func (b *builder) visit(n Node, path string) error {
	if b.onPath[n] {
		return b.fail(path, "cycle back to "+b.seen[n])
	}
	if prev, ok := b.seen[n]; ok {
		return b.fail(path, "subtree already used at "+prev)
	}
	if owner := n.meta().owner; owner != nil && owner != b.tree {
		return b.fail(path, "node already belongs to tree "+strconv.Quote(owner.role))
	}
	b.seen[n] = path
	b.order = append(b.order, n)

	switch v := n.(type) {
	case *Selector:
		if len(v.Items) == 0 {
			return b.fail(path, "selector without children")
		}
	case *Sequence:
		if len(v.Items) == 0 {
			return b.fail(path, "sequence without children")
		}
	case *Action:
		if v.Ability == "" {
			return b.fail(path, "action without ability")
		}
	case *Condition:
		if v.Fn == nil {
			return b.fail(path, "condition without predicate")
		}
	}

	b.onPath[n] = true
	defer delete(b.onPath, n)
	for i, child := range n.Children() {
		if isNil(child) {
			return b.fail(path+"/["+strconv.Itoa(i)+"]", "missing child")
		}
		childPath := path + "/" + segment(child, i)
		if err := b.visit(child, childPath); err != nil {
			return err
		}
	}
	return nil
}

func isNil(n Node) bool {
	if n == nil {
		return true
	}
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func segment(n Node, i int) string {
	name := ""
	switch v := n.(type) {
	case *Selector:
		name = v.Name
	case *Sequence:
		name = v.Name
	case *Guard:
		name = v.Name
	case *Condition:
		name = v.Name
	case *Action:
		name = v.label()
	}
	if name == "" {
		return "[" + strconv.Itoa(i) + "]"
	}
	return name + "[" + strconv.Itoa(i) + "]"
}

// Role returns the role name the tree was built for.
func (t *Tree) Role() string { return t.role }

// Size returns the number of nodes in the tree.
func (t *Tree) Size() int { return len(t.nodes) }

// Node returns the node with the given id, or nil.
func (t *Tree) Node(id NodeID) Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Actions returns every action node in declaration (priority) order.
func (t *Tree) Actions() []*Action {
	var out []*Action
	for _, n := range t.nodes {
		if a, ok := n.(*Action); ok {
			out = append(out, a)
		}
	}
	return out
}

// Tick evaluates the root once against c. Skipped never escapes the root.
func (t *Tree) Tick(c *Context) Status {
	if t == nil || t.root == nil {
		return StatusFailure
	}
	c.primaryFn = t.primary
	if t.scratch != nil && !t.prepare(c) {
		return StatusFailure
	}
	st := c.eval(t.root)
	if st == StatusSkipped {
		return StatusFailure
	}
	return st
}

// prepare recomputes the role scratch value. A panic there idles the tick.
func (t *Tree) prepare(c *Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.guardFailed(t.root, r)
			c.halted = true
			c.aborted = true
			ok = false
		}
	}()
	c.scratch = t.scratch(c)
	return true
}
