package role

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/game/predicate"
	"github.com/kasuganosora/rotation/game/target"
)

// builder compiles one Definition. Every error is a TreeConstructionError
// scoped to that role.
type builder struct {
	def     *Definition
	scope   *predicate.Scope
	targets map[string]*target.Selector
}

// Build compiles def into a tree.
func Build(def *Definition) (*ai.Tree, error) {
	b := &builder{def: def, targets: make(map[string]*target.Selector)}
	if def.Tree == nil {
		return nil, &ai.TreeConstructionError{Role: def.Name, Reason: "missing root"}
	}

	flagNames := make([]string, 0, len(def.Flags))
	flagDefs := make([]predicate.FlagDef, 0, len(def.Flags))
	for _, f := range def.Flags {
		flagNames = append(flagNames, f.Name)
		flagDefs = append(flagDefs, predicate.FlagDef{Name: f.Name, Expr: f.Expr})
	}
	b.scope = &predicate.Scope{
		Name:     def.Name,
		Settings: def.Settings,
		Toggles:  def.Toggles,
		Flags:    flagNames,
	}

	for name, td := range def.Targets {
		sel, err := compileTarget(name, td)
		if err != nil {
			return nil, b.fail("targets/"+name, "bad target", err)
		}
		b.targets[name] = sel
	}

	var opts []ai.TreeOption
	primary, err := b.primary()
	if err != nil {
		return nil, err
	}
	opts = append(opts, ai.WithPrimary(primary))

	if len(flagDefs) > 0 {
		scratch, err := predicate.CompileFlags(flagDefs, b.scope)
		if err != nil {
			return nil, b.fail("flags", "bad flag", err)
		}
		opts = append(opts, ai.WithScratch(scratch))
	}

	root, err := b.node(def.Tree, "tree")
	if err != nil {
		return nil, err
	}
	return ai.Build(def.Name, root, opts...)
}

func (b *builder) fail(path, reason string, err error) error {
	return &ai.TreeConstructionError{Role: b.def.Name, Path: path, Reason: reason, Err: err}
}

func (b *builder) primary() (ai.TargetFunc, error) {
	name := b.def.Primary
	if name == "" {
		if sel, ok := b.targets["primary"]; ok {
			return sel.Func(), nil
		}
		return NearestHostile.Func(), nil
	}
	sel, ok := b.targets[name]
	if !ok {
		return nil, b.fail("primary", "undefined target "+strconv.Quote(name), nil)
	}
	return sel.Func(), nil
}

// NearestHostile is the primary target of roles that declare none.
var NearestHostile = &target.Selector{
	Name:    "nearest-hostile",
	Filters: []target.Filter{target.Hostile, target.Alive},
	Order:   target.Nearest,
}

func (b *builder) guard(src, path string) (ai.Predicate, error) {
	p, err := predicate.Compile(src, b.scope)
	if err != nil {
		return nil, b.fail(path, "bad guard", err)
	}
	return p, nil
}

func (b *builder) node(n *NodeDef, path string) (ai.Node, error) {
	if n == nil {
		return nil, b.fail(path, "missing child", nil)
	}
	kinds := n.kinds()
	switch len(kinds) {
	case 0:
		return nil, b.fail(path, "node without kind", nil)
	case 1:
	default:
		return nil, b.fail(path, "node mixes "+strings.Join(kinds, " and "), nil)
	}

	if kinds[0] == "cast" {
		return b.cast(n, path)
	}

	var (
		node ai.Node
		err  error
	)
	switch kinds[0] {
	case "select":
		var items []ai.Node
		items, err = b.children(n.Select, path+"/select")
		node = ai.Select(n.Name, items...)
	case "sequence":
		var items []ai.Node
		items, err = b.children(n.Sequence, path+"/sequence")
		node = ai.Seq(n.Name, items...)
	case "not":
		var child ai.Node
		child, err = b.node(n.Not, path+"/not")
		node = ai.Not(child)
	case "check":
		var p ai.Predicate
		p, err = b.guard(n.Check, path+"/check")
		node = ai.Check(n.Name, p)
	}
	if err != nil {
		return nil, err
	}
	if n.Target != "" || n.Channel {
		return nil, b.fail(path, "target and channel only apply to cast", nil)
	}
	if n.When == "" {
		if n.Skip {
			return nil, b.fail(path, "skip without when", nil)
		}
		return node, nil
	}
	cond, err := b.guard(n.When, path+"/when")
	if err != nil {
		return nil, err
	}
	g := ai.When(n.Name, cond, node)
	g.SkipOnFail = n.Skip
	return g, nil
}

func (b *builder) children(defs []*NodeDef, path string) ([]ai.Node, error) {
	out := make([]ai.Node, 0, len(defs))
	for i, d := range defs {
		n, err := b.node(d, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (b *builder) cast(n *NodeDef, path string) (ai.Node, error) {
	if n.Skip {
		return nil, b.fail(path, "skip only applies to guarded composites", nil)
	}
	ability := ai.AbilityID(n.Cast)
	a := ai.Cast(ability, nil).Named(n.Name)
	if n.When != "" {
		p, err := b.guard(n.When, path+"/when")
		if err != nil {
			return nil, err
		}
		a.Guard = p
	}
	switch n.Target {
	case "", "primary":
	case "self":
		a.On(ai.SelfTarget)
	default:
		sel, ok := b.targets[n.Target]
		if !ok {
			return nil, b.fail(path, "undefined target "+strconv.Quote(n.Target), nil)
		}
		a.On(sel.Func())
	}
	if n.Channel {
		a.Channel(predicate.Channeling(ability))
	}
	return a, nil
}

// compileTarget turns a TargetDef into a selector named after the target.
func compileTarget(name string, td TargetDef) (*target.Selector, error) {
	sel := &target.Selector{Name: "role:" + name, PreferPrimary: td.PreferPrimary}
	for _, raw := range td.Filters {
		f, err := parseFilter(raw)
		if err != nil {
			return nil, err
		}
		sel.Filters = append(sel.Filters, f)
	}
	if td.Order != "" {
		o, err := parseOrder(td.Order)
		if err != nil {
			return nil, err
		}
		sel.Order = o
	}
	return sel, nil
}

func parseFilter(raw string) (target.Filter, error) {
	word, args := split(raw)
	switch word {
	case "hostile":
		return target.Hostile, arity(raw, args, 0)
	case "friendly":
		return target.Friendly, arity(raw, args, 0)
	case "alive":
		return target.Alive, arity(raw, args, 0)
	case "others":
		return target.Others, arity(raw, args, 0)
	case "facing":
		return target.Facing, arity(raw, args, 0)
	case "reachable":
		return target.Reachable, arity(raw, args, 0)
	case "in_range":
		r, err := number(raw, args)
		return target.InRange(r), err
	case "health_below":
		pct, err := number(raw, args)
		return target.HealthBelow(pct), err
	case "has_effect":
		return target.HasEffect(ai.EffectID(first(args))), arity(raw, args, 1)
	case "missing_effect":
		return target.MissingEffect(ai.EffectID(first(args))), arity(raw, args, 1)
	case "role":
		if len(args) == 0 {
			return nil, fmt.Errorf("filter %q: needs at least one role", raw)
		}
		return target.RoleIn(args...), nil
	}
	return nil, fmt.Errorf("unknown filter %q", raw)
}

func parseOrder(raw string) (target.Order, error) {
	word, args := split(raw)
	switch word {
	case "lowest_health":
		return target.LowestHealth, arity(raw, args, 0)
	case "highest_health":
		return target.HighestHealth, arity(raw, args, 0)
	case "longest_ttd":
		return target.LongestTimeToDie, arity(raw, args, 0)
	case "nearest":
		return target.Nearest, arity(raw, args, 0)
	case "fewest_stacks":
		return target.FewestStacks(ai.EffectID(first(args))), arity(raw, args, 1)
	}
	return nil, fmt.Errorf("unknown order %q", raw)
}

func split(raw string) (string, []string) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func first(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func arity(raw string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%q: want %d argument(s), got %d", raw, n, len(args))
	}
	return nil
}

func number(raw string, args []string) (float64, error) {
	if err := arity(raw, args, 1); err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", raw, err)
	}
	return v, nil
}
