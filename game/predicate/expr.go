package predicate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/kasuganosora/rotation/game/ai"
)

// Scope is the immutable build-time environment of a role's expressions:
// its settings, toggles and declared scratch flags. Expressions close over
// it at compile time, so changes need a rebuild.
type Scope struct {
	Name     string
	Settings map[string]float64
	Toggles  map[string]bool
	Flags    []string
}

// EvalError is raised (as a panic, recovered by the engine at the node
// boundary) when a compiled expression fails at run time.
type EvalError struct {
	Src string
	Err error
}

func (e *EvalError) Error() string { return fmt.Sprintf("eval `%s`: %v", e.Src, e.Err) }

func (e *EvalError) Unwrap() error { return e.Err }

// Compile turns a boolean expression into a guard. Unknown functions,
// non-boolean results and references to undeclared settings, toggles or
// flags are compile errors.
func Compile(src string, scope *Scope) (ai.Predicate, error) {
	prog, err := compile(src, scope, scope.Flags)
	if err != nil {
		return nil, err
	}
	key := ai.Key{Fact: "expr-env", Name: scope.Name}
	return func(c *ai.Context) bool {
		env := ai.Memo(c, key, func() map[string]any {
			return newEnv(c, scope, func(name string) bool {
				flags, _ := ai.Scratch[Flags](c)
				return flags[name]
			})
		})
		return run(prog, src, env)
	}, nil
}

// FlagDef is one scratch flag: a name and the expression computing it.
type FlagDef struct {
	Name string
	Expr string
}

// CompileFlags compiles scratch flag definitions into a tree scratch
// function. Flags are evaluated in order every tick, and each may read the
// flags declared before it.
func CompileFlags(defs []FlagDef, scope *Scope) (func(c *ai.Context) any, error) {
	progs := make([]*vm.Program, len(defs))
	declared := make([]string, 0, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("flag #%d: missing name", i)
		}
		if slices.Contains(declared, d.Name) {
			return nil, fmt.Errorf("flag %q declared twice", d.Name)
		}
		prog, err := compile(d.Expr, scope, declared)
		if err != nil {
			return nil, fmt.Errorf("flag %q: %w", d.Name, err)
		}
		progs[i] = prog
		declared = append(declared, d.Name)
	}
	return func(c *ai.Context) any {
		flags := make(Flags, len(defs))
		env := newEnv(c, scope, func(name string) bool { return flags[name] })
		for i, d := range defs {
			flags[d.Name] = run(progs[i], d.Expr, env)
		}
		return flags
	}, nil
}

func compile(src string, scope *Scope, flags []string) (*vm.Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	refs := &refCheck{scope: scope, flags: flags}
	prog, err := expr.Compile(src,
		expr.Env(newEnv(nil, scope, nil)),
		expr.AsBool(),
		expr.Patch(refs),
	)
	if err != nil {
		return nil, err
	}
	if len(refs.errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(refs.errs, "; "))
	}
	return prog, nil
}

func run(prog *vm.Program, src string, env map[string]any) bool {
	out, err := expr.Run(prog, env)
	if err != nil {
		panic(&EvalError{Src: src, Err: err})
	}
	return out.(bool)
}

// refCheck rejects references to settings, toggles and flags the role does
// not declare, so a typo fails the build instead of reading zero forever.
type refCheck struct {
	scope *Scope
	flags []string
	errs  []string
}

func (v *refCheck) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok {
		return
	}
	id, ok := call.Callee.(*ast.IdentifierNode)
	if !ok {
		return
	}
	switch id.Value {
	case "setting", "toggle", "flag":
	default:
		return
	}
	if len(call.Arguments) != 1 {
		return
	}
	lit, ok := call.Arguments[0].(*ast.StringNode)
	if !ok {
		v.errs = append(v.errs, id.Value+"() needs a string literal")
		return
	}
	known := false
	switch id.Value {
	case "setting":
		_, known = v.scope.Settings[lit.Value]
	case "toggle":
		_, known = v.scope.Toggles[lit.Value]
	case "flag":
		known = slices.Contains(v.flags, lit.Value)
	}
	if !known {
		v.errs = append(v.errs, fmt.Sprintf("undefined %s %q", id.Value, lit.Value))
	}
}

// newEnv exposes the fact vocabulary to expressions. With a nil context it
// only describes types for the compiler.
func newEnv(c *ai.Context, scope *Scope, flag func(string) bool) map[string]any {
	return map[string]any{
		"cd": func(ability string) float64 {
			return CooldownRemaining(c, ai.AbilityID(ability)).Seconds()
		},
		"ready": func(ability string) bool {
			return CooldownRemaining(c, ai.AbilityID(ability)) <= 0
		},
		"buff": func(effect string) bool {
			return EffectActive(c, Self, ai.EffectID(effect))
		},
		"buff_remains": func(effect string) float64 {
			return EffectRemaining(c, Self, ai.EffectID(effect)).Seconds()
		},
		"buff_stacks": func(effect string) int {
			return EffectStacks(c, Self, ai.EffectID(effect))
		},
		"debuff": func(effect string) bool {
			return EffectActive(c, Target, ai.EffectID(effect))
		},
		"debuff_remains": func(effect string) float64 {
			return EffectRemaining(c, Target, ai.EffectID(effect)).Seconds()
		},
		"debuff_stacks": func(effect string) int {
			return EffectStacks(c, Target, ai.EffectID(effect))
		},
		"power": func(pool string) float64 {
			return Resource(c, ai.PoolID(pool))
		},
		"power_max": func(pool string) float64 {
			return ResourceMax(c, ai.PoolID(pool))
		},
		"power_pct": func(pool string) float64 {
			return ResourcePercent(c, ai.PoolID(pool))
		},
		"deficit": func(pool string) float64 {
			return ResourceDeficit(c, ai.PoolID(pool))
		},
		"enemies": func(radius float64) int {
			return EnemiesNear(c, radius)
		},
		"has": func(capability string) bool {
			return HasCapability(c, capability)
		},
		"ttd": func() float64 {
			return TimeToDie(c, Target)
		},
		"hp": func() float64 {
			return HealthPercent(c, Self)
		},
		"target_hp": func() float64 {
			return HealthPercent(c, Target)
		},
		"has_target": func() bool {
			return HasTarget(c)
		},
		"channeling": func(ability string) bool {
			return Channeling(ai.AbilityID(ability))(c)
		},
		"setting": func(name string) float64 {
			return scope.Settings[name]
		},
		"toggle": func(name string) bool {
			return scope.Toggles[name]
		},
		"flag": func(name string) bool {
			return flag(name)
		},
	}
}
