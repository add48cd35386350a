// Package role turns role definitions (YAML files or Go builders) into
// decision trees and keeps the installed set.
package role

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is one role file.
type Definition struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Settings    map[string]float64   `yaml:"settings"`
	Toggles     map[string]bool      `yaml:"toggles"`
	Targets     map[string]TargetDef `yaml:"targets"`
	// Primary names the target resolving the tick's primary target.
	// Empty uses the "primary" target when declared, else the nearest
	// living hostile.
	Primary string    `yaml:"primary"`
	Flags   []FlagDef `yaml:"flags"`
	Tree    *NodeDef  `yaml:"tree"`
}

// TargetDef is a named target selector. Filters and Order are written as
// a keyword followed by its arguments, e.g. "in_range 30" or
// "fewest_stacks corruption".
type TargetDef struct {
	Filters       []string `yaml:"filters"`
	Order         string   `yaml:"order"`
	PreferPrimary bool     `yaml:"prefer_primary"`
}

// FlagDef is a per-tick scratch flag recomputed before every tick.
type FlagDef struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// NodeDef is one tree node. Exactly one of Select, Sequence, Not, Check
// and Cast must be set. When is a guard: on a cast it gates the action,
// on any other node it wraps the node in a guard decorator.
type NodeDef struct {
	Name     string     `yaml:"name"`
	When     string     `yaml:"when"`
	Skip     bool       `yaml:"skip"`
	Select   []*NodeDef `yaml:"select"`
	Sequence []*NodeDef `yaml:"sequence"`
	Not      *NodeDef   `yaml:"not"`
	Check    string     `yaml:"check"`
	Cast     string     `yaml:"cast"`
	// Target is "primary" (default), "self", or a declared target name.
	Target string `yaml:"target"`
	// Channel marks a channelled cast; while the ability is being channelled
	// the action reports running instead of dispatching again.
	Channel bool `yaml:"channel"`
}

func (n *NodeDef) kinds() []string {
	var ks []string
	if n.Select != nil {
		ks = append(ks, "select")
	}
	if n.Sequence != nil {
		ks = append(ks, "sequence")
	}
	if n.Not != nil {
		ks = append(ks, "not")
	}
	if n.Check != "" {
		ks = append(ks, "check")
	}
	if n.Cast != "" {
		ks = append(ks, "cast")
	}
	return ks
}

// ParseDefinition decodes a role file.
func ParseDefinition(raw []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("role: parse: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("role: missing name")
	}
	return &def, nil
}

// LoadDefinition reads and decodes a role file.
func LoadDefinition(path string) (*Definition, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	def, err := ParseDefinition(raw)
	if err != nil {
		return nil, raw, fmt.Errorf("%s: %w", path, err)
	}
	return def, raw, nil
}
