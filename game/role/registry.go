package role

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/plugin/hook"
)

// Settings is the immutable configuration handed to a Go builder.
type Settings struct {
	Values  map[string]float64
	Toggles map[string]bool
}

// Builder builds a role tree in Go. It must be pure: the same settings
// always produce an equivalent tree.
type Builder func(s Settings) (*ai.Tree, error)

// LoadResult is the outcome of building one role.
type LoadResult struct {
	Role     string
	Source   string
	Checksum string
	Nodes    int
	Err      error
	// Kept is set when the build failed but a previous tree stays installed.
	Kept bool
}

// LoadErrors aggregates the failed roles of one load. Roles that built
// successfully are installed regardless.
type LoadErrors []LoadResult

func (e LoadErrors) Error() string {
	parts := make([]string, len(e))
	for i, r := range e {
		parts[i] = r.Err.Error()
	}
	return fmt.Sprintf("%d role(s) failed: %s", len(e), strings.Join(parts, "; "))
}

// Info describes an installed role.
type Info struct {
	Name     string    `json:"name"`
	Source   string    `json:"source"`
	Checksum string    `json:"checksum,omitempty"`
	Nodes    int       `json:"nodes"`
	Actions  []string  `json:"actions"`
	Builtin  bool      `json:"builtin"`
	LoadedAt time.Time `json:"loaded_at"`
}

type installed struct {
	tree     *ai.Tree
	info     Info
	settings Settings
}

// Registry holds the installed role trees.
type Registry struct {
	mu       sync.RWMutex
	dir      string
	roles    map[string]*installed
	builders map[string]Builder
	hooks    *hook.HookCenter
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. hooks may be nil.
func NewRegistry(logger *zap.Logger, hooks *hook.HookCenter) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		roles:    make(map[string]*installed),
		builders: make(map[string]Builder),
		hooks:    hooks,
		logger:   logger.Named("role"),
	}
}

// Register installs a Go-built role. A failing builder leaves any
// previous tree of that role installed.
func (r *Registry) Register(ctx context.Context, name string, b Builder, s Settings) error {
	res := LoadResult{Role: name, Source: "builtin"}
	tree, err := safeBuild(name, func() (*ai.Tree, error) { return b(s) })
	if err == nil && tree.Role() != name {
		err = &ai.TreeConstructionError{Role: name, Reason: fmt.Sprintf("builder returned tree for %q", tree.Role())}
	}

	r.mu.Lock()
	if err != nil {
		res.Err = err
		_, res.Kept = r.roles[name]
	} else {
		res.Nodes = tree.Size()
		r.builders[name] = b
		r.roles[name] = &installed{tree: tree, info: r.info(tree, res, true), settings: s}
	}
	r.mu.Unlock()

	r.report(ctx, res)
	return res.Err
}

// LoadDir builds every *.yaml / *.yml file in dir and installs the roles
// that build. Each role is independent: a broken file never prevents the
// others from installing, and a role whose new definition fails keeps its
// previous tree. File roles no longer defined by any file are removed.
// The returned error, if any, is a LoadErrors.
func (r *Registry) LoadDir(ctx context.Context, dir string) ([]LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("role: read dir: %w", err)
	}
	r.mu.Lock()
	r.dir = dir
	r.mu.Unlock()

	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)

	seen := make(map[string]string)
	results := make([]LoadResult, 0, len(files))
	var failed LoadErrors
	for _, path := range files {
		res := r.loadFile(path, seen)
		if res.Err != nil {
			failed = append(failed, res)
		}
		results = append(results, res)
		r.report(ctx, res)
	}
	r.dropMissing(ctx, results)
	if len(failed) > 0 {
		return results, failed
	}
	return results, nil
}

// dropMissing uninstalls file roles that no file of the latest load
// defines. Builtins are never dropped.
func (r *Registry) dropMissing(ctx context.Context, results []LoadResult) {
	present := make(map[string]bool, len(results))
	for _, res := range results {
		present[res.Role] = true
	}
	r.mu.Lock()
	var dropped []string
	for name, in := range r.roles {
		if !in.info.Builtin && !present[name] {
			delete(r.roles, name)
			dropped = append(dropped, name)
		}
	}
	r.mu.Unlock()

	slices.Sort(dropped)
	for _, name := range dropped {
		r.logger.Info("role removed", zap.String("role", name))
		if r.hooks != nil {
			r.hooks.Trigger(ctx, hook.OnRoleRemoved, name)
		}
	}
}

// Reload reloads the directory of the last LoadDir and rebuilds every Go
// role with its original settings.
func (r *Registry) Reload(ctx context.Context) ([]LoadResult, error) {
	r.mu.RLock()
	dir := r.dir
	type builtin struct {
		b Builder
		s Settings
	}
	builtins := make(map[string]builtin, len(r.builders))
	for name, b := range r.builders {
		builtins[name] = builtin{b: b, s: r.roles[name].settings}
	}
	r.mu.RUnlock()

	var (
		results []LoadResult
		failed  LoadErrors
	)
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := r.Register(ctx, name, builtins[name].b, builtins[name].s); err != nil {
			failed = append(failed, LoadResult{Role: name, Source: "builtin", Err: err, Kept: true})
		}
	}
	if dir != "" {
		res, err := r.LoadDir(ctx, dir)
		results = append(results, res...)
		var le LoadErrors
		if errors.As(err, &le) {
			failed = append(failed, le...)
		} else if err != nil {
			return results, err
		}
	}
	if len(failed) > 0 {
		return results, failed
	}
	return results, nil
}

func (r *Registry) loadFile(path string, seen map[string]string) LoadResult {
	res := LoadResult{Role: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), Source: path}
	def, raw, err := LoadDefinition(path)
	if raw != nil {
		sum := sha256.Sum256(raw)
		res.Checksum = hex.EncodeToString(sum[:])
	}
	if err != nil {
		res.Err = err
		r.markKept(&res)
		return res
	}
	res.Role = def.Name
	if prev, dup := seen[def.Name]; dup {
		res.Err = fmt.Errorf("%s: role %q already defined in %s", path, def.Name, prev)
		r.markKept(&res)
		return res
	}
	seen[def.Name] = path

	tree, err := safeBuild(def.Name, func() (*ai.Tree, error) { return Build(def) })
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", path, err)
		r.markKept(&res)
		return res
	}
	res.Nodes = tree.Size()

	r.mu.Lock()
	if _, ok := r.builders[def.Name]; ok {
		r.mu.Unlock()
		res.Err = fmt.Errorf("%s: role %q is built in", path, def.Name)
		res.Kept = true
		return res
	}
	r.roles[def.Name] = &installed{tree: tree, info: r.info(tree, res, false)}
	r.mu.Unlock()
	return res
}

func (r *Registry) markKept(res *LoadResult) {
	r.mu.RLock()
	_, res.Kept = r.roles[res.Role]
	r.mu.RUnlock()
}

func (r *Registry) info(tree *ai.Tree, res LoadResult, builtin bool) Info {
	actions := tree.Actions()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Path()
	}
	return Info{
		Name:     tree.Role(),
		Source:   res.Source,
		Checksum: res.Checksum,
		Nodes:    tree.Size(),
		Actions:  names,
		Builtin:  builtin,
		LoadedAt: time.Now(),
	}
}

func (r *Registry) report(ctx context.Context, res LoadResult) {
	if res.Err != nil {
		r.logger.Error("role load failed",
			zap.String("role", res.Role),
			zap.String("source", res.Source),
			zap.Bool("kept_previous", res.Kept),
			zap.Error(res.Err))
		if r.hooks != nil {
			r.hooks.Trigger(ctx, hook.OnRoleLoadFailed, res)
		}
		return
	}
	r.logger.Info("role loaded",
		zap.String("role", res.Role),
		zap.String("source", res.Source),
		zap.Int("nodes", res.Nodes))
	if r.hooks != nil {
		r.hooks.Trigger(ctx, hook.OnRoleLoaded, res)
	}
}

// Tree returns the installed tree of role.
func (r *Registry) Tree(name string) (*ai.Tree, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.roles[name]
	if !ok {
		return nil, false
	}
	return in.tree, true
}

// Names returns the installed role names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Infos describes every installed role, sorted by name.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.roles))
	for _, in := range r.roles {
		out = append(out, in.info)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// safeBuild turns a panicking builder into a construction error.
func safeBuild(name string, fn func() (*ai.Tree, error)) (tree *ai.Tree, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			tree = nil
			err = &ai.TreeConstructionError{Role: name, Reason: fmt.Sprintf("builder panicked: %v", rec)}
		}
	}()
	tree, err = fn()
	if err == nil && tree == nil {
		err = &ai.TreeConstructionError{Role: name, Reason: "builder returned no tree"}
	}
	return tree, err
}
