package core

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// Capability flags what a module type can do.
type Capability uint8

const (
	CapNone    Capability = 0
	CapConfig  Capability = 1 << 0
	CapProcess Capability = 1 << 1
	CapAll                = CapConfig | CapProcess
)

// Has reports whether c includes every flag in want.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Constructor builds a process bound to scope.
type Constructor func(id Identity, scope *Scope) Process

// ModuleType is a registered process type.
type ModuleType struct {
	Name       string
	Capability Capability
	New        Constructor
}

// Module is a statically linked package contributing process types.
type Module interface {
	Name() string
	Version() string
	// Ready reports whether the package can be used in this build.
	Ready() bool
	Primary() ModuleType
	Secondary() []ModuleType
}

// ModuleInfo describes an installed module package.
type ModuleInfo struct {
	Name    string
	Version string
	Types   []string
}

// Registry maps type names recorded in project documents to constructors.
type Registry struct {
	logger   *slog.Logger
	disabled map[string]struct{}

	mu        sync.RWMutex
	types     map[string]ModuleType
	invokable []string
	installed []ModuleInfo
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for discovery diagnostics.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDisabledModules excludes module packages by name from Discover.
func WithDisabledModules(names ...string) RegistryOption {
	return func(r *Registry) {
		for _, n := range names {
			r.disabled[n] = struct{}{}
		}
	}
}

// NewRegistry returns a registry holding only the built-in Signal type.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:   slog.New(slog.DiscardHandler),
		disabled: make(map[string]struct{}),
		types:    make(map[string]ModuleType),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Register(ModuleType{Name: typeSignal, Capability: CapConfig})
	return r
}

// Register adds or replaces a type. The last registration for a name wins;
// the invokable list keeps first-registration order.
func (r *Registry) Register(mt ModuleType) {
	if mt.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[mt.Name] = mt
	idx := slices.Index(r.invokable, mt.Name)
	switch {
	case mt.Capability.Has(CapProcess) && idx < 0:
		r.invokable = append(r.invokable, mt.Name)
	case !mt.Capability.Has(CapProcess) && idx >= 0:
		r.invokable = slices.Delete(r.invokable, idx, idx+1)
	}
}

// Resolve looks up a type by name. Unknown names are not an error.
func (r *Registry) Resolve(name string) (ModuleType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mt, ok := r.types[name]
	return mt, ok
}

// ListInvokable returns the names of types that can process, in registration order.
func (r *Registry) ListInvokable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.invokable)
}

// Discover registers every ready module package. Packages that are disabled,
// not ready or malformed are skipped and logged at debug level.
func (r *Registry) Discover(modules ...Module) {
	for _, m := range modules {
		if m == nil {
			continue
		}
		if _, off := r.disabled[m.Name()]; off {
			r.logger.Debug("module disabled", "module", m.Name())
			continue
		}
		if !m.Ready() {
			r.logger.Debug("module not ready", "module", m.Name())
			continue
		}
		primary := m.Primary()
		if primary.Name == "" || primary.New == nil {
			r.logger.Debug("module has no valid primary type", "module", m.Name())
			continue
		}
		info := ModuleInfo{Name: m.Name(), Version: m.Version()}
		for _, mt := range append([]ModuleType{primary}, m.Secondary()...) {
			if mt.Name == "" || mt.New == nil {
				r.logger.Debug("skipping malformed module type", "module", m.Name(), "type", mt.Name)
				continue
			}
			r.Register(mt)
			info.Types = append(info.Types, mt.Name)
		}
		r.mu.Lock()
		r.installed = append(r.installed, info)
		r.mu.Unlock()
		r.logger.Debug("module installed", "module", info.Name, "version", info.Version, "types", info.Types)
	}
}

// Installed returns metadata about discovered module packages, sorted by name.
func (r *Registry) Installed() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModuleInfo, len(r.installed))
	for i, info := range r.installed {
		out[i] = ModuleInfo{Name: info.Name, Version: info.Version, Types: slices.Clone(info.Types)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// construct builds a fresh invokable process of type name.
func (r *Registry) construct(name string, id Identity, scope *Scope) (Process, error) {
	mt, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	if mt.New == nil || !mt.Capability.Has(CapProcess) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotInvokable)
	}
	return mt.New(id, scope), nil
}
