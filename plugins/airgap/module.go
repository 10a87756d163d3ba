package airgap

import "rdsp/internal/core"

// Module is the airgap module package.
type Module struct {
	tolerance float64
}

// Option customises the module.
type Option func(*Module)

// WithTolerance sets the tolerance used when a process config has none.
func WithTolerance(tol float64) Option {
	return func(m *Module) {
		if tol > 0 {
			m.tolerance = tol
		}
	}
}

// New constructs the module package.
func New(opts ...Option) Module {
	m := Module{tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Name returns the package identifier.
func (Module) Name() string { return "airgap" }

// Version returns the package semantic version.
func (Module) Version() string { return "1.0.0" }

// Ready reports that the package needs nothing beyond the binary.
func (Module) Ready() bool { return true }

// Primary returns the AirGap process type.
func (m Module) Primary() core.ModuleType {
	return core.ModuleType{
		Name:       TypeName,
		Capability: core.CapAll,
		New: func(id core.Identity, scope *core.Scope) core.Process {
			return newProcess(id, scope, m.tolerance)
		},
	}
}

// Secondary returns no extra types.
func (Module) Secondary() []core.ModuleType { return nil }
