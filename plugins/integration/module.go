package integration

import "rdsp/internal/core"

// Module is the integration module package.
type Module struct{}

// New constructs the module package.
func New() Module { return Module{} }

func (Module) Name() string    { return "integration" }
func (Module) Version() string { return "1.0.0" }
func (Module) Ready() bool     { return true }

// Primary returns the Integration process type.
func (Module) Primary() core.ModuleType {
	return core.ModuleType{
		Name:       TypeName,
		Capability: core.CapAll,
		New: func(id core.Identity, scope *core.Scope) core.Process {
			return &Process{Derived: core.NewDerived(id, scope), settings: Settings{TrackSet: []Item{}}}
		},
	}
}

func (Module) Secondary() []core.ModuleType { return nil }
