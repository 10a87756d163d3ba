// Package builtin lists the module packages linked into the rdsp binary.
package builtin

import (
	"rdsp/internal/core"
	"rdsp/plugins/airgap"
	"rdsp/plugins/integration"
	"rdsp/plugins/interception"
)

// Options tunes the built-in packages.
type Options struct {
	// AirGapTolerance overrides the default inlier tolerance when positive.
	AirGapTolerance float64
}

// Modules returns every built-in module package in discovery order.
func Modules(opts Options) []core.Module {
	return []core.Module{
		airgap.New(airgap.WithTolerance(opts.AirGapTolerance)),
		integration.New(),
		interception.New(),
	}
}

// Registry returns a registry with the built-in packages discovered.
func Registry(opts Options, ropts ...core.RegistryOption) *core.Registry {
	reg := core.NewRegistry(ropts...)
	reg.Discover(Modules(opts)...)
	return reg
}
