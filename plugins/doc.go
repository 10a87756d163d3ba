// Package plugins hosts the process variant packages. It carries no runtime
// code itself; the architecture tests that live here check that every
// variant stays on the core and blob facades.
//
// Each subpackage exports a Module that core.Registry.Discover installs:
//
//	airgap        per-pole, per-revolution air-gap matrices
//	integration   time or frequency domain integration into derived tracks
//	interception  time window crop of tracks
//	builtin       the default module set used by the rdsp command
package plugins
