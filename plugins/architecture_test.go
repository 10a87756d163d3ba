package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"rdsp/testutil"
)

// TestPluginsUseFacades keeps process variants on the core and blob facades.
// Storage drivers, the run ledger and the command tree are wired by the
// host, never by a plugin.
func TestPluginsUseFacades(t *testing.T) {
	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatalf("read plugins dir: %v", err)
	}
	forbidden := testutil.AnyOf(testutil.InfraImport, testutil.HistoryImport, testutil.CommandImport)
	checked := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		checked++
		t.Run(e.Name(), func(t *testing.T) {
			testutil.AssertNoDirectImports(t, filepath.Join(".", e.Name()), forbidden, "plugins depend on core and blob only")
		})
	}
	if checked == 0 {
		t.Fatalf("no plugin packages found")
	}
}

// TestCoreDoesNotDependOnPlugins guards the registry boundary: core resolves
// process types through Module values handed to it.
func TestCoreDoesNotDependOnPlugins(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, "rdsp/internal/core",
		testutil.AnyOf(testutil.PluginImport, testutil.CommandImport), "core must not import plugins")
}
