// Package testutil provides test helpers that enforce the package layering
// of the module: plugins talk to core and blob facades only, and core never
// reaches back into plugins or the command tree.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Predicate reports whether an import path is forbidden.
type Predicate func(importPath string) bool

// Under matches prefix itself and everything below it.
func Under(prefix string) Predicate {
	return func(p string) bool { return p == prefix || strings.HasPrefix(p, prefix+"/") }
}

// AnyOf matches when any of preds does.
func AnyOf(preds ...Predicate) Predicate {
	return func(p string) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}
}

// Layer predicates used by the architecture tests.
var (
	InfraImport   = Under("rdsp/internal/infra")
	HistoryImport = Under("rdsp/internal/history")
	CommandImport = Under("rdsp/cmd")
	PluginImport  = Under("rdsp/plugins")
)

// AssertNoTransitiveDependency loads pattern and fails if any package in its
// dependency closure satisfies forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden Predicate, reason string) {
	t.Helper()
	viols, err := transitiveViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "transitive dependency", reason, viols)
}

// AssertNoDirectImports parses the non-test .go files in dir and fails if any
// import satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden Predicate, reason string) {
	t.Helper()
	viols, err := directViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "direct imports", reason, viols)
}

var loadPackages = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	return packages.Load(cfg, pattern)
}

func transitiveViolations(pattern string, forbidden Predicate) ([]string, error) {
	roots, err := loadPackages(pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var viols []string
	var walk func(via string, pkg *packages.Package)
	walk = func(via string, pkg *packages.Package) {
		if seen[pkg.PkgPath] {
			return
		}
		seen[pkg.PkgPath] = true
		if forbidden(pkg.PkgPath) {
			viols = append(viols, fmt.Sprintf("%s (via %s)", pkg.PkgPath, via))
		}
		for _, imp := range pkg.Imports {
			walk(pkg.PkgPath, imp)
		}
	}
	for _, root := range roots {
		if len(root.Errors) > 0 {
			return nil, root.Errors[0]
		}
		walk(root.PkgPath, root)
	}
	sort.Strings(viols)
	return viols, nil
}

func directViolations(dir string, forbidden Predicate) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			ip := strings.Trim(imp.Path.Value, `"`)
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden %s (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}
