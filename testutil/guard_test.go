package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred Predicate
		in   string
		want bool
	}{
		{InfraImport, "rdsp/internal/infra/blob/s3", true},
		{InfraImport, "rdsp/internal/infrastructure", false},
		{HistoryImport, "rdsp/internal/history", true},
		{CommandImport, "rdsp/cmd/rdsp", true},
		{PluginImport, "rdsp/plugins/airgap", true},
		{PluginImport, "rdsp/internal/core", false},
		{AnyOf(InfraImport, CommandImport), "rdsp/cmd/rdsp", true},
		{AnyOf(), "rdsp/cmd/rdsp", false},
	}
	for i, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("case %d: pred(%q)=%v want %v", i, c.in, got, c.want)
		}
	}
}

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectViolations(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"rdsp/internal/infra/blob/fs\"\n)\n")
	writeGo(t, dir, "a_test.go", "package tmp\nimport \"rdsp/cmd/rdsp\"\n")
	writeGo(t, dir, "notes.txt", "import \"rdsp/cmd/rdsp\"")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	viols, err := directViolations(dir, AnyOf(InfraImport, CommandImport))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "rdsp/internal/infra/blob/fs (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	AssertNoDirectImports(t, dir, CommandImport, "test files are ignored")
}

func TestDirectViolationsErrors(t *testing.T) {
	if _, err := directViolations(filepath.Join(t.TempDir(), "missing"), InfraImport); err == nil {
		t.Fatalf("expected missing dir error")
	}
	dir := t.TempDir()
	writeGo(t, dir, "bad.go", "package tmp\nimport (\n")
	if _, err := directViolations(dir, InfraImport); err == nil {
		t.Fatalf("expected parse error")
	}
}

type recorder struct{ msg string }

func (r *recorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfViolations(t *testing.T) {
	var r recorder
	failIfViolations(&r, "direct imports", "layering", nil)
	if r.msg != "" {
		t.Fatalf("unexpected failure %q", r.msg)
	}
	failIfViolations(&r, "direct imports", "layering", []string{"x", "y"})
	if !strings.Contains(r.msg, "forbidden direct imports (layering)") || !strings.HasSuffix(r.msg, "x\ny") {
		t.Fatalf("unexpected message %q", r.msg)
	}
}

func TestTransitiveViolations(t *testing.T) {
	leaf := &packages.Package{PkgPath: "rdsp/internal/infra/blob/fs"}
	mid := &packages.Package{PkgPath: "rdsp/internal/blob", Imports: map[string]*packages.Package{leaf.PkgPath: leaf}}
	root := &packages.Package{PkgPath: "rdsp/plugins/airgap", Imports: map[string]*packages.Package{mid.PkgPath: mid, "fmt": {PkgPath: "fmt"}}}

	orig := loadPackages
	t.Cleanup(func() { loadPackages = orig })
	loadPackages = func(string) ([]*packages.Package, error) { return []*packages.Package{root}, nil }

	viols, err := transitiveViolations("rdsp/plugins/...", InfraImport)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(viols) != 1 || viols[0] != "rdsp/internal/infra/blob/fs (via rdsp/internal/blob)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	loadPackages = func(string) ([]*packages.Package, error) { return nil, errors.New("boom") }
	if _, err := transitiveViolations("x", InfraImport); err == nil {
		t.Fatalf("expected load error")
	}
	loadPackages = func(string) ([]*packages.Package, error) {
		return []*packages.Package{{PkgPath: "x", Errors: []packages.Error{{Msg: "no Go files"}}}}, nil
	}
	if _, err := transitiveViolations("x", InfraImport); err == nil {
		t.Fatalf("expected package error")
	}
}
