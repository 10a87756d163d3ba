package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

const (
	cliPoles = 4
	cliRevs  = 6
	cliWidth = 20
)

// writeCapture stores a JSON capture with a key-phasor track and two gap
// sensor tracks.
func writeCapture(t *testing.T, dir string) string {
	t.Helper()
	perRev := cliPoles * cliWidth
	kp := make([]float64, perRev*cliRevs)
	gap := make([]float64, perRev*cliRevs)
	for g := 0; g < cliRevs; g++ {
		for k := 0; k < cliWidth/2; k++ {
			kp[g*perRev+k] = 1
		}
		for j := 0; j < cliPoles; j++ {
			for k := 0; k < cliWidth/2; k++ {
				gap[g*perRev+j*cliWidth+k] = 4 + 0.01*float64(j)
			}
		}
	}
	doc := map[string]any{"RecordDate": "2024-05-01"}
	for i, tr := range []struct {
		name string
		data []float64
	}{{"KP", kp}, {"Gap1", gap}, {"Gap2", gap}} {
		prefix := fmt.Sprintf("Track%d", i+1)
		doc[prefix] = tr.data
		doc[prefix+"_Name"] = tr.name
		doc[prefix+"_TrueBandWidth"] = 100
		doc[prefix+"_Sensitivity"] = 1
		doc[prefix+"_Offset"] = 0
		doc[prefix+"_X_Magnitude"] = "s"
		doc[prefix+"_Y_Magnitude"] = "mm"
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "rig.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	return path
}

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RDSP_HISTORY_DRIVER", "sqlite")
	t.Setenv("RDSP_HISTORY_DSN", filepath.Join(dir, "history.db"))
	t.Setenv("RDSP_LOG_LEVEL", "error")
	t.Setenv("RDSP_BLOB_DRIVER", "fs")
	t.Setenv("RDSP_METRICS_FILE", filepath.Join(dir, "rdsp.prom"))
	return dir
}

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, code := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("rdsp %s: exit %d: %s", strings.Join(args, " "), code, errOut)
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	dir := testEnv(t)
	proj := filepath.Join(dir, "proj")
	mustRun(t, "new", proj)
	if _, err := os.Stat(filepath.Join(proj, "project.json")); err != nil {
		t.Fatalf("project document missing: %v", err)
	}

	out := mustRun(t, "import", proj, writeCapture(t, dir))
	var signal string
	tracks := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		f := strings.Fields(line)
		switch f[0] {
		case "signal":
			signal = f[1]
		case "track":
			tracks[f[2]] = f[1]
		}
	}
	if signal == "" || len(tracks) != 3 {
		t.Fatalf("unexpected import output %q", out)
	}

	cfg := map[string]any{
		"numOfPoles": cliPoles,
		"keyPhasor":  tracks["KP"],
		"trackSet": []map[string]any{
			{"guid": tracks["Gap1"], "thickness": 0.5, "angle": 0, "pole": 1},
			{"guid": tracks["Gap2"], "thickness": 0.5, "angle": 180, "pole": 1},
		},
	}
	raw, _ := json.Marshal(cfg)
	cfgPath := filepath.Join(dir, "airgap.json")
	if err := os.WriteFile(cfgPath, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	guid := strings.TrimSpace(mustRun(t, "attach", proj, signal, "AirGap", "--name", "gap", "--config", cfgPath))

	tree := mustRun(t, "tree", proj)
	if !strings.Contains(tree, `AirGap "gap" `+guid) || !strings.Contains(tree, "KeyPhasor") {
		t.Fatalf("tree missing process:\n%s", tree)
	}

	if out := mustRun(t, "process", "-q", proj, guid); !strings.Contains(out, "processed "+guid) {
		t.Fatalf("process output %q", out)
	}

	xlsx := filepath.Join(dir, "gap.xlsx")
	mustRun(t, "export", proj, guid, xlsx)
	wb, err := excelize.OpenFile(xlsx)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	sheets := wb.GetSheetList()
	_ = wb.Close()
	if len(sheets) != 2 || sheets[0] != "Gap1" {
		t.Fatalf("unexpected sheets %v", sheets)
	}

	orbitOut := mustRun(t, "orbit", proj, guid, "--pole", "1", "--rev", "2", "--sensor", "2", "--points")
	if !strings.Contains(orbitOut, "sensor: Gap2") || !strings.Contains(orbitOut, "polygon,angle,radius,x,y") {
		t.Fatalf("orbit output:\n%s", orbitOut)
	}
	if _, errOut, code := runCLI(t, "orbit", proj, guid, "--pole", "9"); code == 0 || !strings.Contains(errOut, "Error:") {
		t.Fatalf("expected out-of-range pole to fail, got %d %q", code, errOut)
	}

	runs := mustRun(t, "history")
	if !strings.Contains(runs, guid) || !strings.Contains(runs, "succeeded") {
		t.Fatalf("history missing run:\n%s", runs)
	}
	recent := mustRun(t, "history", "--recent", "capture")
	if !strings.Contains(recent, "rig.json") {
		t.Fatalf("recent captures %q", recent)
	}
	prom, err := os.ReadFile(filepath.Join(dir, "rdsp.prom"))
	if err != nil || !strings.Contains(string(prom), "rdsp_tasks_started_total") {
		t.Fatalf("metrics textfile: %v %q", err, prom)
	}

	if u := strings.TrimSpace(mustRun(t, "url", proj, guid)); !strings.HasPrefix(u, "file://") || !strings.HasSuffix(u, "result/"+guid+".cbor") {
		t.Fatalf("result url %q", u)
	}
	if u := strings.TrimSpace(mustRun(t, "url", proj, tracks["KP"], "--expiry", "1m")); !strings.HasSuffix(u, "source/"+tracks["KP"]+".npy") {
		t.Fatalf("track url %q", u)
	}

	if out := mustRun(t, "orphans", proj); out != "" {
		t.Fatalf("unexpected orphans %q", out)
	}
	mustRun(t, "delete", proj, guid)
	if tree := mustRun(t, "tree", proj); strings.Contains(tree, guid) {
		t.Fatalf("process still listed:\n%s", tree)
	}
	if _, err := os.Stat(filepath.Join(proj, "result", guid+".cbor")); !os.IsNotExist(err) {
		t.Fatalf("result file should be gone: %v", err)
	}
}

func TestModules(t *testing.T) {
	testEnv(t)
	t.Setenv("RDSP_DISABLED_MODULES", "interception")
	out := mustRun(t, "modules")
	if !strings.Contains(out, "airgap") || strings.Contains(out, "Interception") {
		t.Fatalf("modules output:\n%s", out)
	}
	if !strings.Contains(out, "invokable: AirGap, Integration") {
		t.Fatalf("invokable list:\n%s", out)
	}
}

func TestErrorsExitNonZero(t *testing.T) {
	dir := testEnv(t)
	cases := [][]string{
		{"import", filepath.Join(dir, "missing"), "x.json"},
		{"process", dir},
		{"unknown-command"},
	}
	mustRun(t, "new", dir)
	for _, args := range cases {
		if _, errOut, code := runCLI(t, args...); code != 1 || !strings.HasPrefix(errOut, "Error:") {
			t.Fatalf("rdsp %v: code=%d stderr=%q", args, code, errOut)
		}
	}
	if _, errOut, code := runCLI(t, "process", dir, "nope"); code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("unknown guid: code=%d stderr=%q", code, errOut)
	}
}

func TestHistoryDisabled(t *testing.T) {
	testEnv(t)
	t.Setenv("RDSP_HISTORY_DRIVER", "none")
	if _, errOut, code := runCLI(t, "history"); code != 1 || !strings.Contains(errOut, "history store is not available") {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
}

func TestMainExit(t *testing.T) {
	testEnv(t)
	var got int
	exitFunc = func(code int) { got = code }
	t.Cleanup(func() { exitFunc = os.Exit })
	args := os.Args
	os.Args = []string{"rdsp", "modules"}
	t.Cleanup(func() { os.Args = args })
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()
	stdout := os.Stdout
	os.Stdout = devnull
	t.Cleanup(func() { os.Stdout = stdout })
	main()
	if got != 0 {
		t.Fatalf("exit code %d", got)
	}
}
