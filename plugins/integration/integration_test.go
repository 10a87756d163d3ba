package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"rdsp/internal/core"
	"rdsp/plugins/interception"
)

const (
	rate = 256.0
	n    = 256
	f0   = 4.0
)

func cosine() []float64 {
	y := make([]float64, n)
	for i := range y {
		y[i] = math.Cos(2 * math.Pi * f0 * float64(i) / rate)
	}
	return y
}

func axis() []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i) / rate
	}
	return x
}

func TestIntegrateFrequency(t *testing.T) {
	w := 2 * math.Pi * f0
	once := IntegrateFrequency(cosine(), rate, 1)
	twice := IntegrateFrequency(cosine(), rate, 2)
	for i, x := range axis() {
		if want := math.Sin(w*x) / w; math.Abs(once[i]-want) > 1e-9 {
			t.Fatalf("order 1 sample %d = %v want %v", i, once[i], want)
		}
		if want := -math.Cos(w*x) / (w * w); math.Abs(twice[i]-want) > 1e-9 {
			t.Fatalf("order 2 sample %d = %v want %v", i, twice[i], want)
		}
	}
	if IntegrateFrequency(nil, rate, 1) != nil {
		t.Fatalf("empty input should give nil")
	}
}

func TestIntegrateTime(t *testing.T) {
	w := 2 * math.Pi * f0
	x := axis()
	got := IntegrateTime(x, cosine(), 1)
	want := make([]float64, n)
	for i := range want {
		want[i] = math.Sin(w*x[i]) / w
	}
	detrend(x, want)
	for i := range got {
		if math.Abs(got[i]-want[i]) > 1e-4 {
			t.Fatalf("sample %d = %v want %v", i, got[i], want[i])
		}
	}
	flat := make([]float64, n)
	for i := range flat {
		flat[i] = 3
	}
	for i, v := range IntegrateTime(x, flat, 2) {
		if math.Abs(v) > 1e-9 {
			t.Fatalf("constant input should detrend to zero, sample %d = %v", i, v)
		}
	}
}

func TestFrequencyOrder(t *testing.T) {
	cases := []struct{ k, n, want int }{{0, 8, 0}, {3, 8, 3}, {4, 8, -4}, {7, 8, -1}, {2, 5, 2}, {3, 5, -2}}
	for _, tc := range cases {
		if got := frequency(tc.k, tc.n, float64(tc.n)); got != float64(tc.want) {
			t.Fatalf("frequency(%d,%d) = %v want %d", tc.k, tc.n, got, tc.want)
		}
	}
}

type fixture struct {
	dir    string
	reg    *core.Registry
	proj   *core.Project
	signal *core.Signal
	src    *core.Track
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	reg := core.NewRegistry()
	reg.Discover(New(), interception.New())
	p, err := core.Open(ctx, dir, core.WithRegistry(reg))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	cfg := core.TrackConfig{Bandwidth: rate / 2.56, C1: 1, XUnit: "s", YUnit: "m/s2"}
	s, err := p.NewSignal(ctx, "acc", nil, []core.TrackSpec{{Name: "Acc", Config: cfg, Data: [][]float64{cosine()}}})
	if err != nil {
		t.Fatalf("new signal: %v", err)
	}
	return &fixture{dir: dir, reg: reg, proj: p, signal: s, src: s.Tracks()[0]}
}

func (f *fixture) attach(t *testing.T, typ Domain, order int) *Process {
	t.Helper()
	raw := json.RawMessage(fmt.Sprintf(`{"name":"vel","trackSet":[{"guid":%q,"order":%d,"type":%q}]}`, f.src.GUID(), order, typ))
	proc, err := f.proj.AttachProcess(context.Background(), f.signal.GUID(), TypeName, "", raw)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	return proc.(*Process)
}

func TestProcessAddsDerivedTracks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	proc := f.attach(t, FrequencyDomain, 1)
	if proc.Name() != "vel" {
		t.Fatalf("name not applied: %q", proc.Name())
	}
	if err := f.proj.Run(ctx, proc, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	derived := proc.Container().Tracks()
	if len(derived) != 1 || derived[0].Name() != "Acc" || derived[0].Config() != f.src.Config() {
		t.Fatalf("unexpected derived tracks %v", derived)
	}
	if len(f.signal.Tracks()) != 2 {
		t.Fatalf("derived track must be added to the signal")
	}
	first := derived[0].GUID()

	if err := f.proj.Run(ctx, proc, nil); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(f.signal.Tracks()) != 2 {
		t.Fatalf("reprocessing must replace, got %d signal tracks", len(f.signal.Tracks()))
	}
	if _, ok := f.signal.Track(first); ok {
		t.Fatalf("old derived track still attached")
	}
	orphans, err := f.proj.Orphans(ctx)
	if err != nil || len(orphans) != 0 {
		t.Fatalf("orphans = %v (%v)", orphans, err)
	}
}

func TestContainerRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	proc := f.attach(t, TimeDomain, 2)
	if err := f.proj.Run(ctx, proc, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	derived := proc.Container().Tracks()[0]
	raw := json.RawMessage(fmt.Sprintf(`{"tracks":[%q],"start":0,"stop":0.5}`, derived.GUID()))
	nested, err := f.proj.AttachProcess(ctx, proc.GUID(), interception.TypeName, "crop", raw)
	if err != nil {
		t.Fatalf("attach nested: %v", err)
	}

	p2, err := core.Open(ctx, filepath.Join(f.dir, core.DocumentName), core.WithRegistry(f.reg))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close(ctx)
	got, _, ok := p2.FindProcess(proc.GUID())
	if !ok {
		t.Fatalf("integration missing after reopen")
	}
	ip := got.(*Process)
	if ip.Settings().TrackSet[0].Order != 2 || ip.Settings().TrackSet[0].Type != TimeDomain {
		t.Fatalf("settings lost: %+v", ip.Settings())
	}
	if g := ip.Container().TrackGUIDs(); len(g) != 1 || g[0] != derived.GUID() {
		t.Fatalf("container tracks lost: %v", g)
	}
	if _, _, ok := p2.FindProcess(nested.GUID()); !ok {
		t.Fatalf("nested process lost")
	}
	n := ip.Node()
	if len(n.Children) != 2 || n.Children[0].Name != "Tracks List" || n.Children[1].GUID != nested.GUID() {
		t.Fatalf("unexpected node %+v", n)
	}

	if err := f.proj.Run(ctx, proc, nil); !errors.Is(err, core.ErrHasNested) {
		t.Fatalf("expected ErrHasNested, got %v", err)
	}
}

func TestDeleteRemovesDerivedTracks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	proc := f.attach(t, FrequencyDomain, 1)
	if err := f.proj.Run(ctx, proc, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	derived := proc.Container().Tracks()[0].GUID()
	if err := f.proj.DeleteProcess(ctx, proc.GUID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.signal.Track(derived); ok {
		t.Fatalf("derived track survived")
	}
	if len(f.signal.Tracks()) != 1 {
		t.Fatalf("source track must survive")
	}
	if _, err := f.proj.LoadTrack(ctx, derived); err == nil {
		t.Fatalf("derived track file survived")
	}
}

func TestSiblingKeepsDerivedTracks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	proc := f.attach(t, FrequencyDomain, 1)
	if err := f.proj.Run(ctx, proc, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	derived := proc.Container().Tracks()[0]
	raw := json.RawMessage(fmt.Sprintf(`{"tracks":[%q],"start":0,"stop":0.5}`, derived.GUID()))
	sibling, err := f.proj.AttachProcess(ctx, f.signal.GUID(), interception.TypeName, "crop", raw)
	if err != nil {
		t.Fatalf("attach sibling: %v", err)
	}

	var inUse *core.TrackInUseError
	if err := f.proj.Run(ctx, proc, nil); !errors.As(err, &inUse) || inUse.Process != sibling.GUID() {
		t.Fatalf("reprocess = %v", err)
	}
	if err := f.proj.DeleteProcess(ctx, proc.GUID()); !errors.As(err, &inUse) {
		t.Fatalf("delete = %v", err)
	}
	if g := proc.Container().TrackGUIDs(); len(g) != 1 || g[0] != derived.GUID() {
		t.Fatalf("container tracks changed: %v", g)
	}
	p2, err := core.Open(ctx, filepath.Join(f.dir, core.DocumentName), core.WithRegistry(f.reg))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = p2.Close(ctx)
}

func TestConfigureValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"order":   fmt.Sprintf(`{"trackSet":[{"guid":%q,"order":3,"type":"td"}]}`, f.src.GUID()),
		"type":    fmt.Sprintf(`{"trackSet":[{"guid":%q,"order":1,"type":"xx"}]}`, f.src.GUID()),
		"missing": `{"trackSet":[{"guid":"nope","order":1,"type":"td"}]}`,
		"tracks":  `{"tracks":["nope"],"process":[],"settings":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.proj.AttachProcess(context.Background(), f.signal.GUID(), TypeName, "", json.RawMessage(raw))
			var cfgErr *core.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}
