package interception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"rdsp/internal/core"
)

func TestWindow(t *testing.T) {
	x := []float64{0, 0.5, 1, 1.5, 2}
	cases := []struct {
		start, stop float64
		lo, hi      int
	}{
		{0, 2, 0, 4},
		{0.5, 1.5, 1, 3},
		{0.25, 0.75, 1, 2},
		{-1, 10, 0, 5},
		{3, 4, 5, 5},
	}
	for _, tc := range cases {
		lo, hi := Window(x, tc.start, tc.stop)
		if lo != tc.lo || hi != tc.hi {
			t.Fatalf("Window(%v,%v) = [%d,%d) want [%d,%d)", tc.start, tc.stop, lo, hi, tc.lo, tc.hi)
		}
	}
}

func setup(t *testing.T) (*core.Project, *core.Signal, *core.Track) {
	t.Helper()
	ctx := context.Background()
	reg := core.NewRegistry()
	reg.Discover(New())
	p, err := core.Open(ctx, t.TempDir(), core.WithRegistry(reg))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	data := make([]float64, 100)
	for i := range data {
		data[i] = float64(i)
	}
	// 10 Hz sample rate
	cfg := core.TrackConfig{Bandwidth: 10 / 2.56}
	s, err := p.NewSignal(ctx, "sig", nil, []core.TrackSpec{{Name: "T1", Config: cfg, Data: [][]float64{data}}})
	if err != nil {
		t.Fatalf("new signal: %v", err)
	}
	return p, s, s.Tracks()[0]
}

func TestProcessCrops(t *testing.T) {
	ctx := context.Background()
	p, s, src := setup(t)
	raw := json.RawMessage(fmt.Sprintf(`{"name":"crop","tracks":[%q],"start":2.05,"stop":4.05}`, src.GUID()))
	proc, err := p.AttachProcess(ctx, s.GUID(), TypeName, "", raw)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := p.Run(ctx, proc, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	ip := proc.(*Process)
	out := ip.Container().Tracks()
	if len(out) != 1 || out[0].Name() != "T1" {
		t.Fatalf("unexpected output tracks %v", out)
	}
	y, err := out[0].Channel(ctx, 0)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	if len(y) != 20 || y[0] != 21 || y[19] != 40 {
		t.Fatalf("unexpected crop len=%d first=%v last=%v", len(y), y[0], y[len(y)-1])
	}
	rec, err := ip.FileConfig()
	if err != nil {
		t.Fatalf("file config: %v", err)
	}
	var cfg core.ContainerConfig
	if err := json.Unmarshal(rec.Config, &cfg); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if len(cfg.Tracks) != 1 || cfg.Tracks[0] != out[0].GUID() || rec.Processed != nil {
		t.Fatalf("unexpected record %+v", cfg)
	}
}

func TestStartAfterStop(t *testing.T) {
	p, s, src := setup(t)
	raw := json.RawMessage(fmt.Sprintf(`{"tracks":[%q],"start":5,"stop":1}`, src.GUID()))
	_, err := p.AttachProcess(context.Background(), s.GUID(), TypeName, "", raw)
	var cfgErr *core.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Path != "start" {
		t.Fatalf("expected ConfigError on start, got %v", err)
	}
}

func TestMissingTrack(t *testing.T) {
	p, s, _ := setup(t)
	_, err := p.AttachProcess(context.Background(), s.GUID(), TypeName, "", json.RawMessage(`{"tracks":["nope"],"start":0,"stop":1}`))
	var cfgErr *core.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestDerivedTracksInUseByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	p, s, src := setup(t)
	attach := func(track string) core.Process {
		t.Helper()
		raw := json.RawMessage(fmt.Sprintf(`{"tracks":[%q],"start":1,"stop":5}`, track))
		proc, err := p.AttachProcess(ctx, s.GUID(), TypeName, "", raw)
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		if err := p.Run(ctx, proc, nil); err != nil {
			t.Fatalf("run: %v", err)
		}
		return proc
	}
	reopen := func() {
		t.Helper()
		reg := core.NewRegistry()
		reg.Discover(New())
		if _, err := core.Open(ctx, p.Path(), core.WithRegistry(reg)); err != nil {
			t.Fatalf("reopen: %v", err)
		}
	}
	first := attach(src.GUID())
	derived := first.(*Process).Container().Tracks()[0]
	second := attach(derived.GUID())

	var inUse *core.TrackInUseError
	if err := p.Delete(ctx, first.GUID()); !errors.As(err, &inUse) || inUse.Process != second.GUID() {
		t.Fatalf("delete used container = %v", err)
	}
	if err := p.Run(ctx, first, nil); !errors.As(err, &inUse) {
		t.Fatalf("reprocess used container = %v", err)
	}
	if _, ok := s.Track(derived.GUID()); !ok {
		t.Fatalf("derived track detached")
	}
	reopen()

	if err := p.Delete(ctx, second.GUID()); err != nil {
		t.Fatalf("delete dependent: %v", err)
	}
	if err := p.Run(ctx, first, nil); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if err := p.Delete(ctx, first.GUID()); err != nil {
		t.Fatalf("delete container: %v", err)
	}
	if len(s.Tracks()) != 1 {
		t.Fatalf("derived tracks left behind: %d", len(s.Tracks()))
	}
	reopen()
}
