// Package interception crops tracks to a time window.
package interception

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"rdsp/internal/core"
	"rdsp/internal/task"
)

// TypeName is the process type recorded in project documents.
const TypeName = "Interception"

// Settings is the persisted Interception configuration. Start and Stop are
// seconds on each track's time axis.
type Settings struct {
	Tracks []string `json:"tracks"`
	Start  float64  `json:"start"`
	Stop   float64  `json:"stop"`
}

// Process is the Interception container variant.
type Process struct {
	core.Derived
	settings Settings
	sources  []*core.Track
}

var _ core.Nester = (*Process)(nil)

func (p *Process) Type() string { return TypeName }

// Settings returns the active configuration.
func (p *Process) Settings() Settings { return p.settings }

func (p *Process) Configure(raw json.RawMessage) error {
	settings, err := p.Decode(raw)
	if err != nil {
		return err
	}
	var in struct {
		Name string `json:"name"`
		Settings
	}
	if err := json.Unmarshal(settings, &in); err != nil {
		return &core.ConfigError{Path: "settings", Reason: "malformed interception settings", Err: err}
	}
	if in.Start > in.Stop {
		return &core.ConfigError{Path: "start", Reason: fmt.Sprintf("start %v after stop %v", in.Start, in.Stop)}
	}
	sources := make([]*core.Track, 0, len(in.Tracks))
	for i, g := range in.Tracks {
		tr, ok := p.Scope().Track(g)
		if !ok {
			return &core.ConfigError{Path: fmt.Sprintf("tracks[%d]", i), Reason: fmt.Sprintf("track %q not found", g)}
		}
		sources = append(sources, tr)
	}
	if in.Name != "" {
		p.SetName(in.Name)
	}
	if in.Tracks == nil {
		in.Tracks = []string{}
	}
	p.settings, p.sources = in.Settings, sources
	return nil
}

func (p *Process) FileConfig() (core.ProcessRecord, error) {
	return p.FileRecord(TypeName, p.settings)
}

func (p *Process) Node() core.Node { return p.ContainerNode(TypeName) }

func (p *Process) Inputs() []string { return core.GUIDs(p.sources) }

func (p *Process) Property() map[string]any {
	return map[string]any{"Start": p.settings.Start, "Stop": p.settings.Stop}
}

// ProcessNow crops channel 0 of every selected track to [start, stop).
func (p *Process) ProcessNow(ctx context.Context, r task.Reporter) (core.Commit, error) {
	if err := p.CheckReplace(); err != nil {
		return nil, err
	}
	r.SetTotal(len(p.sources))
	specs := make([]core.TrackSpec, 0, len(p.sources))
	for _, src := range p.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, y, err := src.PlotData(ctx)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", src.GUID(), err)
		}
		lo, hi := Window(x, p.settings.Start, p.settings.Stop)
		out := append([]float64(nil), y[lo:hi]...)
		specs = append(specs, core.TrackSpec{Name: src.Name(), Config: src.Config(), Data: [][]float64{out}})
		r.Advance(1)
	}
	return p.Replace(specs), nil
}

// Window returns the left insertion points of start and stop in the sorted axis x.
func Window(x []float64, start, stop float64) (int, int) {
	return sort.SearchFloat64s(x, start), sort.SearchFloat64s(x, stop)
}
