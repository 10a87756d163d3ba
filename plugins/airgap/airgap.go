// Package airgap computes per-revolution air-gap values at every pole from a
// key-phasor pulse track and a set of gap sensor tracks.
package airgap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"rdsp/internal/blob"
	"rdsp/internal/core"
	"rdsp/internal/export"
	"rdsp/internal/orbit"
	"rdsp/internal/task"
)

// TypeName is the process type recorded in project documents.
const TypeName = "AirGap"

// DefaultTolerance is the inlier half-width around the per-pulse median.
const DefaultTolerance = 0.01

const defaultPoles = 48

// TrackSetting binds a gap sensor track to its mounting parameters.
type TrackSetting struct {
	GUID      string  `json:"guid"`
	Thickness float64 `json:"thickness"`
	Angle     float64 `json:"angle"`
	Pole      int     `json:"pole"`
}

// Settings is the persisted AirGap configuration.
type Settings struct {
	RotCW     bool           `json:"rot-cw"`
	NumCW     bool           `json:"num-cw"`
	Poles     int            `json:"numOfPoles"`
	KeyPhasor string         `json:"keyPhasor"`
	TrackSet  []TrackSetting `json:"trackSet"`
	Tolerance *float64       `json:"tolerance,omitempty"`
}

// input mirrors Settings with optional fields so defaults can be applied.
type input struct {
	Name      *string        `json:"name"`
	RotCW     *bool          `json:"rot-cw"`
	NumCW     *bool          `json:"num-cw"`
	Poles     *int           `json:"numOfPoles"`
	KeyPhasor string         `json:"keyPhasor"`
	TrackSet  []TrackSetting `json:"trackSet"`
	Tolerance *float64       `json:"tolerance"`
}

type sensor struct {
	TrackSetting
	track *core.Track
}

// Process is the AirGap process variant.
type Process struct {
	core.Base
	defaultTol float64

	settings  Settings
	keyPhasor *core.Track
	sensors   []sensor

	mu     sync.Mutex
	result core.Result
}

var _ core.ResultHolder = (*Process)(nil)

func newProcess(id core.Identity, scope *core.Scope, tol float64) *Process {
	return &Process{
		Base:       core.NewBase(id, scope),
		defaultTol: tol,
		settings:   Settings{RotCW: true, Poles: defaultPoles, TrackSet: []TrackSetting{}},
	}
}

func (p *Process) Type() string { return TypeName }

// Settings returns the active configuration.
func (p *Process) Settings() Settings { return p.settings }

// Tolerance returns the configured tolerance or the module default.
func (p *Process) Tolerance() float64 {
	if p.settings.Tolerance != nil {
		return *p.settings.Tolerance
	}
	return p.defaultTol
}

// Configure validates raw and resolves every track reference in the root Signal.
func (p *Process) Configure(raw json.RawMessage) error {
	var in input
	if err := json.Unmarshal(raw, &in); err != nil {
		return &core.ConfigError{Path: "config", Reason: "malformed airgap config", Err: err}
	}
	s := Settings{RotCW: true, Poles: defaultPoles, KeyPhasor: in.KeyPhasor, TrackSet: in.TrackSet, Tolerance: in.Tolerance}
	if in.RotCW != nil {
		s.RotCW = *in.RotCW
	}
	if in.NumCW != nil {
		s.NumCW = *in.NumCW
	}
	if in.Poles != nil {
		s.Poles = *in.Poles
	}
	if s.TrackSet == nil {
		s.TrackSet = []TrackSetting{}
	}
	if s.Poles < 1 {
		return &core.ConfigError{Path: "numOfPoles", Reason: fmt.Sprintf("must be at least 1, got %d", s.Poles)}
	}
	if s.Tolerance != nil && (*s.Tolerance < 0 || math.IsNaN(*s.Tolerance)) {
		return &core.ConfigError{Path: "tolerance", Reason: fmt.Sprintf("must be non-negative, got %v", *s.Tolerance)}
	}
	scope := p.Scope()
	kp, ok := scope.Track(s.KeyPhasor)
	if !ok {
		return &core.ConfigError{Path: "keyPhasor", Reason: fmt.Sprintf("track %q not found", s.KeyPhasor)}
	}
	sensors := make([]sensor, 0, len(s.TrackSet))
	for i, ts := range s.TrackSet {
		tr, ok := scope.Track(ts.GUID)
		if !ok {
			return &core.ConfigError{Path: fmt.Sprintf("trackSet[%d].guid", i), Reason: fmt.Sprintf("track %q not found", ts.GUID)}
		}
		if ts.Pole < 1 || ts.Pole > s.Poles {
			return &core.ConfigError{Path: fmt.Sprintf("trackSet[%d].pole", i), Reason: fmt.Sprintf("pole %d outside [1,%d]", ts.Pole, s.Poles)}
		}
		sensors = append(sensors, sensor{TrackSetting: ts, track: tr})
	}
	if in.Name != nil && *in.Name != "" {
		p.SetName(*in.Name)
	}
	p.settings, p.keyPhasor, p.sensors = s, kp, sensors
	return nil
}

func (p *Process) FileConfig() (core.ProcessRecord, error) {
	return p.Record(TypeName, p.settings, true)
}

func (p *Process) Node() core.Node {
	n := core.Node{Type: TypeName, Name: p.Name(), GUID: p.GUID()}
	if p.keyPhasor != nil {
		kp := p.keyPhasor.Node()
		kp.Type = "KeyPhasor"
		n.Children = append(n.Children, kp)
	}
	for _, s := range p.sensors {
		n.Children = append(n.Children, s.track.Node())
	}
	return n
}

// Inputs returns the key-phasor followed by the sensor tracks.
func (p *Process) Inputs() []string {
	out := make([]string, 0, len(p.sensors)+1)
	if p.keyPhasor != nil {
		out = append(out, p.keyPhasor.GUID())
	}
	for _, s := range p.sensors {
		out = append(out, s.track.GUID())
	}
	return out
}

func (p *Process) Property() map[string]any {
	return map[string]any{"Number of Poles": p.settings.Poles}
}

// ProcessNow computes one TrackResult per sensor. The returned Commit stores
// the result and marks the process processed.
func (p *Process) ProcessNow(ctx context.Context, r task.Reporter) (core.Commit, error) {
	if p.keyPhasor == nil {
		return nil, &core.ConfigError{Path: "keyPhasor", Reason: "not configured"}
	}
	kpData, err := p.keyPhasor.Channel(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("key phasor: %w", err)
	}
	kp := FindContinuous(Binarize(kpData), false)
	rate := p.keyPhasor.Config().SampleRate()
	tol := p.Tolerance()
	r.SetTotal(len(p.sensors))
	p.Logger().Debug("airgap started", "revolutions", max(len(kp)-1, 0), "sensors", len(p.sensors), "poles", p.settings.Poles)

	result := make(core.Result, 0, len(p.sensors))
	for _, s := range p.sensors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, err := s.track.Channel(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", s.track.GUID(), err)
		}
		result = append(result, Compute(kp, rate, x, s.TrackSetting, s.track.Name(), p.settings, tol))
		r.Advance(1)
	}
	return func(ctx context.Context) error {
		if err := p.Scope().SaveResult(ctx, p.GUID(), result); err != nil {
			if errors.Is(err, core.ErrResultLost) {
				p.mu.Lock()
				p.result = nil
				p.mu.Unlock()
			}
			return err
		}
		p.mu.Lock()
		p.result = result
		p.mu.Unlock()
		p.SetProcessed(true)
		return nil
	}, nil
}

// Compute builds the poles x revolutions matrix for one sensor track.
// Cells never visited stay NaN.
func Compute(kp []Segment, kpRate float64, x []float64, ts TrackSetting, name string, s Settings, tol float64) core.TrackResult {
	revs := max(len(kp)-1, 0)
	data := make([][]float64, s.Poles)
	for i := range data {
		data[i] = make([]float64, revs)
		for j := range data[i] {
			data[i][j] = math.NaN()
		}
	}
	speed := make([]float64, revs)
	segs := FindContinuous(Binarize(x), false)
	idx := FindSEIndex(kp, segs)
	for i := 1; i < len(kp); i++ {
		for j, seg := range segs[idx[i-1]:idx[i]] {
			if j >= s.Poles {
				break
			}
			v, _ := GetAprxValue(x, seg, tol)
			n := PoleIndex(ts.Pole, j, s.Poles, s.RotCW, s.NumCW)
			data[n-1][i-1] = v + ts.Thickness
		}
		speed[i-1] = Speed(kpRate, kp[i-1], kp[i])
	}
	return core.TrackResult{Name: name, Angle: ts.Angle, Speed: speed, Data: data}
}

// Result returns the stored result, loading it once.
func (p *Process) Result(ctx context.Context) (core.Result, error) {
	if !p.Processed() {
		return nil, core.ErrNotProcessed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result != nil {
		return p.result, nil
	}
	r, err := p.Scope().LoadResult(ctx, p.GUID())
	if err != nil {
		return nil, err
	}
	p.result = r
	return r, nil
}

// Export writes the result as an xlsx workbook.
func (p *Process) Export(ctx context.Context, w io.Writer) error {
	r, err := p.Result(ctx)
	if err != nil {
		return err
	}
	return export.WriteXLSX(w, r)
}

// Orbit computes the rotor and stator polygons for one selection.
func (p *Process) Orbit(ctx context.Context, sel orbit.Selection) (orbit.Orbit, error) {
	r, err := p.Result(ctx)
	if err != nil {
		return orbit.Orbit{}, err
	}
	return orbit.Compute(r, sel)
}

// Delete removes the stored result when processed. A result file that is
// already gone is logged, not fatal.
func (p *Process) Delete(ctx context.Context) error {
	if !p.Processed() {
		return nil
	}
	if err := p.Scope().RemoveResult(ctx, p.GUID()); err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			return err
		}
		p.Logger().Warn("result file already missing")
	}
	p.SetProcessed(false)
	p.mu.Lock()
	p.result = nil
	p.mu.Unlock()
	return nil
}
