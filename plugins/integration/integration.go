// Package integration derives velocity or displacement tracks by integrating
// measurement tracks once or twice, in the time or the frequency domain.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"rdsp/internal/core"
	"rdsp/internal/task"
)

// TypeName is the process type recorded in project documents.
const TypeName = "Integration"

// Domain selects the integration method.
type Domain string

const (
	TimeDomain      Domain = "td"
	FrequencyDomain Domain = "fd"
)

// Item selects one source track.
type Item struct {
	GUID  string `json:"guid"`
	Order int    `json:"order"`
	Type  Domain `json:"type"`
}

// Settings is the persisted Integration configuration.
type Settings struct {
	TrackSet []Item `json:"trackSet"`
}

// Process is the Integration container variant.
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
		Name     string `json:"name"`
		TrackSet []Item `json:"trackSet"`
	}
	if err := json.Unmarshal(settings, &in); err != nil {
		return &core.ConfigError{Path: "settings", Reason: "malformed integration settings", Err: err}
	}
	sources := make([]*core.Track, 0, len(in.TrackSet))
	for i, it := range in.TrackSet {
		if it.Order != 1 && it.Order != 2 {
			return &core.ConfigError{Path: fmt.Sprintf("trackSet[%d].order", i), Reason: fmt.Sprintf("order must be 1 or 2, got %d", it.Order)}
		}
		if it.Type != TimeDomain && it.Type != FrequencyDomain {
			return &core.ConfigError{Path: fmt.Sprintf("trackSet[%d].type", i), Reason: fmt.Sprintf("type must be td or fd, got %q", it.Type)}
		}
		tr, ok := p.Scope().Track(it.GUID)
		if !ok {
			return &core.ConfigError{Path: fmt.Sprintf("trackSet[%d].guid", i), Reason: fmt.Sprintf("track %q not found", it.GUID)}
		}
		sources = append(sources, tr)
	}
	if in.Name != "" {
		p.SetName(in.Name)
	}
	if in.TrackSet == nil {
		in.TrackSet = []Item{}
	}
	p.settings, p.sources = Settings{TrackSet: in.TrackSet}, sources
	return nil
}

func (p *Process) FileConfig() (core.ProcessRecord, error) {
	return p.FileRecord(TypeName, p.settings)
}

func (p *Process) Node() core.Node { return p.ContainerNode(TypeName) }

func (p *Process) Inputs() []string { return core.GUIDs(p.sources) }

func (p *Process) Property() map[string]any {
	return map[string]any{"Tracks": len(p.settings.TrackSet)}
}

// ProcessNow integrates every selected track. The Commit adds the results to
// the Signal and drops tracks derived by an earlier run.
func (p *Process) ProcessNow(ctx context.Context, r task.Reporter) (core.Commit, error) {
	if err := p.CheckReplace(); err != nil {
		return nil, err
	}
	r.SetTotal(len(p.sources))
	specs := make([]core.TrackSpec, 0, len(p.sources))
	for i, src := range p.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, y, err := src.PlotData(ctx)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", src.GUID(), err)
		}
		it := p.settings.TrackSet[i]
		var out []float64
		switch it.Type {
		case TimeDomain:
			out = IntegrateTime(x, y, it.Order)
		case FrequencyDomain:
			out = IntegrateFrequency(y, src.Config().SampleRate(), it.Order)
		}
		specs = append(specs, core.TrackSpec{Name: src.Name(), Config: src.Config(), Data: [][]float64{out}})
		r.Advance(1)
	}
	return p.Replace(specs), nil
}

// IntegrateTime applies order passes of cumulative trapezoid integration over
// x, removing the least-squares linear trend after each pass.
func IntegrateTime(x, y []float64, order int) []float64 {
	cur := append([]float64(nil), y...)
	for range order {
		next := make([]float64, len(cur))
		for i := 1; i < len(cur); i++ {
			next[i] = next[i-1] + (cur[i]+cur[i-1])/2*(x[i]-x[i-1])
		}
		detrend(x, next)
		cur = next
	}
	return cur
}

func detrend(x, y []float64) {
	if len(y) < 2 {
		return
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	for i := range y {
		y[i] -= alpha + beta*x[i]
	}
}

// IntegrateFrequency divides the spectrum of y by (j*2*pi*f)^order, zeroing
// the DC bin, and returns the real part of the inverse transform.
func IntegrateFrequency(y []float64, rate float64, order int) []float64 {
	n := len(y)
	if n == 0 {
		return nil
	}
	fft := fourier.NewCmplxFFT(n)
	seq := make([]complex128, n)
	for i, v := range y {
		seq[i] = complex(v, 0)
	}
	coeff := fft.Coefficients(nil, seq)
	coeff[0] = 0
	for k := 1; k < n; k++ {
		w := complex(0, 2*math.Pi*frequency(k, n, rate))
		div := complex(1, 0)
		for range order {
			div *= w
		}
		coeff[k] /= div
	}
	back := fft.Sequence(nil, coeff)
	out := make([]float64, n)
	for i, c := range back {
		out[i] = real(c) / float64(n)
	}
	return out
}

// frequency returns the frequency of FFT bin k in the order numpy's fftfreq uses.
func frequency(k, n int, rate float64) float64 {
	if k > (n-1)/2 {
		k -= n
	}
	return float64(k) * rate / float64(n)
}
