package core

import (
	"context"
	"fmt"
	"sync"
)

// TrackConfig carries a track's acquisition parameters.
type TrackConfig struct {
	Bandwidth float64 `json:"bandwidth"`
	C1        float64 `json:"c1"`
	C0        float64 `json:"c0"`
	XUnit     string  `json:"x-unit"`
	YUnit     string  `json:"y-unit"`
}

// SampleRate returns the acquisition rate in samples per second.
func (c TrackConfig) SampleRate() float64 { return c.Bandwidth * 2.56 }

// TrackLoader fetches a track's sample array by GUID.
type TrackLoader interface {
	LoadTrack(ctx context.Context, guid string) ([][]float64, error)
}

// Track is a named channels x samples array. Only the descriptor is held until
// Data is first called; the array is then cached for the Track's lifetime.
type Track struct {
	guid   string
	name   string
	config TrackConfig
	loader TrackLoader

	mu     sync.Mutex
	data   [][]float64
	loaded bool
}

// NewTrack returns a track whose samples are already in memory.
func NewTrack(guid, name string, cfg TrackConfig, data [][]float64) *Track {
	return &Track{guid: guid, name: name, config: cfg, data: data, loaded: data != nil}
}

func newLazyTrack(rec TrackRecord, loader TrackLoader) *Track {
	return &Track{guid: rec.GUID, name: rec.Name, config: rec.Config, loader: loader}
}

func (t *Track) GUID() string        { return t.guid }
func (t *Track) Name() string        { return t.name }
func (t *Track) Config() TrackConfig { return t.config }

// Data returns the sample array, loading it on first use. A failed load is not
// cached.
func (t *Track) Data(ctx context.Context) ([][]float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loaded {
		return t.data, nil
	}
	if t.loader == nil {
		return nil, &StorageError{Area: areaSource, GUID: t.guid, Err: fmt.Errorf("no loader attached")}
	}
	data, err := t.loader.LoadTrack(ctx, t.guid)
	if err != nil {
		return nil, err
	}
	t.data, t.loaded = data, true
	return data, nil
}

// Channel returns channel i of the sample array.
func (t *Track) Channel(ctx context.Context, i int) ([]float64, error) {
	data, err := t.Data(ctx)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(data) {
		return nil, fmt.Errorf("track %s: channel %d out of range [0,%d)", t.guid, i, len(data))
	}
	return data[i], nil
}

// PlotData returns the time axis and channel 0. Sample i sits at i/sampleRate seconds.
func (t *Track) PlotData(ctx context.Context) ([]float64, []float64, error) {
	y, err := t.Channel(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	rate := t.config.SampleRate()
	if rate <= 0 {
		return nil, nil, fmt.Errorf("track %s: non-positive sample rate %v", t.guid, rate)
	}
	x := make([]float64, len(y))
	for i := range x {
		x[i] = float64(i) / rate
	}
	return x, y, nil
}

// Record returns the persisted form.
func (t *Track) Record() TrackRecord {
	return TrackRecord{Type: typeTrack, GUID: t.guid, Name: t.name, Config: t.config}
}

// Node returns the display projection.
// GUIDs returns the GUID of every track in order.
func GUIDs(tracks []*Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.guid
	}
	return out
}

func (t *Track) Node() Node { return Node{Type: typeTrack, Name: t.name, GUID: t.guid} }
