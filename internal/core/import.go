package core

import (
	"context"
	"errors"
	"path/filepath"

	"rdsp/internal/capture"
)

// ImportCapture decodes a capture file into one new Signal named after the
// file. On any failure nothing is added to the project.
func (p *Project) ImportCapture(ctx context.Context, path string) (*Signal, error) {
	c, err := readCapture(path)
	if err != nil {
		ie := &ImportError{Path: path, Err: err}
		var fe *capture.FieldError
		if errors.As(err, &fe) {
			ie.Field = fe.Field
		}
		return nil, ie
	}
	specs := make([]TrackSpec, 0, len(c.Tracks))
	for _, tr := range c.Tracks {
		specs = append(specs, TrackSpec{
			Name: tr.Name,
			Config: TrackConfig{
				Bandwidth: tr.Bandwidth,
				C1:        tr.Sensitivity,
				C0:        tr.Offset,
				XUnit:     tr.XUnit,
				YUnit:     tr.YUnit,
			},
			Data: tr.Data,
		})
	}

	s, err := p.NewSignal(ctx, filepath.Base(path), map[string]any{"date": c.RecordDate}, specs)
	if err != nil {
		return nil, &ImportError{Path: path, Err: err}
	}
	p.logger.Info("capture imported", "path", path, "signal", s.guid, "tracks", len(specs))
	return s, nil
}

// NewSignal creates a signal holding new tracks built from specs and saves
// the document. On failure the stored arrays are removed again and the
// project is left unchanged.
func (p *Project) NewSignal(ctx context.Context, name string, cfg map[string]any, specs []TrackSpec) (*Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := newSignal(p, newGUID(), name, cfg)
	tracks, err := s.addTracks(ctx, specs)
	if err != nil {
		return nil, err
	}
	p.signals = append(p.signals, s)
	if err := p.saveLocked(ctx); err != nil {
		p.signals = p.signals[:len(p.signals)-1]
		_ = p.deleteTracks(ctx, tracks)
		return nil, err
	}
	return s, nil
}

var readCapture = capture.ReadFile
