package core

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
)

var newGUID = uuid.NewString

// Signal is a named set of tracks and the processes derived from them.
type Signal struct {
	guid    string
	name    string
	config  map[string]any
	project *Project
	box     *Container
}

func newSignal(p *Project, guid, name string, cfg map[string]any) *Signal {
	s := &Signal{guid: guid, name: name, config: cfg, project: p}
	if s.config == nil {
		s.config = map[string]any{}
	}
	s.box = NewContainer(&Scope{project: p, signal: s})
	return s
}

func (s *Signal) GUID() string { return s.guid }
func (s *Signal) Name() string { return s.name }

// Config returns a copy of the free-form signal config.
func (s *Signal) Config() map[string]any { return maps.Clone(s.config) }

// Container exposes the owned tracks and top-level processes.
func (s *Signal) Container() *Container { return s.box }

// Scope returns the scope handed to processes attached to this signal.
func (s *Signal) Scope() *Scope { return s.box.scope }

// Tracks returns the owned tracks in order.
func (s *Signal) Tracks() []*Track { return s.box.Tracks() }

// Processes returns the top-level processes in order.
func (s *Signal) Processes() []Process { return s.box.Processes() }

// Track finds an owned track by GUID.
func (s *Signal) Track(guid string) (*Track, bool) {
	for _, t := range s.box.tracks {
		if t.guid == guid {
			return t, true
		}
	}
	return nil, false
}

// Record returns the persisted form.
func (s *Signal) Record() (SignalRecord, error) {
	procs, err := s.box.Records()
	if err != nil {
		return SignalRecord{}, err
	}
	rec := SignalRecord{
		Type:    typeSignal,
		GUID:    s.guid,
		Name:    s.name,
		Config:  s.config,
		Tracks:  make([]TrackRecord, 0, len(s.box.tracks)),
		Process: procs,
	}
	for _, t := range s.box.tracks {
		rec.Tracks = append(rec.Tracks, t.Record())
	}
	return rec, nil
}

// Node returns the display projection.
func (s *Signal) Node() Node {
	return Node{Type: typeSignal, Name: s.name, GUID: s.guid, Children: s.box.Nodes()}
}

func (s *Signal) addTracks(ctx context.Context, specs []TrackSpec) ([]*Track, error) {
	tracks := make([]*Track, 0, len(specs))
	for _, spec := range specs {
		tracks = append(tracks, NewTrack(newGUID(), spec.Name, spec.Config, spec.Data))
	}
	if err := s.project.storeTracks(ctx, tracks); err != nil {
		return nil, err
	}
	for _, t := range tracks {
		t.loader = s.project
	}
	s.box.tracks = append(s.box.tracks, tracks...)
	return tracks, nil
}

// checkUnused fails with *TrackInUseError if a process other than skip (or
// one nested in it) references any of tracks.
func (s *Signal) checkUnused(skip string, tracks []*Track) error {
	if len(tracks) == 0 {
		return nil
	}
	refs := make(map[string]string)
	s.box.references(skip, refs)
	for _, t := range tracks {
		if user, ok := refs[t.guid]; ok {
			return &TrackInUseError{Track: t.guid, Process: user}
		}
	}
	return nil
}

// removeTracks detaches tracks and deletes their arrays. Tracks still
// referenced by a process other than skip are refused before anything changes.
func (s *Signal) removeTracks(ctx context.Context, skip string, tracks []*Track) error {
	if err := s.checkUnused(skip, tracks); err != nil {
		return err
	}
	for _, t := range tracks {
		if !slices.Contains(s.box.tracks, t) {
			return fmt.Errorf("track %s is not owned by signal %s", t.guid, s.guid)
		}
	}
	s.box.tracks = slices.DeleteFunc(s.box.tracks, func(t *Track) bool { return slices.Contains(tracks, t) })
	return s.project.deleteTracks(ctx, tracks)
}
