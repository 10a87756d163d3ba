package core

import (
	"context"
	"log/slog"
)

// TrackSpec describes a track to be created from in-memory samples.
type TrackSpec struct {
	Name   string
	Config TrackConfig
	Data   [][]float64
}

// Scope is a process's view of its surroundings: the root Signal for track
// lookup and the Project for storage. Processes never reach the project any
// other way.
type Scope struct {
	project *Project
	signal  *Signal
}

// Signal returns the root Signal.
func (s *Scope) Signal() *Signal { return s.signal }

// Registry returns the registry the project was opened with.
func (s *Scope) Registry() *Registry { return s.project.registry }

// Logger returns the project logger.
func (s *Scope) Logger() *slog.Logger { return s.project.logger }

// Track resolves a track GUID against the root Signal.
func (s *Scope) Track(guid string) (*Track, bool) { return s.signal.Track(guid) }

// AddTracks stores new tracks and appends them to the root Signal.
func (s *Scope) AddTracks(ctx context.Context, specs []TrackSpec) ([]*Track, error) {
	return s.signal.addTracks(ctx, specs)
}

// RemoveTracks detaches tracks from the root Signal and deletes their arrays.
// References held by owner and its nested processes are ignored.
func (s *Scope) RemoveTracks(ctx context.Context, owner string, tracks []*Track) error {
	return s.signal.removeTracks(ctx, owner, tracks)
}

// CheckUnused reports a *TrackInUseError if a process other than owner, or
// one nested in it, references any of tracks.
func (s *Scope) CheckUnused(owner string, tracks []*Track) error {
	return s.signal.checkUnused(owner, tracks)
}

// LoadResult reads a stored result.
func (s *Scope) LoadResult(ctx context.Context, guid string) (Result, error) {
	return s.project.LoadResult(ctx, guid)
}

// SaveResult stores or replaces a result.
func (s *Scope) SaveResult(ctx context.Context, guid string, r Result) error {
	return s.project.SaveResult(ctx, guid, r)
}

// RemoveResult deletes a stored result.
func (s *Scope) RemoveResult(ctx context.Context, guid string) error {
	return s.project.RemoveResult(ctx, guid)
}
