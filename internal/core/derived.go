package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrHasNested is returned when derived tracks would be replaced while nested
// processes still reference them.
var ErrHasNested = errors.New("container still holds nested processes")

// Derived is the base of process variants that produce tracks. The produced
// tracks live in the root Signal and are referenced by the embedded Container,
// which may in turn hold nested processes.
type Derived struct {
	Base
	box *Container
}

// NewDerived returns an empty derived container for id.
func NewDerived(id Identity, scope *Scope) Derived {
	return Derived{Base: NewBase(id, scope), box: NewContainer(scope)}
}

// Container implements Nester.
func (d *Derived) Container() *Container { return d.box }

// Decode accepts either the persisted container form
// {"tracks", "process", "settings"} or bare settings. In the container form
// the track references and nested processes are restored. The settings part
// is returned for the variant to parse.
func (d *Derived) Decode(raw json.RawMessage) (json.RawMessage, error) {
	var form struct {
		Tracks   *[]string       `json:"tracks"`
		Process  []ProcessRecord `json:"process"`
		Settings json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(raw, &form); err != nil {
		return nil, &ConfigError{Path: "config", Reason: "malformed container config", Err: err}
	}
	if form.Settings == nil {
		// bare settings; an Interception "tracks" list is a settings field too
		return raw, nil
	}
	if form.Tracks != nil {
		tracks, err := d.box.ResolveTracks(*form.Tracks)
		if err != nil {
			return nil, err
		}
		d.box.SetTracks(tracks)
	}
	if err := d.box.Load(form.Process); err != nil {
		return nil, err
	}
	return form.Settings, nil
}

// FileRecord returns the persisted container form with settings embedded.
func (d *Derived) FileRecord(typ string, settings any) (ProcessRecord, error) {
	cfg, err := d.box.ConfigOf(settings)
	if err != nil {
		return ProcessRecord{}, err
	}
	return d.Record(typ, cfg, false)
}

// ContainerNode returns the display node with the tracks list and nested processes.
func (d *Derived) ContainerNode(typ string) Node {
	return Node{Type: typ, Name: d.Name(), GUID: d.GUID(), Children: d.box.Nodes()}
}

// CheckReplace reports whether the derived tracks may be replaced: no nested
// process and no other process of the root Signal may reference them.
func (d *Derived) CheckReplace() error {
	if len(d.box.tracks) > 0 && len(d.box.procs) > 0 {
		return fmt.Errorf("process %s: %w", d.GUID(), ErrHasNested)
	}
	return d.scope.CheckUnused(d.GUID(), d.box.tracks)
}

// Replace returns a Commit that stores specs as new tracks of the root Signal
// and drops the previously derived ones.
func (d *Derived) Replace(specs []TrackSpec) Commit {
	return func(ctx context.Context) error {
		if err := d.CheckReplace(); err != nil {
			return err
		}
		tracks, err := d.scope.AddTracks(ctx, specs)
		if err != nil {
			return err
		}
		old := d.box.Tracks()
		d.box.SetTracks(tracks)
		d.SetProcessed(true)
		if err := d.scope.RemoveTracks(ctx, d.GUID(), old); err != nil {
			return err
		}
		d.Logger().Debug("derived tracks replaced", "added", len(tracks), "removed", len(old))
		return nil
	}
}

// Delete removes nested processes, then the derived tracks. Nothing is
// deleted while a process outside this one still references a derived track.
func (d *Derived) Delete(ctx context.Context) error {
	old := d.box.Tracks()
	if err := d.scope.CheckUnused(d.GUID(), old); err != nil {
		return fmt.Errorf("process %s: %w", d.GUID(), err)
	}
	if err := d.box.DeleteAll(ctx); err != nil {
		return err
	}
	if err := d.scope.RemoveTracks(ctx, d.GUID(), old); err != nil {
		return err
	}
	d.box.SetTracks(nil)
	return nil
}
