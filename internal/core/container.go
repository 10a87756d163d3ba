package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Container holds track references and nested processes. Signal and the
// track-producing process variants share it.
type Container struct {
	scope  *Scope
	tracks []*Track
	procs  []Process
}

// NewContainer returns an empty container bound to scope.
func NewContainer(scope *Scope) *Container { return &Container{scope: scope} }

// Tracks returns the referenced tracks in order.
func (c *Container) Tracks() []*Track { return slices.Clone(c.tracks) }

// SetTracks replaces the track references.
func (c *Container) SetTracks(tracks []*Track) { c.tracks = slices.Clone(tracks) }

// Processes returns the nested processes in order.
func (c *Container) Processes() []Process { return slices.Clone(c.procs) }

// Add appends a nested process.
func (c *Container) Add(p Process) { c.procs = append(c.procs, p) }

// Remove detaches the nested process with guid, reporting whether it was present.
func (c *Container) Remove(guid string) bool {
	for i, p := range c.procs {
		if p.GUID() == guid {
			c.procs = slices.Delete(c.procs, i, i+1)
			return true
		}
	}
	return false
}

// TrackGUIDs returns the GUIDs of the referenced tracks.
func (c *Container) TrackGUIDs() []string { return GUIDs(c.tracks) }

// ResolveTracks looks every GUID up in the root Signal.
func (c *Container) ResolveTracks(guids []string) ([]*Track, error) {
	out := make([]*Track, 0, len(guids))
	for _, g := range guids {
		t, ok := c.scope.Track(g)
		if !ok {
			return nil, &ConfigError{Path: "tracks", Reason: fmt.Sprintf("track %s not found in signal %s", g, c.scope.signal.GUID())}
		}
		out = append(out, t)
	}
	return out, nil
}

// Load builds nested processes from their records. Unknown types are
// reported as warnings and skipped.
func (c *Container) Load(records []ProcessRecord) error {
	for _, rec := range records {
		p, err := c.build(rec)
		if err != nil {
			return err
		}
		if p != nil {
			c.procs = append(c.procs, p)
		}
	}
	return nil
}

func (c *Container) build(rec ProcessRecord) (Process, error) {
	mt, ok := c.scope.Registry().Resolve(rec.Type)
	if !ok || mt.New == nil {
		c.scope.project.warn(ModuleResolutionWarning{Signal: c.scope.signal.GUID(), GUID: rec.GUID, Type: rec.Type})
		return nil, nil
	}
	id := Identity{GUID: rec.GUID, Name: rec.Name}
	if rec.Processed != nil {
		id.Processed = *rec.Processed
	}
	p := mt.New(id, c.scope)
	if err := p.Configure(rec.Config); err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return nil, &ConfigError{Path: "process " + rec.GUID + "/" + cfgErr.Path, Reason: cfgErr.Reason, Err: cfgErr.Err}
		}
		return nil, &ConfigError{Path: "process " + rec.GUID, Reason: "invalid config", Err: err}
	}
	return p, nil
}

// Records returns the persisted form of the nested processes.
func (c *Container) Records() ([]ProcessRecord, error) {
	out := make([]ProcessRecord, 0, len(c.procs))
	for _, p := range c.procs {
		rec, err := p.FileConfig()
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", p.GUID(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Nodes returns a "Tracks List" node followed by one node per nested process.
func (c *Container) Nodes() []Node {
	list := Node{Type: "-", Name: "Tracks List"}
	for _, t := range c.tracks {
		list.Children = append(list.Children, t.Node())
	}
	out := []Node{list}
	for _, p := range c.procs {
		out = append(out, p.Node())
	}
	return out
}

// DeleteAll deletes every nested process, stopping at the first error.
func (c *Container) DeleteAll(ctx context.Context) error {
	for len(c.procs) > 0 {
		p := c.procs[0]
		if err := p.Delete(ctx); err != nil {
			return fmt.Errorf("delete process %s: %w", p.GUID(), err)
		}
		c.procs = c.procs[1:]
	}
	return nil
}

// find returns the process with guid and the container holding it, searching depth first.
func (c *Container) find(guid string) (Process, *Container) {
	for _, p := range c.procs {
		if p.GUID() == guid {
			return p, c
		}
		if n, ok := p.(Nester); ok {
			if found, owner := n.Container().find(guid); found != nil {
				return found, owner
			}
		}
	}
	return nil, nil
}

// walk visits every nested process depth first.
func (c *Container) walk(fn func(Process)) {
	for _, p := range c.procs {
		fn(p)
		if n, ok := p.(Nester); ok {
			n.Container().walk(fn)
		}
	}
}

// references records, for every track GUID referenced by a process below c,
// the first such process. The process with GUID skip and everything nested in
// it are ignored. A container's own track list counts as a reference.
func (c *Container) references(skip string, out map[string]string) {
	for _, p := range c.procs {
		if p.GUID() == skip {
			continue
		}
		refs := p.Inputs()
		n, nested := p.(Nester)
		if nested {
			refs = append(refs, n.Container().TrackGUIDs()...)
		}
		for _, g := range refs {
			if _, seen := out[g]; !seen {
				out[g] = p.GUID()
			}
		}
		if nested {
			n.Container().references(skip, out)
		}
	}
}

// ConfigOf assembles the persisted container config with settings embedded.
func (c *Container) ConfigOf(settings any) (ContainerConfig, error) {
	recs, err := c.Records()
	if err != nil {
		return ContainerConfig{}, err
	}
	cfg := ContainerConfig{Tracks: c.TrackGUIDs(), Process: recs}
	if settings != nil {
		raw, err := json.Marshal(settings)
		if err != nil {
			return ContainerConfig{}, err
		}
		cfg.Settings = raw
	}
	return cfg, nil
}
