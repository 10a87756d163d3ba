package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"rdsp/internal/blob"
	"rdsp/internal/codec"
	"rdsp/internal/task"
)

// DocumentName is the configuration document created in new project directories.
const DocumentName = "project.json"

const (
	areaSource = "source"
	areaResult = "result"
)

func sourceKey(guid string) string { return areaSource + "/" + guid + ".npy" }
func resultKey(guid string) string { return areaResult + "/" + guid + ".cbor" }

// Project owns the signal tree, its configuration document and the blob store
// holding track arrays and results.
type Project struct {
	path     string
	store    blob.Store
	registry *Registry
	logger   *slog.Logger
	runner   *task.Runner
	ownsRun  bool
	ledger   Ledger

	// runLock serialises Run; mu guards the tree and the document.
	runLock chan struct{}
	mu      sync.Mutex
	signals []*Signal
	warns   []ModuleResolutionWarning
}

// Option customises a Project.
type Option func(*Project)

// WithRegistry sets the module registry used to resolve process types.
func WithRegistry(r *Registry) Option { return func(p *Project) { p.registry = r } }

// WithStore replaces the default filesystem store.
func WithStore(s blob.Store) Option { return func(p *Project) { p.store = s } }

// WithLogger sets the project logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Project) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRunner sets the task runner used by Run.
func WithRunner(r *task.Runner) Option { return func(p *Project) { p.runner = r } }

// WithHistory records every Run in the given ledger.
func WithHistory(l Ledger) Option { return func(p *Project) { p.ledger = l } }

// Open creates a project in a directory or loads an existing document. A
// directory that already holds a document is opened rather than overwritten.
func Open(ctx context.Context, pathOrDir string, opts ...Option) (*Project, error) {
	st, err := os.Stat(pathOrDir)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}
	docPath, root := pathOrDir, filepath.Dir(pathOrDir)
	fresh := false
	if st.IsDir() {
		root = pathOrDir
		docPath = filepath.Join(pathOrDir, DocumentName)
		if _, err := os.Stat(docPath); errors.Is(err, os.ErrNotExist) {
			fresh = true
		}
	}
	p := &Project{
		path:    docPath,
		logger:  slog.New(slog.DiscardHandler),
		runLock: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = NewRegistry(WithRegistryLogger(p.logger))
	}
	if p.runner == nil {
		p.runner = task.NewRunner(task.WithLogger(p.logger))
		p.ownsRun = true
	}
	if p.store == nil {
		store, err := blob.Open(ctx, blob.DriverFilesystem, root)
		if err != nil {
			return nil, fmt.Errorf("open project store: %w", err)
		}
		p.store = store
	}
	if fresh {
		p.logger.Info("creating project", "path", docPath, "store", p.store.Driver())
		if err := p.Save(ctx); err != nil {
			return nil, err
		}
		return p, nil
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	p.logger.Info("project opened", "path", docPath, "signals", len(p.signals), "warnings", len(p.warns))
	return p, nil
}

func (p *Project) load() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return &ConfigError{Path: p.path, Reason: "read document", Err: err}
	}
	var recs []SignalRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return &ConfigError{Path: p.path, Reason: "malformed document", Err: err}
	}
	for i, rec := range recs {
		if rec.Type != typeSignal {
			return &ConfigError{Path: fmt.Sprintf("%s[%d]", p.path, i), Reason: fmt.Sprintf("expected type %q, got %q", typeSignal, rec.Type)}
		}
		s := newSignal(p, rec.GUID, rec.Name, rec.Config)
		for _, tr := range rec.Tracks {
			s.box.tracks = append(s.box.tracks, newLazyTrack(tr, p))
		}
		if err := s.box.Load(rec.Process); err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) {
				cfgErr.Path = fmt.Sprintf("%s[%d]/%s", p.path, i, cfgErr.Path)
				return cfgErr
			}
			return err
		}
		p.signals = append(p.signals, s)
	}
	return nil
}

func (p *Project) warn(w ModuleResolutionWarning) {
	p.logger.Warn("module not resolved", "signal", w.Signal, "process", w.GUID, "type", w.Type)
	p.warns = append(p.warns, w)
}

// Path returns the configuration document path.
func (p *Project) Path() string { return p.path }

// Store returns the blob store backing the project.
func (p *Project) Store() blob.Store { return p.store }

// Registry returns the module registry.
func (p *Project) Registry() *Registry { return p.registry }

// Warnings returns the module resolution warnings collected while loading.
func (p *Project) Warnings() []ModuleResolutionWarning {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.warns)
}

// Signals returns the signals in document order.
func (p *Project) Signals() []*Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.signals)
}

// Signal finds a signal by GUID.
func (p *Project) Signal(guid string) (*Signal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signalLocked(guid)
}

func (p *Project) signalLocked(guid string) (*Signal, bool) {
	for _, s := range p.signals {
		if s.guid == guid {
			return s, true
		}
	}
	return nil, false
}

// FindProcess finds a process anywhere in the tree, returning its root Signal.
func (p *Project) FindProcess(guid string) (Process, *Signal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.signals {
		if proc, _ := s.box.find(guid); proc != nil {
			return proc, s, true
		}
	}
	return nil, nil, false
}

// Tree returns the display projection of every signal.
func (p *Project) Tree() []Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Node, 0, len(p.signals))
	for _, s := range p.signals {
		out = append(out, s.Node())
	}
	return out
}

// Save writes the configuration document atomically.
func (p *Project) Save(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked(ctx)
}

func (p *Project) saveLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recs := make([]SignalRecord, 0, len(p.signals))
	for _, s := range p.signals {
		rec, err := s.Record()
		if err != nil {
			return fmt.Errorf("save project: signal %s: %w", s.guid, err)
		}
		recs = append(recs, rec)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return writeFileAtomic(p.path, buf.Bytes())
}

var writeFileAtomic = func(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".project-*.json")
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// Close waits for background tasks started by the project's own runner.
func (p *Project) Close(ctx context.Context) error {
	if p.ownsRun {
		return p.runner.Close(ctx)
	}
	return nil
}

// AttachProcess creates a process of type typ under parent (a Signal or a
// container process), configures it from raw and saves the document.
func (p *Project) AttachProcess(ctx context.Context, parent, typ, name string, raw json.RawMessage) (Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	box, scope, err := p.containerLocked(parent)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = typ
	}
	proc, err := p.registry.construct(typ, Identity{GUID: newGUID(), Name: name}, scope)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := proc.Configure(raw); err != nil {
		return nil, err
	}
	box.Add(proc)
	if err := p.saveLocked(ctx); err != nil {
		box.Remove(proc.GUID())
		return nil, err
	}
	p.logger.Info("process attached", "process", proc.GUID(), "type", typ, "parent", parent)
	return proc, nil
}

func (p *Project) containerLocked(guid string) (*Container, *Scope, error) {
	if s, ok := p.signalLocked(guid); ok {
		return s.box, s.Scope(), nil
	}
	for _, s := range p.signals {
		if proc, _ := s.box.find(guid); proc != nil {
			n, ok := proc.(Nester)
			if !ok {
				return nil, nil, fmt.Errorf("process %s (%s) cannot hold processes", guid, proc.Type())
			}
			return n.Container(), s.Scope(), nil
		}
	}
	return nil, nil, fmt.Errorf("no signal or container %s", guid)
}

// RemoveSignal deletes a signal, its processes and their results, then its
// tracks, and saves the document.
func (p *Project) RemoveSignal(ctx context.Context, guid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.signalLocked(guid)
	if !ok {
		return fmt.Errorf("signal %s not found", guid)
	}
	if err := s.box.DeleteAll(ctx); err != nil {
		return err
	}
	tracks := s.box.tracks
	s.box.tracks = nil
	if err := p.deleteTracks(ctx, tracks); err != nil {
		return err
	}
	p.signals = slices.DeleteFunc(p.signals, func(x *Signal) bool { return x == s })
	p.logger.Info("signal removed", "signal", guid)
	return p.saveLocked(ctx)
}

// DeleteProcess deletes one process (and anything nested in it) and saves.
// Other processes and their results are left untouched.
func (p *Project) DeleteProcess(ctx context.Context, guid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.signals {
		proc, owner := s.box.find(guid)
		if proc == nil {
			continue
		}
		if err := proc.Delete(ctx); err != nil {
			return fmt.Errorf("delete process %s: %w", guid, err)
		}
		owner.Remove(guid)
		p.logger.Info("process removed", "process", guid, "type", proc.Type())
		return p.saveLocked(ctx)
	}
	return fmt.Errorf("process %s not found", guid)
}

// Delete removes a signal or a process by GUID.
func (p *Project) Delete(ctx context.Context, guid string) error {
	if _, ok := p.Signal(guid); ok {
		return p.RemoveSignal(ctx, guid)
	}
	return p.DeleteProcess(ctx, guid)
}

// AddTracks stores new tracks under a signal and saves the document.
func (p *Project) AddTracks(ctx context.Context, signal string, specs []TrackSpec) ([]*Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.signalLocked(signal)
	if !ok {
		return nil, fmt.Errorf("signal %s not found", signal)
	}
	tracks, err := s.addTracks(ctx, specs)
	if err != nil {
		return nil, err
	}
	return tracks, p.saveLocked(ctx)
}

// RemoveTracks deletes tracks from a signal and saves the document. Tracks a
// process still references are refused with *TrackInUseError.
func (p *Project) RemoveTracks(ctx context.Context, signal string, guids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.signalLocked(signal)
	if !ok {
		return fmt.Errorf("signal %s not found", signal)
	}
	tracks := make([]*Track, 0, len(guids))
	for _, g := range guids {
		t, ok := s.Track(g)
		if !ok {
			return fmt.Errorf("track %s not found in signal %s", g, signal)
		}
		tracks = append(tracks, t)
	}
	if err := s.removeTracks(ctx, "", tracks); err != nil {
		return err
	}
	return p.saveLocked(ctx)
}

// LoadTrack reads a track array from the store.
func (p *Project) LoadTrack(ctx context.Context, guid string) ([][]float64, error) {
	_, rc, err := p.store.Get(ctx, sourceKey(guid))
	if err != nil {
		return nil, &StorageError{Area: areaSource, GUID: guid, Err: err}
	}
	defer func() { _ = rc.Close() }()
	data, err := codec.DecodeTrack(rc)
	if err != nil {
		return nil, &StorageError{Area: areaSource, GUID: guid, Err: err}
	}
	return data, nil
}

func (p *Project) storeTracks(ctx context.Context, tracks []*Track) error {
	for i, t := range tracks {
		var buf bytes.Buffer
		err := codec.EncodeTrack(&buf, t.data)
		if err == nil {
			_, err = p.store.Put(ctx, sourceKey(t.guid), &buf, blob.PutOptions{ContentType: "application/octet-stream"})
		}
		if err != nil {
			// roll back what was already written
			_ = p.deleteTracks(ctx, tracks[:i])
			return &StorageError{Area: areaSource, GUID: t.guid, Err: err}
		}
	}
	return nil
}

func (p *Project) deleteTracks(ctx context.Context, tracks []*Track) error {
	for _, t := range tracks {
		ok, err := p.store.Delete(ctx, sourceKey(t.guid))
		if err != nil {
			return &StorageError{Area: areaSource, GUID: t.guid, Err: err}
		}
		if !ok {
			p.logger.Warn("track file already missing", "track", t.guid)
		}
	}
	return nil
}

// LoadResult reads a stored result.
func (p *Project) LoadResult(ctx context.Context, guid string) (Result, error) {
	b, err := p.readBlob(ctx, resultKey(guid))
	if err != nil {
		return nil, &StorageError{Area: areaResult, GUID: guid, Err: err}
	}
	var r Result
	if err := codec.UnmarshalResult(b, &r); err != nil {
		return nil, &StorageError{Area: areaResult, GUID: guid, Err: err}
	}
	return r, nil
}

// SaveResult stores r, replacing any previous result for guid. If the new
// result cannot be written the previous one is put back; when that fails too
// the error wraps ErrResultLost.
func (p *Project) SaveResult(ctx context.Context, guid string, r Result) error {
	b, err := codec.MarshalResult(r)
	if err != nil {
		return &StorageError{Area: areaResult, GUID: guid, Err: err}
	}
	key := resultKey(guid)
	prev, err := p.readBlob(ctx, key)
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		return &StorageError{Area: areaResult, GUID: guid, Err: err}
	}
	if prev != nil {
		if _, err := p.store.Delete(ctx, key); err != nil {
			return &StorageError{Area: areaResult, GUID: guid, Err: err}
		}
	}
	if err := p.putResult(ctx, key, b); err != nil {
		if prev != nil {
			if rerr := p.putResult(ctx, key, prev); rerr != nil {
				p.logger.Error("previous result could not be restored", "process", guid, "error", rerr)
				return &StorageError{Area: areaResult, GUID: guid, Err: errors.Join(err, ErrResultLost)}
			}
		}
		return &StorageError{Area: areaResult, GUID: guid, Err: err}
	}
	return nil
}

func (p *Project) putResult(ctx context.Context, key string, b []byte) error {
	_, err := p.store.Put(ctx, key, bytes.NewReader(b), blob.PutOptions{ContentType: "application/cbor"})
	return err
}

func (p *Project) readBlob(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RemoveResult deletes a stored result. A missing file is a *StorageError.
func (p *Project) RemoveResult(ctx context.Context, guid string) error {
	ok, err := p.store.Delete(ctx, resultKey(guid))
	if err != nil {
		return &StorageError{Area: areaResult, GUID: guid, Err: err}
	}
	if !ok {
		return &StorageError{Area: areaResult, GUID: guid, Err: blob.ErrNotFound}
	}
	return nil
}

// URL returns a GET link to the stored array of a track or the stored
// result of a processed process. The memory driver has no links and returns
// blob.ErrUnsupported.
func (p *Project) URL(ctx context.Context, guid string, expiry time.Duration) (string, error) {
	area, key, err := p.keyFor(guid)
	if err != nil {
		return "", err
	}
	if _, err := p.store.Head(ctx, key); err != nil {
		return "", &StorageError{Area: area, GUID: guid, Err: err}
	}
	u, err := p.store.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
	if err != nil {
		return "", fmt.Errorf("link %s: %w", guid, err)
	}
	return u, nil
}

func (p *Project) keyFor(guid string) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.signals {
		if _, ok := s.Track(guid); ok {
			return areaSource, sourceKey(guid), nil
		}
		if proc, _ := s.box.find(guid); proc != nil {
			if pp, ok := proc.(interface{ Processed() bool }); !ok || !pp.Processed() {
				return "", "", fmt.Errorf("process %s: %w", guid, ErrNotProcessed)
			}
			return areaResult, resultKey(guid), nil
		}
	}
	return "", "", fmt.Errorf("%s is neither a track nor a process", guid)
}

// Orphans lists store keys that no track or process in the document refers to.
// Nothing is deleted.
func (p *Project) Orphans(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	known := make(map[string]struct{})
	for _, s := range p.signals {
		for _, t := range s.box.tracks {
			known[sourceKey(t.guid)] = struct{}{}
		}
		s.box.walk(func(proc Process) { known[resultKey(proc.GUID())] = struct{}{} })
	}
	p.mu.Unlock()
	var out []string
	for _, area := range []string{areaSource, areaResult} {
		infos, err := p.store.List(ctx, area+"/")
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", area, err)
		}
		for _, info := range infos {
			if _, ok := known[info.Key]; !ok && !strings.HasPrefix(filepath.Base(info.Key), ".") {
				out = append(out, info.Key)
			}
		}
	}
	return out, nil
}
