package core

import (
	"context"
	"encoding/json"
	"log/slog"

	"rdsp/internal/task"
)

// Commit applies a finished computation to the project. It runs on the
// coordinating goroutine, never on the task worker.
type Commit func(ctx context.Context) error

// Process is a derived module attached to a Signal or a container process.
type Process interface {
	GUID() string
	Name() string
	Type() string
	// Configure validates and applies a config; unresolved track references
	// are reported here as *ConfigError.
	Configure(raw json.RawMessage) error
	FileConfig() (ProcessRecord, error)
	Node() Node
	Property() map[string]any
	// Inputs returns the GUIDs of the tracks the process reads.
	Inputs() []string
	// ProcessNow computes the output without mutating the project.
	ProcessNow(ctx context.Context, r task.Reporter) (Commit, error)
	Delete(ctx context.Context) error
}

// Nester is implemented by processes that hold tracks and nested processes.
type Nester interface {
	Container() *Container
}

// ResultHolder is implemented by processes that persist a Result.
type ResultHolder interface {
	Processed() bool
	Result(ctx context.Context) (Result, error)
}

// Identity is what a constructor receives about the process being built.
type Identity struct {
	GUID      string
	Name      string
	Processed bool
}

// Base provides the identity and scope plumbing shared by process variants.
type Base struct {
	id    Identity
	scope *Scope
}

// NewBase binds an identity to the scope the process lives in.
func NewBase(id Identity, scope *Scope) Base { return Base{id: id, scope: scope} }

func (b *Base) GUID() string        { return b.id.GUID }
func (b *Base) Name() string        { return b.id.Name }
func (b *Base) SetName(n string)    { b.id.Name = n }
func (b *Base) Processed() bool     { return b.id.Processed }
func (b *Base) SetProcessed(v bool) { b.id.Processed = v }
func (b *Base) Scope() *Scope       { return b.scope }

// Logger returns the project logger tagged with the process GUID.
func (b *Base) Logger() *slog.Logger {
	return b.scope.Logger().With("process", b.id.GUID)
}

// Record assembles a ProcessRecord with cfg marshalled as the config field.
func (b *Base) Record(typ string, cfg any, withProcessed bool) (ProcessRecord, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return ProcessRecord{}, err
	}
	rec := ProcessRecord{Type: typ, GUID: b.id.GUID, Name: b.id.Name, Config: raw}
	if withProcessed {
		processed := b.id.Processed
		rec.Processed = &processed
	}
	return rec, nil
}
