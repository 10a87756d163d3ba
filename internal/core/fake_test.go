package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rdsp/internal/task"
)

const fakeType = "Fake"

// fakeProcess sums channel 0 of one track and stores it as a one-cell result.
type fakeProcess struct {
	Base
	cfg   fakeConfig
	track *Track
	fail  error
	// when gate is set, ProcessNow signals started and blocks until gate closes
	gate    chan struct{}
	started chan struct{}
}

type fakeConfig struct {
	Track string `json:"track"`
	Scale int    `json:"scale"`
}

func fakeModuleType() ModuleType {
	return ModuleType{
		Name:       fakeType,
		Capability: CapAll,
		New:        func(id Identity, scope *Scope) Process { return &fakeProcess{Base: NewBase(id, scope)} },
	}
}

func (p *fakeProcess) Type() string { return fakeType }

func (p *fakeProcess) Configure(raw json.RawMessage) error {
	var cfg fakeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return &ConfigError{Path: "config", Reason: "malformed", Err: err}
	}
	tr, ok := p.Scope().Track(cfg.Track)
	if !ok {
		return &ConfigError{Path: "track", Reason: fmt.Sprintf("track %q not found", cfg.Track)}
	}
	p.cfg, p.track = cfg, tr
	return nil
}

func (p *fakeProcess) FileConfig() (ProcessRecord, error) { return p.Record(fakeType, p.cfg, true) }

func (p *fakeProcess) Node() Node { return Node{Type: fakeType, Name: p.Name(), GUID: p.GUID()} }

func (p *fakeProcess) Inputs() []string { return []string{p.cfg.Track} }

func (p *fakeProcess) Property() map[string]any { return map[string]any{"scale": p.cfg.Scale} }

func (p *fakeProcess) ProcessNow(ctx context.Context, r task.Reporter) (Commit, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	if p.gate != nil {
		close(p.started)
		<-p.gate
	}
	r.SetTotal(1)
	y, err := p.track.Channel(ctx, 0)
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for _, v := range y {
		sum += v
	}
	r.Advance(1)
	res := Result{{Name: p.track.Name(), Speed: []float64{1}, Data: [][]float64{{sum * float64(p.cfg.Scale)}}}}
	return func(ctx context.Context) error {
		if err := p.Scope().SaveResult(ctx, p.GUID(), res); err != nil {
			return err
		}
		p.SetProcessed(true)
		return nil
	}, nil
}

func (p *fakeProcess) Delete(ctx context.Context) error {
	if !p.Processed() {
		return nil
	}
	return p.Scope().RemoveResult(ctx, p.GUID())
}

// configOnly is registered without a constructor to exercise ErrNotInvokable.
var configOnly = ModuleType{Name: "ConfigOnly", Capability: CapConfig}

var errBoom = errors.New("boom")
