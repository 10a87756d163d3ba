package core

import (
	"context"
	"errors"
	"fmt"

	"rdsp/internal/history"
	"rdsp/internal/task"
)

// Ledger records processing runs.
type Ledger interface {
	RecordRun(ctx context.Context, run history.Run) (int64, error)
	FinishRun(ctx context.Context, id int64, status string, done int, runErr error) error
}

// Run computes proc on a task worker, then commits the output on the calling
// goroutine and saves the document. Runs on one project are serialised; a
// second caller waits for the first or for its own ctx. proc must belong to
// p; a process deleted while it computes is not committed.
func (p *Project) Run(ctx context.Context, proc Process, onProgress func(task.Progress)) error {
	p.mu.Lock()
	attached := p.attachedLocked(proc)
	p.mu.Unlock()
	if !attached {
		return fmt.Errorf("run %s: %w", proc.GUID(), ErrDetached)
	}
	select {
	case p.runLock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.runLock }()

	runID := p.recordRun(ctx, proc)
	var commit Commit
	h, err := p.runner.Start(ctx, proc.Type()+" "+proc.GUID(), func(ctx context.Context, r task.Reporter) error {
		c, err := proc.ProcessNow(ctx, r)
		if err != nil {
			return err
		}
		commit = c
		return nil
	})
	if err != nil {
		p.finishRun(runID, string(task.StatusFailed), 0, err)
		return err
	}
	err = follow(ctx, h, onProgress)
	if err == nil && commit != nil {
		err = p.commit(ctx, proc, commit)
	}
	status := h.Status()
	if err != nil && status == task.StatusSucceeded {
		status = task.StatusFailed
	}
	p.finishRun(runID, string(status), h.Snapshot().Done, err)
	if err != nil {
		p.logger.Error("process run failed", "process", proc.GUID(), "type", proc.Type(), "error", err)
		return err
	}
	p.logger.Info("process run finished", "process", proc.GUID(), "type", proc.Type())
	return nil
}

// commit applies c under the document lock. The document is saved even when
// c fails part way so that it matches memory.
func (p *Project) commit(ctx context.Context, proc Process, c Commit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.attachedLocked(proc) {
		return fmt.Errorf("commit %s: %w", proc.GUID(), ErrDetached)
	}
	err := c(ctx)
	if errors.Is(err, ErrResultLost) {
		if s, ok := proc.(interface{ SetProcessed(bool) }); ok {
			s.SetProcessed(false)
		}
	}
	if serr := p.saveLocked(ctx); err == nil {
		err = serr
	}
	return err
}

// attachedLocked reports whether proc itself is in the tree.
func (p *Project) attachedLocked(proc Process) bool {
	for _, s := range p.signals {
		if found, _ := s.box.find(proc.GUID()); found == proc {
			return true
		}
	}
	return false
}

// follow forwards progress until the task ends.
func follow(ctx context.Context, h *task.Handle, onProgress func(task.Progress)) error {
	emit := func(pr task.Progress) {
		if onProgress != nil {
			onProgress(pr)
		}
	}
	for {
		select {
		case pr := <-h.Progress():
			emit(pr)
		case <-h.Done():
			select {
			case pr := <-h.Progress():
				emit(pr)
			default:
			}
			return h.Wait(context.Background())
		case <-ctx.Done():
			h.Cancel()
			<-h.Done()
			return ctx.Err()
		}
	}
}

func (p *Project) recordRun(ctx context.Context, proc Process) int64 {
	if p.ledger == nil {
		return 0
	}
	id, err := p.ledger.RecordRun(ctx, history.Run{
		Project:     p.path,
		ProcessGUID: proc.GUID(),
		ProcessType: proc.Type(),
		Status:      string(task.StatusRunning),
	})
	if err != nil {
		p.logger.Warn("history record failed", "error", err)
		return 0
	}
	return id
}

func (p *Project) finishRun(id int64, status string, done int, runErr error) {
	if p.ledger == nil || id == 0 {
		return
	}
	// the run's own ctx may already be canceled; the ledger entry is still written
	if err := p.ledger.FinishRun(context.Background(), id, status, done, runErr); err != nil {
		p.logger.Warn("history finish failed", "run", id, "error", err)
	}
}
