package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInvokable is returned when a process variant has no computation.
	ErrNotInvokable = errors.New("process is not invokable")
	// ErrUnknownModule is returned when a module type name is not registered.
	ErrUnknownModule = errors.New("unknown module type")
	// ErrNotProcessed is returned when a result is requested before processing.
	ErrNotProcessed = errors.New("process has not been processed")
	// ErrResultLost is wrapped when replacing a result failed and the previous
	// one could not be restored.
	ErrResultLost = errors.New("previous result lost")
	// ErrDetached is returned when a process is not, or no longer, part of the project.
	ErrDetached = errors.New("process is not attached to this project")
)

// ConfigError reports an invalid or inconsistent configuration document.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StorageError reports a missing or unreadable track or result file.
type StorageError struct {
	Area string // "source" or "result"
	GUID string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Area, e.GUID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TrackInUseError reports a track that cannot be removed while a process
// still references it.
type TrackInUseError struct {
	Track   string
	Process string
}

func (e *TrackInUseError) Error() string {
	return fmt.Sprintf("track %s is still used by process %s", e.Track, e.Process)
}

// ImportError reports a capture file that could not be turned into a Signal.
type ImportError struct {
	Path  string
	Field string
	Err   error
}

func (e *ImportError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("import %s: field %s: %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("import %s: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// ModuleResolutionWarning records a process whose type is not registered.
// The record is skipped and its Signal still loads.
type ModuleResolutionWarning struct {
	Signal string
	GUID   string
	Type   string
}

func (w ModuleResolutionWarning) Error() string {
	return fmt.Sprintf("signal %s: process %s has unknown type %q and was skipped", w.Signal, w.GUID, w.Type)
}
