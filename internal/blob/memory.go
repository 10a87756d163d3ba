package blob

import (
	memorystore "rdsp/internal/infra/blob/memory"
)

// NewMemory returns an in-memory Store; projects opened with it keep their
// arrays and results for the lifetime of the process only.
func NewMemory() Store { return memorystore.New() }
