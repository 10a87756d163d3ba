package blob

import (
	"rdsp/internal/infra/blob/fs"
)

// NewFilesystem constructs a filesystem-backed Store rooted at a project
// directory. Keys map directly to relative file paths, so `source/<guid>.npy`
// lands next to the project document.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}
