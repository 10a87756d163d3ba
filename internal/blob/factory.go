package blob

import (
	"context"
	"fmt"
)

// Open selects a Store implementation for a project rooted at root.
//
//	driver: fs|s3|memory (default fs)
//	root:   project directory when driver=fs
//	(S3 specific variables documented in internal/infra/blob/s3)
func Open(ctx context.Context, driver Driver, root string) (Store, error) {
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(root)
	case DriverS3:
		return OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
