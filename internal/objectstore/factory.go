package objectstore

import (
	"context"
	"fmt"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
)

// New builds the configured object store backend.
func New(ctx context.Context, cfg common.ObjectStoreConfig) (interfaces.ObjectStore, error) {
	switch cfg.Backend {
	case "filesystem", "":
		return NewFilesystemStore(cfg.Root)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown object store backend: %s", cfg.Backend)
	}
}
