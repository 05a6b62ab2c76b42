package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func snapshotKey(scope string) string {
	if scope == "" {
		scope = models.ScopeGlobal
	}
	return "dashboard:" + scope
}

// SnapshotStorage implements the SnapshotStorage interface for Badger.
// Only the latest snapshot per scope is kept.
type SnapshotStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.SnapshotStorage = (*SnapshotStorage)(nil)

// NewSnapshotStorage creates a new SnapshotStorage instance
func NewSnapshotStorage(db *BadgerDB, logger arbor.ILogger) *SnapshotStorage {
	return &SnapshotStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SnapshotStorage) Store(ctx context.Context, snapshot *models.DashboardSnapshot) error {
	if err := s.db.Store().Upsert(snapshotKey(snapshot.Scope), snapshot); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStorage) Get(ctx context.Context, scope string) (*models.DashboardSnapshot, error) {
	var snapshot models.DashboardSnapshot
	if err := s.db.Store().Get(snapshotKey(scope), &snapshot); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: dashboard snapshot", common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snapshot, nil
}
