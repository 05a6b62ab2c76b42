package badger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ArtifactStorage implements the ArtifactStorage interface for Badger.
// Artifacts are insert-only; a registered version is never rewritten.
type ArtifactStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.ArtifactStorage = (*ArtifactStorage)(nil)

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(db *BadgerDB, logger arbor.ILogger) *ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ArtifactStorage) Store(ctx context.Context, artifact *models.ModelArtifact) error {
	if artifact.Name == "" || artifact.Version == "" {
		return fmt.Errorf("%w: artifact name and version are required", common.ErrValidation)
	}
	if err := s.db.Store().Insert(artifact.Key(), artifact); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("%w: model version %s", common.ErrAlreadyExists, artifact.Key())
		}
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) Get(ctx context.Context, name, version string) (*models.ModelArtifact, error) {
	var artifact models.ModelArtifact
	if err := s.db.Store().Get(name+":"+version, &artifact); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: model %s version %s", common.ErrNotFound, name, version)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &artifact, nil
}

// Latest returns the highest registered version of a model. Versions are
// compared numerically on their vN suffix, not lexically, so v10 > v9.
func (s *ArtifactStorage) Latest(ctx context.Context, name string) (*models.ModelArtifact, error) {
	artifacts, err := s.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%w: no versions of model %s", common.ErrNotFound, name)
	}
	return artifacts[len(artifacts)-1], nil
}

func (s *ArtifactStorage) ListVersions(ctx context.Context, name string) ([]*models.ModelArtifact, error) {
	var artifacts []models.ModelArtifact
	if err := s.db.Store().Find(&artifacts, badgerhold.Where("Name").Eq(name)); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	result := make([]*models.ModelArtifact, len(artifacts))
	for i := range artifacts {
		result[i] = &artifacts[i]
	}
	sort.Slice(result, func(i, j int) bool {
		return versionNumber(result[i].Version) < versionNumber(result[j].Version)
	})
	return result, nil
}

func versionNumber(v string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(v, "v"))
	if err != nil {
		return 0
	}
	return n
}
