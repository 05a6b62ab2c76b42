package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
)

// versioned lets the registry stamp the assigned version onto a concrete
// model before serializing it.
type versioned interface {
	setVersion(v string)
}

func (m *ForestModel) setVersion(v string)   { m.ModelVersion = v }
func (m *BoostingModel) setVersion(v string) { m.ModelVersion = v }

// Registry stores trained model versions. Parameters live in the object
// store under models/{name}/{version}/model.json; the artifact index in
// badger points at them. Versions are immutable once registered and
// loaded handles are cached, so scoring keeps a stable model even while
// a retrain registers a newer one.
type Registry struct {
	artifacts interfaces.ArtifactStorage
	objects   interfaces.ObjectStore
	logger    arbor.ILogger

	mu    sync.RWMutex
	cache map[string]interfaces.TrainedModel // keyed name:version
}

var _ interfaces.ModelRegistry = (*Registry)(nil)

func NewRegistry(artifacts interfaces.ArtifactStorage, objects interfaces.ObjectStore, logger arbor.ILogger) *Registry {
	return &Registry{
		artifacts: artifacts,
		objects:   objects,
		logger:    logger,
		cache:     make(map[string]interfaces.TrainedModel),
	}
}

// Register assigns the next version, persists the serialized model, then
// writes the index entry. The index write comes last so a crash never
// leaves an artifact record pointing at a missing object.
func (r *Registry) Register(ctx context.Context, model interfaces.TrainedModel, meta *models.ModelArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	version, err := r.nextVersion(ctx, model.Name())
	if err != nil {
		return err
	}
	if v, ok := model.(versioned); ok {
		v.setVersion(version)
	}

	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("registry: marshal %s: %w", model.Name(), err)
	}

	key := modelKey(model.Name(), version)
	if _, err := r.objects.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("registry: store %s %s: %w", model.Name(), version, err)
	}

	meta.Name = model.Name()
	meta.Version = version
	meta.StorageKey = key
	meta.Dimensions = models.FeatureDimensions
	if meta.TrainedAt.IsZero() {
		meta.TrainedAt = time.Now().UTC()
	}
	if err := r.artifacts.Store(ctx, meta); err != nil {
		return fmt.Errorf("registry: index %s %s: %w", model.Name(), version, err)
	}

	r.cache[meta.Key()] = model

	r.logger.Info().
		Str("model", meta.Name).
		Str("version", version).
		Int("samples", meta.SampleCount).
		Msg("Registered model version")
	return nil
}

// Active returns the newest registered version of a model, or a not
// found error when none has ever been trained.
func (r *Registry) Active(ctx context.Context, name string) (interfaces.TrainedModel, *models.ModelArtifact, error) {
	meta, err := r.artifacts.Latest(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	model, err := r.Load(ctx, name, meta.Version)
	if err != nil {
		return nil, nil, err
	}
	return model, meta, nil
}

func (r *Registry) Load(ctx context.Context, name, version string) (interfaces.TrainedModel, error) {
	cacheKey := name + ":" + version

	r.mu.RLock()
	if model, ok := r.cache[cacheKey]; ok {
		r.mu.RUnlock()
		return model, nil
	}
	r.mu.RUnlock()

	rc, err := r.objects.Get(ctx, modelKey(name, version))
	if err != nil {
		return nil, fmt.Errorf("registry: fetch %s %s: %w", name, version, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s %s: %w", name, version, err)
	}

	var model interfaces.TrainedModel
	switch name {
	case models.ModelForest:
		model, err = decodeForest(data)
	case models.ModelBoosting:
		model, err = decodeBoosting(data)
	default:
		return nil, fmt.Errorf("%w: unknown model name %q", common.ErrValidation, name)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[cacheKey] = model
	r.mu.Unlock()
	return model, nil
}

func (r *Registry) Versions(ctx context.Context, name string) ([]*models.ModelArtifact, error) {
	return r.artifacts.ListVersions(ctx, name)
}

func (r *Registry) nextVersion(ctx context.Context, name string) (string, error) {
	latest, err := r.artifacts.Latest(ctx, name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "v1", nil
		}
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimPrefix(latest.Version, "v"))
	if err != nil {
		return "", fmt.Errorf("registry: malformed version %q for %s", latest.Version, name)
	}
	return "v" + strconv.Itoa(n+1), nil
}

func modelKey(name, version string) string {
	return fmt.Sprintf("models/%s/%s/model.json", name, version)
}
