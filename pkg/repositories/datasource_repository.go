package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// DatasourceRepository defines the interface for datasource data access.
type DatasourceRepository interface {
	// FetchByIDs returns the datasources that exist, in input order.
	// Unknown ids are omitted rather than reported as an error.
	FetchByIDs(ctx context.Context, ids []string) ([]*models.Datasource, error)

	// GetByID retrieves a datasource. Returns apperrors.ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*models.Datasource, error)

	// List retrieves all datasources.
	List(ctx context.Context) ([]*models.Datasource, error)

	// Create inserts a datasource, assigning an ID when empty.
	// Returns apperrors.ErrConflict if the ID already exists.
	Create(ctx context.Context, ds *models.Datasource) error

	// Delete removes a datasource by ID.
	Delete(ctx context.Context, id string) error
}

type datasourceCatalog struct {
	Datasources []*models.Datasource `yaml:"datasources"`
}

// fileDatasourceRepository implements DatasourceRepository on a YAML catalog
// file. The file is re-read on every call so external edits are picked up.
type fileDatasourceRepository struct {
	path string
	mu   sync.Mutex
}

// NewFileDatasourceRepository creates a repository backed by the YAML file at
// path. A missing file is an empty catalog.
func NewFileDatasourceRepository(path string) DatasourceRepository {
	return &fileDatasourceRepository{path: path}
}

func (r *fileDatasourceRepository) read() (*datasourceCatalog, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return &datasourceCatalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read datasource catalog: %w", err)
	}

	var catalog datasourceCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse datasource catalog %s: %w", r.path, err)
	}
	return &catalog, nil
}

func (r *fileDatasourceRepository) write(catalog *datasourceCatalog) error {
	data, err := yaml.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("failed to encode datasource catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write datasource catalog: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace datasource catalog: %w", err)
	}
	return nil
}

func (r *fileDatasourceRepository) FetchByIDs(ctx context.Context, ids []string) ([]*models.Datasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalog, err := r.read()
	if err != nil {
		return nil, err
	}
	return selectByIDs(catalog.Datasources, ids), nil
}

func (r *fileDatasourceRepository) GetByID(ctx context.Context, id string) (*models.Datasource, error) {
	found, err := r.FetchByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("datasource %s: %w", id, apperrors.ErrNotFound)
	}
	return found[0], nil
}

func (r *fileDatasourceRepository) List(ctx context.Context) ([]*models.Datasource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalog, err := r.read()
	if err != nil {
		return nil, err
	}
	return catalog.Datasources, nil
}

func (r *fileDatasourceRepository) Create(ctx context.Context, ds *models.Datasource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalog, err := r.read()
	if err != nil {
		return err
	}
	if err := prepareForCreate(ds, catalog.Datasources); err != nil {
		return err
	}
	catalog.Datasources = append(catalog.Datasources, ds)
	return r.write(catalog)
}

func (r *fileDatasourceRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalog, err := r.read()
	if err != nil {
		return err
	}
	kept, removed := removeByID(catalog.Datasources, id)
	if !removed {
		return fmt.Errorf("datasource %s: %w", id, apperrors.ErrNotFound)
	}
	catalog.Datasources = kept
	return r.write(catalog)
}

// memoryDatasourceRepository implements DatasourceRepository in memory.
type memoryDatasourceRepository struct {
	mu          sync.RWMutex
	datasources []*models.Datasource
}

// NewMemoryDatasourceRepository creates an in-memory repository seeded with datasources.
func NewMemoryDatasourceRepository(datasources ...*models.Datasource) DatasourceRepository {
	return &memoryDatasourceRepository{datasources: append([]*models.Datasource(nil), datasources...)}
}

func (r *memoryDatasourceRepository) FetchByIDs(ctx context.Context, ids []string) ([]*models.Datasource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return selectByIDs(r.datasources, ids), nil
}

func (r *memoryDatasourceRepository) GetByID(ctx context.Context, id string) (*models.Datasource, error) {
	found, _ := r.FetchByIDs(ctx, []string{id})
	if len(found) == 0 {
		return nil, fmt.Errorf("datasource %s: %w", id, apperrors.ErrNotFound)
	}
	return found[0], nil
}

func (r *memoryDatasourceRepository) List(ctx context.Context) ([]*models.Datasource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*models.Datasource(nil), r.datasources...), nil
}

func (r *memoryDatasourceRepository) Create(ctx context.Context, ds *models.Datasource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := prepareForCreate(ds, r.datasources); err != nil {
		return err
	}
	r.datasources = append(r.datasources, ds)
	return nil
}

func (r *memoryDatasourceRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept, removed := removeByID(r.datasources, id)
	if !removed {
		return fmt.Errorf("datasource %s: %w", id, apperrors.ErrNotFound)
	}
	r.datasources = kept
	return nil
}

func selectByIDs(all []*models.Datasource, ids []string) []*models.Datasource {
	byID := make(map[string]*models.Datasource, len(all))
	for _, ds := range all {
		byID[ds.ID] = ds
	}

	result := make([]*models.Datasource, 0, len(ids))
	for _, id := range ids {
		if ds, ok := byID[id]; ok {
			result = append(result, ds)
		}
	}
	return result
}

func prepareForCreate(ds *models.Datasource, existing []*models.Datasource) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	for _, other := range existing {
		if other.ID == ds.ID {
			return fmt.Errorf("datasource %s: %w", ds.ID, apperrors.ErrConflict)
		}
	}
	now := time.Now().UTC()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = now
	return nil
}

func removeByID(all []*models.Datasource, id string) ([]*models.Datasource, bool) {
	for i, ds := range all {
		if ds.ID == id {
			return append(all[:i:i], all[i+1:]...), true
		}
	}
	return all, false
}
