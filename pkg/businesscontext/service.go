package businesscontext

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/config"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// Service maintains one business context per workspace directory.
// Ingestions into the same workspace are serialized; different
// workspaces proceed independently.
type Service interface {
	// Ingest merges the relations of schema into the workspace context and
	// persists it. On a write failure the updated context is still
	// returned, together with an error wrapping ErrPersistenceFailed. A
	// persisted document that cannot be read fails every call with
	// ErrPersistenceFailed and a nil context until it becomes readable.
	Ingest(ctx context.Context, workspaceDir, relationID string, schema *models.Schema) (*BusinessContext, error)
	Get(ctx context.Context, workspaceDir string) (*BusinessContext, error)
	// Reset re-derives entities, vocabulary and relationships from the
	// stored relation snapshots.
	Reset(ctx context.Context, workspaceDir string) (*BusinessContext, error)
	ObserveSchema(ctx context.Context, workspace, relationID string, schema *models.Schema)
}

type workspaceState struct {
	mu    sync.Mutex
	bc    *BusinessContext
	dirty bool
}

type service struct {
	cfg    config.BusinessContextConfig
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	workspaces map[string]*workspaceState
}

var _ Service = (*service)(nil)

// NewService creates the business context service.
func NewService(cfg config.BusinessContextConfig, logger *zap.Logger) Service {
	return &service{
		cfg:        cfg,
		logger:     logger.Named("business-context"),
		now:        time.Now,
		workspaces: make(map[string]*workspaceState),
	}
}

// lock returns the locked state of a workspace, loading its persisted
// context on first use. An unreadable document is left untouched and
// reported as ErrPersistenceFailed; the next call tries to load it again.
func (s *service) lock(workspaceDir string) (*workspaceState, error) {
	dir := filepath.Clean(workspaceDir)

	s.mu.Lock()
	st, ok := s.workspaces[dir]
	if !ok {
		st = &workspaceState{}
		s.workspaces[dir] = st
	}
	s.mu.Unlock()

	st.mu.Lock()
	if st.bc != nil {
		return st, nil
	}
	bc, err := Load(dir)
	if err != nil {
		st.mu.Unlock()
		s.logger.Error("Failed to load business context",
			zap.String("workspace", dir),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrPersistenceFailed, err)
	}
	if bc == nil {
		bc = New()
	}
	st.bc = bc
	return st, nil
}

func (s *service) Ingest(ctx context.Context, workspaceDir, relationID string, schema *models.Schema) (*BusinessContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := s.lock(workspaceDir)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	changed := Merge(st.bc, relationID, schema, s.cfg)
	if changed {
		st.bc.UpdatedAt = s.now().UTC()
		s.logger.Debug("Ingested relation",
			zap.String("workspace", workspaceDir),
			zap.String("relation", relationID),
			zap.Int("entities", len(st.bc.Entities)),
			zap.Int("relationships", len(st.bc.Relationships)))
	}
	if !changed && !st.dirty {
		return st.bc.Clone(), nil
	}
	return st.bc.Clone(), s.persist(workspaceDir, st)
}

func (s *service) Get(ctx context.Context, workspaceDir string) (*BusinessContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := s.lock(workspaceDir)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()
	return st.bc.Clone(), nil
}

func (s *service) Reset(ctx context.Context, workspaceDir string) (*BusinessContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := s.lock(workspaceDir)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	st.bc = Rebuild(st.bc, s.cfg)
	st.bc.UpdatedAt = s.now().UTC()
	return st.bc.Clone(), s.persist(workspaceDir, st)
}

// ObserveSchema feeds materialized and attached relations into the
// context. Persistence failures are logged; the in-memory context keeps
// the update and the next ingestion retries the write.
func (s *service) ObserveSchema(ctx context.Context, workspace, relationID string, schema *models.Schema) {
	if _, err := s.Ingest(ctx, workspace, relationID, schema); err != nil {
		s.logger.Warn("Business context ingestion incomplete",
			zap.String("workspace", workspace),
			zap.String("relation", relationID),
			zap.Error(err))
	}
}

func (s *service) persist(workspaceDir string, st *workspaceState) error {
	if err := Save(workspaceDir, st.bc); err != nil {
		st.dirty = true
		return fmt.Errorf("%w: %w", apperrors.ErrPersistenceFailed, err)
	}
	st.dirty = false
	return nil
}
