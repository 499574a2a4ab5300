package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/logging"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/repositories"
)

// InitializeRequest asks for datasources to be made queryable in a
// conversation instance.
type InitializeRequest struct {
	ConversationID string
	Workspace      string
	DatasourceIDs  []string
	// CheckedDatasourceIDs, when non-nil, restricts the batch to the ids
	// present in both lists.
	CheckedDatasourceIDs []string
}

// InitializerService brings a batch of datasources into an instance.
type InitializerService interface {
	// InitializeDatasources returns one result per attempted datasource in
	// request order. Per-datasource failures are reported in the results;
	// only instance or pool failures return an error.
	InitializeDatasources(ctx context.Context, req InitializeRequest) ([]models.InitializationResult, error)
}

type initializerService struct {
	manager      *engine.Manager
	repo         repositories.DatasourceRepository
	materializer ViewMaterializer
	attacher     ForeignAttacher
	maxParallel  int
	logger       *zap.Logger
}

// NewInitializerService creates the initializer. maxParallel bounds
// concurrent foreign attachments; zero means the instance pool size.
func NewInitializerService(
	manager *engine.Manager,
	repo repositories.DatasourceRepository,
	materializer ViewMaterializer,
	attacher ForeignAttacher,
	maxParallel int,
	logger *zap.Logger,
) InitializerService {
	return &initializerService{
		manager:      manager,
		repo:         repo,
		materializer: materializer,
		attacher:     attacher,
		maxParallel:  maxParallel,
		logger:       logger.Named("initializer"),
	}
}

func (s *initializerService) InitializeDatasources(ctx context.Context, req InitializeRequest) ([]models.InitializationResult, error) {
	ids := selectDatasourceIDs(req.DatasourceIDs, req.CheckedDatasourceIDs)
	if len(ids) == 0 {
		return []models.InitializationResult{}, nil
	}

	key := engine.Key{Workspace: req.Workspace, ConversationID: req.ConversationID}
	if _, err := s.manager.GetInstance(ctx, key, true); err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	// Work already started finishes even if the caller goes away.
	work := context.WithoutCancel(ctx)

	loaded := LoadDatasources(work, ids, s.repo)
	groups := GroupByType(loaded)

	results := make(map[string]models.InitializationResult, len(ids))
	var mu sync.Mutex
	record := func(r models.InitializationResult) {
		mu.Lock()
		results[r.DatasourceID] = r
		mu.Unlock()
	}

	for _, l := range groups.Failed {
		record(failure(l, l.Err))
	}

	if err := s.materializeNative(ctx, work, key, groups.Native, record); err != nil {
		return nil, err
	}
	s.attachForeign(ctx, work, key, groups.Foreign, record)

	ordered := make([]models.InitializationResult, 0, len(ids))
	succeeded := 0
	for _, id := range ids {
		r := results[id]
		if r.Success {
			succeeded++
		}
		ordered = append(ordered, r)
	}

	s.logger.Info("Initialized datasources",
		zap.String("key", key.String()),
		zap.Int("requested", len(ids)),
		zap.Int("succeeded", succeeded))

	return ordered, nil
}

// materializeNative runs native datasources one after another on a single
// borrowed connection.
func (s *initializerService) materializeNative(ctx, work context.Context, key engine.Key, native []LoadedDatasource, record func(models.InitializationResult)) error {
	if len(native) == 0 {
		return nil
	}

	conn, err := s.manager.GetConnection(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer s.manager.ReturnConnection(key, conn)

	for _, l := range native {
		if err := ctx.Err(); err != nil {
			record(failure(l, err))
			continue
		}

		res, err := s.materializer.Materialize(work, conn, l.Datasource)
		if err != nil {
			s.logger.Warn("Failed to materialize datasource",
				zap.String("datasource_id", l.ID),
				zap.String("error", logging.SanitizeError(err)))
			record(failure(l, err))
			continue
		}

		created := 0
		if res.Created {
			created = 1
		}
		record(models.InitializationResult{
			Success:        true,
			DatasourceID:   l.ID,
			DatasourceName: l.Name(),
			ViewsCreated:   created,
		})
	}
	return nil
}

// attachForeign attaches foreign datasources concurrently, each worker on
// its own connection. Schema extraction is deferred.
func (s *initializerService) attachForeign(ctx, work context.Context, key engine.Key, foreign []LoadedDatasource, record func(models.InitializationResult)) {
	if len(foreign) == 0 {
		return
	}

	limit := s.maxParallel
	if limit <= 0 {
		limit = s.manager.PoolMaxConns()
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, l := range foreign {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(failure(l, err))
				return nil
			}

			conn, err := s.manager.GetConnection(work, key)
			if err != nil {
				record(failure(l, err))
				return nil
			}
			defer s.manager.ReturnConnection(key, conn)

			res, err := s.attacher.Attach(work, conn, l.Datasource, false)
			if err != nil {
				s.logger.Warn("Failed to attach datasource",
					zap.String("datasource_id", l.ID),
					zap.String("error", logging.SanitizeError(err)))
				record(failure(l, err))
				return nil
			}

			record(models.InitializationResult{
				Success:        true,
				DatasourceID:   l.ID,
				DatasourceName: l.Name(),
				ViewsCreated:   len(res.Tables),
			})
			return nil
		})
	}
	_ = g.Wait()
}

func failure(l LoadedDatasource, err error) models.InitializationResult {
	return models.InitializationResult{
		DatasourceID:   l.ID,
		DatasourceName: l.Name(),
		Error:          logging.SanitizeError(err),
	}
}

// selectDatasourceIDs dedupes ids and, when checked is non-nil, keeps only
// the ids also present in checked.
func selectDatasourceIDs(ids, checked []string) []string {
	var allowed map[string]bool
	if checked != nil {
		allowed = make(map[string]bool, len(checked))
		for _, id := range checked {
			allowed[id] = true
		}
	}

	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] || (allowed != nil && !allowed[id]) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
