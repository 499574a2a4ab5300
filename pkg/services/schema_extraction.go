package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/repositories"
)

// ExtractSchemaRequest asks for the catalog of one foreign datasource.
type ExtractSchemaRequest struct {
	ConversationID string
	Workspace      string
	DatasourceID   string
}

// SchemaExtractionService runs the schema extraction deferred at
// initialization time.
type SchemaExtractionService interface {
	ExtractDatasourceSchema(ctx context.Context, req ExtractSchemaRequest) (*AttachResult, error)
}

type schemaExtractionService struct {
	manager  *engine.Manager
	repo     repositories.DatasourceRepository
	attacher ForeignAttacher
	logger   *zap.Logger
}

// NewSchemaExtractionService creates the schema extraction service.
func NewSchemaExtractionService(
	manager *engine.Manager,
	repo repositories.DatasourceRepository,
	attacher ForeignAttacher,
	logger *zap.Logger,
) SchemaExtractionService {
	return &schemaExtractionService{
		manager:  manager,
		repo:     repo,
		attacher: attacher,
		logger:   logger.Named("schema-extraction"),
	}
}

// ExtractDatasourceSchema attaches the datasource when needed and
// introspects it. File datasources are rejected: their columns are read
// when they are materialized.
func (s *schemaExtractionService) ExtractDatasourceSchema(ctx context.Context, req ExtractSchemaRequest) (*AttachResult, error) {
	loaded := LoadDatasources(ctx, []string{req.DatasourceID}, s.repo)[0]
	if loaded.Err != nil {
		return nil, loaded.Err
	}
	ds := loaded.Datasource
	if ds.Type.Kind() != models.DatasourceKindForeign {
		return nil, fmt.Errorf("datasource %s has type %q: %w", ds.ID, ds.Type, apperrors.ErrUnsupportedDatasource)
	}

	key := engine.Key{Workspace: req.Workspace, ConversationID: req.ConversationID}
	if _, err := s.manager.GetInstance(ctx, key, true); err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	conn, err := s.manager.GetConnection(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer s.manager.ReturnConnection(key, conn)

	res, err := s.attacher.ExtractSchema(ctx, conn, ds)
	if err != nil {
		return res, err
	}

	s.logger.Info("Extracted datasource schema",
		zap.String("key", key.String()),
		zap.String("datasource_id", ds.ID),
		zap.Int("tables", len(res.Tables)))
	return res, nil
}
