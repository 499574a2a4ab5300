package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/logging"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	sqlutil "github.com/ekaya-inc/ekaya-analyst/pkg/sql"
)

// MaxQueryLimit caps the rows returned by one query.
const MaxQueryLimit = 1000

// QueryRequest is a read-only query against a conversation instance.
// Parameters fill {{name}} placeholders of SQL.
type QueryRequest struct {
	ConversationID string
	Workspace      string
	SQL            string
	Parameters     map[string]any
	// Limit defaults to and is capped at MaxQueryLimit.
	Limit int
}

// QueryService runs agent queries on pooled instance connections.
type QueryService interface {
	RunQuery(ctx context.Context, req QueryRequest) (*models.QueryResult, error)
}

type queryService struct {
	manager *engine.Manager
	logger  *zap.Logger
}

// NewQueryService creates the query service.
func NewQueryService(manager *engine.Manager, logger *zap.Logger) QueryService {
	return &queryService{
		manager: manager,
		logger:  logger.Named("query"),
	}
}

func (s *queryService) RunQuery(ctx context.Context, req QueryRequest) (*models.QueryResult, error) {
	validated, err := sqlutil.ValidateAndNormalize(req.SQL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidQuery, err)
	}

	if hits := sqlutil.CheckAllParameters(req.Parameters); len(hits) > 0 {
		s.logger.Warn("Rejected query parameter",
			zap.String("param", hits[0].ParamName),
			zap.String("fingerprint", hits[0].Fingerprint))
		return nil, fmt.Errorf("%w: parameter %q looks like SQL injection", apperrors.ErrInvalidQuery, hits[0].ParamName)
	}

	query, args, err := sqlutil.BindParameters(validated.NormalizedSQL, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidQuery, err)
	}

	limit := req.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	if validated.Limitable() {
		// One extra row tells ScanRows the result was truncated.
		query = sqlutil.WrapWithLimit(query, limit+1)
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

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Debug("Query failed",
			zap.String("sql", logging.SanitizeQuery(query)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueryFailed, err)
	}
	defer rows.Close()

	result, err := engine.ScanRows(rows, limit)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Query executed",
		zap.String("key", key.String()),
		zap.Int("rows", result.RowCount),
		zap.Bool("truncated", result.Truncated))
	return result, nil
}
