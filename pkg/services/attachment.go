package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/config"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/logging"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/retry"
)

// AttachResult describes an attached foreign database.
type AttachResult struct {
	Alias  string
	Tables []models.TableRef
	// Skipped is true when the database was already attached.
	Skipped bool
	// Schema is set when columns were extracted by this call.
	Schema *models.Schema
}

// ForeignAttacher attaches external databases to instances by reference.
type ForeignAttacher interface {
	// Attach attaches ds under its alias. With extractSchema=false no
	// catalog introspection happens and Tables is empty. Failures wrap
	// apperrors.ErrAttachmentFailed; introspection failures after a
	// successful attach wrap apperrors.ErrIntrospectionFailed and keep
	// the attachment.
	Attach(ctx context.Context, conn *engine.Conn, ds *models.Datasource, extractSchema bool) (*AttachResult, error)

	// ExtractSchema attaches ds if needed and introspects its tables.
	ExtractSchema(ctx context.Context, conn *engine.Conn, ds *models.Datasource) (*AttachResult, error)
}

type foreignAttacher struct {
	cfg      config.ForeignConfig
	retryCfg *retry.Config
	observer SchemaObserver
	logger   *zap.Logger
}

// NewForeignAttacher creates an attacher. observer may be nil.
func NewForeignAttacher(cfg config.ForeignConfig, observer SchemaObserver, logger *zap.Logger) ForeignAttacher {
	return &foreignAttacher{
		cfg:      cfg,
		retryCfg: retry.DefaultConfig(),
		observer: observer,
		logger:   logger.Named("attachment"),
	}
}

func (a *foreignAttacher) ExtractSchema(ctx context.Context, conn *engine.Conn, ds *models.Datasource) (*AttachResult, error) {
	return a.Attach(ctx, conn, ds, true)
}

func (a *foreignAttacher) Attach(ctx context.Context, conn *engine.Conn, ds *models.Datasource, extractSchema bool) (*AttachResult, error) {
	inst := conn.Instance()
	unlock := inst.LockDatasource(ds.ID)
	defer unlock()

	if existing, ok := inst.Attached(ds.ID); ok {
		result := &AttachResult{Alias: existing.Alias, Tables: existing.Tables, Skipped: true}
		if !extractSchema || existing.SchemaExtracted {
			return result, nil
		}
		return a.introspect(ctx, conn, ds, result)
	}

	alias := AliasFor(ds.ID)
	adapter, err := a.adapterFor(inst, ds)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w: %w", ds.ID, apperrors.ErrAttachmentFailed, err)
	}

	if a.cfg.Preflight {
		if err := a.preflight(ctx, adapter); err != nil {
			return nil, fmt.Errorf("attach %s: %w: preflight: %w", ds.ID, apperrors.ErrAttachmentFailed, err)
		}
	}

	if ext := adapter.Extension(); ext != "" {
		for _, stmt := range []string{"INSTALL " + ext, "LOAD " + ext} {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return nil, fmt.Errorf("attach %s: %w: %s: %w", ds.ID, apperrors.ErrAttachmentFailed, stmt, err)
			}
		}
	}

	if _, err := conn.ExecContext(ctx, attachStatement(alias, adapter)); err != nil {
		return nil, fmt.Errorf("attach %s: %w: %s", ds.ID, apperrors.ErrAttachmentFailed, logging.SanitizeError(err))
	}

	if err := inst.RegisterAttached(engine.AttachedDatabase{DatasourceID: ds.ID, Alias: alias}); err != nil {
		if _, detachErr := conn.ExecContext(ctx, "DETACH "+engine.QuoteIdentifier(alias)); detachErr != nil {
			a.logger.Warn("Failed to detach conflicting alias", zap.String("alias", alias), zap.Error(detachErr))
		}
		return nil, fmt.Errorf("attach %s: %w: %w", ds.ID, apperrors.ErrAttachmentFailed, err)
	}

	a.logger.Info("Attached foreign datasource",
		zap.String("instance_id", inst.ID()),
		zap.String("datasource_id", ds.ID),
		zap.String("type", string(ds.Type)),
		zap.String("alias", alias),
		zap.String("target", logging.SanitizeConnectionString(adapter.AttachTarget())))

	result := &AttachResult{Alias: alias, Tables: []models.TableRef{}}
	if !extractSchema {
		return result, nil
	}
	return a.introspect(ctx, conn, ds, result)
}

// adapterFor builds the adapter, resolving a relative file path against
// the workspace.
func (a *foreignAttacher) adapterFor(inst *engine.Instance, ds *models.Datasource) (datasource.ForeignAdapter, error) {
	factory, ok := datasource.Lookup(ds.Type)
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %q", apperrors.ErrUnsupportedDatasource, ds.Type)
	}

	cfg := make(map[string]any, len(ds.Config))
	for k, v := range ds.Config {
		cfg[k] = v
	}
	if p, ok := cfg["path"].(string); ok {
		cfg["path"] = resolvePath(inst.Key().Workspace, p)
	}
	return factory(cfg)
}

func (a *foreignAttacher) preflight(ctx context.Context, adapter datasource.ForeignAdapter) error {
	if a.cfg.PreflightTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.PreflightTimeout)
		defer cancel()
	}
	return retry.DoIfRetryable(ctx, a.retryCfg, func() error {
		return adapter.TestConnection(ctx)
	})
}

func attachStatement(alias string, adapter datasource.ForeignAdapter) string {
	opts := []string{}
	if t := adapter.AttachType(); t != "" {
		opts = append(opts, "TYPE "+t)
	}
	opts = append(opts, "READ_ONLY")
	return fmt.Sprintf("ATTACH %s AS %s (%s)",
		engine.QuoteLiteral(adapter.AttachTarget()), engine.QuoteIdentifier(alias), strings.Join(opts, ", "))
}

const attachedColumnsQuery = `
SELECT table_schema, table_name, column_name, data_type
FROM information_schema.columns
WHERE table_catalog = ?
ORDER BY table_schema, table_name, ordinal_position`

// introspect reads the tables and columns of an attached database, records
// them on the instance and emits the schema.
func (a *foreignAttacher) introspect(ctx context.Context, conn *engine.Conn, ds *models.Datasource, result *AttachResult) (*AttachResult, error) {
	schema, err := extractAttachedSchema(ctx, conn, result.Alias)
	if err != nil {
		return result, fmt.Errorf("extract schema of %s: %w: %w", ds.ID, apperrors.ErrIntrospectionFailed, err)
	}

	tables := make([]models.TableRef, len(schema.Tables))
	for i, t := range schema.Tables {
		tables[i] = models.TableRef{Schema: t.Schema, Name: t.Name}
	}

	inst := conn.Instance()
	if err := inst.RegisterAttached(engine.AttachedDatabase{
		DatasourceID:    ds.ID,
		Alias:           result.Alias,
		Tables:          tables,
		SchemaExtracted: true,
	}); err != nil {
		return result, fmt.Errorf("extract schema of %s: %w", ds.ID, err)
	}

	schema.DatasourceID = ds.ID
	result.Tables = tables
	result.Schema = schema

	a.logger.Info("Extracted foreign schema",
		zap.String("datasource_id", ds.ID),
		zap.String("alias", result.Alias),
		zap.Int("tables", len(tables)))

	if a.observer != nil && len(schema.Tables) > 0 {
		a.observer.ObserveSchema(ctx, inst.Key().Workspace, result.Alias, schema)
	}
	return result, nil
}

func extractAttachedSchema(ctx context.Context, conn *engine.Conn, alias string) (*models.Schema, error) {
	rows, err := conn.QueryContext(ctx, attachedColumnsQuery, alias)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schema := &models.Schema{DatabaseName: alias, Tables: []models.SchemaTable{}}
	for rows.Next() {
		var schemaName, tableName string
		var col models.SchemaColumn
		if err := rows.Scan(&schemaName, &tableName, &col.Name, &col.Type); err != nil {
			return nil, err
		}
		n := len(schema.Tables)
		if n == 0 || schema.Tables[n-1].Schema != schemaName || schema.Tables[n-1].Name != tableName {
			schema.Tables = append(schema.Tables, models.SchemaTable{Schema: schemaName, Name: tableName})
			n++
		}
		schema.Tables[n-1].Columns = append(schema.Tables[n-1].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schema, nil
}
