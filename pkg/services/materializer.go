package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/engine"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/retry"
)

// SchemaObserver receives the column snapshot of every relation brought
// into an instance. The business context service implements it.
type SchemaObserver interface {
	ObserveSchema(ctx context.Context, workspace, relationID string, schema *models.Schema)
}

// MaterializeResult describes the view of a native datasource.
type MaterializeResult struct {
	ViewName string
	// Created is false when the datasource was already materialized.
	Created bool
	// Schema is nil when nothing was created.
	Schema *models.Schema
}

// ViewMaterializer turns native datasources into queryable relations.
type ViewMaterializer interface {
	// Materialize creates the view for ds on the instance owning conn, or
	// returns the existing one. Failures wrap apperrors.ErrMaterializationFailed.
	Materialize(ctx context.Context, conn *engine.Conn, ds *models.Datasource) (*MaterializeResult, error)
}

// nativeSourceConfig is the config map of a native datasource.
type nativeSourceConfig struct {
	Path          string `mapstructure:"path"`
	URL           string `mapstructure:"url"`
	SpreadsheetID string `mapstructure:"spreadsheet_id"`
	GID           string `mapstructure:"gid"`
	Sheet         string `mapstructure:"sheet"`
	Header        *bool  `mapstructure:"header"`
	Delimiter     string `mapstructure:"delimiter"`
}

type viewMaterializer struct {
	httpClient *http.Client
	retryCfg   *retry.Config
	observer   SchemaObserver
	logger     *zap.Logger
}

// NewViewMaterializer creates a materializer. observer may be nil.
func NewViewMaterializer(httpClient *http.Client, observer SchemaObserver, logger *zap.Logger) ViewMaterializer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &viewMaterializer{
		httpClient: httpClient,
		retryCfg:   retry.DefaultConfig(),
		observer:   observer,
		logger:     logger.Named("materializer"),
	}
}

func (m *viewMaterializer) Materialize(ctx context.Context, conn *engine.Conn, ds *models.Datasource) (*MaterializeResult, error) {
	inst := conn.Instance()
	unlock := inst.LockDatasource(ds.ID)
	defer unlock()

	name, registered := inst.ReserveView(ds.ID, viewBaseName(ds), shortID(ds.ID))
	if registered {
		m.logger.Debug("Datasource already materialized",
			zap.String("datasource_id", ds.ID),
			zap.String("view", name))
		return &MaterializeResult{ViewName: name}, nil
	}

	committed := false
	defer func() {
		if !committed {
			inst.ReleaseView(ds.ID)
		}
	}()

	stmt, err := m.buildStatement(ctx, inst, ds, name)
	if err != nil {
		return nil, fmt.Errorf("materialize %s (%s): %w: %w", ds.ID, ds.Type, apperrors.ErrMaterializationFailed, err)
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return nil, fmt.Errorf("materialize %s (%s): %w: %w", ds.ID, ds.Type, apperrors.ErrMaterializationFailed, err)
	}

	schema, err := describeRelation(ctx, conn, name)
	if err != nil {
		return nil, fmt.Errorf("materialize %s (%s): %w: %w", ds.ID, ds.Type, apperrors.ErrMaterializationFailed, err)
	}

	schema.DatasourceID = ds.ID

	if err := engine.RecordView(ctx, conn, ds.ID, name); err != nil {
		return nil, fmt.Errorf("materialize %s (%s): %w: %w", ds.ID, ds.Type, apperrors.ErrMaterializationFailed, err)
	}
	inst.CommitView(ds.ID)
	committed = true

	m.logger.Info("Materialized datasource",
		zap.String("instance_id", inst.ID()),
		zap.String("datasource_id", ds.ID),
		zap.String("type", string(ds.Type)),
		zap.String("view", name),
		zap.Int("columns", len(schema.Tables[0].Columns)))

	if m.observer != nil {
		m.observer.ObserveSchema(ctx, inst.Key().Workspace, name, schema)
	}
	return &MaterializeResult{ViewName: name, Created: true, Schema: schema}, nil
}

// buildStatement returns the CREATE statement for the datasource, fetching
// or converting the source into the instance data directory when the
// engine cannot read it directly.
func (m *viewMaterializer) buildStatement(ctx context.Context, inst *engine.Instance, ds *models.Datasource, name string) (string, error) {
	var cfg nativeSourceConfig
	if err := datasource.DecodeConfig(ds.Config, &cfg); err != nil {
		return "", err
	}
	workspace := inst.Key().Workspace
	ident := engine.QuoteIdentifier(name)

	switch ds.Type {
	case models.DatasourceTypeCSV:
		path := resolvePath(workspace, cfg.Path)
		if err := checkLocalSource(path); err != nil {
			return "", err
		}
		return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_csv_auto(%s%s)", ident, engine.QuoteLiteral(path), csvOptions(cfg)), nil

	case models.DatasourceTypeJSON:
		path := resolvePath(workspace, cfg.Path)
		if err := checkLocalSource(path); err != nil {
			return "", err
		}
		return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_json_auto(%s)", ident, engine.QuoteLiteral(path)), nil

	case models.DatasourceTypeParquet:
		path := resolvePath(workspace, cfg.Path)
		if err := checkLocalSource(path); err != nil {
			return "", err
		}
		return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)", ident, engine.QuoteLiteral(path)), nil

	case models.DatasourceTypeGSheetCSV:
		url, err := sheetExportURL(cfg)
		if err != nil {
			return "", err
		}
		data, err := m.fetchSheet(ctx, url)
		if err != nil {
			return "", err
		}
		snapshot, err := writeSnapshot(inst.DataDir(), name, data)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true)", ident, engine.QuoteLiteral(snapshot)), nil

	case models.DatasourceTypeXLSX:
		path := resolvePath(workspace, cfg.Path)
		if err := checkLocalSource(path); err != nil {
			return "", err
		}
		data, err := convertWorkbookSheet(path, cfg.Sheet)
		if err != nil {
			return "", err
		}
		snapshot, err := writeSnapshot(inst.DataDir(), name, data)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true, null_padding=true)", ident, engine.QuoteLiteral(snapshot)), nil
	}

	return "", fmt.Errorf("%w: %s", apperrors.ErrUnsupportedDatasource, ds.Type)
}

func csvOptions(cfg nativeSourceConfig) string {
	header := true
	if cfg.Header != nil {
		header = *cfg.Header
	}
	opts := fmt.Sprintf(", header=%t", header)
	if cfg.Delimiter != "" {
		opts += ", delim=" + engine.QuoteLiteral(cfg.Delimiter)
	}
	return opts
}

// checkLocalSource fails early for a missing file. Globs and URLs are left
// to the engine.
func checkLocalSource(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if strings.Contains(path, "://") || strings.ContainsAny(path, "*?[") {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("source file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source file %s is a directory", path)
	}
	return nil
}

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// sheetExportURL returns the CSV export URL of a published Google Sheet.
// A configured export URL is used as is; an editor URL is rewritten.
func sheetExportURL(cfg nativeSourceConfig) (string, error) {
	id := cfg.SpreadsheetID
	if cfg.URL != "" {
		if strings.Contains(cfg.URL, "/export") || strings.Contains(cfg.URL, "output=csv") {
			return cfg.URL, nil
		}
		match := spreadsheetIDPattern.FindStringSubmatch(cfg.URL)
		if match == nil {
			return cfg.URL, nil
		}
		id = match[1]
	}
	if id == "" {
		return "", fmt.Errorf("url or spreadsheet_id is required")
	}
	url := "https://docs.google.com/spreadsheets/d/" + id + "/export?format=csv"
	if cfg.GID != "" {
		url += "&gid=" + cfg.GID
	}
	return url, nil
}

func (m *viewMaterializer) fetchSheet(ctx context.Context, url string) ([]byte, error) {
	return retry.DoWithResultIfRetryable(ctx, m.retryCfg, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := m.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &retry.StatusError{StatusCode: resp.StatusCode, URL: url}
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, fmt.Errorf("sheet export is empty")
		}
		return data, nil
	})
}

// convertWorkbookSheet renders one sheet of a workbook as CSV. An empty
// sheet name selects the first sheet.
func convertWorkbookSheet(path, sheet string) ([]byte, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("convert sheet %q: %w", sheet, err)
	}
	return buf.Bytes(), nil
}

// writeSnapshot atomically writes data to <dir>/<name>.csv.
func writeSnapshot(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	path := filepath.Join(dir, name+".csv")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

const describeRelationQuery = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_catalog = current_database() AND table_schema = 'main' AND table_name = ?
ORDER BY ordinal_position`

// describeRelation reads the columns of a local relation.
func describeRelation(ctx context.Context, conn *engine.Conn, name string) (*models.Schema, error) {
	rows, err := conn.QueryContext(ctx, describeRelationQuery, name)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}
	defer rows.Close()

	table := models.SchemaTable{Name: name, Columns: []models.SchemaColumn{}}
	for rows.Next() {
		var col models.SchemaColumn
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("describe %s: %w", name, err)
		}
		table.Columns = append(table.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("describe %s: %w", name, sql.ErrNoRows)
	}

	return &models.Schema{SchemaName: "main", Tables: []models.SchemaTable{table}}, nil
}
