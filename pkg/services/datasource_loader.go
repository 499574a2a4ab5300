package services

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/repositories"
)

// LoadedDatasource is the outcome of loading one requested id. Exactly one
// of Datasource and Err is set.
type LoadedDatasource struct {
	ID         string
	Datasource *models.Datasource
	Err        error
}

// Name returns the datasource name, or "" when loading failed.
func (l LoadedDatasource) Name() string {
	if l.Datasource == nil {
		return ""
	}
	return l.Datasource.Name
}

// GroupedDatasources partitions a loaded batch by how it is brought into
// an instance.
type GroupedDatasources struct {
	Native  []LoadedDatasource
	Foreign []LoadedDatasource
	Failed  []LoadedDatasource
}

// LoadDatasources fetches ids from repo, preserving input order. Unknown
// ids become per-id ErrNotFound failures. A repository error is recorded
// against every id of the batch.
func LoadDatasources(ctx context.Context, ids []string, repo repositories.DatasourceRepository) []LoadedDatasource {
	loaded := make([]LoadedDatasource, len(ids))
	for i, id := range ids {
		loaded[i].ID = id
	}
	if len(ids) == 0 {
		return loaded
	}

	records, err := repo.FetchByIDs(ctx, ids)
	if err != nil {
		for i := range loaded {
			loaded[i].Err = fmt.Errorf("failed to load datasource %s: %w", loaded[i].ID, err)
		}
		return loaded
	}

	byID := make(map[string]*models.Datasource, len(records))
	for _, ds := range records {
		if ds != nil {
			byID[ds.ID] = ds
		}
	}
	for i := range loaded {
		if ds, ok := byID[loaded[i].ID]; ok {
			loaded[i].Datasource = ds
		} else {
			loaded[i].Err = fmt.Errorf("datasource %s: %w", loaded[i].ID, apperrors.ErrNotFound)
		}
	}
	return loaded
}

// GroupByType splits loaded datasources into native, foreign and failed.
// It has no side effects; order within each group follows the input.
func GroupByType(loaded []LoadedDatasource) GroupedDatasources {
	var g GroupedDatasources
	for _, l := range loaded {
		if l.Err != nil {
			g.Failed = append(g.Failed, l)
			continue
		}
		switch l.Datasource.Type.Kind() {
		case models.DatasourceKindNative:
			g.Native = append(g.Native, l)
		case models.DatasourceKindForeign:
			g.Foreign = append(g.Foreign, l)
		default:
			l.Err = fmt.Errorf("datasource %s has type %q: %w", l.ID, l.Datasource.Type, apperrors.ErrUnsupportedDatasource)
			g.Failed = append(g.Failed, l)
		}
	}
	return g
}

var nonIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)

// sanitizeIdentifier lowercases s and folds every run of characters
// outside [a-z0-9_] into a single underscore.
func sanitizeIdentifier(s string) string {
	s = nonIdentChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	return strings.Trim(s, "_")
}

// shortID is the suffix used to disambiguate names derived from an id.
func shortID(id string) string {
	s := sanitizeIdentifier(id)
	s = strings.ReplaceAll(s, "_", "")
	if len(s) > 8 {
		s = s[:8]
	}
	if s == "" {
		s = "x"
	}
	return s
}

// viewBaseName is the preferred view name of a native datasource.
func viewBaseName(ds *models.Datasource) string {
	name := sanitizeIdentifier(ds.Name)
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		return "ds_" + shortID(ds.ID)
	}
	return name
}

// AliasFor is the ATTACH alias of a foreign datasource.
func AliasFor(datasourceID string) string {
	s := sanitizeIdentifier(datasourceID)
	if s == "" {
		s = "x"
	}
	return "ds_" + s
}

// resolvePath makes a relative datasource path relative to the workspace.
// URLs and absolute paths are returned unchanged.
func resolvePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(workspace, p)
}
