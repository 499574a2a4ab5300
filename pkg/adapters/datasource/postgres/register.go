package postgres

import (
	"github.com/ekaya-inc/ekaya-analyst/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

func init() {
	datasource.Register(models.DatasourceTypePostgres, func(config map[string]any) (datasource.ForeignAdapter, error) {
		cfg, err := FromMap(config)
		if err != nil {
			return nil, err
		}
		return NewAdapter(cfg), nil
	})
}
