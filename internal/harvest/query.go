package harvest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
)

// Query returns stored rows of the configured table matching every equality
// filter. A limit <= 0 returns every match.
func Query(ctx context.Context, a *app.App, filters map[string]any, limit int) ([]map[string]any, error) {
	rows, err := a.Store.Select(ctx, a.Schema.Table, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", a.Schema.Table, err)
	}
	a.Logger.Debug("query finished", zap.Int("rows", len(rows)), zap.Any("filters", filters))
	return rows, nil
}
