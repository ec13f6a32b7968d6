package sequence

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/key"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

// MaxCounterSeeder seeds counters from the highest _counter stored in each
// table.
func MaxCounterSeeder(exec core.StatementExecutor, translator *schema.Translator) Seeder {
	return func(ctx context.Context, table string) (int64, error) {
		rows, err := exec.ExecuteQuery(ctx, translator.MaxCounter(table))
		if err != nil {
			return 0, err
		}
		defer rows.Close()

		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return 0, err
			}
			return 0, nil
		}
		raw, err := rows.GetObject(1)
		if err != nil {
			return 0, fmt.Errorf("failed to read max counter of %s: %w", table, err)
		}
		if raw == nil {
			return 0, nil
		}
		v, err := key.Normalize(raw, schema.PrimitiveLong)
		if err != nil {
			return 0, fmt.Errorf("max counter of %s: %w", table, err)
		}
		return v.(int64), nil
	}
}
