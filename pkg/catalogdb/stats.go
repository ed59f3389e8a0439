package catalogdb

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
)

// Reset truncates the product and category tables.
func (d *DB) Reset(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "DB.Reset")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, table := range []string{products.Name(), categories.Name()} {
		query, args, err := tx.Delete(table).Prepared(true).ToSQL()
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalogdb: clearing %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	ctxzap.Extract(ctx).Info("catalog store reset")
	return nil
}

func (d *DB) IdentityStats(ctx context.Context) (catalogstore.IdentityStats, error) {
	ctx, span := tracer.Start(ctx, "DB.IdentityStats")
	defer span.End()

	var ret catalogstore.IdentityStats
	if err := d.validateDb(ctx); err != nil {
		return ret, err
	}

	queries := []struct {
		table string
		cols  []interface{}
		dest  []interface{}
	}{
		{
			table: products.Name(),
			cols:  []interface{}{goqu.COUNT("*"), goqu.COUNT(goqu.DISTINCT("source_id"))},
			dest:  []interface{}{&ret.ProductRows, &ret.DistinctProductIDs},
		},
		{
			table: categories.Name(),
			cols: []interface{}{
				goqu.COUNT("*"),
				goqu.COUNT(goqu.DISTINCT("source_id")),
				goqu.COUNT(goqu.C("destination_id")),
				goqu.COUNT(goqu.DISTINCT("destination_id")),
			},
			dest: []interface{}{&ret.CategoryRows, &ret.DistinctCategoryIDs, &ret.MappedDestinationIDs, &ret.DistinctDestinations},
		},
		{
			table: images.Name(),
			cols:  []interface{}{goqu.COUNT("*")},
			dest:  []interface{}{&ret.ImageRows},
		},
	}

	for _, q := range queries {
		query, args, err := d.db.From(q.table).Select(q.cols...).Prepared(true).ToSQL()
		if err != nil {
			return ret, err
		}
		if err := d.db.QueryRowContext(ctx, query, args...).Scan(q.dest...); err != nil {
			return ret, fmt.Errorf("catalogdb: stats for %s: %w", q.table, err)
		}
	}

	return ret, nil
}
