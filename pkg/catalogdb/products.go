package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
	"github.com/conductorone/catalog-sync/pkg/document"
)

const productsTableVersion = "1"
const productsTableName = "products"
const productsTableSchema = `
create table if not exists %s (
    id integer primary key,
    source_id integer not null,
    sku text,
    data blob not null,
    is_variable integer not null default 0,
    variations_obtained integer not null default 0,
    created_at datetime not null,
    updated_at datetime not null
);
create unique index if not exists %s on %s (source_id);
create index if not exists %s on %s (is_variable, variations_obtained, id);`

var products = (*productsTable)(nil)

type productsTable struct{}

func (r *productsTable) Name() string {
	return fmt.Sprintf("v%s_%s", r.Version(), productsTableName)
}

func (r *productsTable) Version() string {
	return productsTableVersion
}

func (r *productsTable) Schema() (string, []interface{}) {
	return productsTableSchema, []interface{}{
		r.Name(),
		fmt.Sprintf("idx_products_source_id_v%s", r.Version()),
		r.Name(),
		fmt.Sprintf("idx_products_pending_variations_v%s", r.Version()),
		r.Name(),
	}
}

func (r *productsTable) Migrations(ctx context.Context, db *goqu.Database) error {
	return nil
}

var productColumns = []interface{}{
	"id", "source_id", "sku", "data", "is_variable", "variations_obtained", "created_at", "updated_at",
}

func scanProduct(row interface{ Scan(...any) error }) (*catalogstore.ProductRecord, error) {
	var (
		rec                        catalogstore.ProductRecord
		sku                        sql.NullString
		data                       []byte
		isVariable, variationsDone int
		createdAt, updatedAt       time.Time
	)
	err := row.Scan(&rec.RowID, &rec.SourceID, &sku, &data, &isVariable, &variationsDone, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Payload, err = document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalogdb: product %d: %w", rec.SourceID, err)
	}
	if sku.Valid {
		s := sku.String
		rec.SKU = &s
	}
	rec.IsVariable = isVariable != 0
	rec.VariationsObtained = variationsDone != 0
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return &rec, nil
}

func (d *DB) UpsertProduct(ctx context.Context, rec *catalogstore.ProductRecord) error {
	ctx, span := tracer.Start(ctx, "DB.UpsertProduct")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return err
	}

	data, err := rec.Payload.Marshal()
	if err != nil {
		return fmt.Errorf("catalogdb: encoding product %d: %w", rec.SourceID, err)
	}

	var sku interface{}
	if rec.SKU != nil {
		sku = *rec.SKU
	}

	now := d.timestamp()
	q := d.db.Insert(products.Name()).Prepared(true)
	q = q.Rows(goqu.Record{
		"source_id":           rec.SourceID,
		"sku":                 sku,
		"data":                data,
		"is_variable":         boolInt(rec.IsVariable),
		"variations_obtained": boolInt(rec.VariationsObtained),
		"created_at":          now,
		"updated_at":          now,
	})
	q = q.OnConflict(goqu.DoUpdate("source_id", goqu.Record{
		"sku":                 goqu.I("EXCLUDED.sku"),
		"data":                goqu.I("EXCLUDED.data"),
		"is_variable":         goqu.I("EXCLUDED.is_variable"),
		"variations_obtained": goqu.I("EXCLUDED.variations_obtained"),
		"updated_at":          goqu.I("EXCLUDED.updated_at"),
	}))

	if _, err := d.exec(ctx, q); err != nil {
		return fmt.Errorf("catalogdb: upserting product %d: %w", rec.SourceID, err)
	}
	return nil
}

func (d *DB) GetProduct(ctx context.Context, sourceID int64) (*catalogstore.ProductRecord, error) {
	ctx, span := tracer.Start(ctx, "DB.GetProduct")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}

	query, args, err := d.db.From(products.Name()).
		Select(productColumns...).
		Where(goqu.C("source_id").Eq(sourceID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rec, err := scanProduct(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func (d *DB) CountProducts(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "DB.CountProducts")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return 0, err
	}
	return d.count(ctx, products.Name())
}

func (d *DB) ProductCounts(ctx context.Context) (catalogstore.ProductCounts, error) {
	ctx, span := tracer.Start(ctx, "DB.ProductCounts")
	defer span.End()

	var ret catalogstore.ProductCounts
	if err := d.validateDb(ctx); err != nil {
		return ret, err
	}

	query, args, err := d.db.From(products.Name()).
		Select(
			goqu.COUNT("*"),
			goqu.COALESCE(goqu.SUM(goqu.C("is_variable")), 0),
			goqu.COALESCE(goqu.SUM(goqu.L("CASE WHEN is_variable = 1 AND variations_obtained = 1 THEN 1 ELSE 0 END")), 0),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return ret, err
	}

	err = d.db.QueryRowContext(ctx, query, args...).Scan(&ret.Total, &ret.Variable, &ret.VariationsObtained)
	return ret, err
}

func (d *DB) pendingVariableQuery() *goqu.SelectDataset {
	return d.db.From(products.Name()).
		Where(
			goqu.C("is_variable").Eq(1),
			goqu.C("variations_obtained").Eq(0),
		).
		Order(goqu.C("id").Asc()).
		Prepared(true)
}

func (d *DB) ListPendingVariableProducts(ctx context.Context, limit int) ([]*catalogstore.ProductRecord, error) {
	ctx, span := tracer.Start(ctx, "DB.ListPendingVariableProducts")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	return d.queryProducts(ctx, d.pendingVariableQuery().Select(productColumns...).Limit(uint(limit)))
}

func (d *DB) HasPendingVariableProducts(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "DB.HasPendingVariableProducts")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return false, err
	}

	query, args, err := d.pendingVariableQuery().Select(goqu.C("id")).Limit(1).ToSQL()
	if err != nil {
		return false, err
	}

	var id int64
	err = d.db.QueryRowContext(ctx, query, args...).Scan(&id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}

func (d *DB) MarkVariationsObtained(ctx context.Context, sourceID int64, payload document.Document) error {
	ctx, span := tracer.Start(ctx, "DB.MarkVariationsObtained")
	defer span.End()

	return d.updateProduct(ctx, sourceID, payload, goqu.Record{"variations_obtained": 1})
}

func (d *DB) UpdateProductPayload(ctx context.Context, sourceID int64, payload document.Document) error {
	ctx, span := tracer.Start(ctx, "DB.UpdateProductPayload")
	defer span.End()

	return d.updateProduct(ctx, sourceID, payload, nil)
}

func (d *DB) updateProduct(ctx context.Context, sourceID int64, payload document.Document, extra goqu.Record) error {
	if err := d.validateDb(ctx); err != nil {
		return err
	}

	data, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("catalogdb: encoding product %d: %w", sourceID, err)
	}

	set := goqu.Record{
		"data":       data,
		"updated_at": d.timestamp(),
	}
	for k, v := range extra {
		set[k] = v
	}

	q := d.db.Update(products.Name()).
		Set(set).
		Where(goqu.C("source_id").Eq(sourceID)).
		Prepared(true)

	res, err := d.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("catalogdb: updating product %d: %w", sourceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalogstore.ErrNotFound
	}
	return nil
}

func (d *DB) ListProducts(ctx context.Context, afterRowID int64, limit int) ([]*catalogstore.ProductRecord, error) {
	ctx, span := tracer.Start(ctx, "DB.ListProducts")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	q := d.db.From(products.Name()).
		Select(productColumns...).
		Where(goqu.C("id").Gt(afterRowID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		Prepared(true)

	return d.queryProducts(ctx, q)
}

func (d *DB) queryProducts(ctx context.Context, q *goqu.SelectDataset) ([]*catalogstore.ProductRecord, error) {
	query, args, err := q.ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []*catalogstore.ProductRecord
	for rows.Next() {
		rec, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ret, nil
}
