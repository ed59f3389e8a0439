package catalogdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
	"github.com/conductorone/catalog-sync/pkg/document"
)

const categoriesTableVersion = "1"
const categoriesTableName = "categories"
const categoriesTableSchema = `
create table if not exists %s (
    id integer primary key,
    source_id integer not null,
    slug text not null,
    destination_id integer,
    parent_source_id integer,
    data blob not null,
    data_hash text not null default '',
    parent_linked integer not null default 0,
    stale integer not null default 0,
    created_at datetime not null,
    updated_at datetime not null
);
create unique index if not exists %s on %s (source_id);
create index if not exists %s on %s (destination_id);
create index if not exists %s on %s (parent_source_id, id);`

var categories = (*categoriesTable)(nil)

type categoriesTable struct{}

func (r *categoriesTable) Name() string {
	return fmt.Sprintf("v%s_%s", r.Version(), categoriesTableName)
}

func (r *categoriesTable) Version() string {
	return categoriesTableVersion
}

func (r *categoriesTable) Schema() (string, []interface{}) {
	return categoriesTableSchema, []interface{}{
		r.Name(),
		fmt.Sprintf("idx_categories_source_id_v%s", r.Version()),
		r.Name(),
		fmt.Sprintf("idx_categories_destination_id_v%s", r.Version()),
		r.Name(),
		fmt.Sprintf("idx_categories_parent_v%s", r.Version()),
		r.Name(),
	}
}

func (r *categoriesTable) Migrations(ctx context.Context, db *goqu.Database) error {
	return nil
}

var categoryColumns = []interface{}{
	"id", "source_id", "slug", "destination_id", "parent_source_id", "data", "data_hash",
	"parent_linked", "stale", "created_at", "updated_at",
}

func scanCategory(row interface{ Scan(...any) error }) (*catalogstore.CategoryRecord, error) {
	var (
		rec                  catalogstore.CategoryRecord
		destID, parentID     sql.NullInt64
		data                 []byte
		parentLinked, stale  int
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&rec.RowID, &rec.SourceID, &rec.Slug, &destID, &parentID, &data, &rec.PayloadHash,
		&parentLinked, &stale, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Payload, err = document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalogdb: category %d: %w", rec.SourceID, err)
	}
	rec.DestinationID = ptrInt64(destID)
	rec.ParentSourceID = ptrInt64(parentID)
	rec.ParentLinked = parentLinked != 0
	rec.Stale = stale != 0
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return &rec, nil
}

func (d *DB) UpsertCategory(ctx context.Context, rec *catalogstore.CategoryRecord) error {
	ctx, span := tracer.Start(ctx, "DB.UpsertCategory")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return err
	}

	data, err := rec.Payload.Marshal()
	if err != nil {
		return fmt.Errorf("catalogdb: encoding category %d: %w", rec.SourceID, err)
	}

	now := d.timestamp()
	q := d.db.Insert(categories.Name()).Prepared(true)
	q = q.Rows(goqu.Record{
		"source_id":        rec.SourceID,
		"slug":             rec.Slug,
		"destination_id":   nullable(rec.DestinationID),
		"parent_source_id": nullable(rec.ParentSourceID),
		"data":             data,
		"data_hash":        rec.PayloadHash,
		"parent_linked":    boolInt(rec.ParentLinked),
		"stale":            0,
		"created_at":       now,
		"updated_at":       now,
	})
	// SET expressions see the pre-update row, so the CASEs compare old values
	// against EXCLUDED.
	q = q.OnConflict(goqu.DoUpdate("source_id", goqu.Record{
		"slug":             goqu.I("EXCLUDED.slug"),
		"parent_source_id": goqu.I("EXCLUDED.parent_source_id"),
		"data":             goqu.I("EXCLUDED.data"),
		"data_hash":        goqu.I("EXCLUDED.data_hash"),
		"stale": goqu.L("CASE WHEN ?.destination_id IS NOT NULL AND ?.data_hash != EXCLUDED.data_hash THEN 1 ELSE ?.stale END",
			goqu.I(categories.Name()), goqu.I(categories.Name()), goqu.I(categories.Name())),
		"parent_linked": goqu.L("CASE WHEN ?.parent_source_id IS EXCLUDED.parent_source_id THEN ?.parent_linked ELSE 0 END",
			goqu.I(categories.Name()), goqu.I(categories.Name())),
		"updated_at": goqu.I("EXCLUDED.updated_at"),
	}))

	if _, err := d.exec(ctx, q); err != nil {
		return fmt.Errorf("catalogdb: upserting category %d: %w", rec.SourceID, err)
	}
	return nil
}

func (d *DB) GetCategory(ctx context.Context, sourceID int64) (*catalogstore.CategoryRecord, error) {
	ctx, span := tracer.Start(ctx, "DB.GetCategory")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}

	query, args, err := d.db.From(categories.Name()).
		Select(categoryColumns...).
		Where(goqu.C("source_id").Eq(sourceID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rec, err := scanCategory(d.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func (d *DB) ListUnmappedCategories(ctx context.Context) ([]*catalogstore.CategoryRecord, error) {
	ctx, span := tracer.Start(ctx, "DB.ListUnmappedCategories")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}

	// NULL sorts before any integer in sqlite, so top level categories come first.
	q := d.db.From(categories.Name()).
		Select(categoryColumns...).
		Where(goqu.C("destination_id").IsNull()).
		Order(goqu.C("parent_source_id").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	return d.queryCategories(ctx, q)
}

func (d *DB) ListStaleCategories(ctx context.Context) ([]*catalogstore.CategoryRecord, error) {
	ctx, span := tracer.Start(ctx, "DB.ListStaleCategories")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}

	q := d.db.From(categories.Name()).
		Select(categoryColumns...).
		Where(
			goqu.C("destination_id").IsNotNull(),
			goqu.C("stale").Eq(1),
		).
		Order(goqu.C("parent_source_id").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	return d.queryCategories(ctx, q)
}

func (d *DB) ListUnlinkedChildren(ctx context.Context) ([]*catalogstore.CategoryRecord, error) {
	ctx, span := tracer.Start(ctx, "DB.ListUnlinkedChildren")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}

	q := d.db.From(categories.Name()).
		Select(categoryColumns...).
		Where(
			goqu.C("destination_id").IsNotNull(),
			goqu.C("parent_source_id").IsNotNull(),
			goqu.C("parent_linked").Eq(0),
		).
		Order(goqu.C("parent_source_id").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	return d.queryCategories(ctx, q)
}

func (d *DB) SetCategoryDestination(ctx context.Context, sourceID int64, destinationID int64, parentLinked bool) error {
	ctx, span := tracer.Start(ctx, "DB.SetCategoryDestination")
	defer span.End()

	return d.updateCategory(ctx, sourceID, goqu.Record{
		"destination_id": destinationID,
		"parent_linked":  boolInt(parentLinked),
		"stale":          0,
	})
}

func (d *DB) SetCategoryParentLinked(ctx context.Context, sourceID int64) error {
	ctx, span := tracer.Start(ctx, "DB.SetCategoryParentLinked")
	defer span.End()

	return d.updateCategory(ctx, sourceID, goqu.Record{"parent_linked": 1})
}

func (d *DB) ClearCategoryStale(ctx context.Context, sourceID int64) error {
	ctx, span := tracer.Start(ctx, "DB.ClearCategoryStale")
	defer span.End()

	return d.updateCategory(ctx, sourceID, goqu.Record{"stale": 0})
}

func (d *DB) updateCategory(ctx context.Context, sourceID int64, set goqu.Record) error {
	if err := d.validateDb(ctx); err != nil {
		return err
	}

	set["updated_at"] = d.timestamp()
	q := d.db.Update(categories.Name()).
		Set(set).
		Where(goqu.C("source_id").Eq(sourceID)).
		Prepared(true)

	res, err := d.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("catalogdb: updating category %d: %w", sourceID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalogstore.ErrNotFound
	}
	return nil
}

func (d *DB) CategoryMapping(ctx context.Context) (map[int64]int64, error) {
	ctx, span := tracer.Start(ctx, "DB.CategoryMapping")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}

	query, args, err := d.db.From(categories.Name()).
		Select("source_id", "destination_id").
		Where(goqu.C("destination_id").IsNotNull()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[int64]int64)
	for rows.Next() {
		var src, dst int64
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, err
		}
		ret[src] = dst
	}
	return ret, rows.Err()
}

func (d *DB) CategorySourceIDs(ctx context.Context) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "DB.CategorySourceIDs")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}

	query, args, err := d.db.From(categories.Name()).
		Select("source_id").
		Order(goqu.C("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ret = append(ret, id)
	}
	return ret, rows.Err()
}

func (d *DB) CategoryCounts(ctx context.Context) (catalogstore.CategoryCounts, error) {
	ctx, span := tracer.Start(ctx, "DB.CategoryCounts")
	defer span.End()

	var ret catalogstore.CategoryCounts
	if err := d.validateDb(ctx); err != nil {
		return ret, err
	}

	query, args, err := d.db.From(categories.Name()).
		Select(
			goqu.COUNT("*"),
			goqu.COUNT(goqu.C("destination_id")),
			goqu.COALESCE(goqu.SUM(goqu.L("CASE WHEN destination_id IS NOT NULL AND parent_source_id IS NOT NULL AND parent_linked = 0 THEN 1 ELSE 0 END")), 0),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return ret, err
	}

	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&ret.Total, &ret.Mapped, &ret.UnlinkedParents); err != nil {
		return ret, err
	}
	ret.Unmapped = ret.Total - ret.Mapped
	return ret, nil
}

func (d *DB) queryCategories(ctx context.Context, q *goqu.SelectDataset) ([]*catalogstore.CategoryRecord, error) {
	query, args, err := q.ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []*catalogstore.CategoryRecord
	for rows.Next() {
		rec, err := scanCategory(rows)
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
