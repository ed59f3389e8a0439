package catalogdb

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/conductorone/catalog-sync/pkg/catalogstore"
)

const imagesTableVersion = "1"
const imagesTableName = "images"
const imagesTableSchema = `
create table if not exists %s (
    id integer primary key,
    source_url text not null,
    asset_id integer not null,
    created_at datetime not null
);
create unique index if not exists %s on %s (source_url);`

var images = (*imagesTable)(nil)

type imagesTable struct{}

func (r *imagesTable) Name() string {
	return fmt.Sprintf("v%s_%s", r.Version(), imagesTableName)
}

func (r *imagesTable) Version() string {
	return imagesTableVersion
}

func (r *imagesTable) Schema() (string, []interface{}) {
	return imagesTableSchema, []interface{}{
		r.Name(),
		fmt.Sprintf("idx_images_source_url_v%s", r.Version()),
		r.Name(),
	}
}

func (r *imagesTable) Migrations(ctx context.Context, db *goqu.Database) error {
	return nil
}

func (d *DB) GetImage(ctx context.Context, sourceURL string) (*catalogstore.ImageRecord, error) {
	ctx, span := tracer.Start(ctx, "DB.GetImage")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return nil, err
	}

	query, args, err := d.db.From(images.Name()).
		Select("source_url", "asset_id", "created_at").
		Where(goqu.C("source_url").Eq(sourceURL)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	var (
		rec       catalogstore.ImageRecord
		createdAt time.Time
	)
	err = d.db.QueryRowContext(ctx, query, args...).Scan(&rec.SourceURL, &rec.AssetID, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	rec.CreatedAt = createdAt
	return &rec, nil
}

func (d *DB) PutImage(ctx context.Context, rec *catalogstore.ImageRecord) error {
	ctx, span := tracer.Start(ctx, "DB.PutImage")
	defer span.End()

	if err := d.validateDb(ctx); err != nil {
		return err
	}

	q := d.db.Insert(images.Name()).Prepared(true)
	q = q.Rows(goqu.Record{
		"source_url": rec.SourceURL,
		"asset_id":   rec.AssetID,
		"created_at": d.timestamp(),
	})
	q = q.OnConflict(goqu.DoUpdate("source_url", goqu.C("asset_id").Set(goqu.I("EXCLUDED.asset_id"))))

	if _, err := d.exec(ctx, q); err != nil {
		return fmt.Errorf("catalogdb: storing image %s: %w", rec.SourceURL, err)
	}
	return nil
}
