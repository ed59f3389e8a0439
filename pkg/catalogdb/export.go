package catalogdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/document"
)

const exportPageSize = 500

// ExportRecord is one line of a snapshot.
type ExportRecord struct {
	Kind               string            `json:"kind"`
	SourceID           int64             `json:"source_id,omitempty"`
	SKU                *string           `json:"sku,omitempty"`
	Slug               string            `json:"slug,omitempty"`
	DestinationID      *int64            `json:"destination_id,omitempty"`
	ParentSourceID     *int64            `json:"parent_source_id,omitempty"`
	IsVariable         bool              `json:"is_variable,omitempty"`
	VariationsObtained bool              `json:"variations_obtained,omitempty"`
	SourceURL          string            `json:"source_url,omitempty"`
	AssetID            int64             `json:"asset_id,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Payload            document.Document `json:"payload,omitempty"`
}

type ExportStats struct {
	Products   int
	Categories int
	Images     int
}

// Export writes every stored record to w as zstd compressed newline delimited JSON.
func (d *DB) Export(ctx context.Context, w io.Writer) (ExportStats, error) {
	ctx, span := tracer.Start(ctx, "DB.Export")
	defer span.End()

	var stats ExportStats
	if err := d.validateDb(ctx); err != nil {
		return stats, err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return stats, err
	}
	lines := json.NewEncoder(enc)

	var after int64
	for {
		page, err := d.ListProducts(ctx, after, exportPageSize)
		if err != nil {
			_ = enc.Close()
			return stats, err
		}
		for _, p := range page {
			err := lines.Encode(ExportRecord{
				Kind:               "product",
				SourceID:           p.SourceID,
				SKU:                p.SKU,
				IsVariable:         p.IsVariable,
				VariationsObtained: p.VariationsObtained,
				UpdatedAt:          p.UpdatedAt,
				Payload:            p.Payload,
			})
			if err != nil {
				_ = enc.Close()
				return stats, err
			}
			stats.Products++
			after = p.RowID
		}
		if len(page) < exportPageSize {
			break
		}
	}

	cats, err := d.queryCategories(ctx, d.db.From(categories.Name()).
		Select(categoryColumns...).
		Order(goqu.C("id").Asc()).
		Prepared(true))
	if err != nil {
		_ = enc.Close()
		return stats, err
	}
	for _, c := range cats {
		err := lines.Encode(ExportRecord{
			Kind:           "category",
			SourceID:       c.SourceID,
			Slug:           c.Slug,
			DestinationID:  c.DestinationID,
			ParentSourceID: c.ParentSourceID,
			UpdatedAt:      c.UpdatedAt,
			Payload:        c.Payload,
		})
		if err != nil {
			_ = enc.Close()
			return stats, err
		}
		stats.Categories++
	}

	if err := d.exportImages(ctx, lines, &stats); err != nil {
		_ = enc.Close()
		return stats, err
	}

	if err := enc.Close(); err != nil {
		return stats, fmt.Errorf("catalogdb: finishing export: %w", err)
	}

	ctxzap.Extract(ctx).Info("catalog exported",
		zap.Int("products", stats.Products),
		zap.Int("categories", stats.Categories),
		zap.Int("images", stats.Images),
	)
	return stats, nil
}

func (d *DB) exportImages(ctx context.Context, lines *json.Encoder, stats *ExportStats) error {
	query, args, err := d.db.From(images.Name()).
		Select("source_url", "asset_id", "created_at").
		Order(goqu.C("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	var records []ExportRecord
	for rows.Next() {
		rec := ExportRecord{Kind: "image"}
		if err := rows.Scan(&rec.SourceURL, &rec.AssetID, &rec.UpdatedAt); err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rec := range records {
		if err := lines.Encode(rec); err != nil {
			return err
		}
		stats.Images++
	}
	return nil
}

// ReadExport decodes a snapshot written by Export.
func ReadExport(r io.Reader) ([]ExportRecord, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var ret []ExportRecord
	lines := json.NewDecoder(dec)
	lines.UseNumber()
	for {
		var rec ExportRecord
		err := lines.Decode(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalogdb: reading export: %w", err)
		}
		ret = append(ret, rec)
	}
	return ret, nil
}
