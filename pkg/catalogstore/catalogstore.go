// Package catalogstore defines the durable state the sync engine reads its
// progress back from.
package catalogstore

import (
	"context"
	"errors"
	"time"

	"github.com/conductorone/catalog-sync/pkg/document"
)

var ErrNotFound = errors.New("catalogstore: record not found")

type ProductRecord struct {
	RowID              int64
	SourceID           int64
	SKU                *string
	Payload            document.Document
	IsVariable         bool
	VariationsObtained bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type CategoryRecord struct {
	RowID          int64
	SourceID       int64
	Slug           string
	DestinationID  *int64
	ParentSourceID *int64
	Payload        document.Document
	PayloadHash    string
	// ParentLinked is true once the destination term carries its parent.
	ParentLinked bool
	// Stale is set when the remote payload changed after the term was mapped.
	Stale     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Mapped reports whether a destination term exists for the category.
func (c *CategoryRecord) Mapped() bool {
	return c.DestinationID != nil
}

type ImageRecord struct {
	SourceURL string
	AssetID   int64
	CreatedAt time.Time
}

type ProductCounts struct {
	Total              int64
	Variable           int64
	VariationsObtained int64
}

type CategoryCounts struct {
	Total           int64
	Mapped          int64
	Unmapped        int64
	UnlinkedParents int64
}

// IdentityStats compares row counts with distinct remote ids. The two only
// differ if the unique constraints were bypassed.
type IdentityStats struct {
	ProductRows          int64
	DistinctProductIDs   int64
	CategoryRows         int64
	DistinctCategoryIDs  int64
	ImageRows            int64
	MappedDestinationIDs int64
	DistinctDestinations int64
}

type ProductStore interface {
	// UpsertProduct inserts or replaces the record keyed by SourceID. CreatedAt
	// of an existing record is kept.
	UpsertProduct(ctx context.Context, rec *ProductRecord) error
	GetProduct(ctx context.Context, sourceID int64) (*ProductRecord, error)
	CountProducts(ctx context.Context) (int64, error)
	ProductCounts(ctx context.Context) (ProductCounts, error)
	// ListPendingVariableProducts returns variable products whose variations have
	// not been merged yet, in insertion order.
	ListPendingVariableProducts(ctx context.Context, limit int) ([]*ProductRecord, error)
	HasPendingVariableProducts(ctx context.Context) (bool, error)
	// MarkVariationsObtained stores payload and sets VariationsObtained in one statement.
	MarkVariationsObtained(ctx context.Context, sourceID int64, payload document.Document) error
	UpdateProductPayload(ctx context.Context, sourceID int64, payload document.Document) error
	// ListProducts pages through products by row id. Pass the last RowID seen
	// as afterRowID.
	ListProducts(ctx context.Context, afterRowID int64, limit int) ([]*ProductRecord, error)
}

type CategoryStore interface {
	// UpsertCategory inserts or refreshes the remote side of a category. The
	// destination mapping is kept, and the record is flagged stale when a mapped
	// category's payload hash changes.
	UpsertCategory(ctx context.Context, rec *CategoryRecord) error
	GetCategory(ctx context.Context, sourceID int64) (*CategoryRecord, error)
	// ListUnmappedCategories returns categories without a destination term
	// ordered by (parent source id, row id), top level first.
	ListUnmappedCategories(ctx context.Context) ([]*CategoryRecord, error)
	ListStaleCategories(ctx context.Context) ([]*CategoryRecord, error)
	// ListUnlinkedChildren returns mapped categories with a parent whose
	// destination term does not yet carry the parent link.
	ListUnlinkedChildren(ctx context.Context) ([]*CategoryRecord, error)
	SetCategoryDestination(ctx context.Context, sourceID int64, destinationID int64, parentLinked bool) error
	SetCategoryParentLinked(ctx context.Context, sourceID int64) error
	ClearCategoryStale(ctx context.Context, sourceID int64) error
	// CategoryMapping returns source id to destination id for every mapped category.
	CategoryMapping(ctx context.Context) (map[int64]int64, error)
	CategorySourceIDs(ctx context.Context) ([]int64, error)
	CategoryCounts(ctx context.Context) (CategoryCounts, error)
}

type ImageStore interface {
	GetImage(ctx context.Context, sourceURL string) (*ImageRecord, error)
	PutImage(ctx context.Context, rec *ImageRecord) error
}

type Store interface {
	ProductStore
	CategoryStore
	ImageStore
	// Reset truncates products and categories. Images survive because the
	// destination assets they point at do.
	Reset(ctx context.Context) error
	IdentityStats(ctx context.Context) (IdentityStats, error)
	Close() error
}
