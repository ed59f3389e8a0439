package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"context"

	"github.com/conductorone/catalog-sync/pkg/document"
)

// ProductPage is one page of products. Zero totals mean the remote did not
// report them.
type ProductPage struct {
	Items      []document.Document
	TotalItems int64
	TotalPages int
}

type CategoryPage struct {
	Items      []document.Document
	TotalPages int
}

// RemoteCatalog reads the source store. Implementations return an error for
// any non-success response.
type RemoteCatalog interface {
	CountProducts(ctx context.Context) (int64, error)
	// ListProducts returns one page ordered by creation date ascending.
	ListProducts(ctx context.Context, page int, pageSize int) (*ProductPage, error)
	ListVariations(ctx context.Context, productID int64) ([]document.Document, error)
	ListCategories(ctx context.Context, page int, pageSize int) (*CategoryPage, error)
}

type Term struct {
	ID     int64
	Name   string
	Slug   string
	Parent int64
}

type TermFields struct {
	Name        string
	Slug        string
	Description string
	// ParentID is nil for top level terms.
	ParentID *int64
}

// DestinationWriter creates and updates category terms in the destination store.
type DestinationWriter interface {
	// FindTermBySlug returns nil without error when no term has slug.
	FindTermBySlug(ctx context.Context, slug string) (*Term, error)
	CreateTerm(ctx context.Context, fields TermFields) (int64, error)
	UpdateTerm(ctx context.Context, termID int64, fields TermFields) error
	SetTermParent(ctx context.Context, termID int64, parentID int64) error
	SetTermImage(ctx context.Context, termID int64, assetID int64) error
	SetTermDisplayMode(ctx context.Context, termID int64, mode string) error
	// ImportImage uploads the image at url and returns the destination asset id.
	ImportImage(ctx context.Context, url string, altText string) (int64, error)
}
