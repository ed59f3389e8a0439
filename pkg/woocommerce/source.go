package woocommerce

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/document"
	catalogsync "github.com/conductorone/catalog-sync/pkg/sync"
)

const (
	variationPageSize = 100
	// maxListPages stops a paginated walk against a server that never reports the last page.
	maxListPages = 1000
)

var _ catalogsync.RemoteCatalog = (*Source)(nil)

// Source reads products, variations and categories from a remote store.
type Source struct {
	client *Client
}

func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// TestConnection succeeds when the store answers a one-product listing.
func (s *Source) TestConnection(ctx context.Context) error {
	return testConnection(ctx, s.client)
}

func testConnection(ctx context.Context, c *Client) error {
	_, _, err := c.getList(ctx, c.restURL("/products", url.Values{"per_page": {"1"}}))
	if err != nil {
		return fmt.Errorf("woocommerce: connection test against %s failed: %w", c.Site(), err)
	}
	return nil
}

func (s *Source) CountProducts(ctx context.Context) (int64, error) {
	q := url.Values{
		"per_page": {"1"},
		"status":   {"any"},
	}
	items, headers, err := s.client.getList(ctx, s.client.restURL("/products", q))
	if err != nil {
		return 0, err
	}
	if total, ok := headerInt(headers, headerTotal); ok {
		return total, nil
	}
	return int64(len(items)), nil
}

func (s *Source) ListProducts(ctx context.Context, page int, pageSize int) (*catalogsync.ProductPage, error) {
	q := url.Values{
		"per_page": {strconv.Itoa(pageSize)},
		"page":     {strconv.Itoa(page)},
		"orderby":  {"date"},
		"order":    {"asc"},
		"status":   {"any"},
	}
	items, headers, err := s.client.getList(ctx, s.client.restURL("/products", q))
	if err != nil {
		return nil, err
	}

	ret := &catalogsync.ProductPage{Items: items}
	if total, ok := headerInt(headers, headerTotal); ok {
		ret.TotalItems = total
	}
	if pages, ok := headerInt(headers, headerTotalPages); ok {
		ret.TotalPages = int(pages)
	}
	return ret, nil
}

// ListVariations returns every variation of productID, following pagination.
func (s *Source) ListVariations(ctx context.Context, productID int64) ([]document.Document, error) {
	path := fmt.Sprintf("/products/%d/variations", productID)
	return s.listAll(ctx, path, variationPageSize)
}

func (s *Source) ListCategories(ctx context.Context, page int, pageSize int) (*catalogsync.CategoryPage, error) {
	q := url.Values{
		"per_page": {strconv.Itoa(pageSize)},
		"page":     {strconv.Itoa(page)},
		"orderby":  {"id"},
		"order":    {"asc"},
	}
	items, headers, err := s.client.getList(ctx, s.client.restURL("/products/categories", q))
	if err != nil {
		return nil, err
	}

	ret := &catalogsync.CategoryPage{
		Items:      items,
		TotalPages: 1,
	}
	if pages, ok := headerInt(headers, headerTotalPages); ok {
		ret.TotalPages = int(pages)
	}
	return ret, nil
}

func (s *Source) listAll(ctx context.Context, path string, pageSize int) ([]document.Document, error) {
	l := ctxzap.Extract(ctx)

	var ret []document.Document
	for page := 1; page <= maxListPages; page++ {
		q := url.Values{
			"per_page": {strconv.Itoa(pageSize)},
			"page":     {strconv.Itoa(page)},
		}
		items, headers, err := s.client.getList(ctx, s.client.restURL(path, q))
		if err != nil {
			return nil, err
		}
		ret = append(ret, items...)

		totalPages, ok := headerInt(headers, headerTotalPages)
		if ok && int64(page) >= totalPages {
			return ret, nil
		}
		if !ok && len(items) < pageSize {
			return ret, nil
		}
		if len(items) == 0 {
			return ret, nil
		}
	}

	l.Warn("stopped following pagination", zap.String("path", path), zap.Int("max_pages", maxListPages))
	return ret, nil
}
