package woocommerce

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/document"
	catalogsync "github.com/conductorone/catalog-sync/pkg/sync"
	"github.com/conductorone/catalog-sync/pkg/uhttp"
)

const (
	termCacheSize   = 10_000
	termCacheExpiry = 10 * time.Minute

	codeTermExists = "term_exists"
)

var _ catalogsync.DestinationWriter = (*Destination)(nil)

type TermCache = otter.Cache[string, *catalogsync.Term]

// Destination creates and updates product category terms and imports images
// into the local store.
type Destination struct {
	client *Client
	media  Credentials
	terms  *TermCache
	stats  *stats.Counter
}

type DestinationOption func(*Destination)

// WithMediaCredentials sets the WordPress user and application password used
// for the media endpoint. Without it the REST credentials are used.
func WithMediaCredentials(c Credentials) DestinationOption {
	return func(d *Destination) {
		if !c.empty() {
			d.media = c
		}
	}
}

func NewDestination(client *Client, opts ...DestinationOption) (*Destination, error) {
	counter := stats.NewCounter()
	cache, err := otter.New(&otter.Options[string, *catalogsync.Term]{
		MaximumSize:      termCacheSize,
		ExpiryCalculator: otter.ExpiryWriting[string, *catalogsync.Term](termCacheExpiry),
		StatsRecorder:    counter,
	})
	if err != nil {
		return nil, fmt.Errorf("woocommerce: creating term cache: %w", err)
	}

	d := &Destination{
		client: client,
		media:  client.auth,
		terms:  cache,
		stats:  counter,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// TestConnection succeeds when the destination store answers a one-product listing.
func (d *Destination) TestConnection(ctx context.Context) error {
	return testConnection(ctx, d.client)
}

// CacheStats reports term lookup cache hits and misses.
func (d *Destination) CacheStats() stats.Stats {
	return d.stats.Snapshot()
}

func (d *Destination) FindTermBySlug(ctx context.Context, slug string) (*catalogsync.Term, error) {
	if slug == "" {
		return nil, nil
	}

	loader := func(ctx context.Context, key string) (*catalogsync.Term, error) {
		q := url.Values{
			"slug":     {key},
			"per_page": {"100"},
		}
		items, _, err := d.client.getList(ctx, d.client.restURL("/products/categories", q))
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			term, err := termFromDocument(item)
			if err != nil {
				continue
			}
			if term.Slug == key {
				return term, nil
			}
		}
		return nil, otter.ErrNotFound
	}

	term, err := d.terms.Get(ctx, slug, otter.LoaderFunc[string, *catalogsync.Term](loader))
	if errors.Is(err, otter.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return term, nil
}

// CreateTerm creates a category term. A term_exists rejection resolves to the
// existing term id.
func (d *Destination) CreateTerm(ctx context.Context, fields catalogsync.TermFields) (int64, error) {
	resp, err := d.client.sendJSON(ctx, http.MethodPost, d.client.restURL("/products/categories", nil), d.client.auth, termPayload(fields))
	if err != nil {
		if id, ok := existingTermID(err); ok {
			ctxzap.Extract(ctx).Debug("term already exists", zap.String("slug", fields.Slug), zap.Int64("term_id", id))
			return id, nil
		}
		return 0, err
	}

	term, err := d.remember(resp)
	if err != nil {
		return 0, err
	}
	return term.ID, nil
}

func (d *Destination) UpdateTerm(ctx context.Context, termID int64, fields catalogsync.TermFields) error {
	return d.updateTerm(ctx, termID, termPayload(fields))
}

func (d *Destination) SetTermParent(ctx context.Context, termID int64, parentID int64) error {
	return d.updateTerm(ctx, termID, map[string]any{"parent": parentID})
}

func (d *Destination) SetTermImage(ctx context.Context, termID int64, assetID int64) error {
	return d.updateTerm(ctx, termID, map[string]any{"image": map[string]any{"id": assetID}})
}

func (d *Destination) SetTermDisplayMode(ctx context.Context, termID int64, mode string) error {
	if !document.ValidDisplayMode(mode) {
		return fmt.Errorf("woocommerce: invalid display mode %q", mode)
	}
	return d.updateTerm(ctx, termID, map[string]any{"display": mode})
}

func (d *Destination) updateTerm(ctx context.Context, termID int64, payload map[string]any) error {
	u := d.client.restURL("/products/categories/"+strconv.FormatInt(termID, 10), nil)
	resp, err := d.client.sendJSON(ctx, http.MethodPut, u, d.client.auth, payload)
	if err != nil {
		return err
	}
	_, err = d.remember(resp)
	return err
}

// remember caches the term in a write response under its slug.
func (d *Destination) remember(resp document.Document) (*catalogsync.Term, error) {
	term, err := termFromDocument(resp)
	if err != nil {
		return nil, fmt.Errorf("woocommerce: unexpected term response: %w", err)
	}
	if term.Slug != "" {
		_, _ = d.terms.Set(term.Slug, term)
	}
	return term, nil
}

// ImportImage downloads srcURL and uploads it to the media library.
func (d *Destination) ImportImage(ctx context.Context, srcURL string, altText string) (int64, error) {
	l := ctxzap.Extract(ctx)

	data, contentType, err := d.client.download(ctx, srcURL)
	if err != nil {
		return 0, fmt.Errorf("woocommerce: downloading image: %w", err)
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": imageFilename(srcURL)})
	var media struct {
		ID int64 `json:"id"`
	}
	err = d.client.decode(ctx, http.MethodPost, d.client.urlFor(mediaPrefix+"/media", nil), d.media, &media,
		uhttp.WithRawBody(data, map[string]string{
			"Content-Type":        contentType,
			"Content-Disposition": disposition,
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("woocommerce: uploading image: %w", err)
	}
	if media.ID <= 0 {
		return 0, errors.New("woocommerce: media response has no id")
	}
	assetID := media.ID

	if altText != "" {
		u := d.client.urlFor(mediaPrefix+"/media/"+strconv.FormatInt(assetID, 10), nil)
		if _, err := d.client.sendJSON(ctx, http.MethodPost, u, d.media, map[string]any{"alt_text": altText}); err != nil {
			l.Warn("failed to set image alt text", zap.Int64("asset_id", assetID), zap.Error(err))
		}
	}

	l.Debug("imported image", zap.String("src", srcURL), zap.Int64("asset_id", assetID))
	return assetID, nil
}

func termPayload(fields catalogsync.TermFields) map[string]any {
	ret := map[string]any{
		"name":   fields.Name,
		"parent": int64(0),
	}
	if fields.Slug != "" {
		ret["slug"] = fields.Slug
	}
	if fields.Description != "" {
		ret["description"] = fields.Description
	}
	if fields.ParentID != nil {
		ret["parent"] = *fields.ParentID
	}
	return ret
}

func termFromDocument(d document.Document) (*catalogsync.Term, error) {
	c, err := document.DecodeCategory(d)
	if err != nil {
		return nil, err
	}
	return &catalogsync.Term{
		ID:     c.ID,
		Name:   c.Name,
		Slug:   c.Slug,
		Parent: c.Parent,
	}, nil
}

// existingTermID extracts resource_id from a term_exists error body.
func existingTermID(err error) (int64, bool) {
	var statusErr *uhttp.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		return 0, false
	}
	body, perr := document.Parse([]byte(statusErr.Body))
	if perr != nil || body.String("code") != codeTermExists {
		return 0, false
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		return 0, false
	}
	return document.NumericID(data["resource_id"])
}

func imageFilename(srcURL string) string {
	u, err := url.Parse(srcURL)
	if err != nil {
		return "image"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}
