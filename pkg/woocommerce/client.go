// Package woocommerce talks to the WooCommerce REST API (v3) and the WordPress
// media endpoint. Source reads a remote catalog; Destination writes category
// terms and images into the local store front.
package woocommerce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/conductorone/catalog-sync/pkg/document"
	"github.com/conductorone/catalog-sync/pkg/uhttp"
)

const (
	restPrefix  = "/wp-json/wc/v3"
	mediaPrefix = "/wp-json/wp/v2"

	headerTotal      = "X-WP-Total"
	headerTotalPages = "X-WP-TotalPages"

	DefaultTimeout = 60 * time.Second

	maxResponseSize = 32 << 20
)

var ErrInvalidSiteURL = errors.New("woocommerce: site url must be an absolute http(s) url")

// Credentials authenticate with HTTP basic auth. For the REST v3 API these are
// the consumer key and secret; for the media endpoint a WordPress user and
// application password.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) empty() bool {
	return c.Username == "" && c.Password == ""
}

type Client struct {
	site    *url.URL
	auth    Credentials
	wrapper *uhttp.BaseHttpClient
}

// NewClient builds a client for the store at siteURL. A nil httpClient gets
// one with DefaultTimeout.
func NewClient(siteURL string, auth Credentials, httpClient *http.Client, opts ...uhttp.WrapperOption) (*Client, error) {
	site, err := parseSiteURL(siteURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		site:    site,
		auth:    auth,
		wrapper: uhttp.NewBaseHttpClient(httpClient, opts...),
	}, nil
}

func parseSiteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSiteURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSiteURL, raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Site returns the normalized store URL.
func (c *Client) Site() string {
	return c.site.String()
}

func (c *Client) restURL(path string, query url.Values) *url.URL {
	return c.urlFor(restPrefix+path, query)
}

func (c *Client) urlFor(path string, query url.Values) *url.URL {
	u := *c.site
	u.Path = c.site.Path + path
	u.RawQuery = query.Encode()
	return &u
}

func (c *Client) authOption(auth Credentials) uhttp.RequestOption {
	if auth.empty() {
		return func() (io.ReadWriter, map[string]string, error) {
			return nil, nil, errors.New("woocommerce: missing credentials")
		}
	}
	return uhttp.WithBasicAuth(auth.Username, auth.Password)
}

// getList fetches a JSON array and returns it with the response headers.
func (c *Client) getList(ctx context.Context, u *url.URL) ([]document.Document, http.Header, error) {
	body, headers, err := c.call(ctx, http.MethodGet, u, c.auth, uhttp.WithAcceptJSONHeader())
	if err != nil {
		return nil, nil, err
	}
	items, err := document.ParseList(body)
	if err != nil {
		return nil, nil, err
	}
	return items, headers, nil
}

// decode issues the request and decodes the JSON response body into out.
func (c *Client) decode(ctx context.Context, method string, u *url.URL, auth Credentials, out any, opts ...uhttp.RequestOption) error {
	opts = append(opts, uhttp.WithAcceptJSONHeader(), c.authOption(auth))
	req, err := c.wrapper.NewRequest(ctx, method, u, opts...)
	if err != nil {
		return err
	}
	_, err = c.wrapper.Do(req, uhttp.WithJSONResponse(out))
	return err
}

// sendJSON issues method with payload encoded as JSON and decodes the object in the response.
func (c *Client) sendJSON(ctx context.Context, method string, u *url.URL, auth Credentials, payload any) (document.Document, error) {
	body, _, err := c.call(ctx, method, u, auth, uhttp.WithJSONBody(payload), uhttp.WithAcceptJSONHeader())
	if err != nil {
		return nil, err
	}
	return document.Parse(body)
}

func (c *Client) call(ctx context.Context, method string, u *url.URL, auth Credentials, opts ...uhttp.RequestOption) ([]byte, http.Header, error) {
	opts = append(opts, c.authOption(auth))
	req, err := c.wrapper.NewRequest(ctx, method, u, opts...)
	if err != nil {
		return nil, nil, err
	}

	var headers http.Header
	resp, err := c.wrapper.Do(req, uhttp.WithResponseHeaders(&headers))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" && !uhttp.IsJSONContentType(ct) {
		return nil, nil, &uhttp.ContentTypeError{ContentType: ct}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, err
	}
	return body, headers, nil
}

// download fetches an arbitrary public resource without credentials.
func (c *Client) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", err
	}
	req, err := c.wrapper.NewRequest(ctx, http.MethodGet, u)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.wrapper.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, "", err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

// headerInt reads a non-negative integer header such as X-WP-Total.
func headerInt(h http.Header, key string) (int64, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
