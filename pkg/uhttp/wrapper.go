package uhttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/retry"
)

const maxErrorBodySize = 512

type (
	HttpClient interface {
		HttpClient() *http.Client
		Do(req *http.Request, options ...DoOption) (*http.Response, error)
		NewRequest(ctx context.Context, method string, url *url.URL, options ...RequestOption) (*http.Request, error)
	}
	BaseHttpClient struct {
		client *http.Client

		rateLimiter    ratelimit.Limiter
		retryConfig    *retry.RetryConfig
		debugPrintBody bool
	}

	DoOption      func(*http.Response) error
	RequestOption func() (io.ReadWriter, map[string]string, error)
)

var _ HttpClient = (*BaseHttpClient)(nil)

type WrapperOption interface {
	Apply(*BaseHttpClient)
}

type wrapperOptionFunc func(*BaseHttpClient)

func (f wrapperOptionFunc) Apply(c *BaseHttpClient) {
	f(c)
}

// WithRateLimit spaces outgoing requests so no more than rps are issued per second.
func WithRateLimit(rps int) WrapperOption {
	return wrapperOptionFunc(func(c *BaseHttpClient) {
		if rps > 0 {
			c.rateLimiter = ratelimit.New(rps)
		}
	})
}

// WithRetry repeats idempotent requests that fail with a retryable error.
func WithRetry(config retry.RetryConfig) WrapperOption {
	return wrapperOptionFunc(func(c *BaseHttpClient) {
		c.retryConfig = &config
	})
}

func NewBaseHttpClient(httpClient *http.Client, opts ...WrapperOption) *BaseHttpClient {
	c := &BaseHttpClient{
		client:      httpClient,
		rateLimiter: ratelimit.NewUnlimited(),
	}
	for _, o := range opts {
		o.Apply(c)
	}
	return c
}

// StatusError is returned when the server answers with a non-2xx status code.
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d (%s %s)", e.StatusCode, e.Method, e.URL)
}

// Retryable is true for throttling and server side failures.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (e *StatusError) RetryAfter() time.Duration {
	return e.retryAfter
}

// ContentTypeError is returned by WithJSONResponse when the server does not answer with JSON.
type ContentTypeError struct {
	ContentType string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("unexpected content type: %q", e.ContentType)
}

func WithJSONResponse(response interface{}) DoOption {
	return func(resp *http.Response) error {
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); ct != "" && !IsJSONContentType(ct) {
			return &ContentTypeError{ContentType: ct}
		}
		return json.NewDecoder(resp.Body).Decode(response)
	}
}

// WithResponseHeaders copies the response headers into h.
func WithResponseHeaders(h *http.Header) DoOption {
	return func(resp *http.Response) error {
		*h = resp.Header.Clone()
		return nil
	}
}

func (c *BaseHttpClient) Do(req *http.Request, options ...DoOption) (*http.Response, error) {
	ctx := req.Context()
	var retryer *retry.Retryer
	if c.retryConfig != nil && isReplayable(req) {
		retryer = retry.NewRetryer(ctx, *c.retryConfig)
	}

	for {
		resp, err := c.do(req)
		if err == nil {
			for _, option := range options {
				if err = option(resp); err != nil {
					return resp, err
				}
			}
			return resp, nil
		}

		if retryer == nil || !retryer.ShouldWaitAndRetry(ctx, err) {
			return resp, err
		}

		if req.GetBody != nil {
			body, bErr := req.GetBody()
			if bErr != nil {
				return nil, bErr
			}
			req.Body = body
		}
	}
}

func (c *BaseHttpClient) do(req *http.Request) (*http.Response, error) {
	c.rateLimiter.Take()

	l := ctxzap.Extract(req.Context())
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		l.Debug("http request failed", zap.String("method", req.Method), zap.String("url", redactURL(req.URL)), zap.Error(err))
		return nil, err
	}

	l.Debug("http request",
		zap.String("method", req.Method),
		zap.String("url", redactURL(req.URL)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if c.debugPrintBody {
		resp.Body = wrapPrintBody(resp.Body)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return resp, &StatusError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        redactURL(req.URL),
			Body:       string(body),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp, nil
}

func (c *BaseHttpClient) HttpClient() *http.Client {
	return c.client
}

// isReplayable is true for idempotent methods whose body can be rewound.
// POST is never repeated since it may have created something before failing.
func isReplayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	default:
		return false
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	q := c.Query()
	for _, k := range []string{"consumer_key", "consumer_secret"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	c.RawQuery = q.Encode()
	return c.String()
}

func WithJSONBody(body interface{}) RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		buffer := new(bytes.Buffer)
		err := json.NewEncoder(buffer).Encode(body)
		if err != nil {
			return nil, nil, err
		}

		_, headers, err := WithContentTypeJSONHeader()()
		if err != nil {
			return nil, nil, err
		}

		return buffer, headers, nil
	}
}

// WithRawBody sends body verbatim with the given headers.
func WithRawBody(body []byte, headers map[string]string) RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		return bytes.NewBuffer(body), headers, nil
	}
}

func WithAcceptJSONHeader() RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		return nil, map[string]string{
			"Accept": "application/json",
		}, nil
	}
}

func WithContentTypeJSONHeader() RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		return nil, map[string]string{
			"Content-Type": "application/json",
		}, nil
	}
}

func WithBasicAuth(username string, password string) RequestOption {
	return func() (io.ReadWriter, map[string]string, error) {
		if username == "" && password == "" {
			return nil, nil, errors.New("uhttp: basic auth requires credentials")
		}
		token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		return nil, map[string]string{
			"Authorization": "Basic " + token,
		}, nil
	}
}

func (c *BaseHttpClient) NewRequest(ctx context.Context, method string, url *url.URL, options ...RequestOption) (*http.Request, error) {
	var buffer io.ReadWriter
	var headers map[string]string = make(map[string]string)
	for _, option := range options {
		buf, h, err := option()
		if err != nil {
			return nil, err
		}

		if buf != nil {
			buffer = buf
		}

		for k, v := range h {
			headers[k] = v
		}
	}

	var body io.Reader
	if buffer != nil {
		body = buffer
	}

	req, err := http.NewRequestWithContext(ctx, method, url.String(), body)
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req, nil
}
