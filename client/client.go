// Package client talks to the remote task collaborator over REST.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 16 * 1024
	idempotencyHdr  = "Idempotency-Key"
	contentTypeJSON = "application/json"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL       string
	http          *http.Client
	tokens        TokenSource
	logger        *log.Logger
	pageSize      int
	gzipThreshold int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource attaches a bearer token to every request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPageSize sets the page size requested when listing tasks.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithGzip compresses request bodies of at least threshold bytes.
func WithGzip(threshold int) Option {
	return func(c *Client) { c.gzipThreshold = threshold }
}

// New creates a client for the collaborator rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type request struct {
	method  string
	route   string
	path    string
	query   url.Values
	body    any
	headers map[string]string
}

// do sends one request. It never retries.
func (c *Client) do(ctx context.Context, r request, out any) (err error) {
	metrics, ctx := newRequestMetrics(ctx, c.logger, r.method, r.route)
	status := 0
	defer func() { metrics.Log(status, err) }()

	req, err := c.newRequest(ctx, r)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, r.method, r.path, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", ErrTransport, r.method, r.path, err)
	}
	if items, ok := out.(interface{ itemCount() int }); ok {
		metrics.SetItems(items.itemCount())
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, r request) (*http.Request, error) {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	gzipped := false
	if r.body != nil {
		payload, err := sonic.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode body: %w", ErrValidation, err)
		}
		if c.gzipThreshold > 0 && len(payload) >= c.gzipThreshold {
			payload, err = gzipBytes(payload)
			if err != nil {
				return nil, err
			}
			gzipped = true
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", contentTypeJSON)
	if r.body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: bearer token: %w", ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	if len(raw) > 0 && sonic.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func gzipBytes(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsRetryable reports whether a failed call could succeed if issued again.
// The client never retries on its own; callers decide.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServer)
}
