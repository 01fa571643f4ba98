// Package upstream performs single HTTP exchanges with open-data endpoints.
package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/couchcryptid/opendata-relay/internal/domain"
	"github.com/couchcryptid/opendata-relay/internal/observability"
)

// Response is a raw upstream reply. Non-2xx statuses are returned as-is.
type Response struct {
	Status      int
	Header      http.Header
	Body        []byte
	ContentType string
}

// TokenSource supplies OAuth2 bearer tokens issued by the given token source.
type TokenSource interface {
	Token(ctx context.Context, tokenSourceKey string) (string, error)
}

// Options tunes connection pooling.
type Options struct {
	MaxConnsPerHost int
	UserAgent       string
}

// Client issues one request per call. It keeps two connection pools, one
// with strict TLS verification and one for sources that opt out of it.
type Client struct {
	strict  *resty.Client
	relaxed *resty.Client
	tokens  TokenSource
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates a transport client.
func NewClient(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 4
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "opendata-relay/1.0"
	}
	return &Client{
		strict:  newResty(opts, false),
		relaxed: newResty(opts, true),
		logger:  logger,
		metrics: metrics,
	}
}

func newResty(opts Options, insecure bool) *resty.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = opts.MaxConnsPerHost
	transport.MaxIdleConnsPerHost = opts.MaxConnsPerHost
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure, //nolint:gosec // per-source opt-in for government endpoints with broken chains
	}

	c := resty.New()
	c.SetTransport(transport)
	c.SetRetryCount(0)
	c.SetHeader("User-Agent", opts.UserAgent)
	return c
}

// SetTokenSource wires OAuth2 token acquisition. It is set after
// construction because the token source itself fetches through this client.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Do performs one request for src. The per-attempt timeout is the smaller of
// src.Timeout and the deadline already on ctx.
func (c *Client) Do(ctx context.Context, src domain.Source, params map[string]string) (*Response, error) {
	if src.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, src.Timeout)
		defer cancel()
	}

	client := c.strict
	if src.InsecureSkipVerify {
		client = c.relaxed
	}

	req := client.R().SetContext(ctx)
	req.SetQueryParams(src.Query)
	req.SetQueryParams(params)
	if len(src.Form) > 0 {
		req.SetFormData(src.Form)
	}
	if err := c.authorize(ctx, req, src); err != nil {
		return nil, err
	}

	method := src.Method
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()
	resp, err := req.Execute(method, src.URL)
	c.metrics.UpstreamDuration.WithLabelValues(src.Key).Observe(time.Since(start).Seconds())
	if err != nil {
		te := classify(err)
		c.metrics.UpstreamRequests.WithLabelValues(src.Key, string(te.Kind)).Inc()
		return nil, te
	}

	c.metrics.UpstreamRequests.WithLabelValues(src.Key, statusClass(resp.StatusCode())).Inc()
	c.logger.Debug("upstream response",
		"source", src.Key,
		"status", resp.StatusCode(),
		"bytes", len(resp.Body()),
		"duration", time.Since(start),
	)

	return &Response{
		Status:      resp.StatusCode(),
		Header:      resp.Header(),
		Body:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

func (c *Client) authorize(ctx context.Context, req *resty.Request, src domain.Source) error {
	switch src.Auth.Kind {
	case domain.AuthAPIKey:
		req.SetQueryParam(src.Auth.Param, src.Auth.Secret)
	case domain.AuthOAuth2:
		if c.tokens == nil {
			return errors.New("oauth2 source configured without a token source")
		}
		token, err := c.tokens.Token(ctx, src.Auth.TokenSource)
		if err != nil {
			return &domain.TransportError{Kind: domain.TransportOther, Err: fmt.Errorf("acquire token: %w", err)}
		}
		req.SetAuthToken(token)
	}
	return nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
