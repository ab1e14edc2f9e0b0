package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"
	"go.sia.tech/minty/config"
	"go.uber.org/zap"
)

// maxResponseSize is the largest response body the client will decode.
const maxResponseSize = 16 << 20 // 16 MiB

// activeStatuses are the statuses that indicate a CID is pinned or will be
// pinned without another request.
var activeStatuses = []Status{StatusQueued, StatusPinning, StatusPinned}

type (
	options struct {
		HTTPClient  *http.Client
		TokenSource TokenSource
		Log         *zap.Logger
	}

	// An Option configures a Client.
	Option func(*options)

	// A Client is a stateless binding to a remote IPFS pinning service. It
	// is safe for concurrent use.
	Client struct {
		name     string
		endpoint string
		token    string

		http *http.Client
		log  *zap.Logger
	}
)

// WithHTTPClient sets the http client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.HTTPClient = c
	}
}

// WithTokenSource overrides the token source derived from the config's
// access token.
func WithTokenSource(ts TokenSource) Option {
	return func(o *options) {
		o.TokenSource = ts
	}
}

// WithLog sets the logger.
func WithLog(l *zap.Logger) Option {
	return func(o *options) {
		o.Log = l
	}
}

// Name returns the display name of the service.
func (c *Client) Name() string {
	return c.name
}

// Endpoint returns the base URL of the service.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Add requests that the service pin c.
func (c *Client) Add(ctx context.Context, cid cid.Cid, opts AddOptions) (PinStatus, error) {
	req := Pin{
		CID:     cid,
		Name:    opts.Name,
		Origins: opts.Origins,
		Meta:    opts.Meta,
	}
	var resp PinStatus
	if err := c.do(ctx, http.MethodPost, "/pins", nil, req, &resp); err != nil {
		return PinStatus{}, err
	}
	c.log.Debug("added pin", zap.Stringer("cid", cid), zap.String("requestID", resp.RequestID), zap.String("status", string(resp.Status)))
	return resp, nil
}

// List returns the pin requests matching the filter.
func (c *Client) List(ctx context.Context, filter ListFilter) (ListResponse, error) {
	query := make(url.Values)
	if filter.CID.Defined() {
		query.Set("cid", filter.CID.String())
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query.Set("status", strings.Join(statuses, ","))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, "/pins", query, nil, &resp); err != nil {
		return ListResponse{}, err
	}
	return resp, nil
}

// Count returns the number of queued, pinning, or pinned requests for c at
// the service. Any positive count means c is already pinned or in-flight.
func (c *Client) Count(ctx context.Context, cid cid.Cid) (int, error) {
	resp, err := c.List(ctx, ListFilter{
		CID:    cid,
		Status: activeStatuses,
		Limit:  1,
	})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Get returns the current status of a pin request.
func (c *Client) Get(ctx context.Context, requestID string) (PinStatus, error) {
	if requestID == "" {
		return PinStatus{}, errors.New("request id is required")
	}
	var resp PinStatus
	if err := c.do(ctx, http.MethodGet, "/pins/"+url.PathEscape(requestID), nil, nil, &resp); err != nil {
		return PinStatus{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, route string, query url.Values, body, resp any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	u := c.endpoint + route
	if len(query) != 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %q: %w", c.name, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return readTransportError(res)
	} else if resp == nil {
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseSize)).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response from %q: %w", c.name, err)
	}
	return nil
}

// NewClient creates a client for the configured pinning service. The access
// token is resolved immediately; a missing field or unresolvable token
// returns a *ConfigError before any request is made.
func NewClient(cfg config.PinningService, opts ...Option) (*Client, error) {
	o := options{
		HTTPClient: http.DefaultClient,
		Log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Name == "" {
		return nil, &ConfigError{Field: "name", Err: errors.New("name is required")}
	} else if cfg.Endpoint == "" {
		return nil, &ConfigError{Service: cfg.Name, Field: "endpoint", Err: errors.New("endpoint is required")}
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, &ConfigError{Service: cfg.Name, Field: "endpoint", Err: err}
	} else if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ConfigError{Service: cfg.Name, Field: "endpoint", Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	ts := o.TokenSource
	if ts == nil {
		if cfg.AccessToken == "" {
			return nil, &ConfigError{Service: cfg.Name, Field: "accessToken", Err: errors.New("access token is required")}
		}
		ts = ParseTokenSource(cfg.AccessToken)
	}
	token, err := ts.Token()
	if err != nil {
		return nil, &ConfigError{Service: cfg.Name, Field: "accessToken", Err: err}
	}

	return &Client{
		name:     cfg.Name,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    token,

		http: o.HTTPClient,
		log:  o.Log,
	}, nil
}
