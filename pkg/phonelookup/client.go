// Package phonelookup provides a client for the secondary phone lookup
// services. The same wire contract is served by two vendors, so one client
// type is configured twice.
package phonelookup

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned for every transport or service failure, so
// callers can skip the service without inspecting the cause.
var ErrUnavailable = eris.New("phonelookup: service unavailable")

// Client defines the phone lookup operation.
type Client interface {
	// Name identifies the configured vendor.
	Name() string
	// FindByPhone returns the registered holder of phone, or nil when the
	// service has no record.
	FindByPhone(ctx context.Context, phone string) (*Match, error)
}

// Match is the holder of a phone number.
type Match struct {
	TaxID string `json:"cpf"`
	Name  string `json:"nome"`
}

type lookupResponse struct {
	Found bool   `json:"found"`
	TaxID string `json:"cpf"`
	Name  string `json:"nome"`
}

// Option configures the phone lookup client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

type httpClient struct {
	name    string
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a phone lookup client for the vendor called name.
func NewClient(name, baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Name() string { return c.name }

func (c *httpClient) FindByPhone(ctx context.Context, phone string) (*Match, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "phonelookup: rate limiter")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lookup?telefone="+url.QueryEscape(phone), nil)
	if err != nil {
		return nil, eris.Wrap(err, "phonelookup: create request")
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "phonelookup: %s", c.name)
		}
		return nil, eris.Wrapf(ErrUnavailable, "%s: %v", c.name, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "%s: read body: %v", c.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Wrapf(ErrUnavailable, "%s: status %d", c.name, resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "%s: malformed response: %v", c.name, err)
	}
	if !lr.Found || lr.TaxID == "" {
		return nil, nil
	}
	return &Match{TaxID: lr.TaxID, Name: lr.Name}, nil
}
