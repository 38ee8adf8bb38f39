// Package identity provides a client for the tier-1 identity data provider:
// phone to person lookup and full person profiles by tax identifier.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/resilience"
)

// Client defines the identity provider operations.
type Client interface {
	// FetchByPhone returns every person registered to the phone number.
	FetchByPhone(ctx context.Context, phone string) ([]Person, error)
	// FetchByTaxID returns the full profile, or nil when the provider has no
	// data for the identifier.
	FetchByTaxID(ctx context.Context, taxID string) (*Profile, error)
}

// Person is a lightweight match returned by phone lookup.
type Person struct {
	TaxID string `json:"cpf"`
	Name  string `json:"nome"`
}

// Profile is the provider's full record for one person.
type Profile struct {
	TaxID         string    `json:"cpf"`
	Name          string    `json:"nome"`
	BirthDate     string    `json:"data_nascimento"`
	Gender        string    `json:"sexo"`
	MotherName    string    `json:"nome_mae"`
	Income        *float64  `json:"renda"`
	NetWorth      *float64  `json:"patrimonio"`
	Occupation    string    `json:"ocupacao"`
	Education     string    `json:"escolaridade"`
	MaritalStatus string    `json:"estado_civil"`
	Phones        []Phone   `json:"telefones"`
	Emails        []Email   `json:"emails"`
	Addresses     []Address `json:"enderecos"`
}

// Phone is a phone number on a profile.
type Phone struct {
	Number string `json:"numero"`
}

// Email is an email address on a profile.
type Email struct {
	Address string `json:"email"`
}

// Address is a residential address on a profile.
type Address struct {
	Street     string `json:"logradouro"`
	Number     string `json:"numero"`
	Complement string `json:"complemento"`
	District   string `json:"bairro"`
	City       string `json:"cidade"`
	State      string `json:"uf"`
	PostalCode string `json:"cep"`
}

type searchResponse struct {
	Results []Person `json:"results"`
}

// Option configures the identity client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates an identity provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.identity.example.com",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs one GET and returns the body. Retryable statuses come back as
// resilience.TransientError; retries are the caller's concern.
func (c *httpClient) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "identity: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "identity: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "identity: read response body")
	}
	if resilience.IsTransientStatus(resp.StatusCode) {
		return nil, resp.StatusCode, resilience.NewTransientError(
			eris.Errorf("identity: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

func (c *httpClient) FetchByPhone(ctx context.Context, phone string) ([]Person, error) {
	body, status, err := c.get(ctx, "/v1/persons?phone="+url.QueryEscape(phone))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("identity: unexpected status %d: %s", status, string(body))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "identity: unmarshal search response")
	}
	return sr.Results, nil
}

func (c *httpClient) FetchByTaxID(ctx context.Context, taxID string) (*Profile, error) {
	body, status, err := c.get(ctx, fmt.Sprintf("/v1/persons/%s", url.PathEscape(taxID)))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("identity: unexpected status %d: %s", status, string(body))
	}

	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "identity: unmarshal profile")
	}
	if p.TaxID == "" {
		return nil, nil
	}
	return &p, nil
}
