// Package namesearch provides a client for the name search provider, a
// Meilisearch-compatible index of persons and of companies with their
// partners.
package namesearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/resilience"
)

// Client defines the name search operations.
type Client interface {
	// SearchByName returns persons whose indexed name matches name.
	SearchByName(ctx context.Context, name string, limit int) ([]Person, error)
	// CompaniesByPartner returns companies listing taxID among their partners.
	CompaniesByPartner(ctx context.Context, taxID string, limit int) ([]Company, error)
}

// Person is a hit from the persons index.
type Person struct {
	TaxID string `json:"cpf"`
	Name  string `json:"nome"`
	State string `json:"uf,omitempty"`
}

// Company is a hit from the companies index.
type Company struct {
	CNPJ         string    `json:"cnpj"`
	LegalName    string    `json:"razao_social"`
	TradeName    string    `json:"nome_fantasia,omitempty"`
	ShareCapital float64   `json:"capital_social,omitempty"`
	State        string    `json:"uf,omitempty"`
	Status       string    `json:"situacao_cadastral,omitempty"`
	Partners     []Partner `json:"socios,omitempty"`
}

// Partner is one member of a company's ownership list.
type Partner struct {
	TaxID         string   `json:"cpf"`
	Name          string   `json:"nome"`
	Qualification string   `json:"qualificacao,omitempty"`
	JoinedAt      string   `json:"data_entrada,omitempty"`
	Share         *float64 `json:"percentual,omitempty"`
}

type searchRequest struct {
	Q                    string   `json:"q"`
	Limit                int      `json:"limit,omitempty"`
	Filter               string   `json:"filter,omitempty"`
	AttributesToSearchOn []string `json:"attributesToSearchOn,omitempty"`
}

type searchResponse[T any] struct {
	Hits []T `json:"hits"`
}

// Option configures the name search client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithIndexes overrides the persons and companies index names.
func WithIndexes(persons, companies string) Option {
	return func(c *httpClient) {
		c.personsIndex = persons
		c.companiesIndex = companies
	}
}

type httpClient struct {
	apiKey         string
	baseURL        string
	personsIndex   string
	companiesIndex string
	http           *http.Client
}

// NewClient creates a name search client against the index host at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:         apiKey,
		baseURL:        baseURL,
		personsIndex:   "persons",
		companiesIndex: "companies",
		http:           &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func search[T any](ctx context.Context, c *httpClient, index string, sr searchRequest) ([]T, error) {
	payload, err := json.Marshal(sr)
	if err != nil {
		return nil, eris.Wrap(err, "namesearch: marshal request")
	}

	url := fmt.Sprintf("%s/indexes/%s/search", c.baseURL, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "namesearch: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "namesearch: search %s", index)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "namesearch: read response body")
	}
	if resilience.IsTransientStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("namesearch: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("namesearch: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out searchResponse[T]
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "namesearch: unmarshal response")
	}
	return out.Hits, nil
}

func (c *httpClient) SearchByName(ctx context.Context, name string, limit int) ([]Person, error) {
	return search[Person](ctx, c, c.personsIndex, searchRequest{
		Q:                    name,
		Limit:                limit,
		AttributesToSearchOn: []string{"nome"},
	})
}

func (c *httpClient) CompaniesByPartner(ctx context.Context, taxID string, limit int) ([]Company, error) {
	return search[Company](ctx, c, c.companiesIndex, searchRequest{
		Q:                    taxID,
		Limit:                limit,
		AttributesToSearchOn: []string{"socios_cpfs"},
	})
}
