// Package salesforce publishes enrichment results to Salesforce Leads and
// Notes over the REST API.
package salesforce

import (
	"context"
	"fmt"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the slice of the REST API the publisher uses.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	Create(ctx context.Context, object string, fields map[string]any) (string, error)
	Update(ctx context.Context, object, id string, fields map[string]any) error
}

// Config holds the JWT bearer credentials of the connected app.
type Config struct {
	LoginURL   string
	Username   string
	ClientID   string
	PrivateKey string // PEM
	RateLimit  float64
}

// Connect authenticates with the JWT bearer flow.
func Connect(cfg Config) (Client, error) {
	sf, err := gosf.Init(gosf.Creds{
		Domain:         cfg.LoginURL,
		Username:       cfg.Username,
		ConsumerKey:    cfg.ClientID,
		ConsumerRSAPem: cfg.PrivateKey,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: connect")
	}
	return New(sf, cfg.RateLimit), nil
}

// New wraps an authenticated session. rps <= 0 disables throttling.
func New(sf *gosf.Salesforce, rps float64) Client {
	r := &rest{sf: sf}
	if rps > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
	return r
}

// go-salesforce takes no context; ctx only bounds the throttle wait.
type rest struct {
	sf      *gosf.Salesforce
	limiter *rate.Limiter
}

func (r *rest) call(ctx context.Context, op string, fn func() error) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "sf: throttle")
		}
	} else if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "sf: throttle")
	}
	return eris.Wrap(fn(), "sf: "+op)
}

func (r *rest) Query(ctx context.Context, soql string, out any) error {
	return r.call(ctx, "query", func() error { return r.sf.Query(soql, out) })
}

func (r *rest) Create(ctx context.Context, object string, fields map[string]any) (string, error) {
	var id string
	err := r.call(ctx, "create "+object, func() error {
		res, err := r.sf.InsertOne(object, fields)
		if err != nil {
			return err
		}
		if !res.Success {
			return eris.New(fmt.Sprintf("rejected: %v", res.Errors))
		}
		id = res.Id
		return nil
	})
	return id, err
}

func (r *rest) Update(ctx context.Context, object, id string, fields map[string]any) error {
	rec := map[string]any{"Id": id}
	for k, v := range fields {
		rec[k] = v
	}
	return r.call(ctx, fmt.Sprintf("update %s %s", object, id), func() error {
		return r.sf.UpdateOne(object, rec)
	})
}
