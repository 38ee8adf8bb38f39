package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/db"
	"github.com/sells-group/lead-enricher/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS parties (
	id             TEXT PRIMARY KEY,
	tax_id         CHAR(11) NOT NULL UNIQUE,
	name           TEXT,
	birth_date     DATE,
	gender         TEXT,
	mother_name    TEXT,
	income         NUMERIC(14,2),
	net_worth      NUMERIC(16,2),
	occupation     TEXT,
	education      TEXT,
	marital_status TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	party_id   TEXT NOT NULL REFERENCES parties(id),
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (party_id, kind, value)
);

CREATE TABLE IF NOT EXISTS addresses (
	id          TEXT PRIMARY KEY,
	party_id    TEXT NOT NULL REFERENCES parties(id),
	street      TEXT NOT NULL DEFAULT '',
	number      TEXT NOT NULL DEFAULT '',
	complement  TEXT NOT NULL DEFAULT '',
	district    TEXT NOT NULL DEFAULT '',
	city        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT '',
	postal_code TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	campaign      TEXT NOT NULL DEFAULT '',
	metadata      JSONB,
	status        TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	last_retry_at TIMESTAMPTZ,
	last_error    TEXT,
	party_id      TEXT REFERENCES parties(id),
	crm_ref       TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	enriched_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS webhook_events (
	id            TEXT PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	source        TEXT NOT NULL DEFAULT '',
	event_type    TEXT NOT NULL DEFAULT '',
	payload       JSONB,
	status        TEXT NOT NULL DEFAULT 'pending',
	processed_at  TIMESTAMPTZ,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_status_retry ON leads(status, retry_count);
CREATE INDEX IF NOT EXISTS idx_leads_party_id ON leads(party_id);
CREATE INDEX IF NOT EXISTS idx_contacts_party_id ON contacts(party_id);
CREATE INDEX IF NOT EXISTS idx_addresses_party_id ON addresses(party_id);
`

const leadColumns = `id, external_id, name, phone, email, source, campaign, metadata, status, retry_count, last_retry_at, last_error, party_id, crm_ref, created_at, enriched_at`

const partyColumns = `id, tax_id, name, birth_date, gender, mother_name, income, net_worth, occupation, education, marital_status, created_at, updated_at`

var (
	partyUpsertSQL = mustUpsert(db.UpsertConfig{
		Table: "parties",
		Columns: []string{"id", "tax_id", "name", "birth_date", "gender", "mother_name",
			"income", "net_worth", "occupation", "education", "marital_status", "created_at", "updated_at"},
		ConflictKeys: []string{"tax_id"},
		UpdateCols: []string{"name", "birth_date", "gender", "mother_name",
			"income", "net_worth", "occupation", "education", "marital_status", "updated_at"},
		Coalesce:  true,
		Returning: []string{"id"},
	})
	contactInsertSQL = mustUpsert(db.UpsertConfig{
		Table:        "contacts",
		Columns:      []string{"id", "party_id", "kind", "value", "source"},
		ConflictKeys: []string{"party_id", "kind", "value"},
		DoNothing:    true,
	})
	webhookInsertSQL = mustUpsert(db.UpsertConfig{
		Table:        "webhook_events",
		Columns:      []string{"id", "external_id", "source", "event_type", "payload", "status", "created_at"},
		ConflictKeys: []string{"external_id"},
		DoNothing:    true,
	})
	leadInsertSQL = mustUpsert(db.UpsertConfig{
		Table: "leads",
		Columns: []string{"id", "external_id", "name", "phone", "email", "source", "campaign",
			"metadata", "status", "created_at", "updated_at"},
		ConflictKeys: []string{"external_id"},
		DoNothing:    true,
	})
)

func mustUpsert(cfg db.UpsertConfig) string {
	q, err := db.UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return q
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Leads ---

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	l := *lead
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = model.LeadStatusPending
	}
	l.CreatedAt = time.Now().UTC()

	var meta []byte
	if len(l.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(l.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: marshal lead metadata")
		}
	}

	tag, err := s.pool.Exec(ctx, leadInsertSQL,
		l.ID, l.ExternalID, l.Name, l.Phone, l.Email, l.Source, l.Campaign,
		meta, string(l.Status), l.CreatedAt, l.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert lead %s", l.ExternalID)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.FindLeadByExternalID(ctx, l.ExternalID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, eris.Errorf("postgres: lead %s vanished after conflict", l.ExternalID)
		}
		return existing, nil
	}
	return &l, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanPgLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) FindLeadByExternalID(ctx context.Context, externalID string) (*model.Lead, error) {
	l, err := scanPgLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find lead %s", externalID)
	}
	return l, nil
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id string, upd model.StatusUpdate) error {
	now := time.Now().UTC()
	var enrichedAt *time.Time
	if enrichedStatus(upd.Status) {
		enrichedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1,
			party_id = COALESCE($2, party_id),
			crm_ref = COALESCE($3, crm_ref),
			last_error = CASE WHEN $4::boolean THEN NULL ELSE COALESCE($5, last_error) END,
			enriched_at = COALESCE($6, enriched_at),
			updated_at = $7
		WHERE id = $8`,
		string(upd.Status), nullString(upd.PartyID), nullString(upd.CRMRef),
		upd.Status == model.LeadStatusCompleted, nullString(upd.Error),
		enrichedAt, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementRetryCount(ctx context.Context, id string, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET retry_count = retry_count + 1, last_retry_at = $1, last_error = COALESCE($2, last_error), updated_at = $1 WHERE id = $3`,
		now, nullString(errMsg), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, retry_count = retry_count + 1, last_retry_at = $2, last_error = COALESCE($3, last_error), updated_at = $2 WHERE id = $4`,
		string(model.LeadStatusFailed), now, nullString(errMsg), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark failed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return nil
}

func (s *PostgresStore) SelectRetryable(ctx context.Context, f RetryFilter) ([]model.Lead, error) {
	statuses := make([]string, len(model.RetryableStatuses))
	for i, st := range model.RetryableStatuses {
		statuses[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads
		WHERE status = ANY($1) AND retry_count < $2
		ORDER BY COALESCE(last_retry_at, created_at) ASC`,
		statuses, f.MaxRetries,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select retryable")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: select retryable iterate")
	}
	return filterDue(leads, f), nil
}

func (s *PostgresStore) CountLeadsByStatus(ctx context.Context, since time.Time) (map[model.LeadStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM leads WHERE updated_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count leads")
	}
	defer rows.Close()

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead count")
		}
		counts[model.LeadStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count leads iterate")
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var meta []byte
	var status string
	var lastErr, partyID, crmRef *string
	err := row.Scan(&l.ID, &l.ExternalID, &l.Name, &l.Phone, &l.Email, &l.Source, &l.Campaign,
		&meta, &status, &l.RetryCount, &l.LastRetryAt, &lastErr, &partyID, &crmRef, &l.CreatedAt, &l.EnrichedAt)
	if err != nil {
		return nil, err
	}
	l.Status = model.LeadStatus(status)
	l.LastError = derefString(lastErr)
	l.PartyID = derefString(partyID)
	l.CRMRef = derefString(crmRef)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &l.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal lead metadata")
		}
	}
	return &l, nil
}

// --- Parties ---

func (s *PostgresStore) UpsertParty(ctx context.Context, p *model.Party) (string, error) {
	now := time.Now().UTC()
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}

	var returned string
	err := s.pool.QueryRow(ctx, partyUpsertSQL,
		id, p.TaxID, nullString(p.Name), p.BirthDate, nullString(p.Gender), nullString(p.MotherName),
		p.Income, p.NetWorth, nullString(p.Occupation), nullString(p.Education), nullString(p.MaritalStatus),
		now, now,
	).Scan(&returned)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: upsert party")
	}
	return returned, nil
}

func (s *PostgresStore) GetPartyByTaxID(ctx context.Context, taxID string) (*model.Party, error) {
	var p model.Party
	var name, gender, mother, occupation, education, marital *string
	err := s.pool.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE tax_id = $1`, taxID).Scan(
		&p.ID, &p.TaxID, &name, &p.BirthDate, &gender, &mother,
		&p.Income, &p.NetWorth, &occupation, &education, &marital, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get party")
	}
	p.Name, p.Gender, p.MotherName = derefString(name), derefString(gender), derefString(mother)
	p.Occupation, p.Education, p.MaritalStatus = derefString(occupation), derefString(education), derefString(marital)
	return &p, nil
}

func (s *PostgresStore) UpsertContact(ctx context.Context, c *model.Contact) error {
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, contactInsertSQL, id, c.PartyID, string(c.Kind), c.Value, c.Source)
	return eris.Wrapf(err, "postgres: upsert contact for party %s", c.PartyID)
}

func (s *PostgresStore) UpsertAddress(ctx context.Context, a *model.Address) error {
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO addresses (id, party_id, street, number, complement, district, city, state, postal_code, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, a.PartyID, a.Street, a.Number, a.Complement, a.District, a.City, a.State, a.PostalCode, a.Source,
	)
	return eris.Wrapf(err, "postgres: insert address for party %s", a.PartyID)
}

func (s *PostgresStore) ListContacts(ctx context.Context, partyID string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, party_id, kind, value, source FROM contacts WHERE party_id = $1 ORDER BY created_at, id`, partyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var kind string
		if err := rows.Scan(&c.ID, &c.PartyID, &kind, &c.Value, &c.Source); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		c.Kind = model.ContactKind(kind)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

func (s *PostgresStore) ListAddresses(ctx context.Context, partyID string) ([]model.Address, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, party_id, street, number, complement, district, city, state, postal_code, source
		FROM addresses WHERE party_id = $1 ORDER BY created_at, id`, partyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list addresses")
	}
	defer rows.Close()

	var out []model.Address
	for rows.Next() {
		var a model.Address
		if err := rows.Scan(&a.ID, &a.PartyID, &a.Street, &a.Number, &a.Complement, &a.District,
			&a.City, &a.State, &a.PostalCode, &a.Source); err != nil {
			return nil, eris.Wrap(err, "postgres: scan address")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list addresses iterate")
}

// --- Webhook events ---

func (s *PostgresStore) CreateWebhookEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error) {
	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := ev.Status
	if status == "" {
		status = model.WebhookStatusPending
	}
	var payload []byte
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}
	tag, err := s.pool.Exec(ctx, webhookInsertSQL,
		id, ev.ExternalID, ev.Source, ev.EventType, payload, string(status), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert webhook event %s", ev.ExternalID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetWebhookEvent(ctx context.Context, externalID string) (*model.WebhookEvent, error) {
	var ev model.WebhookEvent
	var status string
	var errMsg *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, source, event_type, payload, status, processed_at, error_message, created_at
		FROM webhook_events WHERE external_id = $1`, externalID,
	).Scan(&ev.ID, &ev.ExternalID, &ev.Source, &ev.EventType, &ev.Payload, &status, &ev.ProcessedAt, &errMsg, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get webhook event %s", externalID)
	}
	ev.Status = model.WebhookStatus(status)
	ev.ErrorMessage = derefString(errMsg)
	return &ev, nil
}

func (s *PostgresStore) UpdateWebhookEvent(ctx context.Context, externalID string, status model.WebhookStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET status = $1, error_message = $2, processed_at = $3 WHERE external_id = $4`,
		string(status), nullString(errMsg), time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update webhook event %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "webhook event %s", externalID)
	}
	return nil
}
