package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-enricher/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; one connection keeps them in force and
	// serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS parties (
	id             TEXT PRIMARY KEY,
	tax_id         TEXT NOT NULL UNIQUE,
	name           TEXT,
	birth_date     DATETIME,
	gender         TEXT,
	mother_name    TEXT,
	income         REAL,
	net_worth      REAL,
	occupation     TEXT,
	education      TEXT,
	marital_status TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	party_id   TEXT NOT NULL REFERENCES parties(id),
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
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
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	campaign      TEXT NOT NULL DEFAULT '',
	metadata      TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	last_retry_at DATETIME,
	last_error    TEXT,
	party_id      TEXT REFERENCES parties(id),
	crm_ref       TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	enriched_at   DATETIME
);

CREATE TABLE IF NOT EXISTS webhook_events (
	id            TEXT PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	source        TEXT NOT NULL DEFAULT '',
	event_type    TEXT NOT NULL DEFAULT '',
	payload       TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	processed_at  DATETIME,
	error_message TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_status_retry ON leads(status, retry_count);
CREATE INDEX IF NOT EXISTS idx_leads_party_id ON leads(party_id);
CREATE INDEX IF NOT EXISTS idx_contacts_party_id ON contacts(party_id);
CREATE INDEX IF NOT EXISTS idx_addresses_party_id ON addresses(party_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Leads ---

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	l := *lead
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = model.LeadStatusPending
	}
	l.CreatedAt = time.Now().UTC()

	var meta sql.NullString
	if len(l.Metadata) > 0 {
		b, err := json.Marshal(l.Metadata)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal lead metadata")
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, external_id, name, phone, email, source, campaign, metadata, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO NOTHING`,
		l.ID, l.ExternalID, l.Name, l.Phone, l.Email, l.Source, l.Campaign,
		meta, string(l.Status), l.CreatedAt, l.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert lead %s", l.ExternalID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.FindLeadByExternalID(ctx, l.ExternalID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, eris.Errorf("sqlite: lead %s vanished after conflict", l.ExternalID)
		}
		return existing, nil
	}
	return &l, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) FindLeadByExternalID(ctx context.Context, externalID string) (*model.Lead, error) {
	l, err := scanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE external_id = ?`, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find lead %s", externalID)
	}
	return l, nil
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id string, upd model.StatusUpdate) error {
	now := time.Now().UTC()
	var enrichedAt sql.NullTime
	if enrichedStatus(upd.Status) {
		enrichedAt = sql.NullTime{Time: now, Valid: true}
	}
	clearErr := 0
	if upd.Status == model.LeadStatusCompleted {
		clearErr = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?,
			party_id = COALESCE(?, party_id),
			crm_ref = COALESCE(?, crm_ref),
			last_error = CASE WHEN ? = 1 THEN NULL ELSE COALESCE(?, last_error) END,
			enriched_at = COALESCE(?, enriched_at),
			updated_at = ?
		WHERE id = ?`,
		string(upd.Status), nullString(upd.PartyID), nullString(upd.CRMRef),
		clearErr, nullString(upd.Error), enrichedAt, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) IncrementRetryCount(ctx context.Context, id string, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET retry_count = retry_count + 1, last_retry_at = ?, last_error = COALESCE(?, last_error), updated_at = ? WHERE id = ?`,
		now, nullString(errMsg), now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment retry %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, retry_count = retry_count + 1, last_retry_at = ?, last_error = COALESCE(?, last_error), updated_at = ? WHERE id = ?`,
		string(model.LeadStatusFailed), now, nullString(errMsg), now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark failed %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) SelectRetryable(ctx context.Context, f RetryFilter) ([]model.Lead, error) {
	args := make([]any, 0, len(model.RetryableStatuses)+1)
	marks := make([]string, len(model.RetryableStatuses))
	for i, st := range model.RetryableStatuses {
		marks[i] = "?"
		args = append(args, string(st))
	}
	args = append(args, f.MaxRetries)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		WHERE status IN (`+strings.Join(marks, ", ")+`) AND retry_count < ?
		ORDER BY COALESCE(last_retry_at, created_at) ASC`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select retryable")
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: select retryable iterate")
	}
	return filterDue(leads, f), nil
}

func (s *SQLiteStore) CountLeadsByStatus(ctx context.Context, since time.Time) (map[model.LeadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM leads WHERE updated_at >= ? GROUP BY status`, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count leads")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead count")
		}
		counts[model.LeadStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count leads iterate")
}

// --- Parties ---

func (s *SQLiteStore) UpsertParty(ctx context.Context, p *model.Party) (string, error) {
	now := time.Now().UTC()
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}

	var returned string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO parties (id, tax_id, name, birth_date, gender, mother_name, income, net_worth,
			occupation, education, marital_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tax_id) DO UPDATE SET
			name = COALESCE(excluded.name, parties.name),
			birth_date = COALESCE(excluded.birth_date, parties.birth_date),
			gender = COALESCE(excluded.gender, parties.gender),
			mother_name = COALESCE(excluded.mother_name, parties.mother_name),
			income = COALESCE(excluded.income, parties.income),
			net_worth = COALESCE(excluded.net_worth, parties.net_worth),
			occupation = COALESCE(excluded.occupation, parties.occupation),
			education = COALESCE(excluded.education, parties.education),
			marital_status = COALESCE(excluded.marital_status, parties.marital_status),
			updated_at = excluded.updated_at
		RETURNING id`,
		id, p.TaxID, nullString(p.Name), nullTime(p.BirthDate), nullString(p.Gender), nullString(p.MotherName),
		nullFloat(p.Income), nullFloat(p.NetWorth), nullString(p.Occupation), nullString(p.Education),
		nullString(p.MaritalStatus), now, now,
	).Scan(&returned)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: upsert party")
	}
	return returned, nil
}

func (s *SQLiteStore) GetPartyByTaxID(ctx context.Context, taxID string) (*model.Party, error) {
	var p model.Party
	var name, gender, mother, occupation, education, marital sql.NullString
	var birth sql.NullTime
	var income, netWorth sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE tax_id = ?`, taxID).Scan(
		&p.ID, &p.TaxID, &name, &birth, &gender, &mother,
		&income, &netWorth, &occupation, &education, &marital, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get party")
	}
	p.Name, p.Gender, p.MotherName = name.String, gender.String, mother.String
	p.Occupation, p.Education, p.MaritalStatus = occupation.String, education.String, marital.String
	if birth.Valid {
		p.BirthDate = &birth.Time
	}
	if income.Valid {
		p.Income = &income.Float64
	}
	if netWorth.Valid {
		p.NetWorth = &netWorth.Float64
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertContact(ctx context.Context, c *model.Contact) error {
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, party_id, kind, value, source, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (party_id, kind, value) DO NOTHING`,
		id, c.PartyID, string(c.Kind), c.Value, c.Source, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert contact for party %s", c.PartyID)
}

func (s *SQLiteStore) UpsertAddress(ctx context.Context, a *model.Address) error {
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO addresses (id, party_id, street, number, complement, district, city, state, postal_code, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.PartyID, a.Street, a.Number, a.Complement, a.District, a.City, a.State, a.PostalCode, a.Source, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert address for party %s", a.PartyID)
}

func (s *SQLiteStore) ListContacts(ctx context.Context, partyID string) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, party_id, kind, value, source FROM contacts WHERE party_id = ? ORDER BY created_at, rowid`, partyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var kind string
		if err := rows.Scan(&c.ID, &c.PartyID, &kind, &c.Value, &c.Source); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		c.Kind = model.ContactKind(kind)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

func (s *SQLiteStore) ListAddresses(ctx context.Context, partyID string) ([]model.Address, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, party_id, street, number, complement, district, city, state, postal_code, source
		FROM addresses WHERE party_id = ? ORDER BY created_at, rowid`, partyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list addresses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Address
	for rows.Next() {
		var a model.Address
		if err := rows.Scan(&a.ID, &a.PartyID, &a.Street, &a.Number, &a.Complement, &a.District,
			&a.City, &a.State, &a.PostalCode, &a.Source); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan address")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list addresses iterate")
}

// --- Webhook events ---

func (s *SQLiteStore) CreateWebhookEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error) {
	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := ev.Status
	if status == "" {
		status = model.WebhookStatusPending
	}
	var payload sql.NullString
	if len(ev.Payload) > 0 {
		payload = sql.NullString{String: string(ev.Payload), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, external_id, source, event_type, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO NOTHING`,
		id, ev.ExternalID, ev.Source, ev.EventType, payload, string(status), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert webhook event %s", ev.ExternalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetWebhookEvent(ctx context.Context, externalID string) (*model.WebhookEvent, error) {
	var ev model.WebhookEvent
	var status string
	var payload, errMsg sql.NullString
	var processed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, source, event_type, payload, status, processed_at, error_message, created_at
		FROM webhook_events WHERE external_id = ?`, externalID,
	).Scan(&ev.ID, &ev.ExternalID, &ev.Source, &ev.EventType, &payload, &status, &processed, &errMsg, &ev.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get webhook event %s", externalID)
	}
	ev.Status = model.WebhookStatus(status)
	ev.ErrorMessage = errMsg.String
	if payload.Valid {
		ev.Payload = json.RawMessage(payload.String)
	}
	if processed.Valid {
		ev.ProcessedAt = &processed.Time
	}
	return &ev, nil
}

func (s *SQLiteStore) UpdateWebhookEvent(ctx context.Context, externalID string, status model.WebhookStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = ?, error_message = ?, processed_at = ? WHERE external_id = ?`,
		string(status), nullString(errMsg), time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update webhook event %s", externalID)
	}
	return checkRowsAffected(res, "webhook event", externalID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var status string
	var meta, lastErr, partyID, crmRef sql.NullString
	var lastRetry, enriched sql.NullTime
	err := row.Scan(&l.ID, &l.ExternalID, &l.Name, &l.Phone, &l.Email, &l.Source, &l.Campaign,
		&meta, &status, &l.RetryCount, &lastRetry, &lastErr, &partyID, &crmRef, &l.CreatedAt, &enriched)
	if err != nil {
		return nil, err
	}
	l.Status = model.LeadStatus(status)
	l.LastError, l.PartyID, l.CRMRef = lastErr.String, partyID.String, crmRef.String
	if lastRetry.Valid {
		t := lastRetry.Time
		l.LastRetryAt = &t
	}
	if enriched.Valid {
		t := enriched.Time
		l.EnrichedAt = &t
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &l.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal lead metadata")
		}
	}
	return &l, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
