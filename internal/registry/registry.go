// Package registry is the entitlement store: per-tenant billing records and
// the retention send log, backed by SQLite. Every successful write is
// immediately visible to readers; there is no caching layer in front.
package registry

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shinehq/shinehq/internal/entitlement"
	_ "modernc.org/sqlite"
)

// Registry provides CRUD operations for tenant billing records.
type Registry struct {
	db *sql.DB
}

// New opens (or creates) the billing database in dir.
func New(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "billing.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open billing db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id                     TEXT PRIMARY KEY,
		email                  TEXT NOT NULL DEFAULT '',
		first_name             TEXT NOT NULL DEFAULT '',
		phone                  TEXT NOT NULL DEFAULT '',
		sms_consent            INTEGER NOT NULL DEFAULT 0,
		activated              INTEGER NOT NULL DEFAULT 0,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		phase                  TEXT NOT NULL DEFAULT 'none',
		plan                   TEXT NOT NULL DEFAULT 'none',
		trial_ends_at          INTEGER,
		period_ends_at         INTEGER,
		cancel_at_period_end   INTEGER NOT NULL DEFAULT 0,
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tenants_phase ON tenants(phase);
	CREATE INDEX IF NOT EXISTS idx_tenants_stripe_customer_id ON tenants(stripe_customer_id);
	CREATE INDEX IF NOT EXISTS idx_tenants_email ON tenants(email);

	CREATE TABLE IF NOT EXISTS retention_sends (
		tenant_id    TEXT NOT NULL,
		step         INTEGER NOT NULL,
		channel      TEXT NOT NULL DEFAULT '',
		sent_at      INTEGER NOT NULL,
		succeeded    INTEGER NOT NULL DEFAULT 0,
		error_detail TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, step)
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("init billing schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (r *Registry) Ping() error {
	return r.db.Ping()
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const tenantColumns = `
	id, email, first_name, phone, sms_consent, activated,
	stripe_customer_id, stripe_subscription_id, phase, plan,
	trial_ends_at, period_ends_at, cancel_at_period_end,
	created_at, updated_at`

// Create inserts a new tenant record. A fresh signup starts in phase "none"
// with no billing refs.
func (r *Registry) Create(t *Tenant) error {
	if t == nil {
		return fmt.Errorf("tenant is nil")
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Phase == "" {
		t.Phase = entitlement.PhaseNone
	}
	if t.Plan == "" {
		t.Plan = entitlement.PlanNone
	}
	t.Email = strings.ToLower(strings.TrimSpace(t.Email))

	_, err := r.db.Exec(`
		INSERT INTO tenants (
			id, email, first_name, phone, sms_consent, activated,
			stripe_customer_id, stripe_subscription_id, phase, plan,
			trial_ends_at, period_ends_at, cancel_at_period_end,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Email, t.FirstName, t.Phone, boolToInt(t.SMSConsent), boolToInt(t.Activated),
		t.StripeCustomerID, t.StripeSubscriptionID, string(t.Phase), string(t.Plan),
		nullableTimeUnix(t.TrialEndsAt), nullableTimeUnix(t.PeriodEndsAt), boolToInt(t.CancelAtPeriodEnd),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// Get retrieves a tenant by ID. Returns (nil, nil) when not found.
func (r *Registry) Get(id string) (*Tenant, error) {
	row := r.db.QueryRow(`SELECT`+tenantColumns+` FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

// GetByStripeCustomerID retrieves a tenant by its Stripe customer reference.
func (r *Registry) GetByStripeCustomerID(customerID string) (*Tenant, error) {
	row := r.db.QueryRow(`SELECT`+tenantColumns+` FROM tenants WHERE stripe_customer_id = ?`, customerID)
	return scanTenant(row)
}

// GetByEmail retrieves a tenant by its signup email (lowercased). Used as the
// identity-resolution fallback when a webhook customer is not yet mapped.
func (r *Registry) GetByEmail(email string) (*Tenant, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	row := r.db.QueryRow(`SELECT`+tenantColumns+` FROM tenants WHERE email = ?`, email)
	return scanTenant(row)
}

// BindStripeCustomer persists the customer-ref → tenant mapping so later
// events resolve without the email fallback.
func (r *Registry) BindStripeCustomer(tenantID, customerID string) error {
	res, err := r.db.Exec(`UPDATE tenants SET stripe_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID, time.Now().UTC().Unix(), tenantID)
	if err != nil {
		return fmt.Errorf("bind stripe customer: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("tenant %q not found", tenantID)
	}
	return nil
}

// ApplyWebhookPatch performs a field-level last-write-wins update from a
// webhook event. Re-applying the same patch produces the same stored state.
// There is no optimistic-concurrency check: provider truth is authoritative
// at the time of the call.
func (r *Registry) ApplyWebhookPatch(tenantID string, p Patch) error {
	t, err := r.Get(tenantID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("tenant %q not found", tenantID)
	}

	if p.StripeCustomerID != nil {
		t.StripeCustomerID = *p.StripeCustomerID
	}
	if p.StripeSubscriptionID != nil {
		t.StripeSubscriptionID = *p.StripeSubscriptionID
	}
	if p.ClearSubscriptionRef {
		t.StripeSubscriptionID = ""
	}
	if p.Phase != nil {
		t.Phase = *p.Phase
	}
	if p.Plan != nil {
		t.Plan = *p.Plan
	}
	if p.TrialEndsAt != nil {
		t.TrialEndsAt = p.TrialEndsAt
	}
	if p.PeriodEndsAt != nil {
		t.PeriodEndsAt = p.PeriodEndsAt
	}
	if p.CancelAtPeriodEnd != nil {
		t.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}

	return r.update(t)
}

// OverwriteFromPoll replaces the stored billing state with the provider
// snapshot in one shot, superseding any stale webhook-derived state.
func (r *Registry) OverwriteFromPoll(tenantID string, s Snapshot) error {
	res, err := r.db.Exec(`
		UPDATE tenants SET
			stripe_customer_id = ?, stripe_subscription_id = ?,
			phase = ?, plan = ?,
			trial_ends_at = ?, period_ends_at = ?, cancel_at_period_end = ?,
			updated_at = ?
		WHERE id = ?`,
		s.StripeCustomerID, s.StripeSubscriptionID,
		string(s.Phase), string(s.Plan),
		nullableTimeUnix(s.TrialEndsAt), nullableTimeUnix(s.PeriodEndsAt), boolToInt(s.CancelAtPeriodEnd),
		time.Now().UTC().Unix(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("overwrite from poll: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("tenant %q not found", tenantID)
	}
	return nil
}

func (r *Registry) update(t *Tenant) error {
	t.UpdatedAt = time.Now().UTC()

	res, err := r.db.Exec(`
		UPDATE tenants SET
			email = ?, first_name = ?, phone = ?, sms_consent = ?, activated = ?,
			stripe_customer_id = ?, stripe_subscription_id = ?, phase = ?, plan = ?,
			trial_ends_at = ?, period_ends_at = ?, cancel_at_period_end = ?,
			updated_at = ?
		WHERE id = ?`,
		t.Email, t.FirstName, t.Phone, boolToInt(t.SMSConsent), boolToInt(t.Activated),
		t.StripeCustomerID, t.StripeSubscriptionID, string(t.Phase), string(t.Plan),
		nullableTimeUnix(t.TrialEndsAt), nullableTimeUnix(t.PeriodEndsAt), boolToInt(t.CancelAtPeriodEnd),
		t.UpdatedAt.Unix(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("tenant %q not found", t.ID)
	}
	return nil
}

// SetActivated marks onboarding completion, which also removes the tenant
// from retention eligibility.
func (r *Registry) SetActivated(tenantID string, activated bool) error {
	res, err := r.db.Exec(`UPDATE tenants SET activated = ?, updated_at = ? WHERE id = ?`,
		boolToInt(activated), time.Now().UTC().Unix(), tenantID)
	if err != nil {
		return fmt.Errorf("set activated: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("tenant %q not found", tenantID)
	}
	return nil
}

// ListRetentionCandidates returns trial tenants that have not completed
// onboarding, granted messaging consent, and have a trial window on record.
// Converted or canceled tenants drop out of this query rather than being
// explicitly cancelled from the drip.
func (r *Registry) ListRetentionCandidates() ([]*Tenant, error) {
	rows, err := r.db.Query(`SELECT`+tenantColumns+` FROM tenants
		WHERE phase = ? AND activated = 0 AND sms_consent = 1 AND trial_ends_at IS NOT NULL
		ORDER BY created_at ASC`, string(entitlement.PhaseTrialing))
	if err != nil {
		return nil, fmt.Errorf("list retention candidates: %w", err)
	}
	defer rows.Close()
	return scanTenants(rows)
}

// CountByPhase returns a map of phase -> tenant count.
func (r *Registry) CountByPhase() (map[entitlement.Phase]int, error) {
	rows, err := r.db.Query(`SELECT phase, COUNT(*) FROM tenants GROUP BY phase`)
	if err != nil {
		return nil, fmt.Errorf("count tenants by phase: %w", err)
	}
	defer rows.Close()

	counts := make(map[entitlement.Phase]int)
	for rows.Next() {
		var phase string
		var count int
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[entitlement.Phase(phase)] = count
	}
	return counts, rows.Err()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(s scanner) (*Tenant, error) {
	var t Tenant
	var phase, plan string
	var smsConsent, activated, cancelAtPeriodEnd int
	var trialEndsAt, periodEndsAt sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(
		&t.ID, &t.Email, &t.FirstName, &t.Phone, &smsConsent, &activated,
		&t.StripeCustomerID, &t.StripeSubscriptionID, &phase, &plan,
		&trialEndsAt, &periodEndsAt, &cancelAtPeriodEnd,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}

	t.SMSConsent = smsConsent != 0
	t.Activated = activated != 0
	t.Phase = entitlement.Phase(phase)
	t.Plan = entitlement.Plan(plan)
	t.CancelAtPeriodEnd = cancelAtPeriodEnd != 0
	if trialEndsAt.Valid {
		ts := time.Unix(trialEndsAt.Int64, 0).UTC()
		t.TrialEndsAt = &ts
	}
	if periodEndsAt.Valid {
		ts := time.Unix(periodEndsAt.Int64, 0).UTC()
		t.PeriodEndsAt = &ts
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func scanTenants(rows *sql.Rows) ([]*Tenant, error) {
	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
