package registry

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/shinehq/shinehq/internal/entitlement"
)

// Tenant is the durable per-business billing record: identity, messaging
// contact details, and the last-known lifecycle state. It is mutated only by
// the webhook and poll reconcilers, never by dashboard code directly.
type Tenant struct {
	ID                   string             `json:"id"`
	Email                string             `json:"email"`
	FirstName            string             `json:"first_name"`
	Phone                string             `json:"phone"`
	SMSConsent           bool               `json:"sms_consent"`
	Activated            bool               `json:"activated"` // onboarding complete
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	Phase                entitlement.Phase  `json:"phase"`
	Plan                 entitlement.Plan   `json:"plan"`
	TrialEndsAt          *time.Time         `json:"trial_ends_at,omitempty"`
	PeriodEndsAt         *time.Time         `json:"period_ends_at,omitempty"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Entitlement returns the pure lifecycle view consumed by the clock and gate.
func (t *Tenant) Entitlement() entitlement.Record {
	return entitlement.Record{
		Phase:             t.Phase,
		Plan:              t.Plan,
		TrialEndsAt:       t.TrialEndsAt,
		PeriodEndsAt:      t.PeriodEndsAt,
		CancelAtPeriodEnd: t.CancelAtPeriodEnd,
	}
}

// Patch is a field-level webhook update. Nil pointers leave the stored value
// untouched; ClearSubscriptionRef explicitly empties the subscription id
// (subscription deleted events).
type Patch struct {
	StripeCustomerID     *string
	StripeSubscriptionID *string
	ClearSubscriptionRef bool
	Phase                *entitlement.Phase
	Plan                 *entitlement.Plan
	TrialEndsAt          *time.Time
	PeriodEndsAt         *time.Time
	CancelAtPeriodEnd    *bool
}

// Snapshot is the total billing state written by the poll reconciler. Every
// field overwrites the stored record; a "none" snapshot clears the refs.
type Snapshot struct {
	StripeCustomerID     string
	StripeSubscriptionID string
	Phase                entitlement.Phase
	Plan                 entitlement.Plan
	TrialEndsAt          *time.Time
	PeriodEndsAt         *time.Time
	CancelAtPeriodEnd    bool
}

// RetentionSend is one append-only row per (tenant, step): the idempotency
// record that keeps a drip step from firing twice.
type RetentionSend struct {
	TenantID    string    `json:"tenant_id"`
	Step        int       `json:"step"`
	Channel     string    `json:"channel"` // "sms" or "email"
	SentAt      time.Time `json:"sent_at"`
	Succeeded   bool      `json:"succeeded"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// GenerateTenantID returns a tenant ID of the form "t-" followed by 10 random
// Crockford base32 characters (50 bits of entropy).
func GenerateTenantID() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate tenant id: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("t-")
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}
