package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shinehq/shinehq/internal/config"
	"github.com/shinehq/shinehq/internal/entitlement"
	"github.com/shinehq/shinehq/internal/registry"
	"github.com/shinehq/shinehq/internal/stripe"
)

const (
	testAdminKey      = "admin-key-123"
	testSessionSecret = "session-secret-456"
)

type fakeProvider struct {
	checkoutURL string
	portalURL   string
	err         error

	checkoutTenant string
	checkoutPlan   entitlement.Plan
	cancelledSub   string
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, tenantID, email string, plan entitlement.Plan) (string, error) {
	f.checkoutTenant = tenantID
	f.checkoutPlan = plan
	return f.checkoutURL, f.err
}

func (f *fakeProvider) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	return f.portalURL, f.err
}

func (f *fakeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	f.cancelledSub = subscriptionID
	return f.err
}

type fakeRefresher struct {
	registry *registry.Registry
	err      error
}

func (f *fakeRefresher) Refresh(ctx context.Context, tenantID string) (*registry.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.registry.Get(tenantID)
}

type testEnv struct {
	handler  http.Handler
	registry *registry.Registry
	provider *fakeProvider
	poller   *fakeRefresher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg, err := registry.New(t.TempDir())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	provider := &fakeProvider{
		checkoutURL: "https://checkout.stripe.com/pay/cs_test",
		portalURL:   "https://billing.stripe.com/session/bps_test",
	}
	poller := &fakeRefresher{registry: reg}
	cfg := &config.Config{
		AdminKey:      testAdminKey,
		SessionSecret: testSessionSecret,
	}

	handler := NewHandler(&Deps{
		Config:   cfg,
		Registry: reg,
		Clock:    entitlement.NewClock(14, 3),
		Provider: provider,
		Poller:   poller,
		Webhook:  stripe.NewWebhookHandler("whsec_test", stripe.NewReconciler(reg, stripe.PriceTable{})),
		Version:  "test",
	})
	return &testEnv{handler: handler, registry: reg, provider: provider, poller: poller}
}

func (e *testEnv) seedActiveTenant(t *testing.T) *registry.Tenant {
	t.Helper()
	tenant := &registry.Tenant{ID: "t-ROUTES", Email: "owner@example.com"}
	if err := e.registry.Create(tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}
	phase := entitlement.PhaseActive
	plan := entitlement.PlanMonthly
	custID := "cus_1"
	subID := "sub_1"
	periodEnd := time.Now().Add(20 * 24 * time.Hour).UTC()
	if err := e.registry.ApplyWebhookPatch(tenant.ID, registry.Patch{
		StripeCustomerID:     &custID,
		StripeSubscriptionID: &subID,
		Phase:                &phase,
		Plan:                 &plan,
		PeriodEndsAt:         &periodEnd,
	}); err != nil {
		t.Fatalf("ApplyWebhookPatch: %v", err)
	}
	return tenant
}

func (e *testEnv) request(t *testing.T, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func sessionFor(t *testing.T, tenantID string) string {
	t.Helper()
	token, err := IssueSessionToken([]byte(testSessionSecret), tenantID, time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	return token
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/readyz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}
}

func TestStatusRequiresAdminKey(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.request(t, http.MethodGet, "/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}
	if rec := env.request(t, http.MethodGet, "/status", testAdminKey, ""); rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", rec.Code)
	}
}

func TestMetricsRequiresAdminKey(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.request(t, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated metrics = %d, want 401", rec.Code)
	}
}

func TestBillingStatusRejectsMissingSession(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.request(t, http.MethodGet, "/api/billing/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without session = %d, want 401", rec.Code)
	}
	if rec := env.request(t, http.MethodGet, "/api/billing/status", "not-a-jwt", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with garbage token = %d, want 401", rec.Code)
	}
}

func TestBillingStatusSnapshot(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedActiveTenant(t)

	rec := env.request(t, http.MethodGet, "/api/billing/status", sessionFor(t, tenant.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}

	var snap billingSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Status != "active" || snap.Label != "Active" || snap.Plan != "monthly" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.CanAccess {
		t.Error("active tenant should have access")
	}
	if snap.DaysRemaining < 19 || snap.DaysRemaining > 21 {
		t.Errorf("days remaining = %d, want ~20", snap.DaysRemaining)
	}
}

func TestBillingRefreshProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedActiveTenant(t)
	env.poller.err = errors.New("stripe down")

	rec := env.request(t, http.MethodPost, "/api/billing/refresh", sessionFor(t, tenant.ID), "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("refresh = %d, want 502", rec.Code)
	}

	// Store untouched.
	got, _ := env.registry.Get(tenant.ID)
	if got.Phase != entitlement.PhaseActive {
		t.Errorf("phase = %q after failed refresh, want active", got.Phase)
	}
}

func TestBillingCheckout(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedActiveTenant(t)

	rec := env.request(t, http.MethodPost, "/api/billing/checkout", sessionFor(t, tenant.ID), `{"plan":"annual"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout = %d, body=%s", rec.Code, rec.Body.String())
	}
	if env.provider.checkoutTenant != tenant.ID {
		t.Errorf("checkout tenant = %q, want %q", env.provider.checkoutTenant, tenant.ID)
	}
	if env.provider.checkoutPlan != entitlement.PlanAnnual {
		t.Errorf("checkout plan = %q, want annual", env.provider.checkoutPlan)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["url"] == "" {
		t.Error("expected checkout URL in response")
	}
}

func TestBillingCheckoutRejectsUnknownPlan(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedActiveTenant(t)
	rec := env.request(t, http.MethodPost, "/api/billing/checkout", sessionFor(t, tenant.ID), `{"plan":"lifetime"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("checkout with unknown plan = %d, want 400", rec.Code)
	}
}

func TestBillingCancel(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedActiveTenant(t)

	rec := env.request(t, http.MethodPost, "/api/billing/cancel", sessionFor(t, tenant.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel = %d, body=%s", rec.Code, rec.Body.String())
	}
	if env.provider.cancelledSub != "sub_1" {
		t.Errorf("cancelled sub = %q, want sub_1", env.provider.cancelledSub)
	}
}

func TestBillingCancelWithoutSubscription(t *testing.T) {
	env := newTestEnv(t)
	tenant := &registry.Tenant{ID: "t-FRESH", Email: "fresh@example.com"}
	if err := env.registry.Create(tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/billing/cancel", sessionFor(t, tenant.ID), "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel without subscription = %d, want 409", rec.Code)
	}
}

func TestBillingPortalWithoutCustomer(t *testing.T) {
	env := newTestEnv(t)
	tenant := &registry.Tenant{ID: "t-NOCUST", Email: "nocust@example.com"}
	if err := env.registry.Create(tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/billing/portal", sessionFor(t, tenant.ID), "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("portal without customer = %d, want 409", rec.Code)
	}
}

func TestBillingStatusUnknownTenant(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(t, http.MethodGet, "/api/billing/status", sessionFor(t, "t-GHOST"), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status for unknown tenant = %d, want 404", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/healthz", "", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("response is missing X-Request-ID")
	}

	// An incoming ID is honored rather than replaced.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Fatalf("X-Request-ID = %q, want req-abc-123", got)
	}
}

func TestAdminRetentionSendsAndRearm(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedActiveTenant(t)

	if err := env.registry.RecordRetentionSend(&registry.RetentionSend{
		TenantID:    tenant.ID,
		Step:        1,
		Channel:     "sms",
		Succeeded:   false,
		ErrorDetail: "provider 503",
	}); err != nil {
		t.Fatalf("RecordRetentionSend: %v", err)
	}

	path := "/api/admin/tenants/" + tenant.ID + "/retention"
	if rec := env.request(t, http.MethodGet, path, "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d, want 401", rec.Code)
	}

	rec := env.request(t, http.MethodGet, path, testAdminKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d, want 200", rec.Code)
	}
	var listed struct {
		TenantID string                   `json:"tenant_id"`
		Sends    []registry.RetentionSend `json:"sends"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Sends) != 1 || listed.Sends[0].Step != 1 || listed.Sends[0].Succeeded {
		t.Fatalf("sends = %+v, want one failed step 1", listed.Sends)
	}

	// Re-arming deletes the record so the scheduler will retry the step.
	if rec := env.request(t, http.MethodDelete, path+"/1", testAdminKey, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("re-arm = %d, want 204", rec.Code)
	}
	steps, err := env.registry.RetentionStepsSent(tenant.ID)
	if err != nil {
		t.Fatalf("RetentionStepsSent: %v", err)
	}
	if steps[1] {
		t.Fatal("step 1 still recorded after re-arm")
	}

	if rec := env.request(t, http.MethodDelete, path+"/zero", testAdminKey, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad step = %d, want 400", rec.Code)
	}
}

func TestAdminIssueSession(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedActiveTenant(t)

	rec := env.request(t, http.MethodPost, "/api/admin/tenants/"+tenant.ID+"/session", testAdminKey, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("issue session = %d, want 200", rec.Code)
	}
	var issued struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&issued); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if issued.Token == "" || !issued.ExpiresAt.After(time.Now()) {
		t.Fatalf("issued = %+v, want usable token", issued)
	}

	// The minted token works against the billing surface.
	if rec := env.request(t, http.MethodGet, "/api/billing/status", issued.Token, ""); rec.Code != http.StatusOK {
		t.Fatalf("billing status with minted session = %d, want 200", rec.Code)
	}

	if rec := env.request(t, http.MethodPost, "/api/admin/tenants/t-MISSING/session", testAdminKey, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tenant = %d, want 404", rec.Code)
	}
}
