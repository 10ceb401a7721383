package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/shinehq/shinehq/internal/entitlement"
)

// Client wraps the Stripe API calls the engine makes: reading customer truth
// for the poll reconciler and creating checkout, portal, and cancellation
// requests for the dashboard. Call fields are injectable for tests.
type Client struct {
	apiKey    string
	prices    PriceTable
	trialDays int64
	baseURL   string

	getCustomer        func(id string, params *stripelib.CustomerParams) (*stripelib.Customer, error)
	listCustomers      func(params *stripelib.CustomerListParams) ([]*stripelib.Customer, error)
	updateSubscription func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	newCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	newPortalSession   func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
}

// NewClient creates a Stripe API client. The key is installed globally, the
// way stripe-go's package-level bindings expect.
func NewClient(apiKey string, prices PriceTable, trialDays int, baseURL string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" {
		stripelib.Key = apiKey
	}
	return &Client{
		apiKey:             apiKey,
		prices:             prices,
		trialDays:          int64(trialDays),
		baseURL:            strings.TrimRight(baseURL, "/"),
		getCustomer:        customer.Get,
		listCustomers:      drainCustomerList,
		updateSubscription: subscription.Update,
		newCheckoutSession: checkoutsession.New,
		newPortalSession:   portalsession.New,
	}
}

// Configured reports whether API calls can be made.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) requireKey() error {
	if !c.Configured() {
		return errors.New("stripe api key not configured")
	}
	return nil
}

// CustomerState fetches the customer and its newest subscription. Returns
// (nil, nil) when the customer was deleted or never existed.
func (c *Client) CustomerState(ctx context.Context, customerID string) (*ProviderState, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	params := &stripelib.CustomerParams{
		Params: stripelib.Params{Context: ctx},
	}
	params.AddExpand("subscriptions")

	cust, err := c.getCustomer(customerID, params)
	if err != nil {
		var stripeErr *stripelib.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripelib.ErrorCodeResourceMissing {
			return nil, nil
		}
		return nil, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	if cust == nil || cust.Deleted {
		return nil, nil
	}

	state := &ProviderState{CustomerID: cust.ID}
	if cust.Subscriptions != nil && len(cust.Subscriptions.Data) > 0 {
		state.Subscription = convertSubscription(cust.Subscriptions.Data[0])
	}
	return state, nil
}

// FindCustomerByEmail looks up a customer by exact email match and returns
// its state, or (nil, nil) when no live customer carries that address. The
// poll reconciler uses this to rebind a tenant whose customer ref was never
// stored, e.g. when the binding webhooks were lost.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*ProviderState, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	params := &stripelib.CustomerListParams{Email: stripelib.String(email)}
	params.Context = ctx
	params.Limit = stripelib.Int64(3)
	params.AddExpand("data.subscriptions")

	custs, err := c.listCustomers(params)
	if err != nil {
		return nil, fmt.Errorf("list customers by email: %w", err)
	}
	for _, cust := range custs {
		if cust == nil || cust.Deleted {
			continue
		}
		state := &ProviderState{CustomerID: cust.ID}
		if cust.Subscriptions != nil && len(cust.Subscriptions.Data) > 0 {
			state.Subscription = convertSubscription(cust.Subscriptions.Data[0])
		}
		return state, nil
	}
	return nil, nil
}

// drainCustomerList collects the customer.List iterator into a slice so the
// call stays injectable for tests.
func drainCustomerList(params *stripelib.CustomerListParams) ([]*stripelib.Customer, error) {
	iter := customer.List(params)
	var out []*stripelib.Customer
	for iter.Next() {
		out = append(out, iter.Customer())
	}
	return out, iter.Err()
}

// CreateCheckoutSession starts a subscription checkout for the tenant and
// returns the hosted URL. The tenant ID rides along as metadata so the
// webhook reconciler can resolve identity without an email match.
func (c *Client) CreateCheckoutSession(ctx context.Context, tenantID, email string, plan entitlement.Plan) (string, error) {
	if err := c.requireKey(); err != nil {
		return "", err
	}
	priceID := c.priceFor(plan)
	if priceID == "" {
		return "", fmt.Errorf("no price configured for plan %q", plan)
	}

	metadata := map[string]string{"tenant_id": tenantID}
	params := &stripelib.CheckoutSessionParams{
		Params:        stripelib.Params{Context: ctx},
		Mode:          stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		SuccessURL:    stripelib.String(c.baseURL + "/billing?checkout=success"),
		CancelURL:     stripelib.String(c.baseURL + "/billing?checkout=cancelled"),
		CustomerEmail: stripelib.String(email),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(priceID),
				Quantity: stripelib.Int64(1),
			},
		},
		SubscriptionData: &stripelib.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripelib.Int64(c.trialDays),
			Metadata:        metadata,
		},
		Metadata: metadata,
	}

	session, err := c.newCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", errors.New("checkout session has no URL")
	}
	return session.URL, nil
}

// CreatePortalSession returns a Stripe Billing Portal URL for the customer.
func (c *Client) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	if err := c.requireKey(); err != nil {
		return "", err
	}
	params := &stripelib.BillingPortalSessionParams{
		Params:    stripelib.Params{Context: ctx},
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(c.baseURL + "/billing"),
	}
	session, err := c.newPortalSession(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", errors.New("portal session has no URL")
	}
	return session.URL, nil
}

// CancelAtPeriodEnd flags the subscription to lapse at the period boundary
// rather than canceling immediately.
func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	if err := c.requireKey(); err != nil {
		return err
	}
	_, err := c.updateSubscription(subscriptionID, &stripelib.SubscriptionParams{
		Params:            stripelib.Params{Context: ctx},
		CancelAtPeriodEnd: stripelib.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("set cancel_at_period_end: %w", err)
	}
	return nil
}

func (c *Client) priceFor(plan entitlement.Plan) string {
	switch plan {
	case entitlement.PlanMonthly:
		return c.prices.Monthly
	case entitlement.PlanAnnual:
		return c.prices.Annual
	default:
		return ""
	}
}

// convertSubscription maps a stripe-go subscription to the minimal event
// shape shared with the webhook path.
func convertSubscription(sub *stripelib.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          sub.TrialEnd,
	}
	if sub.Customer != nil {
		out.Customer = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			entry := SubscriptionItem{CurrentPeriodEnd: item.CurrentPeriodEnd}
			if item.Price != nil {
				entry.Price.ID = item.Price.ID
			}
			out.Items.Data = append(out.Items.Data, entry)
		}
	}
	return out
}
