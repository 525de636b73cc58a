package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/metrics"
	"github.com/KAsare1/Stockalerts-server/service/servicetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

type fakeGateway struct {
	mu        sync.Mutex
	checkouts []CheckoutRequest
	cancelled []string
	err       error
}

func (g *fakeGateway) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	return fmt.Sprintf("cus_%d", user.ID), nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.checkouts = append(g.checkouts, req)
	return &CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, subscriptionID)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n *models.Notification, push bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *n)
	return nil
}

type fixture struct {
	env      *servicetest.Env
	gateway  *fakeGateway
	notifier *fakeNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	prices, err := NewPriceTable(map[string]string{"paid": "price_paid", "premium": "price_premium"})
	require.NoError(t, err)
	f := &fixture{env: servicetest.New(t), gateway: &fakeGateway{}, notifier: &fakeNotifier{}}
	rec := metrics.New(prometheus.NewRegistry())
	NewHandler(f.env.Store, f.env.Sessions, f.gateway, prices, webhookSecret, f.notifier, rec, f.env.Log).
		RegisterRoutes(f.env.Router)
	return f
}

// customer creates a paid member already linked to a Stripe customer.
func (f *fixture) customer(t *testing.T, username, customerID string) *models.User {
	t.Helper()
	u := f.env.User(t, username, models.TierFree)
	u.StripeCustomerID = customerID
	require.NoError(t, f.env.Store.UpdateUser(context.Background(), u))
	return u
}

func (f *fixture) reload(t *testing.T, id uint) *models.User {
	t.Helper()
	u, err := f.env.Store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func sign(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(t *testing.T, id, eventType string, created int64, object interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created,
		"api_version": "2023-10-16",
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) deliver(t *testing.T, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", sign(payload, webhookSecret, time.Now().Unix()))
	rec := httptest.NewRecorder()
	f.env.Root.ServeHTTP(rec, req)
	return rec
}

func subscription(id, customer, status, price string) map[string]interface{} {
	return map[string]interface{}{
		"id":                 id,
		"object":             "subscription",
		"customer":           customer,
		"status":             status,
		"current_period_end": 1900000000,
		"items": map[string]interface{}{
			"object": "list",
			"data": []interface{}{
				map[string]interface{}{"id": "si_1", "object": "subscription_item", "price": map[string]interface{}{"id": price, "object": "price"}},
			},
		},
	}
}

func TestNewPriceTable(t *testing.T) {
	table, err := NewPriceTable(map[string]string{"Premium": "price_1"})
	require.NoError(t, err)
	tier, ok := table.TierFor("price_1")
	assert.True(t, ok)
	assert.Equal(t, models.TierPremium, tier)

	_, err = NewPriceTable(map[string]string{"free": "price_0"})
	assert.Error(t, err)
	_, err = NewPriceTable(map[string]string{"gold": "price_2"})
	assert.Error(t, err)
}

func TestCheckout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.env.User(t, "alice", models.TierFree)
	require.NoError(t, f.env.Store.CreateCoupon(ctx, &models.Coupon{Code: "LAUNCH", PercentOff: 20, Active: true, StripeCouponID: "co_launch"}))

	rec := f.env.Do(t, http.MethodPost, "/api/billing/checkout", map[string]string{"tier": "mentorship"}, alice)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "ERR_TIER_NOT_FOR_SALE", servicetest.ErrorBody(t, rec).Code)

	rec = f.env.Do(t, http.MethodPost, "/api/billing/checkout", map[string]string{"tier": "premium", "coupon_code": "NOPE"}, alice)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "coupon_code", servicetest.ErrorBody(t, rec).Field)

	rec = f.env.Do(t, http.MethodPost, "/api/billing/checkout", map[string]string{"tier": "premium", "coupon_code": "launch"}, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var resp map[string]string
	servicetest.Decode(t, rec, &resp)
	assert.Equal(t, "https://checkout.stripe.test/cs_test", resp["checkout_url"])

	require.Len(t, f.gateway.checkouts, 1)
	got := f.gateway.checkouts[0]
	assert.Equal(t, "price_premium", got.PriceID)
	assert.Equal(t, "co_launch", got.StripeCouponID)
	assert.Equal(t, "LAUNCH", got.CouponCode)
	assert.Equal(t, fmt.Sprintf("cus_%d", alice.ID), got.CustomerID)
	assert.Equal(t, got.CustomerID, f.reload(t, alice.ID).StripeCustomerID)

	// An abandoned checkout does not use up the coupon.
	coupon, err := f.env.Store.GetCouponByCode(ctx, "LAUNCH")
	require.NoError(t, err)
	assert.Equal(t, 0, coupon.TimesRedeemed)
}

func TestCheckoutGatewayFailure(t *testing.T) {
	f := setup(t)
	f.gateway.err = errors.New("stripe unavailable")
	alice := f.env.User(t, "alice", models.TierFree)

	rec := f.env.Do(t, http.MethodPost, "/api/billing/checkout", map[string]string{"tier": "paid"}, alice)
	servicetest.RequireStatus(t, rec, http.StatusInternalServerError)
	assert.Equal(t, "Something went wrong", servicetest.ErrorBody(t, rec).Message)
}

func TestBillingDisabled(t *testing.T) {
	env := servicetest.New(t)
	prices, err := NewPriceTable(nil)
	require.NoError(t, err)
	NewHandler(env.Store, env.Sessions, nil, prices, "", nil, metrics.New(prometheus.NewRegistry()), env.Log).RegisterRoutes(env.Router)
	alice := env.User(t, "alice", models.TierFree)

	rec := env.Do(t, http.MethodPost, "/api/billing/checkout", map[string]string{"tier": "paid"}, alice)
	servicetest.RequireStatus(t, rec, http.StatusServiceUnavailable)
	rec = env.Do(t, http.MethodPost, "/api/billing/webhook", "{}", nil)
	servicetest.RequireStatus(t, rec, http.StatusServiceUnavailable)

	rec = env.Do(t, http.MethodGet, "/api/billing/status", nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var status statusResponse
	servicetest.Decode(t, rec, &status)
	assert.False(t, status.BillingEnabled)
	assert.Equal(t, "none", status.SubscriptionStatus)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := setup(t)
	payload := eventPayload(t, "evt_1", "customer.subscription.updated", 1700000000, subscription("sub_1", "cus_1", "active", "price_paid"))

	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", sign(payload, "whsec_wrong", time.Now().Unix()))
	rec := httptest.NewRecorder()
	f.env.Root.ServeHTTP(rec, req)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := setup(t)
	alice := f.customer(t, "alice", "cus_1")
	const t0 = int64(1700000000)

	rec := f.deliver(t, eventPayload(t, "evt_created", "customer.subscription.created", t0, subscription("sub_1", "cus_1", "active", "price_premium")))
	servicetest.RequireStatus(t, rec, http.StatusOK)
	u := f.reload(t, alice.ID)
	assert.Equal(t, models.TierPremium, u.Tier)
	assert.Equal(t, "sub_1", u.StripeSubscriptionID)
	assert.Equal(t, "active", u.SubscriptionStatus)
	require.NotNil(t, u.CurrentPeriodEnd)
	assert.Equal(t, int64(1900000000), u.CurrentPeriodEnd.Unix())

	// Replayed event IDs are acknowledged without reapplying.
	rec = f.deliver(t, eventPayload(t, "evt_created", "customer.subscription.created", t0, subscription("sub_1", "cus_1", "active", "price_paid")))
	servicetest.RequireStatus(t, rec, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)
	assert.Equal(t, models.TierPremium, f.reload(t, alice.ID).Tier)

	// An older event arriving late does not undo the newer state.
	rec = f.deliver(t, eventPayload(t, "evt_old", "customer.subscription.updated", t0-60, subscription("sub_1", "cus_1", "incomplete", "price_paid")))
	servicetest.RequireStatus(t, rec, http.StatusOK)
	assert.Equal(t, models.TierPremium, f.reload(t, alice.ID).Tier)

	rec = f.deliver(t, eventPayload(t, "evt_unpaid", "customer.subscription.updated", t0+60, subscription("sub_1", "cus_1", "unpaid", "price_premium")))
	servicetest.RequireStatus(t, rec, http.StatusOK)
	u = f.reload(t, alice.ID)
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Equal(t, "unpaid", u.SubscriptionStatus)

	rec = f.deliver(t, eventPayload(t, "evt_deleted", "customer.subscription.deleted", t0+120, subscription("sub_1", "cus_1", "canceled", "price_premium")))
	servicetest.RequireStatus(t, rec, http.StatusOK)
	u = f.reload(t, alice.ID)
	assert.Equal(t, models.TierFree, u.Tier)
	assert.Equal(t, "canceled", u.SubscriptionStatus)
	assert.Empty(t, u.StripeSubscriptionID)
	assert.Nil(t, u.CurrentPeriodEnd)
}

func TestCheckoutCompletedLinksUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.env.User(t, "alice", models.TierFree)
	require.NoError(t, f.env.Store.CreateCoupon(ctx, &models.Coupon{Code: "LAUNCH", PercentOff: 20, MaxRedemptions: 1, Active: true}))

	rec := f.deliver(t, eventPayload(t, "evt_cs", "checkout.session.completed", 1700000000, map[string]interface{}{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"customer":            "cus_9",
		"subscription":        "sub_9",
		"client_reference_id": fmt.Sprint(alice.ID),
		"metadata":            map[string]string{"tier": "paid", "coupon_code": "LAUNCH"},
	}))
	servicetest.RequireStatus(t, rec, http.StatusOK)

	u := f.reload(t, alice.ID)
	assert.Equal(t, models.TierPaid, u.Tier)
	assert.Equal(t, "cus_9", u.StripeCustomerID)
	assert.Equal(t, "sub_9", u.StripeSubscriptionID)

	coupon, err := f.env.Store.GetCouponByCode(ctx, "LAUNCH")
	require.NoError(t, err)
	assert.Equal(t, 1, coupon.TimesRedeemed)

	rec = f.env.Do(t, http.MethodPost, "/api/billing/cancel", nil, u)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	assert.Equal(t, []string{"sub_9"}, f.gateway.cancelled)
}

func TestPaymentFailedNotifies(t *testing.T) {
	f := setup(t)
	alice := f.customer(t, "alice", "cus_1")

	rec := f.deliver(t, eventPayload(t, "evt_inv", "invoice.payment_failed", 1700000000, map[string]interface{}{
		"id":       "in_1",
		"object":   "invoice",
		"customer": "cus_1",
	}))
	servicetest.RequireStatus(t, rec, http.StatusOK)
	assert.Equal(t, "past_due", f.reload(t, alice.ID).SubscriptionStatus)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, models.NotificationBilling, f.notifier.sent[0].Type)
	assert.Equal(t, alice.ID, f.notifier.sent[0].UserID)
}

func TestUnhandledAndUnknownEventsAreAcknowledged(t *testing.T) {
	f := setup(t)

	rec := f.deliver(t, eventPayload(t, "evt_x", "charge.refunded", 1700000000, map[string]interface{}{"id": "ch_1", "object": "charge"}))
	servicetest.RequireStatus(t, rec, http.StatusOK)

	rec = f.deliver(t, eventPayload(t, "evt_y", "customer.subscription.updated", 1700000000, subscription("sub_1", "cus_missing", "active", "price_paid")))
	servicetest.RequireStatus(t, rec, http.StatusOK)
}

// flakyStore fails the next UpdateUser calls.
type flakyStore struct {
	*db.MemStorage
	failures int
}

func (s *flakyStore) UpdateUser(ctx context.Context, u *models.User) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.MemStorage.UpdateUser(ctx, u)
}

func TestWebhookRetryAfterFailureIsApplied(t *testing.T) {
	env := servicetest.New(t)
	prices, err := NewPriceTable(map[string]string{"premium": "price_premium"})
	require.NoError(t, err)
	store := &flakyStore{MemStorage: env.Store}
	NewHandler(store, env.Sessions, &fakeGateway{}, prices, webhookSecret, &fakeNotifier{}, metrics.New(prometheus.NewRegistry()), env.Log).
		RegisterRoutes(env.Router)
	f := &fixture{env: env}

	alice := f.customer(t, "alice", "cus_1")
	store.failures = 1
	payload := eventPayload(t, "evt_retry", "customer.subscription.created", 1700000000, subscription("sub_1", "cus_1", "active", "price_premium"))

	rec := f.deliver(t, payload)
	servicetest.RequireStatus(t, rec, http.StatusInternalServerError)
	assert.Equal(t, models.TierFree, f.reload(t, alice.ID).Tier)

	rec = f.deliver(t, payload)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	assert.NotContains(t, rec.Body.String(), "duplicate")
	assert.Equal(t, models.TierPremium, f.reload(t, alice.ID).Tier)

	rec = f.deliver(t, payload)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)
}
