package billing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// PriceTable maps purchasable tiers to Stripe price IDs and back.
type PriceTable struct {
	byTier  map[models.Tier]string
	byPrice map[string]models.Tier
}

// NewPriceTable builds the table from tier name to price ID pairs. Unknown tiers are rejected.
func NewPriceTable(prices map[string]string) (*PriceTable, error) {
	t := &PriceTable{
		byTier:  make(map[models.Tier]string, len(prices)),
		byPrice: make(map[string]models.Tier, len(prices)),
	}
	for name, priceID := range prices {
		tier, err := models.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("price table: %w", err)
		}
		if tier == models.TierFree || tier == models.TierEmployee {
			return nil, fmt.Errorf("price table: tier %s cannot be purchased", tier)
		}
		t.byTier[tier] = priceID
		t.byPrice[priceID] = tier
	}
	return t, nil
}

func (t *PriceTable) PriceFor(tier models.Tier) (string, bool) {
	id, ok := t.byTier[tier]
	return id, ok
}

func (t *PriceTable) TierFor(priceID string) (models.Tier, bool) {
	tier, ok := t.byPrice[priceID]
	return tier, ok
}

type CheckoutRequest struct {
	CustomerID     string
	PriceID        string
	UserID         uint
	Tier           models.Tier
	StripeCouponID string
	// CouponCode travels in the session metadata and is redeemed once the checkout completes.
	CouponCode string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Gateway is the part of Stripe the billing handler uses.
type Gateway interface {
	// EnsureCustomer returns the user's customer ID, creating the customer when missing.
	EnsureCustomer(ctx context.Context, user *models.User) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// CancelSubscription stops renewal. Access lasts until the current period ends.
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

type StripeGateway struct {
	api        *client.API
	successURL string
	cancelURL  string
}

func NewStripeGateway(secretKey, successURL, cancelURL string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, successURL: successURL, cancelURL: cancelURL}
}

func (g *StripeGateway) EnsureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.FullName),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(user.ID), 10))

	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(strconv.FormatUint(uint64(req.UserID), 10)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"tier": string(req.Tier)},
		},
	}
	if req.StripeCouponID != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(req.StripeCouponID)},
		}
	}
	params.Context = ctx
	params.AddMetadata("tier", string(req.Tier))
	if req.CouponCode != "" {
		params.AddMetadata("coupon_code", req.CouponCode)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}
