package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const maxWebhookBytes = int64(65536)

const (
	eventCheckoutCompleted    = "checkout.session.completed"
	eventSubscriptionCreated  = "customer.subscription.created"
	eventSubscriptionUpdated  = "customer.subscription.updated"
	eventSubscriptionDeleted  = "customer.subscription.deleted"
	eventInvoicePaymentFailed = "invoice.payment_failed"
)

const (
	outcomeApplied          = "applied"
	outcomeDuplicate        = "duplicate"
	outcomeStale            = "stale"
	outcomeIgnored          = "ignored"
	outcomeUnknownUser      = "unknown_user"
	outcomeFailed           = "failed"
	outcomeInvalidSignature = "invalid_signature"
)

var errUnknownUser = errors.New("no user for billing event")

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		utils.Fail(h.log, w, r, billingUnavailable())
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		utils.Fail(h.log, w, r, utils.BadRequest("Unable to read request body").WithError(err))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.metrics.RecordWebhook("unknown", outcomeInvalidSignature)
		utils.Fail(h.log, w, r, utils.BadRequest("Invalid webhook signature").WithError(err))
		return
	}

	eventType := string(event.Type)
	log := h.log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": eventType})

	fresh, err := h.store.RecordWebhookEvent(r.Context(), event.ID, eventType, h.now())
	if err != nil {
		h.metrics.RecordWebhook(eventType, outcomeFailed)
		utils.Fail(h.log, w, r, err)
		return
	}
	if !fresh {
		log.Info("duplicate webhook event ignored")
		h.metrics.RecordWebhook(eventType, outcomeDuplicate)
		utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"received": true, "duplicate": true})
		return
	}

	outcome, err := h.process(r.Context(), event)
	switch {
	case errors.Is(err, errUnknownUser):
		log.Warnf("webhook skipped: %v", err)
		outcome = outcomeUnknownUser
	case err != nil:
		// Stripe retries on 5xx; the retry must not be taken for a duplicate.
		if forgetErr := h.store.ForgetWebhookEvent(r.Context(), event.ID); forgetErr != nil {
			log.Errorf("forget failed webhook event: %v", forgetErr)
		}
		h.metrics.RecordWebhook(eventType, outcomeFailed)
		utils.Fail(h.log, w, r, err)
		return
	}
	log.WithField("outcome", outcome).Info("webhook processed")
	h.metrics.RecordWebhook(eventType, outcome)
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

func (h *Handler) process(ctx context.Context, event stripe.Event) (string, error) {
	eventAt := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case eventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return "", fmt.Errorf("parse checkout session: %w", err)
		}
		user, err := h.checkoutUser(ctx, &cs)
		if err != nil {
			return "", err
		}
		outcome, err := h.apply(ctx, user, eventAt, func(u *models.User) {
			if cs.Customer != nil {
				u.StripeCustomerID = cs.Customer.ID
			}
			if cs.Subscription != nil {
				u.StripeSubscriptionID = cs.Subscription.ID
			}
			u.SubscriptionStatus = string(stripe.SubscriptionStatusActive)
			if tier, err := models.ParseTier(cs.Metadata["tier"]); err == nil {
				if _, ok := h.prices.PriceFor(tier); ok {
					setTier(u, tier)
				}
			}
		})
		if err == nil {
			h.redeemCoupon(ctx, user, cs.Metadata["coupon_code"])
		}
		return outcome, err

	case eventSubscriptionCreated, eventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("parse subscription: %w", err)
		}
		user, err := h.customerUser(ctx, sub.Customer)
		if err != nil {
			return "", err
		}
		return h.apply(ctx, user, eventAt, func(u *models.User) {
			u.StripeSubscriptionID = sub.ID
			u.SubscriptionStatus = string(sub.Status)
			if sub.CurrentPeriodEnd > 0 {
				end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
				u.CurrentPeriodEnd = &end
			}
			switch sub.Status {
			case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
				if tier, ok := h.subscriptionTier(&sub); ok {
					setTier(u, tier)
				}
			default:
				setTier(u, models.TierFree)
			}
		})

	case eventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("parse subscription: %w", err)
		}
		user, err := h.customerUser(ctx, sub.Customer)
		if err != nil {
			return "", err
		}
		return h.apply(ctx, user, eventAt, func(u *models.User) {
			u.StripeSubscriptionID = ""
			u.SubscriptionStatus = string(stripe.SubscriptionStatusCanceled)
			u.CurrentPeriodEnd = nil
			setTier(u, models.TierFree)
		})

	case eventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", fmt.Errorf("parse invoice: %w", err)
		}
		user, err := h.customerUser(ctx, inv.Customer)
		if err != nil {
			return "", err
		}
		outcome, err := h.apply(ctx, user, eventAt, func(u *models.User) {
			u.SubscriptionStatus = string(stripe.SubscriptionStatusPastDue)
		})
		if err == nil && outcome == outcomeApplied {
			h.notifyPaymentFailed(ctx, user)
		}
		return outcome, err
	}
	return outcomeIgnored, nil
}

// apply runs change on the user unless a newer event was already applied.
func (h *Handler) apply(ctx context.Context, user *models.User, eventAt time.Time, change func(u *models.User)) (string, error) {
	if user.BillingSyncedAt != nil && eventAt.Before(*user.BillingSyncedAt) {
		return outcomeStale, nil
	}
	change(user)
	user.BillingSyncedAt = &eventAt
	if err := h.store.UpdateUser(ctx, user); err != nil {
		return "", fmt.Errorf("update billing for user %d: %w", user.ID, err)
	}
	return outcomeApplied, nil
}

// setTier changes a member's tier. Staff tiers are never touched by billing.
func setTier(u *models.User, tier models.Tier) {
	if u.Tier == models.TierEmployee {
		return
	}
	u.Tier = tier
}

func (h *Handler) subscriptionTier(sub *stripe.Subscription) (models.Tier, bool) {
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if tier, ok := h.prices.TierFor(item.Price.ID); ok {
				return tier, true
			}
		}
	}
	tier, err := models.ParseTier(sub.Metadata["tier"])
	if err != nil {
		return "", false
	}
	_, ok := h.prices.PriceFor(tier)
	return tier, ok
}

func (h *Handler) checkoutUser(ctx context.Context, cs *stripe.CheckoutSession) (*models.User, error) {
	if id, err := strconv.ParseUint(cs.ClientReferenceID, 10, 64); err == nil {
		user, err := h.store.GetUser(ctx, uint(id))
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	return h.customerUser(ctx, cs.Customer)
}

func (h *Handler) customerUser(ctx context.Context, customer *stripe.Customer) (*models.User, error) {
	if customer == nil || customer.ID == "" {
		return nil, fmt.Errorf("%w: event has no customer", errUnknownUser)
	}
	user, err := h.store.GetUserByStripeCustomer(ctx, customer.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: customer %s", errUnknownUser, customer.ID)
	}
	return user, err
}

// redeemCoupon counts a coupon once its checkout has been paid. Stripe already applied the
// discount, so a coupon exhausted in the meantime is only logged.
func (h *Handler) redeemCoupon(ctx context.Context, user *models.User, code string) {
	if code == "" {
		return
	}
	if _, err := h.store.RedeemCoupon(ctx, code, h.now()); err != nil {
		h.log.Warnf("redeem coupon %s for user %d: %v", code, user.ID, err)
	}
}

func (h *Handler) notifyPaymentFailed(ctx context.Context, user *models.User) {
	if h.notifier == nil {
		return
	}
	n := &models.Notification{
		UserID:  user.ID,
		Title:   "Payment failed",
		Message: "We could not process your latest subscription payment. Please update your payment method to keep your membership.",
		Type:    models.NotificationBilling,
	}
	if err := h.notifier.Notify(ctx, n, true); err != nil {
		h.log.Errorf("notify payment failure for user %d: %v", user.ID, err)
	}
}
