package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/metrics"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Store interface {
	db.UserStore
	db.WebhookStore
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	RedeemCoupon(ctx context.Context, code string, now time.Time) (*models.Coupon, error)
}

type Notifier interface {
	Notify(ctx context.Context, n *models.Notification, push bool) error
}

type Handler struct {
	store         Store
	sessions      *utils.Sessions
	gateway       Gateway
	prices        *PriceTable
	webhookSecret string
	notifier      Notifier
	metrics       *metrics.Recorder
	log           *logrus.Logger
	now           func() time.Time
}

// NewHandler builds the billing handler. A nil gateway disables checkout and cancel,
// an empty webhookSecret disables the webhook. notifier may be nil.
func NewHandler(store Store, sessions *utils.Sessions, gateway Gateway, prices *PriceTable, webhookSecret string, notifier Notifier, rec *metrics.Recorder, log *logrus.Logger) *Handler {
	return &Handler{
		store:         store,
		sessions:      sessions,
		gateway:       gateway,
		prices:        prices,
		webhookSecret: webhookSecret,
		notifier:      notifier,
		metrics:       rec,
		log:           log,
		now:           time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	auth := h.sessions.Authenticate

	router.HandleFunc("/billing/checkout", auth(h.handleCheckout)).Methods("POST")
	router.HandleFunc("/billing/cancel", auth(h.handleCancel)).Methods("POST")
	router.HandleFunc("/billing/status", auth(h.handleStatus)).Methods("GET")
	router.HandleFunc("/billing/webhook", h.handleWebhook).Methods("POST")
}

func billingUnavailable() *utils.APIError {
	return utils.NewAPIError("ERR_BILLING_UNAVAILABLE", "", "Billing is not configured", http.StatusServiceUnavailable)
}

type checkoutRequest struct {
	Tier       models.Tier `json:"tier" validate:"required,oneof=paid premium mentorship"`
	CouponCode string      `json:"coupon_code" validate:"max=64"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if h.gateway == nil {
		utils.Fail(h.log, w, r, billingUnavailable())
		return
	}
	var req checkoutRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	priceID, ok := h.prices.PriceFor(req.Tier)
	if !ok {
		utils.Fail(h.log, w, r, utils.NewAPIError("ERR_TIER_NOT_FOR_SALE", "tier", "This tier is not available for purchase", http.StatusBadRequest))
		return
	}
	if user.Tier == req.Tier && user.SubscriptionStatus == "active" {
		utils.Fail(h.log, w, r, utils.Conflict("You are already subscribed to this tier"))
		return
	}

	var coupon *models.Coupon
	if code := strings.TrimSpace(req.CouponCode); code != "" {
		coupon, err = h.store.GetCouponByCode(r.Context(), code)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				err = utils.NewAPIError("ERR_COUPON_NOT_FOUND", "coupon_code", "Coupon not found", http.StatusBadRequest).WithError(err)
			}
			utils.Fail(h.log, w, r, err)
			return
		}
		if !coupon.Redeemable(h.now()) {
			utils.Fail(h.log, w, r, utils.NewAPIError("ERR_COUPON_UNAVAILABLE", "coupon_code", "Coupon is expired or fully redeemed", http.StatusConflict))
			return
		}
	}

	customerID, err := h.gateway.EnsureCustomer(r.Context(), user)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if user.StripeCustomerID != customerID {
		user.StripeCustomerID = customerID
		if err := h.store.UpdateUser(r.Context(), user); err != nil {
			utils.Fail(h.log, w, r, err)
			return
		}
	}

	checkout := CheckoutRequest{CustomerID: customerID, PriceID: priceID, UserID: user.ID, Tier: req.Tier}
	if coupon != nil {
		checkout.StripeCouponID = coupon.StripeCouponID
		checkout.CouponCode = coupon.Code
	}
	session, err := h.gateway.CreateCheckoutSession(r.Context(), checkout)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	h.log.WithFields(logrus.Fields{"user_id": user.ID, "tier": req.Tier, "session": session.ID}).Info("checkout session created")
	utils.WriteJSON(w, http.StatusOK, map[string]string{
		"session_id":   session.ID,
		"checkout_url": session.URL,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if h.gateway == nil {
		utils.Fail(h.log, w, r, billingUnavailable())
		return
	}
	if user.StripeSubscriptionID == "" || user.SubscriptionStatus == "canceled" {
		utils.Fail(h.log, w, r, utils.BadRequest("No active subscription"))
		return
	}

	if err := h.gateway.CancelSubscription(r.Context(), user.StripeSubscriptionID); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.log.Infof("user %d cancelled subscription %s", user.ID, user.StripeSubscriptionID)
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":            "Subscription will end at the close of the current period",
		"current_period_end": user.CurrentPeriodEnd,
	})
}

type statusResponse struct {
	Tier               models.Tier `json:"tier"`
	SubscriptionStatus string      `json:"subscription_status"`
	CurrentPeriodEnd   *time.Time  `json:"current_period_end,omitempty"`
	HasSubscription    bool        `json:"has_subscription"`
	BillingEnabled     bool        `json:"billing_enabled"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	status := user.SubscriptionStatus
	if status == "" {
		status = "none"
	}
	utils.WriteJSON(w, http.StatusOK, statusResponse{
		Tier:               user.Tier,
		SubscriptionStatus: status,
		CurrentPeriodEnd:   user.CurrentPeriodEnd,
		HasSubscription:    user.StripeSubscriptionID != "",
		BillingEnabled:     h.gateway != nil,
	})
}
