package coupons

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	store    db.CouponStore
	sessions *utils.Sessions
	log      *logrus.Logger
	now      func() time.Time
}

func NewHandler(store db.CouponStore, sessions *utils.Sessions, log *logrus.Logger) *Handler {
	return &Handler{store: store, sessions: sessions, log: log, now: time.Now}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	admin := func(next http.HandlerFunc) http.HandlerFunc {
		return h.sessions.Authenticate(utils.RequireAdmin(next))
	}

	router.HandleFunc("/coupons/validate", h.handleValidate).Methods("POST")
	router.HandleFunc("/coupons", admin(h.handleListCoupons)).Methods("GET")
	router.HandleFunc("/coupons", admin(h.handleCreateCoupon)).Methods("POST")
	router.HandleFunc("/coupons/{id:[0-9]+}", admin(h.handleGetCoupon)).Methods("GET")
	router.HandleFunc("/coupons/{id:[0-9]+}", admin(h.handleUpdateCoupon)).Methods("PUT")
	router.HandleFunc("/coupons/{id:[0-9]+}", admin(h.handleDeleteCoupon)).Methods("DELETE")

	router.HandleFunc("/discounts/active", h.handleActiveDiscounts).Methods("GET")
	router.HandleFunc("/discounts", admin(h.handleListDiscounts)).Methods("GET")
	router.HandleFunc("/discounts", admin(h.handleCreateDiscount)).Methods("POST")
	router.HandleFunc("/discounts/{id:[0-9]+}", admin(h.handleUpdateDiscount)).Methods("PUT")
	router.HandleFunc("/discounts/{id:[0-9]+}", admin(h.handleDeleteDiscount)).Methods("DELETE")
}

// newCode returns an 8 character upper case code.
func newCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

type couponRequest struct {
	Code           string     `json:"code" validate:"omitempty,alphanum,min=3,max=64"`
	Description    string     `json:"description"`
	PercentOff     float64    `json:"percent_off" validate:"required_without=AmountOff,gte=0,lte=100"`
	AmountOff      float64    `json:"amount_off" validate:"gte=0"`
	MaxRedemptions int        `json:"max_redemptions" validate:"gte=0"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Active         *bool      `json:"active"`
	StripeCouponID string     `json:"stripe_coupon_id" validate:"max=255"`
}

func (req couponRequest) apply(c *models.Coupon) {
	c.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	c.Description = req.Description
	c.PercentOff = req.PercentOff
	c.AmountOff = req.AmountOff
	c.MaxRedemptions = req.MaxRedemptions
	c.ExpiresAt = req.ExpiresAt
	c.Active = req.Active == nil || *req.Active
	c.StripeCouponID = req.StripeCouponID
}

func (h *Handler) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.store.ListCoupons(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, coupons)
}

func (h *Handler) handleGetCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	coupon, err := h.store.GetCoupon(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, coupon)
}

func (h *Handler) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	var coupon models.Coupon
	req.apply(&coupon)
	if coupon.Code == "" {
		coupon.Code = newCode()
	}
	if err := h.store.CreateCoupon(r.Context(), &coupon); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			err = utils.NewAPIError("ERR_DUPLICATE_CODE", "code", "A coupon with this code already exists", http.StatusConflict).WithError(err)
		}
		utils.Fail(h.log, w, r, err)
		return
	}
	h.log.Infof("coupon %s created", coupon.Code)
	utils.WriteJSON(w, http.StatusCreated, coupon)
}

func (h *Handler) handleUpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req couponRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	coupon, err := h.store.GetCoupon(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	code := coupon.Code
	req.apply(coupon)
	if coupon.Code == "" {
		coupon.Code = code
	}
	if err := h.store.UpdateCoupon(r.Context(), coupon); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, coupon)
}

func (h *Handler) handleDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if err := h.store.DeleteCoupon(r.Context(), id); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Coupon deleted successfully"})
}

type validateRequest struct {
	Code string `json:"code" validate:"required"`
}

// handleValidate checks a code without redeeming it. Redemption happens at checkout.
func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	coupon, err := h.store.GetCouponByCode(r.Context(), strings.TrimSpace(req.Code))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			err = utils.NotFound("Coupon not found").WithError(err)
		}
		utils.Fail(h.log, w, r, err)
		return
	}
	if !coupon.Redeemable(h.now()) {
		utils.Fail(h.log, w, r, utils.NewAPIError("ERR_COUPON_UNAVAILABLE", "code", "Coupon is expired or fully redeemed", http.StatusConflict))
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid":       true,
		"code":        coupon.Code,
		"percent_off": coupon.PercentOff,
		"amount_off":  coupon.AmountOff,
		"expires_at":  coupon.ExpiresAt,
	})
}

type discountRequest struct {
	Name       string      `json:"name" validate:"required,max=255"`
	Tier       models.Tier `json:"tier" validate:"required,oneof=paid premium mentorship"`
	PercentOff float64     `json:"percent_off" validate:"gt=0,lte=100"`
	StartsAt   time.Time   `json:"starts_at" validate:"required"`
	EndsAt     *time.Time  `json:"ends_at" validate:"omitempty,gtfield=StartsAt"`
	Active     *bool       `json:"active"`
}

func (req discountRequest) apply(d *models.Discount) {
	d.Name = req.Name
	d.Tier = req.Tier
	d.PercentOff = req.PercentOff
	d.StartsAt = req.StartsAt
	d.EndsAt = req.EndsAt
	d.Active = req.Active == nil || *req.Active
}

func (h *Handler) handleListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := h.store.ListDiscounts(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, discounts)
}

func (h *Handler) handleActiveDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := h.store.ListDiscounts(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	now := h.now()
	active := make([]models.Discount, 0, len(discounts))
	for _, d := range discounts {
		if d.ActiveAt(now) {
			active = append(active, d)
		}
	}
	utils.WriteJSON(w, http.StatusOK, active)
}

func (h *Handler) handleCreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var discount models.Discount
	req.apply(&discount)
	if err := h.store.CreateDiscount(r.Context(), &discount); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, discount)
}

func (h *Handler) handleUpdateDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req discountRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	discount, err := h.store.GetDiscount(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	req.apply(discount)
	if err := h.store.UpdateDiscount(r.Context(), discount); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, discount)
}

func (h *Handler) handleDeleteDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if err := h.store.DeleteDiscount(r.Context(), id); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Discount deleted successfully"})
}
