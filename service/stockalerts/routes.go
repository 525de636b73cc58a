package stockalerts

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/analytics"
	"github.com/KAsare1/Stockalerts-server/service/cache"
	"github.com/KAsare1/Stockalerts-server/service/notifications"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const nearingCacheKey = "stock-alerts:nearing-targets"

// Evaluator checks the alert preferences of one stock after its price changed.
type Evaluator interface {
	ScanAlert(ctx context.Context, alert models.StockAlert) (notifications.Summary, error)
}

type Handler struct {
	store      db.StockAlertStore
	sessions   *utils.Sessions
	cache      cache.Cache
	nearingTTL time.Duration
	evaluator  Evaluator
	log        *logrus.Logger
	now        func() time.Time
}

func NewHandler(store db.StockAlertStore, sessions *utils.Sessions, c cache.Cache, nearingTTL time.Duration, evaluator Evaluator, log *logrus.Logger) *Handler {
	return &Handler{
		store:      store,
		sessions:   sessions,
		cache:      c,
		nearingTTL: nearingTTL,
		evaluator:  evaluator,
		log:        log,
		now:        time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	auth := h.sessions.Authenticate
	admin := func(next http.HandlerFunc) http.HandlerFunc { return auth(utils.RequireAdmin(next)) }

	router.HandleFunc("/stock-alerts", auth(h.handleList)).Methods("GET")
	router.HandleFunc("/stock-alerts/nearing-targets", auth(h.handleNearingTargets)).Methods("GET")
	router.HandleFunc("/stock-alerts/{id:[0-9]+}", auth(h.handleGet)).Methods("GET")

	router.HandleFunc("/stock-alerts", admin(h.handleCreate)).Methods("POST")
	router.HandleFunc("/stock-alerts/{id:[0-9]+}", admin(h.handleUpdate)).Methods("PUT")
	router.HandleFunc("/stock-alerts/{id:[0-9]+}", admin(h.handleDelete)).Methods("DELETE")
	router.HandleFunc("/stock-alerts/{id:[0-9]+}/price", admin(h.handleUpdatePrice)).Methods("PATCH")
	router.HandleFunc("/stock-alerts/{id:[0-9]+}/close", admin(h.handleClose)).Methods("POST")
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && !models.ValidAlertStatus(status) {
		utils.Fail(h.log, w, r, utils.BadRequestf("Unknown status %q", status))
		return
	}
	alerts, err := h.store.ListStockAlerts(r.Context(), db.StockAlertFilter{
		Status: status,
		Symbol: strings.ToUpper(strings.TrimSpace(q.Get("symbol"))),
	})
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, visible(user, alerts))
}

// visible drops alerts the user's tier does not unlock.
func visible(user *models.User, alerts []models.StockAlert) []models.StockAlert {
	out := make([]models.StockAlert, 0, len(alerts))
	for _, a := range alerts {
		if user.CanAccess(a.RequiredTier) {
			out = append(out, a)
		}
	}
	return out
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	alert, err := h.store.GetStockAlert(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if !user.CanAccess(alert.RequiredTier) {
		utils.Fail(h.log, w, r, utils.TierRequired(alert.RequiredTier))
		return
	}
	utils.WriteJSON(w, http.StatusOK, alert)
}

type nearingResponse struct {
	analytics.TargetBuckets
	Total int `json:"total"`
}

func (h *Handler) handleNearingTargets(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	buckets, err := h.nearingTargets(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	resp := nearingResponse{TargetBuckets: analytics.TargetBuckets{
		Target1: visible(user, buckets.Target1),
		Target2: visible(user, buckets.Target2),
		Target3: visible(user, buckets.Target3),
	}}
	resp.Total = resp.TargetBuckets.Total()
	utils.WriteJSON(w, http.StatusOK, resp)
}

// nearingTargets buckets every active alert, served from cache while fresh.
func (h *Handler) nearingTargets(ctx context.Context) (analytics.TargetBuckets, error) {
	var buckets analytics.TargetBuckets
	err := h.cache.Get(ctx, nearingCacheKey, &buckets)
	if err == nil {
		return buckets, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		h.log.Warnf("read nearing targets cache: %v", err)
	}

	alerts, err := h.store.ListStockAlerts(ctx, db.StockAlertFilter{Status: models.AlertStatusActive})
	if err != nil {
		return buckets, err
	}
	buckets = analytics.NearingTargets(alerts)
	if err := h.cache.Set(ctx, nearingCacheKey, buckets, h.nearingTTL); err != nil {
		h.log.Warnf("write nearing targets cache: %v", err)
	}
	return buckets, nil
}

func (h *Handler) invalidate(ctx context.Context) {
	if err := h.cache.Delete(ctx, nearingCacheKey); err != nil {
		h.log.Warnf("invalidate nearing targets cache: %v", err)
	}
}

type alertRequest struct {
	Symbol           string   `json:"symbol" validate:"required,max=20"`
	CompanyName      string   `json:"company_name" validate:"required,max=255"`
	CurrentPrice     float64  `json:"current_price" validate:"gt=0"`
	BuyZoneMin       float64  `json:"buy_zone_min" validate:"gt=0"`
	BuyZoneMax       float64  `json:"buy_zone_max" validate:"gtfield=BuyZoneMin"`
	Target1          float64  `json:"target1" validate:"gtfield=BuyZoneMax"`
	Target2          float64  `json:"target2" validate:"gtfield=Target1"`
	Target3          float64  `json:"target3" validate:"gtfield=Target2"`
	TechnicalReasons []string `json:"technical_reasons" validate:"dive,max=500"`
	RequiredTier     string   `json:"required_tier" default:"paid" validate:"oneof=free paid premium mentorship employee"`
	ChartURL         string   `json:"chart_url" validate:"omitempty,url"`
}

func (req *alertRequest) apply(a *models.StockAlert) {
	a.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	a.CompanyName = req.CompanyName
	a.BuyZoneMin = req.BuyZoneMin
	a.BuyZoneMax = req.BuyZoneMax
	a.Target1 = req.Target1
	a.Target2 = req.Target2
	a.Target3 = req.Target3
	a.TechnicalReasons = req.TechnicalReasons
	a.RequiredTier = models.Tier(req.RequiredTier)
	a.ChartURL = req.ChartURL
	a.ObservePrice(req.CurrentPrice)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	alert := &models.StockAlert{Status: models.AlertStatusActive}
	req.apply(alert)
	if err := h.store.CreateStockAlert(r.Context(), alert); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.invalidate(r.Context())

	h.log.Infof("stock alert %d created for %s", alert.ID, alert.Symbol)
	utils.WriteJSON(w, http.StatusCreated, alert)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req alertRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	alert, err := h.store.GetStockAlert(r.Context(), id)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	req.apply(alert)
	if err := h.store.UpdateStockAlert(r.Context(), alert); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.invalidate(r.Context())

	summary := h.evaluate(r.Context(), alert)
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alert":    alert,
		"triggers": summary,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if err := h.store.DeleteStockAlert(r.Context(), id); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.invalidate(r.Context())
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Stock alert deleted successfully"})
}

type priceRequest struct {
	Price float64 `json:"price" validate:"gt=0"`
}

// handleUpdatePrice stores the new price and evaluates the alert preferences of the stock.
func (h *Handler) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req priceRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	alert, err := h.store.UpdateStockAlertPrice(r.Context(), id, req.Price)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.invalidate(r.Context())

	summary := h.evaluate(r.Context(), alert)
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alert":    alert,
		"triggers": summary,
	})
}

// evaluate runs the trigger check. The price is already stored, so a failure is only logged.
func (h *Handler) evaluate(ctx context.Context, alert *models.StockAlert) notifications.Summary {
	if h.evaluator == nil {
		return notifications.Summary{}
	}
	summary, err := h.evaluator.ScanAlert(ctx, *alert)
	if err != nil {
		h.log.Errorf("evaluate triggers for alert %d: %v", alert.ID, err)
	}
	return summary
}

type closeRequest struct {
	Status string `json:"status" default:"closed" validate:"oneof=closed cancelled"`
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := utils.PathID(r, "id")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	req := closeRequest{Status: models.AlertStatusClosed}
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.Fail(h.log, w, r, err)
			return
		}
	}

	alert, err := h.store.CloseStockAlert(r.Context(), id, req.Status, h.now())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.invalidate(r.Context())
	h.log.Infof("stock alert %d %s", alert.ID, alert.Status)
	utils.WriteJSON(w, http.StatusOK, alert)
}
