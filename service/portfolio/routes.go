package portfolio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/analytics"
	"github.com/KAsare1/Stockalerts-server/service/cache"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Store interface {
	db.PortfolioStore
	GetStockAlert(ctx context.Context, id uint) (*models.StockAlert, error)
	ListStockAlerts(ctx context.Context, f db.StockAlertFilter) ([]models.StockAlert, error)
}

type Handler struct {
	store      Store
	sessions   *utils.Sessions
	cache      cache.Cache
	summaryTTL time.Duration
	log        *logrus.Logger
	now        func() time.Time
}

func NewHandler(store Store, sessions *utils.Sessions, c cache.Cache, summaryTTL time.Duration, log *logrus.Logger) *Handler {
	return &Handler{
		store:      store,
		sessions:   sessions,
		cache:      c,
		summaryTTL: summaryTTL,
		log:        log,
		now:        time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	auth := h.sessions.Authenticate

	router.HandleFunc("/portfolio", auth(h.handleList)).Methods("GET")
	router.HandleFunc("/portfolio/summary", auth(h.handleSummary)).Methods("GET")
	router.HandleFunc("/portfolio", auth(h.handleBuy)).Methods("POST")
	router.HandleFunc("/portfolio/{id:[0-9]+}/sell", auth(h.handleSell)).Methods("POST")
	router.HandleFunc("/portfolio/{id:[0-9]+}", auth(h.handleDelete)).Methods("DELETE")
}

func summaryKey(userID uint) string {
	return fmt.Sprintf("portfolio:summary:%d", userID)
}

// Entry is a portfolio item with the alert it was bought against.
type Entry struct {
	models.PortfolioItem
	StockAlert *models.StockAlert `json:"stock_alert,omitempty"`
}

func (h *Handler) alertsByID(ctx context.Context) (map[uint]models.StockAlert, error) {
	alerts, err := h.store.ListStockAlerts(ctx, db.StockAlertFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.StockAlert, len(alerts))
	for _, a := range alerts {
		byID[a.ID] = a
	}
	return byID, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	items, err := h.store.ListPortfolioItems(r.Context(), user.ID)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	alerts, err := h.alertsByID(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		e := Entry{PortfolioItem: item}
		if a, ok := alerts[item.StockAlertID]; ok {
			e.StockAlert = &a
		}
		entries = append(entries, e)
	}
	utils.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	var summary analytics.PortfolioSummary
	key := summaryKey(user.ID)
	if err := h.cache.Get(r.Context(), key, &summary); err == nil {
		utils.WriteJSON(w, http.StatusOK, summary)
		return
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		h.log.Warnf("read portfolio summary cache: %v", err)
	}

	items, err := h.store.ListPortfolioItems(r.Context(), user.ID)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	alerts, err := h.alertsByID(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	summary = analytics.Summarize(items, alerts)
	if err := h.cache.Set(r.Context(), key, summary, h.summaryTTL); err != nil {
		h.log.Warnf("write portfolio summary cache: %v", err)
	}
	utils.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) invalidate(ctx context.Context, userID uint) {
	if err := h.cache.Delete(ctx, summaryKey(userID)); err != nil {
		h.log.Warnf("invalidate portfolio summary: %v", err)
	}
}

type buyRequest struct {
	StockAlertID uint    `json:"stock_alert_id" validate:"required"`
	BoughtPrice  float64 `json:"bought_price" validate:"gt=0"`
	Quantity     float64 `json:"quantity" validate:"gt=0"`
	Notes        string  `json:"notes" validate:"max=2000"`
}

func (h *Handler) handleBuy(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req buyRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	alert, err := h.store.GetStockAlert(r.Context(), req.StockAlertID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			err = utils.NotFound("Stock alert not found").WithError(err)
		}
		utils.Fail(h.log, w, r, err)
		return
	}
	if !user.CanAccess(alert.RequiredTier) {
		utils.Fail(h.log, w, r, utils.TierRequired(alert.RequiredTier))
		return
	}

	item := &models.PortfolioItem{
		UserID:       user.ID,
		StockAlertID: alert.ID,
		BoughtPrice:  req.BoughtPrice,
		Quantity:     req.Quantity,
		Notes:        req.Notes,
	}
	if err := h.store.CreatePortfolioItem(r.Context(), item); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.invalidate(r.Context(), user.ID)
	utils.WriteJSON(w, http.StatusCreated, Entry{PortfolioItem: *item, StockAlert: alert})
}

type sellRequest struct {
	SoldPrice float64 `json:"sold_price" validate:"gt=0"`
}

func (h *Handler) handleSell(w http.ResponseWriter, r *http.Request) {
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
	var req sellRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	item, err := h.store.SellPortfolioItem(r.Context(), id, user.ID, req.SoldPrice, h.now())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.invalidate(r.Context(), user.ID)
	h.log.Infof("user %d sold portfolio item %d at %.2f", user.ID, item.ID, req.SoldPrice)
	utils.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
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
	if err := h.store.DeletePortfolioItem(r.Context(), id, user.ID); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	h.invalidate(r.Context(), user.ID)
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Portfolio item deleted successfully"})
}
