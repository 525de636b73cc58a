package preferences

import (
	"context"
	"errors"
	"net/http"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Store interface {
	db.PreferenceStore
	ClearTriggers(ctx context.Context, preferenceID uint) error
	GetStockAlert(ctx context.Context, id uint) (*models.StockAlert, error)
}

type Handler struct {
	store    Store
	sessions *utils.Sessions
	log      *logrus.Logger
}

func NewHandler(store Store, sessions *utils.Sessions, log *logrus.Logger) *Handler {
	return &Handler{store: store, sessions: sessions, log: log}
}

// RegisterRoutes mounts the alert preference routes. Alert notifications start at the paid tier.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	paid := func(next http.HandlerFunc) http.HandlerFunc {
		return h.sessions.Authenticate(utils.RequireTier(models.TierPaid, next))
	}

	router.HandleFunc("/alert-preferences", paid(h.handleList)).Methods("GET")
	router.HandleFunc("/alert-preferences/{stockAlertId:[0-9]+}", paid(h.handleGet)).Methods("GET")
	router.HandleFunc("/alert-preferences/{stockAlertId:[0-9]+}", paid(h.handleUpsert)).Methods("PUT")
	router.HandleFunc("/alert-preferences/{stockAlertId:[0-9]+}", paid(h.handleDelete)).Methods("DELETE")
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	prefs, err := h.store.ListAlertPreferences(r.Context(), user.ID)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, prefs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	stockAlertID, err := utils.PathID(r, "stockAlertId")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	pref, err := h.store.GetAlertPreference(r.Context(), user.ID, stockAlertID)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, pref)
}

type preferenceRequest struct {
	Target1             bool     `json:"target1"`
	Target2             bool     `json:"target2"`
	Target3             bool     `json:"target3"`
	CustomTargetPercent *float64 `json:"custom_target_percent" validate:"omitempty,gt=0,lte=1000"`
	CustomTargetPrice   *float64 `json:"custom_target_price" validate:"omitempty,gt=0"`
	EmailEnabled        bool     `json:"email_enabled"`
	PushEnabled         bool     `json:"push_enabled"`
	WebEnabled          *bool    `json:"web_enabled"`
}

// handleUpsert saves the preference. Editing an existing preference forgets the
// triggers already sent for it, so the new settings can fire again.
func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	stockAlertID, err := utils.PathID(r, "stockAlertId")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	var req preferenceRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	alert, err := h.store.GetStockAlert(r.Context(), stockAlertID)
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

	_, err = h.store.GetAlertPreference(r.Context(), user.ID, stockAlertID)
	existed := err == nil
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		utils.Fail(h.log, w, r, err)
		return
	}

	pref := &models.AlertPreference{
		UserID:              user.ID,
		StockAlertID:        alert.ID,
		Target1:             req.Target1,
		Target2:             req.Target2,
		Target3:             req.Target3,
		CustomTargetPercent: req.CustomTargetPercent,
		CustomTargetPrice:   req.CustomTargetPrice,
		EmailEnabled:        req.EmailEnabled,
		PushEnabled:         req.PushEnabled,
		WebEnabled:          req.WebEnabled == nil || *req.WebEnabled,
	}
	if err := h.store.UpsertAlertPreference(r.Context(), pref); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
		if err := h.store.ClearTriggers(r.Context(), pref.ID); err != nil {
			h.log.Errorf("clear triggers for preference %d: %v", pref.ID, err)
		}
	}
	utils.WriteJSON(w, status, pref)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, err := utils.CurrentUser(r)
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	stockAlertID, err := utils.PathID(r, "stockAlertId")
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	if err := h.store.DeleteAlertPreference(r.Context(), user.ID, stockAlertID); err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Alert preference deleted successfully"})
}
