package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/cmd/utils"
	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/KAsare1/Stockalerts-server/service/analytics"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Store interface {
	Stats(ctx context.Context) (*db.Stats, error)
	ListStockAlerts(ctx context.Context, f db.StockAlertFilter) ([]models.StockAlert, error)
}

type DashboardHandler struct {
	store    Store
	sessions *utils.Sessions
	log      *logrus.Logger
}

func NewDashboardHandler(store Store, sessions *utils.Sessions, log *logrus.Logger) *DashboardHandler {
	return &DashboardHandler{store: store, sessions: sessions, log: log}
}

type DashboardStats struct {
	*db.Stats
	NearingTargets int       `json:"nearing_targets"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// RegisterRoutes registers dashboard-related routes with Gorilla Mux
func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/dashboard", h.sessions.Authenticate(utils.RequireAdmin(h.GetDashboardStats))).Methods("GET")
}

func (h *DashboardHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	active, err := h.store.ListStockAlerts(r.Context(), db.StockAlertFilter{Status: models.AlertStatusActive})
	if err != nil {
		utils.Fail(h.log, w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, DashboardStats{
		Stats:          stats,
		NearingTargets: analytics.NearingTargets(active).Total(),
		GeneratedAt:    time.Now().UTC(),
	})
}
