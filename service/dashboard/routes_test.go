package dashboard

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardStats(t *testing.T) {
	env := servicetest.New(t)
	NewDashboardHandler(env.Store, env.Sessions, env.Log).RegisterRoutes(env.Router)
	ctx := context.Background()

	admin := env.Admin(t)
	alice := env.User(t, "alice", models.TierPaid)
	env.User(t, "bob", models.TierFree)

	nearing := env.Alert(t, "AAPL", 115, models.TierPaid)
	env.Alert(t, "MSFT", 95, models.TierPaid)
	closed := env.Alert(t, "NVDA", 95, models.TierPremium)
	_, err := env.Store.CloseStockAlert(ctx, closed.ID, models.AlertStatusClosed, time.Now())
	require.NoError(t, err)

	item := &models.PortfolioItem{UserID: alice.ID, StockAlertID: nearing.ID, BoughtPrice: 95, Quantity: 5}
	require.NoError(t, env.Store.CreatePortfolioItem(ctx, item))
	require.NoError(t, env.Store.CreateNotification(ctx, &models.Notification{UserID: alice.ID, Title: "t", Message: "m", Type: models.NotificationSystem}))

	rec := env.Do(t, http.MethodGet, "/api/admin/dashboard", nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusForbidden)

	rec = env.Do(t, http.MethodGet, "/api/admin/dashboard", nil, admin)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var stats DashboardStats
	servicetest.Decode(t, rec, &stats)
	require.NotNil(t, stats.Stats)
	assert.Equal(t, int64(3), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.UsersByTier[models.TierPaid])
	assert.Equal(t, int64(2), stats.ActiveAlerts)
	assert.Equal(t, int64(1), stats.ClosedAlerts)
	assert.Equal(t, int64(1), stats.OpenPositions)
	assert.Equal(t, int64(1), stats.UnreadNotifications)
	assert.Equal(t, 1, stats.NearingTargets)
	assert.False(t, stats.GeneratedAt.IsZero())
}
