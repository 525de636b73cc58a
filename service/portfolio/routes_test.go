package portfolio

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/service/analytics"
	"github.com/KAsare1/Stockalerts-server/service/cache"
	"github.com/KAsare1/Stockalerts-server/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *servicetest.Env {
	env := servicetest.New(t)
	NewHandler(env.Store, env.Sessions, cache.NewMemoryCache(), time.Minute, env.Log).RegisterRoutes(env.Router)
	return env
}

func buy(t *testing.T, env *servicetest.Env, u *models.User, alertID uint, price, qty float64) Entry {
	t.Helper()
	rec := env.Do(t, http.MethodPost, "/api/portfolio", map[string]interface{}{
		"stock_alert_id": alertID,
		"bought_price":   price,
		"quantity":       qty,
	}, u)
	servicetest.RequireStatus(t, rec, http.StatusCreated)
	var e Entry
	servicetest.Decode(t, rec, &e)
	return e
}

func TestBuyAndSummarize(t *testing.T) {
	env := setup(t)
	alice := env.User(t, "alice", models.TierPaid)
	alert := env.Alert(t, "AAPL", 110, models.TierPaid)

	entry := buy(t, env, alice, alert.ID, 100, 10)
	require.NotNil(t, entry.StockAlert)
	assert.Equal(t, "AAPL", entry.StockAlert.Symbol)

	rec := env.Do(t, http.MethodGet, "/api/portfolio/summary", nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var summary analytics.PortfolioSummary
	servicetest.Decode(t, rec, &summary)
	assert.Equal(t, 1, summary.ActiveCount)
	assert.Equal(t, 1000.0, summary.Invested)
	assert.Equal(t, 1100.0, summary.CurrentValue)
	assert.Equal(t, 100.0, summary.GainLoss)
	assert.Equal(t, 10.0, summary.GainLossPercent)

	rec = env.Do(t, http.MethodGet, "/api/portfolio", nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var entries []Entry
	servicetest.Decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, alert.ID, entries[0].StockAlert.ID)
}

func TestBuyValidation(t *testing.T) {
	env := setup(t)
	paid := env.User(t, "paid", models.TierPaid)
	premium := env.Alert(t, "NVDA", 100, models.TierPremium)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"missing alert", map[string]interface{}{"stock_alert_id": 999, "bought_price": 10, "quantity": 1}, http.StatusNotFound},
		{"zero quantity", map[string]interface{}{"stock_alert_id": premium.ID, "bought_price": 10, "quantity": 0}, http.StatusBadRequest},
		{"negative price", map[string]interface{}{"stock_alert_id": premium.ID, "bought_price": -1, "quantity": 1}, http.StatusBadRequest},
		{"locked tier", map[string]interface{}{"stock_alert_id": premium.ID, "bought_price": 10, "quantity": 1}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.Do(t, http.MethodPost, "/api/portfolio", tt.body, paid)
			servicetest.RequireStatus(t, rec, tt.want)
		})
	}
}

func TestSellTwiceIsRejected(t *testing.T) {
	env := setup(t)
	alice := env.User(t, "alice", models.TierPaid)
	alert := env.Alert(t, "AAPL", 110, models.TierPaid)
	entry := buy(t, env, alice, alert.ID, 100, 10)

	path := fmt.Sprintf("/api/portfolio/%d/sell", entry.ID)
	rec := env.Do(t, http.MethodPost, path, map[string]float64{"sold_price": 120}, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)

	rec = env.Do(t, http.MethodPost, path, map[string]float64{"sold_price": 130}, alice)
	servicetest.RequireStatus(t, rec, http.StatusConflict)

	item, err := env.Store.GetPortfolioItem(context.Background(), entry.ID)
	require.NoError(t, err)
	require.NotNil(t, item.SoldPrice)
	assert.Equal(t, 120.0, *item.SoldPrice, "second sell must not overwrite the first")
}

func TestSellRefreshesCachedSummary(t *testing.T) {
	env := setup(t)
	alice := env.User(t, "alice", models.TierPaid)
	alert := env.Alert(t, "AAPL", 110, models.TierPaid)
	entry := buy(t, env, alice, alert.ID, 100, 10)

	rec := env.Do(t, http.MethodGet, "/api/portfolio/summary", nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)

	rec = env.Do(t, http.MethodPost, fmt.Sprintf("/api/portfolio/%d/sell", entry.ID), map[string]float64{"sold_price": 120}, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)

	rec = env.Do(t, http.MethodGet, "/api/portfolio/summary", nil, alice)
	var summary analytics.PortfolioSummary
	servicetest.Decode(t, rec, &summary)
	assert.Equal(t, 0, summary.ActiveCount)
	assert.Equal(t, 1, summary.SoldCount)
	assert.Equal(t, 200.0, summary.ClosedProfit)
	assert.Equal(t, 20.0, summary.ClosedProfitPercent)
	assert.Equal(t, 0.0, summary.GainLossPercent)
}

func TestOtherUsersItemsAreHidden(t *testing.T) {
	env := setup(t)
	alice := env.User(t, "alice", models.TierPaid)
	bob := env.User(t, "bob", models.TierPaid)
	alert := env.Alert(t, "AAPL", 110, models.TierPaid)
	entry := buy(t, env, alice, alert.ID, 100, 10)

	rec := env.Do(t, http.MethodPost, fmt.Sprintf("/api/portfolio/%d/sell", entry.ID), map[string]float64{"sold_price": 120}, bob)
	servicetest.RequireStatus(t, rec, http.StatusNotFound)

	rec = env.Do(t, http.MethodDelete, fmt.Sprintf("/api/portfolio/%d", entry.ID), nil, bob)
	servicetest.RequireStatus(t, rec, http.StatusNotFound)

	rec = env.Do(t, http.MethodGet, "/api/portfolio", nil, bob)
	var entries []Entry
	servicetest.Decode(t, rec, &entries)
	assert.Empty(t, entries)

	rec = env.Do(t, http.MethodDelete, fmt.Sprintf("/api/portfolio/%d", entry.ID), nil, alice)
	servicetest.RequireStatus(t, rec, http.StatusOK)
}
