package analytics

import (
	"testing"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func alertAt(id uint, price float64) models.StockAlert {
	return models.StockAlert{
		Model:        gorm.Model{ID: id},
		Symbol:       "AAPL",
		Status:       models.AlertStatusActive,
		RequiredTier: models.TierPaid,
		CurrentPrice: price,
		BuyZoneMin:   80,
		BuyZoneMax:   90,
		Target1:      100,
		Target2:      120,
		Target3:      150,
	}
}

func TestNearingTargets(t *testing.T) {
	tests := []struct {
		name   string
		price  float64
		bucket int
	}{
		{"inside buy zone", 85, 0},
		{"exactly 95% of target1", 95, 1},
		{"just below 95% of target1", 94.99, 0},
		{"just below target1", 99.99, 1},
		{"at target1", 100, 0},
		{"exactly 95% of target2", 114, 2},
		{"between target1 and 95% of target2", 110, 0},
		{"exactly 95% of target3", 142.5, 3},
		{"at target3", 150, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NearingTargets([]models.StockAlert{alertAt(1, tt.price)})
			counts := []int{len(b.Target1), len(b.Target2), len(b.Target3)}
			want := []int{0, 0, 0}
			if tt.bucket > 0 {
				want[tt.bucket-1] = 1
			}
			assert.Equal(t, want, counts)
		})
	}
}

func TestNearingTargetsSkipsInactive(t *testing.T) {
	closed := alertAt(1, 95)
	closed.Status = models.AlertStatusClosed
	b := NearingTargets([]models.StockAlert{closed, alertAt(2, 96)})
	require.Len(t, b.Target1, 1)
	assert.Equal(t, uint(2), b.Target1[0].ID)
	assert.Equal(t, 1, b.Total())
}

func TestNearingTargetsBuyZoneAboveThreshold(t *testing.T) {
	a := alertAt(1, 96)
	a.BuyZoneMax = 97
	b := NearingTargets([]models.StockAlert{a})
	assert.Zero(t, b.Total())
}

func ptr(f float64) *float64 { return &f }

func TestSummarize(t *testing.T) {
	alerts := map[uint]models.StockAlert{1: alertAt(1, 110)}

	t.Run("active gain", func(t *testing.T) {
		items := []models.PortfolioItem{{StockAlertID: 1, BoughtPrice: 100, Quantity: 10}}
		s := Summarize(items, alerts)
		assert.Equal(t, 1, s.ActiveCount)
		assert.Equal(t, 1000.0, s.Invested)
		assert.Equal(t, 1100.0, s.CurrentValue)
		assert.Equal(t, 100.0, s.GainLoss)
		assert.Equal(t, 10.0, s.GainLossPercent)
		assert.Equal(t, "AAPL", s.Active[0].Symbol)
	})

	t.Run("sold profit", func(t *testing.T) {
		items := []models.PortfolioItem{{StockAlertID: 1, BoughtPrice: 100, Quantity: 10, Sold: true, SoldPrice: ptr(110)}}
		s := Summarize(items, alerts)
		assert.Equal(t, 0, s.ActiveCount)
		assert.Equal(t, 1, s.SoldCount)
		assert.Equal(t, 100.0, s.ClosedProfit)
		assert.Equal(t, 10.0, s.ClosedProfitPercent)
		assert.Equal(t, 10.0, s.Sold[0].GainLossPercent)
		assert.Zero(t, s.Invested)
	})

	t.Run("missing alert valued at cost", func(t *testing.T) {
		items := []models.PortfolioItem{{StockAlertID: 42, BoughtPrice: 50, Quantity: 2}}
		s := Summarize(items, alerts)
		assert.Equal(t, 100.0, s.CurrentValue)
		assert.Zero(t, s.GainLoss)
	})

	t.Run("zero invested", func(t *testing.T) {
		items := []models.PortfolioItem{{StockAlertID: 1, BoughtPrice: 0, Quantity: 5}}
		s := Summarize(items, alerts)
		assert.Equal(t, 550.0, s.CurrentValue)
		assert.Zero(t, s.GainLossPercent)
	})

	t.Run("empty", func(t *testing.T) {
		s := Summarize(nil, alerts)
		assert.NotNil(t, s.Active)
		assert.NotNil(t, s.Sold)
		assert.Zero(t, s.GainLossPercent)
	})
}

func prefFor(id uint, tier models.Tier, mutate func(p *models.AlertPreference)) models.PreferenceWithUser {
	p := models.AlertPreference{Model: gorm.Model{ID: id}, UserID: id, StockAlertID: 1}
	mutate(&p)
	return models.PreferenceWithUser{
		Preference: p,
		User:       models.User{Model: gorm.Model{ID: id}, Tier: tier},
	}
}

func kinds(triggers []Trigger) []string {
	out := make([]string, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, t.Kind)
	}
	return out
}

func TestEvaluateTriggers(t *testing.T) {
	all := func(p *models.AlertPreference) {
		p.Target1, p.Target2, p.Target3 = true, true, true
	}

	tests := []struct {
		name  string
		price float64
		pref  models.PreferenceWithUser
		want  []string
	}{
		{"target1 within 10%", 91, prefFor(1, models.TierPaid, all), []string{KindTarget1}},
		{"target1 and target2 overlap", 109, prefFor(1, models.TierPaid, all), []string{KindTarget1, KindTarget2}},
		{"outside every band", 80, prefFor(1, models.TierPaid, all), nil},
		{"flag not set", 100, prefFor(1, models.TierPaid, func(p *models.AlertPreference) { p.Target2 = true }), nil},
		{"custom percent reached", 99, prefFor(1, models.TierPremium, func(p *models.AlertPreference) {
			p.CustomTargetPercent = ptr(10)
		}), []string{KindCustomPercent}},
		{"custom percent not reached", 98, prefFor(1, models.TierPremium, func(p *models.AlertPreference) {
			p.CustomTargetPercent = ptr(10)
		}), nil},
		{"custom price within 5%", 104.5, prefFor(1, models.TierPaid, func(p *models.AlertPreference) {
			p.CustomTargetPrice = ptr(110)
		}), []string{KindCustomPrice}},
		{"custom price outside 5%", 104, prefFor(1, models.TierPaid, func(p *models.AlertPreference) {
			p.CustomTargetPrice = ptr(110)
		}), nil},
		{"free tier never triggers", 100, prefFor(1, models.TierFree, func(p *models.AlertPreference) {
			all(p)
			p.CustomTargetPrice = ptr(100)
		}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateTriggers(alertAt(1, tt.price), []models.PreferenceWithUser{tt.pref})
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, kinds(got))
		})
	}
}

func TestEvaluateTriggersSkipsInactiveAndLockedAlerts(t *testing.T) {
	pref := prefFor(1, models.TierPaid, func(p *models.AlertPreference) { p.Target1 = true })

	closed := alertAt(1, 100)
	closed.Status = models.AlertStatusClosed
	assert.Empty(t, EvaluateTriggers(closed, []models.PreferenceWithUser{pref}))

	premium := alertAt(1, 100)
	premium.RequiredTier = models.TierPremium
	assert.Empty(t, EvaluateTriggers(premium, []models.PreferenceWithUser{pref}))
}

func TestTriggerKeyAndText(t *testing.T) {
	pref := prefFor(7, models.TierPaid, func(p *models.AlertPreference) { p.Target1 = true })
	got := EvaluateTriggers(alertAt(1, 100), []models.PreferenceWithUser{pref})
	require.Len(t, got, 1)

	assert.Equal(t, "pref:7:TARGET_1:1", got[0].Key)
	assert.Equal(t, uint(7), got[0].User.ID)
	assert.Equal(t, "AAPL is near target 1", got[0].Title())
	assert.Contains(t, got[0].Message(), "$100.00")
}
