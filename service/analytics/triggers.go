package analytics

import (
	"fmt"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/shopspring/decimal"
)

const (
	KindTarget1       = "TARGET_1"
	KindTarget2       = "TARGET_2"
	KindTarget3       = "TARGET_3"
	KindCustomPercent = "CUSTOM_PERCENT"
	KindCustomPrice   = "CUSTOM_PRICE"
)

var (
	targetBand      = decimal.RequireFromString("0.10")
	customPriceBand = decimal.RequireFromString("0.05")
)

// Trigger is one matched preference condition for a stock alert.
type Trigger struct {
	Key          string                 `json:"key"`
	Kind         string                 `json:"kind"`
	Level        string                 `json:"level"`
	Price        float64                `json:"price"`
	Target       float64                `json:"target"`
	StockAlertID uint                   `json:"stock_alert_id"`
	Symbol       string                 `json:"symbol"`
	Preference   models.AlertPreference `json:"-"`
	User         models.User            `json:"-"`
}

// Title and Message are the notification text for the trigger.
func (t Trigger) Title() string {
	switch t.Kind {
	case KindCustomPercent:
		return fmt.Sprintf("%s is up %s%% from the buy zone", t.Symbol, t.Level)
	case KindCustomPrice:
		return fmt.Sprintf("%s is near your price target", t.Symbol)
	}
	return fmt.Sprintf("%s is near target %s", t.Symbol, t.Level)
}

func (t Trigger) Message() string {
	switch t.Kind {
	case KindCustomPercent:
		return fmt.Sprintf("%s is trading at $%.2f, at least %s%% above the buy zone high of $%.2f.",
			t.Symbol, t.Price, t.Level, t.Target)
	case KindCustomPrice:
		return fmt.Sprintf("%s is trading at $%.2f, within 5%% of your target of $%.2f.", t.Symbol, t.Price, t.Target)
	}
	return fmt.Sprintf("%s is trading at $%.2f, within 10%% of target %s ($%.2f).", t.Symbol, t.Price, t.Level, t.Target)
}

// TriggerKey identifies a trigger for de-duplication.
func TriggerKey(preferenceID uint, kind, level string) string {
	return fmt.Sprintf("pref:%d:%s:%s", preferenceID, kind, level)
}

// EvaluateTriggers checks each preference against the alert's current price. Owners on the
// free tier, or below the alert's required tier, never trigger. Inactive alerts never trigger.
func EvaluateTriggers(alert models.StockAlert, prefs []models.PreferenceWithUser) []Trigger {
	if !alert.IsActive() {
		return nil
	}
	price := decimal.NewFromFloat(alert.CurrentPrice)

	var triggers []Trigger
	for _, row := range prefs {
		pref, user := row.Preference, row.User
		if pref.StockAlertID != alert.ID {
			continue
		}
		if !user.Tier.AtLeast(models.TierPaid) || !user.CanAccess(alert.RequiredTier) {
			continue
		}

		emit := func(kind, level string, target float64) {
			triggers = append(triggers, Trigger{
				Key:          TriggerKey(pref.ID, kind, level),
				Kind:         kind,
				Level:        level,
				Price:        alert.CurrentPrice,
				Target:       target,
				StockAlertID: alert.ID,
				Symbol:       alert.Symbol,
				Preference:   pref,
				User:         user,
			})
		}

		targets := []struct {
			enabled bool
			kind    string
			level   string
			value   float64
		}{
			{pref.Target1, KindTarget1, "1", alert.Target1},
			{pref.Target2, KindTarget2, "2", alert.Target2},
			{pref.Target3, KindTarget3, "3", alert.Target3},
		}
		for _, t := range targets {
			if t.enabled && withinBand(price, decimal.NewFromFloat(t.value), targetBand) {
				emit(t.kind, t.level, t.value)
			}
		}

		if pct := pref.CustomTargetPercent; pct != nil && *pct > 0 {
			buyZoneMax := decimal.NewFromFloat(alert.BuyZoneMax)
			if buyZoneMax.IsPositive() {
				gain := price.Sub(buyZoneMax).Div(buyZoneMax).Mul(hundred)
				if gain.GreaterThanOrEqual(decimal.NewFromFloat(*pct)) {
					emit(KindCustomPercent, decimal.NewFromFloat(*pct).String(), alert.BuyZoneMax)
				}
			}
		}

		if custom := pref.CustomTargetPrice; custom != nil {
			if withinBand(price, decimal.NewFromFloat(*custom), customPriceBand) {
				emit(KindCustomPrice, decimal.NewFromFloat(*custom).String(), *custom)
			}
		}
	}
	return triggers
}

// withinBand reports |price - target| <= band*target for a positive target.
func withinBand(price, target, band decimal.Decimal) bool {
	if !target.IsPositive() {
		return false
	}
	return price.Sub(target).Abs().LessThanOrEqual(target.Mul(band))
}
