package analytics

import (
	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Position is one portfolio item valued against its stock alert.
type Position struct {
	Item            models.PortfolioItem `json:"item"`
	Symbol          string               `json:"symbol,omitempty"`
	CompanyName     string               `json:"company_name,omitempty"`
	MarketPrice     float64              `json:"market_price"`
	Invested        float64              `json:"invested"`
	Value           float64              `json:"value"`
	GainLoss        float64              `json:"gain_loss"`
	GainLossPercent float64              `json:"gain_loss_percent"`
}

// PortfolioSummary is the P&L of a user's positions. Value and gain cover open positions,
// the Closed fields cover sold ones.
type PortfolioSummary struct {
	Active []Position `json:"active"`
	Sold   []Position `json:"sold"`

	ActiveCount     int     `json:"active_count"`
	SoldCount       int     `json:"sold_count"`
	Invested        float64 `json:"invested"`
	CurrentValue    float64 `json:"current_value"`
	GainLoss        float64 `json:"gain_loss"`
	GainLossPercent float64 `json:"gain_loss_percent"`

	ClosedInvested      float64 `json:"closed_invested"`
	ClosedProfit        float64 `json:"closed_profit"`
	ClosedProfitPercent float64 `json:"closed_profit_percent"`
}

// Summarize values every item. Open positions use the alert's current price; an item whose
// alert no longer exists is valued at its bought price.
func Summarize(items []models.PortfolioItem, alerts map[uint]models.StockAlert) PortfolioSummary {
	summary := PortfolioSummary{Active: []Position{}, Sold: []Position{}}

	var invested, value, closedInvested, closedProfit decimal.Decimal
	for _, item := range items {
		qty := decimal.NewFromFloat(item.Quantity)
		bought := decimal.NewFromFloat(item.BoughtPrice)
		cost := bought.Mul(qty)

		p := Position{Item: item}
		market := bought
		if a, ok := alerts[item.StockAlertID]; ok {
			p.Symbol = a.Symbol
			p.CompanyName = a.CompanyName
			market = decimal.NewFromFloat(a.CurrentPrice)
		}

		if item.Sold && item.SoldPrice != nil {
			sold := decimal.NewFromFloat(*item.SoldPrice)
			profit := sold.Sub(bought).Mul(qty)
			fillPosition(&p, sold, cost, sold.Mul(qty), profit)
			summary.Sold = append(summary.Sold, p)
			closedInvested = closedInvested.Add(cost)
			closedProfit = closedProfit.Add(profit)
			continue
		}

		current := market.Mul(qty)
		fillPosition(&p, market, cost, current, current.Sub(cost))
		summary.Active = append(summary.Active, p)
		invested = invested.Add(cost)
		value = value.Add(current)
	}

	summary.ActiveCount = len(summary.Active)
	summary.SoldCount = len(summary.Sold)
	summary.Invested = money(invested)
	summary.CurrentValue = money(value)
	summary.GainLoss = money(value.Sub(invested))
	summary.GainLossPercent = percentOf(value.Sub(invested), invested)
	summary.ClosedInvested = money(closedInvested)
	summary.ClosedProfit = money(closedProfit)
	summary.ClosedProfitPercent = percentOf(closedProfit, closedInvested)
	return summary
}

func fillPosition(p *Position, price, cost, value, gain decimal.Decimal) {
	p.MarketPrice = money(price)
	p.Invested = money(cost)
	p.Value = money(value)
	p.GainLoss = money(gain)
	p.GainLossPercent = percentOf(gain, cost)
}

// percentOf returns part/whole*100, or 0 when whole is zero.
func percentOf(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Div(whole).Mul(hundred).Round(4).InexactFloat64()
}

func money(d decimal.Decimal) float64 {
	return d.Round(4).InexactFloat64()
}
