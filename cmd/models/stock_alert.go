package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	AlertStatusActive    = "active"
	AlertStatusClosed    = "closed"
	AlertStatusCancelled = "cancelled"
)

// StockAlert is an admin published buy zone / targets recommendation.
type StockAlert struct {
	gorm.Model
	Symbol           string         `gorm:"column:symbol;size:20;index;not null" json:"symbol"`
	CompanyName      string         `gorm:"column:company_name;size:255;not null" json:"company_name"`
	CurrentPrice     float64        `gorm:"column:current_price;not null" json:"current_price"`
	BuyZoneMin       float64        `gorm:"column:buy_zone_min;not null" json:"buy_zone_min"`
	BuyZoneMax       float64        `gorm:"column:buy_zone_max;not null" json:"buy_zone_max"`
	Target1          float64        `gorm:"column:target1;not null" json:"target1"`
	Target2          float64        `gorm:"column:target2;not null" json:"target2"`
	Target3          float64        `gorm:"column:target3;not null" json:"target3"`
	TechnicalReasons pq.StringArray `gorm:"column:technical_reasons;type:text[]" json:"technical_reasons"`
	Status           string         `gorm:"column:status;size:20;index;not null;default:active" json:"status"`
	MaxPrice         float64        `gorm:"column:max_price" json:"max_price"`
	RequiredTier     Tier           `gorm:"column:required_tier;size:20;not null;default:paid" json:"required_tier"`
	ChartURL         string         `gorm:"column:chart_url;size:500" json:"chart_url,omitempty"`
	ClosedAt         *time.Time     `gorm:"column:closed_at" json:"closed_at,omitempty"`
}

func (a *StockAlert) IsActive() bool {
	return a.Status == AlertStatusActive
}

// ObservePrice records a new price and keeps MaxPrice as the high-water mark.
func (a *StockAlert) ObservePrice(price float64) {
	a.CurrentPrice = price
	if price > a.MaxPrice {
		a.MaxPrice = price
	}
}

func ValidAlertStatus(s string) bool {
	switch s {
	case AlertStatusActive, AlertStatusClosed, AlertStatusCancelled:
		return true
	}
	return false
}
