package models

import (
	"time"

	"gorm.io/gorm"
)

// PortfolioItem is a position a user opened against a stock alert.
// It is created on buy and mutated once on sell.
type PortfolioItem struct {
	gorm.Model
	UserID       uint       `gorm:"column:user_id;index;not null" json:"user_id"`
	StockAlertID uint       `gorm:"column:stock_alert_id;index;not null" json:"stock_alert_id"`
	BoughtPrice  float64    `gorm:"column:bought_price;not null" json:"bought_price"`
	Quantity     float64    `gorm:"column:quantity;not null" json:"quantity"`
	Sold         bool       `gorm:"column:sold;default:false" json:"sold"`
	SoldPrice    *float64   `gorm:"column:sold_price" json:"sold_price,omitempty"`
	SoldAt       *time.Time `gorm:"column:sold_at" json:"sold_at,omitempty"`
	Notes        string     `gorm:"column:notes;type:text" json:"notes,omitempty"`
}

// AlertPreference is a user's notification configuration for one stock alert.
type AlertPreference struct {
	gorm.Model
	UserID              uint     `gorm:"column:user_id;not null;uniqueIndex:idx_pref_user_stock" json:"user_id"`
	StockAlertID        uint     `gorm:"column:stock_alert_id;not null;uniqueIndex:idx_pref_user_stock;index" json:"stock_alert_id"`
	Target1             bool     `gorm:"column:target1;default:false" json:"target1"`
	Target2             bool     `gorm:"column:target2;default:false" json:"target2"`
	Target3             bool     `gorm:"column:target3;default:false" json:"target3"`
	CustomTargetPercent *float64 `gorm:"column:custom_target_percent" json:"custom_target_percent,omitempty"`
	CustomTargetPrice   *float64 `gorm:"column:custom_target_price" json:"custom_target_price,omitempty"`
	EmailEnabled        bool     `gorm:"column:email_enabled;default:false" json:"email_enabled"`
	PushEnabled         bool     `gorm:"column:push_enabled;default:false" json:"push_enabled"`
	WebEnabled          bool     `gorm:"column:web_enabled;not null" json:"web_enabled"`
}

// PreferenceWithUser pairs a preference row with its owner, resolved by lookup.
type PreferenceWithUser struct {
	Preference AlertPreference
	User       User
}
