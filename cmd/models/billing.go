package models

import (
	"time"

	"gorm.io/gorm"
)

type Coupon struct {
	gorm.Model
	Code           string     `gorm:"column:code;size:64;uniqueIndex;not null" json:"code"`
	Description    string     `gorm:"column:description;type:text" json:"description"`
	PercentOff     float64    `gorm:"column:percent_off" json:"percent_off"`
	AmountOff      float64    `gorm:"column:amount_off" json:"amount_off"`
	MaxRedemptions int        `gorm:"column:max_redemptions" json:"max_redemptions"`
	TimesRedeemed  int        `gorm:"column:times_redeemed;default:0" json:"times_redeemed"`
	ExpiresAt      *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"`
	Active         bool       `gorm:"column:active;not null" json:"active"`
	StripeCouponID string     `gorm:"column:stripe_coupon_id;size:255" json:"stripe_coupon_id,omitempty"`
}

// Redeemable reports whether the coupon can be applied at now.
// MaxRedemptions of zero means unlimited.
func (c *Coupon) Redeemable(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	if c.MaxRedemptions > 0 && c.TimesRedeemed >= c.MaxRedemptions {
		return false
	}
	return true
}

// Discount is a time boxed promotion on a tier.
type Discount struct {
	gorm.Model
	Name       string     `gorm:"column:name;size:255;not null" json:"name"`
	Tier       Tier       `gorm:"column:tier;size:20;not null" json:"tier"`
	PercentOff float64    `gorm:"column:percent_off;not null" json:"percent_off"`
	StartsAt   time.Time  `gorm:"column:starts_at;not null" json:"starts_at"`
	EndsAt     *time.Time `gorm:"column:ends_at" json:"ends_at,omitempty"`
	Active     bool       `gorm:"column:active;not null" json:"active"`
}

func (d *Discount) ActiveAt(now time.Time) bool {
	if !d.Active || now.Before(d.StartsAt) {
		return false
	}
	return d.EndsAt == nil || now.Before(*d.EndsAt)
}

// WebhookEvent records a processed Stripe event ID.
type WebhookEvent struct {
	ID          string    `gorm:"primaryKey;size:255" json:"id"`
	Type        string    `gorm:"column:type;size:100" json:"type"`
	ProcessedAt time.Time `gorm:"column:processed_at" json:"processed_at"`
}
