package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Tier is a membership level. The order of the constants is the access order.
type Tier string

const (
	TierFree       Tier = "free"
	TierPaid       Tier = "paid"
	TierPremium    Tier = "premium"
	TierMentorship Tier = "mentorship"
	TierEmployee   Tier = "employee"
)

var tierRanks = map[Tier]int{
	TierFree:       0,
	TierPaid:       1,
	TierPremium:    2,
	TierMentorship: 3,
	TierEmployee:   4,
}

// Rank returns the position of the tier in the access order, -1 for unknown tiers.
func (t Tier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return -1
}

func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// AtLeast reports whether t grants everything required grants.
func (t Tier) AtLeast(required Tier) bool {
	return t.Rank() >= required.Rank()
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

const RoleAdmin = "admin"

type User struct {
	gorm.Model
	Username     string         `gorm:"column:username;size:100;uniqueIndex;not null" json:"username"`
	Email        string         `gorm:"column:email;size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string         `gorm:"column:password_hash;size:255;not null" json:"-"`
	FullName     string         `gorm:"column:full_name;size:255" json:"full_name"`
	Tier         Tier           `gorm:"column:tier;size:20;not null;default:free" json:"tier"`
	IsAdmin      bool           `gorm:"column:is_admin;default:false" json:"is_admin"`
	Roles        pq.StringArray `gorm:"column:roles;type:text[]" json:"roles"`

	// Mirrored from Stripe.
	StripeCustomerID     string     `gorm:"column:stripe_customer_id;size:255;index" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `gorm:"column:stripe_subscription_id;size:255" json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   string     `gorm:"column:subscription_status;size:50" json:"subscription_status,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"column:current_period_end" json:"current_period_end,omitempty"`
	BillingSyncedAt      *time.Time `gorm:"column:billing_synced_at" json:"-"`
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func (u *User) IsAdministrator() bool {
	return u.IsAdmin || u.HasRole(RoleAdmin)
}

// CanAccess reports whether the user may see content gated at the required tier.
// Administrators and employees see everything.
func (u *User) CanAccess(required Tier) bool {
	if u.IsAdministrator() || u.Tier == TierEmployee {
		return true
	}
	if required == "" {
		return true
	}
	return u.Tier.AtLeast(required)
}
