// Package analytics holds the pure calculations behind the alert and portfolio endpoints.
// Prices arrive as float64 from storage and are compared as decimals.
package analytics

import (
	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/shopspring/decimal"
)

var nearingRatio = decimal.RequireFromString("0.95")

// TargetBuckets groups active alerts by the target they are approaching.
type TargetBuckets struct {
	Target1 []models.StockAlert `json:"target1"`
	Target2 []models.StockAlert `json:"target2"`
	Target3 []models.StockAlert `json:"target3"`
}

func (b TargetBuckets) Total() int {
	return len(b.Target1) + len(b.Target2) + len(b.Target3)
}

// NearingTargets places each active alert whose price has passed the previous milestone
// and sits in [95%, 100%) of the next target into that target's bucket.
func NearingTargets(alerts []models.StockAlert) TargetBuckets {
	buckets := TargetBuckets{
		Target1: []models.StockAlert{},
		Target2: []models.StockAlert{},
		Target3: []models.StockAlert{},
	}
	for _, a := range alerts {
		if !a.IsActive() {
			continue
		}
		price := decimal.NewFromFloat(a.CurrentPrice)
		t1 := decimal.NewFromFloat(a.Target1)
		t2 := decimal.NewFromFloat(a.Target2)
		t3 := decimal.NewFromFloat(a.Target3)

		switch {
		case price.GreaterThan(decimal.NewFromFloat(a.BuyZoneMax)) && withinApproach(price, t1):
			buckets.Target1 = append(buckets.Target1, a)
		case price.GreaterThanOrEqual(t1) && withinApproach(price, t2):
			buckets.Target2 = append(buckets.Target2, a)
		case price.GreaterThanOrEqual(t2) && withinApproach(price, t3):
			buckets.Target3 = append(buckets.Target3, a)
		}
	}
	return buckets
}

// withinApproach reports 0.95*target <= price < target.
func withinApproach(price, target decimal.Decimal) bool {
	if !target.IsPositive() {
		return false
	}
	return price.GreaterThanOrEqual(target.Mul(nearingRatio)) && price.LessThan(target)
}
