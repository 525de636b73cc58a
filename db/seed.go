package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// SeedAdmin holds the credentials of the administrator created by Seed.
type SeedAdmin struct {
	Email    string
	Username string
	Password string
}

var sampleAlerts = []models.StockAlert{
	{
		Symbol:           "AAPL",
		CompanyName:      "Apple Inc.",
		CurrentPrice:     182.50,
		BuyZoneMin:       165,
		BuyZoneMax:       175,
		Target1:          190,
		Target2:          205,
		Target3:          225,
		TechnicalReasons: pq.StringArray{"Breakout above 50 day moving average", "Rising volume"},
		RequiredTier:     models.TierPaid,
	},
	{
		Symbol:           "MSFT",
		CompanyName:      "Microsoft Corporation",
		CurrentPrice:     405,
		BuyZoneMin:       380,
		BuyZoneMax:       395,
		Target1:          420,
		Target2:          445,
		Target3:          470,
		TechnicalReasons: pq.StringArray{"Cup and handle", "Relative strength leader"},
		RequiredTier:     models.TierPaid,
	},
	{
		Symbol:           "NVDA",
		CompanyName:      "NVIDIA Corporation",
		CurrentPrice:     118,
		BuyZoneMin:       100,
		BuyZoneMax:       110,
		Target1:          125,
		Target2:          140,
		Target3:          160,
		TechnicalReasons: pq.StringArray{"Higher lows on the weekly chart"},
		RequiredTier:     models.TierPremium,
	},
}

var sampleEducation = []models.EducationContent{
	{
		Title:       "Reading buy zones",
		Description: "How entries are chosen and why the zone has two edges.",
		ContentType: "article",
		URL:         "https://example.com/education/buy-zones",
		Category:    "basics",
		Level:       "beginner",
		Published:   true,
	},
	{
		Title:        "Scaling out at targets",
		Description:  "Taking partial profits at target 1, 2 and 3.",
		ContentType:  "video",
		URL:          "https://example.com/education/scaling-out",
		Category:     "strategy",
		Level:        "intermediate",
		RequiredTier: models.TierPaid,
		Published:    true,
	},
}

// Seed creates the administrator and sample content when the store has no users yet.
// It returns false when the store was already seeded.
func Seed(ctx context.Context, store Storage, admin SeedAdmin, log *logrus.Logger) (bool, error) {
	if _, err := store.GetUserByEmail(ctx, admin.Email); err == nil {
		log.Infof("Seed skipped, %s already exists", admin.Email)
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	user := &models.User{
		Username:     admin.Username,
		Email:        admin.Email,
		PasswordHash: string(hash),
		FullName:     "Administrator",
		Tier:         models.TierEmployee,
		IsAdmin:      true,
		Roles:        pq.StringArray{models.RoleAdmin},
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}

	for _, sample := range sampleAlerts {
		alert := sample
		alert.TechnicalReasons = cloneStrings(sample.TechnicalReasons)
		if err := store.CreateStockAlert(ctx, &alert); err != nil {
			return false, fmt.Errorf("create alert %s: %w", alert.Symbol, err)
		}
	}
	for _, sample := range sampleEducation {
		content := sample
		if err := store.CreateEducationContent(ctx, &content); err != nil {
			return false, fmt.Errorf("create education %q: %w", content.Title, err)
		}
	}

	log.Infof("Seeded admin %s, %d stock alerts and %d education items",
		admin.Email, len(sampleAlerts), len(sampleEducation))
	return true, nil
}
