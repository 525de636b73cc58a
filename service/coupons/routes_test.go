package coupons

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/KAsare1/Stockalerts-server/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *servicetest.Env {
	env := servicetest.New(t)
	NewHandler(env.Store, env.Sessions, env.Log).RegisterRoutes(env.Router)
	return env
}

func TestCreateCoupon(t *testing.T) {
	env := setup(t)
	admin := env.Admin(t)
	paid := env.User(t, "paid", models.TierPaid)

	rec := env.Do(t, http.MethodPost, "/api/coupons", map[string]interface{}{"percent_off": 20}, paid)
	servicetest.RequireStatus(t, rec, http.StatusForbidden)

	rec = env.Do(t, http.MethodPost, "/api/coupons", map[string]interface{}{"percent_off": 20}, admin)
	servicetest.RequireStatus(t, rec, http.StatusCreated)
	var generated models.Coupon
	servicetest.Decode(t, rec, &generated)
	assert.Len(t, generated.Code, 8)
	assert.True(t, generated.Active)

	rec = env.Do(t, http.MethodPost, "/api/coupons", map[string]interface{}{"code": "spring25", "percent_off": 25}, admin)
	servicetest.RequireStatus(t, rec, http.StatusCreated)
	var named models.Coupon
	servicetest.Decode(t, rec, &named)
	assert.Equal(t, "SPRING25", named.Code)

	rec = env.Do(t, http.MethodPost, "/api/coupons", map[string]interface{}{"code": "SPRING25", "percent_off": 10}, admin)
	servicetest.RequireStatus(t, rec, http.StatusConflict)
	assert.Equal(t, "code", servicetest.ErrorBody(t, rec).Field)

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{"no discount", map[string]interface{}{"code": "NONE"}, "percent_off"},
		{"over 100 percent", map[string]interface{}{"percent_off": 120}, "percent_off"},
		{"bad code", map[string]interface{}{"code": "no spaces!", "percent_off": 5}, "code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.Do(t, http.MethodPost, "/api/coupons", tt.body, admin)
			servicetest.RequireStatus(t, rec, http.StatusBadRequest)
			assert.Equal(t, tt.field, servicetest.ErrorBody(t, rec).Field)
		})
	}
}

func TestValidateCoupon(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	coupons := []models.Coupon{
		{Code: "WELCOME", PercentOff: 10, Active: true},
		{Code: "OLD", PercentOff: 10, Active: true, ExpiresAt: &past},
		{Code: "USEDUP", AmountOff: 5, Active: true, MaxRedemptions: 1, TimesRedeemed: 1},
		{Code: "OFF", PercentOff: 10, Active: false},
	}
	for i := range coupons {
		require.NoError(t, env.Store.CreateCoupon(ctx, &coupons[i]))
	}

	tests := []struct {
		code string
		want int
	}{
		{"welcome", http.StatusOK},
		{"OLD", http.StatusConflict},
		{"USEDUP", http.StatusConflict},
		{"OFF", http.StatusConflict},
		{"MISSING", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := env.Do(t, http.MethodPost, "/api/coupons/validate", map[string]string{"code": tt.code}, nil)
			servicetest.RequireStatus(t, rec, tt.want)
		})
	}

	got, err := env.Store.GetCouponByCode(ctx, "WELCOME")
	require.NoError(t, err)
	assert.Zero(t, got.TimesRedeemed, "validation does not redeem")
}

func TestUpdateAndDeleteCoupon(t *testing.T) {
	env := setup(t)
	admin := env.Admin(t)
	coupon := models.Coupon{Code: "SUMMER", PercentOff: 15, Active: true}
	require.NoError(t, env.Store.CreateCoupon(context.Background(), &coupon))
	path := fmt.Sprintf("/api/coupons/%d", coupon.ID)

	rec := env.Do(t, http.MethodPut, path, map[string]interface{}{"percent_off": 30, "active": false}, admin)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var updated models.Coupon
	servicetest.Decode(t, rec, &updated)
	assert.Equal(t, "SUMMER", updated.Code, "empty code keeps the existing one")
	assert.Equal(t, 30.0, updated.PercentOff)
	assert.False(t, updated.Active)

	rec = env.Do(t, http.MethodGet, "/api/coupons", nil, admin)
	var list []models.Coupon
	servicetest.Decode(t, rec, &list)
	assert.Len(t, list, 1)

	rec = env.Do(t, http.MethodDelete, path, nil, admin)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	rec = env.Do(t, http.MethodGet, path, nil, admin)
	servicetest.RequireStatus(t, rec, http.StatusNotFound)
}

func TestActiveDiscounts(t *testing.T) {
	env := setup(t)
	admin := env.Admin(t)
	now := time.Now().UTC()

	rec := env.Do(t, http.MethodPost, "/api/discounts", map[string]interface{}{
		"name":        "Launch week",
		"tier":        "premium",
		"percent_off": 30,
		"starts_at":   now.Add(-time.Hour),
		"ends_at":     now.Add(24 * time.Hour),
	}, admin)
	servicetest.RequireStatus(t, rec, http.StatusCreated)

	rec = env.Do(t, http.MethodPost, "/api/discounts", map[string]interface{}{
		"name":        "Next month",
		"tier":        "paid",
		"percent_off": 10,
		"starts_at":   now.Add(30 * 24 * time.Hour),
	}, admin)
	servicetest.RequireStatus(t, rec, http.StatusCreated)

	rec = env.Do(t, http.MethodPost, "/api/discounts", map[string]interface{}{
		"name":        "Backwards",
		"tier":        "paid",
		"percent_off": 10,
		"starts_at":   now,
		"ends_at":     now.Add(-time.Hour),
	}, admin)
	servicetest.RequireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "ends_at", servicetest.ErrorBody(t, rec).Field)

	rec = env.Do(t, http.MethodGet, "/api/discounts/active", nil, nil)
	servicetest.RequireStatus(t, rec, http.StatusOK)
	var active []models.Discount
	servicetest.Decode(t, rec, &active)
	require.Len(t, active, 1)
	assert.Equal(t, "Launch week", active[0].Name)

	rec = env.Do(t, http.MethodGet, "/api/discounts", nil, admin)
	var all []models.Discount
	servicetest.Decode(t, rec, &all)
	assert.Len(t, all, 2)
}
