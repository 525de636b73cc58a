package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStorage is the postgres backed Storage.
type GormStorage struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewGormStorage(db *gorm.DB, log *logrus.Logger) *GormStorage {
	return &GormStorage{db: db, log: log}
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps gorm errors onto the package sentinels.
func translate(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	what := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *GormStorage) first(ctx context.Context, dest interface{}, what string, query interface{}, args ...interface{}) error {
	return translate(s.db.WithContext(ctx).Where(query, args...).First(dest).Error, "%s", what)
}

// Users

func (s *GormStorage) CreateUser(ctx context.Context, u *models.User) error {
	if u.Tier == "" {
		u.Tier = models.TierFree
	}
	return translate(s.db.WithContext(ctx).Create(u).Error, "create user %s", u.Email)
}

func (s *GormStorage) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := translate(s.db.WithContext(ctx).First(&u, id).Error, "user %d", id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.first(ctx, &u, "user with email "+email, "LOWER(email) = LOWER(?)", email); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.first(ctx, &u, "user "+username, "LOWER(username) = LOWER(?)", username); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStorage) GetUserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, fmt.Errorf("user with empty customer: %w", ErrNotFound)
	}
	var u models.User
	if err := s.first(ctx, &u, "user with customer "+customerID, "stripe_customer_id = ?", customerID); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("id").Find(&users).Error
	return users, translate(err, "list users")
}

func (s *GormStorage) UpdateUser(ctx context.Context, u *models.User) error {
	return translate(s.db.WithContext(ctx).Save(u).Error, "update user %d", u.ID)
}

// DeleteUser removes the row for good so the email and username can be registered again.
func (s *GormStorage) DeleteUser(ctx context.Context, id uint) error {
	return s.deleteFrom(s.db.WithContext(ctx).Unscoped(), &models.User{}, id, "user")
}

func (s *GormStorage) delete(ctx context.Context, model interface{}, id uint, what string) error {
	return s.deleteFrom(s.db.WithContext(ctx), model, id, what)
}

func (s *GormStorage) deleteFrom(tx *gorm.DB, model interface{}, id uint, what string) error {
	result := tx.Delete(model, id)
	if result.Error != nil {
		return translate(result.Error, "delete %s %d", what, id)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

// Stock alerts

func (s *GormStorage) CreateStockAlert(ctx context.Context, a *models.StockAlert) error {
	if a.Status == "" {
		a.Status = models.AlertStatusActive
	}
	if a.RequiredTier == "" {
		a.RequiredTier = models.TierPaid
	}
	if a.MaxPrice < a.CurrentPrice {
		a.MaxPrice = a.CurrentPrice
	}
	return translate(s.db.WithContext(ctx).Create(a).Error, "create stock alert %s", a.Symbol)
}

func (s *GormStorage) GetStockAlert(ctx context.Context, id uint) (*models.StockAlert, error) {
	var a models.StockAlert
	if err := translate(s.db.WithContext(ctx).First(&a, id).Error, "stock alert %d", id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *GormStorage) ListStockAlerts(ctx context.Context, f StockAlertFilter) ([]models.StockAlert, error) {
	query := s.db.WithContext(ctx).Model(&models.StockAlert{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Symbol != "" {
		query = query.Where("UPPER(symbol) = UPPER(?)", f.Symbol)
	}
	var alerts []models.StockAlert
	err := query.Order("id").Find(&alerts).Error
	return alerts, translate(err, "list stock alerts")
}

func (s *GormStorage) UpdateStockAlert(ctx context.Context, a *models.StockAlert) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.StockAlert
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, a.ID).Error; err != nil {
			return translate(err, "stock alert %d", a.ID)
		}
		if a.MaxPrice < existing.MaxPrice {
			a.MaxPrice = existing.MaxPrice
		}
		if a.MaxPrice < a.CurrentPrice {
			a.MaxPrice = a.CurrentPrice
		}
		a.CreatedAt = existing.CreatedAt
		return translate(tx.Save(a).Error, "update stock alert %d", a.ID)
	})
}

func (s *GormStorage) UpdateStockAlertPrice(ctx context.Context, id uint, price float64) (*models.StockAlert, error) {
	var a models.StockAlert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&a, id).Error; err != nil {
			return translate(err, "stock alert %d", id)
		}
		a.ObservePrice(price)
		return tx.Model(&a).Updates(map[string]interface{}{
			"current_price": a.CurrentPrice,
			"max_price":     a.MaxPrice,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *GormStorage) CloseStockAlert(ctx context.Context, id uint, status string, at time.Time) (*models.StockAlert, error) {
	result := s.db.WithContext(ctx).Model(&models.StockAlert{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "closed_at": at})
	if result.Error != nil {
		return nil, translate(result.Error, "close stock alert %d", id)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("stock alert %d: %w", id, ErrNotFound)
	}
	return s.GetStockAlert(ctx, id)
}

func (s *GormStorage) DeleteStockAlert(ctx context.Context, id uint) error {
	return s.delete(ctx, &models.StockAlert{}, id, "stock alert")
}

// Portfolio

func (s *GormStorage) CreatePortfolioItem(ctx context.Context, item *models.PortfolioItem) error {
	return translate(s.db.WithContext(ctx).Create(item).Error, "create portfolio item")
}

func (s *GormStorage) GetPortfolioItem(ctx context.Context, id uint) (*models.PortfolioItem, error) {
	var item models.PortfolioItem
	if err := translate(s.db.WithContext(ctx).First(&item, id).Error, "portfolio item %d", id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStorage) ListPortfolioItems(ctx context.Context, userID uint) ([]models.PortfolioItem, error) {
	var items []models.PortfolioItem
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&items).Error
	return items, translate(err, "list portfolio items")
}

func (s *GormStorage) SellPortfolioItem(ctx context.Context, id, userID uint, price float64, at time.Time) (*models.PortfolioItem, error) {
	var item models.PortfolioItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).First(&item, id).Error; err != nil {
			return translate(err, "portfolio item %d", id)
		}
		// The sold = false guard makes a concurrent second sell affect zero rows.
		result := tx.Model(&models.PortfolioItem{}).
			Where("id = ? AND sold = ?", id, false).
			Updates(map[string]interface{}{"sold": true, "sold_price": price, "sold_at": at})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("portfolio item %d: %w", id, ErrAlreadySold)
		}
		item.Sold = true
		item.SoldPrice = &price
		item.SoldAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStorage) DeletePortfolioItem(ctx context.Context, id, userID uint) error {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.PortfolioItem{}, id)
	if result.Error != nil {
		return translate(result.Error, "delete portfolio item %d", id)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("portfolio item %d: %w", id, ErrNotFound)
	}
	return nil
}

// Alert preferences

func (s *GormStorage) GetAlertPreference(ctx context.Context, userID, stockAlertID uint) (*models.AlertPreference, error) {
	var p models.AlertPreference
	err := s.first(ctx, &p, fmt.Sprintf("preference for stock alert %d", stockAlertID),
		"user_id = ? AND stock_alert_id = ?", userID, stockAlertID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStorage) ListAlertPreferences(ctx context.Context, userID uint) ([]models.AlertPreference, error) {
	var prefs []models.AlertPreference
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&prefs).Error
	return prefs, translate(err, "list alert preferences")
}

func (s *GormStorage) UpsertAlertPreference(ctx context.Context, p *models.AlertPreference) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.AlertPreference
		err := tx.Where("user_id = ? AND stock_alert_id = ?", p.UserID, p.StockAlertID).First(&existing).Error
		switch {
		case err == nil:
			p.Model = existing.Model
			return translate(tx.Save(p).Error, "update preference %d", p.ID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return translate(tx.Create(p).Error, "create preference")
		default:
			return err
		}
	})
}

func (s *GormStorage) DeleteAlertPreference(ctx context.Context, userID, stockAlertID uint) error {
	result := s.db.WithContext(ctx).Where("user_id = ? AND stock_alert_id = ?", userID, stockAlertID).
		Delete(&models.AlertPreference{})
	if result.Error != nil {
		return translate(result.Error, "delete preference")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("preference for stock alert %d: %w", stockAlertID, ErrNotFound)
	}
	return nil
}

func (s *GormStorage) ListAlertPreferencesForStock(ctx context.Context, stockAlertID uint) ([]models.PreferenceWithUser, error) {
	var prefs []models.AlertPreference
	if err := s.db.WithContext(ctx).Where("stock_alert_id = ?", stockAlertID).Order("id").Find(&prefs).Error; err != nil {
		return nil, translate(err, "list preferences for stock alert %d", stockAlertID)
	}
	if len(prefs) == 0 {
		return nil, nil
	}

	userIDs := make([]uint, 0, len(prefs))
	for _, p := range prefs {
		userIDs = append(userIDs, p.UserID)
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, translate(err, "load preference owners")
	}
	byID := make(map[uint]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	rows := make([]models.PreferenceWithUser, 0, len(prefs))
	for _, p := range prefs {
		u, ok := byID[p.UserID]
		if !ok {
			s.log.Warnf("preference %d references missing user %d", p.ID, p.UserID)
			continue
		}
		rows = append(rows, models.PreferenceWithUser{Preference: p, User: u})
	}
	return rows, nil
}

// Triggers

func (s *GormStorage) RecordTrigger(ctx context.Context, rec *models.TriggerRecord) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(rec)
	if result.Error != nil {
		return false, translate(result.Error, "record trigger %s", rec.Key)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStorage) ForgetTrigger(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Unscoped().Where("key = ?", key).Delete(&models.TriggerRecord{}).Error
	return translate(err, "forget trigger %s", key)
}

func (s *GormStorage) ClearTriggers(ctx context.Context, preferenceID uint) error {
	err := s.db.WithContext(ctx).Unscoped().Where("preference_id = ?", preferenceID).Delete(&models.TriggerRecord{}).Error
	return translate(err, "clear triggers for preference %d", preferenceID)
}

// Notifications

func (s *GormStorage) CreateNotification(ctx context.Context, n *models.Notification) error {
	return translate(s.db.WithContext(ctx).Create(n).Error, "create notification")
}

func (s *GormStorage) ListNotifications(ctx context.Context, userID uint, f NotificationFilter) ([]models.Notification, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if f.UnreadOnly {
		query = query.Where("read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "count notifications")
	}

	limit, offset := paginate(f.Limit, f.Offset)
	var notifications []models.Notification
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&notifications).Error
	return notifications, total, translate(err, "list notifications")
}

func (s *GormStorage) MarkNotificationRead(ctx context.Context, id, userID uint, at time.Time) error {
	var n models.Notification
	if err := s.first(ctx, &n, fmt.Sprintf("notification %d", id), "id = ? AND user_id = ?", id, userID); err != nil {
		return err
	}
	if n.Read {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&n).Updates(map[string]interface{}{"read": true, "read_at": at}).Error
	return translate(err, "mark notification %d read", id)
}

func (s *GormStorage) MarkAllNotificationsRead(ctx context.Context, userID uint, at time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	return result.RowsAffected, translate(result.Error, "mark notifications read")
}

func (s *GormStorage) CountUnreadNotifications(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).Count(&count).Error
	return count, translate(err, "count unread notifications")
}

// Devices

func (s *GormStorage) RegisterDevice(ctx context.Context, d *models.Device) error {
	var existing models.Device
	err := s.db.WithContext(ctx).Where("token = ? AND user_id = ?", d.Token, d.UserID).First(&existing).Error
	if err == nil {
		existing.DeviceType = d.DeviceType
		existing.DeviceName = d.DeviceName
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return translate(err, "update device %d", existing.ID)
		}
		*d = existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return translate(err, "find device")
	}
	return translate(s.db.WithContext(ctx).Create(d).Error, "create device")
}

func (s *GormStorage) ListDevices(ctx context.Context, userID uint) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&devices).Error
	return devices, translate(err, "list devices")
}

func (s *GormStorage) DeleteDevice(ctx context.Context, id, userID uint) error {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Device{}, id)
	if result.Error != nil {
		return translate(result.Error, "delete device %d", id)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStorage) DeleteDeviceByToken(ctx context.Context, token string) error {
	err := s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Device{}).Error
	return translate(err, "delete device by token")
}

// Education

func (s *GormStorage) CreateEducationContent(ctx context.Context, c *models.EducationContent) error {
	if c.RequiredTier == "" {
		c.RequiredTier = models.TierFree
	}
	return translate(s.db.WithContext(ctx).Create(c).Error, "create education content")
}

func (s *GormStorage) GetEducationContent(ctx context.Context, id uint) (*models.EducationContent, error) {
	var c models.EducationContent
	if err := translate(s.db.WithContext(ctx).First(&c, id).Error, "education content %d", id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStorage) ListEducationContent(ctx context.Context, f EducationFilter) ([]models.EducationContent, error) {
	query := s.db.WithContext(ctx).Model(&models.EducationContent{})
	if f.PublishedOnly {
		query = query.Where("published = ?", true)
	}
	if f.Category != "" {
		query = query.Where("LOWER(category) = LOWER(?)", f.Category)
	}
	var content []models.EducationContent
	err := query.Order("id").Find(&content).Error
	return content, translate(err, "list education content")
}

func (s *GormStorage) UpdateEducationContent(ctx context.Context, c *models.EducationContent) error {
	if _, err := s.GetEducationContent(ctx, c.ID); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Save(c).Error, "update education content %d", c.ID)
}

func (s *GormStorage) DeleteEducationContent(ctx context.Context, id uint) error {
	return s.delete(ctx, &models.EducationContent{}, id, "education content")
}

// Coaching

func (s *GormStorage) CreateCoachingSession(ctx context.Context, cs *models.CoachingSession) error {
	if cs.Status == "" {
		cs.Status = models.SessionRequested
	}
	return translate(s.db.WithContext(ctx).Create(cs).Error, "create coaching session")
}

func (s *GormStorage) GetCoachingSession(ctx context.Context, id uint) (*models.CoachingSession, error) {
	var cs models.CoachingSession
	if err := translate(s.db.WithContext(ctx).First(&cs, id).Error, "coaching session %d", id); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *GormStorage) ListCoachingSessions(ctx context.Context, userID uint) ([]models.CoachingSession, error) {
	query := s.db.WithContext(ctx).Model(&models.CoachingSession{})
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	var sessions []models.CoachingSession
	err := query.Order("id").Find(&sessions).Error
	return sessions, translate(err, "list coaching sessions")
}

func (s *GormStorage) UpdateCoachingSession(ctx context.Context, cs *models.CoachingSession) error {
	if _, err := s.GetCoachingSession(ctx, cs.ID); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Save(cs).Error, "update coaching session %d", cs.ID)
}

// Coupons and discounts

func (s *GormStorage) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	return translate(s.db.WithContext(ctx).Create(c).Error, "create coupon %s", c.Code)
}

func (s *GormStorage) GetCoupon(ctx context.Context, id uint) (*models.Coupon, error) {
	var c models.Coupon
	if err := translate(s.db.WithContext(ctx).First(&c, id).Error, "coupon %d", id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStorage) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	if err := s.first(ctx, &c, "coupon "+code, "UPPER(code) = UPPER(?)", code); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStorage) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := s.db.WithContext(ctx).Order("id").Find(&coupons).Error
	return coupons, translate(err, "list coupons")
}

func (s *GormStorage) UpdateCoupon(ctx context.Context, c *models.Coupon) error {
	if _, err := s.GetCoupon(ctx, c.ID); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Save(c).Error, "update coupon %d", c.ID)
}

func (s *GormStorage) DeleteCoupon(ctx context.Context, id uint) error {
	return s.delete(ctx, &models.Coupon{}, id, "coupon")
}

func (s *GormStorage) RedeemCoupon(ctx context.Context, code string, now time.Time) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("UPPER(code) = UPPER(?)", code).First(&c).Error; err != nil {
			return translate(err, "coupon %s", code)
		}
		if !c.Redeemable(now) {
			return fmt.Errorf("coupon %s: %w", code, ErrCouponUnavailable)
		}
		c.TimesRedeemed++
		return tx.Model(&c).Update("times_redeemed", c.TimesRedeemed).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *GormStorage) CreateDiscount(ctx context.Context, d *models.Discount) error {
	return translate(s.db.WithContext(ctx).Create(d).Error, "create discount")
}

func (s *GormStorage) GetDiscount(ctx context.Context, id uint) (*models.Discount, error) {
	var d models.Discount
	if err := translate(s.db.WithContext(ctx).First(&d, id).Error, "discount %d", id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *GormStorage) ListDiscounts(ctx context.Context) ([]models.Discount, error) {
	var discounts []models.Discount
	err := s.db.WithContext(ctx).Order("id").Find(&discounts).Error
	return discounts, translate(err, "list discounts")
}

func (s *GormStorage) UpdateDiscount(ctx context.Context, d *models.Discount) error {
	if _, err := s.GetDiscount(ctx, d.ID); err != nil {
		return err
	}
	return translate(s.db.WithContext(ctx).Save(d).Error, "update discount %d", d.ID)
}

func (s *GormStorage) DeleteDiscount(ctx context.Context, id uint) error {
	return s.delete(ctx, &models.Discount{}, id, "discount")
}

// Webhooks

func (s *GormStorage) RecordWebhookEvent(ctx context.Context, id, eventType string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.WebhookEvent{ID: id, Type: eventType, ProcessedAt: at})
	if result.Error != nil {
		return false, translate(result.Error, "record webhook event %s", id)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStorage) ForgetWebhookEvent(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Delete(&models.WebhookEvent{}, "id = ?", id).Error
	return translate(err, "forget webhook event %s", id)
}

// Stats

func (s *GormStorage) Stats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &Stats{UsersByTier: make(map[models.Tier]int64)}

	var tierCounts []struct {
		Tier  models.Tier
		Count int64
	}
	if err := db.Model(&models.User{}).Select("tier, count(*) as count").Group("tier").Find(&tierCounts).Error; err != nil {
		return nil, translate(err, "count users by tier")
	}
	for _, tc := range tierCounts {
		stats.UsersByTier[tc.Tier] = tc.Count
		stats.TotalUsers += tc.Count
	}

	counts := []struct {
		dest  *int64
		model interface{}
		query string
		args  []interface{}
	}{
		{&stats.ActiveAlerts, &models.StockAlert{}, "status = ?", []interface{}{models.AlertStatusActive}},
		{&stats.ClosedAlerts, &models.StockAlert{}, "status <> ?", []interface{}{models.AlertStatusActive}},
		{&stats.OpenPositions, &models.PortfolioItem{}, "sold = ?", []interface{}{false}},
		{&stats.ClosedPositions, &models.PortfolioItem{}, "sold = ?", []interface{}{true}},
		{&stats.UnreadNotifications, &models.Notification{}, "read = ?", []interface{}{false}},
		{&stats.ScheduledSessions, &models.CoachingSession{}, "status = ?", []interface{}{models.SessionScheduled}},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where(c.query, c.args...).Count(c.dest).Error; err != nil {
			return nil, translate(err, "dashboard counts")
		}
	}
	return stats, nil
}

var (
	_ Storage = (*GormStorage)(nil)
	_ Storage = (*MemStorage)(nil)
)
