package db

import (
	"context"
	"errors"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("record already exists")
	ErrAlreadySold       = errors.New("portfolio item already sold")
	ErrCouponUnavailable = errors.New("coupon is not redeemable")
)

type StockAlertFilter struct {
	Status string
	Symbol string
}

type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

type EducationFilter struct {
	Category      string
	PublishedOnly bool
}

// Stats is the admin dashboard aggregate.
type Stats struct {
	TotalUsers          int64                 `json:"total_users"`
	UsersByTier         map[models.Tier]int64 `json:"users_by_tier"`
	ActiveAlerts        int64                 `json:"active_alerts"`
	ClosedAlerts        int64                 `json:"closed_alerts"`
	OpenPositions       int64                 `json:"open_positions"`
	ClosedPositions     int64                 `json:"closed_positions"`
	UnreadNotifications int64                 `json:"unread_notifications"`
	ScheduledSessions   int64                 `json:"scheduled_sessions"`
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id uint) error
}

type StockAlertStore interface {
	CreateStockAlert(ctx context.Context, a *models.StockAlert) error
	GetStockAlert(ctx context.Context, id uint) (*models.StockAlert, error)
	ListStockAlerts(ctx context.Context, f StockAlertFilter) ([]models.StockAlert, error)
	UpdateStockAlert(ctx context.Context, a *models.StockAlert) error
	// UpdateStockAlertPrice sets the current price and raises MaxPrice when exceeded.
	UpdateStockAlertPrice(ctx context.Context, id uint, price float64) (*models.StockAlert, error)
	CloseStockAlert(ctx context.Context, id uint, status string, at time.Time) (*models.StockAlert, error)
	DeleteStockAlert(ctx context.Context, id uint) error
}

type PortfolioStore interface {
	CreatePortfolioItem(ctx context.Context, item *models.PortfolioItem) error
	GetPortfolioItem(ctx context.Context, id uint) (*models.PortfolioItem, error)
	ListPortfolioItems(ctx context.Context, userID uint) ([]models.PortfolioItem, error)
	// SellPortfolioItem marks the user's item sold. A second call returns ErrAlreadySold
	// and leaves the item untouched.
	SellPortfolioItem(ctx context.Context, id, userID uint, price float64, at time.Time) (*models.PortfolioItem, error)
	DeletePortfolioItem(ctx context.Context, id, userID uint) error
}

type PreferenceStore interface {
	GetAlertPreference(ctx context.Context, userID, stockAlertID uint) (*models.AlertPreference, error)
	ListAlertPreferences(ctx context.Context, userID uint) ([]models.AlertPreference, error)
	UpsertAlertPreference(ctx context.Context, p *models.AlertPreference) error
	DeleteAlertPreference(ctx context.Context, userID, stockAlertID uint) error
	ListAlertPreferencesForStock(ctx context.Context, stockAlertID uint) ([]models.PreferenceWithUser, error)
}

type TriggerStore interface {
	// RecordTrigger stores the trigger and reports false when its key was already recorded.
	RecordTrigger(ctx context.Context, rec *models.TriggerRecord) (bool, error)
	// ForgetTrigger removes one recorded key so the trigger can be delivered again.
	ForgetTrigger(ctx context.Context, key string) error
	ClearTriggers(ctx context.Context, preferenceID uint) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID uint, f NotificationFilter) ([]models.Notification, int64, error)
	MarkNotificationRead(ctx context.Context, id, userID uint, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, userID uint, at time.Time) (int64, error)
	CountUnreadNotifications(ctx context.Context, userID uint) (int64, error)
}

type DeviceStore interface {
	RegisterDevice(ctx context.Context, d *models.Device) error
	ListDevices(ctx context.Context, userID uint) ([]models.Device, error)
	DeleteDevice(ctx context.Context, id, userID uint) error
	DeleteDeviceByToken(ctx context.Context, token string) error
}

type EducationStore interface {
	CreateEducationContent(ctx context.Context, c *models.EducationContent) error
	GetEducationContent(ctx context.Context, id uint) (*models.EducationContent, error)
	ListEducationContent(ctx context.Context, f EducationFilter) ([]models.EducationContent, error)
	UpdateEducationContent(ctx context.Context, c *models.EducationContent) error
	DeleteEducationContent(ctx context.Context, id uint) error
}

type CoachingStore interface {
	CreateCoachingSession(ctx context.Context, s *models.CoachingSession) error
	GetCoachingSession(ctx context.Context, id uint) (*models.CoachingSession, error)
	// ListCoachingSessions lists the user's sessions, or every session when userID is 0.
	ListCoachingSessions(ctx context.Context, userID uint) ([]models.CoachingSession, error)
	UpdateCoachingSession(ctx context.Context, s *models.CoachingSession) error
}

type CouponStore interface {
	CreateCoupon(ctx context.Context, c *models.Coupon) error
	GetCoupon(ctx context.Context, id uint) (*models.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	UpdateCoupon(ctx context.Context, c *models.Coupon) error
	DeleteCoupon(ctx context.Context, id uint) error
	// RedeemCoupon increments the redemption count, ErrCouponUnavailable when not redeemable.
	RedeemCoupon(ctx context.Context, code string, now time.Time) (*models.Coupon, error)

	CreateDiscount(ctx context.Context, d *models.Discount) error
	GetDiscount(ctx context.Context, id uint) (*models.Discount, error)
	ListDiscounts(ctx context.Context) ([]models.Discount, error)
	UpdateDiscount(ctx context.Context, d *models.Discount) error
	DeleteDiscount(ctx context.Context, id uint) error
}

type WebhookStore interface {
	// RecordWebhookEvent reports false when the event ID was already processed.
	RecordWebhookEvent(ctx context.Context, id, eventType string, at time.Time) (bool, error)
	// ForgetWebhookEvent lets a redelivery of the event be processed again.
	ForgetWebhookEvent(ctx context.Context, id string) error
}

// Storage is everything the API needs from persistence.
type Storage interface {
	UserStore
	StockAlertStore
	PortfolioStore
	PreferenceStore
	TriggerStore
	NotificationStore
	DeviceStore
	EducationStore
	CoachingStore
	CouponStore
	WebhookStore
	Stats(ctx context.Context) (*Stats, error)
}

func paginate(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
