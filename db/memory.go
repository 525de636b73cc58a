package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KAsare1/Stockalerts-server/cmd/models"
	"gorm.io/gorm"
)

// MemStorage keeps every entity in process memory with auto-incrementing IDs.
// It is used for development and tests; values are copied in and out so callers
// never share state with the store.
type MemStorage struct {
	mu sync.RWMutex

	users         map[uint]models.User
	alerts        map[uint]models.StockAlert
	items         map[uint]models.PortfolioItem
	prefs         map[uint]models.AlertPreference
	triggers      map[string]models.TriggerRecord
	notifications map[uint]models.Notification
	devices       map[uint]models.Device
	education     map[uint]models.EducationContent
	sessions      map[uint]models.CoachingSession
	coupons       map[uint]models.Coupon
	discounts     map[uint]models.Discount
	webhookEvents map[string]models.WebhookEvent

	nextID map[string]uint
	now    func() time.Time
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		users:         make(map[uint]models.User),
		alerts:        make(map[uint]models.StockAlert),
		items:         make(map[uint]models.PortfolioItem),
		prefs:         make(map[uint]models.AlertPreference),
		triggers:      make(map[string]models.TriggerRecord),
		notifications: make(map[uint]models.Notification),
		devices:       make(map[uint]models.Device),
		education:     make(map[uint]models.EducationContent),
		sessions:      make(map[uint]models.CoachingSession),
		coupons:       make(map[uint]models.Coupon),
		discounts:     make(map[uint]models.Discount),
		webhookEvents: make(map[string]models.WebhookEvent),
		nextID:        make(map[string]uint),
		now:           time.Now,
	}
}

// stamp assigns the next ID of the table and the creation timestamps. Callers hold mu.
func (m *MemStorage) stamp(table string, model *gorm.Model) {
	m.nextID[table]++
	now := m.now()
	model.ID = m.nextID[table]
	model.CreatedAt = now
	model.UpdatedAt = now
}

func sortedKeys[T any](rows map[uint]T) []uint {
	keys := make([]uint, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func cloneStrings(roles []string) []string {
	if roles == nil {
		return nil
	}
	return append([]string(nil), roles...)
}

// Users

func (m *MemStorage) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("email %s: %w", u.Email, ErrDuplicate)
		}
		if strings.EqualFold(existing.Username, u.Username) {
			return fmt.Errorf("username %s: %w", u.Username, ErrDuplicate)
		}
	}
	if u.Tier == "" {
		u.Tier = models.TierFree
	}
	m.stamp("users", &u.Model)
	stored := *u
	stored.Roles = cloneStrings(u.Roles)
	m.users[u.ID] = stored
	return nil
}

func (m *MemStorage) GetUser(ctx context.Context, id uint) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	u.Roles = cloneStrings(u.Roles)
	return &u, nil
}

func (m *MemStorage) findUser(match func(models.User) bool) *models.User {
	for _, id := range sortedKeys(m.users) {
		u := m.users[id]
		if match(u) {
			u.Roles = cloneStrings(u.Roles)
			return &u
		}
	}
	return nil
}

func (m *MemStorage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u := m.findUser(func(u models.User) bool { return strings.EqualFold(u.Email, email) }); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
}

func (m *MemStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u := m.findUser(func(u models.User) bool { return strings.EqualFold(u.Username, username) }); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
}

func (m *MemStorage) GetUserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if customerID != "" {
		if u := m.findUser(func(u models.User) bool { return u.StripeCustomerID == customerID }); u != nil {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user with customer %s: %w", customerID, ErrNotFound)
}

func (m *MemStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]models.User, 0, len(m.users))
	for _, id := range sortedKeys(m.users) {
		u := m.users[id]
		u.Roles = cloneStrings(u.Roles)
		users = append(users, u)
	}
	return users, nil
}

func (m *MemStorage) UpdateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[u.ID]
	if !ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	for id, other := range m.users {
		if id != u.ID && strings.EqualFold(other.Email, u.Email) {
			return fmt.Errorf("email %s: %w", u.Email, ErrDuplicate)
		}
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = m.now()
	stored := *u
	stored.Roles = cloneStrings(u.Roles)
	m.users[u.ID] = stored
	return nil
}

func (m *MemStorage) DeleteUser(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	delete(m.users, id)
	return nil
}

// Stock alerts

func cloneAlert(a models.StockAlert) models.StockAlert {
	a.TechnicalReasons = cloneStrings(a.TechnicalReasons)
	return a
}

func (m *MemStorage) CreateStockAlert(ctx context.Context, a *models.StockAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.Status == "" {
		a.Status = models.AlertStatusActive
	}
	if a.RequiredTier == "" {
		a.RequiredTier = models.TierPaid
	}
	if a.MaxPrice < a.CurrentPrice {
		a.MaxPrice = a.CurrentPrice
	}
	m.stamp("alerts", &a.Model)
	m.alerts[a.ID] = cloneAlert(*a)
	return nil
}

func (m *MemStorage) GetStockAlert(ctx context.Context, id uint) (*models.StockAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("stock alert %d: %w", id, ErrNotFound)
	}
	a = cloneAlert(a)
	return &a, nil
}

func (m *MemStorage) ListStockAlerts(ctx context.Context, f StockAlertFilter) ([]models.StockAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]models.StockAlert, 0, len(m.alerts))
	for _, id := range sortedKeys(m.alerts) {
		a := m.alerts[id]
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Symbol != "" && !strings.EqualFold(a.Symbol, f.Symbol) {
			continue
		}
		alerts = append(alerts, cloneAlert(a))
	}
	return alerts, nil
}

func (m *MemStorage) UpdateStockAlert(ctx context.Context, a *models.StockAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.alerts[a.ID]
	if !ok {
		return fmt.Errorf("stock alert %d: %w", a.ID, ErrNotFound)
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = m.now()
	if a.MaxPrice < existing.MaxPrice {
		a.MaxPrice = existing.MaxPrice
	}
	if a.MaxPrice < a.CurrentPrice {
		a.MaxPrice = a.CurrentPrice
	}
	m.alerts[a.ID] = cloneAlert(*a)
	return nil
}

func (m *MemStorage) UpdateStockAlertPrice(ctx context.Context, id uint, price float64) (*models.StockAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("stock alert %d: %w", id, ErrNotFound)
	}
	a.ObservePrice(price)
	a.UpdatedAt = m.now()
	m.alerts[id] = a
	out := cloneAlert(a)
	return &out, nil
}

func (m *MemStorage) CloseStockAlert(ctx context.Context, id uint, status string, at time.Time) (*models.StockAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("stock alert %d: %w", id, ErrNotFound)
	}
	a.Status = status
	a.ClosedAt = &at
	a.UpdatedAt = m.now()
	m.alerts[id] = a
	out := cloneAlert(a)
	return &out, nil
}

func (m *MemStorage) DeleteStockAlert(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[id]; !ok {
		return fmt.Errorf("stock alert %d: %w", id, ErrNotFound)
	}
	delete(m.alerts, id)
	return nil
}

// Portfolio

func (m *MemStorage) CreatePortfolioItem(ctx context.Context, item *models.PortfolioItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamp("items", &item.Model)
	m.items[item.ID] = *item
	return nil
}

func (m *MemStorage) GetPortfolioItem(ctx context.Context, id uint) (*models.PortfolioItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("portfolio item %d: %w", id, ErrNotFound)
	}
	return &item, nil
}

func (m *MemStorage) ListPortfolioItems(ctx context.Context, userID uint) ([]models.PortfolioItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []models.PortfolioItem{}
	for _, id := range sortedKeys(m.items) {
		if item := m.items[id]; item.UserID == userID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (m *MemStorage) SellPortfolioItem(ctx context.Context, id, userID uint, price float64, at time.Time) (*models.PortfolioItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.UserID != userID {
		return nil, fmt.Errorf("portfolio item %d: %w", id, ErrNotFound)
	}
	if item.Sold {
		return nil, fmt.Errorf("portfolio item %d: %w", id, ErrAlreadySold)
	}
	item.Sold = true
	item.SoldPrice = &price
	item.SoldAt = &at
	item.UpdatedAt = m.now()
	m.items[id] = item
	return &item, nil
}

func (m *MemStorage) DeletePortfolioItem(ctx context.Context, id, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.UserID != userID {
		return fmt.Errorf("portfolio item %d: %w", id, ErrNotFound)
	}
	delete(m.items, id)
	return nil
}

// Alert preferences

func (m *MemStorage) findPreference(userID, stockAlertID uint) (models.AlertPreference, bool) {
	for _, p := range m.prefs {
		if p.UserID == userID && p.StockAlertID == stockAlertID {
			return p, true
		}
	}
	return models.AlertPreference{}, false
}

func (m *MemStorage) GetAlertPreference(ctx context.Context, userID, stockAlertID uint) (*models.AlertPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.findPreference(userID, stockAlertID)
	if !ok {
		return nil, fmt.Errorf("preference for stock alert %d: %w", stockAlertID, ErrNotFound)
	}
	return &p, nil
}

func (m *MemStorage) ListAlertPreferences(ctx context.Context, userID uint) ([]models.AlertPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefs := []models.AlertPreference{}
	for _, id := range sortedKeys(m.prefs) {
		if p := m.prefs[id]; p.UserID == userID {
			prefs = append(prefs, p)
		}
	}
	return prefs, nil
}

func (m *MemStorage) UpsertAlertPreference(ctx context.Context, p *models.AlertPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.findPreference(p.UserID, p.StockAlertID); ok {
		p.Model = existing.Model
		p.UpdatedAt = m.now()
	} else {
		m.stamp("prefs", &p.Model)
	}
	m.prefs[p.ID] = *p
	return nil
}

func (m *MemStorage) DeleteAlertPreference(ctx context.Context, userID, stockAlertID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.findPreference(userID, stockAlertID)
	if !ok {
		return fmt.Errorf("preference for stock alert %d: %w", stockAlertID, ErrNotFound)
	}
	delete(m.prefs, p.ID)
	return nil
}

func (m *MemStorage) ListAlertPreferencesForStock(ctx context.Context, stockAlertID uint) ([]models.PreferenceWithUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []models.PreferenceWithUser
	for _, id := range sortedKeys(m.prefs) {
		p := m.prefs[id]
		if p.StockAlertID != stockAlertID {
			continue
		}
		u, ok := m.users[p.UserID]
		if !ok {
			continue
		}
		u.Roles = cloneStrings(u.Roles)
		rows = append(rows, models.PreferenceWithUser{Preference: p, User: u})
	}
	return rows, nil
}

// Triggers

func (m *MemStorage) RecordTrigger(ctx context.Context, rec *models.TriggerRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.triggers[rec.Key]; ok {
		return false, nil
	}
	m.stamp("triggers", &rec.Model)
	m.triggers[rec.Key] = *rec
	return true, nil
}

func (m *MemStorage) ForgetTrigger(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.triggers, key)
	return nil
}

func (m *MemStorage) ClearTriggers(ctx context.Context, preferenceID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, rec := range m.triggers {
		if rec.PreferenceID == preferenceID {
			delete(m.triggers, key)
		}
	}
	return nil
}

// Notifications

func (m *MemStorage) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamp("notifications", &n.Model)
	m.notifications[n.ID] = *n
	return nil
}

func (m *MemStorage) ListNotifications(ctx context.Context, userID uint, f NotificationFilter) ([]models.Notification, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.Notification
	for _, n := range m.notifications {
		if n.UserID != userID || (f.UnreadOnly && n.Read) {
			continue
		}
		matched = append(matched, n)
	}
	// Newest first.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	limit, offset := paginate(f.Limit, f.Offset)
	if offset >= len(matched) {
		return []models.Notification{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *MemStorage) MarkNotificationRead(ctx context.Context, id, userID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	if !n.Read {
		n.Read = true
		n.ReadAt = &at
		n.UpdatedAt = m.now()
		m.notifications[id] = n
	}
	return nil
}

func (m *MemStorage) MarkAllNotificationsRead(ctx context.Context, userID uint, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updated int64
	for id, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			n.ReadAt = &at
			m.notifications[id] = n
			updated++
		}
	}
	return updated, nil
}

func (m *MemStorage) CountUnreadNotifications(ctx context.Context, userID uint) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, n := range m.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

// Devices

func (m *MemStorage) RegisterDevice(ctx context.Context, d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.devices {
		if existing.Token == d.Token && existing.UserID == d.UserID {
			existing.DeviceType = d.DeviceType
			existing.DeviceName = d.DeviceName
			existing.UpdatedAt = m.now()
			m.devices[id] = existing
			*d = existing
			return nil
		}
	}
	m.stamp("devices", &d.Model)
	m.devices[d.ID] = *d
	return nil
}

func (m *MemStorage) ListDevices(ctx context.Context, userID uint) ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := []models.Device{}
	for _, id := range sortedKeys(m.devices) {
		if d := m.devices[id]; d.UserID == userID {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

func (m *MemStorage) DeleteDevice(ctx context.Context, id, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok || d.UserID != userID {
		return fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	delete(m.devices, id)
	return nil
}

func (m *MemStorage) DeleteDeviceByToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, d := range m.devices {
		if d.Token == token {
			delete(m.devices, id)
		}
	}
	return nil
}

// Education

func (m *MemStorage) CreateEducationContent(ctx context.Context, c *models.EducationContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.RequiredTier == "" {
		c.RequiredTier = models.TierFree
	}
	m.stamp("education", &c.Model)
	m.education[c.ID] = *c
	return nil
}

func (m *MemStorage) GetEducationContent(ctx context.Context, id uint) (*models.EducationContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.education[id]
	if !ok {
		return nil, fmt.Errorf("education content %d: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (m *MemStorage) ListEducationContent(ctx context.Context, f EducationFilter) ([]models.EducationContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content := []models.EducationContent{}
	for _, id := range sortedKeys(m.education) {
		c := m.education[id]
		if f.PublishedOnly && !c.Published {
			continue
		}
		if f.Category != "" && !strings.EqualFold(c.Category, f.Category) {
			continue
		}
		content = append(content, c)
	}
	return content, nil
}

func (m *MemStorage) UpdateEducationContent(ctx context.Context, c *models.EducationContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.education[c.ID]
	if !ok {
		return fmt.Errorf("education content %d: %w", c.ID, ErrNotFound)
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now()
	m.education[c.ID] = *c
	return nil
}

func (m *MemStorage) DeleteEducationContent(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.education[id]; !ok {
		return fmt.Errorf("education content %d: %w", id, ErrNotFound)
	}
	delete(m.education, id)
	return nil
}

// Coaching

func (m *MemStorage) CreateCoachingSession(ctx context.Context, s *models.CoachingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Status == "" {
		s.Status = models.SessionRequested
	}
	m.stamp("sessions", &s.Model)
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemStorage) GetCoachingSession(ctx context.Context, id uint) (*models.CoachingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("coaching session %d: %w", id, ErrNotFound)
	}
	return &s, nil
}

func (m *MemStorage) ListCoachingSessions(ctx context.Context, userID uint) ([]models.CoachingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := []models.CoachingSession{}
	for _, id := range sortedKeys(m.sessions) {
		if s := m.sessions[id]; userID == 0 || s.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

func (m *MemStorage) UpdateCoachingSession(ctx context.Context, s *models.CoachingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[s.ID]
	if !ok {
		return fmt.Errorf("coaching session %d: %w", s.ID, ErrNotFound)
	}
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = m.now()
	m.sessions[s.ID] = *s
	return nil
}

// Coupons and discounts

func (m *MemStorage) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.coupons {
		if strings.EqualFold(existing.Code, c.Code) {
			return fmt.Errorf("coupon %s: %w", c.Code, ErrDuplicate)
		}
	}
	m.stamp("coupons", &c.Model)
	m.coupons[c.ID] = *c
	return nil
}

func (m *MemStorage) GetCoupon(ctx context.Context, id uint) (*models.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.coupons[id]
	if !ok {
		return nil, fmt.Errorf("coupon %d: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (m *MemStorage) couponByCode(code string) (models.Coupon, bool) {
	for _, c := range m.coupons {
		if strings.EqualFold(c.Code, code) {
			return c, true
		}
	}
	return models.Coupon{}, false
}

func (m *MemStorage) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.couponByCode(code)
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, ErrNotFound)
	}
	return &c, nil
}

func (m *MemStorage) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coupons := make([]models.Coupon, 0, len(m.coupons))
	for _, id := range sortedKeys(m.coupons) {
		coupons = append(coupons, m.coupons[id])
	}
	return coupons, nil
}

func (m *MemStorage) UpdateCoupon(ctx context.Context, c *models.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.coupons[c.ID]
	if !ok {
		return fmt.Errorf("coupon %d: %w", c.ID, ErrNotFound)
	}
	for id, other := range m.coupons {
		if id != c.ID && strings.EqualFold(other.Code, c.Code) {
			return fmt.Errorf("coupon %s: %w", c.Code, ErrDuplicate)
		}
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now()
	m.coupons[c.ID] = *c
	return nil
}

func (m *MemStorage) DeleteCoupon(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.coupons[id]; !ok {
		return fmt.Errorf("coupon %d: %w", id, ErrNotFound)
	}
	delete(m.coupons, id)
	return nil
}

func (m *MemStorage) RedeemCoupon(ctx context.Context, code string, now time.Time) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.couponByCode(code)
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, ErrNotFound)
	}
	if !c.Redeemable(now) {
		return nil, fmt.Errorf("coupon %s: %w", code, ErrCouponUnavailable)
	}
	c.TimesRedeemed++
	c.UpdatedAt = m.now()
	m.coupons[c.ID] = c
	return &c, nil
}

func (m *MemStorage) CreateDiscount(ctx context.Context, d *models.Discount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamp("discounts", &d.Model)
	m.discounts[d.ID] = *d
	return nil
}

func (m *MemStorage) GetDiscount(ctx context.Context, id uint) (*models.Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.discounts[id]
	if !ok {
		return nil, fmt.Errorf("discount %d: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (m *MemStorage) ListDiscounts(ctx context.Context) ([]models.Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	discounts := make([]models.Discount, 0, len(m.discounts))
	for _, id := range sortedKeys(m.discounts) {
		discounts = append(discounts, m.discounts[id])
	}
	return discounts, nil
}

func (m *MemStorage) UpdateDiscount(ctx context.Context, d *models.Discount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.discounts[d.ID]
	if !ok {
		return fmt.Errorf("discount %d: %w", d.ID, ErrNotFound)
	}
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = m.now()
	m.discounts[d.ID] = *d
	return nil
}

func (m *MemStorage) DeleteDiscount(ctx context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.discounts[id]; !ok {
		return fmt.Errorf("discount %d: %w", id, ErrNotFound)
	}
	delete(m.discounts, id)
	return nil
}

// Webhooks

func (m *MemStorage) RecordWebhookEvent(ctx context.Context, id, eventType string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.webhookEvents[id]; ok {
		return false, nil
	}
	m.webhookEvents[id] = models.WebhookEvent{ID: id, Type: eventType, ProcessedAt: at}
	return true, nil
}

func (m *MemStorage) ForgetWebhookEvent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.webhookEvents, id)
	return nil
}

// Stats

func (m *MemStorage) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{UsersByTier: make(map[models.Tier]int64)}
	for _, u := range m.users {
		stats.TotalUsers++
		stats.UsersByTier[u.Tier]++
	}
	for _, a := range m.alerts {
		if a.IsActive() {
			stats.ActiveAlerts++
		} else {
			stats.ClosedAlerts++
		}
	}
	for _, item := range m.items {
		if item.Sold {
			stats.ClosedPositions++
		} else {
			stats.OpenPositions++
		}
	}
	for _, n := range m.notifications {
		if !n.Read {
			stats.UnreadNotifications++
		}
	}
	for _, s := range m.sessions {
		if s.Status == models.SessionScheduled {
			stats.ScheduledSessions++
		}
	}
	return stats, nil
}
