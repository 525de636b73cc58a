package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	NotificationAlertTrigger = "alert_trigger"
	NotificationSystem       = "system"
	NotificationBilling      = "billing"
)

type Notification struct {
	gorm.Model
	UserID       uint       `gorm:"column:user_id;index;not null" json:"user_id"`
	Title        string     `gorm:"column:title;size:255;not null" json:"title"`
	Message      string     `gorm:"column:message;type:text;not null" json:"message"`
	Type         string     `gorm:"column:type;size:30;not null" json:"type"`
	StockAlertID *uint      `gorm:"column:stock_alert_id" json:"stock_alert_id,omitempty"`
	Read         bool       `gorm:"column:read;default:false;index" json:"read"`
	ReadAt       *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
}

// Device is an Expo push token registered by a user.
type Device struct {
	gorm.Model
	Token      string `gorm:"not null;uniqueIndex:idx_token_user" json:"token"`
	UserID     uint   `gorm:"not null;index;uniqueIndex:idx_token_user" json:"user_id"`
	DeviceType string `gorm:"type:varchar(50)" json:"device_type"`
	DeviceName string `gorm:"type:varchar(100)" json:"device_name,omitempty"`
}

// TriggerRecord remembers an emitted alert trigger so it is not sent twice.
type TriggerRecord struct {
	gorm.Model
	Key          string  `gorm:"column:key;size:255;uniqueIndex;not null" json:"key"`
	UserID       uint    `gorm:"column:user_id;index;not null" json:"user_id"`
	PreferenceID uint    `gorm:"column:preference_id;index;not null" json:"preference_id"`
	StockAlertID uint    `gorm:"column:stock_alert_id;not null" json:"stock_alert_id"`
	Kind         string  `gorm:"column:kind;size:30;not null" json:"kind"`
	Price        float64 `gorm:"column:price" json:"price"`
}
