package models

import (
	"time"

	"gorm.io/gorm"
)

type EducationContent struct {
	gorm.Model
	Title        string `gorm:"column:title;size:255;not null" json:"title"`
	Description  string `gorm:"column:description;type:text" json:"description"`
	ContentType  string `gorm:"column:content_type;size:20;not null" json:"content_type"`
	URL          string `gorm:"column:url;size:500;not null" json:"url"`
	Category     string `gorm:"column:category;size:50;index" json:"category"`
	Level        string `gorm:"column:level;size:20" json:"level"`
	RequiredTier Tier   `gorm:"column:required_tier;size:20;not null;default:free" json:"required_tier"`
	Published    bool   `gorm:"column:published;default:false" json:"published"`
}

const (
	SessionRequested = "requested"
	SessionScheduled = "scheduled"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

type CoachingSession struct {
	gorm.Model
	UserID          uint       `gorm:"column:user_id;index;not null" json:"user_id"`
	CoachID         *uint      `gorm:"column:coach_id" json:"coach_id,omitempty"`
	Title           string     `gorm:"column:title;size:255;not null" json:"title"`
	Description     string     `gorm:"column:description;type:text" json:"description"`
	ScheduledAt     *time.Time `gorm:"column:scheduled_at" json:"scheduled_at,omitempty"`
	DurationMinutes int        `gorm:"column:duration_minutes;default:60" json:"duration_minutes"`
	Status          string     `gorm:"column:status;size:20;not null;default:requested" json:"status"`
	MeetingURL      string     `gorm:"column:meeting_url;size:500" json:"meeting_url,omitempty"`
	Notes           string     `gorm:"column:notes;type:text" json:"notes,omitempty"`
}

func ValidSessionStatus(s string) bool {
	switch s {
	case SessionRequested, SessionScheduled, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}
