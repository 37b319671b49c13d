package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/ids"
)

// Notification stores in-app notification payloads scoped to users.
type Notification struct {
	ID        string                 `gorm:"type:char(24);primaryKey"`
	UserID    string                 `gorm:"type:char(24);not null;index"`
	Type      enums.NotificationType `gorm:"type:notification_type;not null"`
	Title     string                 `gorm:"type:text;not null"`
	Message   string                 `gorm:"type:text;not null"`
	Link      *string                `gorm:"type:text"`
	ReadAt    *time.Time             `gorm:"type:timestamptz"`
	CreatedAt time.Time              `gorm:"type:timestamptz;autoCreateTime"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = ids.New()
	}
	return nil
}
