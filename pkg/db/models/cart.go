package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/ids"
)

// Cart is the single mutable cart owned by a user.
type Cart struct {
	ID        string     `gorm:"column:id;type:char(24);primaryKey"`
	UserID    string     `gorm:"column:user_id;type:char(24);not null;uniqueIndex"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	return nil
}

// CartItem is one (product, size, color, quantity) line of a cart.
type CartItem struct {
	ID        string    `gorm:"column:id;type:char(24);primaryKey"`
	CartID    string    `gorm:"column:cart_id;type:char(24);not null;index"`
	ProductID string    `gorm:"column:product_id;type:char(24);not null"`
	Size      string    `gorm:"column:size;not null"`
	Color     string    `gorm:"column:color;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = ids.New()
	}
	return nil
}
