package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/ids"
)

// Voucher is a percentage discount with a cap, a minimum order value and a finite quantity.
type Voucher struct {
	ID              string          `gorm:"column:id;type:char(24);primaryKey"`
	Code            string          `gorm:"column:code;not null;uniqueIndex"`
	Description     string          `gorm:"column:description;not null"`
	DiscountPercent decimal.Decimal `gorm:"column:discount_percent;type:numeric(5,2);not null"`
	MaxDiscount     int64           `gorm:"column:max_discount;not null"`
	MinOrderValue   int64           `gorm:"column:min_order_value;not null;default:0"`
	Quantity        int             `gorm:"column:quantity;not null;check:chk_vouchers_quantity,quantity >= 0"`
	ExpiredAt       time.Time       `gorm:"column:expired_at;not null"`
	Active          bool            `gorm:"column:active;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *Voucher) BeforeCreate(*gorm.DB) error {
	if v.ID == "" {
		v.ID = ids.New()
	}
	return nil
}
