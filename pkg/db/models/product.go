package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/threadline/shopfront-backend/pkg/ids"
)

// Product is the catalog entry whose variants carry sellable stock.
type Product struct {
	ID        string           `gorm:"column:id;type:char(24);primaryKey"`
	Name      string           `gorm:"column:name;not null"`
	Slug      string           `gorm:"column:slug;not null;uniqueIndex"`
	Sold      int              `gorm:"column:sold;not null;default:0;check:chk_products_sold,sold >= 0"`
	Variants  []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	return nil
}

// ProductVariant is the unit of inventory, keyed by (product, size, color).
type ProductVariant struct {
	ID        string    `gorm:"column:id;type:char(24);primaryKey"`
	ProductID string    `gorm:"column:product_id;type:char(24);not null;uniqueIndex:idx_variant_key,priority:1"`
	Size      string    `gorm:"column:size;not null;uniqueIndex:idx_variant_key,priority:2"`
	Color     string    `gorm:"column:color;not null;uniqueIndex:idx_variant_key,priority:3"`
	Stock     int       `gorm:"column:stock;not null;default:0;check:chk_variants_stock,stock >= 0"`
	Price     int64     `gorm:"column:price;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	if v.ID == "" {
		v.ID = ids.New()
	}
	return nil
}
