package models

import (
	"strings"
	"time"
)

// OrderItem is one SKU line of an order together with the unit tokens
// scanned against it so far.
type OrderItem struct {
	ID            uint      `json:"-" gorm:"primaryKey"`
	OrderRefID    uint      `json:"-" gorm:"index;not null"`
	Position      int       `json:"-" gorm:"not null;default:0"`
	SKU           string    `json:"sku" gorm:"index;not null"`
	Quantity      int       `json:"qty" gorm:"not null"`
	VerifiedUnits []string  `json:"product_ids" gorm:"serializer:json;type:text"`
	AutoSeq       int       `json:"-" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Full reports whether every unit of the line has been verified.
func (i *OrderItem) Full() bool {
	return len(i.VerifiedUnits) >= i.Quantity
}

func (i *OrderItem) HasUnit(token string) bool {
	for _, u := range i.VerifiedUnits {
		if u == token {
			return true
		}
	}
	return false
}

// AddUnit appends token unless the line is full or already holds it.
func (i *OrderItem) AddUnit(token string) bool {
	if i.Full() || i.HasUnit(token) {
		return false
	}
	i.VerifiedUnits = append(i.VerifiedUnits, token)
	return true
}

func (i *OrderItem) MatchesSKU(sku string) bool {
	return strings.EqualFold(strings.TrimSpace(i.SKU), strings.TrimSpace(sku))
}
