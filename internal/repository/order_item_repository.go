package repository

import (
	"order_packer/internal/models"

	"gorm.io/gorm"
)

// OrderItemRepository saves the scan progress of a single line item.
// Items are created, read and removed together with their order.
type OrderItemRepository interface {
	Update(orderItem *models.OrderItem) error
}

type orderItemRepository struct {
	db *gorm.DB
}

func NewOrderItemRepository(db *gorm.DB) OrderItemRepository {
	return &orderItemRepository{db: db}
}

func (r *orderItemRepository) Update(orderItem *models.OrderItem) error {
	if orderItem.ID == 0 {
		return gorm.ErrMissingWhereClause
	}
	return r.db.Save(orderItem).Error
}
