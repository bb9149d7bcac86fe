package repository

import (
	"order_packer/internal/models"

	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(order *models.Order) error
	GetByOrderID(orderID string) (*models.Order, error)
	GetByStatus(status models.OrderStatus) ([]*models.Order, error)
	Update(order *models.Order) error
	GetAll() ([]*models.Order, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// withItems preloads line items in page order.
func withItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC, id ASC")
	})
}

func (r *orderRepository) Create(order *models.Order) error {
	for i := range order.Items {
		order.Items[i].Position = i
	}
	return r.db.Create(order).Error
}

func (r *orderRepository) GetByOrderID(orderID string) (*models.Order, error) {
	var order models.Order
	err := withItems(r.db).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByStatus returns orders in insertion order.
func (r *orderRepository) GetByStatus(status models.OrderStatus) ([]*models.Order, error) {
	var orders []*models.Order
	err := withItems(r.db).Where("status = ?", string(status)).Order("id ASC").Find(&orders).Error
	return orders, err
}

// Update saves the order and all of its line items in one transaction.
// Items without an ID are created.
func (r *orderRepository) Update(order *models.Order) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Save(order).Error; err != nil {
			return err
		}
		for i := range order.Items {
			item := &order.Items[i]
			item.OrderRefID = order.ID
			item.Position = i
			if err := tx.Save(item).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *orderRepository) GetAll() ([]*models.Order, error) {
	var orders []*models.Order
	err := withItems(r.db).Order("id ASC").Find(&orders).Error
	return orders, err
}
