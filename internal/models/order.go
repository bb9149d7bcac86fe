package models

import (
	"time"
)

type Order struct {
	ID             uint        `json:"-" gorm:"primaryKey"`
	OrderID        string      `json:"order_id" gorm:"uniqueIndex;not null"`
	InvoiceNumber  string      `json:"invoice_number"`
	CustomerName   string      `json:"customer_name"`
	OrderDate      string      `json:"date"`
	PageIndex      int         `json:"page_index"`
	SourceDocument string      `json:"source_document"`
	Status         string      `json:"status" gorm:"index;default:'pending'"` // pending, ready, error
	Items          []OrderItem `json:"items" gorm:"foreignKey:OrderRefID;constraint:OnDelete:CASCADE"`
	OutputDocument string      `json:"output_document,omitempty"`
	ErrorDetail    string      `json:"error_detail,omitempty" gorm:"type:text"`
	LabelCopies    int         `json:"label_copies"`
	InvoiceCopies  int         `json:"invoice_copies"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderReady   OrderStatus = "ready"
	OrderError   OrderStatus = "error"
)

func (o *Order) IsPending() bool {
	return o.Status == string(OrderPending)
}

// MarkReady records a successfully composed output document.
func (o *Order) MarkReady(outputDocument string) {
	o.Status = string(OrderReady)
	o.OutputDocument = outputDocument
	o.ErrorDetail = ""
}

// MarkError records a composition failure so it stays visible on the order.
func (o *Order) MarkError(err error) {
	o.Status = string(OrderError)
	o.OutputDocument = ""
	if err != nil {
		o.ErrorDetail = err.Error()
	}
}
