package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"order_packer/internal/scan"
	"order_packer/internal/services"
	"order_packer/pkg/logger"

	"github.com/gin-gonic/gin"
)

type APIHandler struct {
	fulfillment services.FulfillmentService
	log         *logger.Logger
}

func NewAPIHandler(fulfillment services.FulfillmentService, log *logger.Logger) *APIHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &APIHandler{fulfillment: fulfillment, log: log}
}

// Routes mounts the packing station endpoints on api.
func (h *APIHandler) Routes(api gin.IRouter) {
	api.POST("/upload", h.Upload)
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:order_id", h.GetOrder)
	api.POST("/scan", h.Scan)
	api.POST("/bulk", h.Bulk)
	api.GET("/download/:order_id", h.Download)
	api.GET("/documents/:ref", h.Document)
	api.GET("/skus/:sku", h.GetSKU)
	api.GET("/scans/recent", h.RecentScans)
}

// OrderRow is one line item of the order table, flattened with its order.
type OrderRow struct {
	OrderID       string   `json:"order_id"`
	InvoiceNumber string   `json:"invoice_number"`
	CustomerName  string   `json:"customer_name"`
	SKU           string   `json:"sku"`
	Quantity      int      `json:"qty"`
	ProductIDs    []string `json:"product_ids"`
	Status        string   `json:"status"`
}

// respondError maps service errors onto HTTP statuses.
func (h *APIHandler) respondError(c *gin.Context, err error) {
	var formatErr *scan.FormatError
	switch {
	case errors.As(err, &formatErr):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": formatErr.Error()})
	case errors.Is(err, services.ErrUnreadableSource):
		h.log.Warn(c.Request.Context(), "upload rejected", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": "Could not read uploaded document"})
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, services.ErrDocumentNotReady):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Not found or not ready yet"})
	default:
		h.log.Error(c.Request.Context(), "request failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Internal server error"})
	}
}

func (h *APIHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "No file uploaded"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Unreadable upload"})
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	path, err := h.fulfillment.SaveUpload(ctx, f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	report, err := h.fulfillment.IngestDocument(ctx, path)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "report": report})
}

func (h *APIHandler) ListOrders(c *gin.Context) {
	orders, err := h.fulfillment.ListOrders(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	rows := make([]OrderRow, 0, len(orders))
	for _, o := range orders {
		for _, it := range o.Items {
			units := it.VerifiedUnits
			if units == nil {
				units = []string{}
			}
			rows = append(rows, OrderRow{
				OrderID:       o.OrderID,
				InvoiceNumber: o.InvoiceNumber,
				CustomerName:  o.CustomerName,
				SKU:           it.SKU,
				Quantity:      it.Quantity,
				ProductIDs:    units,
				Status:        o.Status,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "rows": rows})
}

func (h *APIHandler) GetOrder(c *gin.Context) {
	order, err := h.fulfillment.GetOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "order": order})
}

func (h *APIHandler) Scan(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid request format"})
		return
	}

	result, err := h.fulfillment.ApplyScan(c.Request.Context(), req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) Bulk(c *gin.Context) {
	var req struct {
		SKU string `json:"sku" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "sku is required"})
		return
	}

	result, err := h.fulfillment.BulkFulfill(c.Request.Context(), req.SKU)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

func (h *APIHandler) Download(c *gin.Context) {
	path, err := h.fulfillment.FetchOutputDocument(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (h *APIHandler) Document(c *gin.Context) {
	path, err := h.fulfillment.DocumentPath(c.Param("ref"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (h *APIHandler) GetSKU(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "sku": h.fulfillment.ResolveSKU(c.Param("sku"))})
}

func (h *APIHandler) RecentScans(c *gin.Context) {
	events, err := h.fulfillment.RecentScans(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "scans": events})
}

func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
