package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"

	"order_packer/internal/document"
	"order_packer/internal/models"
	"order_packer/internal/redis"
	"order_packer/internal/repository"
	"order_packer/internal/scan"
	"order_packer/internal/sku"
	"order_packer/pkg/logger"
	"order_packer/pkg/metrics"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDocumentNotReady = errors.New("document not ready")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidOrder     = errors.New("parsed order has no id or items")
	ErrUnreadableSource = errors.New("source document unreadable")
)

const (
	ordersDir  = "orders"
	bulkDir    = "bulk"
	uploadsDir = "uploads"
	scanLock   = "scan"
)

// DocumentComposer builds and merges output documents.
type DocumentComposer interface {
	BuildOrderDocument(ctx context.Context, req document.BuildRequest) error
	Merge(ctx context.Context, inputs []string, outputPath string) (*document.MergeReport, error)
}

// PageSource opens source documents for text extraction.
type PageSource interface {
	Open(ctx context.Context, path string) (document.Source, error)
}

// ScanLocker serializes scan processing across processes.
type ScanLocker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// ScanFeed keeps the recent scan history shown to operators.
type ScanFeed interface {
	PushRecentScan(ctx context.Context, event redis.ScanEvent, limit int) error
	RecentScans(ctx context.Context, limit int) ([]redis.ScanEvent, error)
}

type FulfillmentService interface {
	SaveUpload(ctx context.Context, r io.Reader) (string, error)
	IngestDocument(ctx context.Context, sourcePath string) (*IngestReport, error)
	IngestPage(ctx context.Context, parsed *ParsedOrder, pageIndex int, sourceRef string) (*models.Order, error)
	ApplyScan(ctx context.Context, raw string) (*ScanResult, error)
	BulkFulfill(ctx context.Context, sku string) (*BulkResult, error)
	FetchOutputDocument(ctx context.Context, orderID string) (string, error)
	DocumentPath(ref string) (string, error)
	ListOrders(ctx context.Context) ([]*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ResolveSKU(code string) *sku.Record
	RecentScans(ctx context.Context) ([]redis.ScanEvent, error)
}

// IngestReport summarizes one ingested source document.
type IngestReport struct {
	Source   string   `json:"source"`
	Pages    int      `json:"pages"`
	OrderIDs []string `json:"order_ids"`
	Skipped  []int    `json:"skipped_pages"`
}

// ScanResult is the outcome of one scan event. A scan that matches nothing
// is not an error.
type ScanResult struct {
	Matched          bool   `json:"ok"`
	CompletedOrderID string `json:"completed_order,omitempty"`
	OrderID          string `json:"order_id,omitempty"`
	SKU              string `json:"sku"`
	Token            string `json:"token,omitempty"`
	Duplicate        bool   `json:"duplicate"`
	Status           string `json:"status,omitempty"`
}

// BulkResult is the outcome of a bulk fulfillment run.
type BulkResult struct {
	SKU         string   `json:"sku"`
	Count       int      `json:"count"`
	OrderIDs    []string `json:"order_ids"`
	DocumentRef string   `json:"document_ref,omitempty"`
	Failed      []string `json:"failed,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

type FulfillmentDeps struct {
	Orders      repository.OrderRepository
	Items       repository.OrderItemRepository
	Registry    *sku.Registry
	Composer    DocumentComposer
	Pages       PageSource
	Locker      ScanLocker // optional
	Feed        ScanFeed   // optional
	Logger      *logger.Logger
	Metrics     *metrics.FulfillmentMetrics
	StoreDir    string
	LockTTL     time.Duration
	RecentLimit int
}

type fulfillmentService struct {
	orders   repository.OrderRepository
	items    repository.OrderItemRepository
	registry *sku.Registry
	matcher  *scan.Matcher
	composer DocumentComposer
	pages    PageSource
	locker   ScanLocker
	feed     ScanFeed
	log      *logger.Logger
	metrics  *metrics.FulfillmentMetrics

	storeDir    string
	lockTTL     time.Duration
	recentLimit int

	// serializes every read-modify-write of order state in this process
	mu sync.Mutex
}

func NewFulfillmentService(deps FulfillmentDeps) FulfillmentService {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &fulfillmentService{
		orders:      deps.Orders,
		items:       deps.Items,
		registry:    deps.Registry,
		matcher:     scan.NewMatcher(deps.Registry),
		composer:    deps.Composer,
		pages:       deps.Pages,
		locker:      deps.Locker,
		feed:        deps.Feed,
		log:         log,
		metrics:     deps.Metrics,
		storeDir:    deps.StoreDir,
		lockTTL:     lockTTL,
		recentLimit: deps.RecentLimit,
	}
}

func (s *fulfillmentService) lock(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.locker == nil {
		return s.mu.Unlock, nil
	}
	release, err := s.locker.AcquireLock(ctx, scanLock, s.lockTTL)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("acquire scan lock: %w", err)
	}
	return func() {
		release()
		s.mu.Unlock()
	}, nil
}

// SaveUpload stores an uploaded source document under a name derived from
// its content, so uploading the same file twice reuses one copy.
func (s *fulfillmentService) SaveUpload(ctx context.Context, r io.Reader) (string, error) {
	dir := filepath.Join(s.storeDir, uploadsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash, err := blake2b.New256(nil)
	if err != nil {
		tmp.Close()
		return "", err
	}
	if _, err := io.Copy(io.MultiWriter(tmp, hash), r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	path := filepath.Join(dir, hex.EncodeToString(hash.Sum(nil))[:32]+".pdf")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	s.log.Info(s.log.WithField(ctx, "path", path), "source document stored")
	return path, nil
}

// IngestDocument parses every page of a source document and creates or
// merges the orders found on it. Pages that are not orders are skipped.
func (s *fulfillmentService) IngestDocument(ctx context.Context, sourcePath string) (report *IngestReport, err error) {
	src, err := s.pages.Open(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadableSource, sourcePath, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	report = &IngestReport{Source: sourcePath, Pages: src.PageCount()}
	for i := 0; i < src.PageCount(); i++ {
		text, err := src.PageText(i)
		if err != nil {
			return report, fmt.Errorf("read page %d: %w", i, err)
		}
		parsed, ok := ParseOrderPage(text)
		if !ok {
			report.Skipped = append(report.Skipped, i)
			continue
		}
		order, err := s.IngestPage(ctx, parsed, i, sourcePath)
		if err != nil {
			return report, err
		}
		report.OrderIDs = append(report.OrderIDs, order.OrderID)
	}

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"source":  sourcePath,
		"pages":   report.Pages,
		"orders":  len(report.OrderIDs),
		"skipped": len(report.Skipped),
	}), "source document ingested")
	return report, nil
}

// IngestPage creates the order of a parsed page or merges it into the
// existing order with the same id. Descriptive fields take the latest
// non-empty value; item quantities never shrink.
func (s *fulfillmentService) IngestPage(ctx context.Context, parsed *ParsedOrder, pageIndex int, sourceRef string) (*models.Order, error) {
	if parsed == nil || parsed.OrderID == "" || len(parsed.Items) == 0 {
		return nil, ErrInvalidOrder
	}
	ctx = s.log.WithOrderID(ctx, parsed.OrderID)

	release, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.orders.GetByOrderID(parsed.OrderID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load order %s: %w", parsed.OrderID, err)
	}

	if existing == nil {
		order := &models.Order{
			OrderID:        parsed.OrderID,
			InvoiceNumber:  parsed.InvoiceNumber,
			CustomerName:   parsed.CustomerName,
			OrderDate:      parsed.Date,
			PageIndex:      pageIndex,
			SourceDocument: sourceRef,
			Status:         string(models.OrderPending),
		}
		for _, it := range parsed.Items {
			order.Items = append(order.Items, models.OrderItem{SKU: sku.Normalize(it.SKU), Quantity: it.Quantity})
		}
		order.LabelCopies, order.InvoiceCopies = s.printCounts(order)
		if err := s.orders.Create(order); err != nil {
			return nil, fmt.Errorf("create order %s: %w", order.OrderID, err)
		}
		s.log.Info(ctx, "order created")
		return order, nil
	}

	mergeParsed(existing, parsed, pageIndex, sourceRef)
	existing.LabelCopies, existing.InvoiceCopies = s.printCounts(existing)
	if err := s.orders.Update(existing); err != nil {
		return nil, fmt.Errorf("update order %s: %w", existing.OrderID, err)
	}
	s.log.Info(ctx, "order merged")
	return existing, nil
}

func mergeParsed(order *models.Order, parsed *ParsedOrder, pageIndex int, sourceRef string) {
	if parsed.InvoiceNumber != "" {
		order.InvoiceNumber = parsed.InvoiceNumber
	}
	if parsed.CustomerName != "" {
		order.CustomerName = parsed.CustomerName
	}
	if parsed.Date != "" {
		order.OrderDate = parsed.Date
	}
	order.PageIndex = pageIndex
	order.SourceDocument = sourceRef

	for _, it := range parsed.Items {
		merged := false
		for i := range order.Items {
			item := &order.Items[i]
			if !item.MatchesSKU(it.SKU) {
				continue
			}
			if it.Quantity > item.Quantity {
				item.Quantity = it.Quantity
			}
			merged = true
			break
		}
		if !merged {
			order.Items = append(order.Items, models.OrderItem{SKU: sku.Normalize(it.SKU), Quantity: it.Quantity})
		}
	}
}

// printCounts is the largest label and invoice count asked for by any SKU
// of the order.
func (s *fulfillmentService) printCounts(order *models.Order) (labels, invoices int) {
	for _, item := range order.Items {
		l, inv := s.registry.PrintCounts(item.SKU)
		if l > labels {
			labels = l
		}
		if inv > invoices {
			invoices = inv
		}
	}
	if labels == 0 && invoices == 0 {
		return s.registry.Defaults()
	}
	return labels, invoices
}

// ApplyScan records one barcode scan against the first pending order that
// needs it and composes the order's document once it is complete.
func (s *fulfillmentService) ApplyScan(ctx context.Context, raw string) (*ScanResult, error) {
	code, err := scan.ParseCode(raw)
	if err == nil {
		err = s.matcher.Check(code)
	}
	if err != nil {
		s.metrics.IncScan(metrics.ScanFormatError)
		s.recordScan(ctx, raw, metrics.ScanFormatError, &ScanResult{SKU: code.SKU})
		return nil, err
	}
	ctx = s.log.WithSKU(ctx, code.SKU)

	release, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	pending, err := s.orders.GetByStatus(models.OrderPending)
	if err != nil {
		return nil, fmt.Errorf("load pending orders: %w", err)
	}
	match, err := s.matcher.Apply(pending, code)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{SKU: code.SKU, Token: match.Token}
	if match.Order != nil {
		result.OrderID = match.Order.OrderID
		result.Status = match.Order.Status
	}
	switch {
	case match.Duplicate:
		result.Duplicate = true
		s.metrics.IncScan(metrics.ScanDuplicate)
		s.recordScan(ctx, code.String(), metrics.ScanDuplicate, result)
		return result, nil
	case !match.Matched():
		s.log.Info(ctx, "scan matched no pending order")
		s.metrics.IncScan(metrics.ScanUnmatched)
		s.recordScan(ctx, code.String(), metrics.ScanUnmatched, result)
		return result, nil
	}

	result.Matched = true
	ctx = s.log.WithOrderID(ctx, match.Order.OrderID)
	if err := s.items.Update(match.Item); err != nil {
		return nil, fmt.Errorf("save scanned unit: %w", err)
	}
	s.metrics.IncScan(metrics.ScanMatched)

	if scan.Complete(match.Order, s.registry) {
		// composition failures stay on the order as status=error
		if err := s.compose(ctx, match.Order); err != nil && !isCompositionError(err) {
			return nil, err
		}
		if match.Order.Status == string(models.OrderReady) {
			result.CompletedOrderID = match.Order.OrderID
		}
		result.Status = match.Order.Status
	}
	s.recordScan(ctx, code.String(), metrics.ScanMatched, result)
	return result, nil
}

type compositionError struct{ err error }

func (e *compositionError) Error() string { return e.err.Error() }
func (e *compositionError) Unwrap() error { return e.err }

func isCompositionError(err error) bool {
	var ce *compositionError
	return errors.As(err, &ce)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func outputName(orderID string) string {
	return unsafeNameChars.ReplaceAllString(orderID, "_") + ".pdf"
}

// compose builds the order document and persists the resulting status. A
// failed build is returned as a compositionError after the order was saved
// with status error.
func (s *fulfillmentService) compose(ctx context.Context, order *models.Order) error {
	out := filepath.Join(s.storeDir, ordersDir, outputName(order.OrderID))
	buildErr := s.composer.BuildOrderDocument(ctx, document.BuildRequest{
		SourcePath:    order.SourceDocument,
		PageIndex:     order.PageIndex,
		LabelCopies:   order.LabelCopies,
		InvoiceCopies: order.InvoiceCopies,
		OutputPath:    out,
	})
	if buildErr != nil {
		s.log.Error(ctx, "order document composition failed", buildErr)
		order.MarkError(buildErr)
	} else {
		s.log.Info(ctx, "order ready")
		order.MarkReady(out)
	}

	if err := s.orders.Update(order); err != nil {
		return fmt.Errorf("save order %s: %w", order.OrderID, err)
	}
	if buildErr != nil {
		return &compositionError{err: buildErr}
	}
	return nil
}

// recordScan pushes one event to the recent scan feed. Parsed scans are
// recorded in their normalized form.
func (s *fulfillmentService) recordScan(ctx context.Context, code, outcome string, result *ScanResult) {
	if s.feed == nil {
		return
	}
	event := redis.ScanEvent{Code: code, Outcome: outcome, At: time.Now().UTC()}
	if result != nil {
		event.OrderID = result.OrderID
		event.SKU = result.SKU
		event.Token = result.Token
		event.Completed = result.CompletedOrderID != ""
	}
	if err := s.feed.PushRecentScan(ctx, event, s.recentLimit); err != nil {
		s.log.Warn(ctx, "failed to record scan event", err)
	}
}

// BulkFulfill verifies every pending order that consists of a single line of
// the SKU, composes each and merges the documents into one.
func (s *fulfillmentService) BulkFulfill(ctx context.Context, code string) (*BulkResult, error) {
	rec := s.registry.Resolve(code)
	ctx = s.log.WithSKU(ctx, rec.SKU)
	result := &BulkResult{SKU: rec.SKU}

	release, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	pending, err := s.orders.GetByStatus(models.OrderPending)
	if err != nil {
		return nil, fmt.Errorf("load pending orders: %w", err)
	}

	var documents []string
	for _, order := range pending {
		if len(order.Items) != 1 || !order.Items[0].MatchesSKU(rec.SKU) {
			continue
		}
		item := &order.Items[0]
		scan.FillBulk(item)
		if err := s.items.Update(item); err != nil {
			return result, fmt.Errorf("save bulk units of %s: %w", order.OrderID, err)
		}

		orderCtx := s.log.WithOrderID(ctx, order.OrderID)
		if err := s.compose(orderCtx, order); err != nil {
			if !isCompositionError(err) {
				return result, err
			}
			result.Failed = append(result.Failed, order.OrderID)
			continue
		}
		result.Count++
		result.OrderIDs = append(result.OrderIDs, order.OrderID)
		documents = append(documents, order.OutputDocument)
	}

	if len(documents) == 0 {
		s.log.Info(ctx, "bulk run found no eligible orders")
		return result, nil
	}

	out := filepath.Join(s.storeDir, bulkDir, fmt.Sprintf("bulk-%s-%s.pdf", rec.SKU, uuid.NewString()))
	report, err := s.composer.Merge(ctx, documents, out)
	if report != nil {
		for _, w := range report.Warnings {
			result.Warnings = append(result.Warnings, w.Error())
		}
	}
	if err != nil {
		return result, fmt.Errorf("merge bulk documents: %w", err)
	}
	result.DocumentRef = filepath.Base(out)

	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"count":    result.Count,
		"failed":   len(result.Failed),
		"document": result.DocumentRef,
	}), "bulk run completed")
	return result, nil
}

// FetchOutputDocument returns the path of an order's composed document.
func (s *fulfillmentService) FetchOutputDocument(ctx context.Context, orderID string) (string, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Status != string(models.OrderReady) || order.OutputDocument == "" {
		return "", ErrDocumentNotReady
	}
	if _, err := os.Stat(order.OutputDocument); err != nil {
		return "", ErrDocumentNotReady
	}
	return order.OutputDocument, nil
}

// DocumentPath resolves a generated document reference, such as the one
// returned by a bulk run, inside the store.
func (s *fulfillmentService) DocumentPath(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return "", ErrDocumentNotFound
	}
	for _, dir := range []string{bulkDir, ordersDir} {
		path := filepath.Join(s.storeDir, dir, ref)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", ErrDocumentNotFound
}

func (s *fulfillmentService) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return s.orders.GetAll()
}

func (s *fulfillmentService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.orders.GetByOrderID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}

func (s *fulfillmentService) ResolveSKU(code string) *sku.Record {
	return s.registry.Resolve(code)
}

func (s *fulfillmentService) RecentScans(ctx context.Context) ([]redis.ScanEvent, error) {
	if s.feed == nil {
		return []redis.ScanEvent{}, nil
	}
	return s.feed.RecentScans(ctx, s.recentLimit)
}
