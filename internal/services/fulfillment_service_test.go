package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order_packer/internal/database"
	"order_packer/internal/document"
	"order_packer/internal/layout"
	"order_packer/internal/migrations"
	"order_packer/internal/models"
	"order_packer/internal/redis"
	"order_packer/internal/repository"
	"order_packer/internal/scan"
	"order_packer/internal/sku"
)

// fakeComposer writes a marker file per build and fails for listed sources.
type fakeComposer struct {
	failSources map[string]error
	builds      []document.BuildRequest
	merges      [][]string
}

func (c *fakeComposer) BuildOrderDocument(_ context.Context, req document.BuildRequest) error {
	c.builds = append(c.builds, req)
	if err, ok := c.failSources[req.SourcePath]; ok {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, []byte(fmt.Sprintf("page %d x%d", req.PageIndex, req.InvoiceCopies)), 0o644)
}

func (c *fakeComposer) Merge(_ context.Context, inputs []string, outputPath string) (*document.MergeReport, error) {
	c.merges = append(c.merges, inputs)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, err
	}
	return &document.MergeReport{Output: outputPath, Merged: inputs}, os.WriteFile(outputPath, []byte("merged"), 0o644)
}

type textSource struct {
	pages  []string
	closed bool
}

func (s *textSource) PageCount() int { return len(s.pages) }
func (s *textSource) PageBox(int) (layout.Box, error) { return layout.Box{URX: 595, URY: 842}, nil }
func (s *textSource) PageText(i int) (string, error) { return s.pages[i], nil }
func (s *textSource) Close() error { s.closed = true; return nil }

type fakePages struct {
	sources map[string]*textSource
}

func (p *fakePages) Open(_ context.Context, path string) (document.Source, error) {
	src, ok := p.sources[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return src, nil
}

type memoryFeed struct {
	mu     sync.Mutex
	events []redis.ScanEvent
}

func (f *memoryFeed) PushRecentScan(_ context.Context, event redis.ScanEvent, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append([]redis.ScanEvent{event}, f.events...)
	return nil
}

func (f *memoryFeed) RecentScans(context.Context, int) ([]redis.ScanEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]redis.ScanEvent(nil), f.events...), nil
}

type countingLocker struct {
	acquired int
	released int
}

func (l *countingLocker) AcquireLock(context.Context, string, time.Duration) (func(), error) {
	l.acquired++
	return func() { l.released++ }, nil
}

type fixture struct {
	svc      FulfillmentService
	orders   repository.OrderRepository
	composer *fakeComposer
	pages    *fakePages
	feed     *memoryFeed
	locker   *countingLocker
	store    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Initialize(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.RunMigrations(db, nil))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	registry := sku.NewRegistry(&sku.Tables{
		Classification: []sku.ClassificationRow{
			{SKU: "AT0001", Type: "Loose"},
			{SKU: "AT0002", Type: "Compulsory"},
		},
		Exempt: []string{"AT0009"},
		PrintCounts: []sku.PrintCountRow{
			{SKU: "DEFAULT", Labels: 1, Invoices: 2},
			{SKU: "AT0002", Labels: 2, Invoices: 3},
		},
	})
	require.NoError(t, registry.Load())

	f := &fixture{
		orders:   repository.NewOrderRepository(db),
		composer: &fakeComposer{failSources: map[string]error{}},
		pages:    &fakePages{sources: map[string]*textSource{}},
		feed:     &memoryFeed{},
		locker:   &countingLocker{},
		store:    t.TempDir(),
	}
	f.svc = NewFulfillmentService(FulfillmentDeps{
		Orders:      f.orders,
		Items:       repository.NewOrderItemRepository(db),
		Registry:    registry,
		Composer:    f.composer,
		Pages:       f.pages,
		Locker:      f.locker,
		Feed:        f.feed,
		StoreDir:    f.store,
		RecentLimit: 10,
	})
	return f
}

func (f *fixture) ingest(t *testing.T, id string, page int, items ...ParsedItem) *models.Order {
	t.Helper()
	order, err := f.svc.IngestPage(context.Background(), &ParsedOrder{OrderID: id, CustomerName: "Asha", Items: items}, page, "src.pdf")
	require.NoError(t, err)
	return order
}

func TestIngestPageCreatesOrderWithPrintCounts(t *testing.T) {
	f := newFixture(t)

	order := f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "at0002", Quantity: 1}, ParsedItem{SKU: "AT0001", Quantity: 2})

	assert.Equal(t, string(models.OrderPending), order.Status)
	assert.Equal(t, 2, order.LabelCopies)
	assert.Equal(t, 3, order.InvoiceCopies)

	stored, err := f.svc.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "AT0002", stored.Items[0].SKU)
}

func TestIngestPageMergeNeverShrinksQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "AT0001", Quantity: 3})
	_, err := f.svc.IngestPage(ctx, &ParsedOrder{
		OrderID:      "ORD-1",
		CustomerName: "Asha Rao",
		Items:        []ParsedItem{{SKU: "AT0001", Quantity: 1}, {SKU: "AT0009", Quantity: 2}},
	}, 4, "other.pdf")
	require.NoError(t, err)

	order, err := f.svc.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", order.CustomerName)
	assert.Equal(t, 4, order.PageIndex)
	assert.Equal(t, "other.pdf", order.SourceDocument)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, "AT0009", order.Items[1].SKU)

	all, err := f.svc.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestIngestPageRejectsEmptyEnvelope(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IngestPage(context.Background(), &ParsedOrder{OrderID: "ORD-1"}, 0, "src.pdf")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestIngestDocumentUnreadableSource(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IngestDocument(context.Background(), "missing.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadableSource)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIngestDocumentSkipsNonOrderPages(t *testing.T) {
	f := newFixture(t)
	src := &textSource{pages: []string{
		"Order ID: ORD-1\nAT0001 Mug 2",
		"Terms and conditions apply",
		"Order ID: ORD-2\nAT0002 Lamp Qty: 1",
	}}
	f.pages.sources["in.pdf"] = src

	report, err := f.svc.IngestDocument(context.Background(), "in.pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, []string{"ORD-1", "ORD-2"}, report.OrderIDs)
	assert.Equal(t, []int{1}, report.Skipped)
	assert.True(t, src.closed)

	order, err := f.svc.GetOrder(context.Background(), "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, 2, order.PageIndex)

	// ingesting the same document again changes nothing
	_, err = f.svc.IngestDocument(context.Background(), "in.pdf")
	require.NoError(t, err)
	all, err := f.svc.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].Items[0].Quantity)
}

func TestApplyScanCompletesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "ORD-1", 3, ParsedItem{SKU: "AT0002", Quantity: 1}, ParsedItem{SKU: "AT0001", Quantity: 1}, ParsedItem{SKU: "AT0009", Quantity: 4})

	res, err := f.svc.ApplyScan(ctx, "at0002-a1")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "ORD-1", res.OrderID)
	assert.Equal(t, "A0001", res.Token)
	assert.Empty(t, res.CompletedOrderID)

	_, err = f.svc.FetchOutputDocument(ctx, "ORD-1")
	assert.ErrorIs(t, err, ErrDocumentNotReady)

	res, err = f.svc.ApplyScan(ctx, "AT0001")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "LOOSE-0001", res.Token)
	assert.Equal(t, "ORD-1", res.CompletedOrderID, "exempt lines do not block completion")
	assert.Equal(t, string(models.OrderReady), res.Status)

	require.Len(t, f.composer.builds, 1)
	build := f.composer.builds[0]
	assert.Equal(t, "src.pdf", build.SourcePath)
	assert.Equal(t, 3, build.PageIndex)
	assert.Equal(t, 3, build.InvoiceCopies)

	path, err := f.svc.FetchOutputDocument(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.store, "orders", "ORD-1.pdf"), path)

	order, err := f.svc.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A0001"}, order.Items[0].VerifiedUnits)
	assert.Empty(t, order.Items[2].VerifiedUnits)

	assert.Equal(t, f.locker.acquired, f.locker.released)
	events, err := f.svc.RecentScans(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Completed)
}

func TestApplyScanFormatErrors(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "AT0002", Quantity: 1})
	locks := f.locker.acquired

	for _, raw := range []string{"", "hello", "AT0002"} {
		_, err := f.svc.ApplyScan(context.Background(), raw)
		var formatErr *scan.FormatError
		assert.True(t, errors.As(err, &formatErr), raw)
	}

	order, err := f.svc.GetOrder(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Empty(t, order.Items[0].VerifiedUnits)
	assert.Equal(t, locks, f.locker.acquired, "malformed codes never take the lock")
}

func TestApplyScanDuplicateAndUnmatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "AT0002", Quantity: 2})
	f.ingest(t, "ORD-2", 1, ParsedItem{SKU: "AT0002", Quantity: 2})

	_, err := f.svc.ApplyScan(ctx, "AT0002-A1")
	require.NoError(t, err)

	// the repeated unit is taken by the next order that needs it
	res, err := f.svc.ApplyScan(ctx, "AT0002-A0001")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.False(t, res.Duplicate)
	assert.Equal(t, "ORD-2", res.OrderID)

	res, err = f.svc.ApplyScan(ctx, "AT0002-A0001")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "ORD-1", res.OrderID)

	res, err = f.svc.ApplyScan(ctx, "AT0005")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.False(t, res.Duplicate)

	for _, id := range []string{"ORD-1", "ORD-2"} {
		order, err := f.svc.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"A0001"}, order.Items[0].VerifiedUnits, id)
	}
}

func TestApplyScanRecordsCompositionFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.composer.failSources["src.pdf"] = &layout.Error{Region: layout.RegionLabel, Reason: "is degenerate"}
	f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "AT0001", Quantity: 1})

	res, err := f.svc.ApplyScan(ctx, "AT0001")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Empty(t, res.CompletedOrderID)
	assert.Equal(t, string(models.OrderError), res.Status)

	order, err := f.svc.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.OrderError), order.Status)
	assert.Contains(t, order.ErrorDetail, "label region is degenerate")

	// an order in error no longer takes scans
	res, err = f.svc.ApplyScan(ctx, "AT0001")
	require.NoError(t, err)
	assert.False(t, res.Matched)

	_, err = f.svc.FetchOutputDocument(ctx, "ORD-1")
	assert.ErrorIs(t, err, ErrDocumentNotReady)
}

func TestBulkFulfillOnlySingleLineOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "AT0002", Quantity: 2})
	f.ingest(t, "ORD-2", 1, ParsedItem{SKU: "AT0002", Quantity: 1}, ParsedItem{SKU: "AT0001", Quantity: 1})
	f.ingest(t, "ORD-3", 2, ParsedItem{SKU: "AT0002", Quantity: 1})
	f.ingest(t, "ORD-4", 3, ParsedItem{SKU: "AT0001", Quantity: 1})

	res, err := f.svc.BulkFulfill(ctx, " at0002 ")
	require.NoError(t, err)
	assert.Equal(t, "AT0002", res.SKU)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []string{"ORD-1", "ORD-3"}, res.OrderIDs)
	assert.True(t, strings.HasPrefix(res.DocumentRef, "bulk-AT0002-"))
	assert.True(t, strings.HasSuffix(res.DocumentRef, ".pdf"))

	require.Len(t, f.composer.merges, 1)
	assert.Len(t, f.composer.merges[0], 2)

	order, err := f.svc.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, string(models.OrderReady), order.Status)
	assert.Equal(t, []string{"BULK-AT0002-0001", "BULK-AT0002-0002"}, order.Items[0].VerifiedUnits)

	multi, err := f.svc.GetOrder(ctx, "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, string(models.OrderPending), multi.Status)
	assert.Empty(t, multi.Items[0].VerifiedUnits)

	path, err := f.svc.DocumentPath(res.DocumentRef)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestBulkFulfillLeavesTwoLinesOfSameSKU(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "AT0002", Quantity: 1}, ParsedItem{SKU: "AT0002", Quantity: 1})
	f.ingest(t, "ORD-2", 1, ParsedItem{SKU: "AT0002", Quantity: 1})

	res, err := f.svc.BulkFulfill(ctx, "AT0002")
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD-2"}, res.OrderIDs)

	order, err := f.svc.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	assert.Equal(t, string(models.OrderPending), order.Status)
	assert.Empty(t, order.Items[0].VerifiedUnits)
	assert.Empty(t, order.Items[1].VerifiedUnits)
	assert.Empty(t, order.OutputDocument)
}

func TestApplyScanFeedHoldsNormalizedCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "AT0002", Quantity: 2})

	_, err := f.svc.ApplyScan(ctx, " at0002_a1 ")
	require.NoError(t, err)
	_, err = f.svc.ApplyScan(ctx, "AT0005")
	require.NoError(t, err)

	events, err := f.svc.RecentScans(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "AT0005", events[0].Code)
	assert.Equal(t, "unmatched", events[0].Outcome)
	assert.Equal(t, "AT0002-A0001", events[1].Code)
	assert.Equal(t, "ORD-1", events[1].OrderID)
	assert.Equal(t, "A0001", events[1].Token)
}

func TestBulkFulfillIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ingest(t, "ORD-1", 0, ParsedItem{SKU: "AT0001", Quantity: 1})
	_, err := f.svc.IngestPage(ctx, &ParsedOrder{OrderID: "ORD-2", Items: []ParsedItem{{SKU: "AT0001", Quantity: 1}}}, 0, "broken.pdf")
	require.NoError(t, err)
	f.composer.failSources["broken.pdf"] = errors.New("parse broken.pdf: bad xref")

	res, err := f.svc.BulkFulfill(ctx, "AT0001")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, []string{"ORD-2"}, res.Failed)
	assert.NotEmpty(t, res.DocumentRef)
}

func TestBulkFulfillWithoutEligibleOrders(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.BulkFulfill(context.Background(), "AT0002")
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.DocumentRef)
	assert.Empty(t, f.composer.merges)
}

func TestFetchOutputDocumentUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.FetchOutputDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestDocumentPathRejectsTraversal(t *testing.T) {
	f := newFixture(t)
	for _, ref := range []string{"", ".", "..", "../secret.pdf", "bulk/x.pdf", "missing.pdf"} {
		_, err := f.svc.DocumentPath(ref)
		assert.ErrorIs(t, err, ErrDocumentNotFound, ref)
	}
}

func TestSaveUploadIsContentAddressed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.SaveUpload(ctx, strings.NewReader("%PDF-1.7 sample"))
	require.NoError(t, err)
	second, err := f.svc.SaveUpload(ctx, strings.NewReader("%PDF-1.7 sample"))
	require.NoError(t, err)
	other, err := f.svc.SaveUpload(ctx, strings.NewReader("%PDF-1.7 other"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.FileExists(t, first)

	entries, err := os.ReadDir(filepath.Join(f.store, "uploads"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOutputNameSanitizesOrderID(t *testing.T) {
	assert.Equal(t, "ORD_12_3.pdf", outputName("ORD/12 3"))
	assert.Equal(t, "A-1.b_2.pdf", outputName("A-1.b_2"))
}
