package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"order_packer/internal/layout"
	"order_packer/pkg/logger"
	"order_packer/pkg/metrics"
)

var ErrNothingToMerge = errors.New("document: no readable input to merge")

// BuildRequest describes one order document.
type BuildRequest struct {
	SourcePath    string
	PageIndex     int
	LabelCopies   int // informational, the label page is emitted once
	InvoiceCopies int
	OutputPath    string
}

// MergeWarning records an input skipped during a merge.
type MergeWarning struct {
	Input string
	Err   error
}

func (w *MergeWarning) Error() string {
	return fmt.Sprintf("merge input %s: %v", w.Input, w.Err)
}

func (w *MergeWarning) Unwrap() error { return w.Err }

// MergeReport is the outcome of a merge.
type MergeReport struct {
	Output   string
	Merged   []string
	Warnings []*MergeWarning
}

// Err combines every warning into one error, nil when the merge was clean.
func (r *MergeReport) Err() error {
	if r == nil {
		return nil
	}
	var err error
	for _, w := range r.Warnings {
		err = multierr.Append(err, w)
	}
	return err
}

type Composer struct {
	renderer Renderer
	layout   layout.Config
	logger   *logger.Logger
	metrics  *metrics.FulfillmentMetrics
}

func NewComposer(renderer Renderer, cfg layout.Config, log *logger.Logger, m *metrics.FulfillmentMetrics) *Composer {
	if log == nil {
		log = logger.Nop()
	}
	return &Composer{renderer: renderer, layout: cfg, logger: log, metrics: m}
}

// Layout returns the configuration pages are sliced with.
func (c *Composer) Layout() layout.Config {
	return c.layout
}

// SlicePage composes the label page followed by invoiceCopies identical
// invoice pages from one page of src.
func (c *Composer) SlicePage(src Source, index, invoiceCopies int) ([]Page, error) {
	if index < 0 || index >= src.PageCount() {
		return nil, &layout.Error{
			Region: layout.RegionPage,
			Reason: fmt.Sprintf("index %d out of range [0,%d)", index, src.PageCount()),
		}
	}
	box, err := src.PageBox(index)
	if err != nil {
		return nil, err
	}
	labelRect, invoiceRect, err := layout.Regions(box.PageRect(), c.layout)
	if err != nil {
		return nil, err
	}

	label, err := c.renderer.Place(src, index, layout.FitLabel(labelRect, c.layout))
	if err != nil {
		return nil, fmt.Errorf("place label: %w", err)
	}
	pages := []Page{label}
	if invoiceCopies <= 0 {
		return pages, nil
	}

	invoice, err := c.renderer.Place(src, index, layout.FitInvoice(invoiceRect, c.layout))
	if err != nil {
		return nil, fmt.Errorf("place invoice: %w", err)
	}
	for i := 0; i < invoiceCopies; i++ {
		pages = append(pages, invoice)
	}
	return pages, nil
}

// BuildOrderDocument writes the label page and the invoice copies of one
// source page to req.OutputPath. The output appears atomically or not at all.
func (c *Composer) BuildOrderDocument(ctx context.Context, req BuildRequest) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveComposition(time.Since(start), err) }()

	src, err := c.renderer.Open(ctx, req.SourcePath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", req.SourcePath, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(src))

	pages, err := c.SlicePage(src, req.PageIndex, req.InvoiceCopies)
	if err != nil {
		return err
	}
	if err := c.write(ctx, req.OutputPath, pages); err != nil {
		return err
	}
	c.logger.Debug(c.logger.WithFields(ctx, map[string]any{
		"output":         req.OutputPath,
		"page_index":     req.PageIndex,
		"invoice_copies": req.InvoiceCopies,
	}), "order document composed")
	return nil
}

// Merge concatenates the pages of inputs in order. Unreadable inputs are
// skipped and reported; the merge fails only when nothing could be read.
func (c *Composer) Merge(ctx context.Context, inputs []string, outputPath string) (*MergeReport, error) {
	report := &MergeReport{Output: outputPath}
	var pages []Page
	for _, input := range inputs {
		read, err := c.renderer.ReadPages(ctx, input)
		if err == nil && len(read) == 0 {
			err = ErrNoPages
		}
		if err != nil {
			warning := &MergeWarning{Input: input, Err: err}
			report.Warnings = append(report.Warnings, warning)
			c.logger.Warn(c.logger.WithField(ctx, "input", input), "skipping merge input", err)
			continue
		}
		pages = append(pages, read...)
		report.Merged = append(report.Merged, input)
	}
	c.metrics.AddMergeWarnings(len(report.Warnings))

	if len(report.Merged) == 0 {
		return report, multierr.Append(ErrNothingToMerge, report.Err())
	}
	if err := c.write(ctx, outputPath, pages); err != nil {
		return report, err
	}
	return report, nil
}

func (c *Composer) write(ctx context.Context, path string, pages []Page) error {
	return writeAtomic(path, func(w io.Writer) error {
		return c.renderer.Serialize(ctx, pages, w)
	})
}

// writeAtomic writes into a temporary file next to path and renames it into
// place once fill succeeded.
func writeAtomic(path string, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fill(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
