package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"order_packer/internal/layout"
	"order_packer/pkg/logger"
	"order_packer/pkg/metrics"
)

type fakeSource struct {
	boxes  []layout.Box
	closed bool
}

func (s *fakeSource) PageCount() int { return len(s.boxes) }

func (s *fakeSource) PageBox(index int) (layout.Box, error) {
	return s.boxes[index], nil
}

func (s *fakeSource) PageText(int) (string, error) { return "", nil }

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakePage struct {
	name      string
	placement layout.Placement
}

func (p *fakePage) Size() (float64, float64) {
	return p.placement.PageWidth, p.placement.PageHeight
}

// fakeRenderer records placements and writes page names instead of PDF.
type fakeRenderer struct {
	sources      map[string]*fakeSource
	documents    map[string][]Page
	serializeErr error
	placed       []layout.Placement
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{sources: map[string]*fakeSource{}, documents: map[string][]Page{}}
}

func (r *fakeRenderer) Open(_ context.Context, path string) (Source, error) {
	src, ok := r.sources[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return src, nil
}

func (r *fakeRenderer) Place(_ Source, index int, placement layout.Placement) (Page, error) {
	r.placed = append(r.placed, placement)
	kind := "invoice"
	if placement.Rotation == 0 {
		kind = "label"
	}
	return &fakePage{name: fmt.Sprintf("%s@%d", kind, index), placement: placement}, nil
}

func (r *fakeRenderer) Serialize(_ context.Context, pages []Page, w io.Writer) error {
	if r.serializeErr != nil {
		return r.serializeErr
	}
	names := make([]string, 0, len(pages))
	for _, p := range pages {
		names = append(names, p.(*fakePage).name)
	}
	_, err := io.WriteString(w, strings.Join(names, "\n"))
	return err
}

func (r *fakeRenderer) ReadPages(_ context.Context, path string) ([]Page, error) {
	pages, ok := r.documents[path]
	if !ok {
		return nil, fmt.Errorf("parse %s: corrupt xref", path)
	}
	return pages, nil
}

// counterValue sums every series of a counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func a4Box() layout.Box {
	return layout.Box{URX: 595, URY: 842}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(string(data), "\n")
}

func TestBuildOrderDocumentEmitsLabelThenInvoices(t *testing.T) {
	r := newFakeRenderer()
	src := &fakeSource{boxes: []layout.Box{a4Box(), a4Box()}}
	r.sources["in.pdf"] = src
	reg := prometheus.NewRegistry()
	c := NewComposer(r, layout.Default(), logger.Nop(), metrics.NewFulfillmentMetrics(reg))

	out := filepath.Join(t.TempDir(), "orders", "ORD-1.pdf")
	err := c.BuildOrderDocument(context.Background(), BuildRequest{
		SourcePath:    "in.pdf",
		PageIndex:     1,
		LabelCopies:   3,
		InvoiceCopies: 2,
		OutputPath:    out,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"label@1", "invoice@1", "invoice@1"}, readLines(t, out))
	assert.True(t, src.closed)

	require.Len(t, r.placed, 2)
	assert.Equal(t, 0, r.placed[0].Rotation)
	assert.Equal(t, 90, r.placed[1].Rotation)
	assert.InDelta(t, layout.Default().PageWidth, r.placed[0].PageWidth, 1e-9)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestBuildOrderDocumentWithoutInvoices(t *testing.T) {
	r := newFakeRenderer()
	r.sources["in.pdf"] = &fakeSource{boxes: []layout.Box{a4Box()}}
	c := NewComposer(r, layout.Default(), nil, nil)

	out := filepath.Join(t.TempDir(), "ORD-1.pdf")
	require.NoError(t, c.BuildOrderDocument(context.Background(), BuildRequest{SourcePath: "in.pdf", OutputPath: out}))
	assert.Equal(t, []string{"label@0"}, readLines(t, out))
}

func TestBuildOrderDocumentPageOutOfRange(t *testing.T) {
	r := newFakeRenderer()
	src := &fakeSource{boxes: []layout.Box{a4Box()}}
	r.sources["in.pdf"] = src
	reg := prometheus.NewRegistry()
	c := NewComposer(r, layout.Default(), logger.Nop(), metrics.NewFulfillmentMetrics(reg))

	out := filepath.Join(t.TempDir(), "ORD-1.pdf")
	err := c.BuildOrderDocument(context.Background(), BuildRequest{SourcePath: "in.pdf", PageIndex: 4, InvoiceCopies: 2, OutputPath: out})
	require.Error(t, err)

	var layoutErr *layout.Error
	require.True(t, errors.As(err, &layoutErr))
	assert.Equal(t, layout.RegionPage, layoutErr.Region)
	assert.True(t, src.closed, "source is released on failure")
	assert.NoFileExists(t, out)

	assert.Equal(t, 1.0, counterValue(t, reg, "packer_compositions_total"))
}

func TestBuildOrderDocumentDegenerateRegion(t *testing.T) {
	r := newFakeRenderer()
	src := &fakeSource{boxes: []layout.Box{{URX: 30, URY: 842}}}
	r.sources["in.pdf"] = src
	c := NewComposer(r, layout.Default(), nil, nil)

	err := c.BuildOrderDocument(context.Background(), BuildRequest{
		SourcePath:    "in.pdf",
		InvoiceCopies: 1,
		OutputPath:    filepath.Join(t.TempDir(), "ORD-1.pdf"),
	})
	var layoutErr *layout.Error
	require.True(t, errors.As(err, &layoutErr))
	assert.Equal(t, layout.RegionInvoice, layoutErr.Region, "20pt side paddings eat a 30pt wide page")
	assert.True(t, src.closed)
}

func TestBuildOrderDocumentSerializeFailureLeavesNoFile(t *testing.T) {
	r := newFakeRenderer()
	src := &fakeSource{boxes: []layout.Box{a4Box()}}
	r.sources["in.pdf"] = src
	r.serializeErr = errors.New("disk full")
	c := NewComposer(r, layout.Default(), nil, nil)

	dir := t.TempDir()
	out := filepath.Join(dir, "ORD-1.pdf")
	err := c.BuildOrderDocument(context.Background(), BuildRequest{SourcePath: "in.pdf", InvoiceCopies: 1, OutputPath: out})
	require.ErrorContains(t, err, "disk full")
	assert.True(t, src.closed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildOrderDocumentMissingSource(t *testing.T) {
	c := NewComposer(newFakeRenderer(), layout.Default(), nil, nil)
	err := c.BuildOrderDocument(context.Background(), BuildRequest{SourcePath: "missing.pdf", OutputPath: filepath.Join(t.TempDir(), "x.pdf")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMergeSkipsUnreadableInputs(t *testing.T) {
	r := newFakeRenderer()
	r.documents["a.pdf"] = []Page{&fakePage{name: "a1"}, &fakePage{name: "a2"}}
	r.documents["c.pdf"] = []Page{&fakePage{name: "c1"}}
	reg := prometheus.NewRegistry()
	m := metrics.NewFulfillmentMetrics(reg)
	c := NewComposer(r, layout.Default(), logger.Nop(), m)

	out := filepath.Join(t.TempDir(), "bulk.pdf")
	report, err := c.Merge(context.Background(), []string{"a.pdf", "b.pdf", "c.pdf"}, out)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.pdf", "c.pdf"}, report.Merged)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "b.pdf", report.Warnings[0].Input)
	assert.Len(t, multierr.Errors(report.Err()), 1)
	assert.Equal(t, []string{"a1", "a2", "c1"}, readLines(t, out))

	assert.Equal(t, 1.0, counterValue(t, reg, "packer_merge_warnings_total"))
}

func TestMergeFailsWhenNothingReadable(t *testing.T) {
	c := NewComposer(newFakeRenderer(), layout.Default(), nil, nil)

	out := filepath.Join(t.TempDir(), "bulk.pdf")
	report, err := c.Merge(context.Background(), []string{"x.pdf", "y.pdf"}, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNothingToMerge)
	assert.Len(t, report.Warnings, 2)
	assert.NoFileExists(t, out)

	_, err = c.Merge(context.Background(), nil, out)
	assert.ErrorIs(t, err, ErrNothingToMerge)
}

func TestMergeReportErrNilWhenClean(t *testing.T) {
	assert.NoError(t, (&MergeReport{}).Err())
	var report *MergeReport
	assert.NoError(t, report.Err())
}
