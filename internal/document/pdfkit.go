package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/wudi/pdfkit/builder"
	"github.com/wudi/pdfkit/extractor"
	"github.com/wudi/pdfkit/ir"
	"github.com/wudi/pdfkit/ir/semantic"
	"github.com/wudi/pdfkit/writer"

	"order_packer/internal/layout"
)

var (
	ErrForeignSource = errors.New("document: source was not opened by this renderer")
	ErrNoPages       = errors.New("document: nothing to write")
)

// PDFRenderer implements Renderer on top of pdfkit.
type PDFRenderer struct {
	compression int
}

func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{compression: 9}
}

type pdfSource struct {
	path string
	doc  *semantic.Document

	textOnce sync.Once
	text     map[int]string
	textErr  error
}

type pdfPage struct {
	page *semantic.Page
}

func (p *pdfPage) Size() (float64, float64) {
	return p.page.MediaBox.URX - p.page.MediaBox.LLX, p.page.MediaBox.URY - p.page.MediaBox.LLY
}

func parseFile(ctx context.Context, path string) (*semantic.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := ir.NewDefault().Parse(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func (r *PDFRenderer) Open(ctx context.Context, path string) (Source, error) {
	doc, err := parseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return &pdfSource{path: path, doc: doc}, nil
}

func (s *pdfSource) PageCount() int {
	return len(s.doc.Pages)
}

func (s *pdfSource) page(index int) (*semantic.Page, error) {
	if index < 0 || index >= len(s.doc.Pages) {
		return nil, &layout.Error{
			Region: layout.RegionPage,
			Reason: fmt.Sprintf("index %d out of range [0,%d)", index, len(s.doc.Pages)),
		}
	}
	return s.doc.Pages[index], nil
}

func (s *pdfSource) PageBox(index int) (layout.Box, error) {
	p, err := s.page(index)
	if err != nil {
		return layout.Box{}, err
	}
	return pageBox(p), nil
}

// pageBox prefers the crop box and falls back to the media box.
func pageBox(p *semantic.Page) layout.Box {
	box := p.CropBox
	if box.URX-box.LLX <= 0 || box.URY-box.LLY <= 0 {
		box = p.MediaBox
	}
	return layout.Box{LLX: box.LLX, LLY: box.LLY, URX: box.URX, URY: box.URY}
}

func (s *pdfSource) PageText(index int) (string, error) {
	if _, err := s.page(index); err != nil {
		return "", err
	}
	s.textOnce.Do(func() {
		dec := s.doc.Decoded()
		if dec == nil {
			s.textErr = fmt.Errorf("%s: no decoded document", s.path)
			return
		}
		ext, err := extractor.New(dec)
		if err != nil {
			s.textErr = fmt.Errorf("init extractor: %w", err)
			return
		}
		pages, err := ext.ExtractText()
		if err != nil {
			s.textErr = fmt.Errorf("extract text: %w", err)
			return
		}
		s.text = make(map[int]string, len(pages))
		for _, p := range pages {
			s.text[p.Page] = p.Content
		}
	})
	if s.textErr != nil {
		return "", s.textErr
	}
	return s.text[index], nil
}

// Close drops the parsed document. The file itself is closed right after
// parsing.
func (s *pdfSource) Close() error {
	s.doc = &semantic.Document{}
	s.text = nil
	return nil
}

func (r *PDFRenderer) Place(src Source, index int, placement layout.Placement) (Page, error) {
	s, ok := src.(*pdfSource)
	if !ok {
		return nil, ErrForeignSource
	}
	p, err := s.page(index)
	if err != nil {
		return nil, err
	}
	if placement.Visible().Empty() {
		return nil, &layout.Error{Region: layout.RegionPage, Reason: "placement is not visible on the output page"}
	}

	contents := make([]semantic.ContentStream, 0, len(p.Contents)+2)
	contents = append(contents, semantic.ContentStream{RawBytes: []byte(placementPrologue(placement, pageBox(p)))})
	contents = append(contents, p.Contents...)
	contents = append(contents, semantic.ContentStream{RawBytes: []byte("\nQ\n")})

	return &pdfPage{page: &semantic.Page{
		MediaBox:  semantic.Rectangle{URX: placement.PageWidth, URY: placement.PageHeight},
		Resources: p.Resources,
		Contents:  contents,
	}}, nil
}

// placementPrologue saves the graphics state, clips to the visible part of
// the destination, maps source space onto it and clips again to the source
// region so neighbouring content never leaks in.
func placementPrologue(placement layout.Placement, box layout.Box) string {
	m := placement.Matrix(box)
	visible := placement.VisibleBox()
	clip := placement.SourceBox(box)

	var b strings.Builder
	b.WriteString("q\n")
	writeRect(&b, visible)
	b.WriteString(" re W n\n")
	for i, v := range m {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(formatNumber(v))
	}
	b.WriteString(" cm\n")
	writeRect(&b, clip)
	b.WriteString(" re W n\n")
	return b.String()
}

func writeRect(b *strings.Builder, box layout.Box) {
	b.WriteString(formatNumber(box.LLX))
	b.WriteByte(' ')
	b.WriteString(formatNumber(box.LLY))
	b.WriteByte(' ')
	b.WriteString(formatNumber(box.Width()))
	b.WriteByte(' ')
	b.WriteString(formatNumber(box.Height()))
}

func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

func (r *PDFRenderer) Serialize(ctx context.Context, pages []Page, w io.Writer) error {
	if len(pages) == 0 {
		return ErrNoPages
	}
	b := builder.NewBuilder()
	for _, page := range pages {
		pp, ok := page.(*pdfPage)
		if !ok {
			return ErrForeignSource
		}
		// the builder renumbers pages, so repeated pages need their own copy
		cp := *pp.page
		b.AddPage(&cp)
	}
	doc, err := b.Build()
	if err != nil {
		return fmt.Errorf("build document: %w", err)
	}

	pw := (&writer.WriterBuilder{}).Build()
	cfg := writer.Config{
		Version:     writer.PDF17,
		Compression: r.compression,
	}
	if err := pw.Write(ctx, doc, w, cfg); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func (r *PDFRenderer) ReadPages(ctx context.Context, path string) ([]Page, error) {
	doc, err := parseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoPages)
	}
	pages := make([]Page, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		pages = append(pages, &pdfPage{page: p})
	}
	return pages, nil
}
