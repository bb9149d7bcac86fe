// Package document slices order pages into printable label and invoice
// pages and concatenates composed documents.
package document

import (
	"context"
	"io"

	"order_packer/internal/layout"
)

// Source is an opened source document. Close must be called on every path.
type Source interface {
	PageCount() int
	// PageBox returns the visible box of a page in PDF user space.
	PageBox(index int) (layout.Box, error)
	// PageText returns the extracted text of a page, empty when it has none.
	PageText(index int) (string, error)
	Close() error
}

// Page is a composed output page ready to be serialized.
type Page interface {
	Size() (width, height float64)
}

// Renderer is the rendering capability the composer is built on.
type Renderer interface {
	Open(ctx context.Context, path string) (Source, error)
	// Place draws the clip region of a source page onto a fresh output page
	// as described by placement.
	Place(src Source, index int, placement layout.Placement) (Page, error)
	Serialize(ctx context.Context, pages []Page, w io.Writer) error
	// ReadPages loads every page of an existing document for merging.
	ReadPages(ctx context.Context, path string) ([]Page, error)
}
