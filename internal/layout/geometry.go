package layout

import (
	"fmt"
	"math"
)

// Region names reported by Error.
const (
	RegionPage    = "page"
	RegionLabel   = "label"
	RegionInvoice = "invoice"
)

// Error reports a region that cannot be sliced or rendered.
type Error struct {
	Region string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("layout: %s region %s", e.Region, e.Reason)
}

// Rect is an axis-aligned rectangle in page space: origin at the top-left
// corner of the page, y growing downward.
type Rect struct {
	X0, Y0, X1, Y1 float64
}

func (r Rect) Width() float64  { return r.X1 - r.X0 }
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Empty reports whether the rectangle has zero or negative area.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

func (r Rect) Intersect(o Rect) Rect {
	return Rect{
		X0: math.Max(r.X0, o.X0),
		Y0: math.Max(r.Y0, o.Y0),
		X1: math.Min(r.X1, o.X1),
		Y1: math.Min(r.Y1, o.Y1),
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("[%.3f %.3f %.3f %.3f]", r.X0, r.Y0, r.X1, r.Y1)
}

// Regions splits a source page into its label (top) and invoice (bottom)
// rectangles. Both are clamped to the page.
func Regions(page Rect, cfg Config) (label, invoice Rect, err error) {
	if page.Empty() {
		return Rect{}, Rect{}, &Error{Region: RegionPage, Reason: fmt.Sprintf("has no area %s", page)}
	}
	split := page.Y0 + page.Height()*cfg.SplitFrac

	label = Rect{
		X0: page.X0 + cfg.LabelPadding.Left,
		Y0: page.Y0 + cfg.LabelPadding.Top + cfg.TrimLabelTop,
		X1: page.X1 - cfg.LabelPadding.Right,
		Y1: split - cfg.LabelPadding.Bottom,
	}.Intersect(page)

	invoice = Rect{
		X0: page.X0 + cfg.InvoicePadding.Left,
		Y0: split + cfg.InvoicePadding.Top,
		X1: page.X1 - cfg.InvoicePadding.Right,
		Y1: page.Y1 - cfg.InvoicePadding.Bottom,
	}.Intersect(page)

	if label.Empty() {
		return Rect{}, Rect{}, &Error{Region: RegionLabel, Reason: fmt.Sprintf("is degenerate %s", label)}
	}
	if invoice.Empty() {
		return Rect{}, Rect{}, &Error{Region: RegionInvoice, Reason: fmt.Sprintf("is degenerate %s", invoice)}
	}
	return label, invoice, nil
}

// Placement describes how a clipped source region lands on an output page.
type Placement struct {
	Clip       Rect    // source region in source page space
	Dest       Rect    // scaled content in output page space, may exceed the page when zoomed
	Scale      float64 // uniform scale factor
	Rotation   int     // clockwise quarter turns in degrees: 0, 90, 180 or 270
	PageWidth  float64
	PageHeight float64
}

// Visible is the part of Dest that lies on the output page.
func (p Placement) Visible() Rect {
	return p.Dest.Intersect(Rect{X1: p.PageWidth, Y1: p.PageHeight})
}

// FitLabel scales the label region uniformly to fit the output page, applies
// the label zoom and centers the result. Rotation is never applied to labels.
func FitLabel(clip Rect, cfg Config) Placement {
	return fit(clip, cfg, cfg.LabelZoom, 0)
}

// FitInvoice fits the invoice region the same way, without zoom, swapping
// the region's sides first when the rotation is an odd quarter turn.
func FitInvoice(clip Rect, cfg Config) Placement {
	return fit(clip, cfg, 1, NormalizeRotation(cfg.InvoiceRotation))
}

func fit(clip Rect, cfg Config, zoom float64, rotation int) Placement {
	contentW, contentH := clip.Width(), clip.Height()
	if rotation%180 == 90 {
		contentW, contentH = contentH, contentW
	}

	scale := math.Min(cfg.PageWidth/contentW, cfg.PageHeight/contentH) * zoom
	destW := contentW * scale
	destH := contentH * scale
	dx := (cfg.PageWidth - destW) / 2
	dy := (cfg.PageHeight - destH) / 2

	return Placement{
		Clip:       clip,
		Dest:       Rect{X0: dx, Y0: dy, X1: dx + destW, Y1: dy + destH},
		Scale:      scale,
		Rotation:   rotation,
		PageWidth:  cfg.PageWidth,
		PageHeight: cfg.PageHeight,
	}
}

// NormalizeRotation maps any multiple of 90 into [0, 360).
func NormalizeRotation(deg int) int {
	return ((deg % 360) + 360) % 360
}
