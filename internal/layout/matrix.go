package layout

import "math"

// Box is a rectangle in PDF user space (origin bottom-left, y up).
type Box struct {
	LLX, LLY, URX, URY float64
}

func (b Box) Width() float64  { return b.URX - b.LLX }
func (b Box) Height() float64 { return b.URY - b.LLY }

// PageRect converts a page box to page space.
func (b Box) PageRect() Rect {
	return Rect{X1: b.Width(), Y1: b.Height()}
}

// Matrix is a PDF transformation matrix [a b c d e f].
type Matrix [6]float64

// Apply transforms a point.
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// SourceBox returns the clip region in the source page's user space.
func (p Placement) SourceBox(page Box) Box {
	return Box{
		LLX: page.LLX + p.Clip.X0,
		LLY: page.URY - p.Clip.Y1,
		URX: page.LLX + p.Clip.X1,
		URY: page.URY - p.Clip.Y0,
	}
}

// VisibleBox returns the visible destination in the output page's user space.
func (p Placement) VisibleBox() Box {
	v := p.Visible()
	return Box{
		LLX: v.X0,
		LLY: p.PageHeight - v.Y1,
		URX: v.X1,
		URY: p.PageHeight - v.Y0,
	}
}

// Matrix maps the clip region of a source page with the given box onto the
// destination rectangle: the clip center goes to the destination center,
// content is turned clockwise by Rotation and scaled by Scale.
func (p Placement) Matrix(page Box) Matrix {
	src := p.SourceBox(page)
	cx := (src.LLX + src.URX) / 2
	cy := (src.LLY + src.URY) / 2
	dcx := (p.Dest.X0 + p.Dest.X1) / 2
	dcy := p.PageHeight - (p.Dest.Y0+p.Dest.Y1)/2

	rad := float64(NormalizeRotation(p.Rotation)) * math.Pi / 180
	cos, sin := snap(math.Cos(rad)), snap(math.Sin(rad))

	a := p.Scale * cos
	b := -p.Scale * sin
	c := p.Scale * sin
	d := p.Scale * cos
	return Matrix{a, b, c, d, dcx - (a*cx + c*cy), dcy - (b*cx + d*cy)}
}

// snap removes floating point noise around quarter turns.
func snap(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) < 1e-12 {
		return r
	}
	return v
}
