package main

import (
	"image"
	"image/draw"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
)

const (
	// Anything larger is shrunk before further processing.
	oversizeLimit  = 4000
	oversizeTarget = 2000
)

// newCanvas allocates an opaque black image of the given size.
func newCanvas(r image.Rectangle) *image.RGBA {
	img := image.NewRGBA(r)
	clearFrame(img, r.Dx(), r.Dy())
	return img
}

// downscaleOversized keeps huge uploads from exhausting memory.
func downscaleOversized(img image.Image, name string) image.Image {
	b := img.Bounds()
	if b.Dx() <= oversizeLimit && b.Dy() <= oversizeLimit {
		return img
	}
	slog.Info("oversized asset downscaled", "asset", name, "width", b.Dx(), "height", b.Dy())
	return imaging.Fit(img, oversizeTarget, oversizeTarget, imaging.Box)
}

// slots returns the panel indices that receive content for comp.
func slots(comp Composition, g Geometry) []int {
	switch comp {
	case CompositionMatrixA:
		return []int{0}
	case CompositionMatrixB:
		if g.PanelCount > 1 {
			return []int{1}
		}
		return nil
	default:
		all := make([]int, g.PanelCount)
		for i := range all {
			all[i] = i
		}
		return all
	}
}

// layoutStill thumbnails img (aspect preserved, never enlarged) and centers it
// on the canvas for split, or on every targeted panel slot otherwise.
func layoutStill(img image.Image, comp Composition, g Geometry) *image.RGBA {
	canvas := newCanvas(g.Bounds())
	if comp == CompositionSplit {
		thumb := imaging.Fit(img, g.Width(), g.Height(), imaging.Lanczos)
		pasteCentered(canvas, thumb, canvas.Bounds())
		return canvas
	}
	thumb := imaging.Fit(img, g.PanelWidth, g.PanelHeight, imaging.Lanczos)
	for _, i := range slots(comp, g) {
		pasteCentered(canvas, thumb, g.panelRect(i))
	}
	return canvas
}

// layoutFrame stretches an animation frame to the canvas for split, or to one
// panel per targeted slot otherwise.
func layoutFrame(img image.Image, comp Composition, g Geometry) *image.RGBA {
	canvas := newCanvas(g.Bounds())
	if comp == CompositionSplit {
		xdraw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), img, img.Bounds(), xdraw.Over, nil)
		return canvas
	}
	small := image.NewRGBA(image.Rect(0, 0, g.PanelWidth, g.PanelHeight))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	for _, i := range slots(comp, g) {
		r := g.panelRect(i)
		draw.Draw(canvas, r, small, image.Point{}, draw.Over)
	}
	return canvas
}

func pasteCentered(dst *image.RGBA, src image.Image, area image.Rectangle) {
	sb := src.Bounds()
	x := area.Min.X + (area.Dx()-sb.Dx())/2
	y := area.Min.Y + (area.Dy()-sb.Dy())/2
	draw.Draw(dst, image.Rect(x, y, x+sb.Dx(), y+sb.Dy()).Intersect(area), src, sb.Min, draw.Over)
}

// composeFrame splits src into panel slices, applies each panel's transform and
// reassembles them on a fresh black canvas. src is pasted at the origin and
// clipped, so undersized sources are padded with black.
func composeFrame(src image.Image, transforms []PanelTransform, g Geometry) (*image.RGBA, error) {
	if src == nil {
		return nil, errors.New("compose: nil source")
	}
	if g.PanelWidth <= 0 || g.PanelHeight <= 0 || g.PanelCount <= 0 {
		return nil, errors.Errorf("compose: invalid geometry %+v", g)
	}
	staged := newCanvas(g.Bounds())
	draw.Draw(staged, staged.Bounds(), src, src.Bounds().Min, draw.Src)

	out := newCanvas(g.Bounds())
	for i := 0; i < g.PanelCount; i++ {
		r := g.panelRect(i)
		panel := staged.SubImage(r)
		var t PanelTransform
		if i < len(transforms) {
			t = transforms[i]
		}
		if t != (PanelTransform{}) {
			panel = applyTransform(panel, t)
		}
		draw.Draw(out, r, panel, panel.Bounds().Min, draw.Src)
	}
	return out, nil
}

// writeCanvas copies img into buf. Pixels go one at a time unless bulk is set and
// the buffer supports it: bulk transfer has crashed the LED driver before.
func writeCanvas(buf Buffer, img *image.RGBA, bulk bool) {
	if bulk {
		if bs, ok := buf.(BulkSetter); ok {
			bs.SetImage(img)
			return
		}
	}
	r := img.Bounds().Intersect(buf.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := img.RGBAAt(x, y)
			buf.SetPixel(x, y, c.R, c.G, c.B)
		}
	}
}
