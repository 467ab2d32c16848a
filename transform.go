package main

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// PanelTransform is the orientation fix-up for one physical panel.
type PanelTransform struct {
	Rotation int  // clockwise degrees: 0, 90, 180 or 270
	Mirrored bool // horizontal flip, applied after rotation
}

// normalizeRotation folds any multiple of 90 into [0, 360).
func normalizeRotation(deg int) int {
	deg = (deg / 90) * 90 % 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// applyTransform rotates panel clockwise by t.Rotation, then mirrors it.
// The output always has the input's dimensions.
func applyTransform(panel image.Image, t PanelTransform) *image.NRGBA {
	b := panel.Bounds()
	out := rotateCCW(panel, 360-normalizeRotation(t.Rotation))
	if t.Mirrored {
		out = imaging.FlipH(out)
	}
	return fitSize(out, b.Dx(), b.Dy())
}

// invertTransform undoes applyTransform: unmirror first, then rotate back.
func invertTransform(panel image.Image, t PanelTransform) *image.NRGBA {
	b := panel.Bounds()
	out := imaging.Clone(panel)
	if t.Mirrored {
		out = imaging.FlipH(out)
	}
	out = rotateCCW(out, normalizeRotation(t.Rotation))
	return fitSize(out, b.Dx(), b.Dy())
}

// rotateCCW rotates counter-clockwise, which is what the imaging primitives do.
func rotateCCW(img image.Image, deg int) *image.NRGBA {
	switch normalizeRotation(deg) {
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	default:
		return imaging.Clone(img)
	}
}

// fitSize center-crops or pads img onto a black w x h tile. Only non-square
// panels rotated by 90/270 change size.
func fitSize(img *image.NRGBA, w, h int) *image.NRGBA {
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	bg := imaging.New(w, h, color.NRGBA{0, 0, 0, 255})
	return imaging.PasteCenter(bg, img)
}
