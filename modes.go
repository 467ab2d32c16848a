package main

import (
	"image"
	"image/color"
	"strings"
)

// DisplayMode is what the render loop is currently showing.
type DisplayMode int

const (
	ModeColor DisplayMode = iota
	ModeImage
	ModeVideo
	ModeSlideshow
	ModeDraw
)

func (m DisplayMode) String() string {
	switch m {
	case ModeColor:
		return "color"
	case ModeImage:
		return "image"
	case ModeVideo:
		return "video"
	case ModeSlideshow:
		return "slideshow"
	case ModeDraw:
		return "draw"
	default:
		return "unknown"
	}
}

// Composition is how a source asset maps onto the panels.
type Composition string

const (
	CompositionSplit   Composition = "split"
	CompositionClone   Composition = "clone"
	CompositionMatrixA Composition = "matrix_a"
	CompositionMatrixB Composition = "matrix_b"
)

// parseComposition maps a user supplied mode name to a Composition, defaulting to clone.
func parseComposition(s string) Composition {
	switch Composition(strings.ToLower(strings.TrimSpace(s))) {
	case CompositionSplit:
		return CompositionSplit
	case CompositionMatrixA:
		return CompositionMatrixA
	case CompositionMatrixB:
		return CompositionMatrixB
	default:
		return CompositionClone
	}
}

// command is the payload of one display mode. Exactly one is live at a time and
// each variant carries only what its mode needs.
type command interface {
	mode() DisplayMode
}

type colorCommand struct {
	color color.RGBA
}

// imageCommand keeps the decoded source so the still can be laid out again
// after a hardware re-init changes the geometry.
type imageCommand struct {
	path        string
	src         image.Image
	composition Composition
}

// videoCommand plays path, or frames when they were decoded up front.
type videoCommand struct {
	path        string
	composition Composition
	frames      []gifFrame
}

type slideshowCommand struct {
	show *Slideshow
}

type drawCommand struct{}

func (colorCommand) mode() DisplayMode     { return ModeColor }
func (imageCommand) mode() DisplayMode     { return ModeImage }
func (videoCommand) mode() DisplayMode     { return ModeVideo }
func (slideshowCommand) mode() DisplayMode { return ModeSlideshow }
func (drawCommand) mode() DisplayMode      { return ModeDraw }

// Geometry describes the panel chain. Panels sit side by side, left to right.
type Geometry struct {
	PanelWidth  int
	PanelHeight int
	PanelCount  int
}

func (g Geometry) Width() int  { return g.PanelWidth * g.PanelCount }
func (g Geometry) Height() int { return g.PanelHeight }

func (g Geometry) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.Width(), g.Height())
}

// panelRect is the canvas region covered by panel i.
func (g Geometry) panelRect(i int) image.Rectangle {
	return image.Rect(i*g.PanelWidth, 0, (i+1)*g.PanelWidth, g.PanelHeight)
}
