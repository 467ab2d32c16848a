package main

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/display"
)

// Buffer is one back buffer of the LED chain.
type Buffer interface {
	Bounds() image.Rectangle
	SetPixel(x, y int, r, g, b uint8)
	Fill(r, g, b uint8)
}

// BulkSetter is the optional whole-frame transfer path.
type BulkSetter interface {
	SetImage(img *image.RGBA)
}

// Panel is the hardware output: double-buffered, present returns the next back buffer.
type Panel interface {
	CreateBuffer() Buffer
	Present(b Buffer) Buffer
	Clear() error
	Close() error
	Size() (w, h int)
}

// PanelOpener builds a Panel for a hardware configuration.
type PanelOpener func(hw HardwareConfig) (Panel, error)

// openHardwarePanel is replaced when the binary is built with the rgbmatrix tag.
var openHardwarePanel PanelOpener = func(hw HardwareConfig) (Panel, error) {
	return nil, errors.Wrap(ErrHardwareInit, "built without rgbmatrix support")
}

// panelOpener picks the software panel in simulation mode and the LED driver
// otherwise. Any driver failure is reported as ErrHardwareInit.
func panelOpener(simulate bool) PanelOpener {
	if simulate {
		return openMemPanel
	}
	return func(hw HardwareConfig) (Panel, error) {
		p, err := openHardwarePanel(hw)
		if err != nil {
			return nil, hardwareInitError(err)
		}
		return p, nil
	}
}

// frameBuffer is an in-memory Buffer.
type frameBuffer struct {
	img *image.RGBA
}

func newFrameBuffer(w, h int) *frameBuffer {
	fb := &frameBuffer{img: image.NewRGBA(image.Rect(0, 0, w, h))}
	clearFrame(fb.img, w, h)
	return fb
}

func (f *frameBuffer) Bounds() image.Rectangle { return f.img.Bounds() }

func (f *frameBuffer) SetPixel(x, y int, r, g, b uint8) {
	f.img.SetRGBA(x, y, color.RGBA{r, g, b, 255})
}

func (f *frameBuffer) Fill(r, g, b uint8) {
	draw.Draw(f.img, f.img.Bounds(), &image.Uniform{color.RGBA{r, g, b, 255}}, image.Point{}, draw.Src)
}

func (f *frameBuffer) SetImage(img *image.RGBA) {
	draw.Draw(f.img, f.img.Bounds(), img, img.Bounds().Min, draw.Src)
}

// memPanel is the software panel used in simulation mode and in tests. It keeps
// two frame buffers and remembers the last presented frame.
type memPanel struct {
	mu      sync.Mutex
	w, h    int
	buffers [2]*frameBuffer
	back    int
	front   *image.RGBA
	closed  bool
}

func newMemPanel(w, h int) *memPanel {
	p := &memPanel{w: w, h: h, front: image.NewRGBA(image.Rect(0, 0, w, h))}
	p.buffers[0] = newFrameBuffer(w, h)
	p.buffers[1] = newFrameBuffer(w, h)
	clearFrame(p.front, w, h)
	return p
}

// openMemPanel is the PanelOpener for simulation mode.
func openMemPanel(hw HardwareConfig) (Panel, error) {
	g := hw.Geometry()
	if g.Width() <= 0 || g.Height() <= 0 {
		return nil, errors.Wrapf(ErrHardwareInit, "memPanel: invalid geometry %dx%d", g.Width(), g.Height())
	}
	return newMemPanel(g.Width(), g.Height()), nil
}

func (p *memPanel) CreateBuffer() Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers[p.back]
}

func (p *memPanel) Present(b Buffer) Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fb, ok := b.(*frameBuffer); ok {
		copy(p.front.Pix, fb.img.Pix)
	}
	p.back = (p.back + 1) % 2
	return p.buffers[p.back]
}

func (p *memPanel) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clearFrame(p.front, p.w, p.h)
	for _, fb := range p.buffers {
		clearFrame(fb.img, p.w, p.h)
	}
	return nil
}

func (p *memPanel) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *memPanel) Size() (int, int) { return p.w, p.h }

// Snapshot copies the last presented frame.
func (p *memPanel) Snapshot() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := image.NewRGBA(p.front.Bounds())
	copy(out.Pix, p.front.Pix)
	return out
}

// The controller is itself a periph display, so anything that knows how to draw
// on a display.Drawer (the splash screen, for one) can target the LED chain.
var _ display.Drawer = (*Controller)(nil)
