//go:build rgbmatrix

package main

import (
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	rgbmatrix "github.com/mcuadros/go-rpi-rgb-led-matrix"
	"github.com/pkg/errors"
)

func init() {
	openHardwarePanel = openRGBPanel
}

// rgbPanel drives a HUB75 chain through the rpi-rgb-led-matrix bindings. The
// bindings keep a single LED array, so the "back buffer" is that array and
// Present renders it.
type rgbPanel struct {
	matrix rgbmatrix.Matrix
	canvas *rgbmatrix.Canvas
}

type rgbBuffer struct {
	canvas *rgbmatrix.Canvas
}

func openRGBPanel(hw HardwareConfig) (Panel, error) {
	config := rgbmatrix.DefaultConfig
	config.Rows = hw.Rows
	config.Cols = hw.Cols
	config.ChainLength = hw.ChainLength
	config.Parallel = hw.Parallel
	config.PWMBits = hw.PWMBits
	config.PWMLSBNanoseconds = hw.PWMLSBNanoseconds
	config.Brightness = hw.Brightness
	config.ScanMode = rgbmatrix.ScanMode(hw.ScanMode)
	config.DisableHardwarePulsing = hw.DisableHardwarePulsing
	config.HardwareMapping = hw.HardwareMapping
	if hw.GPIOSlowdown != 0 || hw.Multiplexing != 0 || hw.RowAddressType != 0 || hw.LimitRefreshRateHz != 0 {
		slog.Warn("rgbmatrix: timing knobs not exposed by the bindings, using library defaults",
			"gpio_slowdown", hw.GPIOSlowdown,
			"multiplexing", hw.Multiplexing,
			"row_address_type", hw.RowAddressType,
			"limit_refresh_rate_hz", hw.LimitRefreshRateHz)
	}

	m, err := rgbmatrix.NewRGBLedMatrix(&config)
	if err != nil {
		return nil, errors.Wrap(err, "rgbmatrix: create matrix")
	}
	return &rgbPanel{matrix: m, canvas: rgbmatrix.NewCanvas(m)}, nil
}

func (p *rgbPanel) CreateBuffer() Buffer {
	return &rgbBuffer{canvas: p.canvas}
}

func (p *rgbPanel) Present(b Buffer) Buffer {
	if err := p.canvas.Render(); err != nil {
		slog.Error("rgbmatrix: render failed", "error", err)
	}
	return b
}

func (p *rgbPanel) Size() (int, int) {
	return p.matrix.Geometry()
}

func (p *rgbPanel) Clear() error {
	return p.canvas.Clear()
}

func (p *rgbPanel) Close() error {
	return p.canvas.Close()
}

func (b *rgbBuffer) Bounds() image.Rectangle { return b.canvas.Bounds() }

func (b *rgbBuffer) SetPixel(x, y int, r, g, bl uint8) {
	b.canvas.Set(x, y, color.RGBA{r, g, bl, 255})
}

func (b *rgbBuffer) Fill(r, g, bl uint8) {
	bounds := b.canvas.Bounds()
	c := color.RGBA{r, g, bl, 255}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			b.canvas.Set(x, y, c)
		}
	}
}

// SetImage is the bulk path, only taken when bulk_transfer is enabled.
func (b *rgbBuffer) SetImage(img *image.RGBA) {
	draw.Draw(b.canvas, b.canvas.Bounds(), img, img.Bounds().Min, draw.Src)
}
