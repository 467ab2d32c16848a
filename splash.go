package main

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/display"
)

const (
	SPLASH_PATTERN_TIME = 2 * time.Second
	SPLASH_TITLE_TIME   = 3 * time.Second
	SPLASH_TITLE        = "Lemona Panel"
	SPLASH_SUBTITLE     = "Starting..."
)

// splashTarget is any display that can also be blanked.
type splashTarget interface {
	display.Drawer
	Clear() error
}

// testPatternFrame is the startup pattern: the SVG grid plus a START caption.
func testPatternFrame(bounds image.Rectangle) (*image.RGBA, error) {
	w, h := bounds.Dx(), bounds.Dy()
	frame, err := rasterizeSVG(testPatternSVG(w, h), w, h)
	if err != nil {
		return nil, errors.Wrap(err, "test pattern")
	}
	green := color.RGBA{0, 255, 0, 255}
	if err := drawLabel(frame, "START", w/2-16, h/2-6, 10, green); err != nil {
		return nil, err
	}
	return frame, nil
}

// titleFrame is a rounded border with the product name and a status line.
func titleFrame(bounds image.Rectangle) (*image.RGBA, error) {
	frame := newCanvas(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	gc := draw2dimg.NewGraphicContext(frame)
	gc.SetStrokeColor(color.RGBA{0, 128, 255, 255})
	gc.SetLineWidth(2)
	drawRoundedRect(gc, 1, 1, w-2, h-2, 6)
	gc.Stroke()

	face, lineHeight, err := getFontFace(12)
	if err != nil {
		return nil, err
	}
	defer face.Close()
	lines := wrapText(SPLASH_TITLE, bounds.Dx()-8, face)
	y := (bounds.Dy() - (len(lines)+1)*lineHeight) / 2
	for _, line := range lines {
		_, y = drawText(frame, line, bounds.Dx()/2, y, face, color.White, true)
	}
	drawText(frame, SPLASH_SUBTITLE, bounds.Dx()/2, y, face, color.RGBA{160, 160, 160, 255}, true)
	return frame, nil
}

// runSplash shows the test pattern and the title card, then blanks the target.
// It returns early, without clearing, when ctx is cancelled.
func runSplash(ctx context.Context, target splashTarget) error {
	bounds := target.Bounds()
	steps := []struct {
		name  string
		build func(image.Rectangle) (*image.RGBA, error)
		hold  time.Duration
	}{
		{"pattern", testPatternFrame, SPLASH_PATTERN_TIME},
		{"title", titleFrame, SPLASH_TITLE_TIME},
	}
	for _, step := range steps {
		frame, err := step.build(bounds)
		if err != nil {
			return err
		}
		if err := target.Draw(bounds, frame, image.Point{}); err != nil {
			return errors.Wrapf(err, "splash %s", step.name)
		}
		slog.Debug("splash step shown", "step", step.name)
		if !sleepCtx(ctx, step.hold) {
			return nil
		}
	}
	return target.Clear()
}
