package main

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const defaultFrameDelay = 100 * time.Millisecond

type assetKind int

const (
	kindUnknown assetKind = iota
	kindStill
	kindAnimated
	kindVideo
)

func (k assetKind) String() string {
	switch k {
	case kindStill:
		return "image"
	case kindAnimated:
		return "gif"
	case kindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// classifyAsset decides how an asset is played from its extension.
func classifyAsset(path string) assetKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".webp", ".svg":
		return kindStill
	case ".gif":
		return kindAnimated
	case ".mp4", ".mov", ".mkv", ".webm", ".avi":
		return kindVideo
	default:
		return kindUnknown
	}
}

// openAsset maps a missing file to ErrMissingAsset.
func openAsset(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, missingAsset(path)
	}
	if err != nil {
		return nil, decodeError(path, err)
	}
	return f, nil
}

// loadStill decodes a single-frame asset. Oversized images come back already
// shrunk.
func loadStill(path string) (image.Image, error) {
	f, err := openAsset(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, decodeError(path, err)
		}
		img, err = rasterizeSVG(data, 0, 0)
		if err != nil {
			return nil, decodeError(path, err)
		}
	case ".gif":
		// first frame only
		img, err = gif.Decode(f)
		if err != nil {
			return nil, decodeError(path, err)
		}
	default:
		img, _, err = image.Decode(f)
		if err != nil {
			if errors.Is(err, image.ErrFormat) {
				return nil, errors.Wrap(ErrUnsupportedFormat, path)
			}
			return nil, decodeError(path, err)
		}
	}
	return downscaleOversized(img, filepath.Base(path)), nil
}

// rasterizeSVG renders an SVG document. A zero width or height takes the
// intrinsic size from the view box.
func rasterizeSVG(data []byte, w, h int) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if w == 0 {
		w = int(icon.ViewBox.W)
	}
	if h == 0 {
		h = int(icon.ViewBox.H)
	}
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("svg has no size (%dx%d)", w, h)
	}
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 0}), image.Point{}, draw.Src)
	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)
	return rgba, nil
}

// frameSource yields the frames of one animated asset. Next returns io.EOF after
// the last frame; Rewind starts over.
type frameSource interface {
	Next() (image.Image, time.Duration, error)
	Rewind() error
	Close() error
}

type gifFrame struct {
	img   *image.RGBA
	delay time.Duration
}

// gifSource holds a fully decoded GIF in memory.
type gifSource struct {
	frames []gifFrame
	pos    int
}

func (s *gifSource) Next() (image.Image, time.Duration, error) {
	if s.pos >= len(s.frames) {
		return nil, 0, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f.img, f.delay, nil
}

func (s *gifSource) Rewind() error {
	s.pos = 0
	return nil
}

func (s *gifSource) Close() error { return nil }

func decodeGIF(path string) (*gifSource, error) {
	f, err := openAsset(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeGIFReader(f, path)
}

// decodeGIFReader pre-decodes every frame, compositing each over the previous
// ones according to the frame's disposal method. name labels errors.
func decodeGIFReader(r io.Reader, name string) (*gifSource, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, decodeError(name, err)
	}
	if len(g.Image) == 0 {
		return nil, errors.Wrap(ErrNoFrames, name)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)
	clearFrame(canvas, bounds.Dx(), bounds.Dy())

	src := &gifSource{frames: make([]gifFrame, 0, len(g.Image))}
	var saved *image.RGBA
	for i, frame := range g.Image {
		disposal := byte(gif.DisposalNone)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			saved = cloneRGBA(canvas)
		}
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		delay := defaultFrameDelay
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		src.frames = append(src.frames, gifFrame{img: cloneRGBA(canvas), delay: delay})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 255}), image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			if saved != nil {
				copy(canvas.Pix, saved.Pix)
			}
		}
	}
	return src, nil
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

// openFrames opens an animated asset for playback.
func openFrames(path string) (frameSource, error) {
	switch classifyAsset(path) {
	case kindAnimated:
		return decodeGIF(path)
	case kindVideo:
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, missingAsset(path)
		}
		return openVideo(path)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s is not animated", filepath.Base(path))
	}
}
