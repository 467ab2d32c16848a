package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"unicode"

	"github.com/ajstarks/svgo"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/llgcode/draw2d/draw2dimg"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

//---------------- Drawing Functions ----------------

// getFontFace returns the Go Regular face at size points and its line height.
func getFontFace(size float64) (font.Face, int, error) {
	ttfFont, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, 0, errors.Wrap(err, "parse font")
	}
	face, err := opentype.NewFace(ttfFont, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, 0, err
	}
	metrics := face.Metrics()
	return face, metrics.Ascent.Round() + metrics.Descent.Round(), nil
}

// drawText draws text with its top edge at posY. With center set, posX is the
// horizontal middle of the text. It returns the bottom-right corner.
func drawText(img *image.RGBA, text string, posX, posY int, face font.Face, clr color.Color, center bool) (finishX, finishY int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(clr),
		Face: face,
	}
	metrics := face.Metrics()
	textWidth := d.MeasureString(text).Round()

	x := posX
	if center {
		x = posX - textWidth/2
	}
	d.Dot = fixed.P(x, posY+metrics.Ascent.Round())
	d.DrawString(text)

	return x + textWidth, posY + metrics.Ascent.Round() + metrics.Descent.Round()
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// wrapText splits text into lines no wider than maxWidth. Latin words break at
// spaces and are hyphenated when a single word is too wide; CJK runes may break
// anywhere.
func wrapText(text string, maxWidth int, face font.Face) []string {
	var tokens []string
	var buf []rune
	flush := func() {
		if len(buf) > 0 {
			tokens = append(tokens, string(buf))
			buf = buf[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case isCJK(r):
			flush()
			tokens = append(tokens, string(r))
		default:
			buf = append(buf, r)
		}
	}
	flush()

	d := &font.Drawer{Face: face}
	fits := func(s string) bool { return d.MeasureString(s).Ceil() <= maxWidth }

	var lines []string
	current := ""
	for _, tok := range tokens {
		sep := ""
		if current != "" {
			last := []rune(current)
			if !isCJK([]rune(tok)[0]) && !isCJK(last[len(last)-1]) {
				sep = " "
			}
		}
		if fits(current + sep + tok) {
			current += sep + tok
			continue
		}
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
		runes := []rune(tok)
		for len(runes) > 1 && !fits(string(runes)) {
			// at least one rune per line so a too narrow width still terminates
			n := 1
			for n < len(runes)-1 && fits(string(runes[:n+1])+"-") {
				n++
			}
			lines = append(lines, string(runes[:n])+"-")
			runes = runes[n:]
		}
		current = string(runes)
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

// drawLabel renders small text through freetype, which hints better than the
// opentype rasterizer at LED sizes.
func drawLabel(img *image.RGBA, text string, x, y int, size float64, clr color.Color) error {
	fnt, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return errors.Wrap(err, "parse font")
	}
	fc := freetype.NewContext()
	fc.SetDPI(72)
	fc.SetFont(fnt)
	fc.SetFontSize(size)
	fc.SetClip(img.Bounds())
	fc.SetDst(img)
	fc.SetSrc(image.NewUniform(clr))
	fc.SetHinting(font.HintingFull)

	_, err = fc.DrawString(text, freetype.Pt(x, y+int(fc.PointToFixed(size)>>6)))
	return err
}

// drawRoundedRect traces a rounded rectangle path; the caller strokes or fills it.
func drawRoundedRect(gc *draw2dimg.GraphicContext, x, y, w, h, r float64) {
	gc.MoveTo(x+r, y)
	gc.LineTo(x+w-r, y)
	gc.ArcTo(x+w-r, y+r, r, r, -math.Pi/2, math.Pi/2)
	gc.LineTo(x+w, y+h-r)
	gc.ArcTo(x+w-r, y+h-r, r, r, 0, math.Pi/2)
	gc.LineTo(x+r, y+h)
	gc.ArcTo(x+r, y+h-r, r, r, math.Pi/2, math.Pi/2)
	gc.LineTo(x, y+r)
	gc.ArcTo(x+r, y+r, r, r, math.Pi, math.Pi/2)
	gc.Close()
}

func drawRect(img *image.RGBA, x0, y0, width, height int, c color.Color) {
	col := color.RGBAModel.Convert(c).(color.RGBA)
	r := image.Rect(x0, y0, x0+width, y0+height).Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, col)
		}
	}
}

// copyImageToImageAt pastes img onto frame at (x0, y0), skipping fully
// transparent pixels and anything outside frame.
func copyImageToImageAt(frame *image.RGBA, img *image.RGBA, x0, y0 int) error {
	if frame == nil || img == nil {
		return errors.New("nil image provided")
	}
	if x0 < 0 || y0 < 0 {
		return errors.Errorf("x, y is negative: %d,%d", x0, y0)
	}
	fb := frame.Bounds()
	ib := img.Bounds()
	for y := 0; y < ib.Dy(); y++ {
		for x := 0; x < ib.Dx(); x++ {
			sample := img.RGBAAt(ib.Min.X+x, ib.Min.Y+y)
			if sample.A == 0 {
				continue
			}
			p := image.Pt(x0+x, y0+y)
			if !p.In(fb) {
				continue
			}
			frame.SetRGBA(p.X, p.Y, sample)
		}
	}
	return nil
}

// testPatternSVG is a grid with a frame and a center circle, sized w x h.
func testPatternSVG(w, h int) []byte {
	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Startview(w, h, 0, 0, w, h)
	canvas.Rect(0, 0, w, h, "fill:black")
	for x := 0; x <= w; x += 16 {
		canvas.Line(x, 0, x, h, "stroke:#003300;stroke-width:1")
	}
	for y := 0; y <= h; y += 16 {
		canvas.Line(0, y, w, y, "stroke:#003300;stroke-width:1")
	}
	canvas.Roundrect(2, 2, w-4, h-4, 4, 4, "fill:none;stroke:#00ff00;stroke-width:2")
	canvas.Circle(w/2, h/2, h/4, "fill:#002200;stroke:#00ff00")
	canvas.End()
	return buf.Bytes()
}

// saveFrameToPng writes frame as a PNG, for debugging dumps.
func saveFrameToPng(frame *image.RGBA, filename string) error {
	outFile, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(outFile, frame); err != nil {
		outFile.Close()
		return err
	}
	return outFile.Close()
}
