package main

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

var errDriverRefused = errors.New("driver refused configuration")

// testSettings is two 64x64 panels side by side.
func testSettings() Settings {
	s := defaultSettings()
	s.Hardware.Rows, s.Hardware.Cols, s.Hardware.ChainLength = 64, 64, 2
	return s
}

// panelRecorder is a PanelOpener that keeps every panel it opens and can be
// told to reject a configuration.
type panelRecorder struct {
	mu     sync.Mutex
	panels []*memPanel
	reject func(HardwareConfig) bool
}

func (r *panelRecorder) open(hw HardwareConfig) (Panel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject != nil && r.reject(hw) {
		return nil, errDriverRefused
	}
	p, err := openMemPanel(hw)
	if err != nil {
		return nil, err
	}
	r.panels = append(r.panels, p.(*memPanel))
	return p, nil
}

func (r *panelRecorder) last() *memPanel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.panels[len(r.panels)-1]
}

func (r *panelRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.panels)
}

func newTestController(t *testing.T, s Settings) *Controller {
	t.Helper()
	ctrl, _ := newRecordedController(t, s)
	return ctrl
}

func newRecordedController(t *testing.T, s Settings) (*Controller, *panelRecorder) {
	t.Helper()
	rec := &panelRecorder{}
	ctrl, err := NewController(context.Background(), s, ControllerOptions{Open: rec.open})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return ctrl, rec
}

func assertFill(t *testing.T, img *image.RGBA, want color.RGBA) {
	t.Helper()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if got := img.RGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewControllerStartsBlack(t *testing.T) {
	ctrl, rec := newRecordedController(t, testSettings())
	if ctrl.Mode() != ModeColor {
		t.Errorf("initial mode = %v, want color", ctrl.Mode())
	}
	assertFill(t, rec.last().Snapshot(), black)
	if b := ctrl.Bounds(); b.Dx() != 128 || b.Dy() != 64 {
		t.Errorf("bounds = %v, want 128x64", b)
	}
}

func TestNewControllerHardwareError(t *testing.T) {
	rec := &panelRecorder{reject: func(HardwareConfig) bool { return true }}
	_, err := NewController(context.Background(), testSettings(), ControllerOptions{Open: rec.open})
	if !errors.Is(err, ErrHardwareInit) {
		t.Errorf("err = %v, want ErrHardwareInit", err)
	}
	if !errors.Is(err, errDriverRefused) {
		t.Errorf("err = %v, the driver error should stay reachable", err)
	}
}

func TestNewControllerPanelSizeMismatch(t *testing.T) {
	open := func(hw HardwareConfig) (Panel, error) { return newMemPanel(64, 32), nil }
	_, err := NewController(context.Background(), testSettings(), ControllerOptions{Open: open})
	if !errors.Is(err, ErrHardwareInit) {
		t.Errorf("err = %v, want ErrHardwareInit for a 64x32 panel on a 128x64 chain", err)
	}
}

func TestSetColorFillsEveryPanel(t *testing.T) {
	ctrl, rec := newRecordedController(t, testSettings())
	if err := ctrl.SetColor(red); err != nil {
		t.Fatalf("SetColor: %v", err)
	}
	assertFill(t, rec.last().Snapshot(), red)
	assertFill(t, ctrl.Snapshot(), red)
	if got := ctrl.Status().Color; got != "#ff0000" {
		t.Errorf("status color = %q, want #ff0000", got)
	}
}

func TestClearShowsBlack(t *testing.T) {
	ctrl, rec := newRecordedController(t, testSettings())
	ctrl.SetColor(blue)
	if err := ctrl.Clear(); err != nil {
		t.Fatal(err)
	}
	assertFill(t, rec.last().Snapshot(), black)
}

func TestCommitCancelsPreviousState(t *testing.T) {
	ctrl := newTestController(t, testSettings())
	before := ctrl.current()
	ctrl.SetColor(green)
	after := ctrl.current()

	if before.ctx.Err() == nil {
		t.Error("previous state context should be cancelled")
	}
	if after.ctx.Err() != nil {
		t.Error("current state context should be live")
	}
	if after.gen != before.gen+1 {
		t.Errorf("gen = %d, want %d", after.gen, before.gen+1)
	}
}

func TestSetImageSplitAndClone(t *testing.T) {
	dir := t.TempDir()
	// 128x64, left half red, right half blue
	src := solid(image.Rect(0, 0, 128, 64), red)
	drawRect(src, 64, 0, 64, 64, blue)
	path := writePNG(t, dir, "halves.png", src)

	ctrl, rec := newRecordedController(t, testSettings())

	if err := ctrl.SetImage(path, CompositionSplit); err != nil {
		t.Fatalf("SetImage split: %v", err)
	}
	snap := rec.last().Snapshot()
	if got := snap.RGBAAt(10, 32); got != red {
		t.Errorf("split left = %v, want red", got)
	}
	if got := snap.RGBAAt(100, 32); got != blue {
		t.Errorf("split right = %v, want blue", got)
	}

	square := writePNG(t, dir, "square.png", solid(image.Rect(0, 0, 64, 64), green))
	if err := ctrl.SetImage(square, CompositionClone); err != nil {
		t.Fatalf("SetImage clone: %v", err)
	}
	snap = rec.last().Snapshot()
	for _, x := range []int{10, 74} {
		if got := snap.RGBAAt(x, 32); got != green {
			t.Errorf("clone x=%d = %v, want green", x, got)
		}
	}
	if ctrl.Mode() != ModeImage {
		t.Errorf("mode = %v, want image", ctrl.Mode())
	}
}

func TestSetImageSingleMatrix(t *testing.T) {
	path := writePNG(t, t.TempDir(), "g.png", solid(image.Rect(0, 0, 64, 64), green))
	ctrl, rec := newRecordedController(t, testSettings())

	tests := []struct {
		comp       Composition
		lit, black int
	}{
		{CompositionMatrixA, 10, 74},
		{CompositionMatrixB, 74, 10},
	}
	for _, tt := range tests {
		if err := ctrl.SetImage(path, tt.comp); err != nil {
			t.Fatalf("%s: %v", tt.comp, err)
		}
		snap := rec.last().Snapshot()
		if got := snap.RGBAAt(tt.lit, 32); got != green {
			t.Errorf("%s: x=%d = %v, want green", tt.comp, tt.lit, got)
		}
		if got := snap.RGBAAt(tt.black, 32); got != black {
			t.Errorf("%s: x=%d = %v, want black", tt.comp, tt.black, got)
		}
	}
}

func TestSetImageErrorsKeepDisplay(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.png")
	// a PNG signature followed by garbage reaches the PNG decoder and fails there
	os.WriteFile(broken, []byte("\x89PNG\r\n\x1a\nnot really"), 0644)

	ctrl, rec := newRecordedController(t, testSettings())
	ctrl.SetColor(red)
	gen := ctrl.current().gen

	tests := []struct {
		path string
		want error
	}{
		{filepath.Join(dir, "missing.png"), ErrMissingAsset},
		{broken, ErrDecode},
	}
	for _, tt := range tests {
		err := ctrl.SetImage(tt.path, CompositionClone)
		if !errors.Is(err, tt.want) {
			t.Errorf("SetImage(%s) = %v, want %v", filepath.Base(tt.path), err, tt.want)
		}
	}
	if ctrl.current().gen != gen {
		t.Error("failed SetImage should not commit a new state")
	}
	assertFill(t, rec.last().Snapshot(), red)
}

func TestSetVideoRejectsStills(t *testing.T) {
	ctrl := newTestController(t, testSettings())
	if err := ctrl.SetVideo("photo.png", CompositionClone); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
	if err := ctrl.SetVideo("clip.gif", CompositionClone); err != nil {
		t.Errorf("SetVideo gif: %v", err)
	}
	if ctrl.Mode() != ModeVideo {
		t.Errorf("mode = %v, want video", ctrl.Mode())
	}
}

func TestDrawPixel(t *testing.T) {
	ctrl, rec := newRecordedController(t, testSettings())
	ctrl.SetColor(red)

	if err := ctrl.DrawPixel(10, 10, green, 3); err != nil {
		t.Fatalf("DrawPixel: %v", err)
	}
	if ctrl.Mode() != ModeDraw {
		t.Fatalf("mode = %v, want draw", ctrl.Mode())
	}
	snap := rec.last().Snapshot()
	for _, p := range []image.Point{{10, 10}, {12, 12}} {
		if got := snap.RGBAAt(p.X, p.Y); got != green {
			t.Errorf("%v = %v, want green", p, got)
		}
	}
	// the canvas was cleared when entering draw mode
	if got := snap.RGBAAt(50, 50); got != black {
		t.Errorf("(50,50) = %v, want black", got)
	}

	// strokes accumulate while in draw mode
	gen := ctrl.current().gen
	ctrl.DrawPixel(100, 5, blue, 1)
	if ctrl.current().gen != gen {
		t.Error("drawing in draw mode should not commit again")
	}
	snap = rec.last().Snapshot()
	if snap.RGBAAt(10, 10) != green || snap.RGBAAt(100, 5) != blue {
		t.Error("earlier strokes should survive")
	}

	// off-canvas blocks are clipped
	if err := ctrl.DrawPixel(127, 63, blue, 5); err != nil {
		t.Errorf("clipped DrawPixel: %v", err)
	}
	if err := ctrl.DrawPixel(500, 500, blue, 1); err != nil {
		t.Errorf("off-canvas DrawPixel: %v", err)
	}
}

func TestDrawIgnoresTransforms(t *testing.T) {
	ctrl, rec := newRecordedController(t, testSettings())
	if _, err := ctrl.ToggleMirror(0); err != nil {
		t.Fatal(err)
	}
	ctrl.DrawPixel(0, 0, green, 1)
	if got := rec.last().Snapshot().RGBAAt(0, 0); got != green {
		t.Errorf("(0,0) = %v, want green in raw canvas coordinates", got)
	}
}

func TestRotatePanel(t *testing.T) {
	ctrl := newTestController(t, testSettings())
	want := []int{90, 180, 270, 0}
	for i, w := range want {
		got, err := ctrl.RotatePanel(1)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != w {
			t.Errorf("step %d: rotation = %d, want %d", i, got, w)
		}
	}
	for _, bad := range []int{-1, 2, 7} {
		if _, err := ctrl.RotatePanel(bad); !errors.Is(err, ErrInvalidPanel) {
			t.Errorf("RotatePanel(%d) = %v, want ErrInvalidPanel", bad, err)
		}
	}
}

func TestRotateRepaintsStill(t *testing.T) {
	// a panel-sized image, top row red, everything else black
	src := newCanvas(image.Rect(0, 0, 64, 64))
	drawRect(src, 0, 0, 64, 1, red)
	path := writePNG(t, t.TempDir(), "top.png", src)

	ctrl, rec := newRecordedController(t, testSettings())
	ctrl.SetImage(path, CompositionMatrixA)
	if got := rec.last().Snapshot().RGBAAt(63, 10); got != black {
		t.Fatalf("before rotation right column = %v, want black", got)
	}
	ctrl.RotatePanel(0)
	// rotated 90 clockwise, the top row becomes the right column
	if got := rec.last().Snapshot().RGBAAt(63, 10); got != red {
		t.Errorf("after rotation right column = %v, want red", got)
	}
}

func TestToggleMirrorPersists(t *testing.T) {
	dir := t.TempDir()
	store := newSettingsStore(filepath.Join(dir, "settings.json"))
	ctrl, err := NewController(context.Background(), testSettings(), ControllerOptions{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	on, err := ctrl.ToggleMirror(1)
	if err != nil || !on {
		t.Fatalf("ToggleMirror = %v, %v", on, err)
	}
	ctrl.RotatePanel(0)

	saved, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !saved.Client.PanelMirrors[1] || saved.Client.PanelRotations[0] != 90 {
		t.Errorf("persisted client = %+v", saved.Client)
	}
	if _, err := ctrl.ToggleMirror(5); !errors.Is(err, ErrInvalidPanel) {
		t.Errorf("ToggleMirror(5) = %v, want ErrInvalidPanel", err)
	}
}

func TestReinitIdempotent(t *testing.T) {
	s := testSettings()
	ctrl, rec := newRecordedController(t, s)
	ctrl.SetColor(red)

	if err := ctrl.Reinit(s); err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Reinit(s); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 1 {
		t.Errorf("panels opened = %d, want 1", rec.count())
	}

	s.Client.PanelMirrors = []bool{true, false}
	if err := ctrl.Reinit(s); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 1 {
		t.Error("client-only change should not reopen the panel")
	}
	if !ctrl.Settings().Client.PanelMirrors[0] {
		t.Error("client change should apply")
	}
}

func TestReinitRebuildsAndRepaints(t *testing.T) {
	s := testSettings()
	ctrl, rec := newRecordedController(t, s)
	ctrl.SetColor(blue)

	s.Hardware.Cols = 32
	if err := ctrl.Reinit(s); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 2 {
		t.Fatalf("panels opened = %d, want 2", rec.count())
	}
	if !rec.panels[0].closed {
		t.Error("previous panel should be closed")
	}
	snap := rec.last().Snapshot()
	if snap.Bounds().Dx() != 64 {
		t.Errorf("new width = %d, want 64", snap.Bounds().Dx())
	}
	assertFill(t, snap, blue)
}

func TestReinitRollback(t *testing.T) {
	s := testSettings()
	ctrl, rec := newRecordedController(t, s)
	ctrl.SetColor(green)
	rec.reject = func(hw HardwareConfig) bool { return hw.Rows == 99 }

	bad := s
	bad.Hardware.Rows = 99
	err := ctrl.Reinit(bad)
	if !errors.Is(err, ErrHardwareInit) {
		t.Fatalf("err = %v, want ErrHardwareInit", err)
	}
	if got := ctrl.Settings().Hardware; got != s.Hardware {
		t.Errorf("hardware = %+v, want previous", got)
	}
	assertFill(t, rec.last().Snapshot(), green)
}

func TestSetBrightness(t *testing.T) {
	ctrl := newTestController(t, testSettings())
	for _, tt := range []struct{ in, want int }{{75, 75}, {150, 100}, {-5, 0}} {
		if err := ctrl.SetBrightness(tt.in); err != nil {
			t.Fatal(err)
		}
		if got := ctrl.Settings().Hardware.Brightness; got != tt.want {
			t.Errorf("SetBrightness(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFallbackRestoresLastStatic(t *testing.T) {
	ctrl, rec := newRecordedController(t, testSettings())
	ctrl.SetColor(red)
	ctrl.SetVideo("clip.gif", CompositionClone)
	gen := ctrl.current().gen

	if !ctrl.fallback(gen) {
		t.Fatal("fallback should apply to the live generation")
	}
	if ctrl.Mode() != ModeColor {
		t.Errorf("mode = %v, want color", ctrl.Mode())
	}
	assertFill(t, rec.last().Snapshot(), red)

	if ctrl.fallback(gen) {
		t.Error("fallback for a stale generation should be ignored")
	}
}

func TestStalePresentIgnored(t *testing.T) {
	ctrl, rec := newRecordedController(t, testSettings())
	old := ctrl.current()
	ctrl.SetColor(red)

	frame := solid(image.Rect(0, 0, 128, 64), blue)
	if err := ctrl.presentFrame(old.ctx, frame, CompositionSplit); err == nil {
		t.Error("presentFrame with a stale context should fail")
	}
	assertFill(t, rec.last().Snapshot(), red)
}

func TestNextOnlyInSlideshow(t *testing.T) {
	ctrl := newTestController(t, testSettings())
	if ctrl.Next() {
		t.Error("Next outside a slideshow should report false")
	}
	ctrl.SetSlideshow([]string{"a.png", "b.png"}, time.Second)
	if !ctrl.Next() {
		t.Error("Next in a slideshow should report true")
	}
}

func TestStatus(t *testing.T) {
	ctrl := newTestController(t, testSettings())
	ctrl.SetSlideshow([]string{"a.png", "b.png", "c.png"}, time.Second)
	st := ctrl.Status()
	if st.Mode != "slideshow" || st.SlideCount != 3 || st.PanelCount != 2 || st.Width != 128 {
		t.Errorf("status = %+v", st)
	}
}

func TestDrawerInterface(t *testing.T) {
	ctrl, rec := newRecordedController(t, testSettings())
	src := solid(image.Rect(0, 0, 10, 10), green)
	if err := ctrl.Draw(image.Rect(5, 5, 15, 15), src, image.Point{}); err != nil {
		t.Fatal(err)
	}
	snap := rec.last().Snapshot()
	if snap.RGBAAt(7, 7) != green || snap.RGBAAt(20, 20) != black {
		t.Error("Draw should place src at r on a black canvas")
	}
	if ctrl.String() != "LEDChain{128x64}" {
		t.Errorf("String = %q", ctrl.String())
	}
	if err := ctrl.Halt(); err != nil || ctrl.Mode() != ModeColor {
		t.Errorf("Halt = %v, mode %v", err, ctrl.Mode())
	}
}

func TestFallbackWithoutPanel(t *testing.T) {
	s := testSettings()
	ctrl, rec := newRecordedController(t, s)
	rec.reject = func(HardwareConfig) bool { return true }

	s.Hardware.Rows = 32
	if err := ctrl.Reinit(s); !errors.Is(err, ErrHardwareInit) {
		t.Fatalf("Reinit = %v, want ErrHardwareInit", err)
	}
	gen := ctrl.commit(videoCommand{path: "clip.gif", composition: CompositionClone})

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("fallback with no panel panicked: %v", r)
		}
	}()
	if !ctrl.fallback(gen) {
		t.Error("fallback should still commit the last static mode")
	}
	if err := ctrl.SetColor(red); !errors.Is(err, ErrHardwareInit) {
		t.Errorf("SetColor without a panel = %v, want ErrHardwareInit", err)
	}
}

func TestSetBrightnessRejectedKeepsFile(t *testing.T) {
	store := newSettingsStore(filepath.Join(t.TempDir(), "settings.json"))
	rec := &panelRecorder{}
	ctrl, err := NewController(context.Background(), testSettings(), ControllerOptions{Open: rec.open, Store: store})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	rec.reject = func(hw HardwareConfig) bool { return hw.Brightness == 77 }

	if err := ctrl.SetBrightness(77); !errors.Is(err, ErrHardwareInit) {
		t.Fatalf("SetBrightness = %v, want ErrHardwareInit", err)
	}
	stored, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if stored.Hardware.Brightness == 77 {
		t.Error("rejected brightness should not stay in the settings file")
	}
	if got := ctrl.Settings().Hardware.Brightness; got != testSettings().Hardware.Brightness {
		t.Errorf("active brightness = %d, want the previous value", got)
	}
}
