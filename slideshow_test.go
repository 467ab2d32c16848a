package main

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestSlideshowWrapsAround(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writePNG(t, dir, "a.png", solid(image.Rect(0, 0, 64, 64), red)),
		writePNG(t, dir, "b.png", solid(image.Rect(0, 0, 64, 64), green)),
		writePNG(t, dir, "c.png", solid(image.Rect(0, 0, 64, 64), blue)),
	}
	ctrl, rec := newRecordedController(t, testSettings())
	show := ctrl.SetSlideshow(files, time.Millisecond)
	gen := ctrl.current().gen

	want := []struct {
		index int
		color color.RGBA
	}{
		{0, red}, {1, green}, {2, blue}, {0, red},
	}
	for i, w := range want {
		if got := show.Index(); got != w.index {
			t.Fatalf("step %d: index = %d, want %d", i, got, w.index)
		}
		if err := show.Advance(context.Background(), ctrl, gen); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := rec.last().Snapshot().RGBAAt(32, 32); got != w.color {
			t.Errorf("step %d: pixel = %v, want %v", i, got, w.color)
		}
	}
}

func TestSlideshowEmptySwitchesToColor(t *testing.T) {
	ctrl := newTestController(t, testSettings())
	show := ctrl.SetSlideshow(nil, time.Second)
	gen := ctrl.current().gen

	if err := show.Advance(context.Background(), ctrl, gen); err != nil {
		t.Fatal(err)
	}
	if ctrl.Mode() != ModeColor {
		t.Errorf("mode = %v, want color", ctrl.Mode())
	}
	if got := ctrl.Status().Color; got != "#000000" {
		t.Errorf("color = %q, want black", got)
	}
}

func TestSlideshowEmptyStaleGeneration(t *testing.T) {
	ctrl := newTestController(t, testSettings())
	show := ctrl.SetSlideshow(nil, time.Second)
	gen := ctrl.current().gen
	ctrl.SetVideo("clip.gif", CompositionClone)

	show.Advance(context.Background(), ctrl, gen)
	if ctrl.Mode() != ModeVideo {
		t.Errorf("a stale slideshow must not replace the newer command, mode = %v", ctrl.Mode())
	}
}

func TestSlideshowSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "gone.png"),
		writePNG(t, dir, "b.png", solid(image.Rect(0, 0, 64, 64), green)),
	}
	ctrl := newTestController(t, testSettings())
	show := ctrl.SetSlideshow(files, time.Millisecond)

	if err := show.Advance(context.Background(), ctrl, ctrl.current().gen); err != nil {
		t.Errorf("missing slide should be skipped, got %v", err)
	}
	if show.Index() != 1 {
		t.Errorf("index = %d, want 1", show.Index())
	}
}

func TestSlideshowAllMissingReportsError(t *testing.T) {
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}
	ctrl := newTestController(t, testSettings())
	show := ctrl.SetSlideshow(files, time.Millisecond)
	gen := ctrl.current().gen

	want := []error{nil, ErrMissingAsset, nil, ErrMissingAsset}
	for i, w := range want {
		err := show.Advance(context.Background(), ctrl, gen)
		if w == nil && err != nil || w != nil && !errors.Is(err, w) {
			t.Errorf("advance %d = %v; want %v", i, err, w)
		}
	}
}

func TestSlideshowFoundSlideResetsMisses(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "gone.png"),
		writePNG(t, dir, "b.png", solid(image.Rect(0, 0, 64, 64), green)),
	}
	ctrl := newTestController(t, testSettings())
	show := ctrl.SetSlideshow(files, time.Millisecond)
	gen := ctrl.current().gen

	for i := 0; i < 4; i++ {
		if err := show.Advance(context.Background(), ctrl, gen); err != nil {
			t.Errorf("advance %d = %v, one good slide should keep the show healthy", i, err)
		}
	}
}

func TestSlideshowSidecarComposition(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", solid(image.Rect(0, 0, 64, 64), red))
	d := 0.001
	if err := writeAssetConfig(path, CompositionMatrixB, &d); err != nil {
		t.Fatal(err)
	}
	ctrl, rec := newRecordedController(t, testSettings())
	show := ctrl.SetSlideshow([]string{path}, time.Hour)

	done := make(chan error, 1)
	go func() { done <- show.Advance(context.Background(), ctrl, ctrl.current().gen) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sidecar duration should override the slideshow duration")
	}
	snap := rec.last().Snapshot()
	if snap.RGBAAt(10, 32) != black || snap.RGBAAt(100, 32) != red {
		t.Error("sidecar mode matrix_b should light only the second panel")
	}
}

func TestSlideshowNextCutsSlideShort(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png", solid(image.Rect(0, 0, 64, 64), red))
	ctrl := newTestController(t, testSettings())
	show := ctrl.SetSlideshow([]string{path, path}, time.Hour)

	done := make(chan error, 1)
	go func() { done <- show.Advance(context.Background(), ctrl, ctrl.current().gen) }()

	deadline := time.After(2 * time.Second)
	for {
		ctrl.Next()
		select {
		case <-done:
			if show.Index() != 1 {
				t.Errorf("index = %d, want 1", show.Index())
			}
			return
		case <-deadline:
			t.Fatal("Next did not end the slide")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewSlideshowDefaults(t *testing.T) {
	files := []string{"a.png"}
	show := newSlideshow(files, 0)
	if show.duration != 10*time.Second {
		t.Errorf("duration = %v, want 10s", show.duration)
	}
	files[0] = "changed.png"
	if show.files[0] != "a.png" {
		t.Error("slideshow should keep its own copy of the file list")
	}
}
