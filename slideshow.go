package main

import (
	"context"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Slideshow cycles through an ordered list of library assets.
type Slideshow struct {
	files    []string
	duration time.Duration

	mu     sync.Mutex
	index  int
	misses int // consecutive missing slides
	skip   context.CancelFunc
}

func newSlideshow(files []string, duration time.Duration) *Slideshow {
	if duration <= 0 {
		duration = time.Duration(defaultSettings().Client.SlideDuration * float64(time.Second))
	}
	return &Slideshow{files: append([]string(nil), files...), duration: duration}
}

// Index is the cursor of the slide shown by the next Advance.
func (s *Slideshow) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *Slideshow) Len() int { return len(s.files) }

// Next cuts the current slide short.
func (s *Slideshow) Next() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skip != nil {
		s.skip()
	}
}

// Advance shows the slide under the cursor for its duration and then moves the
// cursor on, whatever happened. An empty show switches the display to black
// if gen is still the live command. A missing slide is skipped without a wait;
// once a whole cycle has been missing, Advance returns ErrMissingAsset so the
// caller backs off.
func (s *Slideshow) Advance(ctx context.Context, c *Controller, gen uint64) error {
	if len(s.files) == 0 {
		if c.commitIf(gen, colorCommand{color: color.RGBA{0, 0, 0, 255}}) {
			slog.Info("slideshow empty, switching to color")
		}
		return nil
	}

	s.mu.Lock()
	i := s.index
	ctx, cancel := context.WithCancel(ctx)
	s.skip = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.index = (i + 1) % len(s.files)
		s.skip = nil
		s.mu.Unlock()
	}()

	path := s.files[i]
	if _, err := os.Stat(path); err != nil {
		s.mu.Lock()
		s.misses++
		allMissing := s.misses >= len(s.files)
		if allMissing {
			s.misses = 0
		}
		s.mu.Unlock()
		if allMissing {
			return errors.Wrap(missingAsset(path), "every slide is missing")
		}
		slog.Warn("slide skipped", "index", i, "error", missingAsset(path))
		return nil
	}
	s.mu.Lock()
	s.misses = 0
	s.mu.Unlock()

	comp, d := resolveSlide(path, s.duration)
	slog.Debug("slide", "index", i, "asset", filepath.Base(path), "composition", comp, "duration", d)

	switch classifyAsset(path) {
	case kindStill:
		img, err := loadStill(path)
		if err != nil {
			return err
		}
		if err := c.presentStill(ctx, img, comp); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		sleepCtx(ctx, d)
		return nil
	case kindAnimated, kindVideo:
		return c.engine.Play(ctx, path, comp, PlayOptions{Loop: true, Limit: d})
	default:
		return errors.Wrap(ErrUnsupportedFormat, path)
	}
}
