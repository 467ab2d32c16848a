package main

import (
	"context"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// framePresenter lays out, composes and presents one frame under the buffer
// lock. It returns ctx.Err() without touching the buffer once ctx is done.
type framePresenter interface {
	presentFrame(ctx context.Context, img image.Image, comp Composition) error
}

// PlayOptions bounds one playback session.
type PlayOptions struct {
	Loop  bool
	Limit time.Duration // zero means no limit
}

// PlaybackEngine plays animated assets frame by frame.
type PlaybackEngine struct {
	out   framePresenter
	open  func(path string) (frameSource, error)
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func newPlaybackEngine(out framePresenter) *PlaybackEngine {
	return &PlaybackEngine{out: out, open: openFrames, now: time.Now, sleep: sleepCtx}
}

// Play decodes path and presents its frames until ctx is cancelled, the asset
// ends (without Loop) or the limit is reached. Cancellation is checked at every
// frame boundary and interrupts the wait between frames.
//
// With a limit, a frame is only started if it can be shown for its full
// duration before the limit expires. The first frame is always shown.
func (e *PlaybackEngine) Play(ctx context.Context, path string, comp Composition, opts PlayOptions) error {
	src, err := e.open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	return e.PlayFrames(ctx, path, src, comp, opts)
}

// PlayFrames presents the frames of src the way Play does. The caller owns src.
func (e *PlaybackEngine) PlayFrames(ctx context.Context, path string, src frameSource, comp Composition, opts PlayOptions) error {
	log := slog.With("session", uuid.NewString(), "path", path)
	log.Info("playback started", "composition", comp, "loop", opts.Loop, "limit", opts.Limit)

	start := e.now()
	var deadline time.Time
	if opts.Limit > 0 {
		deadline = start.Add(opts.Limit)
	}

	played, sinceRewind := 0, 0
	for {
		if ctx.Err() != nil {
			log.Debug("playback cancelled", "frames", played)
			return nil
		}

		img, delay, err := src.Next()
		if err == io.EOF {
			if !opts.Loop {
				log.Info("playback finished", "frames", played)
				return nil
			}
			if sinceRewind == 0 {
				return errors.Wrap(ErrNoFrames, path)
			}
			if err := src.Rewind(); err != nil {
				return err
			}
			sinceRewind = 0
			continue
		}
		if err != nil {
			return err
		}

		elapsed := e.now().Sub(start)
		if !deadline.IsZero() && played > 0 && elapsed+delay > opts.Limit {
			log.Info("playback limit reached", "frames", played, "elapsed", elapsed)
			return nil
		}

		if err := e.out.presentFrame(ctx, img, comp); err != nil {
			if ctx.Err() != nil {
				log.Debug("playback cancelled", "frames", played)
				return nil
			}
			log.Warn("frame dropped", "frame", played, "error", err)
		}
		played++
		sinceRewind++

		wait := delay
		if !deadline.IsZero() {
			if remaining := deadline.Sub(e.now()); remaining < wait {
				wait = remaining
			}
		}
		if !e.sleep(ctx, wait) {
			log.Debug("playback cancelled", "frames", played)
			return nil
		}
	}
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
