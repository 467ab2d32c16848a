package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

const (
	colorRefreshInterval = 100 * time.Millisecond
	tickBackoff          = time.Second
)

// RenderLoop keeps the panels showing the controller's current command.
type RenderLoop struct {
	ctrl    *Controller
	refresh time.Duration
	backoff time.Duration
}

func newRenderLoop(ctrl *Controller) *RenderLoop {
	return &RenderLoop{ctrl: ctrl, refresh: colorRefreshInterval, backoff: tickBackoff}
}

// Run ticks until ctx is done. A failed tick is logged and followed by a short
// pause so one bad asset cannot spin the loop.
func (l *RenderLoop) Run(ctx context.Context) {
	slog.Info("render loop started")
	defer slog.Info("render loop stopped")
	for ctx.Err() == nil {
		st := l.ctrl.current()
		if err := l.tick(ctx, st); err != nil {
			slog.Error("render tick failed", "mode", st.cmd.mode(), "gen", st.gen, "error", err)
			sleepCtx(ctx, l.backoff)
		}
	}
}

// tick runs one command until it is superseded or, for a slideshow, until one
// slide is done.
func (l *RenderLoop) tick(ctx context.Context, st *displayState) error {
	tickCtx, cancel := context.WithCancel(st.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	switch cmd := st.cmd.(type) {
	case colorCommand:
		if err := l.ctrl.fill(tickCtx, cmd.color); err != nil && tickCtx.Err() == nil {
			return err
		}
		sleepCtx(tickCtx, l.refresh)
		return nil
	case imageCommand, drawCommand:
		// already on the panel
		<-tickCtx.Done()
		return nil
	case videoCommand:
		opts := PlayOptions{Loop: true}
		var err error
		if cmd.frames != nil {
			err = l.ctrl.engine.PlayFrames(tickCtx, cmd.path, &gifSource{frames: cmd.frames}, cmd.composition, opts)
		} else {
			err = l.ctrl.engine.Play(tickCtx, cmd.path, cmd.composition, opts)
		}
		if err != nil && isAssetError(err) {
			l.ctrl.fallback(st.gen)
		}
		return err
	case slideshowCommand:
		return cmd.show.Advance(tickCtx, l.ctrl, st.gen)
	default:
		return errors.Errorf("unknown command %T", cmd)
	}
}
