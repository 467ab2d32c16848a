package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// displayState is one committed command. It is never modified after it is
// stored; ctx is cancelled when the next command is committed, which is how
// playback and slideshow sessions learn they are stale.
type displayState struct {
	gen    uint64
	cmd    command
	ctx    context.Context
	cancel context.CancelFunc
}

// ControllerOptions configures NewController.
type ControllerOptions struct {
	Open         PanelOpener    // defaults to the in-memory panel
	Store        *SettingsStore // rotations and mirrors are persisted here when set
	BulkTransfer bool           // use the panel's whole-frame path when it has one
}

// Controller owns what the panels show. Commands are committed as immutable
// displayState values; the render loop reads the latest one.
//
// Lock order is stateMu before bufMu.
type Controller struct {
	base context.Context

	stateMu    sync.Mutex // serializes commits
	state      atomic.Pointer[displayState]
	lastStatic command // fallback for failed playback, guarded by stateMu

	bufMu      sync.Mutex // everything below touches the frame buffer
	open       PanelOpener
	panel      Panel
	buf        Buffer
	settings   Settings
	geom       Geometry
	transforms []PanelTransform
	still      *image.RGBA // laid-out canvas of the current Image command
	drawCanvas *image.RGBA
	preview    *image.RGBA
	bulk       bool

	store  *SettingsStore
	engine *PlaybackEngine
}

// NewController opens the panel for s and starts out showing black.
func NewController(ctx context.Context, s Settings, opts ControllerOptions) (*Controller, error) {
	if opts.Open == nil {
		opts.Open = openMemPanel
	}
	c := &Controller{
		base:  ctx,
		open:  opts.Open,
		bulk:  opts.BulkTransfer,
		store: opts.Store,
	}
	panel, err := c.openPanel(s.Hardware)
	if err != nil {
		return nil, hardwareInitError(err)
	}
	c.engine = newPlaybackEngine(c)
	c.installPanelLocked(panel, s)

	black := colorCommand{color: color.RGBA{0, 0, 0, 255}}
	stateCtx, cancel := context.WithCancel(ctx)
	c.state.Store(&displayState{cmd: black, ctx: stateCtx, cancel: cancel})
	c.lastStatic = black

	g := c.geom
	slog.Info("controller ready",
		"width", g.Width(), "height", g.Height(),
		"panels", g.PanelCount, "bulk_transfer", c.bulk)
	return c, nil
}

// openPanel opens a panel for hw and checks that the driver agrees with the
// configured geometry.
func (c *Controller) openPanel(hw HardwareConfig) (Panel, error) {
	panel, err := c.open(hw)
	if err != nil {
		return nil, err
	}
	g := hw.Geometry()
	if w, h := panel.Size(); w != g.Width() || h != g.Height() {
		panel.Close()
		return nil, errors.Wrapf(ErrHardwareInit, "panel is %dx%d, configuration needs %dx%d", w, h, g.Width(), g.Height())
	}
	return panel, nil
}

func (c *Controller) current() *displayState {
	return c.state.Load()
}

// Mode is the active display mode.
func (c *Controller) Mode() DisplayMode {
	return c.current().cmd.mode()
}

func (c *Controller) commit(cmd command) uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.commitLocked(cmd).gen
}

func (c *Controller) commitLocked(cmd command) *displayState {
	prev := c.state.Load()
	ctx, cancel := context.WithCancel(c.base)
	next := &displayState{gen: prev.gen + 1, cmd: cmd, ctx: ctx, cancel: cancel}
	c.state.Store(next)
	prev.cancel()
	switch cmd.(type) {
	case colorCommand, imageCommand:
		c.lastStatic = cmd
	}
	slog.Debug("display mode", "mode", cmd.mode(), "gen", next.gen)
	return next
}

// commitIf commits cmd only while gen is still the live generation.
func (c *Controller) commitIf(gen uint64, cmd command) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state.Load().gen != gen {
		return false
	}
	c.commitLocked(cmd)
	return true
}

// fallback returns to the last static mode after gen's playback failed.
func (c *Controller) fallback(gen uint64) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	st := c.state.Load()
	if st.gen != gen {
		return false
	}
	next := c.commitLocked(c.lastStatic)
	slog.Warn("playback failed, restoring previous display", "mode", next.cmd.mode(), "gen", next.gen)
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if err := c.repaintLocked(next); err != nil {
		slog.Error("repaint failed", "error", err)
	}
	return true
}

// SetColor fills every panel with col.
func (c *Controller) SetColor(col color.RGBA) error {
	col.A = 255
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	st := c.commitLocked(colorCommand{color: col})
	return c.fill(st.ctx, col)
}

// Clear shows black.
func (c *Controller) Clear() error {
	return c.SetColor(color.RGBA{0, 0, 0, 255})
}

// SetImage shows a still asset. On a decode failure the current display is
// kept and the error returned.
func (c *Controller) SetImage(path string, comp Composition) error {
	img, err := loadStill(path)
	if err != nil {
		return err
	}
	return c.showStill(path, img, comp)
}

// ShowImage shows an in-memory image, as SetImage does for files.
func (c *Controller) ShowImage(img image.Image, comp Composition) error {
	if img == nil {
		return errors.New("nil image")
	}
	return c.showStill("", img, comp)
}

func (c *Controller) showStill(path string, img image.Image, comp Composition) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.commitLocked(imageCommand{path: path, src: img, composition: comp})

	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	c.still = layoutStill(img, comp, c.geom)
	return c.presentLocked(c.still)
}

// SetVideo plays a GIF or video in a loop until the next command.
func (c *Controller) SetVideo(path string, comp Composition) error {
	switch classifyAsset(path) {
	case kindAnimated, kindVideo:
	default:
		return errors.Wrap(ErrUnsupportedFormat, path)
	}
	c.commit(videoCommand{path: path, composition: comp})
	return nil
}

// ShowAnimation loops frames that are already decoded until the next command.
// name labels the session in logs and status.
func (c *Controller) ShowAnimation(name string, frames []gifFrame, comp Composition) error {
	if len(frames) == 0 {
		return errors.Wrap(ErrNoFrames, name)
	}
	c.commit(videoCommand{path: name, composition: comp, frames: frames})
	return nil
}

// SetSlideshow cycles through files, showing each for duration unless its
// sidecar says otherwise.
func (c *Controller) SetSlideshow(files []string, duration time.Duration) *Slideshow {
	show := newSlideshow(files, duration)
	c.commit(slideshowCommand{show: show})
	return show
}

// DrawPixel paints a size x size block with its top-left corner at (x, y).
// The first draw after another mode starts from a black canvas. Drawing works
// in raw canvas coordinates, panel transforms do not apply.
func (c *Controller) DrawPixel(x, y int, col color.RGBA, size int) error {
	if size < 1 {
		size = 1
	}
	col.A = 255

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	if _, ok := c.state.Load().cmd.(drawCommand); !ok {
		c.commitLocked(drawCommand{})
		clearFrame(c.drawCanvas, c.geom.Width(), c.geom.Height())
	}
	drawRect(c.drawCanvas, x, y, size, size, col)
	return c.writeLocked(c.drawCanvas)
}

// RotatePanel turns panel i a further 90 degrees clockwise and returns the new
// rotation.
func (c *Controller) RotatePanel(i int) (int, error) {
	c.bufMu.Lock()
	if i < 0 || i >= len(c.transforms) {
		c.bufMu.Unlock()
		return 0, errors.Wrapf(ErrInvalidPanel, "panel %d", i)
	}
	c.transforms[i].Rotation = normalizeRotation(c.transforms[i].Rotation + 90)
	rotation := c.transforms[i].Rotation
	rotations := c.rotationsLocked()
	c.settings.Client.PanelRotations = rotations
	c.repaintStillLocked()
	c.bufMu.Unlock()

	slog.Info("panel rotated", "panel", i, "rotation", rotation)
	c.persist(func(cc *ClientConfig) { cc.PanelRotations = rotations })
	return rotation, nil
}

// ToggleMirror flips panel i horizontally and returns the new state.
func (c *Controller) ToggleMirror(i int) (bool, error) {
	c.bufMu.Lock()
	if i < 0 || i >= len(c.transforms) {
		c.bufMu.Unlock()
		return false, errors.Wrapf(ErrInvalidPanel, "panel %d", i)
	}
	c.transforms[i].Mirrored = !c.transforms[i].Mirrored
	mirrored := c.transforms[i].Mirrored
	mirrors := c.mirrorsLocked()
	c.settings.Client.PanelMirrors = mirrors
	c.repaintStillLocked()
	c.bufMu.Unlock()

	slog.Info("panel mirrored", "panel", i, "mirrored", mirrored)
	c.persist(func(cc *ClientConfig) { cc.PanelMirrors = mirrors })
	return mirrored, nil
}

func (c *Controller) persist(fn func(*ClientConfig)) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateClient(fn); err != nil {
		slog.Error("persist client settings failed", "error", err)
	}
}

// Reinit applies s. Panel transforms always follow s.Client; the panel itself
// is only rebuilt when the hardware section differs from the active one. If
// the new panel cannot be opened the previous configuration is reopened and an
// ErrHardwareInit error returned.
func (c *Controller) Reinit(s Settings) error {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	if s.Hardware == c.settings.Hardware && c.panel != nil {
		c.settings.Client = s.Client
		c.setTransformsLocked(s.Client)
		c.repaintStillLocked()
		slog.Debug("reinit skipped, hardware unchanged")
		return nil
	}

	previous := c.settings
	if c.panel != nil {
		if err := c.panel.Clear(); err != nil {
			slog.Warn("panel clear failed", "error", err)
		}
		if err := c.panel.Close(); err != nil {
			slog.Warn("panel close failed", "error", err)
		}
		c.panel, c.buf = nil, nil
	}

	panel, err := c.openPanel(s.Hardware)
	if err != nil {
		slog.Error("panel init failed, restoring previous hardware", "error", err)
		restored, rerr := c.openPanel(previous.Hardware)
		if rerr != nil {
			slog.Error("restoring previous hardware failed", "error", rerr)
			return hardwareInitError(err)
		}
		previous.Client = s.Client
		c.installPanelLocked(restored, previous)
		c.repaintLocked(c.current())
		return hardwareInitError(err)
	}

	c.installPanelLocked(panel, s)
	g := c.geom
	slog.Info("panel reinitialized", "width", g.Width(), "height", g.Height(), "panels", g.PanelCount)
	return c.repaintLocked(c.current())
}

// SetBrightness persists a new brightness and reinitializes the panel with it.
func (c *Controller) SetBrightness(pct int) error {
	pct = min(max(pct, 0), 100)
	s := c.Settings()
	s.Hardware.Brightness = pct
	s.Client.Brightness = pct
	return applySettings(c, c.store, s)
}

// applySettings persists s and reinitializes the panel with it. When the panel
// rejects s, the settings the controller kept running with are written back so
// the next start does not pick up the rejected ones.
func applySettings(c *Controller, store *SettingsStore, s Settings) error {
	if store != nil {
		if err := store.Save(s); err != nil {
			return err
		}
	}
	err := c.Reinit(s)
	if err == nil || store == nil {
		return err
	}
	if rerr := store.Revert(c.Settings()); rerr != nil {
		slog.Error("reverting settings file failed", "error", rerr)
	}
	return err
}

// Settings returns the active settings.
func (c *Controller) Settings() Settings {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	s := c.settings
	s.Client.PanelRotations = c.rotationsLocked()
	s.Client.PanelMirrors = c.mirrorsLocked()
	return s
}

// Next skips to the next slide. It reports whether a slideshow was running.
func (c *Controller) Next() bool {
	cmd, ok := c.current().cmd.(slideshowCommand)
	if !ok {
		return false
	}
	cmd.show.Next()
	return true
}

// Status is the externally visible controller state.
type Status struct {
	Mode        string `json:"mode"`
	Generation  uint64 `json:"generation"`
	Asset       string `json:"asset,omitempty"`
	Composition string `json:"composition,omitempty"`
	Color       string `json:"color,omitempty"`
	SlideIndex  int    `json:"slide_index,omitempty"`
	SlideCount  int    `json:"slide_count,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	PanelWidth  int    `json:"panel_width"`
	PanelHeight int    `json:"panel_height"`
	PanelCount  int    `json:"panel_count"`
	Rotations   []int  `json:"panel_rotations"`
	Mirrors     []bool `json:"panel_mirrors"`
}

func (c *Controller) Status() Status {
	st := c.current()
	s := Status{Mode: st.cmd.mode().String(), Generation: st.gen}
	switch cmd := st.cmd.(type) {
	case colorCommand:
		s.Color = formatHexColor(cmd.color)
	case imageCommand:
		s.Asset = cmd.path
		s.Composition = string(cmd.composition)
	case videoCommand:
		s.Asset = cmd.path
		s.Composition = string(cmd.composition)
	case slideshowCommand:
		s.SlideIndex = cmd.show.Index()
		s.SlideCount = cmd.show.Len()
	}

	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	s.Width, s.Height = c.geom.Width(), c.geom.Height()
	s.PanelWidth, s.PanelHeight, s.PanelCount = c.geom.PanelWidth, c.geom.PanelHeight, c.geom.PanelCount
	s.Rotations = c.rotationsLocked()
	s.Mirrors = c.mirrorsLocked()
	return s
}

// Snapshot copies the last frame sent to the panel.
func (c *Controller) Snapshot() *image.RGBA {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return cloneRGBA(c.preview)
}

// Close blanks and releases the panel.
func (c *Controller) Close() error {
	c.current().cancel()
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if c.panel == nil {
		return nil
	}
	c.panel.Clear()
	err := c.panel.Close()
	c.panel, c.buf = nil, nil
	return err
}

// fill presents a flat color unless ctx is already done.
func (c *Controller) fill(ctx context.Context, col color.RGBA) error {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.panel == nil {
		return errors.Wrap(ErrHardwareInit, "no panel")
	}
	c.buf.Fill(col.R, col.G, col.B)
	c.buf = c.panel.Present(c.buf)
	draw.Draw(c.preview, c.preview.Bounds(), &image.Uniform{col}, image.Point{}, draw.Src)
	return nil
}

func (c *Controller) presentFrame(ctx context.Context, img image.Image, comp Composition) error {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.presentLocked(layoutFrame(img, comp, c.geom))
}

func (c *Controller) presentStill(ctx context.Context, img image.Image, comp Composition) error {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.presentLocked(layoutStill(img, comp, c.geom))
}

// presentLocked composes canvas with the panel transforms and presents it. A
// composition failure leaves the buffer untouched.
func (c *Controller) presentLocked(canvas *image.RGBA) error {
	out, err := composeFrame(canvas, c.transforms, c.geom)
	if err != nil {
		return err
	}
	return c.writeLocked(out)
}

func (c *Controller) writeLocked(out *image.RGBA) error {
	if c.panel == nil {
		return errors.Wrap(ErrHardwareInit, "no panel")
	}
	writeCanvas(c.buf, out, c.bulk)
	c.buf = c.panel.Present(c.buf)
	draw.Draw(c.preview, c.preview.Bounds(), out, out.Bounds().Min, draw.Src)
	return nil
}

// repaintStillLocked redraws a static image after a transform change. Other
// modes pick the change up on their next frame.
func (c *Controller) repaintStillLocked() {
	if _, ok := c.current().cmd.(imageCommand); !ok || c.still == nil {
		return
	}
	if err := c.presentLocked(c.still); err != nil {
		slog.Error("repaint failed", "error", err)
	}
}

// repaintLocked restores the static modes onto a fresh panel.
func (c *Controller) repaintLocked(st *displayState) error {
	if c.panel == nil {
		return errors.Wrap(ErrHardwareInit, "no panel")
	}
	switch cmd := st.cmd.(type) {
	case colorCommand:
		c.buf.Fill(cmd.color.R, cmd.color.G, cmd.color.B)
		c.buf = c.panel.Present(c.buf)
		draw.Draw(c.preview, c.preview.Bounds(), &image.Uniform{cmd.color}, image.Point{}, draw.Src)
	case imageCommand:
		if c.still == nil || c.still.Bounds() != c.geom.Bounds() {
			c.still = layoutStill(cmd.src, cmd.composition, c.geom)
		}
		return c.presentLocked(c.still)
	case drawCommand:
		return c.writeLocked(c.drawCanvas)
	}
	return nil
}

// installPanelLocked adopts panel and sizes every canvas for s.Hardware.
func (c *Controller) installPanelLocked(panel Panel, s Settings) {
	g := s.Hardware.Geometry()
	geometryChanged := g != c.geom

	c.panel = panel
	c.buf = panel.CreateBuffer()
	c.settings = s
	c.geom = g
	c.setTransformsLocked(s.Client)

	if geometryChanged || c.drawCanvas == nil {
		drawCanvas := newCanvas(g.Bounds())
		if c.drawCanvas != nil {
			draw.Draw(drawCanvas, drawCanvas.Bounds(), c.drawCanvas, image.Point{}, draw.Src)
		}
		c.drawCanvas = drawCanvas
		c.preview = newCanvas(g.Bounds())
		c.still = nil
	}
}

// setTransformsLocked takes rotations and mirrors from cc, one per panel.
func (c *Controller) setTransformsLocked(cc ClientConfig) {
	ts := make([]PanelTransform, c.geom.PanelCount)
	for i := range ts {
		if i < len(cc.PanelRotations) {
			ts[i].Rotation = normalizeRotation(cc.PanelRotations[i])
		}
		if i < len(cc.PanelMirrors) {
			ts[i].Mirrored = cc.PanelMirrors[i]
		}
	}
	c.transforms = ts
}

func (c *Controller) rotationsLocked() []int {
	out := make([]int, len(c.transforms))
	for i, t := range c.transforms {
		out[i] = t.Rotation
	}
	return out
}

func (c *Controller) mirrorsLocked() []bool {
	out := make([]bool, len(c.transforms))
	for i, t := range c.transforms {
		out[i] = t.Mirrored
	}
	return out
}

// ColorModel, Bounds, Draw, String and Halt make the controller a periph
// display.Drawer. Draw shows the drawn area as a split still.
func (c *Controller) ColorModel() color.Model { return color.RGBAModel }

func (c *Controller) Bounds() image.Rectangle {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return c.geom.Bounds()
}

func (c *Controller) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	canvas := newCanvas(c.Bounds())
	draw.Draw(canvas, r, src, sp, draw.Over)
	return c.ShowImage(canvas, CompositionSplit)
}

func (c *Controller) String() string {
	g := c.Bounds()
	return fmt.Sprintf("LEDChain{%dx%d}", g.Dx(), g.Dy())
}

func (c *Controller) Halt() error {
	return c.Clear()
}
