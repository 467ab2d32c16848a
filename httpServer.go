package main

import (
	"bytes"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
)

// webServer is the HTTP command surface.
type webServer struct {
	ctrl      *Controller
	library   *Library
	store     *SettingsStore
	uploadDir string
}

type fileRequest struct {
	Filename string `json:"filename" form:"filename"`
}

type panelRequest struct {
	Panel int `json:"panel" form:"panel"`
}

type drawRequest struct {
	X     int    `json:"x" form:"x"`
	Y     int    `json:"y" form:"y"`
	Color string `json:"color" form:"color"`
	Size  int    `json:"size" form:"size"`
}

type colorRequest struct {
	Color string `json:"color" form:"color"`
}

type slideshowRequest struct {
	Duration *float64 `json:"duration" form:"duration"`
}

type brightnessRequest struct {
	Brightness int `json:"brightness" form:"brightness"`
}

func newWebServer(ctrl *Controller, library *Library, store *SettingsStore, uploadDir string) (*webServer, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &webServer{ctrl: ctrl, library: library, store: store, uploadDir: uploadDir}, nil
}

func (s *webServer) app(maxUploadMB int) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             maxUploadMB * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Get("/", s.statusHandler)
	app.Get("/frame", s.serveFrame)
	app.Post("/upload", s.uploadHandler)
	app.Post("/color", s.colorHandler)
	app.Get("/clear", s.clearHandler)
	app.Post("/clear", s.clearHandler)
	app.Post("/draw", s.drawHandler)
	app.Post("/rotate-panel", s.rotateHandler)
	app.Post("/mirror-panel", s.mirrorHandler)
	app.Post("/next", s.nextHandler)
	app.Post("/brightness", s.brightnessHandler)
	app.Get("/settings", s.getSettings)
	app.Post("/settings", s.postSettings)
	app.Post("/sd-upload", s.sdUploadHandler)
	app.Get("/sd-files", s.sdFilesHandler)
	app.Post("/play-sd", s.playSDHandler)
	app.Post("/delete-sd-file", s.deleteSDHandler)
	app.Post("/play-slideshow", s.slideshowHandler)
	return app
}

// httpServer serves until the app is shut down.
func httpServer(app *fiber.App, listen string) error {
	slog.Info("starting fiber server", "listen", listen)
	return app.Listen(listen)
}

func jsonError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// errorStatus maps the error classes to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrMissingAsset):
		return fiber.StatusNotFound
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrInvalidPanel), errors.Is(err, ErrDecode), errors.Is(err, ErrNoFrames):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrHardwareInit):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	status := errorStatus(err)
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "error", err)
	} else {
		slog.Warn("request rejected", "path", c.Path(), "error", err)
	}
	return jsonError(c, status, err)
}

func (s *webServer) statusHandler(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

// serveFrame returns the last presented frame as PNG.
func (s *webServer) serveFrame(c *fiber.Ctx) error {
	var buf bytes.Buffer
	frame := s.ctrl.Snapshot()
	if frame == nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("No frame available")
	}
	if err := png.Encode(&buf, frame); err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to encode image")
	}
	c.Set("Content-Type", "image/png")
	c.Set("Content-Length", strconv.Itoa(buf.Len()))
	return c.Send(buf.Bytes())
}

// uploadHandler shows a live upload right away.
func (s *webServer) uploadHandler(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, errors.New("No file part"))
	}
	name := sanitizeFilename(fh.Filename)
	if name == "" {
		return jsonError(c, fiber.StatusBadRequest, errors.New("No selected file"))
	}
	if !allowedFile(name) {
		return fail(c, errors.Wrap(ErrUnsupportedFormat, name))
	}
	path := filepath.Join(s.uploadDir, name)
	if err := c.SaveFile(fh, path); err != nil {
		return fail(c, errors.Wrap(err, "save upload"))
	}

	mode := parseComposition(c.FormValue("mode", string(CompositionClone)))
	if err := playAsset(s.ctrl, path, mode); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "filename": name, "mode": mode})
}

func (s *webServer) colorHandler(c *fiber.Ctx) error {
	var req colorRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	col, err := parseHexColor(req.Color)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	if err := s.ctrl.SetColor(col); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "color": formatHexColor(col)})
}

func (s *webServer) clearHandler(c *fiber.Ctx) error {
	if err := s.ctrl.Clear(); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *webServer) drawHandler(c *fiber.Ctx) error {
	req := drawRequest{Color: "#000000", Size: 1}
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	col, err := parseHexColor(req.Color)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	if err := s.ctrl.DrawPixel(req.X, req.Y, col, req.Size); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *webServer) rotateHandler(c *fiber.Ctx) error {
	var req panelRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	rotation, err := s.ctrl.RotatePanel(req.Panel)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "rotation": rotation})
}

func (s *webServer) mirrorHandler(c *fiber.Ctx) error {
	var req panelRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	mirrored, err := s.ctrl.ToggleMirror(req.Panel)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "mirror": mirrored})
}

func (s *webServer) nextHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "skipped": s.ctrl.Next()})
}

func (s *webServer) brightnessHandler(c *fiber.Ctx) error {
	var req brightnessRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	if err := s.ctrl.SetBrightness(req.Brightness); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "brightness": s.ctrl.Settings().Hardware.Brightness})
}

// getSettings returns hardware and client settings as one flat object, with
// the form's aliases for two hardware keys.
func (s *webServer) getSettings(c *fiber.Ctx) error {
	settings := s.ctrl.Settings()
	if s.store != nil {
		if stored, err := s.store.Load(); err == nil {
			settings = stored
		}
	}
	flat, err := flattenSettings(settings)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(flat)
}

func flattenSettings(settings Settings) (map[string]interface{}, error) {
	flat, err := toMap(settings.Hardware)
	if err != nil {
		return nil, err
	}
	client, err := toMap(settings.Client)
	if err != nil {
		return nil, err
	}
	for k, v := range client {
		flat[k] = v
	}
	flat["pwm_lsb"] = settings.Hardware.PWMLSBNanoseconds
	flat["hardware_pulsing"] = settings.Hardware.DisableHardwarePulsing
	return flat, nil
}

// settingsFromFlat rebuilds the settings record from the flat form. Rotations
// and mirrors are not part of the form and are kept from current.
func settingsFromFlat(flat map[string]interface{}, current Settings) Settings {
	def := defaultSettings()
	pulsing := false
	switch v := flat["hardware_pulsing"].(type) {
	case bool:
		pulsing = v
	case string:
		pulsing = v == "on" || v == "true"
	}
	return Settings{
		Hardware: HardwareConfig{
			Rows:                   paramInt(flat, "rows", def.Hardware.Rows),
			Cols:                   paramInt(flat, "cols", def.Hardware.Cols),
			ChainLength:            paramInt(flat, "chain_length", def.Hardware.ChainLength),
			Parallel:               paramInt(flat, "parallel", def.Hardware.Parallel),
			HardwareMapping:        paramString(flat, "hardware_mapping", def.Hardware.HardwareMapping),
			GPIOSlowdown:           paramInt(flat, "gpio_slowdown", def.Hardware.GPIOSlowdown),
			PWMLSBNanoseconds:      paramInt(flat, "pwm_lsb", def.Hardware.PWMLSBNanoseconds),
			Brightness:             paramInt(flat, "brightness", def.Hardware.Brightness),
			DisableHardwarePulsing: pulsing,
			ScanMode:               paramInt(flat, "scan_mode", def.Hardware.ScanMode),
			Multiplexing:           paramInt(flat, "multiplexing", def.Hardware.Multiplexing),
			RowAddressType:         paramInt(flat, "row_address_type", def.Hardware.RowAddressType),
			PWMBits:                paramInt(flat, "pwm_bits", def.Hardware.PWMBits),
			LimitRefreshRateHz:     paramInt(flat, "limit_refresh_rate_hz", def.Hardware.LimitRefreshRateHz),
		},
		Client: ClientConfig{
			Brightness:     paramInt(flat, "brightness", def.Client.Brightness),
			SlideDuration:  paramFloat(flat, "slide_duration", def.Client.SlideDuration),
			PanelRotations: current.Client.PanelRotations,
			PanelMirrors:   current.Client.PanelMirrors,
		},
	}
}

// postSettings persists the new settings and reinitializes the panel. If the
// panel rejects them the controller keeps its previous hardware and the file
// is rewritten to match.
func (s *webServer) postSettings(c *fiber.Ctx) error {
	var flat map[string]interface{}
	if err := c.BodyParser(&flat); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	next := settingsFromFlat(flat, s.ctrl.Settings())

	err := applySettings(s.ctrl, s.store, next)
	if err == nil {
		slog.Info("settings applied")
		return c.JSON(fiber.Map{"success": true})
	}
	if !errors.Is(err, ErrHardwareInit) {
		return fail(c, err)
	}
	slog.Error("settings rejected", "error", err)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Settings rejected: " + err.Error() + ". Reverted to previous settings.",
	})
}

// sdUploadHandler stores an asset in the library without showing it.
func (s *webServer) sdUploadHandler(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, errors.New("No file part"))
	}
	if fh.Filename == "" {
		return jsonError(c, fiber.StatusBadRequest, errors.New("No selected file"))
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, errors.Wrap(err, "open upload"))
	}
	defer f.Close()

	mode := parseComposition(c.FormValue("mode", string(CompositionClone)))
	var duration *float64
	if d, err := strconv.ParseFloat(c.FormValue("duration"), 64); err == nil && d > 0 {
		duration = &d
	}
	name, err := s.library.Save(fh.Filename, f, mode, duration)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "filename": name})
}

func (s *webServer) sdFilesHandler(c *fiber.Ctx) error {
	names, err := s.library.List()
	if err != nil {
		return fail(c, err)
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(names)
}

func (s *webServer) playSDHandler(c *fiber.Ctx) error {
	var req fileRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	if req.Filename == "" {
		return jsonError(c, fiber.StatusBadRequest, errors.New("No filename provided"))
	}
	if err := s.library.Play(s.ctrl, req.Filename); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *webServer) deleteSDHandler(c *fiber.Ctx) error {
	var req fileRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err)
	}
	if req.Filename == "" {
		return jsonError(c, fiber.StatusBadRequest, errors.New("No filename provided"))
	}
	if err := s.library.Delete(req.Filename); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *webServer) slideshowHandler(c *fiber.Ctx) error {
	var req slideshowRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, err)
		}
	}
	paths, err := s.library.Paths()
	if err != nil {
		return fail(c, err)
	}
	if len(paths) == 0 {
		return jsonError(c, fiber.StatusBadRequest, errors.New("No files to play"))
	}
	seconds := s.ctrl.Settings().Client.SlideDuration
	if req.Duration != nil && *req.Duration > 0 {
		seconds = *req.Duration
	}
	s.ctrl.SetSlideshow(paths, time.Duration(seconds*float64(time.Second)))
	return c.JSON(fiber.Map{"success": true, "files": len(paths), "duration": seconds})
}
