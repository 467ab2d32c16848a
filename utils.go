package main

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// libraryExtensions are the asset types accepted for upload.
var libraryExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".mp4":  true,
	".webp": true,
	".bmp":  true,
	".svg":  true,
}

func clearFrame(frame *image.RGBA, width int, height int) {
	for i := 0; i < width*height*4 && i+3 < len(frame.Pix); i += 4 {
		frame.Pix[i] = 0     // R
		frame.Pix[i+1] = 0   // G
		frame.Pix[i+2] = 0   // B
		frame.Pix[i+3] = 255 // A
	}
}

// parseHexColor accepts "#rrggbb", "rrggbb" and the short "#rgb" form.
func parseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, errors.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, errors.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

func formatHexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// sanitizeFilename reduces an uploaded name to a safe base name: no directories,
// only letters, digits, dot, dash and underscore.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), "._")
	if out == "" || out == "." {
		return ""
	}
	return out
}

func allowedFile(name string) bool {
	return libraryExtensions[strings.ToLower(filepath.Ext(name))]
}
