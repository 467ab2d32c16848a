package main

import (
	"bytes"
	"image"
	"strings"
	"testing"
)

func newTestMQTTControl(t *testing.T) (*mqttControl, *panelRecorder) {
	t.Helper()
	ctrl, rec := newRecordedController(t, testSettings())
	return newMQTTControl(MQTTConfig{}, nil, ctrl, newTestLibrary(t)), rec
}

func TestHandleCommandStatus(t *testing.T) {
	m, _ := newTestMQTTControl(t)
	resp := m.handleCommand(Command{ID: "42", Command: "get_status"})
	if resp.Status != "success" || resp.ID != "42" || resp.CommandAck != "get_status" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Data["mode"] != "color" || resp.Data["panel_count"] != float64(2) {
		t.Errorf("status data = %v", resp.Data)
	}
}

func TestHandleCommandColorAndClear(t *testing.T) {
	m, rec := newTestMQTTControl(t)

	resp := m.handleCommand(Command{Command: "set_color", Params: map[string]interface{}{"color": "#00ff00"}})
	if resp.Status != "success" || resp.Data["color"] != "#00ff00" {
		t.Fatalf("set_color = %+v", resp)
	}
	assertFill(t, rec.last().Snapshot(), green)

	resp = m.handleCommand(Command{Command: "set_color", Params: map[string]interface{}{"color": "nope"}})
	if resp.Status != "error" || resp.Error == "" {
		t.Errorf("bad color = %+v", resp)
	}

	if resp := m.handleCommand(Command{Command: "clear"}); resp.Status != "success" {
		t.Fatalf("clear = %+v", resp)
	}
	assertFill(t, rec.last().Snapshot(), black)
}

func TestHandleCommandAssets(t *testing.T) {
	m, rec := newTestMQTTControl(t)
	data := pngBytes(t, solid(image.Rect(0, 0, 64, 64), red))
	m.library.Save("a.png", bytes.NewReader(data), CompositionMatrixA, nil)
	m.library.Save("b.gif", strings.NewReader("GIF89a"), CompositionClone, nil)

	tests := []struct {
		cmd, file string
		wantOK    bool
	}{
		{"set_image", "a.png", true},
		{"set_image", "b.gif", false},
		{"set_video", "a.png", false},
		{"set_video", "b.gif", true},
		{"play_file", "missing.png", false},
		{"play_file", "", false},
	}
	for _, tt := range tests {
		resp := m.handleCommand(Command{Command: tt.cmd, Params: map[string]interface{}{"filename": tt.file}})
		if (resp.Status == "success") != tt.wantOK {
			t.Errorf("%s(%q) = %+v; want ok=%v", tt.cmd, tt.file, resp, tt.wantOK)
		}
	}

	resp := m.handleCommand(Command{Command: "play_file", Params: map[string]interface{}{"filename": "a.png"}})
	if resp.Data["mode"] != "matrix_a" {
		t.Errorf("sidecar mode not used: %+v", resp)
	}
	snap := rec.last().Snapshot()
	if snap.RGBAAt(10, 10) != red || snap.RGBAAt(100, 10) != black {
		t.Error("a.png should be on matrix A only")
	}

	resp = m.handleCommand(Command{Command: "play_file", Params: map[string]interface{}{"filename": "a.png", "mode": "clone"}})
	if resp.Data["mode"] != "clone" || rec.last().Snapshot().RGBAAt(100, 10) != red {
		t.Errorf("mode override ignored: %+v", resp)
	}
}

func TestHandleCommandSlideshow(t *testing.T) {
	m, _ := newTestMQTTControl(t)
	if resp := m.handleCommand(Command{Command: "play_slideshow"}); resp.Status != "error" {
		t.Errorf("empty library should fail: %+v", resp)
	}

	m.library.Save("a.png", bytes.NewReader(pngBytes(t, solid(image.Rect(0, 0, 4, 4), red))), CompositionClone, nil)
	resp := m.handleCommand(Command{Command: "play_slideshow", Params: map[string]interface{}{"duration": 2.0}})
	if resp.Status != "success" || resp.Data["files"] != 1 || resp.Data["duration"] != 2.0 {
		t.Fatalf("play_slideshow = %+v", resp)
	}
	if m.ctrl.Mode() != ModeSlideshow {
		t.Errorf("mode = %v", m.ctrl.Mode())
	}
	if resp := m.handleCommand(Command{Command: "next"}); resp.Data["skipped"] != true {
		t.Errorf("next = %+v", resp)
	}
}

func TestHandleCommandDrawAndPanels(t *testing.T) {
	m, rec := newTestMQTTControl(t)

	resp := m.handleCommand(Command{Command: "draw", Params: map[string]interface{}{"x": 3.0, "y": "4", "color": "#0000ff"}})
	if resp.Status != "success" {
		t.Fatalf("draw = %+v", resp)
	}
	if got := rec.last().Snapshot().RGBAAt(3, 4); got != blue {
		t.Errorf("drawn pixel = %v", got)
	}

	resp = m.handleCommand(Command{Command: "rotate_panel", Params: map[string]interface{}{"panel": 0.0}})
	if resp.Status != "success" || resp.Data["rotation"] != 90 {
		t.Errorf("rotate_panel = %+v", resp)
	}
	resp = m.handleCommand(Command{Command: "mirror_panel", Params: map[string]interface{}{"panel": 1.0}})
	if resp.Status != "success" || resp.Data["mirror"] != true {
		t.Errorf("mirror_panel = %+v", resp)
	}
	if resp := m.handleCommand(Command{Command: "rotate_panel", Params: map[string]interface{}{"panel": 7.0}}); resp.Status != "error" {
		t.Errorf("invalid panel = %+v", resp)
	}
}

func TestHandleCommandUnknown(t *testing.T) {
	m, _ := newTestMQTTControl(t)
	resp := m.handleCommand(Command{ID: "x", Command: "reboot"})
	if resp.Status != "error" || !strings.Contains(resp.Error, "unknown command") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestParams(t *testing.T) {
	p := map[string]interface{}{"f": 1.5, "s": "2.5", "i": "7", "bad": "x", "str": "hello"}
	if got := paramFloat(p, "f", 0); got != 1.5 {
		t.Errorf("paramFloat(f) = %v", got)
	}
	if got := paramFloat(p, "s", 0); got != 2.5 {
		t.Errorf("paramFloat(s) = %v", got)
	}
	if got := paramFloat(p, "bad", 9); got != 9 {
		t.Errorf("paramFloat(bad) = %v, want default", got)
	}
	if got := paramInt(p, "i", 0); got != 7 {
		t.Errorf("paramInt(i) = %v", got)
	}
	if got := paramInt(p, "missing", 3); got != 3 {
		t.Errorf("paramInt(missing) = %v", got)
	}
	if got := paramString(p, "str", ""); got != "hello" {
		t.Errorf("paramString(str) = %q", got)
	}
	if got := paramString(p, "f", "def"); got != "def" {
		t.Errorf("paramString(f) = %q, want default for non-strings", got)
	}
}

func TestToMap(t *testing.T) {
	m, err := toMap(ClientConfig{Brightness: 40, SlideDuration: 2})
	if err != nil {
		t.Fatal(err)
	}
	if m["brightness"] != float64(40) || m["slide_duration"] != float64(2) {
		t.Errorf("toMap = %v", m)
	}
}
