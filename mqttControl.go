package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Command is one MQTT control message.
type Command struct {
	ID      string                 `json:"id,omitempty"`
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response answers a Command on the response topic.
type Response struct {
	ID         string                 `json:"id"`
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// mqttControl drives the controller from an MQTT command topic.
type mqttControl struct {
	cfg      MQTTConfig
	client   mqtt.Client
	ctrl     *Controller
	library  *Library
	commands chan Command
}

func newMQTTControl(cfg MQTTConfig, client mqtt.Client, ctrl *Controller, library *Library) *mqttControl {
	return &mqttControl{
		cfg:      cfg,
		client:   client,
		ctrl:     ctrl,
		library:  library,
		commands: make(chan Command, 10),
	}
}

// connectMQTT dials the broker with auto reconnect.
func connectMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connection established", "broker", broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", broker)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "mqtt connect")
	}
	return client, nil
}

// Start subscribes to the command topic and processes commands until ctx ends.
func (m *mqttControl) Start(ctx context.Context) error {
	slog.Info("subscribing to command topic", "topic", m.cfg.CommandTopic, "qos", m.cfg.QoS)
	token := m.client.Subscribe(m.cfg.CommandTopic, m.cfg.QoS, m.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("command subscription timeout")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "command subscription failed")
	}
	go m.processCommands(ctx)
	return nil
}

func (m *mqttControl) Stop() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Unsubscribe(m.cfg.CommandTopic).WaitTimeout(2 * time.Second)
		m.client.Disconnect(250)
	}
}

func (m *mqttControl) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse command", "error", err)
		m.sendResponse(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	slog.Info("command received", "command", cmd.Command, "id", cmd.ID)

	select {
	case m.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command, "id", cmd.ID)
	}
}

func (m *mqttControl) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.commands:
			m.sendResponse(m.handleCommand(cmd))
		}
	}
}

// handleCommand executes cmd against the controller.
func (m *mqttControl) handleCommand(cmd Command) Response {
	resp := Response{ID: cmd.ID, CommandAck: cmd.Command, Status: "success"}
	fail := func(err error) Response {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	switch cmd.Command {
	case "get_status":
		data, err := toMap(m.ctrl.Status())
		if err != nil {
			return fail(err)
		}
		resp.Data = data

	case "set_color":
		col, err := parseHexColor(paramString(cmd.Params, "color", ""))
		if err != nil {
			return fail(err)
		}
		if err := m.ctrl.SetColor(col); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"color": formatHexColor(col)}

	case "set_image", "set_video", "play_file":
		name := paramString(cmd.Params, "filename", "")
		if name == "" {
			return fail(errors.New("missing 'filename' parameter"))
		}
		path, err := m.library.Path(name)
		if err != nil {
			return fail(err)
		}
		comp, _ := resolveSlide(path, 0)
		if mode := paramString(cmd.Params, "mode", ""); mode != "" {
			comp = parseComposition(mode)
		}
		switch {
		case cmd.Command == "set_image" && classifyAsset(path) != kindStill:
			return fail(errors.Wrapf(ErrUnsupportedFormat, "%s is not a still image", name))
		case cmd.Command == "set_video" && classifyAsset(path) == kindStill:
			return fail(errors.Wrapf(ErrUnsupportedFormat, "%s is not animated", name))
		}
		if err := playAsset(m.ctrl, path, comp); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"filename": name, "mode": string(comp)}

	case "play_slideshow":
		paths, err := m.library.Paths()
		if err != nil {
			return fail(err)
		}
		if len(paths) == 0 {
			return fail(errors.New("no files to play"))
		}
		seconds := paramFloat(cmd.Params, "duration", m.ctrl.Settings().Client.SlideDuration)
		m.ctrl.SetSlideshow(paths, time.Duration(seconds*float64(time.Second)))
		resp.Data = map[string]interface{}{"files": len(paths), "duration": seconds}

	case "draw":
		col, err := parseHexColor(paramString(cmd.Params, "color", "#000000"))
		if err != nil {
			return fail(err)
		}
		x, y := paramInt(cmd.Params, "x", 0), paramInt(cmd.Params, "y", 0)
		if err := m.ctrl.DrawPixel(x, y, col, paramInt(cmd.Params, "size", 1)); err != nil {
			return fail(err)
		}

	case "rotate_panel":
		panel := paramInt(cmd.Params, "panel", 0)
		rotation, err := m.ctrl.RotatePanel(panel)
		if err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"panel": panel, "rotation": rotation}

	case "mirror_panel":
		panel := paramInt(cmd.Params, "panel", 0)
		mirrored, err := m.ctrl.ToggleMirror(panel)
		if err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{"panel": panel, "mirror": mirrored}

	case "next":
		resp.Data = map[string]interface{}{"skipped": m.ctrl.Next()}

	case "clear":
		if err := m.ctrl.Clear(); err != nil {
			return fail(err)
		}

	default:
		return fail(errors.Errorf("unknown command: %s", cmd.Command))
	}
	return resp
}

func (m *mqttControl) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}
	token := m.client.Publish(m.cfg.ResponseTopic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}
	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status, "id", resp.ID)
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	err = json.Unmarshal(data, &out)
	return out, err
}

func paramString(p map[string]interface{}, key, def string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return def
}

func paramFloat(p map[string]interface{}, key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			return f
		}
	}
	return def
}

func paramInt(p map[string]interface{}, key string, def int) int {
	if _, ok := p[key]; !ok {
		return def
	}
	return int(paramFloat(p, key, float64(def)))
}
