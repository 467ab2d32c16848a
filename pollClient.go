package main

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-ping/ping"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
)

const (
	pollRequestTimeout = 5 * time.Second
	pollBackoff        = time.Second
)

// pollSink is the part of the controller the poll client drives.
type pollSink interface {
	ShowImage(img image.Image, comp Composition) error
	ShowAnimation(name string, frames []gifFrame, comp Composition) error
	Bounds() image.Rectangle
}

// pollClient mirrors a remote drawing server onto the panels. The server
// exposes live drawing data for matrix A and B and, separately, the latest
// uploaded image or GIF pair.
type pollClient struct {
	base     *url.URL
	interval time.Duration
	http     *http.Client
	sink     pollSink

	lastDraw   string
	lastUpload string
}

type displayData struct {
	LastUpdated string    `json:"last_updated"`
	MatrixA     [][][]int `json:"matrixA"`
	MatrixB     [][][]int `json:"matrixB"`
}

type latestUpload struct {
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`
	Files     []string `json:"files"`
}

func newPollClient(cfg PollConfig, sink pollSink) (*pollClient, error) {
	server := cfg.Server
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	base, err := url.Parse(server)
	if err != nil {
		return nil, errors.Wrap(err, "poll server")
	}
	interval := cfg.Interval()
	if interval <= 0 {
		interval = time.Second
	}
	return &pollClient{
		base:     base,
		interval: interval,
		http:     &http.Client{Timeout: pollRequestTimeout},
		sink:     sink,
	}, nil
}

// Run polls until ctx is done.
func (p *pollClient) Run(ctx context.Context) {
	slog.Info("poll client started", "server", p.base.String(), "interval", p.interval)
	for ctx.Err() == nil {
		if err := p.poll(ctx); err != nil {
			slog.Warn("poll failed", "server", p.base.Host, "error", err)
			if rtt, perr := pingICMP(p.base.Hostname()); perr != nil {
				slog.Warn("poll server unreachable", "host", p.base.Hostname(), "error", perr)
			} else {
				slog.Info("poll server reachable", "host", p.base.Hostname(), "rtt_ms", rtt)
			}
			sleepCtx(ctx, pollBackoff)
			continue
		}
		sleepCtx(ctx, p.interval)
	}
}

// poll checks both endpoints once. It only fails when neither answers.
func (p *pollClient) poll(ctx context.Context) error {
	drawErr := p.pollDraw(ctx)
	uploadErr := p.pollUpload(ctx)
	if drawErr != nil && uploadErr != nil {
		return errors.Wrapf(drawErr, "upload: %v; draw", uploadErr)
	}
	return nil
}

func (p *pollClient) pollDraw(ctx context.Context) error {
	var data displayData
	if err := p.getJSON(ctx, "/api/display", &data); err != nil {
		return err
	}
	if data.LastUpdated == "" || data.LastUpdated == p.lastDraw {
		return nil
	}
	if len(data.MatrixA) == 0 || len(data.MatrixB) == 0 {
		return nil
	}
	p.lastDraw = data.LastUpdated
	slog.Debug("remote drawing updated", "last_updated", data.LastUpdated)
	return p.sink.ShowImage(p.sideBySide(pixelImage(data.MatrixA), pixelImage(data.MatrixB)), CompositionSplit)
}

func (p *pollClient) pollUpload(ctx context.Context) error {
	var latest latestUpload
	if err := p.getJSON(ctx, "/api/latest", &latest); err != nil {
		return err
	}
	if latest.Timestamp == "" || latest.Timestamp == p.lastUpload || len(latest.Files) < 2 {
		return nil
	}
	if latest.Type == "gif" {
		return p.showGIFPair(ctx, latest)
	}
	a, err := p.getImage(ctx, "/api/processed/"+latest.Files[0])
	if err != nil {
		return err
	}
	b, err := p.getImage(ctx, "/api/processed/"+latest.Files[1])
	if err != nil {
		return err
	}
	p.lastUpload = latest.Timestamp
	slog.Info("remote upload shown", "type", latest.Type, "files", latest.Files)
	return p.sink.ShowImage(p.sideBySide(a, b), CompositionSplit)
}

// showGIFPair loops the uploaded GIFs side by side. Frames pair up by index,
// panel B wrapping when it is shorter, and each pair keeps panel A's delay.
func (p *pollClient) showGIFPair(ctx context.Context, latest latestUpload) error {
	a, err := p.getGIF(ctx, "/api/processed/"+latest.Files[0])
	if err != nil {
		return err
	}
	b, err := p.getGIF(ctx, "/api/processed/"+latest.Files[1])
	if err != nil {
		return err
	}
	frames := make([]gifFrame, len(a.frames))
	for i, fa := range a.frames {
		fb := b.frames[i%len(b.frames)]
		frames[i] = gifFrame{img: p.sideBySide(fa.img, fb.img), delay: fa.delay}
	}
	p.lastUpload = latest.Timestamp
	slog.Info("remote animation shown", "files", latest.Files, "frames", len(frames))
	return p.sink.ShowAnimation("remote:"+latest.Files[0], frames, CompositionSplit)
}

// sideBySide scales a and b to one half of the canvas each.
func (p *pollClient) sideBySide(a, b image.Image) *image.RGBA {
	bounds := p.sink.Bounds()
	canvas := newCanvas(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	half := bounds.Dx() / 2
	for i, src := range []image.Image{a, b} {
		scaled := newCanvas(image.Rect(0, 0, half, bounds.Dy()))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Over, nil)
		if err := copyImageToImageAt(canvas, scaled, i*half, 0); err != nil {
			slog.Warn("paste failed", "error", err)
		}
	}
	return canvas
}

// pixelImage converts rows of [r, g, b] triples.
func pixelImage(rows [][][]int) *image.RGBA {
	h := len(rows)
	w := 0
	for _, row := range rows {
		w = max(w, len(row))
	}
	img := newCanvas(image.Rect(0, 0, max(w, 1), max(h, 1)))
	for y, row := range rows {
		for x, px := range row {
			if len(px) < 3 {
				continue
			}
			img.SetRGBA(x, y, color.RGBA{channel(px[0]), channel(px[1]), channel(px[2]), 255})
		}
	}
	return img
}

func channel(v int) uint8 {
	return uint8(min(max(v, 0), 255))
}

func (p *pollClient) get(ctx context.Context, path string) (*http.Response, error) {
	u := p.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, errors.Errorf("GET %s: %s", path, resp.Status)
	}
	return resp, nil
}

func (p *pollClient) getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := p.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(v), "decode %s", path)
}

// getImage downloads an image; animated images yield their first frame.
func (p *pollClient) getImage(ctx context.Context, path string) (image.Image, error) {
	resp, err := p.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, decodeError(path, err)
	}
	b := img.Bounds()
	out := newCanvas(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Over)
	return out, nil
}

func (p *pollClient) getGIF(ctx context.Context, path string) (*gifSource, error) {
	resp, err := p.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeGIFReader(resp.Body, path)
}

// pingICMP sends one unprivileged echo request and returns the round trip in
// milliseconds.
func pingICMP(host string) (int64, error) {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return 0, err
	}
	pinger.SetPrivileged(false)
	pinger.Count = 1
	pinger.Timeout = 2 * time.Second

	if err := pinger.Run(); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, errors.Errorf("no reply from %s", host)
	}
	return int64(stats.AvgRtt / time.Millisecond), nil
}
