package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultVideoFPS = 30
	// Frames are pulled at most this large; the panels are far smaller.
	maxVideoDecodeSize = 256
)

// openVideo opens a streamed video. Builds with the gstreamer tag replace it.
var openVideo = openFFmpeg

type videoInfo struct {
	Width  int
	Height int
	FPS    float64
}

// frameDelay converts a frame rate to a per-frame delay, assuming 30 fps when
// the container does not report one.
func frameDelay(fps float64) time.Duration {
	if fps <= 0 {
		fps = defaultVideoFPS
	}
	return time.Duration(float64(time.Second) / fps)
}

// parseFrameRate understands "30", "30/1" and "30000/1001".
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// decodeSize shrinks w x h to fit maxVideoDecodeSize, keeping the aspect ratio
// and even dimensions.
func decodeSize(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return maxVideoDecodeSize, maxVideoDecodeSize
	}
	if w > maxVideoDecodeSize || h > maxVideoDecodeSize {
		if w >= h {
			h = h * maxVideoDecodeSize / w
			w = maxVideoDecodeSize
		} else {
			w = w * maxVideoDecodeSize / h
			h = maxVideoDecodeSize
		}
	}
	w, h = max(w&^1, 2), max(h&^1, 2)
	return w, h
}

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

func inspectVideo(path string) (videoInfo, error) {
	cmd := exec.Command("ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate",
		"-of", "json", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return videoInfo{}, errors.Wrapf(err, "ffprobe: %s", strings.TrimSpace(stderr.String()))
	}
	var meta ffprobeOutput
	if err := json.Unmarshal(out, &meta); err != nil {
		return videoInfo{}, errors.Wrap(err, "ffprobe output")
	}
	if len(meta.Streams) == 0 {
		return videoInfo{}, errors.New("no video stream")
	}
	s := meta.Streams[0]
	fps := parseFrameRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = parseFrameRate(s.RFrameRate)
	}
	return videoInfo{Width: s.Width, Height: s.Height, FPS: fps}, nil
}

// ffmpegSource streams raw RGBA frames out of an ffmpeg subprocess.
type ffmpegSource struct {
	path   string
	w, h   int
	delay  time.Duration
	cmd    *exec.Cmd
	out    io.ReadCloser
	frame  *image.RGBA
	frames int
}

func openFFmpeg(path string) (frameSource, error) {
	info, err := inspectVideo(path)
	if err != nil {
		return nil, decodeError(path, err)
	}
	w, h := decodeSize(info.Width, info.Height)
	s := &ffmpegSource{
		path:  path,
		w:     w,
		h:     h,
		delay: frameDelay(info.FPS),
		frame: image.NewRGBA(image.Rect(0, 0, w, h)),
	}
	if err := s.start(); err != nil {
		return nil, decodeError(path, err)
	}
	slog.Debug("video opened", "path", path, "width", w, "height", h, "frame_delay", s.delay)
	return s, nil
}

func (s *ffmpegSource) start() error {
	cmd := exec.Command("ffmpeg", "-v", "error", "-nostdin", "-i", s.path,
		"-f", "rawvideo", "-pix_fmt", "rgba", "-s", fmt.Sprintf("%dx%d", s.w, s.h), "-")
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start ffmpeg")
	}
	s.cmd, s.out = cmd, out
	return nil
}

func (s *ffmpegSource) stop() {
	if s.cmd == nil {
		return
	}
	s.out.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	s.cmd, s.out = nil, nil
}

// Next returns the next frame. The image is reused by the following call.
func (s *ffmpegSource) Next() (image.Image, time.Duration, error) {
	if s.out == nil {
		return nil, 0, io.EOF
	}
	_, err := io.ReadFull(s.out, s.frame.Pix)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if s.frames == 0 {
			return nil, 0, errors.Wrap(ErrNoFrames, s.path)
		}
		return nil, 0, io.EOF
	}
	if err != nil {
		return nil, 0, decodeError(s.path, err)
	}
	s.frames++
	return s.frame, s.delay, nil
}

func (s *ffmpegSource) Rewind() error {
	s.stop()
	if err := s.start(); err != nil {
		return decodeError(s.path, err)
	}
	return nil
}

func (s *ffmpegSource) Close() error {
	s.stop()
	return nil
}
