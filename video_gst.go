//go:build gstreamer

package main

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

func init() {
	openVideo = openGstreamer
}

// gstSource decodes a video file through decodebin into an appsink.
type gstSource struct {
	path     string
	pipeline *gst.Pipeline
	sink     *app.Sink
	delay    time.Duration
	frames   int
}

func openGstreamer(path string) (frameSource, error) {
	gst.Init(nil)

	pipelineStr := fmt.Sprintf(
		"filesrc location=%q ! decodebin ! videoconvert ! videoscale ! "+
			"video/x-raw,format=RGBA,width=%d,height=%d ! "+
			"appsink name=sink sync=false max-buffers=4",
		path, maxVideoDecodeSize, maxVideoDecodeSize,
	)
	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, decodeError(path, err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, decodeError(path, err)
	}
	s := &gstSource{
		path:     path,
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		delay:    frameDelay(0),
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, decodeError(path, err)
	}
	return s, nil
}

func (s *gstSource) Next() (image.Image, time.Duration, error) {
	sample := s.sink.PullSample()
	if sample == nil {
		if s.frames == 0 {
			return nil, 0, errors.Wrap(ErrNoFrames, s.path)
		}
		return nil, 0, io.EOF
	}
	if s.frames == 0 {
		s.readFrameRate(sample)
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, 0, decodeError(s.path, errors.New("sample without buffer"))
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	img := image.NewRGBA(image.Rect(0, 0, maxVideoDecodeSize, maxVideoDecodeSize))
	if len(data) < len(img.Pix) {
		return nil, 0, decodeError(s.path, errors.Errorf("short frame: %d bytes", len(data)))
	}
	copy(img.Pix, data)
	s.frames++
	return img, s.delay, nil
}

// readFrameRate takes the frame delay from the negotiated caps.
func (s *gstSource) readFrameRate(sample *gst.Sample) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return
	}
	val, err := caps.GetStructureAt(0).GetValue("framerate")
	if err != nil {
		return
	}
	fps := parseFrameRate(strings.TrimSpace(fmt.Sprintf("%v", val)))
	s.delay = frameDelay(fps)
	slog.Debug("video opened", "path", s.path, "backend", "gstreamer", "frame_delay", s.delay)
}

// Rewind restarts the pipeline; filesrc starts over from NULL.
func (s *gstSource) Rewind() error {
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return decodeError(s.path, err)
	}
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return decodeError(s.path, err)
	}
	return nil
}

func (s *gstSource) Close() error {
	return s.pipeline.SetState(gst.StateNull)
}
