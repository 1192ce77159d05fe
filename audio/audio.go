// Package audio opens microphone capture and speaker playback streams.
package audio

import (
	"errors"
	"io"
	"strings"
)

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name. Headset microphones fall back to
// a narrowband profile, which hurts transcription.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ErrEndOfStream is returned by a PCMSource when it has no more samples.
var ErrEndOfStream = errors.New("end of stream")

type DataCallback func(data []byte, frameCount uint32)

// PCMSource fills buf with interleaved 16-bit samples. It is called on the
// audio thread and returns ErrEndOfStream (or io.EOF) once exhausted.
type PCMSource func(buf []int16) (int, error)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type PlaybackConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(config PlaybackConfig, src PCMSource) (PlaybackDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

// PlaybackDevice plays one source to completion. Done is closed when the
// source is exhausted and the output drained, or when Stop is called.
type PlaybackDevice interface {
	Start() error
	Stop()
	Done() <-chan struct{}
}

func isEnd(err error) bool {
	return err != nil && (errors.Is(err, ErrEndOfStream) || errors.Is(err, io.EOF))
}
