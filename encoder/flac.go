package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes verbatim FLAC frames into memory. Blocks are
// interleaved PCM16; a block may be shorter than BlockSize only at the end.
type FlacEncoder struct {
	mu         sync.Mutex
	out        bytes.Buffer
	enc        *flac.Encoder
	rate       int
	channels   int
	frames     uint64
	encodeTime time.Duration
}

// NewFlac returns an encoder for dictation audio (16 kHz mono).
func NewFlac() (*FlacEncoder, error) {
	return NewFlacFormat(SampleRate, Channels)
}

// NewFlacFormat returns an encoder for rate Hz and one or two channels.
func NewFlacFormat(rate, channels int) (*FlacEncoder, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("flac: unsupported channel count %d", channels)
	}
	e := &FlacEncoder{rate: rate, channels: channels}
	enc, err := flac.NewEncoder(&e.out, &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(rate),
		NChannels:     uint8(channels),
		BitsPerSample: BitsPerSample,
	})
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(block) / e.channels
	if n == 0 {
		return nil
	}
	subframes := make([]*frame.Subframe, e.channels)
	for ch := range subframes {
		samples := make([]int32, n)
		for i := range samples {
			samples[i] = int32(block[i*e.channels+ch])
		}
		subframes[ch] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  n,
		}
	}
	layout := frame.ChannelsMono
	if e.channels == 2 {
		layout = frame.ChannelsLR
	}
	err := e.enc.WriteFrame(&frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(n),
			SampleRate:    uint32(e.rate),
			Channels:      layout,
			BitsPerSample: BitsPerSample,
		},
		Subframes: subframes,
	})
	if err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.frames += uint64(n)
	return nil
}

func (e *FlacEncoder) Close() error { return e.enc.Close() }

func (e *FlacEncoder) Bytes() []byte { return e.out.Bytes() }

// TotalFrames counts encoded sample frames (one sample per channel).
func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

func (e *FlacEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}

// Encode is a one-shot helper that encodes interleaved pcm as a complete
// FLAC stream.
func Encode(pcm []int16, rate, channels int) ([]byte, error) {
	e, err := NewFlacFormat(rate, channels)
	if err != nil {
		return nil, err
	}
	step := BlockSize * channels
	for i := 0; i < len(pcm); i += step {
		if err := e.EncodeBlock(pcm[i:min(i+step, len(pcm))]); err != nil {
			return nil, err
		}
	}
	if err := e.Close(); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}
