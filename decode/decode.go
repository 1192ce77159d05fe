// Package decode turns synthesized speech (MP3, FLAC or 16-bit WAV) into
// interleaved PCM for the playback device.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

type Format string

const (
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
)

// Stream yields interleaved signed 16-bit samples. Read returns io.EOF after
// the last sample.
type Stream interface {
	SampleRate() int
	Channels() int
	Read(dst []int16) (int, error)
}

// Sniff identifies the container from its leading bytes.
func Sniff(data []byte) (Format, error) {
	switch {
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return FormatFLAC, nil
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV, nil
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return FormatMP3, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3, nil
	}
	return "", ErrUnsupportedFormat
}

func Decode(data []byte) (Stream, Format, error) {
	format, err := Sniff(data)
	if err != nil {
		return nil, "", err
	}
	var s Stream
	switch format {
	case FormatMP3:
		s, err = newMP3(data)
	case FormatFLAC:
		s, err = newFLAC(data)
	case FormatWAV:
		s, err = newWAV(data)
	}
	if err != nil {
		return nil, format, fmt.Errorf("decoding %s: %w", format, err)
	}
	return s, format, nil
}

// go-mp3 always emits 16-bit little-endian stereo.
type mp3Stream struct {
	dec *mp3.Decoder
	raw []byte
}

func newMP3(data []byte) (*mp3Stream, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &mp3Stream{dec: dec}, nil
}

func (s *mp3Stream) SampleRate() int { return s.dec.SampleRate() }
func (s *mp3Stream) Channels() int   { return 2 }

func (s *mp3Stream) Read(dst []int16) (int, error) {
	// whole stereo frames only
	want := len(dst) &^ 1
	if want == 0 {
		return 0, nil
	}
	if cap(s.raw) < want*2 {
		s.raw = make([]byte, want*2)
	}
	raw := s.raw[:want*2]
	n, err := io.ReadFull(s.dec, raw)
	samples := n / 2
	for i := 0; i < samples; i++ {
		dst[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
		if samples == 0 {
			err = io.EOF
		}
	}
	return samples, err
}

type flacStream struct {
	stream   *flac.Stream
	shift    int
	pending  []int16
	channels int
}

func newFLAC(data []byte) (*flacStream, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	bps := int(stream.Info.BitsPerSample)
	return &flacStream{
		stream:   stream,
		shift:    bps - 16,
		channels: int(stream.Info.NChannels),
	}, nil
}

func (s *flacStream) SampleRate() int { return int(s.stream.Info.SampleRate) }
func (s *flacStream) Channels() int   { return s.channels }

func (s *flacStream) Read(dst []int16) (int, error) {
	for len(s.pending) == 0 {
		f, err := s.stream.ParseNext()
		if err != nil {
			return 0, err
		}
		n := len(f.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for ch := range f.Subframes {
				s.pending = append(s.pending, s.scale(f.Subframes[ch].Samples[i]))
			}
		}
	}
	n := copy(dst, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *flacStream) scale(v int32) int16 {
	switch {
	case s.shift > 0:
		v >>= s.shift
	case s.shift < 0:
		v <<= -s.shift
	}
	return int16(v)
}

// Drain reads a whole stream into memory.
func Drain(s Stream) ([]int16, error) {
	var out []int16
	buf := make([]int16, 4096)
	for {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
