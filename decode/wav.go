package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type wavStream struct {
	rate     int
	channels int
	data     []byte
}

func newWAV(data []byte) (*wavStream, error) {
	s := &wavStream{}
	var haveFmt bool
	for p := 12; p+8 <= len(data); {
		id := string(data[p : p+4])
		size := int(binary.LittleEndian.Uint32(data[p+4 : p+8]))
		body := data[p+8:]
		if size > len(body) {
			size = len(body)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: wav format %d, %d bits", ErrUnsupportedFormat, format, bits)
			}
			s.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			s.rate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, errors.New("data chunk before fmt")
			}
			s.data = body
			return s, nil
		}
		// chunks are word aligned
		p += 8 + size + size&1
	}
	return nil, errors.New("no data chunk")
}

func (s *wavStream) SampleRate() int { return s.rate }
func (s *wavStream) Channels() int   { return s.channels }

func (s *wavStream) Read(dst []int16) (int, error) {
	if len(s.data) < 2 {
		return 0, io.EOF
	}
	n := min(len(dst), len(s.data)/2)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(s.data[2*i:]))
	}
	s.data = s.data[2*n:]
	return n, nil
}

// EncodeWAV writes a PCM16 WAV file, used by tests and the fake backend.
func EncodeWAV(pcm []int16, rate, channels int) []byte {
	dataLen := len(pcm) * 2
	out := make([]byte, 44+dataLen)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataLen))
	copy(out[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(rate))
	binary.LittleEndian.PutUint32(out[28:], uint32(rate*channels*2))
	binary.LittleEndian.PutUint16(out[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataLen))
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(out[44+2*i:], uint16(v))
	}
	return out
}
