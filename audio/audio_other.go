//go:build !linux

package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: %w", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := c.callback.Load(); cb != nil {
				(*cb)(data, frameCount)
			}
		},
	}
	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo capture: %w", err)
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) NewPlayback(config PlaybackConfig, src PCMSource) (PlaybackDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	p := &malgoPlayback{src: src, done: make(chan struct{}), ended: make(chan struct{})}
	callbacks := malgo.DeviceCallbacks{Data: p.fill}
	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo playback: %w", err)
	}
	p.device = dev
	return p, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device   *malgo.Device
	callback atomic.Pointer[DataCallback]
	stopOnce sync.Once
}

func (c *malgoCapture) Start() error { return c.device.Start() }

func (c *malgoCapture) Stop() { c.device.Stop() }

func (c *malgoCapture) Close() {
	c.stopOnce.Do(func() {
		c.device.Stop()
		c.device.Uninit()
	})
}

func (c *malgoCapture) SetCallback(cb DataCallback) { c.callback.Store(&cb) }

func (c *malgoCapture) ClearCallback() { c.callback.Store(nil) }

// The data callback runs on the miniaudio thread, which must not stop its
// own device. End of stream is signalled to a goroutine that does.
type malgoPlayback struct {
	device *malgo.Device
	src    PCMSource
	buf    []int16

	stopped   atomic.Bool
	ended     chan struct{}
	endOnce   sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func (p *malgoPlayback) fill(out, _ []byte, _ uint32) {
	samples := len(out) / 2
	if cap(p.buf) < samples {
		p.buf = make([]int16, samples)
	}
	buf := p.buf[:samples]
	n := 0
	if !p.stopped.Load() {
		for n < samples {
			m, err := p.src(buf[n:])
			n += m
			if err != nil {
				p.endOnce.Do(func() { close(p.ended) })
				break
			}
			if m == 0 {
				break
			}
		}
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(buf[i]))
	}
	clear(out[2*n:])
}

func (p *malgoPlayback) Start() error {
	if err := p.device.Start(); err != nil {
		return fmt.Errorf("malgo playback start: %w", err)
	}
	go func() {
		select {
		case <-p.ended:
		case <-p.done:
		}
		p.release()
	}()
	return nil
}

func (p *malgoPlayback) Stop() {
	p.stopped.Store(true)
	p.release()
}

func (p *malgoPlayback) release() {
	p.closeOnce.Do(func() {
		close(p.done)
		go func() {
			p.device.Stop()
			p.device.Uninit()
		}()
	})
}

func (p *malgoPlayback) Done() <-chan struct{} { return p.done }
