//go:build !headless

package output

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

func init() {
	Register("malgo", func(log zerolog.Logger) (Backend, error) {
		return NewMalgo(log)
	})
}

// Malgo drives native devices through miniaudio.
type Malgo struct {
	log zerolog.Logger

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgo initializes a miniaudio context.
func NewMalgo(log zerolog.Logger) (*Malgo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug().Str("miniaudio", msg).Msg("backend message")
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Malgo{log: log, ctx: ctx}, nil
}

func (m *Malgo) Name() string { return "malgo" }

func (m *Malgo) Devices() ([]string, error) {
	infos, err := m.playbackDevices()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (m *Malgo) playbackDevices() ([]malgo.DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil, fmt.Errorf("output: malgo backend closed")
	}
	infos, err := m.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate playback devices: %w", err)
	}
	return infos, nil
}

func (m *Malgo) Open(name string, want Spec, mode Mode, cb Callback) (Device, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(want.Channels)
	cfg.SampleRate = uint32(want.SampleRate)
	cfg.PeriodSizeInFrames = 512
	if mode == Exact {
		cfg.Playback.ShareMode = malgo.Exclusive
	} else {
		cfg.Playback.ShareMode = malgo.Shared
	}

	if name != "" {
		infos, err := m.playbackDevices()
		if err != nil {
			return nil, err
		}
		found := false
		for _, info := range infos {
			if info.Name() == name {
				cfg.Playback.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
		}
	}

	d := &malgoDevice{cb: cb}
	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("output: malgo backend closed")
	}
	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: d.data})
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %q (%s): %w", name, mode, err)
	}

	d.dev = dev
	d.format = Spec{SampleRate: int(dev.SampleRate()), Channels: int(dev.PlaybackChannels())}
	if mode == Exact && d.format != want {
		dev.Uninit()
		return nil, fmt.Errorf("%w: %q runs at %s, want %s", ErrFormat, name, d.format, want)
	}
	m.log.Debug().Str("device", name).Stringer("format", d.format).Stringer("mode", mode).Msg("device opened")
	return d, nil
}

func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

type malgoDevice struct {
	dev    *malgo.Device
	format Spec
	cb     Callback
}

// data runs on the miniaudio thread. The output buffer is float32 because
// the device was opened with FormatF32, so it is filled in place.
func (d *malgoDevice) data(out, _ []byte, frames uint32) {
	n := int(frames) * d.format.Channels
	if n == 0 || len(out) < n*4 {
		return
	}
	d.cb(unsafe.Slice((*float32)(unsafe.Pointer(&out[0])), n))
}

func (d *malgoDevice) Start() error { return d.dev.Start() }
func (d *malgoDevice) Pause() error { return d.dev.Stop() }
func (d *malgoDevice) Format() Spec { return d.format }

func (d *malgoDevice) Close() error {
	d.dev.Uninit()
	return nil
}
