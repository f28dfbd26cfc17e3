// Package stream publishes the engine's output to network listeners. The
// stream Backend looks like an output device to the engine; every 20ms it
// pulls one frame of audio and hands it to a Broadcaster, which fans it out
// to HTTP (MP3) and WebRTC (Opus) listeners.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/chipdeck/internal/audio"
	"github.com/satindergrewal/chipdeck/internal/output"
)

const (
	SampleRate    = 48000
	Channels      = 2
	FrameSize     = 960 // frames per channel per packet
	FrameDuration = 20 * time.Millisecond

	// DeviceName is the only device the stream backend lists.
	DeviceName = "Network Stream"
)

// Format is the fixed format of the network stream.
var Format = output.Spec{SampleRate: SampleRate, Channels: Channels}

// Backend is an output backend whose single device feeds Frames.
type Backend struct {
	log    zerolog.Logger
	frames chan []int16

	mu      sync.Mutex
	devices []*device
}

// NewBackend returns a stream backend. Frames are dropped when nobody reads
// Frames fast enough.
func NewBackend(log zerolog.Logger) *Backend {
	return &Backend{
		log:    log,
		frames: make(chan []int16, 50), // ~1s at 20ms/frame
	}
}

// Frames delivers one 20ms interleaved int16 frame per tick of an open device.
func (b *Backend) Frames() <-chan []int16 { return b.frames }

func (b *Backend) Name() string { return "stream" }

func (b *Backend) Devices() ([]string, error) {
	return []string{DeviceName}, nil
}

// Open opens the network device. It only runs at Format; Exact opens asking
// for anything else fail with output.ErrFormat.
func (b *Backend) Open(name string, want output.Spec, mode output.Mode, cb output.Callback) (output.Device, error) {
	if name != "" && name != DeviceName {
		return nil, fmt.Errorf("%w: %q", output.ErrUnknownDevice, name)
	}
	if mode == output.Exact && want != Format {
		return nil, fmt.Errorf("%w: stream runs at %s, not %s", output.ErrFormat, Format, want)
	}
	d := &device{
		log:    b.log,
		cb:     cb,
		frames: b.frames,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()

	b.mu.Lock()
	b.devices = append(b.devices, d)
	b.mu.Unlock()
	b.log.Info().Str("format", Format.String()).Msg("network stream device opened")
	return d, nil
}

// Close closes every device still open.
func (b *Backend) Close() error {
	b.mu.Lock()
	devs := b.devices
	b.devices = nil
	b.mu.Unlock()
	for _, d := range devs {
		d.Close()
	}
	return nil
}

// device ticks from Open until Close. While paused it publishes silence so
// listener encoders keep a steady clock.
type device struct {
	log    zerolog.Logger
	cb     output.Callback
	frames chan<- []int16

	mu      sync.Mutex
	running bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (d *device) Format() output.Spec { return Format }

func (d *device) Start() error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	return nil
}

func (d *device) Pause() error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

func (d *device) Close() error {
	d.closeOnce.Do(func() {
		close(d.stop)
		<-d.done
	})
	return nil
}

func (d *device) run() {
	defer close(d.done)

	buf := make([]float32, FrameSize*Channels)
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	var dropped uint64
	for {
		select {
		case <-d.stop:
			if dropped > 0 {
				d.log.Debug().Uint64("dropped", dropped).Msg("network stream closed")
			}
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		running := d.running
		if running {
			d.cb(buf)
		}
		d.mu.Unlock()

		frame := make([]int16, len(buf))
		if running {
			audio.FloatToInt16(frame, buf)
		}
		select {
		case d.frames <- frame:
		default:
			dropped++
		}
	}
}
