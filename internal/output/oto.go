//go:build !headless

package output

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

func init() {
	Register("oto", func(log zerolog.Logger) (Backend, error) {
		return NewOto(log), nil
	})
}

// oto allows one context per process, created lazily by the first Open.
var (
	otoMu   sync.Mutex
	otoCtx  *oto.Context
	otoSpec Spec
)

// Oto plays through the system default device only.
type Oto struct {
	log zerolog.Logger
}

// NewOto returns the oto backend.
func NewOto(log zerolog.Logger) *Oto {
	return &Oto{log: log}
}

func (o *Oto) Name() string { return "oto" }

// Devices returns no named devices; oto only exposes the default.
func (o *Oto) Devices() ([]string, error) { return nil, nil }

func (o *Oto) Open(name string, want Spec, mode Mode, cb Callback) (Device, error) {
	if name != "" {
		return nil, fmt.Errorf("%w: %q (oto supports the default device only)", ErrUnknownDevice, name)
	}

	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   want.SampleRate,
			ChannelCount: want.Channels,
			Format:       oto.FormatFloat32LE,
		})
		if err != nil {
			return nil, fmt.Errorf("init oto context: %w", err)
		}
		<-ready
		otoCtx, otoSpec = ctx, want
		o.log.Debug().Stringer("format", want).Msg("oto context ready")
	} else if mode == Exact && otoSpec != want {
		return nil, fmt.Errorf("%w: oto context runs at %s, want %s", ErrFormat, otoSpec, want)
	}

	d := &otoDevice{format: otoSpec, cb: cb}
	d.player = otoCtx.NewPlayer(d)
	return d, nil
}

func (o *Oto) Close() error { return nil }

type otoDevice struct {
	format Spec
	cb     Callback
	player *oto.Player
}

// Read is called by oto's mixer goroutine.
func (d *otoDevice) Read(p []byte) (int, error) {
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}
	d.cb(unsafe.Slice((*float32)(unsafe.Pointer(&p[0])), n))
	return n * 4, nil
}

func (d *otoDevice) Start() error {
	d.player.Play()
	return nil
}

func (d *otoDevice) Pause() error {
	d.player.Pause()
	return nil
}

func (d *otoDevice) Close() error {
	return d.player.Close()
}

func (d *otoDevice) Format() Spec { return d.format }
