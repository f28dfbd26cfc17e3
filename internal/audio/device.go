package audio

import (
	"errors"
	"fmt"

	"github.com/satindergrewal/chipdeck/internal/output"
)

type openAttempt struct {
	name string
	mode output.Mode
}

// openDevice tries name at the exact format, then name with negotiation,
// then the default device with negotiation.
func (p *Player) openDevice(name string) (output.Device, error) {
	want := output.Spec{SampleRate: p.wantRate, Channels: Channels}
	attempts := []openAttempt{{name, output.Exact}, {name, output.Negotiate}}
	if name != "" {
		attempts = append(attempts, openAttempt{"", output.Negotiate})
	}

	var errs []error
	for _, a := range attempts {
		dev, err := p.backend.Open(a.name, want, a.mode, p.fill)
		if err != nil {
			p.log.Debug().Err(err).Str("device", displayName(a.name)).Stringer("mode", a.mode).Msg("device open failed")
			errs = append(errs, err)
			continue
		}
		if a.name != name {
			p.log.Warn().Str("device", displayName(name)).Msg("failed to open audio device, using default")
		}
		if got := dev.Format(); got != want {
			p.log.Warn().Stringer("want", want).Stringer("got", got).Msg("audio device negotiated a different format")
		}
		return dev, nil
	}

	err := errors.Join(errs...)
	p.log.Error().Err(err).Str("device", displayName(name)).Str("backend", p.backend.Name()).Msg("audio init failed")
	return nil, fmt.Errorf("%w: %w", ErrNoDevice, err)
}

// installDevice publishes dev's format. Callers hold devMu or own p
// exclusively.
func (p *Player) installDevice(dev output.Device) {
	f := dev.Format()
	p.dev = dev
	p.rate.Store(int32(f.SampleRate))
	p.channels.Store(int32(f.Channels))
	p.formatGen.Add(1)
}

// SetOutputDevice switches to the named device ("Default" for the system
// default). The old device is closed before the new one opens. On failure
// the engine has no device until the next successful switch.
func (p *Player) SetOutputDevice(name string) error {
	next := output.InternalName(name)

	p.devMu.Lock()
	defer p.devMu.Unlock()
	if next == p.devName && p.dev != nil {
		return nil
	}

	if p.dev != nil {
		if err := p.dev.Close(); err != nil {
			p.log.Warn().Err(err).Msg("closing audio device")
		}
		p.dev = nil
	}
	p.devName = next
	// Buffered audio was rendered for the old format.
	p.out.Clear()

	dev, err := p.openDevice(next)
	if err != nil {
		return err
	}
	p.installDevice(dev)
	p.log.Info().Str("device", displayName(next)).Stringer("format", dev.Format()).Msg("output device switched")

	if p.State() == Playing && p.loaded.Load() && !p.loading.Load() {
		if err := dev.Start(); err != nil {
			p.log.Error().Err(err).Msg("starting audio device")
		}
	}
	return nil
}

// OutputDevice returns the user-facing name of the selected device.
func (p *Player) OutputDevice() string {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	return displayName(p.devName)
}

// Devices lists output devices, "Default" first.
func (p *Player) Devices() ([]string, error) {
	names, err := p.backend.Devices()
	return output.NormalizeDeviceList(names), err
}

func (p *Player) resumeDevice() {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	if p.dev == nil {
		return
	}
	if err := p.dev.Start(); err != nil {
		p.log.Error().Err(err).Msg("starting audio device")
	}
}

func (p *Player) pauseDevice() {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	if p.dev == nil {
		return
	}
	if err := p.dev.Pause(); err != nil {
		p.log.Warn().Err(err).Msg("pausing audio device")
	}
}

func displayName(name string) string {
	if name == "" {
		return output.DefaultDevice
	}
	return name
}
