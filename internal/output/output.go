// Package output abstracts audio output devices behind a pull-style callback.
//
// A Backend enumerates and opens devices. An opened Device calls the
// Callback from its own real-time context whenever it needs samples; the
// callback must fill the whole slice with interleaved float32 samples and
// must not block.
package output

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultDevice is the user-facing name of the system default device. It
// maps to the empty name internally.
const DefaultDevice = "Default"

// ErrFormat is returned by Open in Exact mode when the device cannot run at
// the requested format.
var ErrFormat = errors.New("output: format not supported")

// ErrUnknownDevice is returned when Open is given a name Devices never listed.
var ErrUnknownDevice = errors.New("output: unknown device")

// Spec is a PCM stream format. Samples are always float32.
type Spec struct {
	SampleRate int
	Channels   int
}

func (s Spec) String() string {
	return fmt.Sprintf("%d Hz/%d ch", s.SampleRate, s.Channels)
}

// Mode controls how strictly Open honors the requested Spec.
type Mode int

const (
	// Exact fails with ErrFormat unless the device accepts the requested Spec as is.
	Exact Mode = iota
	// Negotiate lets the device pick its own rate and channel count.
	Negotiate
)

func (m Mode) String() string {
	if m == Exact {
		return "exact"
	}
	return "negotiated"
}

// Callback fills out with interleaved samples in the device's Format.
type Callback func(out []float32)

// Device is an opened output stream. Devices start paused.
type Device interface {
	Start() error
	Pause() error
	Close() error
	Format() Spec
}

// Backend enumerates and opens output devices.
type Backend interface {
	Name() string
	// Devices lists device names, excluding the default pseudo-device.
	Devices() ([]string, error)
	// Open opens name ("" for the system default) and wires cb to it.
	Open(name string, want Spec, mode Mode, cb Callback) (Device, error)
	Close() error
}

// NormalizeDeviceList puts DefaultDevice first and drops empty names and any
// other DefaultDevice entries. The result is never empty.
func NormalizeDeviceList(names []string) []string {
	out := make([]string, 0, len(names)+1)
	out = append(out, DefaultDevice)
	for _, n := range names {
		if n == "" || n == DefaultDevice || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// InternalName maps a user-facing device name to the name backends expect.
func InternalName(name string) string {
	if name == DefaultDevice {
		return ""
	}
	return name
}

// Factory builds a backend.
type Factory func(log zerolog.Logger) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available to New under kind.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New builds the backend registered under kind.
func New(kind string, log zerolog.Logger) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("output: unknown backend %q (have %v)", kind, Kinds())
	}
	b, err := f(log)
	if err != nil {
		return nil, fmt.Errorf("output: init %s: %w", kind, err)
	}
	return b, nil
}
