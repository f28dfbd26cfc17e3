package output

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	Register("null", func(log zerolog.Logger) (Backend, error) {
		n := NewNull()
		n.Pace(10 * time.Millisecond)
		return n, nil
	})
}

// Null is an output backend that discards audio. Its devices either run a
// pacing goroutine that drains the callback in real time, or are driven
// manually with Pump.
type Null struct {
	mu        sync.Mutex
	names     []string
	native    *Spec
	failExact map[string]bool
	failOpen  map[string]bool
	pace      time.Duration
	opened    []*NullDevice
}

// NewNull returns a null backend listing the given device names.
func NewNull(names ...string) *Null {
	return &Null{
		names:     names,
		failExact: map[string]bool{},
		failOpen:  map[string]bool{},
	}
}

// Pace makes devices opened afterwards drain their callback every period.
// Zero disables pacing.
func (n *Null) Pace(period time.Duration) {
	n.mu.Lock()
	n.pace = period
	n.mu.Unlock()
}

// SetNative sets the format every device runs at. Exact opens asking for
// anything else fail with ErrFormat; negotiated opens report it.
func (n *Null) SetNative(s Spec) {
	n.mu.Lock()
	n.native = &s
	n.mu.Unlock()
}

// FailExact makes Exact opens of name fail.
func (n *Null) FailExact(name string) {
	n.mu.Lock()
	n.failExact[name] = true
	n.mu.Unlock()
}

// FailOpen makes every open of name fail.
func (n *Null) FailOpen(name string) {
	n.mu.Lock()
	n.failOpen[name] = true
	n.mu.Unlock()
}

// Opened returns every device opened so far, oldest first.
func (n *Null) Opened() []*NullDevice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.opened)
}

// Last returns the most recently opened device, or nil.
func (n *Null) Last() *NullDevice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.opened) == 0 {
		return nil
	}
	return n.opened[len(n.opened)-1]
}

func (n *Null) Name() string { return "null" }

func (n *Null) Devices() ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.names), nil
}

func (n *Null) Open(name string, want Spec, mode Mode, cb Callback) (Device, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if name != "" && !slices.Contains(n.names, name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	if n.failOpen[name] {
		return nil, fmt.Errorf("output: open %q: injected failure", name)
	}
	format := want
	if mode == Exact {
		if n.failExact[name] || (n.native != nil && *n.native != want) {
			return nil, fmt.Errorf("%w: %q at %s", ErrFormat, name, want)
		}
	} else if n.native != nil {
		format = *n.native
	}

	d := &NullDevice{
		name:   name,
		mode:   mode,
		format: format,
		cb:     cb,
		pace:   n.pace,
	}
	n.opened = append(n.opened, d)
	return d, nil
}

// Close is a no-op; devices are closed individually.
func (n *Null) Close() error { return nil }

var errDeviceClosed = errors.New("output: device closed")

// NullDevice is a device opened by Null.
type NullDevice struct {
	name   string
	mode   Mode
	format Spec
	cb     Callback
	pace   time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	buf     []float32
}

// Name returns the name the device was opened with.
func (d *NullDevice) Name() string { return d.name }

// Mode returns the mode the device was opened with.
func (d *NullDevice) Mode() Mode { return d.mode }

func (d *NullDevice) Format() Spec { return d.format }

func (d *NullDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDeviceClosed
	}
	if d.started {
		return nil
	}
	d.started = true
	if d.pace > 0 {
		d.stop = make(chan struct{})
		d.done = make(chan struct{})
		go d.run(d.stop, d.done)
	}
	return nil
}

func (d *NullDevice) Pause() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (d *NullDevice) Close() error {
	if err := d.Pause(); err != nil {
		return err
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Started reports whether the device is running.
func (d *NullDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Closed reports whether Close was called.
func (d *NullDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Pump invokes the callback once for frames frames and returns the samples
// it produced. It returns nil when the device is not started. The returned
// slice is reused by the next call.
func (d *NullDevice) Pump(frames int) []float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.closed {
		return nil
	}
	return d.fill(frames)
}

func (d *NullDevice) fill(frames int) []float32 {
	n := frames * d.format.Channels
	if cap(d.buf) < n {
		d.buf = make([]float32, n)
	}
	out := d.buf[:n]
	d.cb(out)
	return out
}

func (d *NullDevice) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	frames := int(int64(d.format.SampleRate) * int64(d.pace) / int64(time.Second))
	if frames < 1 {
		frames = 1
	}
	buf := make([]float32, frames*d.format.Channels)
	t := time.NewTicker(d.pace)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			d.cb(buf)
		}
	}
}
