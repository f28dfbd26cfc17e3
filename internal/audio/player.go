package audio

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/chipdeck/internal/decoder"
	"github.com/satindergrewal/chipdeck/internal/output"
)

var (
	// ErrNoDevice means every device in the fallback chain failed to open.
	ErrNoDevice = errors.New("audio: no output device could be opened")
	// ErrLoadFailed wraps the reason a track could not be loaded.
	ErrLoadFailed = errors.New("audio: load failed")
)

// Options configures a Player.
type Options struct {
	SampleRate   int    // requested device rate; DefaultSampleRate if zero
	Device       string // user-facing device name; "" or "Default" for the system default
	Volume       int    // 0-100
	Muted        bool
	RingCapacity int // samples per ring; RingCapacity if zero
}

// Player is the playback engine. A decode goroutine renders the loaded
// track into an output ring that the device callback drains.
//
// All methods are safe for concurrent use. Load is asynchronous: the decode
// goroutine picks the request up within one poll interval.
type Player struct {
	log      zerolog.Logger
	backend  output.Backend
	decoders *decoder.Registry
	wantRate int

	out   *RingBuffer
	viz   *RingBuffer
	vizMu sync.Mutex // serializes viz readers against producer-side Clear
	fade  *Envelope

	state         atomic.Int32
	volume        atomic.Int32
	muted         atomic.Bool
	position      atomic.Int64 // frames rendered since load
	loaded        atomic.Bool
	loading       atomic.Bool
	trackEnded    atomic.Bool
	underruns     atomic.Uint64
	pendingFadeIn atomic.Int32 // ms; >0 arms a fade-in after the next load

	// current device format, written under devMu
	rate      atomic.Int32
	channels  atomic.Int32
	formatGen atomic.Uint64

	reqMu   sync.Mutex
	reqPath string
	hasReq  bool
	wake    chan struct{}

	trackMu sync.RWMutex
	track   TrackInfo
	loadErr error

	cbMu       sync.Mutex
	onTrackEnd func()

	devMu   sync.Mutex
	dev     output.Device
	devName string // internal name, "" for default

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// decode goroutine only
	dec             decoder.Decoder
	pcm             []int16
	fbuf            []float32
	endFired        bool
	eof             bool
	seenGen         uint64
	loggedUnderruns uint64
	lastUnderrunLog int64 // unix nanos
}

// NewPlayer opens the output device and starts the decode goroutine. It
// fails with ErrNoDevice when no device in the fallback chain opens.
func NewPlayer(log zerolog.Logger, backend output.Backend, decoders *decoder.Registry, opts Options) (*Player, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.RingCapacity <= 0 {
		opts.RingCapacity = RingCapacity
	}

	p := &Player{
		log:      log,
		backend:  backend,
		decoders: decoders,
		wantRate: opts.SampleRate,
		out:      NewRingBuffer(opts.RingCapacity),
		viz:      NewRingBuffer(opts.RingCapacity),
		fade:     NewEnvelope(),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		pcm:      make([]int16, RenderFrames*decoder.Channels),
	}
	p.volume.Store(int32(clampVolume(opts.Volume)))
	p.muted.Store(opts.Muted)

	name := output.InternalName(opts.Device)
	dev, err := p.openDevice(name)
	if err != nil {
		return nil, err
	}
	p.devName = name
	p.installDevice(dev)

	go p.run()
	return p, nil
}

// Load asks the decode goroutine to switch to path. The previous track
// stops immediately; IsLoading reports true until the switch is done.
func (p *Player) Load(path string) {
	p.trackEnded.Store(false)
	p.reqMu.Lock()
	p.loading.Store(true)
	p.reqPath = path
	p.hasReq = true
	p.reqMu.Unlock()
	p.signal()
}

func (p *Player) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Play starts or resumes output. When a load is in flight the device is
// started once it completes. Play does nothing without a loaded track.
func (p *Player) Play() {
	if !p.loading.Load() && !p.loaded.Load() {
		return
	}
	p.state.Store(int32(Playing))
	if p.loaded.Load() && !p.loading.Load() {
		p.resumeDevice()
	}
}

// Pause halts output and rendering, keeping the position.
func (p *Player) Pause() {
	p.pauseDevice()
	p.state.Store(int32(Paused))
}

// Stop halts output, drops buffered audio and rewinds the current track.
func (p *Player) Stop() {
	p.pauseDevice()
	p.state.Store(int32(Stopped))
	p.out.Clear()
	p.vizMu.Lock()
	p.viz.Clear()
	p.vizMu.Unlock()
	p.position.Store(0)
	p.trackEnded.Store(false)

	// Reopen from the start unless a load is already queued.
	path := p.TrackInfo().Path
	p.reqMu.Lock()
	rewind := !p.hasReq && path != "" && p.loaded.Load()
	if rewind {
		p.loading.Store(true)
		p.reqPath = path
		p.hasReq = true
	}
	p.reqMu.Unlock()
	if rewind {
		p.signal()
	}
}

// SetVolume sets the output volume in percent. Out-of-range values are
// clamped when applied.
func (p *Player) SetVolume(v int) { p.volume.Store(int32(v)) }

// Volume returns the volume as last set.
func (p *Player) Volume() int { return int(p.volume.Load()) }

// SetMute silences output without pausing it.
func (p *Player) SetMute(m bool) { p.muted.Store(m) }

// Muted reports whether output is muted.
func (p *Player) Muted() bool { return p.muted.Load() }

// StartFadeOut ramps the gain from its current value to 0 over ms.
// IsFadeOutComplete reports true once the ramp has been played out.
func (p *Player) StartFadeOut(ms int) {
	p.fade.FadeOut(FadeSamples(ms, int(p.rate.Load()), int(p.channels.Load())))
}

// SetPendingFadeIn makes the next successful load start silent and ramp
// up to full gain over ms.
func (p *Player) SetPendingFadeIn(ms int) { p.pendingFadeIn.Store(int32(ms)) }

// ResetFade returns the gain to 1 immediately.
func (p *Player) ResetFade() { p.fade.Reset() }

// IsFadeOutComplete reports, once, that a fade-out reached silence.
func (p *Player) IsFadeOutComplete() bool { return p.fade.TakeComplete() }

// IsFadingIn reports whether a fade-in is in progress.
func (p *Player) IsFadingIn() bool { return p.fade.FadingIn() }

// FadeGain returns the current envelope gain.
func (p *Player) FadeGain() float32 { return p.fade.Gain() }

func (p *Player) State() State { return State(p.state.Load()) }

func (p *Player) IsLoading() bool { return p.loading.Load() }

func (p *Player) IsLoaded() bool { return p.loaded.Load() }

// TrackInfo returns the last successfully loaded track.
func (p *Player) TrackInfo() TrackInfo {
	p.trackMu.RLock()
	defer p.trackMu.RUnlock()
	return p.track
}

// LoadError returns why the most recent load failed, or nil.
func (p *Player) LoadError() error {
	p.trackMu.RLock()
	defer p.trackMu.RUnlock()
	return p.loadErr
}

// PositionSamples returns the number of frames rendered since the track
// was loaded.
func (p *Player) PositionSamples() int64 { return p.position.Load() }

// PlayedSamples is PositionSamples less the frames still queued for the
// device: roughly the point the listener has reached.
func (p *Player) PlayedSamples() int64 {
	ch := int64(max(1, p.channels.Load()))
	return max(0, p.position.Load()-int64(p.out.Available())/ch)
}

// HasTrackEnded reports, once, that the loaded track played to its end.
func (p *Player) HasTrackEnded() bool { return p.trackEnded.Swap(false) }

// SetOnTrackEnd registers fn to run on the decode goroutine when a track
// ends. fn must not call Close.
func (p *Player) SetOnTrackEnd(fn func()) {
	p.cbMu.Lock()
	p.onTrackEnd = fn
	p.cbMu.Unlock()
}

// ReadWaveform copies the newest len(out) rendered samples into out and
// returns how many were copied. Older samples are discarded.
func (p *Player) ReadWaveform(out []float32) int {
	p.vizMu.Lock()
	defer p.vizMu.Unlock()
	if extra := p.viz.Available() - len(out); extra > 0 {
		p.viz.Discard(extra)
	}
	return p.viz.Read(out)
}

// Underruns returns how many device callbacks found the ring short.
func (p *Player) Underruns() uint64 { return p.underruns.Load() }

// Format returns the format the output device is running at.
func (p *Player) Format() output.Spec {
	return output.Spec{SampleRate: int(p.rate.Load()), Channels: int(p.channels.Load())}
}

// Close stops the decode goroutine, waits for it, then closes the device.
func (p *Player) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.quit)
		<-p.done

		p.devMu.Lock()
		defer p.devMu.Unlock()
		if p.dev != nil {
			err = p.dev.Close()
			p.dev = nil
		}
	})
	return err
}

func clampVolume(v int) int {
	return min(100, max(0, v))
}
