package audio

import (
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/chipdeck/internal/decoder"
	"github.com/satindergrewal/chipdeck/internal/output"
)

// fakeDecoder renders a ramp: frame f carries f%30000 on both channels.
type fakeDecoder struct {
	total     int // frames before EOF; <0 renders forever
	lengthSec int
	pos       int
	rate      int
	opened    bool
}

func (d *fakeDecoder) Open(path, _ string) error {
	if strings.Contains(path, "bad") {
		return errors.New("corrupt header")
	}
	d.opened = true
	d.pos = 0
	return nil
}

func (d *fakeDecoder) SetOutputRate(rate int) { d.rate = rate }

func (d *fakeDecoder) Render(buf []int16, frames int) (int, error) {
	if !d.opened {
		return 0, io.EOF
	}
	if d.total >= 0 {
		frames = min(frames, d.total-d.pos)
		if frames <= 0 {
			return 0, io.EOF
		}
	}
	for i := 0; i < frames; i++ {
		v := int16((d.pos + i) % 30000)
		buf[i*2], buf[i*2+1] = v, v
	}
	d.pos += frames
	return frames, nil
}

func (d *fakeDecoder) KnownLengthSeconds() int { return d.lengthSec }
func (d *fakeDecoder) Stop()                   { d.opened = false }

const testRate = 1000

type harness struct {
	p    *Player
	null *output.Null
}

func newHarness(t *testing.T, total, lengthSec int, names ...string) *harness {
	t.Helper()
	reg := decoder.NewRegistry()
	reg.Register(".fake", func() decoder.Decoder {
		return &fakeDecoder{total: total, lengthSec: lengthSec}
	})
	null := output.NewNull(names...)
	p, err := NewPlayer(zerolog.Nop(), null, reg, Options{SampleRate: testRate, Volume: 100, RingCapacity: 8192})
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return &harness{p: p, null: null}
}

func (h *harness) device() *output.NullDevice { return h.null.Last() }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) loadAndPlay(t *testing.T, path string) {
	t.Helper()
	h.p.Load(path)
	h.p.Play()
	waitFor(t, "load", func() bool { return !h.p.IsLoading() })
}

// --- Construction / devices ---

func TestNewPlayerNoDevice(t *testing.T) {
	null := output.NewNull()
	null.FailOpen("")
	_, err := NewPlayer(zerolog.Nop(), null, decoder.NewRegistry(), Options{})
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
}

func TestDeviceFallbackChain(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*output.Null)
		wantName string
		wantMode output.Mode
	}{
		{"exact", func(*output.Null) {}, "USB", output.Exact},
		{"negotiated", func(n *output.Null) { n.FailExact("USB") }, "USB", output.Negotiate},
		{"default", func(n *output.Null) { n.FailOpen("USB") }, "", output.Negotiate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			null := output.NewNull("USB")
			tt.setup(null)
			p, err := NewPlayer(zerolog.Nop(), null, decoder.NewRegistry(), Options{Device: "USB"})
			if err != nil {
				t.Fatalf("NewPlayer: %v", err)
			}
			defer p.Close()
			d := null.Last()
			if d.Name() != tt.wantName || d.Mode() != tt.wantMode {
				t.Errorf("opened (%q, %s), want (%q, %s)", d.Name(), d.Mode(), tt.wantName, tt.wantMode)
			}
		})
	}
}

func TestNegotiatedFormatIsPublished(t *testing.T) {
	null := output.NewNull()
	null.SetNative(output.Spec{SampleRate: 48000, Channels: 2})
	p, err := NewPlayer(zerolog.Nop(), null, decoder.NewRegistry(), Options{SampleRate: 44100})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if got := p.Format(); got.SampleRate != 48000 {
		t.Errorf("Format() = %v, want 48000 Hz", got)
	}
}

func TestSetOutputDevice(t *testing.T) {
	h := newHarness(t, -1, 0, "USB", "HDMI")
	first := h.device()

	if err := h.p.SetOutputDevice("HDMI"); err != nil {
		t.Fatalf("SetOutputDevice: %v", err)
	}
	if !first.Closed() {
		t.Error("previous device should be closed before switching")
	}
	if h.device().Name() != "HDMI" || h.p.OutputDevice() != "HDMI" {
		t.Errorf("now on %q / %q, want HDMI", h.device().Name(), h.p.OutputDevice())
	}

	if err := h.p.SetOutputDevice("Default"); err != nil {
		t.Fatal(err)
	}
	if h.device().Name() != "" || h.p.OutputDevice() != "Default" {
		t.Errorf("Default should map to the empty internal name, got %q", h.device().Name())
	}

	opened := len(h.null.Opened())
	h.p.SetOutputDevice("Default")
	if len(h.null.Opened()) != opened {
		t.Error("switching to the current device should be a no-op")
	}
}

func TestDevicesAlwaysStartWithDefault(t *testing.T) {
	h := newHarness(t, -1, 0)
	names, err := h.p.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "Default" {
		t.Errorf("Devices() = %q, want [Default]", names)
	}
}

// --- Load / play ---

func TestLoadAndPlay(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "/music/a.fake")

	if !h.p.IsLoaded() {
		t.Fatal("IsLoaded() = false")
	}
	info := h.p.TrackInfo()
	if info.DisplayName != "a.fake" || info.SampleRate != testRate || info.DurationKnown {
		t.Errorf("TrackInfo = %+v", info)
	}
	waitFor(t, "device start", h.device().Started)
	waitFor(t, "rendering", func() bool { return h.p.PositionSamples() >= 1024 })

	out := h.device().Pump(16)
	for i := 2; i < len(out); i += 2 {
		if out[i] <= out[i-2] {
			t.Fatalf("expected rising ramp, got %v", out)
		}
	}
	if h.p.State() != Playing {
		t.Errorf("State = %v, want Playing", h.p.State())
	}
}

func TestVolumeAndMute(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "v.fake")
	waitFor(t, "rendering", func() bool { return h.p.PositionSamples() >= 2048 })

	h.device().Pump(4) // skip the zero sample at frame 0
	h.p.SetVolume(50)
	ref := h.device().Pump(2)
	want := float32(4) / 32768 * 0.5
	if ref[0] != want {
		t.Errorf("half volume sample = %v, want %v", ref[0], want)
	}

	h.p.SetVolume(250)
	if got := h.device().Pump(1)[0]; got != float32(6)/32768 {
		t.Errorf("volume above 100 should clamp to unity, got %v", got)
	}

	h.p.SetMute(true)
	for i, v := range h.device().Pump(64) {
		if v != 0 {
			t.Fatalf("muted sample %d = %v", i, v)
		}
	}
	if !h.p.Muted() {
		t.Error("Muted() = false")
	}
}

func TestMutedFadeStillCompletes(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "m.fake")
	waitFor(t, "rendering", func() bool { return h.p.PositionSamples() >= 1024 })

	h.p.SetMute(true)
	h.p.StartFadeOut(50) // 100 samples at 1 kHz stereo
	h.device().Pump(40)
	if h.p.IsFadeOutComplete() {
		t.Fatal("fade completed early")
	}
	h.device().Pump(10)
	if !h.p.IsFadeOutComplete() {
		t.Error("fade-out should finish on schedule while muted")
	}
}

func TestUnderrunCounted(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.p.Load("u.fake")
	waitFor(t, "load", func() bool { return h.p.IsLoaded() })
	// Paused device: start it by hand with nothing buffered.
	h.device().Start()
	out := h.device().Pump(32)
	if h.p.Underruns() != 1 {
		t.Errorf("Underruns = %d, want 1", h.p.Underruns())
	}
	for _, v := range out {
		if v != 0 {
			t.Fatal("underrun should be zero-filled")
		}
	}
}

func TestPendingFadeIn(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.p.SetPendingFadeIn(1000)
	h.loadAndPlay(t, "f.fake")
	if !h.p.IsFadingIn() {
		t.Error("IsFadingIn() = false after a load with pending fade-in")
	}

	h.loadAndPlay(t, "g.fake")
	if h.p.IsFadingIn() {
		t.Error("pending fade-in should apply to one load only")
	}
}

// --- Failures ---

func TestLoadFailure(t *testing.T) {
	for _, path := range []string{"/music/bad.fake", "/music/song.xyz"} {
		t.Run(path, func(t *testing.T) {
			h := newHarness(t, -1, 0)
			h.p.Load(path)
			waitFor(t, "load", func() bool { return !h.p.IsLoading() })
			h.p.Play()
			if h.p.IsLoaded() {
				t.Error("IsLoaded() = true after failed load")
			}
			if h.p.State() != Stopped {
				t.Errorf("State = %v, want Stopped", h.p.State())
			}
			if !errors.Is(h.p.LoadError(), ErrLoadFailed) {
				t.Errorf("LoadError = %v, want ErrLoadFailed", h.p.LoadError())
			}
		})
	}
}

func TestLoadFailureThenSuccess(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "bad.fake")
	h.loadAndPlay(t, "good.fake")
	if !h.p.IsLoaded() || h.p.LoadError() != nil {
		t.Errorf("loop should survive a failed load: loaded=%v err=%v", h.p.IsLoaded(), h.p.LoadError())
	}
}

// gatedDecoder blocks in Open until release is closed.
type gatedDecoder struct {
	fakeDecoder
	entered chan<- struct{}
	release <-chan struct{}
}

func (d *gatedDecoder) Open(path, hint string) error {
	d.entered <- struct{}{}
	<-d.release
	return d.fakeDecoder.Open(path, hint)
}

func TestQueuedLoadKeepsLoading(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	reg := decoder.NewRegistry()
	reg.Register(".fake", func() decoder.Decoder { return &fakeDecoder{total: -1} })
	reg.Register(".slow", func() decoder.Decoder {
		return &gatedDecoder{fakeDecoder: fakeDecoder{total: -1}, entered: entered, release: release}
	})
	p, err := NewPlayer(zerolog.Nop(), output.NewNull(), reg, Options{SampleRate: testRate, Volume: 100, RingCapacity: 8192})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })

	p.Load("first.slow")
	p.Play()
	<-entered
	p.Load("bad.fake")
	close(release)

	// The first load finishes while the second is queued; loading must
	// stay up until the second one has been handled.
	waitFor(t, "queued load", func() bool { return !p.IsLoading() })
	if p.IsLoaded() {
		t.Error("IsLoaded() = true after the queued load failed")
	}
	if err := p.LoadError(); !errors.Is(err, ErrLoadFailed) || !strings.Contains(err.Error(), "bad.fake") {
		t.Errorf("LoadError() = %v, want the failure of bad.fake", err)
	}
	if p.State() != Stopped {
		t.Errorf("state = %v, want Stopped", p.State())
	}
}

// --- End of track ---

func pumpUntil(t *testing.T, h *harness, cond func() bool) {
	t.Helper()
	waitFor(t, "condition while pumping", func() bool {
		h.device().Pump(256)
		return cond()
	})
}

func TestEndOfStream(t *testing.T) {
	h := newHarness(t, 3000, 0)
	var calls atomic.Int32
	h.p.SetOnTrackEnd(func() { calls.Add(1) })
	h.loadAndPlay(t, "short.fake")

	pumpUntil(t, h, func() bool { return h.p.State() == Stopped })
	if !h.p.HasTrackEnded() {
		t.Fatal("HasTrackEnded() = false at end of stream")
	}
	if h.p.HasTrackEnded() {
		t.Error("HasTrackEnded should clear on read")
	}
	if h.p.PositionSamples() != 3000 {
		t.Errorf("position = %d, want 3000", h.p.PositionSamples())
	}

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("end callback ran %d times, want 1", calls.Load())
	}
}

func TestEndOfKnownDuration(t *testing.T) {
	// 2 s at 1 kHz; the decoder itself never ends.
	h := newHarness(t, -1, 2)
	h.loadAndPlay(t, "loop.fake")
	if !h.p.TrackInfo().DurationKnown {
		t.Fatal("duration should be known")
	}
	pumpUntil(t, h, func() bool { return h.p.State() == Stopped })
	if !h.p.HasTrackEnded() {
		t.Error("HasTrackEnded() = false after known duration elapsed")
	}
	if pos := h.p.PositionSamples(); pos < 2000 || pos > 2000+RenderFrames {
		t.Errorf("position = %d, want within one chunk of 2000", pos)
	}
}

func TestPlayedSamplesExcludesQueuedAudio(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "loop.fake")

	// Nothing has reached the device yet, however much was rendered.
	waitFor(t, "ring to fill", func() bool {
		return h.p.PositionSamples() >= 2048 && h.p.PlayedSamples() == 0
	})
	h.device().Pump(500)
	waitFor(t, "played to advance", func() bool { return h.p.PlayedSamples() == 500 })
	if h.p.PositionSamples() < 2048 {
		t.Errorf("position = %d, want at least 2048", h.p.PositionSamples())
	}
}

// --- Stop / pause ---

func TestPauseStopsRendering(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "p.fake")
	waitFor(t, "rendering", func() bool { return h.p.PositionSamples() > 0 })

	h.p.Pause()
	if h.device().Started() {
		t.Error("device still running after Pause")
	}
	time.Sleep(20 * time.Millisecond)
	pos := h.p.PositionSamples()
	time.Sleep(30 * time.Millisecond)
	if h.p.PositionSamples() != pos {
		t.Error("position advanced while paused")
	}
	if h.p.State() != Paused {
		t.Errorf("State = %v, want Paused", h.p.State())
	}
}

func TestStopRewinds(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "s.fake")
	waitFor(t, "rendering", func() bool { return h.p.PositionSamples() >= 2048 })

	h.p.Stop()
	waitFor(t, "rewind", func() bool { return !h.p.IsLoading() })
	if h.p.State() != Stopped || h.p.PositionSamples() != 0 {
		t.Errorf("after Stop: state=%v pos=%d", h.p.State(), h.p.PositionSamples())
	}
	if !h.p.IsLoaded() {
		t.Error("track should stay loaded after Stop")
	}
}

// --- Waveform ---

func TestReadWaveformNewest(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "w.fake")
	waitFor(t, "rendering", func() bool { return h.p.PositionSamples() >= 3000 })
	h.p.Pause()
	time.Sleep(30 * time.Millisecond)

	pos := h.p.PositionSamples()
	out := make([]float32, 64)
	if n := h.p.ReadWaveform(out); n != 64 {
		t.Fatalf("ReadWaveform = %d, want 64", n)
	}
	last := float32((pos-1)%30000) / 32768
	if out[63] != last {
		t.Errorf("newest sample = %v, want %v (frame %d)", out[63], last, pos-1)
	}
	if n := h.p.ReadWaveform(out); n != 0 {
		t.Errorf("second read = %d, want 0 (nothing new rendered)", n)
	}
}

// --- Shutdown ---

func TestCloseIdempotent(t *testing.T) {
	h := newHarness(t, -1, 0)
	h.loadAndPlay(t, "c.fake")
	if err := h.p.Close(); err != nil {
		t.Fatal(err)
	}
	if !h.device().Closed() {
		t.Error("device not closed")
	}
	if err := h.p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
