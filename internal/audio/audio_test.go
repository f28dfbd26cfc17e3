package audio

import (
	"testing"
	"time"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	if Channels != 2 {
		t.Errorf("Channels = %d, want 2", Channels)
	}
	if RingCapacity%(RenderFrames*Channels) != 0 {
		t.Errorf("RingCapacity %d is not a whole number of render chunks", RingCapacity)
	}
}

// --- FrameDurationMs ---

func TestFrameDurationMs(t *testing.T) {
	tests := []struct {
		frames, rate, want int
	}{
		{1024, 44100, 23},
		{1024, 48000, 21},
		{960, 48000, 20},
		{1, 48000, 1}, // floored at 1ms
		{0, 44100, 0},
		{1024, 0, 0},
		{-5, 44100, 0},
	}
	for _, tt := range tests {
		if got := FrameDurationMs(tt.frames, tt.rate); got != tt.want {
			t.Errorf("FrameDurationMs(%d, %d) = %d, want %d", tt.frames, tt.rate, got, tt.want)
		}
	}
}

// --- FadeSamples ---

func TestFadeSamples(t *testing.T) {
	tests := []struct {
		ms, rate, ch, want int
	}{
		{1000, 44100, 2, 88200},
		{750, 44100, 2, 66150},
		{10, 44100, 2, 882},
		{1, 44100, 1, 45}, // 44.1 rounds up
		{0, 44100, 2, 1},
		{-20, 44100, 2, 1},
	}
	for _, tt := range tests {
		if got := FadeSamples(tt.ms, tt.rate, tt.ch); got != tt.want {
			t.Errorf("FadeSamples(%d, %d, %d) = %d, want %d", tt.ms, tt.rate, tt.ch, got, tt.want)
		}
	}
}

// --- Sample conversion ---

func TestInt16ToFloat(t *testing.T) {
	src := []int16{0, 16384, -32768, 32767}
	dst := make([]float32, len(src))
	int16ToFloat(dst, src)
	want := []float32{0, 0.5, -1, 32767.0 / 32768}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestFloatToInt16Clips(t *testing.T) {
	src := []float32{0, 1, -1, 2, -2, 0.5}
	dst := make([]int16, len(src))
	FloatToInt16(dst, src)
	want := []int16{0, 32767, -32767, 32767, -32768, 16383}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, dst[i], want[i])
		}
	}
}

func TestSamplesToBytes(t *testing.T) {
	got := SamplesToBytes([]int16{1, -1, 256})
	want := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x01}
	if string(got) != string(want) {
		t.Errorf("SamplesToBytes = %x, want %x", got, want)
	}
}

// --- State / TrackInfo ---

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Stopped: "Stopped", Playing: "Playing", Paused: "Paused"} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestNewTrackInfo(t *testing.T) {
	info := newTrackInfo("/music/pmd/opening.wav", 44100, 2, 10)
	if info.DisplayName != "opening.wav" {
		t.Errorf("DisplayName = %q", info.DisplayName)
	}
	if !info.DurationKnown || info.DurationSamples != 441000 {
		t.Errorf("duration = (%v, %d), want (true, 441000)", info.DurationKnown, info.DurationSamples)
	}
	if info.Duration() != 10*time.Second {
		t.Errorf("Duration() = %v, want 10s", info.Duration())
	}

	unknown := newTrackInfo("loop.wav", 44100, 2, 0)
	if unknown.DurationKnown || unknown.DurationSamples != 0 || unknown.Duration() != 0 {
		t.Errorf("unknown length track = %+v", unknown)
	}
}
