package audio

import (
	"encoding/binary"
	"path/filepath"
	"time"
)

const (
	DefaultSampleRate = 44100
	Channels          = 2
	RenderFrames      = 1024   // frames rendered per decode iteration
	RingCapacity      = 262144 // samples per ring (~3s of stereo at 44.1kHz)

	pollInterval   = 5 * time.Millisecond
	underrunLogGap = time.Second
)

// State is the engine's playback state.
type State int32

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// TrackInfo describes the track produced by the last successful load.
type TrackInfo struct {
	Path            string
	DisplayName     string
	SampleRate      int
	Channels        int
	DurationKnown   bool
	DurationSamples int64 // frames; zero when DurationKnown is false
}

func newTrackInfo(path string, rate, channels, lengthSec int) TrackInfo {
	info := TrackInfo{
		Path:        path,
		DisplayName: filepath.Base(path),
		SampleRate:  rate,
		Channels:    channels,
	}
	if lengthSec > 0 {
		info.DurationKnown = true
		info.DurationSamples = int64(lengthSec) * int64(rate)
	}
	return info
}

// Duration returns the known track length, or 0 when unknown.
func (t TrackInfo) Duration() time.Duration {
	if !t.DurationKnown || t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(t.DurationSamples) * time.Second / time.Duration(t.SampleRate)
}

// FrameDurationMs returns how long frames take to play at sampleRate,
// never less than 1ms for positive input.
func FrameDurationMs(frames, sampleRate int) int {
	if frames <= 0 || sampleRate <= 0 {
		return 0
	}
	return max(1, int(int64(frames)*1000/int64(sampleRate)))
}

// FadeSamples converts a fade length in milliseconds to interleaved samples,
// floored at 1.
func FadeSamples(ms, sampleRate, channels int) int {
	total := int64(ms) * int64(sampleRate) * int64(channels)
	if total <= 0 {
		return 1
	}
	return int((total + 999) / 1000)
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// FloatToInt16 converts normalized float32 samples to int16 with clipping.
func FloatToInt16(dst []int16, src []float32) {
	for i, v := range src {
		s := v * 32767
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		dst[i] = int16(s)
	}
}

func int16ToFloat(dst []float32, src []int16) {
	for i, s := range src {
		dst[i] = float32(s) / 32768
	}
}
