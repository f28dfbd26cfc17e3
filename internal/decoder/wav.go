package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gopxl/beep/v2"
)

// NewWAV returns a PCM WAV decoder.
func NewWAV() Decoder {
	return &streamDecoder{kind: "wav", open: openWAV}
}

func openWAV(f *os.File) (source, beep.Format, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, beep.Format{}, errors.New("not a valid wav file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, beep.Format{}, fmt.Errorf("find pcm chunk: %w", err)
	}
	chans := int(dec.NumChans)
	depth := int(dec.BitDepth)
	if chans < 1 || (depth != 8 && depth != 16 && depth != 24 && depth != 32) {
		return nil, beep.Format{}, fmt.Errorf("unsupported layout: %d ch, %d bit", chans, depth)
	}

	s := &wavSource{
		dec:    dec,
		chans:  chans,
		depth:  depth,
		frames: dec.PCMSize / (chans * depth / 8),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: chans, SampleRate: int(dec.SampleRate)},
			SourceBitDepth: depth,
		},
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(dec.SampleRate),
		NumChannels: chans,
		Precision:   depth / 8,
	}
	return s, format, nil
}

// wavSource exposes go-audio's wav decoder as a beep.Streamer.
type wavSource struct {
	dec    *wav.Decoder
	chans  int
	depth  int
	frames int
	buf    *audio.IntBuffer
	err    error
}

func (s *wavSource) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil {
		return 0, false
	}
	need := len(samples) * s.chans
	if cap(s.buf.Data) < need {
		s.buf.Data = make([]int, need)
	}
	s.buf.Data = s.buf.Data[:need]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && err != io.EOF {
		s.err = err
	}
	frames := n / s.chans
	for i := 0; i < frames; i++ {
		l := s.norm(s.buf.Data[i*s.chans])
		r := l
		if s.chans > 1 {
			r = s.norm(s.buf.Data[i*s.chans+1])
		}
		samples[i] = [2]float64{l, r}
	}
	return frames, frames > 0
}

func (s *wavSource) norm(v int) float64 {
	if s.depth == 8 {
		return float64(v-128) / 128
	}
	return float64(v) / float64(int(1)<<(s.depth-1))
}

func (s *wavSource) Err() error { return s.err }
func (s *wavSource) Len() int   { return s.frames }

// Close is a no-op; the decoder owns the file.
func (s *wavSource) Close() error { return nil }
