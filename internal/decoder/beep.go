package decoder

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
)

// resampleQuality is the beep.Resample quality (1-64).
const resampleQuality = 4

// source is a decoded stream with a known frame count.
type source interface {
	beep.Streamer
	Len() int
	Close() error
}

type openFunc func(f *os.File) (source, beep.Format, error)

// streamDecoder adapts a beep streamer to Decoder, resampling to the output
// rate when the file's native rate differs.
type streamDecoder struct {
	kind string
	open openFunc

	outRate int
	file    *os.File
	src     source
	format  beep.Format
	s       beep.Streamer
	scratch [][2]float64
	done    bool
}

// NewMP3 returns an MP3 decoder.
func NewMP3() Decoder {
	return &streamDecoder{kind: "mp3", open: func(f *os.File) (source, beep.Format, error) {
		return mp3.Decode(f)
	}}
}

// NewFLAC returns a FLAC decoder.
func NewFLAC() Decoder {
	return &streamDecoder{kind: "flac", open: func(f *os.File) (source, beep.Format, error) {
		return flac.Decode(f)
	}}
}

// NewVorbis returns an Ogg Vorbis decoder.
func NewVorbis() Decoder {
	return &streamDecoder{kind: "vorbis", open: func(f *os.File) (source, beep.Format, error) {
		return vorbis.Decode(f)
	}}
}

func (d *streamDecoder) Open(path, dirHint string) error {
	d.Stop()

	f, err := os.Open(resolve(path, dirHint))
	if err != nil {
		return fmt.Errorf("%s: %w", d.kind, err)
	}
	src, format, err := d.open(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("%s: decode %s: %w", d.kind, path, err)
	}
	if format.SampleRate <= 0 {
		src.Close()
		f.Close()
		return fmt.Errorf("%s: %s: invalid sample rate %d", d.kind, path, format.SampleRate)
	}

	d.file = f
	d.src = src
	d.format = format
	d.done = false
	d.chain()
	return nil
}

func (d *streamDecoder) chain() {
	d.s = d.src
	if d.outRate > 0 && beep.SampleRate(d.outRate) != d.format.SampleRate {
		d.s = beep.Resample(resampleQuality, d.format.SampleRate, beep.SampleRate(d.outRate), d.src)
	}
}

func (d *streamDecoder) SetOutputRate(rate int) {
	if rate <= 0 || rate == d.outRate {
		return
	}
	d.outRate = rate
	if d.src != nil {
		d.chain()
	}
}

func (d *streamDecoder) Render(buf []int16, frames int) (int, error) {
	if d.s == nil || d.done {
		return 0, io.EOF
	}
	if frames > len(buf)/Channels {
		frames = len(buf) / Channels
	}
	if frames <= 0 {
		return 0, nil
	}
	if cap(d.scratch) < frames {
		d.scratch = make([][2]float64, frames)
	}

	n, ok := d.s.Stream(d.scratch[:frames])
	for i := 0; i < n; i++ {
		buf[i*2] = clip16(d.scratch[i][0])
		buf[i*2+1] = clip16(d.scratch[i][1])
	}
	if !ok {
		d.done = true
		if err := d.s.Err(); err != nil {
			return n, fmt.Errorf("%s: %w", d.kind, err)
		}
		if n == 0 {
			return 0, io.EOF
		}
	}
	return n, nil
}

func (d *streamDecoder) KnownLengthSeconds() int {
	if d.src == nil {
		return 0
	}
	frames := d.src.Len()
	if frames <= 0 {
		return 0
	}
	return int(math.Ceil(float64(frames) / float64(d.format.SampleRate)))
}

func (d *streamDecoder) Stop() {
	if d.src != nil {
		d.src.Close()
	}
	if d.file != nil {
		d.file.Close()
	}
	d.file = nil
	d.src = nil
	d.s = nil
	d.done = false
}
