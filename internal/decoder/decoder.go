// Package decoder turns audio files into interleaved signed 16-bit stereo PCM
// at a caller-chosen output rate.
package decoder

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Channels is the channel count every decoder renders.
const Channels = 2

// ErrUnsupported is returned for files no registered decoder handles.
var ErrUnsupported = errors.New("decoder: unsupported format")

// Decoder renders one track. A Decoder is used by a single goroutine.
type Decoder interface {
	// Open prepares path for rendering. dirHint is the directory the file
	// was found in and resolves relative paths.
	Open(path, dirHint string) error
	// SetOutputRate sets the rate Render produces. It may be called before
	// Open and between Render calls.
	SetOutputRate(rate int)
	// Render writes up to frames stereo frames into buf, which must hold at
	// least frames*Channels samples. It returns io.EOF once the track is
	// exhausted and no frames were written.
	Render(buf []int16, frames int) (int, error)
	// KnownLengthSeconds returns the track length rounded up, or 0 if the
	// format does not know it.
	KnownLengthSeconds() int
	// Stop releases the open file. The decoder may be opened again.
	Stop()
}

// Factory creates an unopened decoder.
type Factory func() Decoder

// Registry maps lowercase file extensions (".mp3") to decoder factories.
type Registry struct {
	byExt map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: map[string]Factory{}}
}

// Default returns a registry with every built-in format.
func Default() *Registry {
	r := NewRegistry()
	r.Register(".wav", func() Decoder { return NewWAV() })
	r.Register(".mp3", func() Decoder { return NewMP3() })
	r.Register(".flac", func() Decoder { return NewFLAC() })
	r.Register(".ogg", func() Decoder { return NewVorbis() })
	return r
}

// Register binds ext to f, replacing any previous binding.
func (r *Registry) Register(ext string, f Factory) {
	r.byExt[normExt(ext)] = f
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[normExt(filepath.Ext(path))]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for e := range r.byExt {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	return exts
}

// New returns an unopened decoder for path.
func (r *Registry) New(path string) (Decoder, error) {
	f, ok := r.byExt[normExt(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}
	return f(), nil
}

func normExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func resolve(path, dirHint string) string {
	if filepath.IsAbs(path) || dirHint == "" {
		return path
	}
	return filepath.Join(dirHint, path)
}

func clip16(v float64) int16 {
	s := v * 32767
	switch {
	case s > 32767:
		return 32767
	case s < -32768:
		return -32768
	}
	return int16(s)
}
