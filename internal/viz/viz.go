// Package viz turns waveform snapshots from the engine into bar levels and
// renders them as a text strip.
package viz

import (
	"math"
	"math/cmplx"
	"strings"

	"github.com/mjibson/go-dsp/fft"
)

// Block elements for bar height, empty to full.
var blocks = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// floorDB is the level that maps to an empty bar.
const floorDB = -60.0

// Mono averages interleaved frames down to one channel.
func Mono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Peaks splits samples into bars equal buckets and returns the largest
// absolute value in each, clamped to 1. Empty buckets read 0.
func Peaks(samples []float32, bars int) []float64 {
	if bars <= 0 {
		return nil
	}
	out := make([]float64, bars)
	n := len(samples)
	for b := range bars {
		lo, hi := b*n/bars, (b+1)*n/bars
		var peak float64
		for _, s := range samples[lo:hi] {
			peak = max(peak, math.Abs(float64(s)))
		}
		out[b] = min(1, peak)
	}
	return out
}

// Spectrum returns bars log-spaced frequency band levels in [0,1] for mono
// samples. Each band reports its loudest bin; a full-scale sine reads 1 and
// anything at or below -60 dBFS reads 0.
func Spectrum(samples []float32, bars int) []float64 {
	if bars <= 0 {
		return nil
	}
	out := make([]float64, bars)
	n := len(samples)
	if n < 4 {
		return out
	}

	// Periodic Hann window.
	x := make([]float64, n)
	for i, s := range samples {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
		x[i] = float64(s) * w
	}
	coeffs := fft.FFTReal(x)

	half := n / 2
	edges := bandEdges(half, bars)
	norm := float64(n) / 4 // |X[k]| of a unit sine under a Hann window
	for b := range bars {
		var peak float64
		for k := edges[b]; k < edges[b+1]; k++ {
			peak = max(peak, cmplx.Abs(coeffs[k]))
		}
		if peak <= 0 {
			continue
		}
		db := 20 * math.Log10(peak/norm)
		out[b] = max(0, min(1, (db-floorDB)/-floorDB))
	}
	return out
}

// bandEdges splits bins [1, half] into bars log-spaced bands. Band b covers
// [edges[b], edges[b+1]); every band holds at least one bin while bins last.
func bandEdges(half, bars int) []int {
	edges := make([]int, bars+1)
	edges[0] = 1
	for b := 1; b <= bars; b++ {
		e := int(math.Round(math.Pow(float64(half), float64(b)/float64(bars))))
		edges[b] = min(half, max(edges[b-1]+1, e))
	}
	edges[bars] = half
	return edges
}

// Render draws levels as block bars sized to fill width, one space between
// bars. It returns "" when width cannot fit one column per bar.
func Render(levels []float64, width int) string {
	n := len(levels)
	if n == 0 || width < 2*n-1 {
		return ""
	}
	bw := max(1, (width-(n-1))/n)

	var sb strings.Builder
	for i, level := range levels {
		idx := int(level * float64(len(blocks)-1))
		idx = max(0, min(idx, len(blocks)-1))
		sb.WriteString(strings.Repeat(blocks[idx], bw))
		if i < n-1 {
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
