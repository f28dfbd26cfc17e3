package audio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

const idleWait = 10 * time.Millisecond

// run is the decode goroutine. It wakes on load requests or after the wait
// chosen by the previous step, whichever comes first.
func (p *Player) run() {
	defer close(p.done)

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	wait := pollInterval
	for {
		timer.Reset(wait)
		select {
		case <-p.quit:
			p.stopDecoder()
			return
		case <-p.wake:
		case <-timer.C:
		}

		if path, ok := p.takeRequest(); ok {
			p.load(path)
		}
		p.syncFormat()
		wait = p.step()
		p.reportUnderruns()
	}
}

func (p *Player) takeRequest() (string, bool) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	if !p.hasReq {
		return "", false
	}
	p.hasReq = false
	return p.reqPath, true
}

func (p *Player) load(path string) {
	p.pauseDevice()
	p.stopDecoder()

	p.out.Clear()
	p.vizMu.Lock()
	p.viz.Clear()
	p.vizMu.Unlock()
	p.position.Store(0)
	p.trackEnded.Store(false)
	p.endFired = false
	p.eof = false

	rate := int(p.rate.Load())
	dec, err := p.decoders.New(path)
	if err == nil {
		dec.SetOutputRate(rate)
		err = dec.Open(path, filepath.Dir(path))
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrLoadFailed, filepath.Base(path), err)
		p.log.Error().Err(err).Str("path", path).Msg("load failed")
		p.trackMu.Lock()
		p.loadErr = err
		p.trackMu.Unlock()
		p.settleLoad(func() {
			p.pendingFadeIn.Store(0)
			p.state.Store(int32(Stopped))
		})
		return
	}

	p.dec = dec
	p.seenGen = p.formatGen.Load()
	info := newTrackInfo(path, rate, int(p.channels.Load()), dec.KnownLengthSeconds())
	p.trackMu.Lock()
	p.track = info
	p.loadErr = nil
	p.trackMu.Unlock()
	p.loaded.Store(true)

	settled := p.settleLoad(func() {
		if ms := int(p.pendingFadeIn.Swap(0)); ms > 0 {
			p.fade.FadeIn(FadeSamples(ms, rate, int(p.channels.Load())))
		} else {
			p.fade.Reset()
		}
	})
	if !settled {
		p.log.Debug().Str("track", info.DisplayName).Msg("load superseded")
		return
	}
	p.log.Info().Str("track", info.DisplayName).Dur("duration", info.Duration()).Msg("loaded")
	if p.State() == Playing {
		p.resumeDevice()
	}
}

// settleLoad runs finish and clears the loading flag, unless a newer Load
// is already queued: then the next pass owns both and it reports false.
func (p *Player) settleLoad(finish func()) bool {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	if p.hasReq {
		return false
	}
	finish()
	p.loading.Store(false)
	return true
}

func (p *Player) stopDecoder() {
	if p.dec != nil {
		p.dec.Stop()
		p.dec = nil
	}
	p.loaded.Store(false)
}

// syncFormat follows a device switch that changed the output rate.
func (p *Player) syncFormat() {
	gen := p.formatGen.Load()
	if gen == p.seenGen || p.dec == nil {
		return
	}
	p.seenGen = gen
	rate := int(p.rate.Load())
	p.dec.SetOutputRate(rate)

	p.trackMu.Lock()
	old := p.track.SampleRate
	if old > 0 && old != rate {
		p.position.Store(p.position.Load() * int64(rate) / int64(old))
		p.track.DurationSamples = p.track.DurationSamples * int64(rate) / int64(old)
		p.track.SampleRate = rate
	}
	p.track.Channels = int(p.channels.Load())
	p.trackMu.Unlock()
}

// step renders one chunk if there is room and returns how long to wait
// before the next iteration.
func (p *Player) step() time.Duration {
	if p.State() != Playing || p.dec == nil || p.endFired {
		return idleWait
	}

	if !p.loading.Load() && p.reachedEnd() {
		// Let the device play out what is already buffered.
		if p.out.Available() > 0 {
			return pollInterval
		}
		p.endTrack()
		return idleWait
	}

	rate := int(p.rate.Load())
	if p.out.Available() > p.out.Capacity()*3/4 {
		return time.Duration(FrameDurationMs(RenderFrames, rate)) * time.Millisecond
	}

	n, err := p.dec.Render(p.pcm, RenderFrames)
	if n > 0 {
		samples := p.convert(n)
		p.out.Write(samples)
		p.viz.Write(samples)
		p.position.Add(int64(n))
	}
	if err != nil {
		if !errors.Is(err, io.EOF) {
			p.log.Warn().Err(err).Msg("decode error, ending track")
		}
		p.eof = true
	}
	return pollInterval
}

func (p *Player) reachedEnd() bool {
	if p.eof {
		return true
	}
	info := p.TrackInfo()
	return info.DurationKnown && p.position.Load() >= info.DurationSamples
}

func (p *Player) endTrack() {
	p.endFired = true
	p.trackEnded.Store(true)
	p.state.Store(int32(Stopped))
	p.pauseDevice()

	p.cbMu.Lock()
	fn := p.onTrackEnd
	p.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}

// convert maps n rendered stereo frames to the device channel layout.
func (p *Player) convert(n int) []float32 {
	ch := int(p.channels.Load())
	if need := RenderFrames * max(ch, Channels); len(p.fbuf) < need {
		p.fbuf = make([]float32, need)
	}
	src := p.pcm[:n*Channels]
	if ch == Channels {
		out := p.fbuf[:n*Channels]
		int16ToFloat(out, src)
		return out
	}

	out := p.fbuf[:n*ch]
	for i := 0; i < n; i++ {
		l := float32(src[i*2]) / 32768
		r := float32(src[i*2+1]) / 32768
		if ch == 1 {
			out[i] = (l + r) / 2
			continue
		}
		frame := out[i*ch : (i+1)*ch]
		frame[0], frame[1] = l, r
		clear(frame[2:])
	}
	return out
}

func (p *Player) reportUnderruns() {
	u := p.underruns.Load()
	if u <= p.loggedUnderruns {
		return
	}
	now := time.Now().UnixNano()
	if now-p.lastUnderrunLog < int64(underrunLogGap) {
		return
	}
	p.log.Warn().Uint64("underruns", u).Uint64("new", u-p.loggedUnderruns).Msg("audio underrun detected")
	p.loggedUnderruns = u
	p.lastUnderrunLog = now
}
