// Package sequencer decides what the engine plays next: it applies the
// repeat and shuffle policy, schedules crossfades and turns engine events
// into user-facing status.
package sequencer

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/chipdeck/internal/audio"
	"github.com/satindergrewal/chipdeck/internal/playlist"
)

// Status messages shown to the user.
const (
	StatusReady      = "Ready"
	StatusPlaying    = "Playing"
	StatusPaused     = "Paused"
	StatusStopped    = "Stopped"
	StatusEnded      = "Playlist ended"
	StatusLoadFailed = "Failed to load track"
)

// MinCrossfadeMs is the shortest crossfade the sequencer will schedule.
const MinCrossfadeMs = 100

// Engine is the playback surface the sequencer drives. *audio.Player
// implements it.
type Engine interface {
	Load(path string)
	Play()
	Pause()
	Stop()
	SetVolume(v int)
	SetMute(m bool)
	StartFadeOut(ms int)
	SetPendingFadeIn(ms int)
	ResetFade()
	IsFadeOutComplete() bool
	State() audio.State
	IsLoading() bool
	IsLoaded() bool
	TrackInfo() audio.TrackInfo
	PositionSamples() int64
	PlayedSamples() int64
	HasTrackEnded() bool
}

// Options seeds the user-adjustable settings.
type Options struct {
	Volume      int
	Muted       bool
	Repeat      playlist.RepeatMode
	Shuffle     bool
	Crossfade   bool
	CrossfadeMs int
}

// Status is a snapshot for display and the HTTP API.
type Status struct {
	State         string  `json:"state"`
	Message       string  `json:"message"`
	Index         int     `json:"index"`
	Selected      int     `json:"selected"`
	Track         string  `json:"track"`
	Path          string  `json:"path"`
	Position      float64 `json:"position"` // seconds
	Duration      float64 `json:"duration"` // seconds; 0 when unknown
	DurationKnown bool    `json:"duration_known"`
	Loading       bool    `json:"loading"`
	Volume        int     `json:"volume"`
	Muted         bool    `json:"muted"`
	Shuffle       bool    `json:"shuffle"`
	Repeat        string  `json:"repeat"`
	Crossfade     bool    `json:"crossfade"`
	CrossfadeMs   int     `json:"crossfade_ms"`
	Fading        bool    `json:"fading"`
	Tracks        int     `json:"tracks"`
}

// Sequencer owns the playlist and drives an Engine from the control loop.
// All methods are safe for concurrent use.
type Sequencer struct {
	log    zerolog.Logger
	engine Engine

	mu          sync.Mutex
	list        *playlist.Playlist
	volume      int
	muted       bool
	repeat      playlist.RepeatMode
	shuffle     bool
	crossfade   bool
	crossfadeMs int
	status      string

	fadingToNext bool
	pendingPath  string // crossfade target; resolved again when the fade ends
	awaitingLoad bool
}

// New returns a sequencer over an empty playlist.
func New(log zerolog.Logger, engine Engine, opts Options) *Sequencer {
	s := &Sequencer{
		log:         log,
		engine:      engine,
		list:        playlist.New(),
		volume:      clampVolume(opts.Volume),
		muted:       opts.Muted,
		repeat:      opts.Repeat,
		shuffle:     opts.Shuffle,
		crossfade:   opts.Crossfade,
		crossfadeMs: max(MinCrossfadeMs, opts.CrossfadeMs),
		status:      StatusReady,
	}
	engine.SetVolume(s.volume)
	engine.SetMute(s.muted)
	return s
}

// WithPlaylist runs fn with exclusive access to the playlist.
func (s *Sequencer) WithPlaylist(fn func(p *playlist.Playlist)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.list)
}

// Tick advances the sequencer: it reports finished loads, completes
// crossfades, handles natural track ends and starts anticipatory fades.
// Call it from the control loop.
func (s *Sequencer) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.awaitingLoad && !s.engine.IsLoading() {
		s.awaitingLoad = false
		if !s.engine.IsLoaded() {
			s.status = StatusLoadFailed
			s.log.Warn().Int("index", s.list.Current()).Msg("track failed to load")
		}
	}

	ended := s.engine.HasTrackEnded()
	if s.fadingToNext {
		// A natural end mid-fade finishes the fade early.
		if s.engine.IsFadeOutComplete() || ended {
			next := s.pendingIndex()
			s.cancelFade()
			if !s.playIndex(next, true) {
				s.endPlaylist()
			}
		}
		return
	}
	if ended {
		s.advance()
		return
	}
	s.anticipate()
}

// PlayIndex starts entry i, optionally fading it in. It reports whether i
// named an entry.
func (s *Sequencer) PlayIndex(i int, fadeIn bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelFade()
	return s.playIndex(i, fadeIn)
}

// PlayNext moves to the next entry under the current policy, crossfading
// when enabled and something is playing.
func (s *Sequencer) PlayNext() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fadingToNext {
		next := s.pendingIndex()
		s.cancelFade()
		if !s.playIndex(next, true) {
			s.endPlaylist()
		}
		return
	}
	next := s.list.NextIndex(s.repeat, s.shuffle)
	if next < 0 {
		s.endPlaylist()
		return
	}
	if s.crossfade && s.engine.State() == audio.Playing && s.engine.IsLoaded() && !s.engine.IsLoading() {
		s.beginFade(next, s.crossfadeMs)
		return
	}
	s.playIndex(next, false)
}

// PlayPrev moves to the previous entry at full gain, cancelling any fade.
// At the start of the list it does nothing and a running fade carries on.
func (s *Sequencer) PlayPrev() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.list.PrevIndex(s.repeat)
	if prev < 0 {
		return
	}
	s.cancelFade()
	s.playIndex(prev, false)
}

// TogglePause pauses, resumes, or starts the selected entry when stopped.
func (s *Sequencer) TogglePause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.engine.State() {
	case audio.Playing:
		s.engine.Pause()
		s.status = StatusPaused
	case audio.Paused:
		s.engine.Play()
		s.status = StatusPlaying
	default:
		i := s.list.Selected()
		if i < 0 {
			i = max(0, s.list.Current())
		}
		s.cancelFade()
		s.playIndex(i, false)
	}
}

// Stop halts playback and drops any scheduled transition.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Stop()
	s.engine.ResetFade()
	s.cancelFade()
	s.status = StatusStopped
}

// Select moves the selection cursor.
func (s *Sequencer) Select(i int) {
	s.mu.Lock()
	s.list.SetSelected(i)
	s.mu.Unlock()
}

// SetVolume sets the volume in percent, clamped to 0..100.
func (s *Sequencer) SetVolume(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = clampVolume(v)
	s.engine.SetVolume(s.volume)
}

func (s *Sequencer) SetMute(m bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = m
	s.engine.SetMute(m)
}

// ToggleMute flips mute and returns the new value.
func (s *Sequencer) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = !s.muted
	s.engine.SetMute(s.muted)
	return s.muted
}

func (s *Sequencer) SetShuffle(on bool) {
	s.mu.Lock()
	s.shuffle = on
	s.mu.Unlock()
}

func (s *Sequencer) SetRepeat(r playlist.RepeatMode) {
	s.mu.Lock()
	s.repeat = r
	s.mu.Unlock()
}

// CycleRepeat steps Off -> One -> All and returns the new mode.
func (s *Sequencer) CycleRepeat() playlist.RepeatMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeat = s.repeat.Next()
	return s.repeat
}

// SetCrossfade enables or disables crossfading. ms <= 0 keeps the current
// length; positive values are raised to MinCrossfadeMs.
func (s *Sequencer) SetCrossfade(enabled bool, ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crossfade = enabled
	if ms > 0 {
		s.crossfadeMs = max(MinCrossfadeMs, ms)
	}
	if !enabled && s.fadingToNext {
		next := s.pendingIndex()
		s.cancelFade()
		if !s.playIndex(next, false) {
			s.endPlaylist()
		}
	}
}

// Message returns the current status line.
func (s *Sequencer) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Status returns a snapshot of playback and settings.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:       s.engine.State().String(),
		Message:     s.status,
		Index:       s.list.Current(),
		Selected:    s.list.Selected(),
		Loading:     s.engine.IsLoading(),
		Volume:      s.volume,
		Muted:       s.muted,
		Shuffle:     s.shuffle,
		Repeat:      s.repeat.String(),
		Crossfade:   s.crossfade,
		CrossfadeMs: s.crossfadeMs,
		Fading:      s.fadingToNext,
		Tracks:      s.list.Len(),
	}
	if e, ok := s.list.At(st.Index); ok {
		st.Track = e.DisplayName
		st.Path = e.Path
	}
	info := s.engine.TrackInfo()
	if s.engine.IsLoaded() && info.SampleRate > 0 {
		st.Position = float64(s.engine.PositionSamples()) / float64(info.SampleRate)
		if info.DurationKnown {
			st.DurationKnown = true
			st.Duration = info.Duration().Seconds()
		}
	}
	return st
}

// playIndex loads entry i and starts it. Callers hold mu and have already
// dealt with any fade in progress.
func (s *Sequencer) playIndex(i int, fadeIn bool) bool {
	e, ok := s.list.At(i)
	if !ok {
		return false
	}
	if fadeIn {
		s.engine.SetPendingFadeIn(s.crossfadeMs)
	} else {
		s.engine.SetPendingFadeIn(0)
	}
	s.engine.Load(e.Path)
	s.list.SetCurrent(i)
	s.engine.SetVolume(s.volume)
	s.engine.SetMute(s.muted)
	s.engine.Play()
	s.awaitingLoad = true
	s.status = StatusPlaying
	s.log.Info().Int("index", i).Str("track", e.DisplayName).Bool("fade_in", fadeIn).Msg("play")
	return true
}

func (s *Sequencer) advance() {
	next := s.list.NextIndex(s.repeat, s.shuffle)
	if next < 0 {
		s.endPlaylist()
		return
	}
	s.playIndex(next, false)
}

func (s *Sequencer) endPlaylist() {
	s.engine.Stop()
	s.cancelFade()
	s.status = StatusEnded
	s.log.Info().Msg("playlist ended")
}

// anticipate starts fading out the current track when its remaining time
// drops inside the crossfade window.
func (s *Sequencer) anticipate() {
	if !s.crossfade || s.engine.State() != audio.Playing || s.engine.IsLoading() || !s.engine.IsLoaded() {
		return
	}
	info := s.engine.TrackInfo()
	if !info.DurationKnown || info.SampleRate <= 0 {
		return
	}
	// Measured from what has been heard, not rendered, so the queued tail
	// is part of the fade.
	remaining := (info.DurationSamples - s.engine.PlayedSamples()) * 1000 / int64(info.SampleRate)
	if remaining <= 0 || remaining > int64(s.crossfadeMs) {
		return
	}
	next := s.list.NextIndex(s.repeat, s.shuffle)
	if next < 0 {
		return
	}
	s.beginFade(next, int(remaining))
}

func (s *Sequencer) beginFade(next, ms int) {
	s.engine.IsFadeOutComplete() // drop a completion left by an abandoned fade
	s.engine.StartFadeOut(ms)
	s.fadingToNext = true
	e, _ := s.list.At(next)
	s.pendingPath = e.Path
	s.log.Debug().Int("next", next).Int("ms", ms).Msg("crossfade started")
}

// pendingIndex finds the crossfade target in the playlist as it is now;
// a sort or rescan may have moved or removed it. -1 when it is gone.
func (s *Sequencer) pendingIndex() int {
	if s.pendingPath == "" {
		return -1
	}
	return s.list.FindIndexByPath(s.pendingPath)
}

func (s *Sequencer) cancelFade() {
	s.fadingToNext = false
	s.pendingPath = ""
}

func clampVolume(v int) int {
	return min(100, max(0, v))
}
