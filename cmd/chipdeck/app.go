package main

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/chipdeck/internal/audio"
	"github.com/satindergrewal/chipdeck/internal/config"
	"github.com/satindergrewal/chipdeck/internal/decoder"
	"github.com/satindergrewal/chipdeck/internal/output"
	"github.com/satindergrewal/chipdeck/internal/playlist"
	"github.com/satindergrewal/chipdeck/internal/scanner"
	"github.com/satindergrewal/chipdeck/internal/sequencer"
	"github.com/satindergrewal/chipdeck/internal/stream"
)

// app ties the engine, sequencer and scanner together and runs the
// control loop.
type app struct {
	cfg config.Config
	log zerolog.Logger

	backend  output.Backend
	decoders *decoder.Registry
	player   *audio.Player
	seq      *sequencer.Sequencer
	scan     *scanner.Scanner

	// set when the stream backend is in use
	broadcaster *stream.Broadcaster
	webrtc      *stream.WebRTCHandler
	frames      <-chan []int16

	sortMode atomic.Int32 // playlist.SortMode

	// control loop only
	staged   []playlist.TrackEntry
	scanning bool

	kick   chan struct{} // runs the next control tick immediately
	rescan chan struct{}
}

func newApp(cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		decoders: decoder.Default(),
		kick:     make(chan struct{}, 1),
		rescan:   make(chan struct{}, 1),
	}

	sortMode, err := playlist.ParseSort(cfg.Sort)
	if err != nil {
		log.Warn().Err(err).Msg("using name sort")
	}
	a.sortMode.Store(int32(sortMode))
	repeat, err := playlist.ParseRepeat(cfg.Repeat)
	if err != nil {
		log.Warn().Err(err).Msg("repeat disabled")
	}

	rate := cfg.SampleRate
	if cfg.Backend == "stream" {
		sb := stream.NewBackend(log.With().Str("component", "stream").Logger())
		output.Register("stream", func(zerolog.Logger) (output.Backend, error) { return sb, nil })
		a.frames = sb.Frames()
		a.broadcaster = stream.NewBroadcaster(log.With().Str("component", "broadcast").Logger())
		a.webrtc = stream.NewWebRTCHandler(log.With().Str("component", "webrtc").Logger(), a.broadcaster, "chipdeck")
		rate = stream.SampleRate
	}

	a.backend, err = output.New(cfg.Backend, log.With().Str("component", "output").Logger())
	if err != nil {
		return nil, err
	}

	a.player, err = audio.NewPlayer(log.With().Str("component", "engine").Logger(), a.backend, a.decoders, audio.Options{
		SampleRate: rate,
		Device:     cfg.AudioDevice,
		Volume:     cfg.Volume,
		Muted:      cfg.Mute,
	})
	if err != nil {
		a.backend.Close()
		return nil, err
	}
	a.player.SetOnTrackEnd(a.poke)

	a.seq = sequencer.New(log.With().Str("component", "sequencer").Logger(), a.player, sequencer.Options{
		Volume:      cfg.Volume,
		Muted:       cfg.Mute,
		Repeat:      repeat,
		Shuffle:     cfg.Shuffle,
		Crossfade:   cfg.Crossfade,
		CrossfadeMs: cfg.CrossfadeMs,
	})
	a.scan = scanner.New(log.With().Str("component", "scanner").Logger(), a.decoders.Supports)
	return a, nil
}

// poke wakes the control loop without waiting for the next tick.
func (a *app) poke() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// requestRescan asks the control loop to rescan the music directory.
func (a *app) requestRescan() {
	select {
	case a.rescan <- struct{}{}:
	default:
	}
}

func (a *app) startScan() error {
	a.staged = nil
	if err := a.scan.Start(a.cfg.MusicDir, a.cfg.Recursive); err != nil {
		a.scanning = false
		return err
	}
	a.scanning = true
	return nil
}

// drainScan collects scanner batches and, once the walk is over, swaps the
// result into the playlist, keeping the current and selected tracks.
func (a *app) drainScan() {
	if !a.scanning {
		return
	}
	running := a.scan.Running()
	a.staged = append(a.staged, a.scan.ConsumeBatch()...)
	if running {
		return
	}
	a.staged = append(a.staged, a.scan.ConsumeBatch()...)
	a.scanning = false

	items := a.staged
	a.staged = nil
	mode := a.sort()
	a.seq.WithPlaylist(func(p *playlist.Playlist) {
		curPath, selPath := pathAt(p, p.Current()), pathAt(p, p.Selected())
		p.SetItems(items)
		p.Sort(mode)
		p.SetCurrent(p.FindIndexByPath(curPath))
		sel := p.FindIndexByPath(selPath)
		if sel < 0 && p.Len() > 0 {
			sel = 0
		}
		p.SetSelected(sel)
	})
	a.log.Info().Int("tracks", len(items)).Str("sort", mode.String()).Msg("library loaded")
}

func pathAt(p *playlist.Playlist, i int) string {
	e, _ := p.At(i)
	return e.Path
}

func (a *app) sort() playlist.SortMode { return playlist.SortMode(a.sortMode.Load()) }

// setSort reorders the playlist, keeping the same tracks under the cursors.
func (a *app) setSort(mode playlist.SortMode) {
	a.sortMode.Store(int32(mode))
	a.seq.WithPlaylist(func(p *playlist.Playlist) {
		curPath, selPath := pathAt(p, p.Current()), pathAt(p, p.Selected())
		p.Sort(mode)
		p.SetCurrent(p.FindIndexByPath(curPath))
		p.SetSelected(p.FindIndexByPath(selPath))
	})
}

// tracks returns the playlist entries matching query with their indices.
func (a *app) tracks(query string) ([]int, []playlist.TrackEntry) {
	var idx []int
	var items []playlist.TrackEntry
	a.seq.WithPlaylist(func(p *playlist.Playlist) {
		idx = p.Filter(query)
		items = make([]playlist.TrackEntry, len(idx))
		for i, j := range idx {
			items[i], _ = p.At(j)
		}
	})
	return idx, items
}

// devices lists output devices with the default first.
func (a *app) devices() []string {
	names, err := a.player.Devices()
	if err != nil {
		a.log.Warn().Err(err).Msg("device enumeration failed")
	}
	return names
}

// selectDevice switches output to one of the devices() names.
func (a *app) selectDevice(name string) error {
	if !slices.Contains(a.devices(), name) {
		return fmt.Errorf("%w: %q", output.ErrUnknownDevice, name)
	}
	return a.player.SetOutputDevice(name)
}

// loop runs the control loop until ctx is done. Scan results are picked
// up here so the playlist only changes between sequencer ticks.
func (a *app) loop(ctx context.Context) error {
	if err := a.startScan(); err != nil {
		a.log.Error().Err(err).Str("dir", a.cfg.MusicDir).Msg("scan failed")
	}

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.scan.Stop()
			return nil
		case <-ticker.C:
		case <-a.kick:
		case <-a.rescan:
			if err := a.startScan(); err != nil {
				a.log.Error().Err(err).Msg("rescan failed")
			}
		}
		a.drainScan()
		a.seq.Tick()
	}
}

// close shuts the engine down: the decode loop stops before the device
// and backend are released.
func (a *app) close() {
	a.scan.Stop()
	if a.webrtc != nil {
		a.webrtc.Close()
	}
	if err := a.player.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing engine")
	}
	if err := a.backend.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing output backend")
	}
}
