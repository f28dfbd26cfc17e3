package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/satindergrewal/chipdeck/internal/playlist"
	"github.com/satindergrewal/chipdeck/internal/viz"
)

// errQuit ends the REPL and, through the errgroup, the whole program.
var errQuit = errors.New("quit")

const helpText = `commands:
  play N        play track N (from list/find)
  next, prev    skip forward or back
  pause         toggle pause
  stop          stop playback
  vol N         set volume 0-100
  mute          toggle mute
  shuffle       toggle shuffle
  repeat        cycle repeat off/one/all
  sort MODE     sort by name, date or size
  find TEXT     list tracks whose name contains TEXT
  list          list all tracks
  devices       list output devices
  device N      switch to device N
  xfade on|off|MS
  wave          show the current waveform
  status        show what is playing
  rescan        rescan the music directory
  quit`

func (a *app) completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("play"),
		readline.PcItem("next"),
		readline.PcItem("prev"),
		readline.PcItem("pause"),
		readline.PcItem("stop"),
		readline.PcItem("vol"),
		readline.PcItem("mute"),
		readline.PcItem("shuffle"),
		readline.PcItem("repeat"),
		readline.PcItem("sort",
			readline.PcItem("name"),
			readline.PcItem("date"),
			readline.PcItem("size"),
		),
		readline.PcItem("find"),
		readline.PcItem("list"),
		readline.PcItem("devices"),
		readline.PcItem("device"),
		readline.PcItem("xfade",
			readline.PcItem("on"),
			readline.PcItem("off"),
		),
		readline.PcItem("wave"),
		readline.PcItem("status"),
		readline.PcItem("rescan"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// repl reads commands until quit, EOF or ctx is done.
func (a *app) repl(ctx context.Context) error {
	history := ""
	if dir, err := os.UserCacheDir(); err == nil {
		history = filepath.Join(dir, "chipdeck_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "chipdeck> ",
		HistoryFile:     history,
		AutoComplete:    a.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("repl: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	fmt.Fprintln(rl.Stdout(), `chipdeck ready, type "help" for commands`)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return errQuit
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return errQuit
			}
			return fmt.Errorf("repl: %w", err)
		}
		if err := a.exec(rl.Stdout(), line); err != nil {
			if errors.Is(err, errQuit) {
				return errQuit
			}
			fmt.Fprintln(rl.Stdout(), "error:", err)
		}
	}
}

// exec runs one command line, writing its output to w.
func (a *app) exec(w io.Writer, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "":
	case "help", "?":
		fmt.Fprintln(w, helpText)
	case "play", "p":
		if arg == "" {
			a.seq.TogglePause()
			break
		}
		i, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("play: %q is not a track number", arg)
		}
		if !a.seq.PlayIndex(i, false) {
			return fmt.Errorf("play: no track %d", i)
		}
	case "next", "n":
		a.seq.PlayNext()
	case "prev":
		a.seq.PlayPrev()
	case "pause", "space":
		a.seq.TogglePause()
	case "stop":
		a.seq.Stop()
	case "vol", "volume":
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("vol: %q is not a number", arg)
		}
		a.seq.SetVolume(v)
		fmt.Fprintf(w, "volume %d%%\n", a.seq.Status().Volume)
	case "mute":
		if a.seq.ToggleMute() {
			fmt.Fprintln(w, "muted")
		} else {
			fmt.Fprintln(w, "unmuted")
		}
	case "shuffle":
		on := !a.seq.Status().Shuffle
		a.seq.SetShuffle(on)
		fmt.Fprintf(w, "shuffle %s\n", onOff(on))
	case "repeat":
		fmt.Fprintf(w, "repeat %s\n", a.seq.CycleRepeat())
	case "sort":
		mode, err := playlist.ParseSort(arg)
		if err != nil {
			return err
		}
		a.setSort(mode)
		fmt.Fprintf(w, "sorted by %s\n", mode)
	case "find", "/":
		a.printTracks(w, arg)
	case "list", "ls":
		a.printTracks(w, "")
	case "devices":
		current := a.player.OutputDevice()
		for i, d := range a.devices() {
			mark := " "
			if d == current {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %2d  %s\n", mark, i, d)
		}
	case "device":
		i, err := strconv.Atoi(arg)
		devs := a.devices()
		if err != nil || i < 0 || i >= len(devs) {
			return fmt.Errorf("device: pick a number from 'devices'")
		}
		if err := a.selectDevice(devs[i]); err != nil {
			return err
		}
		fmt.Fprintf(w, "output: %s (%s)\n", a.player.OutputDevice(), a.player.Format())
	case "xfade", "crossfade":
		return a.crossfade(w, arg)
	case "wave":
		width := termWidth() - 2
		peaks, _ := a.levels("peaks", max(1, (width+1)/2))
		fmt.Fprintln(w, viz.Render(peaks, width))
		spectrum, _ := a.levels("spectrum", 16)
		fmt.Fprintln(w, viz.Render(spectrum, width))
	case "status", "s":
		a.printStatus(w)
	case "rescan":
		a.requestRescan()
		fmt.Fprintln(w, "rescanning", a.cfg.MusicDir)
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (a *app) crossfade(w io.Writer, arg string) error {
	switch strings.ToLower(arg) {
	case "on":
		a.seq.SetCrossfade(true, 0)
	case "off":
		a.seq.SetCrossfade(false, 0)
	case "":
	default:
		ms, err := strconv.Atoi(arg)
		if err != nil || ms <= 0 {
			return fmt.Errorf("xfade: want on, off or a length in ms")
		}
		a.seq.SetCrossfade(true, ms)
	}
	st := a.seq.Status()
	fmt.Fprintf(w, "crossfade %s, %dms\n", onOff(st.Crossfade), st.CrossfadeMs)
	return nil
}

func (a *app) printTracks(w io.Writer, query string) {
	idx, items := a.tracks(query)
	cur := a.seq.Status().Index
	for i, e := range items {
		mark := " "
		if idx[i] == cur {
			mark = ">"
		}
		fmt.Fprintf(w, "%s %4d  %s\n", mark, idx[i], e.DisplayName)
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "no tracks")
	}
}

func (a *app) printStatus(w io.Writer) {
	st := a.seq.Status()
	fmt.Fprintf(w, "%s: %s\n", st.Message, orDash(st.Track))
	pos := time.Duration(st.Position * float64(time.Second)).Truncate(time.Second)
	if st.DurationKnown {
		dur := time.Duration(st.Duration * float64(time.Second)).Truncate(time.Second)
		fmt.Fprintf(w, "  %s / %s\n", pos, dur)
	} else {
		fmt.Fprintf(w, "  %s\n", pos)
	}
	fmt.Fprintf(w, "  vol %d%% mute %s shuffle %s repeat %s crossfade %s (%dms)\n",
		st.Volume, onOff(st.Muted), onOff(st.Shuffle), st.Repeat, onOff(st.Crossfade), st.CrossfadeMs)
	fmt.Fprintf(w, "  output %s, %s, %d underruns, %d tracks\n",
		a.player.OutputDevice(), a.player.Format(), a.player.Underruns(), st.Tracks)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// termWidth returns the terminal width, or 80 when stdout is not a terminal.
func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}
