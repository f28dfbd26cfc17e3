package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/satindergrewal/chipdeck/internal/playlist"
	"github.com/satindergrewal/chipdeck/internal/stream"
	"github.com/satindergrewal/chipdeck/internal/viz"
)

const maxBars = 256

var errBadVizMode = errors.New("mode must be peaks or spectrum")

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

// post rejects everything but POST and decodes an optional JSON body into
// a fresh T for each request.
func post[T any](h func(w http.ResponseWriter, req *T)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req T
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		h(w, &req)
	}
}

type empty struct{}

func (a *app) status() map[string]any {
	st := a.seq.Status()
	out := map[string]any{
		"playback":  st,
		"device":    a.player.OutputDevice(),
		"format":    a.player.Format().String(),
		"underruns": a.player.Underruns(),
		"scanning":  a.scan.Running(),
		"sort":      a.sort().String(),
	}
	if err := a.player.LoadError(); err != nil {
		out["load_error"] = err.Error()
	}
	if a.broadcaster != nil {
		out["http_listeners"] = a.broadcaster.ListenerCount(stream.TransportHTTP)
		out["webrtc_listeners"] = a.webrtc.PeerCount()
	}
	return out
}

type trackJSON struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     uint64 `json:"size"`
	Modified int64  `json:"modified"` // unix seconds
}

// routes builds the HTTP API. Stream endpoints are mounted only when the
// stream backend is active.
func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()

	if a.broadcaster != nil {
		mux.Handle("/stream", stream.NewHTTPHandler(a.log.With().Str("component", "http").Logger(), a.broadcaster, "chipdeck"))
		mux.Handle("/offer", a.webrtc)
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, a.status())
	})

	mux.HandleFunc("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"devices": a.devices(),
			"current": a.player.OutputDevice(),
		})
	})

	mux.HandleFunc("/api/tracks", func(w http.ResponseWriter, r *http.Request) {
		idx, items := a.tracks(r.URL.Query().Get("q"))
		out := make([]trackJSON, len(items))
		for i, e := range items {
			out[i] = trackJSON{
				Index:    idx[i],
				Name:     e.DisplayName,
				Path:     e.Path,
				Size:     e.Size,
				Modified: e.Modified.Unix(),
			}
		}
		writeJSON(w, map[string]any{"tracks": out})
	})

	mux.HandleFunc("/api/waveform", func(w http.ResponseWriter, r *http.Request) {
		bars := 32
		if v := r.URL.Query().Get("bars"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxBars {
				http.Error(w, "bars must be 1-256", http.StatusBadRequest)
				return
			}
			bars = n
		}
		mode := r.URL.Query().Get("mode")
		if mode == "" {
			mode = "peaks"
		}
		levels, err := a.levels(mode, bars)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"mode": mode, "levels": levels})
	})

	type playReq struct {
		Index *int `json:"index"`
	}
	mux.HandleFunc("/api/play", post(func(w http.ResponseWriter, req *playReq) {
		i := -1
		if req.Index != nil {
			i = *req.Index
		} else {
			a.seq.WithPlaylist(func(p *playlist.Playlist) { i = p.Selected() })
		}
		if !a.seq.PlayIndex(i, false) {
			http.Error(w, "no such track", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "index": i})
	}))

	mux.HandleFunc("/api/next", post(func(w http.ResponseWriter, _ *empty) {
		a.seq.PlayNext()
		writeJSON(w, map[string]any{"ok": true})
	}))

	mux.HandleFunc("/api/prev", post(func(w http.ResponseWriter, _ *empty) {
		a.seq.PlayPrev()
		writeJSON(w, map[string]any{"ok": true})
	}))

	mux.HandleFunc("/api/pause", post(func(w http.ResponseWriter, _ *empty) {
		a.seq.TogglePause()
		writeJSON(w, map[string]any{"ok": true, "state": a.player.State().String()})
	}))

	mux.HandleFunc("/api/stop", post(func(w http.ResponseWriter, _ *empty) {
		a.seq.Stop()
		writeJSON(w, map[string]any{"ok": true})
	}))

	mux.HandleFunc("/api/volume", post(func(w http.ResponseWriter, req *struct {
		Volume *int `json:"volume"`
	}) {
		if req.Volume == nil {
			http.Error(w, "volume required", http.StatusBadRequest)
			return
		}
		a.seq.SetVolume(*req.Volume)
		writeJSON(w, map[string]any{"ok": true, "volume": a.seq.Status().Volume})
	}))

	mux.HandleFunc("/api/mute", post(func(w http.ResponseWriter, req *struct {
		Muted *bool `json:"muted"`
	}) {
		var muted bool
		if req.Muted == nil {
			muted = a.seq.ToggleMute()
		} else {
			muted = *req.Muted
			a.seq.SetMute(muted)
		}
		writeJSON(w, map[string]any{"ok": true, "muted": muted})
	}))

	mux.HandleFunc("/api/device", post(func(w http.ResponseWriter, req *struct {
		Device string `json:"device"`
	}) {
		if req.Device == "" {
			http.Error(w, "device required", http.StatusBadRequest)
			return
		}
		if err := a.selectDevice(req.Device); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "device": a.player.OutputDevice()})
	}))

	mux.HandleFunc("/api/crossfade", post(func(w http.ResponseWriter, req *struct {
		Enabled *bool `json:"enabled"`
		Ms      int   `json:"ms"`
	}) {
		if req.Ms < 0 {
			http.Error(w, "ms must be positive", http.StatusBadRequest)
			return
		}
		st := a.seq.Status()
		enabled := st.Crossfade
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		a.seq.SetCrossfade(enabled, req.Ms)
		st = a.seq.Status()
		writeJSON(w, map[string]any{"ok": true, "enabled": st.Crossfade, "ms": st.CrossfadeMs})
	}))

	return mux
}

// levels reads the newest waveform window and reduces it to bars.
func (a *app) levels(mode string, bars int) ([]float64, error) {
	f := a.player.Format()
	window := make([]float32, 2048*max(1, f.Channels))
	n := a.player.ReadWaveform(window)
	samples := viz.Mono(window[:n], f.Channels)
	switch mode {
	case "peaks":
		return viz.Peaks(samples, bars), nil
	case "spectrum":
		return viz.Spectrum(samples, bars), nil
	}
	return nil, errBadVizMode
}
