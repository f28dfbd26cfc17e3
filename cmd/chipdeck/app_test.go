package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/chipdeck/internal/config"
	"github.com/satindergrewal/chipdeck/internal/output"
)

func writeTone(t *testing.T, path string, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data := make([]int, frames*2)
	for i := range data {
		data[i] = 8000
	}
	enc := wav.NewEncoder(f, 44100, 16, 2, 1)
	if err := enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: 2, SampleRate: 44100},
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

// newTestApp starts an app on the null backend over a library of three
// short WAV files and waits for the first scan to land.
func newTestApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"charlie.wav", "alpha.wav", "bravo.wav"} {
		writeTone(t, filepath.Join(dir, name), 44100)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{
		MusicDir:     dir,
		Sort:         "name",
		Volume:       80,
		Repeat:       "off",
		CrossfadeMs:  1000,
		Backend:      "null",
		SampleRate:   44100,
		TickInterval: 5 * time.Millisecond,
		LogLevel:     "disabled",
	}
	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.loop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		a.close()
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, items := a.tracks(""); len(items) == 3 {
			return a
		}
		if time.Now().After(deadline) {
			t.Fatal("library never loaded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func do(t *testing.T, a *app, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

// --- HTTP API ---

func TestAPIStatus(t *testing.T) {
	a := newTestApp(t)
	rec := do(t, a, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	out := decode(t, rec)
	pb, ok := out["playback"].(map[string]any)
	if !ok {
		t.Fatalf("playback missing: %v", out)
	}
	if pb["tracks"] != 3.0 {
		t.Errorf("tracks = %v, want 3", pb["tracks"])
	}
	if pb["volume"] != 80.0 {
		t.Errorf("volume = %v, want 80", pb["volume"])
	}
	if out["device"] != output.DefaultDevice {
		t.Errorf("device = %v", out["device"])
	}
	if out["sort"] != "name" {
		t.Errorf("sort = %v", out["sort"])
	}
	if _, ok := out["http_listeners"]; ok {
		t.Error("listener counts reported without the stream backend")
	}
}

func TestAPITracks(t *testing.T) {
	a := newTestApp(t)
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"alpha.wav", "bravo.wav", "charlie.wav"}},
		{"AV", []string{"bravo.wav"}},
		{"zulu", nil},
	}
	for _, tt := range tests {
		rec := do(t, a, http.MethodGet, "/api/tracks?q="+tt.query, "")
		var out struct {
			Tracks []trackJSON `json:"tracks"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, tr := range out.Tracks {
			got = append(got, tr.Name)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("q=%q: got %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestAPIPostOnly(t *testing.T) {
	a := newTestApp(t)
	for _, path := range []string{"/api/play", "/api/next", "/api/prev", "/api/pause", "/api/stop", "/api/volume", "/api/mute", "/api/device", "/api/crossfade"} {
		if rec := do(t, a, http.MethodGet, path, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, rec.Code)
		}
	}
}

func TestAPIPlay(t *testing.T) {
	a := newTestApp(t)
	if rec := do(t, a, http.MethodPost, "/api/play", `{"index": 9}`); rec.Code != http.StatusNotFound {
		t.Errorf("play 9 = %d, want 404", rec.Code)
	}
	rec := do(t, a, http.MethodPost, "/api/play", `{"index": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("play 1 = %d: %s", rec.Code, rec.Body)
	}
	st := a.seq.Status()
	if st.Index != 1 || st.Track != "bravo.wav" {
		t.Errorf("playing %d %q, want 1 bravo.wav", st.Index, st.Track)
	}
	if st.Message != "Playing" {
		t.Errorf("message = %q", st.Message)
	}

	// No body plays the selected track.
	rec = do(t, a, http.MethodPost, "/api/play", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("play selected = %d", rec.Code)
	}
	if got := decode(t, rec)["index"]; got != 0.0 {
		t.Errorf("index = %v, want 0", got)
	}
}

func TestAPIVolume(t *testing.T) {
	a := newTestApp(t)
	tests := []struct {
		body string
		code int
		want float64
	}{
		{`{"volume": 40}`, http.StatusOK, 40},
		{`{"volume": 150}`, http.StatusOK, 100},
		{`{"volume": -5}`, http.StatusOK, 0},
		{`{}`, http.StatusBadRequest, 0},
		{`{"volume": "loud"}`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := do(t, a, http.MethodPost, "/api/volume", tt.body)
		if rec.Code != tt.code {
			t.Errorf("%s: code %d, want %d", tt.body, rec.Code, tt.code)
			continue
		}
		if tt.code == http.StatusOK {
			if got := decode(t, rec)["volume"]; got != tt.want {
				t.Errorf("%s: volume %v, want %v", tt.body, got, tt.want)
			}
		}
	}
}

func TestAPIMute(t *testing.T) {
	a := newTestApp(t)
	if got := decode(t, do(t, a, http.MethodPost, "/api/mute", ""))["muted"]; got != true {
		t.Errorf("toggle = %v, want true", got)
	}
	if got := decode(t, do(t, a, http.MethodPost, "/api/mute", `{"muted": false}`))["muted"]; got != false {
		t.Errorf("explicit = %v, want false", got)
	}
	if a.player.Muted() {
		t.Error("engine still muted")
	}
}

func TestAPIDevice(t *testing.T) {
	a := newTestApp(t)
	if rec := do(t, a, http.MethodPost, "/api/device", `{"device": "Nowhere"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown device = %d, want 400", rec.Code)
	}
	if rec := do(t, a, http.MethodPost, "/api/device", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty device = %d, want 400", rec.Code)
	}
	rec := do(t, a, http.MethodPost, "/api/device", `{"device": "Default"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("default device = %d: %s", rec.Code, rec.Body)
	}

	out := decode(t, do(t, a, http.MethodGet, "/api/devices", ""))
	if out["current"] != output.DefaultDevice {
		t.Errorf("current = %v", out["current"])
	}
}

func TestAPICrossfade(t *testing.T) {
	a := newTestApp(t)
	if rec := do(t, a, http.MethodPost, "/api/crossfade", `{"ms": -1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("negative ms = %d, want 400", rec.Code)
	}
	out := decode(t, do(t, a, http.MethodPost, "/api/crossfade", `{"ms": 500}`))
	if out["enabled"] != false || out["ms"] != 500.0 {
		t.Errorf("ms only: %v", out)
	}
	out = decode(t, do(t, a, http.MethodPost, "/api/crossfade", `{"enabled": true}`))
	if out["enabled"] != true || out["ms"] != 500.0 {
		t.Errorf("enable: %v", out)
	}
}

func TestAPIWaveform(t *testing.T) {
	a := newTestApp(t)
	tests := []struct {
		query string
		code  int
		bars  int
	}{
		{"", http.StatusOK, 32},
		{"?bars=8&mode=spectrum", http.StatusOK, 8},
		{"?bars=0", http.StatusBadRequest, 0},
		{"?bars=257", http.StatusBadRequest, 0},
		{"?mode=oscilloscope", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec := do(t, a, http.MethodGet, "/api/waveform"+tt.query, "")
		if rec.Code != tt.code {
			t.Errorf("%q: code %d, want %d", tt.query, rec.Code, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		levels, _ := decode(t, rec)["levels"].([]any)
		if len(levels) != tt.bars {
			t.Errorf("%q: %d levels, want %d", tt.query, len(levels), tt.bars)
		}
	}
}

func TestStreamRoutesNeedStreamBackend(t *testing.T) {
	a := newTestApp(t)
	if rec := do(t, a, http.MethodPost, "/offer", "{}"); rec.Code != http.StatusNotFound {
		t.Errorf("/offer = %d, want 404", rec.Code)
	}
}

// --- Commands ---

func TestExec(t *testing.T) {
	a := newTestApp(t)
	tests := []struct {
		line    string
		want    string
		wantErr bool
	}{
		{"vol 30", "volume 30%", false},
		{"vol max", "", true},
		{"mute", "muted", false},
		{"mute", "unmuted", false},
		{"shuffle", "shuffle on", false},
		{"repeat", "repeat One", false},
		{"xfade 250", "crossfade on, 250ms", false},
		{"xfade off", "crossfade off, 250ms", false},
		{"xfade soon", "", true},
		{"sort size", "sorted by size", false},
		{"sort pitch", "", true},
		{"find char", "charlie.wav", false},
		{"find zulu", "no tracks", false},
		{"devices", "Default", false},
		{"device 7", "", true},
		{"play 12", "", true},
		{"frobnicate", "", true},
		{"", "", false},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		err := a.exec(&buf, tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%q: output %q, want it to contain %q", tt.line, buf.String(), tt.want)
		}
	}
}

func TestExecPlayAndStatus(t *testing.T) {
	a := newTestApp(t)
	var buf bytes.Buffer
	if err := a.exec(&buf, "play 2"); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := a.exec(&buf, "status"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "charlie.wav") {
		t.Errorf("status = %q", buf.String())
	}
	buf.Reset()
	a.exec(&buf, "list")
	if !strings.Contains(buf.String(), ">    2  charlie.wav") {
		t.Errorf("list does not mark the current track:\n%s", buf.String())
	}
}

func TestExecQuit(t *testing.T) {
	a := newTestApp(t)
	for _, line := range []string{"quit", "exit", "q"} {
		if err := a.exec(&bytes.Buffer{}, line); !errors.Is(err, errQuit) {
			t.Errorf("%q: err = %v, want errQuit", line, err)
		}
	}
}

func TestExecSortKeepsCurrentTrack(t *testing.T) {
	a := newTestApp(t)
	a.exec(&bytes.Buffer{}, "play 0")
	a.exec(&bytes.Buffer{}, "sort date")
	if st := a.seq.Status(); st.Track != "alpha.wav" {
		t.Errorf("current after sort = %q, want alpha.wav", st.Track)
	}
}

func TestRescanPicksUpNewFiles(t *testing.T) {
	a := newTestApp(t)
	writeTone(t, filepath.Join(a.cfg.MusicDir, "delta.wav"), 4410)
	a.requestRescan()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, items := a.tracks("delta"); len(items) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("rescan never added delta.wav")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
