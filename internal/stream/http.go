package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/chipdeck/internal/audio"
)

// HTTPHandler serves a chunked MP3 audio stream via HTTP.
// Each connection spawns an FFmpeg process to encode PCM -> MP3 in real-time.
type HTTPHandler struct {
	log         zerolog.Logger
	broadcaster *Broadcaster
	station     string
	bitrate     string
}

// NewHTTPHandler creates an HTTP stream handler. station is sent as the
// ICY-Name header.
func NewHTTPHandler(log zerolog.Logger, b *Broadcaster, station string) *HTTPHandler {
	return &HTTPHandler{log: log, broadcaster: b, station: station, bitrate: "192k"}
}

func (h *HTTPHandler) encoder(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg",
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", h.bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := h.encoder(ctx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("http stream: stdin pipe")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("http stream: stdout pipe")
		http.Error(w, "encoder unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error().Err(err).Msg("http stream: ffmpeg start")
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", h.station)

	listener := h.broadcaster.Subscribe(TransportHTTP)
	defer h.broadcaster.Unsubscribe(listener)

	log := h.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Info().Int("listeners", h.broadcaster.ListenerCount(TransportHTTP)).Msg("http listener connected")
	defer func() {
		log.Info().Uint64("dropped", listener.Dropped()).Msg("http listener disconnected")
	}()

	// PCM frames -> ffmpeg
	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	// ffmpeg -> response
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("http stream: ffmpeg read")
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
