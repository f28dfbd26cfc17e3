package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		switch strings.ToLower(v) {
		case "on", "yes":
			return true
		case "off", "no":
			return false
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Library
	MusicDir  string
	Recursive bool
	Watch     bool   // rescan when files are added or removed
	Sort      string // name, date, size

	// Playback
	Volume      int // percent, 0-100
	Mute        bool
	Shuffle     bool
	Repeat      string // off, one, all
	Crossfade   bool
	CrossfadeMs int

	// Output
	Backend     string // malgo, oto, null, stream
	AudioDevice string // empty selects the default device
	SampleRate  int

	// Server
	Port int // 0 disables the HTTP API

	TickInterval time.Duration // control loop period
	LogLevel     string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		MusicDir:  envStr("CHIPDECK_MUSIC_DIR", "."),
		Recursive: envBool("CHIPDECK_RECURSIVE", false),
		Watch:     envBool("CHIPDECK_WATCH", false),
		Sort:      envStr("CHIPDECK_SORT", "name"),

		Volume:      clamp(envInt("CHIPDECK_VOLUME", 100), 0, 100),
		Mute:        envBool("CHIPDECK_MUTE", false),
		Shuffle:     envBool("CHIPDECK_SHUFFLE", false),
		Repeat:      envStr("CHIPDECK_REPEAT", "off"),
		Crossfade:   envBool("CHIPDECK_CROSSFADE", false),
		CrossfadeMs: max(100, envInt("CHIPDECK_CROSSFADE_MS", 1000)),

		Backend:     envStr("CHIPDECK_BACKEND", "malgo"),
		AudioDevice: envStr("CHIPDECK_AUDIO_DEVICE", ""),
		SampleRate:  clamp(envInt("CHIPDECK_SAMPLE_RATE", 44100), 8000, 192000),

		Port: envInt("CHIPDECK_PORT", 0),

		TickInterval: time.Duration(clamp(envInt("CHIPDECK_TICK_MS", 16), 1, 100)) * time.Millisecond,
		LogLevel:     envStr("CHIPDECK_LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func clamp(v, lo, hi int) int {
	return min(hi, max(lo, v))
}
