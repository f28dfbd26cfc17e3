package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/satindergrewal/chipdeck/internal/config"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("chipdeck stopped")
	}
}

// newLogger writes human-readable lines to a terminal and JSON otherwise.
func newLogger(level string) zerolog.Logger {
	var log zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		log = zerolog.New(os.Stderr)
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return log.Level(lvl).With().Timestamp().Logger()
}

func run(cfg config.Config, log zerolog.Logger) error {
	a, err := newApp(cfg, log)
	if err != nil {
		return fmt.Errorf("starting audio: %w", err)
	}
	defer a.close()

	log.Info().
		Str("backend", a.backend.Name()).
		Str("device", a.player.OutputDevice()).
		Stringer("format", a.player.Format()).
		Str("dir", cfg.MusicDir).
		Msg("chipdeck starting up")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.loop(ctx) })

	if a.broadcaster != nil {
		g.Go(func() error {
			a.broadcaster.Run(ctx, a.frames)
			return nil
		})
	}

	if cfg.Watch {
		g.Go(func() error {
			if err := a.scan.Watch(ctx, cfg.MusicDir, cfg.Recursive, a.requestRescan); err != nil {
				log.Warn().Err(err).Msg("library watch disabled")
			}
			return nil
		})
	}

	if cfg.Port > 0 {
		addr := fmt.Sprintf(":%d", cfg.Port)
		server := &http.Server{Addr: addr, Handler: a.routes()}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				server.Close()
			}
			return nil
		})
		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("http api listening")
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		g.Go(func() error { return a.repl(ctx) })
	} else {
		log.Info().Msg("stdin is not a terminal, running headless (Ctrl+C to stop)")
	}

	err = g.Wait()
	log.Info().Msg("shutting down")
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}
