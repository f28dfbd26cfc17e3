package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// listenerBuffer is how many frames a listener may fall behind before its
// frames are dropped (~3 seconds at 20ms/frame).
const listenerBuffer = 150

// Transports that subscribe to a Broadcaster.
const (
	TransportHTTP   = "http"
	TransportWebRTC = "webrtc"
)

// Broadcaster fans out PCM frames from the network output device to every
// connected listener.
type Broadcaster struct {
	log zerolog.Logger

	mu        sync.RWMutex
	listeners map[*Listener]struct{}

	frames atomic.Uint64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C         chan []int16 // buffered channel of 20ms PCM frames
	Transport string
	done      chan struct{}
	dropped   atomic.Uint64
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped returns how many frames this listener missed by reading too slowly.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:       log,
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a listener for transport. Frames published by Run
// after this call are delivered on its C.
func (b *Broadcaster) Subscribe(transport string) *Listener {
	l := &Listener{
		C:         make(chan []int16, listenerBuffer),
		Transport: transport,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	n := len(b.listeners)
	b.mu.Unlock()
	b.log.Debug().Str("transport", transport).Int("listeners", n).Msg("listener subscribed")
	return l
}

// Unsubscribe removes a listener and signals it to stop. It is safe to call
// more than once.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	n := len(b.listeners)
	b.mu.Unlock()
	if !ok {
		return
	}
	close(l.done)
	b.log.Debug().Str("transport", l.Transport).Int("listeners", n).Uint64("dropped", l.Dropped()).Msg("listener unsubscribed")
}

// ListenerCount returns the number of active listeners on transport, or on
// every transport when transport is empty.
func (b *Broadcaster) ListenerCount(transport string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if transport == "" {
		return len(b.listeners)
	}
	n := 0
	for l := range b.listeners {
		if l.Transport == transport {
			n++
		}
	}
	return n
}

// FramesSent returns how many source frames Run has fanned out.
func (b *Broadcaster) FramesSent() uint64 { return b.frames.Load() }

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	b.log.Debug().Msg("broadcaster started")
	defer func() {
		b.log.Debug().Uint64("frames", b.frames.Load()).Msg("broadcaster stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
			b.frames.Add(1)
		}
	}
}
