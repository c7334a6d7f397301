package usecase

import (
	"context"
	"sync"
	"time"

	"localchat/internal/domain"
)

const (
	// chunkIdleTimeout bounds silence between deltas once streaming has
	// started. Reasoning models pause mid-thought, so it is deliberately
	// generous and independent of the configurable stream timeout, which
	// only covers the wait for the first delta.
	chunkIdleTimeout = 120 * time.Second

	maxTimeoutRetries = 2
	retryBackoff      = time.Second

	watchdogTick = 25 * time.Millisecond
)

// watchdog aborts a stream that stalls. Until the first delta arrives the
// configured stream timeout applies; from then on the fixed chunk-idle
// timeout governs, reset by every Touch. The cancel func is invoked at most
// once, and Err reports which timeout fired.
type watchdog struct {
	cancel    context.CancelFunc
	chunkIdle time.Duration

	mu       sync.Mutex
	deadline time.Time
	started  bool
	err      error

	done chan struct{}
	once sync.Once
}

func newWatchdog(streamTimeout, chunkIdle time.Duration, cancel context.CancelFunc) *watchdog {
	w := &watchdog{
		cancel:    cancel,
		chunkIdle: chunkIdle,
		deadline:  time.Now().Add(streamTimeout),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

// Touch records delta arrival and switches the clock to the chunk-idle
// timeout.
func (w *watchdog) Touch() {
	w.mu.Lock()
	w.started = true
	w.deadline = time.Now().Add(w.chunkIdle)
	w.mu.Unlock()
}

// Stop halts the watchdog without aborting the stream. Safe to call more
// than once and after the watchdog has fired.
func (w *watchdog) Stop() {
	w.once.Do(func() { close(w.done) })
}

// Err reports why the watchdog fired, or nil if it has not.
func (w *watchdog) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *watchdog) run() {
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.mu.Lock()
			expired := now.After(w.deadline)
			if expired {
				if w.started {
					w.err = domain.ErrChunkIdle
				} else {
					w.err = domain.ErrStreamTimeout
				}
			}
			w.mu.Unlock()
			if expired {
				w.cancel()
				w.Stop()
				return
			}
		}
	}
}
