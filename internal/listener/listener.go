// internal/listener/listener.go
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ColonelBlimp/whistledetector/internal/audio"
)

// MaxReadErrors is the number of consecutive failed reads tolerated before
// Run gives up.
const MaxReadErrors = 10

var (
	// ErrAlreadyRunning indicates Run was called while another Run is active
	ErrAlreadyRunning = errors.New("listener already running")
	// ErrTooManyErrors wraps the last read error once MaxReadErrors reads fail in a row
	ErrTooManyErrors = errors.New("too many consecutive read errors")
)

// FeedFunc consumes one chunk on the worker goroutine
type FeedFunc func(chunk audio.Chunk)

// ResetFunc clears stream state on the worker goroutine after a pause
type ResetFunc func()

// Listener pulls chunks from a Source and hands them to a FeedFunc until it
// is stopped, the context ends or the source is exhausted. It can be paused
// without tearing down the source.
type Listener struct {
	src    audio.Source
	feed   FeedFunc
	reset  ResetFunc
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	active  bool
	running bool
	paused  bool
	resumes uint64

	chunks uint64
}

// New creates a Listener. A nil logger discards log output.
func New(src audio.Source, feed FeedFunc, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Listener{
		src:    src,
		feed:   feed,
		logger: logger,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// OnResume registers fn to run on the worker goroutine before the first
// read after a pause. It must be called before Run.
func (l *Listener) OnResume(fn ResetFunc) {
	l.reset = fn
}

// Run executes the read loop on the calling goroutine. It returns nil after
// Stop, context cancellation or end of input.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.active = true
	l.running = true
	resumes := l.resumes
	l.mu.Unlock()

	// Wake a paused loop when ctx ends
	stopWake := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stopWake()

	defer func() {
		l.mu.Lock()
		l.active = false
		l.running = false
		l.mu.Unlock()
	}()

	l.logger.Info("listener started")
	failures := 0
	for {
		if !l.waitActive(ctx) {
			l.logger.Info("listener stopped", "chunks", l.Chunks())
			return nil
		}
		if n := l.resumeCount(); n != resumes {
			resumes = n
			l.discardStale()
		}

		chunk, err := l.src.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				l.logger.Info("end of input", "chunks", l.Chunks())
				return nil
			case errors.Is(err, audio.ErrClosed), ctx.Err() != nil:
				l.logger.Info("listener stopped", "chunks", l.Chunks())
				return nil
			}

			failures++
			l.logger.Warn("read failed", "error", err, "consecutive", failures)
			if failures >= MaxReadErrors {
				return fmt.Errorf("%w: %d: %w", ErrTooManyErrors, failures, err)
			}
			continue
		}
		failures = 0

		// A chunk read across a pause was captured while paused
		l.mu.Lock()
		stale := l.paused || l.resumes != resumes
		if !stale {
			l.chunks++
		}
		l.mu.Unlock()
		if stale {
			continue
		}

		l.feed(chunk)
	}
}

func (l *Listener) resumeCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resumes
}

// discardStale drops input buffered while paused and resets stream state
func (l *Listener) discardStale() {
	if f, ok := l.src.(audio.Flusher); ok {
		if n := f.Flush(); n > 0 {
			l.logger.Debug("discarded input buffered while paused", "chunks", n)
		}
	}
	if l.reset != nil {
		l.reset()
	}
}

// waitActive blocks while paused. It reports whether the loop should keep
// reading.
func (l *Listener) waitActive(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.paused && l.running && ctx.Err() == nil {
		l.cond.Wait()
	}
	return l.running && ctx.Err() == nil
}

// Stop asks Run to return. A read already in progress completes first.
// Stop has no effect before Run starts.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.running = false
	l.cond.Broadcast()
}

// SetPaused suspends or resumes reading. Input buffered by the source while
// paused is discarded on resume.
func (l *Listener) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused == paused {
		return
	}
	l.paused = paused
	if paused {
		l.logger.Info("listener paused")
	} else {
		l.resumes++
		l.logger.Info("listener resumed")
		l.cond.Broadcast()
	}
}

// IsPaused reports whether reading is suspended
func (l *Listener) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// IsRunning reports whether Run is active
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Chunks returns the number of chunks fed so far
func (l *Listener) Chunks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chunks
}
