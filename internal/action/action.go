// internal/action/action.go
package action

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventWhistleHeard names the event raised for each confirmed whistle
const EventWhistleHeard = "WhistleHeard"

// DefaultTimeout bounds a single sink publish
const DefaultTimeout = 5 * time.Second

// Event describes one confirmed whistle episode
type Event struct {
	Name  string    `json:"name"`
	Count uint64    `json:"count"`
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
}

// Sink delivers events somewhere
type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}

// Dispatcher numbers whistle episodes and forwards them to its sinks
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	sinks []Sink
	count atomic.Uint64
}

// NewDispatcher creates a Dispatcher. A timeout <= 0 selects DefaultTimeout
// and a nil logger discards log output.
func NewDispatcher(logger *slog.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		sinks:   sinks,
	}
}

// Add registers another sink
func (d *Dispatcher) Add(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Fire raises the next WhistleHeard event on every sink. Sink failures are
// logged and never returned.
func (d *Dispatcher) Fire() {
	event := Event{
		Name:  EventWhistleHeard,
		Count: d.count.Add(1),
		ID:    uuid.NewString(),
		Time:  d.now(),
	}

	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := s.Publish(ctx, event); err != nil {
			d.logger.Error("publish event failed", "sink", s.Name(), "count", event.Count, "error", err)
		}
		cancel()
	}
}

// Count returns the number of events fired
func (d *Dispatcher) Count() uint64 {
	return d.count.Load()
}

// LogSink logs each event and prints a banner line to out
type LogSink struct {
	logger *slog.Logger
	out    io.Writer
}

// NewLogSink creates a LogSink. out may be nil to skip the banner line.
func NewLogSink(logger *slog.Logger, out io.Writer) *LogSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogSink{logger: logger, out: out}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, event Event) error {
	s.logger.Info("whistle heard", "count", event.Count, "id", event.ID)
	if s.out == nil {
		return nil
	}
	if _, err := fmt.Fprintln(s.out, "!!! Whistle heard !!!"); err != nil {
		return fmt.Errorf("write banner: %w", err)
	}
	return nil
}
