// internal/audio/capture.go
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	// ErrNotInitialized indicates Start or ListDevices before Init
	ErrNotInitialized = errors.New("audio capture not initialized")
	// ErrAlreadyRunning indicates Start on a running capture
	ErrAlreadyRunning = errors.New("audio capture already running")
	// ErrNotRunning indicates Stop on a stopped capture
	ErrNotRunning = errors.New("audio capture not running")
	// ErrClosed is returned by Read once the source is closed and drained
	ErrClosed = errors.New("audio source closed")
)

// chunkQueueSize is the number of device callbacks buffered before new
// chunks are dropped.
const chunkQueueSize = 64

// Chunk is one block of interleaved signed 16-bit PCM
type Chunk struct {
	Samples  []int16
	Frames   int
	Channels int
}

// Source delivers PCM chunks. Read blocks until a chunk is available,
// the source is exhausted (io.EOF) or ctx is done.
type Source interface {
	Read(ctx context.Context) (Chunk, error)
}

// Flusher is implemented by live sources that buffer input ahead of Read.
// Flush discards the buffered chunks and returns how many were dropped.
type Flusher interface {
	Flush() int
}

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // e.g., 8000
	Channels    uint32 // interleaved channels delivered per frame
	BufferSize  uint32 // frames per callback
}

// DefaultConfig returns the defaults used for whistle detection
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  8000,
		Channels:    1,
		BufferSize:  1024,
	}
}

// Capture records S16 PCM from a capture device through malgo
type Capture struct {
	config  Config
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running bool
	mu      sync.RWMutex

	chunks    chan Chunk
	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// New creates a new audio capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config: cfg,
		chunks: make(chan Chunk, chunkQueueSize),
	}
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx

	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	return infos, nil
}

// Start opens the configured device and begins delivering chunks to Read.
// Capture stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.mu.Unlock()

	deviceConfig := malgo.DeviceConfig{
		DeviceType:         malgo.Capture,
		SampleRate:         c.config.SampleRate,
		PeriodSizeInFrames: c.config.BufferSize,
		Capture: malgo.SubConfig{
			Format:   malgo.FormatS16,
			Channels: c.config.Channels,
		},
	}

	if c.config.DeviceIndex >= 0 {
		devices, err := c.ListDevices()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	channels := int(c.config.Channels)
	onRecvFrames := func(_, inputSamples []byte, frameCount uint32) {
		if len(inputSamples) == 0 {
			return
		}
		c.send(Chunk{
			Samples:  bytesToInt16(inputSamples),
			Frames:   int(frameCount),
			Channels: channels,
		})
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.running = true
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// send queues a chunk without blocking the audio thread. Chunks are dropped
// when the consumer falls behind or the capture is closed.
func (c *Capture) send(chunk Chunk) {
	if c.closed.Load() {
		return
	}
	select {
	case c.chunks <- chunk:
	default:
		c.dropped.Add(1)
	}
}

// Read returns the next captured chunk
func (c *Capture) Read(ctx context.Context) (Chunk, error) {
	select {
	case chunk, ok := <-c.chunks:
		if !ok {
			return Chunk{}, ErrClosed
		}
		return chunk, nil
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// Flush discards queued chunks without blocking
func (c *Capture) Flush() int {
	n := 0
	for {
		select {
		case _, ok := <-c.chunks:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Dropped returns the number of chunks discarded because the queue was full
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}

	c.running = false
	return nil
}

// Close releases all audio resources. Pending and future reads return ErrClosed.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed.Store(true)

	if c.running && c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
		c.running = false
	}

	var err error
	if c.ctx != nil {
		if uerr := c.ctx.Uninit(); uerr != nil {
			err = fmt.Errorf("uninit context: %w", uerr)
		}
		c.ctx.Free()
		c.ctx = nil
	}

	c.closeOnce.Do(func() {
		close(c.chunks)
	})
	return err
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// bytesToInt16 converts little-endian S16 bytes to samples. A trailing odd
// byte is ignored.
func bytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
