// internal/dsp/stft.go
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrInvalidConfiguration is wrapped by every construction error in this package.
var ErrInvalidConfiguration = errors.New("invalid configuration")

var (
	// ErrInvalidWindowSize indicates the time window must hold at least one sample
	ErrInvalidWindowSize = fmt.Errorf("%w: window size must be positive", ErrInvalidConfiguration)
	// ErrInvalidWindowStep indicates the window must advance by at least one sample
	ErrInvalidWindowStep = fmt.Errorf("%w: window step must be positive", ErrInvalidConfiguration)
	// ErrInvalidPaddedSize indicates the padded window is shorter than the time window
	ErrInvalidPaddedSize = fmt.Errorf("%w: padded window size must not be smaller than window size", ErrInvalidConfiguration)
	// ErrInvalidChannelOffset indicates a negative channel index
	ErrInvalidChannelOffset = fmt.Errorf("%w: channel offset must be non-negative", ErrInvalidConfiguration)
	// ErrInvalidWindowFunction indicates an unknown taper name
	ErrInvalidWindowFunction = fmt.Errorf("%w: unknown window function", ErrInvalidConfiguration)
	// ErrHandlerRequired indicates a spectrum handler is required
	ErrHandlerRequired = fmt.Errorf("%w: spectrum handler is required", ErrInvalidConfiguration)
)

// sampleScale maps the signed 16-bit range onto [-1.0, 1.0).
const sampleScale = 1.0 / 32768.0

// Window function names accepted by STFTConfig.Window.
const (
	WindowRect     = "rect"
	WindowHann     = "hann"
	WindowHamming  = "hamming"
	WindowBlackman = "blackman"
)

// STFTConfig holds configuration for the short time Fourier transform.
// All values should come from the application config file.
type STFTConfig struct {
	// ChannelOffset is the channel extracted from interleaved input (from config: channel_offset)
	ChannelOffset int
	// WindowSize is the number of samples per window (from config: window_size)
	WindowSize int
	// WindowStep is the number of samples between window starts (from config: window_skipping)
	WindowStep int
	// PaddedSize is the zero-padded transform length (from config: window_size_padded)
	PaddedSize int
	// Window is the taper applied before padding (from config: window_function).
	// Empty means rect.
	Window string
}

// SpectrumHandler receives one magnitude spectrum per window.
// The slice is reused for the next window and must not be retained.
type SpectrumHandler func(spectrum []float64)

// STFT turns an irregularly chunked sample stream into a sequence of
// magnitude spectra over overlapping, zero-padded windows.
//
// An STFT is not safe for concurrent use; it is meant to be fed from a
// single capture goroutine.
type STFT struct {
	config  STFTConfig
	handler SpectrumHandler
	fft     *fourier.FFT
	taper   []float64 // nil for rect

	// Overflow buffer carried between Feed calls
	overflow []int16
	// skip counts samples still to be discarded when WindowStep > WindowSize
	skip int

	input      []float64
	coeffs     []complex128
	magnitudes []float64
}

// NewSTFT creates a transform engine that calls handler for every window.
// Returns an error wrapping ErrInvalidConfiguration if the configuration is invalid.
func NewSTFT(cfg STFTConfig, handler SpectrumHandler) (*STFT, error) {
	if cfg.WindowSize <= 0 {
		return nil, ErrInvalidWindowSize
	}
	if cfg.WindowStep <= 0 {
		return nil, ErrInvalidWindowStep
	}
	if cfg.PaddedSize < cfg.WindowSize {
		return nil, ErrInvalidPaddedSize
	}
	if cfg.ChannelOffset < 0 {
		return nil, ErrInvalidChannelOffset
	}
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	taper, err := taperFor(cfg.Window, cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	bins := cfg.PaddedSize/2 + 1
	return &STFT{
		config:     cfg,
		handler:    handler,
		fft:        fourier.NewFFT(cfg.PaddedSize),
		taper:      taper,
		overflow:   make([]int16, 0, cfg.WindowSize),
		input:      make([]float64, cfg.PaddedSize),
		coeffs:     make([]complex128, bins),
		magnitudes: make([]float64, bins),
	}, nil
}

func taperFor(name string, size int) ([]float64, error) {
	switch name {
	case "", WindowRect:
		return nil, nil
	case WindowHann:
		return window.Hann(size), nil
	case WindowHamming:
		return window.Hamming(size), nil
	case WindowBlackman:
		return window.Blackman(size), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidWindowFunction, name)
	}
}

// Feed appends one chunk of interleaved samples and emits a spectrum for
// every window that becomes complete. channels is the interleave stride.
// Chunk boundaries do not affect the emitted spectra.
func (s *STFT) Feed(samples []int16, channels int) {
	if len(samples) == 0 || channels < 1 || s.config.ChannelOffset >= channels {
		return
	}

	for i := s.config.ChannelOffset; i < len(samples); i += channels {
		if s.skip > 0 {
			s.skip--
			continue
		}
		s.overflow = append(s.overflow, samples[i])
		if len(s.overflow) == s.config.WindowSize {
			s.processWindow(s.overflow)
			s.advance()
		}
	}
}

// advance slides the overflow buffer by WindowStep samples
func (s *STFT) advance() {
	step := s.config.WindowStep
	if step < len(s.overflow) {
		copy(s.overflow, s.overflow[step:])
		s.overflow = s.overflow[:len(s.overflow)-step]
		return
	}
	s.skip = step - len(s.overflow)
	s.overflow = s.overflow[:0]
}

// processWindow transforms one window and hands its magnitudes to the handler
func (s *STFT) processWindow(block []int16) {
	for i, v := range block {
		x := float64(v) * sampleScale
		if s.taper != nil {
			x *= s.taper[i]
		}
		s.input[i] = x
	}
	// Zero padding
	for i := len(block); i < len(s.input); i++ {
		s.input[i] = 0
	}

	s.coeffs = s.fft.Coefficients(s.coeffs, s.input)
	for i, c := range s.coeffs {
		s.magnitudes[i] = cmplx.Abs(c)
	}

	s.handler(s.magnitudes)
}

// Pending returns the number of buffered samples that do not yet complete a window
func (s *STFT) Pending() int {
	return len(s.overflow)
}

// SpectrumLength returns the number of bins in each emitted spectrum
func (s *STFT) SpectrumLength() int {
	return len(s.magnitudes)
}

// BinFrequency returns the centre frequency of bin for the given sample rate
func (s *STFT) BinFrequency(bin int, sampleRate float64) float64 {
	return float64(bin) * sampleRate / float64(s.config.PaddedSize)
}

// Reset discards buffered samples
func (s *STFT) Reset() {
	s.overflow = s.overflow[:0]
	s.skip = 0
}

// Config returns the current configuration
func (s *STFT) Config() STFTConfig {
	return s.config
}

// FrequencyToBin converts a frequency in Hz to the nearest bin of a
// paddedSize-point transform.
func FrequencyToBin(freq, sampleRate float64, paddedSize int) int {
	return int(math.Round(freq * float64(paddedSize) / sampleRate))
}
