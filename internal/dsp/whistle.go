// internal/dsp/whistle.go
package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidSpectrumLength indicates the detector was configured for empty spectra
	ErrInvalidSpectrumLength = fmt.Errorf("%w: spectrum length must be positive", ErrInvalidConfiguration)
	// ErrInvalidBinRange indicates an empty, inverted or out of range whistle band
	ErrInvalidBinRange = fmt.Errorf("%w: whistle band must satisfy 0 <= begin < end <= spectrum length", ErrInvalidConfiguration)
	// ErrInvalidMultiplier indicates a negative deviation multiplier
	ErrInvalidMultiplier = fmt.Errorf("%w: deviation multiplier must be non-negative", ErrInvalidConfiguration)
	// ErrInvalidOkayFrames indicates confirmation needs at least one frame
	ErrInvalidOkayFrames = fmt.Errorf("%w: okay frames must be at least 1", ErrInvalidConfiguration)
	// ErrInvalidMissFrames indicates a negative miss tolerance
	ErrInvalidMissFrames = fmt.Errorf("%w: miss frames must be non-negative", ErrInvalidConfiguration)
	// ErrActionRequired indicates an action is required
	ErrActionRequired = fmt.Errorf("%w: action is required", ErrInvalidConfiguration)
)

// Action is invoked once per confirmed whistle episode.
// It runs on the processing goroutine; a slow action delays the next read.
type Action func()

// DetectorConfig holds configuration for the whistle detector.
// Bin indices come from config.Settings.BinRange.
type DetectorConfig struct {
	// SpectrumLength is the number of bins per spectrum (PaddedSize/2+1)
	SpectrumLength int
	// BinBegin is the first bin of the whistle band (inclusive)
	BinBegin int
	// BinEnd is the end of the whistle band (exclusive)
	BinEnd int
	// DeviationMultiplier is k in threshold = mean + k*stddev (from config: threshold)
	DeviationMultiplier float64
	// OkayFrames is the number of hit frames that confirm an episode (from config: frame_okays)
	OkayFrames int
	// MissFrames is the number of misses tolerated before the count resets (from config: frame_misses)
	MissFrames int
}

// State is a snapshot of the detector's hysteresis counters.
type State struct {
	Hits      int
	Misses    int
	Confirmed bool
}

// Detector decides whether a whistle episode is in progress from a stream
// of magnitude spectra. It is confined to the goroutine calling HandleSpectrum.
type Detector struct {
	config DetectorConfig
	action Action

	consecutiveHits   int
	consecutiveMisses int
	confirmed         bool
	lastThreshold     float64
}

// NewDetector creates a new whistle detector with the given configuration.
func NewDetector(cfg DetectorConfig, action Action) (*Detector, error) {
	if cfg.SpectrumLength < 1 {
		return nil, ErrInvalidSpectrumLength
	}
	if cfg.BinBegin < 0 || cfg.BinBegin >= cfg.BinEnd || cfg.BinEnd > cfg.SpectrumLength {
		return nil, ErrInvalidBinRange
	}
	if cfg.DeviationMultiplier < 0 || math.IsNaN(cfg.DeviationMultiplier) {
		return nil, ErrInvalidMultiplier
	}
	if cfg.OkayFrames < 1 {
		return nil, ErrInvalidOkayFrames
	}
	if cfg.MissFrames < 0 {
		return nil, ErrInvalidMissFrames
	}
	if action == nil {
		return nil, ErrActionRequired
	}

	return &Detector{
		config: cfg,
		action: action,
	}, nil
}

// HandleSpectrum processes one magnitude spectrum and advances the
// hysteresis state machine. It has the SpectrumHandler signature so it can
// be passed straight to NewSTFT.
func (d *Detector) HandleSpectrum(spectrum []float64) {
	if len(spectrum) == 0 {
		return
	}
	d.update(d.found(spectrum))
}

// Threshold returns mean + k*stddev over the whole spectrum
func (d *Detector) Threshold(spectrum []float64) float64 {
	mean, dev := MeanDeviation(spectrum)
	return mean + d.config.DeviationMultiplier*dev
}

// LastThreshold returns the threshold of the most recent spectrum
func (d *Detector) LastThreshold() float64 {
	return d.lastThreshold
}

// found reports whether any whistle band bin exceeds the threshold.
// A flat spectrum has no bin standing out, whatever the rounding in its mean.
func (d *Detector) found(spectrum []float64) bool {
	if len(spectrum) == 0 {
		return false
	}
	if hi := floats.Max(spectrum); hi == floats.Min(spectrum) {
		d.lastThreshold = hi
		return false
	}
	threshold := d.Threshold(spectrum)
	d.lastThreshold = threshold
	end := min(d.config.BinEnd, len(spectrum))
	for i := d.config.BinBegin; i < end; i++ {
		if spectrum[i] > threshold {
			return true
		}
	}
	return false
}

// update applies one frame to the state machine.
//
// While confirmed, hits change nothing and only a run of more than
// MissFrames misses ends the episode, so one long whistle fires once.
// Misses while confirmed are not reset by an intervening hit.
func (d *Detector) update(found bool) {
	if d.confirmed {
		if !found {
			d.consecutiveMisses++
			if d.consecutiveMisses > d.config.MissFrames {
				d.clear()
			}
		}
		return
	}

	if found {
		d.consecutiveHits++
		d.consecutiveMisses = 0
	} else if d.consecutiveHits > 0 {
		d.consecutiveMisses++
		if d.consecutiveMisses > d.config.MissFrames {
			d.clear()
		}
	}

	if d.consecutiveHits >= d.config.OkayFrames {
		d.action()
		d.consecutiveHits = 0
		d.consecutiveMisses = 0
		d.confirmed = true
	}
}

func (d *Detector) clear() {
	d.consecutiveHits = 0
	d.consecutiveMisses = 0
	d.confirmed = false
}

// State returns the current hysteresis counters
func (d *Detector) State() State {
	return State{
		Hits:      d.consecutiveHits,
		Misses:    d.consecutiveMisses,
		Confirmed: d.confirmed,
	}
}

// Reset returns the detector to idle
func (d *Detector) Reset() {
	d.clear()
}

// Config returns the current configuration
func (d *Detector) Config() DetectorConfig {
	return d.config
}

// MeanDeviation returns the mean and population standard deviation of data
// using the single pass form sqrt(n*Σx² - (Σx)²)/n. A negative discriminant
// from rounding is clamped to zero.
func MeanDeviation(data []float64) (mean, dev float64) {
	if len(data) == 0 {
		return 0, 0
	}
	n := float64(len(data))
	sum := floats.Sum(data)
	sumSq := floats.Dot(data, data)

	disc := n*sumSq - sum*sum
	if disc < 0 {
		disc = 0
	}
	return sum / n, math.Sqrt(disc) / n
}
