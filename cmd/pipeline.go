// cmd/pipeline.go
package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ColonelBlimp/whistledetector/internal/audio"
	"github.com/ColonelBlimp/whistledetector/internal/config"
	"github.com/ColonelBlimp/whistledetector/internal/dsp"
)

// pipeline chains the transform engine into the whistle detector
type pipeline struct {
	stft     *dsp.STFT
	detector *dsp.Detector
	logger   *slog.Logger
	frames   uint64
}

func newPipeline(s *config.Settings, fire dsp.Action, logger *slog.Logger) (*pipeline, error) {
	detCfg, err := s.DetectorConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	detector, err := dsp.NewDetector(detCfg, fire)
	if err != nil {
		return nil, err
	}

	p := &pipeline{detector: detector, logger: logger}

	handler := dsp.SpectrumHandler(detector.HandleSpectrum)
	if s.Debug {
		handler = p.traceSpectrum
	}

	p.stft, err = dsp.NewSTFT(s.STFTConfig(), handler)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// feed is the listener's FeedFunc
func (p *pipeline) feed(chunk audio.Chunk) {
	p.stft.Feed(chunk.Samples, chunk.Channels)
}

// reset drops buffered samples and detector state so audio from before a
// pause is never joined to audio after it
func (p *pipeline) reset() {
	p.stft.Reset()
	p.detector.Reset()
}

func (p *pipeline) traceSpectrum(spectrum []float64) {
	p.frames++
	p.detector.HandleSpectrum(spectrum)
	st := p.detector.State()
	p.logger.Debug("frame",
		"n", p.frames,
		"threshold", p.detector.LastThreshold(),
		"hits", st.Hits,
		"misses", st.Misses,
		"confirmed", st.Confirmed)
}

// newLogger builds the text logger used by all commands
func newLogger(w io.Writer, s *config.Settings) *slog.Logger {
	level := slog.LevelInfo
	switch s.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if s.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

const rule = "---------------------------------------------------"

// printBanner shows the effective window and the bin-quantized band
func printBanner(w io.Writer, s *config.Settings) {
	begin, end, _ := s.BinRange()
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "--- Whistle Detection                           ---")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Window:")
	fmt.Fprintf(w, "  Real Window:      %d bins\n", s.WindowSize)
	fmt.Fprintf(w, "  Padded Window:    %d bins\n", s.WindowSizePadded)
	fmt.Fprintf(w, "  Window Skip:      %d samples\n", s.WindowSkipping)
	fmt.Fprintf(w, "  Window Function:  %s\n", s.WindowFunction)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Sample Rate:      %g Hz\n", s.SampleRate)
	fmt.Fprintf(w, "  Whistle Begin:    %g Hz\n", s.BinFrequency(begin))
	fmt.Fprintf(w, "  Whistle End:      %g Hz\n", s.BinFrequency(end))
	fmt.Fprintf(w, "  Threshold:        mean + %g * stddev\n", s.Threshold)
	fmt.Fprintf(w, "  Frames:           %d okay / %d miss\n", s.FrameOkays, s.FrameMisses)
	fmt.Fprintln(w, rule)
}
