// internal/audio/wav.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV indicates a file that is not 16-bit PCM RIFF/WAVE
var ErrInvalidWAV = errors.New("invalid wav file")

const (
	wavFormatPCM = 1
	wavBitDepth  = 16
)

// WAVFile replays a 16-bit PCM RIFF/WAVE file as a Source
type WAVFile struct {
	file     *os.File
	decoder  *wav.Decoder
	buf      *goaudio.IntBuffer
	channels int
}

// OpenWAV opens path and positions it at the start of the sample data.
// Each Read returns at most framesPerChunk frames.
func OpenWAV(path string, framesPerChunk int) (*WAVFile, error) {
	if framesPerChunk < 1 {
		return nil, fmt.Errorf("frames per chunk must be positive, got %d", framesPerChunk)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}

	w, err := decodeWAV(f, framesPerChunk)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

func decodeWAV(f *os.File, framesPerChunk int) (*WAVFile, error) {
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not RIFF/WAVE", ErrInvalidWAV)
	}
	if d.WavAudioFormat != wavFormatPCM || d.BitDepth != wavBitDepth {
		return nil, fmt.Errorf("%w: only 16-bit PCM supported (format %d, %d bits)", ErrInvalidWAV, d.WavAudioFormat, d.BitDepth)
	}
	if d.NumChans == 0 || d.SampleRate == 0 {
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidWAV, d.NumChans, d.SampleRate)
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: missing data chunk: %v", ErrInvalidWAV, err)
	}

	channels := int(d.NumChans)
	return &WAVFile{
		file:    f,
		decoder: d,
		buf: &goaudio.IntBuffer{
			Format:         d.Format(),
			SourceBitDepth: wavBitDepth,
			Data:           make([]int, framesPerChunk*channels),
		},
		channels: channels,
	}, nil
}

// SampleRate returns the file's sample rate in Hz
func (w *WAVFile) SampleRate() int { return int(w.decoder.SampleRate) }

// Channels returns the number of interleaved channels
func (w *WAVFile) Channels() int { return w.channels }

// Read returns the next chunk of whole frames, or io.EOF once the data is
// exhausted. A trailing partial frame is discarded.
func (w *WAVFile) Read(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	w.buf.Data = w.buf.Data[:cap(w.buf.Data)]
	n, err := w.decoder.PCMBuffer(w.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Chunk{}, fmt.Errorf("read wav: %w", err)
	}

	frames := n / w.channels
	if frames == 0 {
		return Chunk{}, io.EOF
	}

	samples := make([]int16, frames*w.channels)
	for i := range samples {
		samples[i] = int16(w.buf.Data[i])
	}
	return Chunk{Samples: samples, Frames: frames, Channels: w.channels}, nil
}

// Close closes the underlying file
func (w *WAVFile) Close() error {
	return w.file.Close()
}

// WriteWAV writes interleaved 16-bit PCM samples as a canonical WAV file
func WriteWAV(path string, samples []int16, sampleRate, channels int) error {
	if channels < 1 || sampleRate < 1 {
		return fmt.Errorf("write wav: %d channels at %d Hz", channels, sampleRate)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: wavBitDepth,
		Data:           data,
	}

	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, channels, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	return f.Close()
}
