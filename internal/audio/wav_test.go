package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeTestWAV(t *testing.T, samples []int16, sampleRate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	if err := WriteWAV(path, samples, sampleRate, channels); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}
	return path
}

func readAll(t *testing.T, w *WAVFile) ([]int16, []Chunk) {
	t.Helper()
	var (
		samples []int16
		chunks  []Chunk
	)
	for {
		chunk, err := w.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return samples, chunks
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		samples = append(samples, chunk.Samples...)
		chunks = append(chunks, chunk)
	}
}

func TestWAVFile_RoundTrip(t *testing.T) {
	want := make([]int16, 2500)
	for i := range want {
		want[i] = int16(i*13 - 16000)
	}
	path := writeTestWAV(t, want, 8000, 1)

	w, err := OpenWAV(path, 1024)
	if err != nil {
		t.Fatalf("OpenWAV() error = %v", err)
	}
	defer w.Close()

	if w.SampleRate() != 8000 {
		t.Errorf("SampleRate() = %d, want 8000", w.SampleRate())
	}
	if w.Channels() != 1 {
		t.Errorf("Channels() = %d, want 1", w.Channels())
	}

	got, chunks := readAll(t, w)
	if len(got) != len(want) {
		t.Fatalf("read %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if want := int64(44 + 2*len(want)); info.Size() != want {
		t.Errorf("file size = %d, want %d", info.Size(), want)
	}

	wantFrames := []int{1024, 1024, 452}
	if len(chunks) != len(wantFrames) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(wantFrames))
	}
	for i, frames := range wantFrames {
		if chunks[i].Frames != frames {
			t.Errorf("chunk[%d].Frames = %d, want %d", i, chunks[i].Frames, frames)
		}
	}
}

func TestWAVFile_Stereo(t *testing.T) {
	samples := []int16{1, -1, 2, -2, 3, -3}
	path := writeTestWAV(t, samples, 16000, 2)

	w, err := OpenWAV(path, 2)
	if err != nil {
		t.Fatalf("OpenWAV() error = %v", err)
	}
	defer w.Close()

	_, chunks := readAll(t, w)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Channels != 2 || chunks[0].Frames != 2 || len(chunks[0].Samples) != 4 {
		t.Errorf("chunk[0] = %+v, want 2 stereo frames", chunks[0])
	}
	if chunks[1].Frames != 1 || chunks[1].Samples[1] != -3 {
		t.Errorf("chunk[1] = %+v, want final frame {3,-3}", chunks[1])
	}
}

func TestWAVFile_SkipsUnknownChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.wav")

	body := []byte("WAVE")
	body = appendChunk(body, "fmt ", fmtBody(1, 1, 8000, 16))
	body = appendChunk(body, "JUNK", []byte("pad!"))
	body = appendChunk(body, "data", []byte{0x05, 0x00, 0x06, 0x00})
	writeRIFF(t, path, body)

	w, err := OpenWAV(path, 16)
	if err != nil {
		t.Fatalf("OpenWAV() error = %v", err)
	}
	defer w.Close()

	got, _ := readAll(t, w)
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Errorf("samples = %v, want [5 6]", got)
	}
}

func TestOpenWAV_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body []byte
		raw  []byte
	}{
		{
			name: "not riff",
			raw:  []byte("RIFX\x00\x00\x00\x00WAVE"),
		},
		{
			name: "no data chunk",
			body: appendChunk([]byte("WAVE"), "fmt ", fmtBody(1, 1, 8000, 16)),
		},
		{
			name: "8-bit",
			body: appendChunk(appendChunk([]byte("WAVE"), "fmt ", fmtBody(1, 1, 8000, 8)), "data", []byte{1, 2}),
		},
		{
			name: "float format",
			body: appendChunk(appendChunk([]byte("WAVE"), "fmt ", fmtBody(3, 1, 8000, 16)), "data", []byte{1, 2}),
		},
		{
			name: "short header",
			raw:  []byte("RIFF"),
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, string(rune('a'+i))+".wav")
			if tt.raw != nil {
				if err := os.WriteFile(path, tt.raw, 0644); err != nil {
					t.Fatal(err)
				}
			} else {
				writeRIFF(t, path, tt.body)
			}

			_, err := OpenWAV(path, 128)
			if !errors.Is(err, ErrInvalidWAV) {
				t.Errorf("OpenWAV() error = %v, want ErrInvalidWAV", err)
			}
		})
	}
}

func TestOpenWAV_MissingFile(t *testing.T) {
	if _, err := OpenWAV(filepath.Join(t.TempDir(), "missing.wav"), 128); err == nil {
		t.Error("OpenWAV() should fail for a missing file")
	}
}

func TestOpenWAV_InvalidChunkSize(t *testing.T) {
	path := writeTestWAV(t, []int16{1}, 8000, 1)
	if _, err := OpenWAV(path, 0); err == nil {
		t.Error("OpenWAV() should reject a zero chunk size")
	}
}

func TestWAVFile_Read_CancelledContext(t *testing.T) {
	w, err := OpenWAV(writeTestWAV(t, []int16{1, 2, 3}, 8000, 1), 128)
	if err != nil {
		t.Fatalf("OpenWAV() error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestWriteWAV_InvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := WriteWAV(path, nil, 8000, 0); err == nil {
		t.Error("WriteWAV() should reject zero channels")
	}
}

func fmtBody(format, channels uint16, sampleRate uint32, bits uint16) []byte {
	b := make([]byte, 16)
	blockAlign := channels * bits / 8
	binary.LittleEndian.PutUint16(b[0:], format)
	binary.LittleEndian.PutUint16(b[2:], channels)
	binary.LittleEndian.PutUint32(b[4:], sampleRate)
	binary.LittleEndian.PutUint32(b[8:], sampleRate*uint32(blockAlign))
	binary.LittleEndian.PutUint16(b[12:], blockAlign)
	binary.LittleEndian.PutUint16(b[14:], bits)
	return b
}

func appendChunk(dst []byte, id string, body []byte) []byte {
	dst = append(dst, id...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	dst = append(dst, body...)
	if len(body)%2 == 1 {
		dst = append(dst, 0)
	}
	return dst
}

func writeRIFF(t *testing.T, path string, body []byte) {
	t.Helper()
	data := []byte("RIFF")
	data = binary.LittleEndian.AppendUint32(data, uint32(len(body)))
	data = append(data, body...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write riff: %v", err)
	}
}
