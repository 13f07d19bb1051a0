package live

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AudioFormat is the PCM layout of model audio.
type AudioFormat struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// DefaultOutputFormat is 24 kHz 16-bit mono, what the service emits.
func DefaultOutputFormat() AudioFormat {
	return AudioFormat{SampleRate: 24000, BitsPerSample: 16, Channels: 1}
}

// BytesPerSecond of PCM in this format.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Sink receives the audio view of a turn. A turn never calls its sink from
// two goroutines at once, and makes no call after Finalize.
type Sink interface {
	Append(data []byte) error
	Finalize() error
}

// FormatSink is a Sink that wants the audio format before the first Append.
type FormatSink interface {
	Sink
	SetFormat(f AudioFormat) error
}

// MemorySink keeps audio in memory.
type MemorySink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	format    AudioFormat
	appends   int
	finalized bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{format: DefaultOutputFormat()}
}

func (m *MemorySink) SetFormat(f AudioFormat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.format = f
	return nil
}

func (m *MemorySink) Append(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return fmt.Errorf("memory sink: append after finalize")
	}
	m.appends++
	m.buf.Write(data)
	return nil
}

func (m *MemorySink) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
	return nil
}

// Bytes returns a copy of everything appended.
func (m *MemorySink) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.buf.Bytes())
}

func (m *MemorySink) Format() AudioFormat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

func (m *MemorySink) Appends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

func (m *MemorySink) Finalized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized
}

const wavHeaderSize = 44

// WAVFileSink writes PCM audio to a RIFF/WAVE file. The header is rewritten
// with the final sizes on Finalize.
type WAVFileSink struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	format   AudioFormat
	written  uint32
	started  bool
	finished bool
}

// NewWAVFileSink creates (or truncates) path and reserves the header.
func NewWAVFileSink(path string) (*WAVFileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("wav sink: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav sink: %w", err)
	}
	s := &WAVFileSink{path: path, file: f, format: DefaultOutputFormat()}
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("wav sink: %w", err)
	}
	return s, nil
}

func (w *WAVFileSink) Path() string { return w.path }

func (w *WAVFileSink) SetFormat(f AudioFormat) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("wav sink: format change after audio was written")
	}
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("wav sink: unsupported format %+v", f)
	}
	w.format = f
	return nil
}

func (w *WAVFileSink) Append(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return fmt.Errorf("wav sink: append after finalize")
	}
	w.started = true
	n, err := w.file.Write(data)
	w.written += uint32(n)
	if err != nil {
		return fmt.Errorf("wav sink: %w", err)
	}
	return nil
}

// Finalize patches the header and closes the file. Calling it again is a no-op.
func (w *WAVFileSink) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finished {
		return nil
	}
	w.finished = true
	if _, err := w.file.Seek(0, 0); err != nil {
		w.file.Close()
		return fmt.Errorf("wav sink: %w", err)
	}
	if _, err := w.file.Write(wavHeader(w.format, w.written)); err != nil {
		w.file.Close()
		return fmt.Errorf("wav sink: %w", err)
	}
	return w.file.Close()
}

// wavHeader builds the canonical 44-byte PCM header.
func wavHeader(f AudioFormat, dataLen uint32) []byte {
	blockAlign := uint16(f.Channels * f.BitsPerSample / 8)
	byteRate := uint32(f.SampleRate) * uint32(blockAlign)

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataLen)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitsPerSample))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataLen)
	return h
}
