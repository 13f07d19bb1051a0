package live

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
)

// Factory functions for common handlers

// CreateLoggingStateHandler logs every state transition on l.
func CreateLoggingStateHandler(l *Logger) StateHandler {
	if l == nil {
		l = GetGlobalLogger()
	}
	return func(from, to State) {
		l.Infof("Session state changed: %s -> %s", from, to)
	}
}

// CreateTextPrinter writes each text delta to w as it arrives.
func CreateTextPrinter(w io.Writer) TextHandler {
	return func(delta string) {
		fmt.Fprint(w, delta)
	}
}

// CreateTranscriptionCounter numbers transcription fragments from 1.
func CreateTranscriptionCounter(callback func(n int, delta, full string)) TranscriptionHandler {
	var mu sync.Mutex
	n := 0
	return func(delta, full string) {
		mu.Lock()
		n++
		count := n
		mu.Unlock()
		callback(count, delta, full)
	}
}

// CreateTranscriptionPrinter prints "Transcription Chunk N: text" lines to w.
func CreateTranscriptionPrinter(w io.Writer) TranscriptionHandler {
	return CreateTranscriptionCounter(func(n int, delta, _ string) {
		fmt.Fprintf(w, "Transcription Chunk %d: %s\n", n, delta)
	})
}

// CreateMIMEAnnouncer calls callback with the MIME type of the first audio
// buffer only.
func CreateMIMEAnnouncer(callback func(mimeType string)) AudioHandler {
	var once sync.Once
	return func(frame AudioFrame) {
		once.Do(func() { callback(frame.MIMEType) })
	}
}

// CreateAudioProgressPrinter writes a marker to w for every audio buffer.
func CreateAudioProgressPrinter(w io.Writer, marker string) AudioHandler {
	return func(AudioFrame) {
		fmt.Fprint(w, marker)
	}
}

// CreateAudioLevelMonitor reports the average and peak level of 16-bit
// little-endian PCM buffers, normalised to [0, 1].
func CreateAudioLevelMonitor(callback func(avg, peak float32)) AudioHandler {
	return func(frame AudioFrame) {
		avg, peak, ok := pcm16Levels(frame.Data)
		if ok && callback != nil {
			callback(avg, peak)
		}
	}
}

func pcm16Levels(data []byte) (avg, peak float32, ok bool) {
	samples := len(data) / 2
	if samples == 0 {
		return 0, 0, false
	}
	var sum float64
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		abs := math.Abs(float64(v)) / 32768.0
		sum += abs
		if float32(abs) > peak {
			peak = float32(abs)
		}
	}
	return float32(sum / float64(samples)), peak, true
}

// Composability functions. Handlers run sequentially so that delivery order
// is preserved.

func ChainTextHandlers(handlers ...TextHandler) TextHandler {
	return func(delta string) {
		for _, h := range handlers {
			if h != nil {
				h(delta)
			}
		}
	}
}

func ChainAudioHandlers(handlers ...AudioHandler) AudioHandler {
	return func(frame AudioFrame) {
		for _, h := range handlers {
			if h != nil {
				h(frame)
			}
		}
	}
}

func ChainTranscriptionHandlers(handlers ...TranscriptionHandler) TranscriptionHandler {
	return func(delta, full string) {
		for _, h := range handlers {
			if h != nil {
				h(delta, full)
			}
		}
	}
}

func ChainStateHandlers(handlers ...StateHandler) StateHandler {
	return func(from, to State) {
		for _, h := range handlers {
			if h != nil {
				h(from, to)
			}
		}
	}
}
