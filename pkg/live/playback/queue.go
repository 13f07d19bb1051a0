package playback

import (
	"encoding/binary"
	"math"
	"sync"
)

// sampleQueue hands decoded samples from Append to the PortAudio callback.
type sampleQueue struct {
	mu      sync.Mutex
	samples []float32
	peak    float32
}

func (q *sampleQueue) push(s []float32) {
	q.mu.Lock()
	q.samples = append(q.samples, s...)
	q.mu.Unlock()
}

// pull fills out with queued samples, padding with silence, and returns the
// number of real samples copied.
func (q *sampleQueue) pull(out []float32) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := copy(out, q.samples)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	var peak float32
	for _, v := range out[:n] {
		if a := float32(math.Abs(float64(v))); a > peak {
			peak = a
		}
	}
	q.peak = peak

	q.samples = q.samples[n:]
	if len(q.samples) == 0 {
		q.samples = nil
	}
	return n
}

func (q *sampleQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.samples)
}

func (q *sampleQueue) level() float32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

// pcm16ToFloat32 decodes 16-bit little-endian PCM into [-1, 1). A trailing
// odd byte is dropped.
func pcm16ToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}
