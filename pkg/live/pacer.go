package live

import (
	"context"
	"iter"
	"time"

	"golang.org/x/time/rate"
)

// SilenceChunkSize is 4 KiB of silent 16-bit PCM, 128 ms at 16 kHz mono.
const SilenceChunkSize = 4096

// Pacer spaces out media chunks so they are sent no faster than one per interval.
type Pacer struct {
	interval time.Duration
}

// NewPacer returns a Pacer for interval. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Interval returns the configured interval.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Pace yields every chunk of src in order. The first chunk is yielded at
// once; each later one no earlier than interval after the previous yield, so
// time spent by the consumer counts toward the gap. The sequence stops early
// when ctx is done. Each iteration starts a fresh schedule.
func (p *Pacer) Pace(ctx context.Context, src iter.Seq[MediaChunk]) iter.Seq[MediaChunk] {
	return func(yield func(MediaChunk) bool) {
		if src == nil {
			return
		}
		limit := rate.Inf
		if p.interval > 0 {
			limit = rate.Every(p.interval)
		}
		lim := rate.NewLimiter(limit, 1)
		for c := range src {
			if err := lim.Wait(ctx); err != nil {
				return
			}
			if !yield(c) {
				return
			}
		}
	}
}

// ChunkPCM splits data into chunks of size bytes; the last chunk may be shorter.
func ChunkPCM(data []byte, size int, spec AudioSpec) iter.Seq[MediaChunk] {
	return func(yield func(MediaChunk) bool) {
		if size <= 0 {
			size = len(data)
		}
		for off := 0; off < len(data); off += size {
			end := min(off+size, len(data))
			buf := make([]byte, end-off)
			copy(buf, data[off:end])
			if !yield(MediaChunk{Data: buf, Spec: spec}) {
				return
			}
		}
	}
}

// SilenceChunks yields n chunks of size zero bytes.
func SilenceChunks(n, size int, spec AudioSpec) iter.Seq[MediaChunk] {
	return func(yield func(MediaChunk) bool) {
		for range n {
			if !yield(MediaChunk{Data: make([]byte, size), Spec: spec}) {
				return
			}
		}
	}
}

// Chunks yields the given chunks in order.
func Chunks(chunks ...MediaChunk) iter.Seq[MediaChunk] {
	return func(yield func(MediaChunk) bool) {
		for _, c := range chunks {
			if !yield(c) {
				return
			}
		}
	}
}
