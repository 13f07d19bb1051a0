package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/rojolang/bidi-live-go/pkg/live"
)

const (
	DefaultBufferFrames = 1024
	DefaultDrainTimeout = 30 * time.Second
)

// Options configures a Sink.
type Options struct {
	// DeviceID selects an output device from ListDevices; nil is the default output.
	DeviceID     *int
	BufferFrames int
	// DrainTimeout bounds how long Finalize waits for queued audio to play.
	DrainTimeout time.Duration
	Logger       *live.Logger
}

// Sink plays a turn's audio as it arrives. It implements live.FormatSink;
// the output stream is opened on the first Append and closed by Finalize
// once the queued audio has been played.
type Sink struct {
	opts Options
	log  *live.Logger

	queue sampleQueue

	mu       sync.Mutex
	format   live.AudioFormat
	stream   *portaudio.Stream
	carry    []byte
	finished bool
}

var _ live.FormatSink = (*Sink)(nil)

// NewSink returns an idle Sink. PortAudio is not touched until audio arrives.
func NewSink(opts Options) *Sink {
	if opts.BufferFrames <= 0 {
		opts.BufferFrames = DefaultBufferFrames
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	log := opts.Logger
	if log == nil {
		log = live.GetGlobalLogger()
	}
	return &Sink{
		opts:   opts,
		log:    log.WithComponent("playback"),
		format: live.DefaultOutputFormat(),
	}
}

// SetFormat must be called before the first Append. Only 16-bit PCM is played.
func (s *Sink) SetFormat(f live.AudioFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return fmt.Errorf("playback: format change after playback started")
	}
	if f.BitsPerSample != 16 || f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("playback: unsupported format %+v", f)
	}
	s.format = f
	return nil
}

// Append queues PCM for playback.
func (s *Sink) Append(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return fmt.Errorf("playback: append after finalize")
	}
	if s.stream == nil {
		if err := s.open(); err != nil {
			return err
		}
	}

	if len(s.carry) > 0 {
		data = append(s.carry, data...)
		s.carry = nil
	}
	if len(data)%2 == 1 {
		s.carry = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}
	s.queue.push(pcm16ToFloat32(data))
	return nil
}

// open must be called with mu held.
func (s *Sink) open() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("playback: initialize portaudio: %w", err)
	}
	dev, err := outputDevice(s.opts.DeviceID)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = s.format.Channels
	params.SampleRate = float64(s.format.SampleRate)
	params.FramesPerBuffer = s.opts.BufferFrames

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		s.queue.pull(out)
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("playback: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("playback: start stream: %w", err)
	}
	s.stream = stream

	s.log.WithFields(map[string]interface{}{
		"device":      dev.Name,
		"sample_rate": s.format.SampleRate,
		"channels":    s.format.Channels,
	}).Info("Playback started")
	return nil
}

// Finalize waits for the queue to drain (up to DrainTimeout) and releases
// the device. Calling it again is a no-op.
func (s *Sink) Finalize() error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.finished = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	defer portaudio.Terminate()

	deadline := time.Now().Add(s.opts.DrainTimeout)
	for s.queue.len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := s.queue.len(); n > 0 {
		s.log.WithField("samples", n).Warn("Playback drain timed out")
	}
	// Let the last buffer reach the device.
	time.Sleep(bufferDuration(s.opts.BufferFrames, s.format.SampleRate))

	stopErr := stream.Stop()
	closeErr := stream.Close()
	s.log.Info("Playback finished")
	if stopErr != nil {
		return fmt.Errorf("playback: stop stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("playback: close stream: %w", closeErr)
	}
	return nil
}

// Level is the peak level of the last buffer handed to the device, in [0, 1].
func (s *Sink) Level() float32 {
	return s.queue.level()
}

func bufferDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}
