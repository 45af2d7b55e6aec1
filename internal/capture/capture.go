package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/k-ranasinghe/voice-agent/internal/observability"
)

// device is the OS audio layer. Teardown is three ordered steps so a
// failure in one never skips the rest.
type device interface {
	start(onSamples func(samples []float32)) error
	stop() error
	uninit() error
	close() error
}

type Config struct {
	SampleRate int
	FrameSize  int // samples per outbound frame
	QueueDepth int // frames buffered between callback thread and consumer
}

var ErrAlreadyStarted = errors.New("capture: already started")

// Recorder owns the microphone. The device callback runs on a
// real-time audio thread: it accumulates samples into fixed-size
// frames, converts float to int16, and hands each finished frame to a
// bounded channel without ever blocking. Frames the consumer cannot
// take in time are dropped.
type Recorder struct {
	cfg     Config
	metrics *observability.Metrics
	dev     device
	frames  chan []byte

	mu      sync.Mutex
	started bool
	stopped bool

	// Accumulator, touched only by the device callback thread.
	acc    []int16
	accLen int
}

func NewRecorder(cfg Config, metrics *observability.Metrics) *Recorder {
	return newRecorder(cfg, metrics, newMalgoDevice(cfg))
}

func newRecorder(cfg Config, metrics *observability.Metrics, dev device) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	return &Recorder{
		cfg:     cfg,
		metrics: metrics,
		dev:     dev,
		frames:  make(chan []byte, cfg.QueueDepth),
		acc:     make([]int16, cfg.FrameSize),
	}
}

// Start acquires the microphone. On any failure the device layer
// releases whatever it had initialized before returning, so a denied
// device leaves no partial state behind.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	if r.stopped {
		return errors.New("capture: recorder already stopped")
	}
	if err := r.dev.start(r.appendSamples); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	r.started = true
	return nil
}

// Frames yields finished frames in strict production order. The channel
// closes after Stop.
func (r *Recorder) Frames() <-chan []byte {
	return r.frames
}

// Stop tears the capture stack down in order: stop the stream, release
// the device, free the context. Every step runs even if an earlier one
// fails. Idempotent, and safe before Start.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.started = false
	r.mu.Unlock()

	if started {
		if err := r.dev.stop(); err != nil {
			log.Printf("capture: stop device: %v", err)
		}
		if err := r.dev.uninit(); err != nil {
			log.Printf("capture: release device: %v", err)
		}
	}
	if err := r.dev.close(); err != nil {
		log.Printf("capture: close audio context: %v", err)
	}
	close(r.frames)
}

// appendSamples runs on the device callback thread. No locks, no
// blocking sends.
func (r *Recorder) appendSamples(samples []float32) {
	for _, s := range samples {
		r.acc[r.accLen] = floatToInt16(s)
		r.accLen++
		if r.accLen < r.cfg.FrameSize {
			continue
		}
		r.accLen = 0
		frame := make([]byte, r.cfg.FrameSize*2)
		for i, v := range r.acc {
			binary.LittleEndian.PutUint16(frame[i*2:], uint16(v))
		}
		select {
		case r.frames <- frame:
			if r.metrics != nil {
				r.metrics.FramesCaptured.Inc()
			}
		default:
			if r.metrics != nil {
				r.metrics.FramesDropped.Inc()
			}
		}
	}
}

// floatToInt16 clamps to [-1, 1] and scales asymmetrically so both
// extremes map onto the full int16 range: negatives by 32768,
// non-negatives by 32767.
func floatToInt16(x float32) int16 {
	if x < -1 {
		x = -1
	}
	if x > 1 {
		x = 1
	}
	if x < 0 {
		return int16(x * 32768)
	}
	return int16(x * 32767)
}
