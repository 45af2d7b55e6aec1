package playback

import (
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/k-ranasinghe/voice-agent/internal/observability"
)

// Decoder turns one compressed audio chunk into interleaved PCM16LE
// bytes plus the sample rate they were produced at.
type Decoder interface {
	Decode(chunk []byte) (pcm []byte, sampleRate int, err error)
}

// Output is the speaker. Write queues PCM and returns once the bytes
// are handed to the device layer; Flush drops whatever has not reached
// the device yet.
type Output interface {
	Write(pcm []byte, sampleRate int) error
	Flush()
	SetVolume(v float64)
	Close() error
}

type queuedChunk struct {
	gen  uint64
	data []byte
}

// Player decodes and plays agent audio chunks strictly in arrival
// order. A single drain goroutine owns the decoder and the output, so
// two chunks are never decoded or written concurrently. Stop bumps a
// generation counter: chunks queued or mid-decode under an older
// generation are discarded instead of played.
type Player struct {
	dec     Decoder
	out     Output
	metrics *observability.Metrics
	queue   chan queuedChunk
	gen     atomic.Uint64
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPlayer(dec Decoder, out Output, queueDepth int, metrics *observability.Metrics) *Player {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	p := &Player{
		dec:     dec,
		out:     out,
		metrics: metrics,
		queue:   make(chan queuedChunk, queueDepth),
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// QueueChunk accepts one base64-encoded audio chunk. Invalid encoding
// is an error; a full queue drops the chunk rather than block the
// caller, which runs on the transport read loop.
func (p *Player) QueueChunk(encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		p.count("invalid")
		return fmt.Errorf("audio chunk base64: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.count("dropped")
		return nil
	}
	select {
	case p.queue <- queuedChunk{gen: p.gen.Load(), data: data}:
	default:
		p.count("dropped")
		log.Printf("playback: queue full, dropping %d byte chunk", len(data))
	}
	return nil
}

// Stop discards all pending audio and silences the speaker. Chunks
// already being decoded are invalidated and will not play. The player
// stays usable for the next turn.
func (p *Player) Stop() {
	p.gen.Add(1)
	for {
		select {
		case <-p.queue:
			p.count("discarded")
		default:
			p.out.Flush()
			return
		}
	}
}

// Close stops playback and releases the speaker. Chunks queued after
// Close are dropped silently.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.Stop()
	close(p.queue)
	p.wg.Wait()
	return p.out.Close()
}

// SetVolume clamps to [0, 1] and applies to current and future audio.
func (p *Player) SetVolume(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.out.SetVolume(v)
	return v
}

func (p *Player) drain() {
	defer p.wg.Done()
	for c := range p.queue {
		if c.gen != p.gen.Load() {
			p.count("discarded")
			continue
		}
		pcm, rate, err := p.dec.Decode(c.data)
		if err != nil {
			log.Printf("playback: %v", err)
			p.count("decode_error")
			continue
		}
		if c.gen != p.gen.Load() {
			p.count("discarded")
			continue
		}
		if err := p.out.Write(pcm, rate); err != nil {
			log.Printf("playback: speaker: %v", err)
			p.count("output_error")
			continue
		}
		p.count("played")
	}
}

func (p *Player) count(outcome string) {
	if p.metrics != nil {
		p.metrics.PlaybackChunks.WithLabelValues(outcome).Inc()
	}
}
