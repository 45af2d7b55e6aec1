package playback

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows one audio context per process, so the context is shared
// and fixed at the sample rate of the first chunk played.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func sharedContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		opts := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		}
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(opts)
		if otoErr != nil {
			otoErr = fmt.Errorf("init speaker: %w", otoErr)
			return
		}
		<-ready
		otoRate = sampleRate
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if sampleRate != otoRate {
		log.Printf("playback: chunk rate %d differs from speaker rate %d", sampleRate, otoRate)
	}
	return otoCtx, nil
}

// Speaker feeds decoded PCM to the speaker through a single oto
// player. It implements io.Reader so the player can pull queued bytes
// on the audio thread's schedule.
type Speaker struct {
	mu        sync.Mutex
	ctx       *oto.Context
	player    *oto.Player
	buf       []byte
	volume    float64
	playing   bool
	closed    bool
	suspended bool
}

func NewSpeaker() *Speaker {
	return &Speaker{volume: 1}
}

func (s *Speaker) Write(pcm []byte, sampleRate int) error {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.ctx == nil {
		s.ctx = ctx
	}
	if s.suspended {
		if err := s.ctx.Resume(); err != nil {
			return fmt.Errorf("resume speaker: %w", err)
		}
		s.suspended = false
	}

	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.ctx.NewPlayer(s)
		s.player.SetVolume(s.volume)
		s.player.Play()
	}
	return nil
}

// Read is called by oto on its mixer goroutine, so it must never
// block. An empty buffer yields silence, which keeps the stream live
// between agent turns.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.EOF
	}
	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards buffered audio and tears the current player down so
// nothing queued before the flush reaches the device.
func (s *Speaker) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	if s.player == nil || !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	player := s.player
	s.player = nil
	s.mu.Unlock()

	player.Pause()
	player.Reset()
	player.Close()
}

func (s *Speaker) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	if s.player != nil {
		s.player.SetVolume(v)
	}
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.playing = false
	ctx := s.ctx
	suspended := s.suspended
	s.suspended = true
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	if ctx != nil && !suspended {
		if err := ctx.Suspend(); err != nil {
			return fmt.Errorf("suspend speaker: %w", err)
		}
	}
	return nil
}
