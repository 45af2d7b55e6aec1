package app

import (
	"sync"
	"time"

	"github.com/k-ranasinghe/voice-agent/internal/observability"
)

// turnClock measures one conversational turn at a time. A turn opens
// when the user's utterance is committed and closes at audio_end.
// Stage events arriving with no turn open are ignored; only the first
// of each kind inside a turn is recorded.
type turnClock struct {
	mu            sync.Mutex
	metrics       *observability.Metrics
	startedAt     time.Time
	sawTranscript bool
	sawAudio      bool
}

func newTurnClock(metrics *observability.Metrics) *turnClock {
	return &turnClock{metrics: metrics}
}

func (tc *turnClock) UserCommitted() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.startedAt = time.Now()
	tc.sawTranscript = false
	tc.sawAudio = false
}

func (tc *turnClock) AgentTranscript() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.startedAt.IsZero() || tc.sawTranscript {
		return
	}
	tc.sawTranscript = true
	if tc.metrics != nil {
		tc.metrics.ObserveStage(observability.StageFirstTranscript, time.Since(tc.startedAt))
	}
}

func (tc *turnClock) AgentAudio() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.startedAt.IsZero() || tc.sawAudio {
		return
	}
	tc.sawAudio = true
	if tc.metrics != nil {
		tc.metrics.ObserveFirstAudioLatency(time.Since(tc.startedAt))
	}
}

func (tc *turnClock) TurnDone() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.startedAt.IsZero() {
		return
	}
	if tc.metrics != nil {
		tc.metrics.ObserveStage(observability.StageTurnTotal, time.Since(tc.startedAt))
	}
	tc.startedAt = time.Time{}
}
