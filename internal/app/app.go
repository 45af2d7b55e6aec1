package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/k-ranasinghe/voice-agent/internal/audio"
	"github.com/k-ranasinghe/voice-agent/internal/capture"
	"github.com/k-ranasinghe/voice-agent/internal/config"
	"github.com/k-ranasinghe/voice-agent/internal/history"
	"github.com/k-ranasinghe/voice-agent/internal/httpapi"
	"github.com/k-ranasinghe/voice-agent/internal/observability"
	"github.com/k-ranasinghe/voice-agent/internal/playback"
	"github.com/k-ranasinghe/voice-agent/internal/protocol"
	"github.com/k-ranasinghe/voice-agent/internal/session"
	"github.com/k-ranasinghe/voice-agent/internal/transport"
)

// App wires the client together for one call: transport, capture,
// playback, state store, archive, and the ops API.
type App struct {
	Config  config.Config
	Metrics *observability.Metrics
	Store   *session.Store
	Client  *transport.Client
	Calls   history.Store
	API     *httpapi.Server
	Player  *playback.Player // nil in text mode

	probe       *transport.Probe
	render      *renderer
	turns       *turnClock
	input       io.Reader
	disconnects atomic.Int64
	callStart   time.Time
	callDone    chan struct{}
	endOnce     sync.Once
}

func Build(ctx context.Context, cfg config.Config) (*App, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	store := session.NewStore()

	calls, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("call archive init failed: %w", err)
	}

	voiceURL, err := cfg.Endpoint(transport.ModeVoice)
	if err != nil {
		calls.Close()
		return nil, err
	}
	textURL, err := cfg.Endpoint(transport.ModeText)
	if err != nil {
		calls.Close()
		return nil, err
	}

	client := transport.NewClient(transport.Config{
		VoiceURL:    voiceURL,
		TextURL:     textURL,
		DialTimeout: cfg.DialTimeout,
		Schedule:    cfg.ReconnectSchedule,
	}, store, metrics)

	a := &App{
		Config:  cfg,
		Metrics: metrics,
		Store:   store,
		Client:  client,
		Calls:   calls,
		probe: &transport.Probe{
			URL:      cfg.HealthURL(),
			Timeout:  cfg.ProbeTimeout,
			Attempts: cfg.ProbeAttempts,
		},
		render:   newRenderer(os.Stdout, cfg.RedactLogs),
		turns:    newTurnClock(metrics),
		input:    os.Stdin,
		callDone: make(chan struct{}),
	}

	var volume httpapi.VolumeControl
	if cfg.Mode == transport.ModeVoice {
		a.Player = playback.NewPlayer(playback.MP3Decoder{}, playback.NewSpeaker(), cfg.PlaybackQueue, metrics)
		a.Player.SetVolume(cfg.Volume)
		volume = a.Player
	}

	readyProbe := &transport.Probe{URL: cfg.HealthURL(), Timeout: cfg.ProbeTimeout, Attempts: 1}
	a.API = httpapi.New(cfg, store, client, calls, metrics, readyProbe, volume)

	a.wireHandlers()
	return a, nil
}

// Run performs one call end to end: health preflight, connect, pump
// audio or stdin, block until the call ends or ctx is cancelled, then
// tear down and archive. Call it once per App.
func (a *App) Run(ctx context.Context) error {
	if err := a.probe.Run(ctx); err != nil {
		return err
	}
	if err := a.Client.Connect(ctx, a.Config.Mode); err != nil {
		return err
	}
	a.callStart = time.Now()
	a.render.Note("connected in " + a.Config.Mode + " mode")

	var rec *capture.Recorder
	var wav *audio.Recorder
	pumpDone := make(chan struct{})

	if a.Config.Mode == transport.ModeVoice {
		if a.Config.RecordDir != "" {
			w, err := audio.NewRecorder(a.Config.RecordDir, a.Config.SampleRate)
			if err != nil {
				log.Printf("app: call recording disabled: %v", err)
			} else {
				wav = w
				a.render.Note("recording to " + w.Path())
			}
		}

		rec = capture.NewRecorder(capture.Config{
			SampleRate: a.Config.SampleRate,
			FrameSize:  a.Config.FrameSize,
			QueueDepth: a.Config.FrameQueue,
		}, a.Metrics)
		if err := rec.Start(); err != nil {
			a.Client.Disconnect()
			if wav != nil {
				wav.Close()
			}
			return err
		}
		go func() {
			defer close(pumpDone)
			for frame := range rec.Frames() {
				a.Client.SendAudioFrame(frame)
				if wav != nil {
					if err := wav.WriteFrame(frame); err != nil {
						log.Printf("app: %v", err)
					}
				}
			}
		}()
	} else {
		close(pumpDone)
		go a.readInput()
	}

	select {
	case <-ctx.Done():
	case <-a.callDone:
	}

	if rec != nil {
		rec.Stop()
		<-pumpDone
	}
	if wav != nil {
		if err := wav.Close(); err != nil {
			log.Printf("app: %v", err)
		}
	}
	a.Client.Disconnect()
	if a.Player != nil {
		a.Player.Stop()
	}
	a.archiveCall()
	return nil
}

// Close releases long-lived resources. Safe after Run has returned.
func (a *App) Close() error {
	var errs []string
	if a.Player != nil {
		if err := a.Player.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := a.Calls.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (a *App) wireHandlers() {
	a.Client.On(protocol.TypeSession, func(msg any) {
		m := msg.(protocol.Session)
		a.render.Note("session " + m.SessionID)
	})

	a.Client.On(protocol.TypeTranscript, func(msg any) {
		m := msg.(protocol.Transcript)
		a.render.Transcript(session.Speaker(m.Speaker), m.Text, m.IsFinal)
		switch {
		case m.Speaker == protocol.SpeakerUser && m.IsFinal:
			// The user has the floor: whatever the agent was saying is
			// stale from here on.
			if a.Player != nil {
				a.Player.Stop()
			}
			a.turns.UserCommitted()
		case m.Speaker == protocol.SpeakerAgent:
			a.turns.AgentTranscript()
		}
	})

	a.Client.On(protocol.TypeStatus, func(msg any) {
		a.render.Status(session.AgentStatus(msg.(protocol.Status).Status))
	})

	a.Client.On(protocol.TypeAudio, func(msg any) {
		m := msg.(protocol.Audio)
		a.turns.AgentAudio()
		if a.Player == nil {
			return
		}
		if err := a.Player.QueueChunk(m.Data); err != nil {
			log.Printf("app: %v", err)
		}
	})

	a.Client.On(protocol.TypeAudioEnd, func(any) {
		a.turns.TurnDone()
	})

	a.Client.On(protocol.TypeError, func(msg any) {
		a.render.Note("agent error: " + msg.(protocol.ErrorMessage).Message)
	})

	a.Client.OnStateChange(func(s transport.ConnState) {
		switch s {
		case transport.StateDisconnectedAbnormal:
			a.disconnects.Add(1)
			a.render.Note("connection lost")
		case transport.StateReconnecting:
			a.render.Note("reconnecting")
		case transport.StateExhausted:
			a.render.Note("reconnect attempts exhausted, ending call")
			a.signalCallEnded()
		case transport.StateDisconnectedClean:
			a.signalCallEnded()
		}
	})
}

// readInput feeds stdin lines to the agent in text mode. EOF ends the
// call.
func (a *App) readInput() {
	scanner := bufio.NewScanner(a.input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := a.Client.SendText(line); err != nil {
			log.Printf("app: %v", err)
			continue
		}
		a.turns.UserCommitted()
	}
	a.signalCallEnded()
}

func (a *App) signalCallEnded() {
	a.endOnce.Do(func() { close(a.callDone) })
}

// archiveCall records the finished call's shape. Transcript text never
// leaves the process.
func (a *App) archiveCall() {
	if a.callStart.IsZero() {
		return
	}
	conv := a.Store.Conversation()
	userTurns, agentTurns := a.Store.TurnCounts()
	record := history.CallRecord{
		SessionID:           a.Store.SessionID(),
		Mode:                a.Config.Mode,
		StartedAt:           a.callStart.UTC(),
		EndedAt:             time.Now().UTC(),
		Intent:              conv.Intent,
		Authenticated:       conv.Authenticated,
		EscalationRequested: conv.EscalationRequested,
		UserTurns:           userTurns,
		AgentTurns:          agentTurns,
		Disconnects:         int(a.disconnects.Load()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Calls.SaveCall(ctx, record); err != nil {
		log.Printf("app: archive call: %v", err)
	}
}
