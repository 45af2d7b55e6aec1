package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/k-ranasinghe/voice-agent/internal/config"
	"github.com/k-ranasinghe/voice-agent/internal/protocol"
	"github.com/k-ranasinghe/voice-agent/internal/session"
	"github.com/k-ranasinghe/voice-agent/internal/transport"
)

// voice-probe replays scripted utterances over the text endpoint and
// reports per-turn response latency. It exercises the same transport
// stack as a real call, minus the microphone and speaker.

type options struct {
	serverURL      string
	turns          int
	turnTimeout    time.Duration
	interTurnDelay time.Duration
	texts          []string
	verbose        bool
}

type turnResult struct {
	firstResponse time.Duration
	turnTotal     time.Duration
}

var defaultUtterances = []string{
	"What is my checking account balance?",
	"Did my salary arrive this month?",
	"I want to block my debit card.",
	"What savings products do you offer?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voice-probe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voice-probe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var turnTimeoutMS int
	var interTurnMS int

	flag.StringVar(&cfg.serverURL, "server-url", "ws://localhost:8000", "agent base URL (ws, wss, http, or https)")
	flag.IntVar(&cfg.turns, "turns", 8, "number of text turns to send")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for the agent's final reply per turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 250, "delay between turns in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	flag.Parse()

	cfg.serverURL = strings.TrimRight(strings.TrimSpace(cfg.serverURL), "/")
	if cfg.serverURL == "" {
		return options{}, fmt.Errorf("server-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	agent := config.Config{ServerURL: cfg.serverURL}
	voiceURL, err := agent.Endpoint(transport.ModeVoice)
	if err != nil {
		return err
	}
	textURL, err := agent.Endpoint(transport.ModeText)
	if err != nil {
		return err
	}

	probe := transport.Probe{URL: agent.HealthURL(), Timeout: 5 * time.Second, Attempts: 3}
	if err := probe.Run(ctx); err != nil {
		return fmt.Errorf("agent health check: %w", err)
	}

	store := session.NewStore()
	client := transport.NewClient(transport.Config{
		VoiceURL:    voiceURL,
		TextURL:     textURL,
		DialTimeout: 5 * time.Second,
	}, store, nil)

	respCh := make(chan struct{}, 32)
	doneCh := make(chan struct{}, 32)
	connErrCh := make(chan error, 1)

	client.On(protocol.TypeTranscript, func(msg any) {
		m := msg.(protocol.Transcript)
		if m.Speaker != protocol.SpeakerAgent {
			return
		}
		select {
		case respCh <- struct{}{}:
		default:
		}
		if m.IsFinal {
			select {
			case doneCh <- struct{}{}:
			default:
			}
		}
	})
	client.OnStateChange(func(s transport.ConnState) {
		if s == transport.StateDisconnectedAbnormal || s == transport.StateExhausted {
			select {
			case connErrCh <- fmt.Errorf("connection %s", s):
			default:
			}
		}
	})

	if err := client.Connect(ctx, transport.ModeText); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Disconnect()

	if cfg.verbose {
		fmt.Printf("voice-probe: connected to %s turns=%d\n", textURL, cfg.turns)
	}

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		drain(respCh)
		drain(doneCh)

		text := cfg.texts[i%len(cfg.texts)]
		start := time.Now()
		if err := client.SendText(text); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}

		first, err := await(respCh, connErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await first response: %w", i+1, err)
		}
		res := turnResult{firstResponse: first.Sub(start)}

		final, err := await(doneCh, connErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await final reply: %w", i+1, err)
		}
		res.turnTotal = final.Sub(start)
		results = append(results, res)

		if cfg.verbose {
			fmt.Printf("voice-probe: turn %d/%d text=%q first_response=%dms turn_total=%dms\n",
				i+1, cfg.turns, text, res.firstResponse.Milliseconds(), res.turnTotal.Milliseconds())
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(results)
	return nil
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// await blocks until the next signal and returns its arrival time.
func await(ch <-chan struct{}, errCh <-chan error, timeout time.Duration) (time.Time, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return time.Now(), nil
	case err := <-errCh:
		return time.Time{}, err
	case <-timer.C:
		return time.Time{}, fmt.Errorf("timeout after %s", timeout)
	}
}

func printSummary(results []turnResult) {
	if len(results) == 0 {
		return
	}
	firsts := make([]time.Duration, len(results))
	totals := make([]time.Duration, len(results))
	for i, r := range results {
		firsts[i] = r.firstResponse
		totals[i] = r.turnTotal
	}
	fmt.Printf("voice-probe: first_response min=%dms p50=%dms p95=%dms max=%dms\n",
		percentile(firsts, 0).Milliseconds(), percentile(firsts, 0.50).Milliseconds(),
		percentile(firsts, 0.95).Milliseconds(), percentile(firsts, 1).Milliseconds())
	fmt.Printf("voice-probe: turn_total     min=%dms p50=%dms p95=%dms max=%dms\n",
		percentile(totals, 0).Milliseconds(), percentile(totals, 0.50).Milliseconds(),
		percentile(totals, 0.95).Milliseconds(), percentile(totals, 1).Milliseconds())
}

func percentile(ds []time.Duration, q float64) time.Duration {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if q <= 0 {
		return sorted[0]
	}
	idx := int(float64(len(sorted))*q+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
