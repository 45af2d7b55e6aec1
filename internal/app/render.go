package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/k-ranasinghe/voice-agent/internal/policy"
	"github.com/k-ranasinghe/voice-agent/internal/session"
)

// renderer writes the conversation to the terminal. Interim transcript
// lines and agent status are transient: each overwrites the previous
// one in place. Finals and notes are committed on their own lines.
type renderer struct {
	mu           sync.Mutex
	out          io.Writer
	redact       bool
	transientLen int
}

func newRenderer(out io.Writer, redact bool) *renderer {
	return &renderer{out: out, redact: redact}
}

func (r *renderer) Transcript(speaker session.Speaker, text string, final bool) {
	label := "you"
	if speaker == session.SpeakerAgent {
		label = "agent"
	}
	if r.redact {
		text, _ = policy.RedactPII(text)
	}
	line := label + ": " + text

	r.mu.Lock()
	defer r.mu.Unlock()
	if final {
		r.commitLocked(line)
		return
	}
	r.transientLocked(line)
}

func (r *renderer) Status(status session.AgentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transientLocked("[" + string(status) + "]")
}

func (r *renderer) Note(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitLocked("* " + msg)
}

// transientLocked redraws the in-place line, padding over whatever the
// previous draw left behind.
func (r *renderer) transientLocked(line string) {
	pad := ""
	if n := r.transientLen - len([]rune(line)); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprint(r.out, "\r"+line+pad)
	r.transientLen = len([]rune(line))
}

func (r *renderer) commitLocked(line string) {
	if r.transientLen > 0 {
		fmt.Fprint(r.out, "\r"+strings.Repeat(" ", r.transientLen)+"\r")
		r.transientLen = 0
	}
	fmt.Fprintln(r.out, line)
}
