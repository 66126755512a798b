package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/realtalk/internal/session"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

// printer renders session notifications for a terminal. Assistant transcript
// deltas are streamed inline; everything else gets its own line.
type printer struct {
	w io.Writer

	// midLine is set while an assistant transcript line is open.
	midLine bool
}

func newPrinter(w io.Writer) *printer { return &printer{w: w} }

// consume prints every notification until ch is closed.
func (p *printer) consume(ch <-chan session.Notification) {
	for n := range ch {
		if n.Event == nil {
			p.state(n.State)
			continue
		}
		p.event(n.Event)
	}
	p.endLine()
}

func (p *printer) state(s session.State) {
	switch s {
	case session.StateStreaming:
		p.line("[listening: speak now]")
	case session.StateClosed:
		p.line("[session closed]")
	case session.StateError:
		p.line("[session failed]")
	}
}

func (p *printer) event(evt realtime.Event) {
	switch e := evt.(type) {
	case realtime.SessionAcknowledged:
		if e.EventType == realtime.TypeSessionCreated {
			p.line(fmt.Sprintf("[session %s]", e.SessionID))
		}
	case realtime.SpeechStarted:
		p.line("[speech started]")
	case realtime.SpeechStopped:
		p.line("[speech stopped]")
	case realtime.TranscriptionDelta:
		if e.Role == "assistant" {
			fmt.Fprint(p.w, e.Text)
			p.midLine = true
			return
		}
		if e.Final {
			p.line("you: " + strings.TrimSpace(e.Text))
		}
	case realtime.ResponseDone:
		p.endLine()
		if e.Usage != nil {
			p.line(fmt.Sprintf("[response %s: %d tokens]", e.Status, e.Usage.TotalTokens))
		} else {
			p.line(fmt.Sprintf("[response %s]", e.Status))
		}
	case realtime.ServiceError:
		p.line(fmt.Sprintf("[service error %s: %s]", e.Code, e.Message))
	case realtime.Unknown:
		// Not rendered.
	}
}

func (p *printer) line(s string) {
	p.endLine()
	fmt.Fprintln(p.w, s)
}

func (p *printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}
