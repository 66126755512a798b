package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrWong99/realtalk/internal/session"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

func TestPrinter(t *testing.T) {
	t.Parallel()

	ch := make(chan session.Notification, 16)
	now := time.Now()
	for _, n := range []session.Notification{
		{At: now, State: session.StateConnecting},
		{At: now, Event: realtime.SessionAcknowledged{EventType: realtime.TypeSessionCreated, SessionID: "sess_1"}},
		{At: now, State: session.StateStreaming},
		{At: now, Event: realtime.SpeechStarted{}},
		{At: now, Event: realtime.Unknown{EventType: "rate_limits.updated"}},
		{At: now, Event: realtime.TranscriptionDelta{Role: "user", Text: "hel"}},
		{At: now, Event: realtime.TranscriptionDelta{Role: "user", Text: " hello there ", Final: true}},
		{At: now, Event: realtime.TranscriptionDelta{Role: "assistant", Text: "Hi, "}},
		{At: now, Event: realtime.TranscriptionDelta{Role: "assistant", Text: "friend."}},
		{At: now, Event: realtime.ResponseDone{Status: "completed", Usage: &realtime.Usage{TotalTokens: 42}}},
		{At: now, Event: realtime.ServiceError{Code: "rate_limited", Message: "slow down"}},
		{At: now, Event: realtime.TranscriptionDelta{Role: "assistant", Text: "partial"}},
		{At: now, State: session.StateClosed},
	} {
		ch <- n
	}
	close(ch)

	var buf bytes.Buffer
	newPrinter(&buf).consume(ch)

	want := "[session sess_1]\n" +
		"[listening: speak now]\n" +
		"[speech started]\n" +
		"you: hello there\n" +
		"Hi, friend.\n" +
		"[response completed: 42 tokens]\n" +
		"[service error rate_limited: slow down]\n" +
		"partial\n" +
		"[session closed]\n"
	if got := buf.String(); got != want {
		t.Errorf("output =\n%s\nwant\n%s", got, want)
	}
}
