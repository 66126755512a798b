package realtime_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/MrWong99/realtalk/pkg/provider/realtime"
)

func TestParseEvent_AudioDeltaExactBytes(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x00, 0x01, 0xfe, 0xff, 0x7f, 0x80}
	msg := `{"type":"response.audio.delta","response_id":"resp_1","item_id":"item_1","delta":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}`

	evt, err := realtime.ParseEvent([]byte(msg))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	ad, ok := evt.(realtime.AudioDelta)
	if !ok {
		t.Fatalf("event = %T, want AudioDelta", evt)
	}
	if !bytes.Equal(ad.Audio, pcm) {
		t.Errorf("Audio = %v, want %v", ad.Audio, pcm)
	}
	if ad.ResponseID != "resp_1" || ad.ItemID != "item_1" {
		t.Errorf("ids = %q/%q", ad.ResponseID, ad.ItemID)
	}
	if ad.Type() != realtime.TypeResponseAudioDelta {
		t.Errorf("Type() = %q", ad.Type())
	}
}

func TestParseEvent_AudioDeltaRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		pcm := rapid.SliceOf(rapid.Byte()).Draw(t, "pcm")
		msg := `{"type":"response.audio.delta","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
		evt, err := realtime.ParseEvent([]byte(msg))
		if err != nil {
			t.Fatalf("ParseEvent: %v", err)
		}
		ad := evt.(realtime.AudioDelta)
		if len(ad.Audio) != len(pcm) || !bytes.Equal(ad.Audio, pcm) {
			t.Fatalf("decoded %d bytes, want %d", len(ad.Audio), len(pcm))
		}
	})
}

func TestParseEvent_Variants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		msg   string
		check func(t *testing.T, evt realtime.Event)
	}{
		{
			name: "session.created",
			msg:  `{"type":"session.created","session":{"id":"sess_9","voice":"shimmer"}}`,
			check: func(t *testing.T, evt realtime.Event) {
				ack, ok := evt.(realtime.SessionAcknowledged)
				if !ok || ack.SessionID != "sess_9" || ack.Type() != realtime.TypeSessionCreated {
					t.Errorf("event = %#v", evt)
				}
			},
		},
		{
			name: "session.updated",
			msg:  `{"type":"session.updated","session":{"id":"sess_9"}}`,
			check: func(t *testing.T, evt realtime.Event) {
				ack, ok := evt.(realtime.SessionAcknowledged)
				if !ok || ack.Type() != realtime.TypeSessionUpdated {
					t.Errorf("event = %#v", evt)
				}
			},
		},
		{
			name: "response.done with usage",
			msg:  `{"type":"response.done","response":{"id":"r1","status":"completed","usage":{"total_tokens":42,"input_tokens":30,"output_tokens":12}}}`,
			check: func(t *testing.T, evt realtime.Event) {
				done, ok := evt.(realtime.ResponseDone)
				if !ok {
					t.Fatalf("event = %T", evt)
				}
				if done.ResponseID != "r1" || done.Status != "completed" {
					t.Errorf("done = %#v", done)
				}
				if done.Usage == nil || done.Usage.TotalTokens != 42 || done.Usage.OutputTokens != 12 {
					t.Errorf("usage = %#v", done.Usage)
				}
			},
		},
		{
			name: "assistant transcript delta",
			msg:  `{"type":"response.audio_transcript.delta","item_id":"i1","delta":"Hel"}`,
			check: func(t *testing.T, evt realtime.Event) {
				td, ok := evt.(realtime.TranscriptionDelta)
				if !ok || td.Role != "assistant" || td.Text != "Hel" || td.Final {
					t.Errorf("event = %#v", evt)
				}
			},
		},
		{
			name: "input transcription completed",
			msg:  `{"type":"conversation.item.input_audio_transcription.completed","item_id":"i2","transcript":"hello there"}`,
			check: func(t *testing.T, evt realtime.Event) {
				td, ok := evt.(realtime.TranscriptionDelta)
				if !ok || td.Role != "user" || td.Text != "hello there" || !td.Final {
					t.Errorf("event = %#v", evt)
				}
			},
		},
		{
			name: "speech started",
			msg:  `{"type":"input_audio_buffer.speech_started","item_id":"i3","audio_start_ms":1200}`,
			check: func(t *testing.T, evt realtime.Event) {
				ss, ok := evt.(realtime.SpeechStarted)
				if !ok || ss.AudioStartMs != 1200 || ss.ItemID != "i3" {
					t.Errorf("event = %#v", evt)
				}
			},
		},
		{
			name: "speech stopped",
			msg:  `{"type":"input_audio_buffer.speech_stopped","item_id":"i3","audio_end_ms":2400}`,
			check: func(t *testing.T, evt realtime.Event) {
				ss, ok := evt.(realtime.SpeechStopped)
				if !ok || ss.AudioEndMs != 2400 {
					t.Errorf("event = %#v", evt)
				}
			},
		},
		{
			name: "error event",
			msg:  `{"type":"error","error":{"type":"invalid_request_error","code":"bad_voice","message":"voice not supported"}}`,
			check: func(t *testing.T, evt realtime.Event) {
				se, ok := evt.(realtime.ServiceError)
				if !ok {
					t.Fatalf("event = %T", evt)
				}
				if se.Kind != "invalid_request_error" || se.Code != "bad_voice" || se.Message != "voice not supported" {
					t.Errorf("error = %#v", se)
				}
				if se.String() != "invalid_request_error (bad_voice): voice not supported" {
					t.Errorf("String() = %q", se.String())
				}
			},
		},
		{
			name: "error event without detail",
			msg:  `{"type":"error"}`,
			check: func(t *testing.T, evt realtime.Event) {
				se, ok := evt.(realtime.ServiceError)
				if !ok || se.Message != "unknown error" {
					t.Errorf("event = %#v", evt)
				}
			},
		},
		{
			name: "unknown type",
			msg:  `{"type":"rate_limits.updated","rate_limits":[{"name":"tokens"}]}`,
			check: func(t *testing.T, evt realtime.Event) {
				u, ok := evt.(realtime.Unknown)
				if !ok || u.EventType != "rate_limits.updated" || u.Type() != "rate_limits.updated" {
					t.Errorf("event = %#v", evt)
				}
				if len(u.Raw) == 0 {
					t.Error("Unknown.Raw is empty")
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt, err := realtime.ParseEvent([]byte(tc.msg))
			if err != nil {
				t.Fatalf("ParseEvent: %v", err)
			}
			tc.check(t, evt)
		})
	}
}

func TestParseEvent_DecodeErrorsAreRecoverable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
	}{
		{name: "malformed json", msg: `{"type":`},
		{name: "not an object", msg: `[1,2,3]`},
		{name: "missing type", msg: `{"delta":"AAAA"}`},
		{name: "invalid base64 delta", msg: `{"type":"response.audio.delta","delta":"!!not-base64!!"}`},
		{name: "session not an object", msg: `{"type":"session.created","session":"x"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt, err := realtime.ParseEvent([]byte(tc.msg))
			if err == nil {
				t.Fatalf("ParseEvent = %#v, want error", evt)
			}
			var te *realtime.TransportError
			if !errors.As(err, &te) {
				t.Fatalf("error = %T, want *TransportError", err)
			}
			if te.Op != "decode" || !te.Recoverable() {
				t.Errorf("TransportError = %+v, want recoverable decode", te)
			}
			if !realtime.IsRecoverable(err) {
				t.Error("IsRecoverable = false")
			}
		})
	}
}

func TestParseEvent_UnknownBodyNotInspected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  string
		msg  string
	}{
		{"object delta", "response.function_call_arguments.delta", `{"type":"response.function_call_arguments.delta","delta":{"args":"{}"}}`},
		{"string error", "conversation.item.truncated", `{"type":"conversation.item.truncated","error":"not an object"}`},
		{"numeric item id", "rate_limits.updated", `{"type":"rate_limits.updated","item_id":42,"response":[1,2]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			evt, err := realtime.ParseEvent([]byte(tc.msg))
			if err != nil {
				t.Fatalf("ParseEvent: %v", err)
			}
			u, ok := evt.(realtime.Unknown)
			if !ok {
				t.Fatalf("event = %T, want Unknown", evt)
			}
			if u.Type() != tc.typ || string(u.Raw) != tc.msg {
				t.Errorf("Unknown = {%q, %s}", u.Type(), u.Raw)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	closed := &realtime.ConnectionClosedError{Code: 1000, Reason: "bye"}
	if !realtime.IsConnectionClosed(closed) {
		t.Error("IsConnectionClosed(ConnectionClosedError) = false")
	}
	if realtime.IsRecoverable(closed) {
		t.Error("IsRecoverable(ConnectionClosedError) = true")
	}

	send := &realtime.TransportError{Op: "send", Err: realtime.ErrSessionClosed}
	if realtime.IsRecoverable(send) {
		t.Error("send failure must not be recoverable")
	}
	if !errors.Is(send, realtime.ErrSessionClosed) {
		t.Error("TransportError does not unwrap to ErrSessionClosed")
	}

	connErr := &realtime.ConnectionError{Endpoint: "wss://x", Err: errors.New("401")}
	if realtime.IsConnectionClosed(connErr) || realtime.IsRecoverable(connErr) {
		t.Error("ConnectionError misclassified")
	}
}
