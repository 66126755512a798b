package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/realtalk/pkg/audio"
)

// Inbound message types recognised by [ParseEvent].
const (
	TypeSessionCreated             = "session.created"
	TypeSessionUpdated             = "session.updated"
	TypeResponseAudioDelta         = "response.audio.delta"
	TypeResponseDone               = "response.done"
	TypeResponseAudioTranscript    = "response.audio_transcript.delta"
	TypeInputTranscriptionDelta    = "conversation.item.input_audio_transcription.delta"
	TypeInputTranscriptionComplete = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted              = "input_audio_buffer.speech_started"
	TypeSpeechStopped              = "input_audio_buffer.speech_stopped"
	TypeError                      = "error"
)

// Event is an inbound message decoded at the transport boundary. The set of
// variants is closed: [SessionAcknowledged], [AudioDelta], [ResponseDone],
// [TranscriptionDelta], [SpeechStarted], [SpeechStopped], [ServiceError] and
// [Unknown].
type Event interface {
	// Type returns the wire "type" discriminator the event was decoded from.
	Type() string

	isEvent()
}

// SessionAcknowledged is emitted for session.created and session.updated.
type SessionAcknowledged struct {
	EventType string
	SessionID string

	// Session is the raw session object echoed by the service.
	Session json.RawMessage
}

// AudioDelta carries one fragment of synthesized speech as raw PCM16.
type AudioDelta struct {
	ResponseID string
	ItemID     string
	Audio      []byte
}

// Usage is the token accounting attached to a completed response.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseDone reports completion of one response.
type ResponseDone struct {
	ResponseID string
	Status     string
	Usage      *Usage

	// Response is the raw response object, kept for logging.
	Response json.RawMessage
}

// TranscriptionDelta carries transcript text. Role is "user" for
// transcriptions of the captured audio and "assistant" for transcripts of
// synthesized speech. Final is set when the service reports a completed
// transcription rather than an incremental delta.
type TranscriptionDelta struct {
	EventType string
	ItemID    string
	Role      string
	Text      string
	Final     bool
}

// SpeechStarted is the service's VAD reporting the start of user speech.
type SpeechStarted struct {
	ItemID       string
	AudioStartMs int
}

// SpeechStopped is the service's VAD reporting the end of user speech.
type SpeechStopped struct {
	ItemID     string
	AudioEndMs int
}

// ServiceError is an "error" event. The session stays open after it.
type ServiceError struct {
	Kind    string
	Code    string
	Message string
}

// Unknown is any event type not listed above. It is accepted and logged,
// never fatal.
type Unknown struct {
	EventType string
	Raw       json.RawMessage
}

func (e SessionAcknowledged) Type() string { return e.EventType }
func (AudioDelta) Type() string { return TypeResponseAudioDelta }
func (ResponseDone) Type() string { return TypeResponseDone }
func (e TranscriptionDelta) Type() string { return e.EventType }
func (SpeechStarted) Type() string { return TypeSpeechStarted }
func (SpeechStopped) Type() string { return TypeSpeechStopped }
func (ServiceError) Type() string { return TypeError }
func (e Unknown) Type() string { return e.EventType }

func (SessionAcknowledged) isEvent() {}
func (AudioDelta) isEvent() {}
func (ResponseDone) isEvent() {}
func (TranscriptionDelta) isEvent() {}
func (SpeechStarted) isEvent() {}
func (SpeechStopped) isEvent() {}
func (ServiceError) isEvent() {}
func (Unknown) isEvent() {}

// envelope carries the discriminator every inbound message has. The body is
// decoded into the struct for that type only.
type envelope struct {
	Type string `json:"type"`
}

type sessionMessage struct {
	Session json.RawMessage `json:"session"`
}

type audioDeltaMessage struct {
	Delta      string `json:"delta"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
}

type responseDoneMessage struct {
	Response json.RawMessage `json:"response"`
}

type transcriptMessage struct {
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
}

type speechMessage struct {
	ItemID       string `json:"item_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// errorMessage is {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type errorMessage struct {
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type responseSummary struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Usage  *Usage `json:"usage,omitempty"`
}

type sessionSummary struct {
	ID string `json:"id"`
}

// decodeBody unmarshals data into a T, reporting failures as decode errors
// for typ.
func decodeBody[T any](typ string, data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &TransportError{Op: "decode", Type: typ, Err: err}
	}
	return v, nil
}

// decodeNested unmarshals an optional nested object into a T.
func decodeNested[T any](typ string, raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	return decodeBody[T](typ, raw)
}

// ParseEvent decodes one inbound message. Any failure is reported as a
// recoverable [*TransportError] with Op "decode"; unrecognised types are not
// failures and decode to [Unknown] without their body being inspected.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &TransportError{Op: "decode", Err: err}
	}
	typ := env.Type
	if typ == "" {
		return nil, &TransportError{Op: "decode", Err: errors.New("missing type discriminator")}
	}

	switch typ {
	case TypeSessionCreated, TypeSessionUpdated:
		m, err := decodeBody[sessionMessage](typ, data)
		if err != nil {
			return nil, err
		}
		sum, err := decodeNested[sessionSummary](typ, m.Session)
		if err != nil {
			return nil, err
		}
		return SessionAcknowledged{EventType: typ, SessionID: sum.ID, Session: m.Session}, nil

	case TypeResponseAudioDelta:
		m, err := decodeBody[audioDeltaMessage](typ, data)
		if err != nil {
			return nil, err
		}
		pcm, err := audio.Decode(m.Delta)
		if err != nil {
			return nil, &TransportError{Op: "decode", Type: typ, Err: err}
		}
		return AudioDelta{ResponseID: m.ResponseID, ItemID: m.ItemID, Audio: pcm}, nil

	case TypeResponseDone:
		m, err := decodeBody[responseDoneMessage](typ, data)
		if err != nil {
			return nil, err
		}
		sum, err := decodeNested[responseSummary](typ, m.Response)
		if err != nil {
			return nil, err
		}
		return ResponseDone{ResponseID: sum.ID, Status: sum.Status, Usage: sum.Usage, Response: m.Response}, nil

	case TypeResponseAudioTranscript, TypeInputTranscriptionDelta, TypeInputTranscriptionComplete:
		m, err := decodeBody[transcriptMessage](typ, data)
		if err != nil {
			return nil, err
		}
		switch typ {
		case TypeResponseAudioTranscript:
			return TranscriptionDelta{EventType: typ, ItemID: m.ItemID, Role: "assistant", Text: m.Delta}, nil
		case TypeInputTranscriptionDelta:
			return TranscriptionDelta{EventType: typ, ItemID: m.ItemID, Role: "user", Text: m.Delta}, nil
		default:
			return TranscriptionDelta{EventType: typ, ItemID: m.ItemID, Role: "user", Text: m.Transcript, Final: true}, nil
		}

	case TypeSpeechStarted, TypeSpeechStopped:
		m, err := decodeBody[speechMessage](typ, data)
		if err != nil {
			return nil, err
		}
		if typ == TypeSpeechStarted {
			return SpeechStarted{ItemID: m.ItemID, AudioStartMs: m.AudioStartMs}, nil
		}
		return SpeechStopped{ItemID: m.ItemID, AudioEndMs: m.AudioEndMs}, nil

	case TypeError:
		m, err := decodeBody[errorMessage](typ, data)
		if err != nil {
			return nil, err
		}
		se := ServiceError{Message: "unknown error"}
		if m.Error != nil {
			se.Kind = m.Error.Type
			se.Code = m.Error.Code
			if m.Error.Message != "" {
				se.Message = m.Error.Message
			}
		}
		return se, nil

	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{EventType: typ, Raw: raw}, nil
	}
}

// String renders a ServiceError for logs.
func (e ServiceError) String() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
