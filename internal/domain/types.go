package domain

import "time"

// SessionState models the conversation session lifecycle.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateListening    SessionState = "listening"
	SessionStateDispatching  SessionState = "dispatching"
	SessionStateSpeaking     SessionState = "speaking"
	SessionStateDisconnected SessionState = "disconnected"
)

// Session is the coordinator-owned mutable state. Only the coordinator's
// serialized handlers may write to it.
type Session struct {
	Active        bool
	Recording     bool
	SpeechEnabled bool
	Connected     bool
}

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat-log entry, kept by the coordinator as conversation
// history and shipped as request context.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// DispatchStatus classifies the outcome of one backend exchange.
type DispatchStatus string

const (
	DispatchSuccess         DispatchStatus = "success"
	DispatchTimeout         DispatchStatus = "timeout"
	DispatchConnectionError DispatchStatus = "connection_error"
	DispatchAuthError       DispatchStatus = "authentication_error"
	DispatchInvalidResponse DispatchStatus = "invalid_response"
	DispatchError           DispatchStatus = "error"
)

// Reply is the classified result of one outbound backend call. Failures are
// carried as values, never raised across component boundaries.
type Reply struct {
	Status DispatchStatus
	Text   string
	Detail string
}

func (r Reply) IsSuccess() bool {
	return r.Status == DispatchSuccess
}

// ConnectivityState records the latest health probe result.
type ConnectivityState struct {
	Connected bool
	CheckedAt time.Time
}

// ErrorCode identifies user-surfaced and logged error kinds.
type ErrorCode string

const (
	ErrorCodeStartup            ErrorCode = "startup"
	ErrorCodeCaptureUnavailable ErrorCode = "capture_unavailable"
	ErrorCodeAudioStream        ErrorCode = "audio_stream"
	ErrorCodeTranscription      ErrorCode = "transcription"
	ErrorCodeDispatch           ErrorCode = "dispatch"
	ErrorCodeSynthesis          ErrorCode = "synthesis"
)

// Status summarizes the current runtime status for the UI.
type Status struct {
	State    SessionState `json:"state"`
	Active   bool         `json:"active"`
	Speaking bool         `json:"speaking"`
	Message  string       `json:"message,omitempty"`
}
