package ports

import (
	"context"
	"io"

	"voxchat/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session. The capture device is exclusively
// owned for the lifetime of the session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Transcriber converts one captured PCM segment into text.
//
// The result is tri-state: ("", nil) means the provider understood no speech
// in the segment (expected noise, not an error); a non-nil error means the
// provider itself failed; otherwise the transcript text is returned.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Synthesizer renders text into linear16 PCM suitable for the Player.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player renders PCM audio out loud. Play blocks until the audio finishes or
// ctx is cancelled; cancellation stops output mid-utterance.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

// BackendClient performs one request/response exchange with the
// conversational backend. SendMessage never returns an error; failures are
// classified into the Reply status taxonomy.
type BackendClient interface {
	SendMessage(ctx context.Context, message string, history []domain.Message) domain.Reply
	HealthCheck(ctx context.Context) bool
}

// ReplyRules normalizes assistant replies into speakable text.
type ReplyRules interface {
	Apply(text string) (string, error)
}

// EventSink delivers backend state and chat events to the UI collaborator.
type EventSink interface {
	UserMessage(text string)
	AssistantMessage(text string)
	RoomConnected(connected bool)
	AgentConnected(connected bool)
	SessionStateChanged(state domain.SessionState)
	SessionError(code domain.ErrorCode, detail string)
}
