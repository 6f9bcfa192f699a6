package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"voxchat/internal/domain"
	"voxchat/internal/ports"
)

const greeting = "Hey, how can I help you today?"

// dispatchSettleWindow bounds how long a disconnect waits for an outstanding
// backend call before tearing down regardless.
const dispatchSettleWindow = time.Second

type captureController interface {
	Start(ctx context.Context) error
	Stop()
}

type speechController interface {
	Enqueue(text string)
	Stop()
	SetEnabled(enabled bool)
	IsSpeaking() bool
}

type dispatchController interface {
	Dispatch(message string, history []domain.Message, deliver func(domain.Reply)) error
	Invalidate()
	WaitSettled(timeout time.Duration) bool
	InFlight() bool
}

type healthChecker interface {
	CheckNow(ctx context.Context) bool
}

// Coordinator is the single owner of session state. Every handler serializes
// on one mutex; capture, speech and dispatch workers report back through it
// and never touch the session directly.
type Coordinator struct {
	capture    captureController
	speech     speechController
	dispatcher dispatchController
	monitor    healthChecker
	rules      ports.ReplyRules
	events     ports.EventSink
	logger     *log.Logger

	mu          sync.Mutex
	session     domain.Session
	history     []domain.Message
	dispatching bool
}

func NewCoordinator(
	speech speechController,
	dispatcher dispatchController,
	monitor healthChecker,
	rules ports.ReplyRules,
	events ports.EventSink,
	speechEnabled bool,
	logger *log.Logger,
) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		speech:     speech,
		dispatcher: dispatcher,
		monitor:    monitor,
		rules:      rules,
		events:     events,
		logger:     logger,
		session:    domain.Session{Active: true, SpeechEnabled: speechEnabled},
	}
}

// AttachCapture wires the capture loop in after construction; the loop's
// callbacks point back at this coordinator.
func (c *Coordinator) AttachCapture(capture captureController) {
	c.capture = capture
}

// CaptureEvents returns the callback set a CaptureLoop should report through.
func (c *Coordinator) CaptureEvents() CaptureEvents {
	return CaptureEvents{
		OnListening:  c.handleListening,
		OnTranscript: c.handleTranscript,
		OnError:      c.handleCaptureError,
	}
}

// Begin posts the greeting and performs the initial connectivity probe.
func (c *Coordinator) Begin(ctx context.Context) {
	c.events.AssistantMessage(greeting)

	connected := c.monitor.CheckNow(ctx)
	c.mu.Lock()
	c.session.Connected = connected
	c.mu.Unlock()

	c.events.RoomConnected(connected)
	c.events.AgentConnected(connected)
}

// StartVoice begins continuous capture.
func (c *Coordinator) StartVoice(ctx context.Context) error {
	c.mu.Lock()
	if !c.session.Active {
		c.mu.Unlock()
		return nil
	}
	if c.session.Recording {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.capture.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.session.Recording = true
	c.mu.Unlock()
	c.events.SessionStateChanged(domain.SessionStateListening)
	return nil
}

// StopVoice ends continuous capture; the session stays connected.
func (c *Coordinator) StopVoice() {
	c.mu.Lock()
	if !c.session.Active || !c.session.Recording {
		c.mu.Unlock()
		return
	}
	c.session.Recording = false
	c.mu.Unlock()

	c.capture.Stop()
	c.events.SessionStateChanged(domain.SessionStateIdle)
}

// StopAll stops capture and playback together. An outstanding dispatch is
// left to settle on its own.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	if !c.session.Active {
		c.mu.Unlock()
		return
	}
	c.session.Recording = false
	c.mu.Unlock()

	c.capture.Stop()
	c.speech.Stop()
	c.events.SessionStateChanged(domain.SessionStateIdle)
}

// SubmitText handles a message typed in the chat panel. It shares the
// dispatch pipeline with transcribed speech.
func (c *Coordinator) SubmitText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	if !c.session.Active {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.dispatchMessage(text)
}

// SetSpeechEnabled toggles spoken replies. Disabling stops the current
// utterance immediately.
func (c *Coordinator) SetSpeechEnabled(enabled bool) {
	c.mu.Lock()
	if !c.session.Active {
		c.mu.Unlock()
		return
	}
	c.session.SpeechEnabled = enabled
	c.mu.Unlock()

	c.speech.SetEnabled(enabled)
	c.logger.Info("speech output toggled", "enabled", enabled)
}

// Disconnect tears the session down: capture and playback stop, any
// outstanding dispatch is invalidated and given a bounded settle window, and
// the session becomes terminally inactive.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	if !c.session.Active {
		c.mu.Unlock()
		return
	}
	c.session.Active = false
	c.session.Recording = false
	c.session.Connected = false
	c.mu.Unlock()

	c.capture.Stop()
	c.speech.Stop()
	c.dispatcher.Invalidate()
	if !c.dispatcher.WaitSettled(dispatchSettleWindow) {
		c.logger.Warn("outstanding request did not settle before disconnect")
	}

	c.events.RoomConnected(false)
	c.events.AgentConnected(false)
	c.events.AssistantMessage("Disconnected. Start a new session to reconnect.")
	c.events.SessionStateChanged(domain.SessionStateDisconnected)
	c.logger.Info("session disconnected")
}

// Status derives the externally visible state from session fields.
func (c *Coordinator) Status() domain.Status {
	c.mu.Lock()
	session := c.session
	dispatching := c.dispatching
	c.mu.Unlock()

	speaking := c.speech.IsSpeaking()
	state := domain.SessionStateIdle
	switch {
	case !session.Active:
		state = domain.SessionStateDisconnected
	case dispatching:
		state = domain.SessionStateDispatching
	case speaking:
		state = domain.SessionStateSpeaking
	case session.Recording:
		state = domain.SessionStateListening
	}

	return domain.Status{State: state, Active: session.Active, Speaking: speaking}
}

// Session returns a copy of the session state.
func (c *Coordinator) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// handleListening fires at the top of every capture cycle, before the
// blocking listen. If a reply is being spoken, the user talking over it
// interrupts playback. This applies on every cycle, not only the first.
func (c *Coordinator) handleListening() {
	c.mu.Lock()
	active := c.session.Active
	c.mu.Unlock()
	if !active {
		return
	}

	if c.speech.IsSpeaking() {
		c.logger.Info("user speaking, interrupting playback")
		c.speech.Stop()
	}
}

// HandleConnectivity consumes periodic health probe results. Only
// transitions reach the UI.
func (c *Coordinator) HandleConnectivity(connected bool) {
	c.mu.Lock()
	if !c.session.Active || c.session.Connected == connected {
		c.mu.Unlock()
		return
	}
	c.session.Connected = connected
	c.mu.Unlock()

	if connected {
		c.logger.Info("backend reachable again")
	} else {
		c.logger.Warn("backend unreachable")
	}
	c.events.RoomConnected(connected)
	c.events.AgentConnected(connected)
}

func (c *Coordinator) handleTranscript(text string) {
	c.mu.Lock()
	if !c.session.Active {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.dispatchMessage(text)
}

func (c *Coordinator) handleCaptureError(code domain.ErrorCode, detail string) {
	if code == domain.ErrorCodeCaptureUnavailable || code == domain.ErrorCodeAudioStream {
		c.mu.Lock()
		c.session.Recording = false
		c.mu.Unlock()
	}
	c.events.SessionError(code, detail)
}

func (c *Coordinator) dispatchMessage(text string) {
	// The dispatching flag must be set before Dispatch spawns its worker:
	// a fast reply clears the flag in handleReply, and a write after the
	// fact would leave it stuck.
	c.mu.Lock()
	c.history = append(c.history, domain.Message{Role: domain.RoleUser, Text: text})
	history := make([]domain.Message, len(c.history))
	copy(history, c.history)
	wasDispatching := c.dispatching
	c.dispatching = true
	c.mu.Unlock()

	c.events.UserMessage(text)
	c.events.SessionStateChanged(domain.SessionStateDispatching)

	err := c.dispatcher.Dispatch(text, history, c.handleReply)
	if err != nil {
		c.mu.Lock()
		c.dispatching = wasDispatching
		c.mu.Unlock()

		if errors.Is(err, ErrDispatchInFlight) {
			c.events.SessionError(domain.ErrorCodeDispatch, "still waiting for the previous reply")
			return
		}
		c.events.SessionError(domain.ErrorCodeDispatch, err.Error())
	}
}

// handleReply consumes the classified backend reply exactly once. Every
// failed dispatch produces one chat-visible error and one connectivity
// update.
func (c *Coordinator) handleReply(reply domain.Reply) {
	c.mu.Lock()
	c.dispatching = false
	if !c.session.Active {
		c.mu.Unlock()
		return
	}

	if reply.IsSuccess() {
		c.session.Connected = true
		c.history = append(c.history, domain.Message{Role: domain.RoleAssistant, Text: reply.Text})
		speechOn := c.session.SpeechEnabled
		c.mu.Unlock()

		c.events.AssistantMessage(reply.Text)
		c.events.AgentConnected(true)
		if speechOn {
			c.speech.Enqueue(c.speakable(reply.Text))
		}
		return
	}

	c.session.Connected = false
	c.mu.Unlock()

	c.logger.Warn("dispatch failed", "status", reply.Status, "detail", reply.Detail)
	c.events.SessionError(domain.ErrorCodeDispatch, dispatchErrorMessage(reply))
	c.events.AgentConnected(false)
}

func (c *Coordinator) speakable(text string) string {
	if c.rules == nil {
		return text
	}
	spoken, err := c.rules.Apply(text)
	if err != nil {
		c.logger.Error("reply normalization failed", "error", err)
		return text
	}
	return spoken
}

func dispatchErrorMessage(reply domain.Reply) string {
	switch reply.Status {
	case domain.DispatchTimeout:
		return "Request timed out"
	case domain.DispatchConnectionError:
		return "Cannot connect to server"
	case domain.DispatchAuthError:
		return "Authentication failed"
	case domain.DispatchInvalidResponse:
		return "Server returned an invalid response"
	default:
		if reply.Detail != "" {
			return reply.Detail
		}
		return "Unknown error"
	}
}
