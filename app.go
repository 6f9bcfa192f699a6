package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voxchat/internal/bootstrap"
	"voxchat/internal/config"
	"voxchat/internal/domain"
	"voxchat/internal/usecase"
)

const (
	eventChat   = "voxchat:chat"
	eventStatus = "voxchat:status"
	eventConn   = "voxchat:connectivity"
	eventError  = "voxchat:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	coordinator *usecase.Coordinator
	monitorStop context.CancelFunc
	cfg         config.Config
	logger      *log.Logger
	bootErr     error
}

func NewApp() *App {
	return &App{
		logger: log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "voxchat"}),
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, a.logger)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.coordinator = services.Coordinator

	monitorCtx, cancel := context.WithCancel(context.Background())
	a.monitorStop = cancel
	go services.Monitor.Run(monitorCtx)

	a.coordinator.Begin(ctx)
	a.SessionStateChanged(domain.SessionStateIdle)
}

func (a *App) shutdown(_ context.Context) {
	if a.monitorStop != nil {
		a.monitorStop()
	}
	if a.coordinator != nil {
		a.coordinator.Disconnect()
	}
}

// StartVoice begins continuous voice capture.
func (a *App) StartVoice() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.coordinator.StartVoice(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.coordinator.Status(), nil
}

// StopVoice ends continuous voice capture.
func (a *App) StopVoice() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.coordinator.StopVoice()
	return a.coordinator.Status(), nil
}

// StopAll halts capture and playback together.
func (a *App) StopAll() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.coordinator.StopAll()
	return a.coordinator.Status(), nil
}

// SendText submits a typed chat message.
func (a *App) SendText(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.coordinator.SubmitText(text)
	return nil
}

// SetSpeechEnabled toggles spoken replies.
func (a *App) SetSpeechEnabled(enabled bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.coordinator.SetSpeechEnabled(enabled)
	return nil
}

// Disconnect tears the session down.
func (a *App) Disconnect() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.coordinator.Disconnect()
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.coordinator == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateDisconnected, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle}
	}
	return a.coordinator.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"backend":          a.cfg.Backend.BaseURL,
		"sttProvider":      "Deepgram",
		"sttModel":         a.cfg.Deepgram.Model,
		"ttsModel":         a.cfg.Deepgram.SpeakModel,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.coordinator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// UserMessage emits a user chat entry to the frontend.
func (a *App) UserMessage(text string) {
	a.emitChat(domain.RoleUser, text)
}

// AssistantMessage emits an assistant chat entry to the frontend.
func (a *App) AssistantMessage(text string) {
	a.emitChat(domain.RoleAssistant, text)
}

// RoomConnected emits session connectivity updates.
func (a *App) RoomConnected(connected bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventConn, map[string]any{
		"scope":     "room",
		"connected": connected,
	})
}

// AgentConnected emits backend agent connectivity updates.
func (a *App) AgentConnected(connected bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventConn, map[string]any{
		"scope":     "agent",
		"connected": connected,
	})
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventStatus, map[string]string{
		"state":   string(state),
		"message": stateMessage(state),
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) emitChat(role domain.Role, text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventChat, map[string]string{
		"role": string(role),
		"text": text,
	})
}

func stateMessage(state domain.SessionState) string {
	switch state {
	case domain.SessionStateIdle:
		return "Ready"
	case domain.SessionStateListening:
		return "Listening..."
	case domain.SessionStateDispatching:
		return "Waiting for reply..."
	case domain.SessionStateSpeaking:
		return "Speaking"
	case domain.SessionStateDisconnected:
		return "Disconnected"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCaptureUnavailable:
		return "Voice input is not available"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Speech recognition error"
	case domain.ErrorCodeDispatch:
		return "Request failed"
	case domain.ErrorCodeSynthesis:
		return "Speech output error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
