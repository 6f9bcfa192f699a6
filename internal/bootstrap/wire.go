package bootstrap

import (
	"github.com/charmbracelet/log"

	"voxchat/internal/audio"
	"voxchat/internal/backend"
	"voxchat/internal/config"
	"voxchat/internal/playback"
	"voxchat/internal/ports"
	"voxchat/internal/providers/deepgram"
	"voxchat/internal/rules"
	"voxchat/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Coordinator *usecase.Coordinator
	Capture     *usecase.CaptureLoop
	Monitor     *usecase.Monitor
	Config      config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, logger *log.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	if logger == nil {
		logger = log.Default()
	}

	rulesEngine, err := rules.NewEngine(cfg.Speech.RulesPath, 0)
	if err != nil {
		return Services{}, err
	}

	backendClient := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout,
	}, logger.With("component", "backend"))

	deepgramCfg := deepgram.Config{
		APIKey:     cfg.Deepgram.APIKey,
		APIBaseURL: cfg.Deepgram.APIBaseURL,
		Model:      cfg.Deepgram.Model,
		Language:   cfg.Deepgram.Language,
		SpeakModel: cfg.Deepgram.SpeakModel,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	}

	speechQueue := usecase.NewSpeechQueue(
		deepgram.NewSynthesizer(deepgramCfg),
		playback.NewFFPlayPlayer(cfg.Audio.PlayerCommand, cfg.Audio.SampleRate, cfg.Audio.Channels),
		logger.With("component", "speech"),
	)
	speechQueue.SetEnabled(cfg.Speech.Enabled)

	dispatcher := usecase.NewDispatcher(backendClient, cfg.Backend.Timeout, logger.With("component", "dispatch"))
	monitor := usecase.NewMonitor(backendClient, cfg.Backend.HealthEvery, logger.With("component", "monitor"))

	coordinator := usecase.NewCoordinator(
		speechQueue,
		dispatcher,
		monitor,
		rulesEngine,
		eventSink,
		cfg.Speech.Enabled,
		logger.With("component", "session"),
	)

	captureLoop := usecase.NewCaptureLoop(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		deepgram.NewTranscriber(deepgramCfg),
		usecase.CaptureConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			PauseWindow:     cfg.Capture.PauseWindow,
			MaxPhrase:       cfg.Capture.MaxPhrase,
			EnergyThreshold: cfg.Capture.EnergyThreshold,
			ChunkSize:       cfg.Capture.ChunkSize,
		},
		coordinator.CaptureEvents(),
		logger.With("component", "capture"),
	)
	coordinator.AttachCapture(captureLoop)
	monitor.OnChange(coordinator.HandleConnectivity)

	return Services{
		Coordinator: coordinator,
		Capture:     captureLoop,
		Monitor:     monitor,
		Config:      cfg,
	}, nil
}
