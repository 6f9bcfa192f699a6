package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the voice front-end.
type Config struct {
	Backend  BackendConfig
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Capture  CaptureConfig
	Speech   SpeechConfig
}

type BackendConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	HealthEvery time.Duration
}

type DeepgramConfig struct {
	APIKey     string
	APIBaseURL string
	Model      string
	Language   string
	SpeakModel string
}

type AudioConfig struct {
	RecorderCommand string
	PlayerCommand   string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type CaptureConfig struct {
	PauseWindow     time.Duration
	MaxPhrase       time.Duration
	EnergyThreshold float64
	ChunkSize       int
}

type SpeechConfig struct {
	Enabled   bool
	RulesPath string
}

// Load resolves configuration from a local .env file (if present) and
// environment variables with sensible defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Backend: BackendConfig{
			BaseURL:     envOrDefault("VOXCHAT_API_BASE", "http://localhost:8000/api"),
			APIKey:      strings.TrimSpace(os.Getenv("VOXCHAT_API_KEY")),
			Timeout:     envOrDefaultDuration("VOXCHAT_API_TIMEOUT_MS", 30*time.Second),
			HealthEvery: envOrDefaultDuration("VOXCHAT_HEALTH_INTERVAL_MS", 0),
		},
		Deepgram: DeepgramConfig{
			APIKey:     strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL: envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:      envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:   strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SpeakModel: envOrDefault("DEEPGRAM_SPEAK_MODEL", "aura-asteria-en"),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("VOXCHAT_FFMPEG_COMMAND", "ffmpeg"),
			PlayerCommand:   envOrDefault("VOXCHAT_FFPLAY_COMMAND", "ffplay"),
			InputFormat:     envOrDefault("VOXCHAT_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("VOXCHAT_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("VOXCHAT_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("VOXCHAT_CHANNELS", 1),
		},
		Capture: CaptureConfig{
			PauseWindow:     envOrDefaultDuration("VOXCHAT_PAUSE_WINDOW_MS", 1500*time.Millisecond),
			MaxPhrase:       envOrDefaultDuration("VOXCHAT_MAX_PHRASE_MS", 30*time.Second),
			EnergyThreshold: envOrDefaultFloat("VOXCHAT_ENERGY_THRESHOLD", 300),
			ChunkSize:       envOrDefaultInt("VOXCHAT_AUDIO_CHUNK_SIZE", 3200),
		},
		Speech: SpeechConfig{
			Enabled:   envOrDefaultBool("VOXCHAT_SPEECH_ENABLED", true),
			RulesPath: strings.TrimSpace(os.Getenv("VOXCHAT_SPEECH_RULES_FILE")),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Capture.PauseWindow <= 0 {
		cfg.Capture.PauseWindow = 1500 * time.Millisecond
	}
	if cfg.Capture.MaxPhrase <= 0 {
		cfg.Capture.MaxPhrase = 30 * time.Second
	}
	if cfg.Capture.ChunkSize < 256 {
		cfg.Capture.ChunkSize = 3200
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
