package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Config controls Deepgram API settings.
type Config struct {
	APIKey     string
	APIBaseURL string
	Model      string
	Language   string
	SpeakModel string

	SampleRate int
	Channels   int
}

func (c Config) withDefaults() Config {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.SpeakModel == "" {
		c.SpeakModel = "aura-asteria-en"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	return c
}

// Transcriber converts captured PCM segments into text over the Deepgram
// streaming websocket.
type Transcriber struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewTranscriber(cfg Config) *Transcriber {
	return &Transcriber{cfg: cfg.withDefaults(), dialer: websocket.DefaultDialer}
}

const chunkBytes = 8192

// Transcribe streams one finished segment and collects the final transcript.
// An empty transcript with a nil error means no speech was understood.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return "", errors.New("DEEPGRAM_API_KEY is not configured")
	}
	if len(pcm) == 0 {
		return "", nil
	}

	wsURL, err := listenURL(t.cfg)
	if err != nil {
		return "", err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.APIKey)

	conn, _, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("failed to connect to transcription service: %w", err)
	}
	defer conn.Close()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeSegment(conn, pcm)
	}()

	// Unblock the read loop if the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	finals, readErr := collectFinals(conn)
	if err := <-writeErr; err != nil {
		return "", err
	}
	if readErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", readErr
	}

	return strings.TrimSpace(strings.Join(finals, " ")), nil
}

func writeSegment(conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += chunkBytes {
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return fmt.Errorf("failed to stream audio: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

func collectFinals(conn *websocket.Conn) ([]string, error) {
	var finals []string
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return finals, nil
			}
			return finals, fmt.Errorf("failed to read provider event: %w", err)
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(response.Type, "Error"):
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "transcription service returned an unknown error"
			}
			return finals, errors.New(message)
		case strings.EqualFold(response.Type, "Metadata"):
			// Metadata follows the last result; the segment is complete.
			return finals, nil
		}

		if !response.IsFinal && !response.SpeechFinal {
			continue
		}
		if text := response.transcript(); text != "" {
			finals = append(finals, text)
		}
	}
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r listenResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

func listenURL(cfg Config) (string, error) {
	base := wsBase(cfg.APIBaseURL)

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %w", err)
	}

	query := u.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", cfg.Channels))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func wsBase(base string) string {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/")
}
