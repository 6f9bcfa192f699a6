package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Synthesizer renders text to linear16 PCM using the Deepgram Speak REST API.
type Synthesizer struct {
	cfg    Config
	client *http.Client
}

func NewSynthesizer(cfg Config) *Synthesizer {
	return &Synthesizer{
		cfg:    cfg.withDefaults(),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	endpoint, err := speakURL(s.cfg)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech synthesis failed: status=%d body=%s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	return pcm, nil
}

func speakURL(cfg Config) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")

	u, err := url.Parse(base + "/speak")
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %w", err)
	}

	query := u.Query()
	query.Set("model", cfg.SpeakModel)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	u.RawQuery = query.Encode()
	return u.String(), nil
}
