package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"voxchat/internal/domain"
)

// Client talks to the conversational backend over HTTP. Every failure of
// SendMessage is classified into the domain.Reply status taxonomy instead of
// being returned as an error.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewClient(cfg Config, logger *log.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger,
	}
}

type chatRequest struct {
	Message string       `json:"message"`
	Context *chatContext `json:"context,omitempty"`
}

type chatContext struct {
	History []domain.Message `json:"history"`
}

type chatResponse struct {
	Reply    string `json:"reply"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

// SendMessage performs one chat exchange. History is sent as the optional
// request context so the backend can keep the conversation coherent.
func (c *Client) SendMessage(ctx context.Context, message string, history []domain.Message) domain.Reply {
	payload := chatRequest{Message: message}
	if len(history) > 0 {
		payload.Context = &chatContext{History: history}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Reply{Status: domain.DispatchError, Detail: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return domain.Reply{Status: domain.DispatchError, Detail: err.Error()}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.logger.Warn("backend rejected credentials", "status", resp.StatusCode)
		return domain.Reply{
			Status: domain.DispatchAuthError,
			Detail: "authentication failed, check your API key",
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Reply{
			Status: domain.DispatchError,
			Detail: errorDetail(resp),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Error("backend returned a non-JSON body", "error", err)
		return domain.Reply{
			Status: domain.DispatchInvalidResponse,
			Detail: "server returned an invalid response",
		}
	}

	text := parsed.Reply
	if text == "" {
		text = parsed.Response
	}
	return domain.Reply{Status: domain.DispatchSuccess, Text: text}
}

// HealthCheck probes GET /health. Probe failures of any kind report as not
// connected; the boolean is the whole contract.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) classifyTransportError(err error) domain.Reply {
	c.logger.Error("backend request failed", "error", err)

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return domain.Reply{Status: domain.DispatchTimeout, Detail: "request timed out"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Reply{Status: domain.DispatchTimeout, Detail: "request timed out"}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.Reply{
			Status: domain.DispatchConnectionError,
			Detail: "cannot connect to server, check your connection",
		}
	}
	if errors.Is(err, context.Canceled) {
		return domain.Reply{Status: domain.DispatchError, Detail: "request cancelled"}
	}

	return domain.Reply{Status: domain.DispatchConnectionError, Detail: "cannot connect to server, check your connection"}
}

func errorDetail(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && strings.TrimSpace(parsed.Error) != "" {
		return parsed.Error
	}
	return fmt.Sprintf("server error (status %d)", resp.StatusCode)
}
