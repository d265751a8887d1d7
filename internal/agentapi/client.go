// Package agentapi is a client for the external agent inference API.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/agentdeck/internal/metrics"
	"github.com/eldtechnologies/agentdeck/internal/models"
)

const defaultErrorMessage = "An error occurred."

// Error is a non-2xx response from the agent API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// File is an upload sent alongside a message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// AgentDetail is the agent API's view of one agent.
type AgentDetail struct {
	ID        string          `json:"id"`
	Character json.RawMessage `json:"character"`
}

// Client talks to the agent API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates a client for baseURL. Calls are throttled to rps
// requests per second.
func NewClient(baseURL string, timeout time.Duration, rps float64, logger zerolog.Logger) *Client {
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger.With().Str("component", "agentapi").Logger(),
	}
}

// do performs a request and returns the body of a successful response.
func (c *Client) do(ctx context.Context, op string, req *http.Request) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		metrics.AgentAPILatency.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		return nil, "", err
	}
	defer resp.Body.Close()
	metrics.AgentAPILatency.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode, Message: errorMessage(body)}
		c.logger.Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("error", apiErr.Message).
			Msg("agent api request failed")
		return nil, "", apiErr
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// errorMessage extracts the message field of a JSON error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return defaultErrorMessage
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return defaultErrorMessage
}

// ListAgents returns the agents the API hosts.
func (c *Client) ListAgents(ctx context.Context) ([]models.RemoteAgent, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/agents", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, _, err := c.do(ctx, "list_agents", req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Agents []models.RemoteAgent `json:"agents"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	if resp.Agents == nil {
		resp.Agents = []models.RemoteAgent{}
	}
	return resp.Agents, nil
}

// GetAgent returns one agent with its character.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*AgentDetail, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/agents/"+url.PathEscape(agentID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, _, err := c.do(ctx, "get_agent", req)
	if err != nil {
		return nil, err
	}

	var detail AgentDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("decode agent: %w", err)
	}
	return &detail, nil
}

// reply is one element of the message endpoint's response.
type reply struct {
	Text        string              `json:"text"`
	User        string              `json:"user"`
	Source      string              `json:"source"`
	Action      string              `json:"action"`
	Attachments []models.Attachment `json:"attachments"`
}

// SendMessage posts text (and an optional file) as user and returns the
// agent's replies.
func (c *Client) SendMessage(ctx context.Context, agentID, text, user string, file *File) ([]models.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("text", text); err != nil {
		return nil, err
	}
	if err := mw.WriteField("user", user); err != nil {
		return nil, err
	}
	if file != nil {
		if err := writeFilePart(mw, "file", file); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/"+url.PathEscape(agentID)+"/message", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	body, _, err := c.do(ctx, "message", req)
	if err != nil {
		return nil, err
	}

	var replies []reply
	if err := json.Unmarshal(body, &replies); err != nil {
		return nil, fmt.Errorf("decode replies: %w", err)
	}

	out := make([]models.Message, 0, len(replies))
	for _, r := range replies {
		out = append(out, models.Message{
			User:        models.RoleAgent,
			Text:        r.Text,
			Source:      r.Source,
			Action:      r.Action,
			Attachments: r.Attachments,
		})
	}
	return out, nil
}

// TTS synthesizes text with the agent's voice and returns the audio.
func (c *Client) TTS(ctx context.Context, agentID, text string) ([]byte, string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/"+url.PathEscape(agentID)+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	body, contentType, err := c.do(ctx, "tts", req)
	if err != nil {
		return nil, "", err
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return body, contentType, nil
}

// Whisper transcribes a recording.
func (c *Client) Whisper(ctx context.Context, agentID string, audio []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeFilePart(mw, "file", &File{Name: "recording.wav", ContentType: "audio/wav", Data: audio}); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/"+url.PathEscape(agentID)+"/whisper", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	body, _, err := c.do(ctx, "whisper", req)
	if err != nil {
		return "", err
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return resp.Text, nil
}

func writeFilePart(mw *multipart.Writer, field string, f *File) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}
