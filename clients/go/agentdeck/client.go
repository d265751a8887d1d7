// Package agentdeck provides a client for the AgentDeck dashboard API.
package agentdeck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultURL is used when no server URL is configured.
const DefaultURL = "http://localhost:8080"

// ErrNoToken is returned by calls that need a session when none is configured.
var ErrNoToken = errors.New("no access token: run `agentdeck login <token>` or set AGENTDECK_TOKEN")

// Client is an AgentDeck API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Token      string
	SessionID  string
	HTTPClient *http.Client
}

// Config holds the persisted credentials.
type Config struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
	// State is set on 503 answers while the session is loading.
	State string
}

func (e *APIError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("agentdeck error %d (%s): %s", e.Status, e.State, e.Message)
	}
	return fmt.Sprintf("agentdeck error %d: %s", e.Status, e.Message)
}

// NewClient creates a new client. Credentials come from AGENTDECK_TOKEN or
// the config directory (AGENTDECK_CONFIG, default ~/.agentdeck).
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	configDir := os.Getenv("AGENTDECK_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".agentdeck")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
	}

	_ = c.LoadConfig()
	if token := os.Getenv("AGENTDECK_TOKEN"); token != "" {
		c.Token = token
	}
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	return c
}

// LoadConfig loads credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "config.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}
	c.Token = config.Token
	c.SessionID = config.SessionID
	return nil
}

// SaveConfig saves credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(Config{Token: c.Token, SessionID: c.SessionID}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "config.json"), data, 0600)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.SessionID != "" {
		req.Header.Set("X-Session-ID", c.SessionID)
	}
	return req, nil
}

// do performs a request and returns the raw body of a 2xx answer.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			State string `json:"state"`
		}
		json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return respBody, &APIError{Status: resp.StatusCode, Message: errResp.Error, State: errResp.State}
	}
	return respBody, nil
}

// doJSON sends v (when non-nil) as JSON and decodes the answer into out
// (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, v, out any) error {
	var body io.Reader
	contentType := ""
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	respBody, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) requireToken() error {
	if c.Token == "" {
		return ErrNoToken
	}
	return nil
}

// SessionInfo reports the server's view of the caller's session.
type SessionInfo struct {
	State     string `json:"state"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Session returns the session state. It never fails on an unauthenticated
// caller; the state says so instead.
func (c *Client) Session(ctx context.Context) (*SessionInfo, error) {
	var resp SessionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/session", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login exchanges an identity provider access token for a server session
// and stores it.
func (c *Client) Login(ctx context.Context, token string) (*SessionInfo, error) {
	c.Token = token
	var resp SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, "/auth/callback", map[string]string{"access_token": token}, &resp); err != nil {
		c.Token = ""
		return nil, err
	}
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout ends the server session and forgets the stored token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	c.Token = ""
	return c.SaveConfig()
}

// Agent is one entry of the agent directory.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Typing bool   `json:"typing"`
}

// AgentsResponse is the filtered directory.
type AgentsResponse struct {
	Agents []Agent `json:"agents"`
	Query  string  `json:"query"`
	Total  int     `json:"total"`
}

// ListAgents lists the agent directory, filtered by query when non-empty.
func (c *Client) ListAgents(ctx context.Context, query string) (*AgentsResponse, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	path := "/api/agents"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var resp AgentsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentDetail is an agent with its character definition.
type AgentDetail struct {
	ID        string          `json:"id"`
	Character json.RawMessage `json:"character"`
}

// GetAgent returns one agent's detail.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*AgentDetail, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var resp AgentDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(agentID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Attachment is a file attached to a message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Title       string `json:"title"`
}

// Message represents a chat message.
type Message struct {
	ID          string       `json:"id,omitempty"`
	User        string       `json:"user"`
	Text        string       `json:"text"`
	CreatedAt   int64        `json:"createdAt"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsLoading   bool         `json:"isLoading,omitempty"`
	IsTyping    bool         `json:"isTyping,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Pending reports whether m is a reply placeholder.
func (m Message) Pending() bool {
	return m.IsLoading || m.IsTyping
}

// Conversation is the server's view of one chat.
type Conversation struct {
	AgentID  string    `json:"agentId"`
	State    string    `json:"state"`
	Typing   bool      `json:"typing"`
	Error    string    `json:"error,omitempty"`
	Messages []Message `json:"messages"`
	Replies  []Message `json:"replies,omitempty"`
}

func chatPath(agentID, suffix string) string {
	return "/api/chat/" + url.PathEscape(agentID) + suffix
}

// Messages loads the persisted conversation with an agent.
func (c *Client) Messages(ctx context.Context, agentID string) (*Conversation, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var resp Conversation
	if err := c.doJSON(ctx, http.MethodGet, chatPath(agentID, "/messages"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Send sends text to an agent and waits for the reply. On a failed reply
// the returned conversation still carries the failed marker along with
// the error.
func (c *Client) Send(ctx context.Context, agentID, text string) (*Conversation, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	return c.sendJSON(ctx, chatPath(agentID, "/messages"), map[string]string{"text": text})
}

// Retry re-sends the last failed message to an agent.
func (c *Client) Retry(ctx context.Context, agentID string) (*Conversation, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	return c.sendJSON(ctx, chatPath(agentID, "/retry"), nil)
}

func (c *Client) sendJSON(ctx context.Context, path string, v any) (*Conversation, error) {
	var body io.Reader
	contentType := ""
	if v != nil {
		data, _ := json.Marshal(v)
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body, contentType)
	if err != nil {
		return nil, err
	}
	return c.conversation(c.do(req))
}

// conversation decodes a send answer; failed sends still carry the
// conversation next to the error.
func (c *Client) conversation(respBody []byte, err error) (*Conversation, error) {
	var conv Conversation
	if len(respBody) > 0 {
		if jerr := json.Unmarshal(respBody, &conv); jerr != nil && err == nil {
			return nil, jerr
		}
	}
	if err != nil {
		if conv.Messages == nil {
			return nil, err
		}
		return &conv, err
	}
	return &conv, nil
}

// SendFile sends text with an image attachment read from path.
func (c *Client) SendFile(ctx context.Context, agentID, text, path string) (*Conversation, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("text", text); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, chatPath(agentID, "/messages"), &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return c.conversation(c.do(req))
}

// Leave tells the server the chat view was closed.
func (c *Client) Leave(ctx context.Context, agentID string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, chatPath(agentID, "/view"), nil, nil)
}

// Speak returns synthesized speech (audio/mpeg) for text.
func (c *Client) Speak(ctx context.Context, agentID, text string) ([]byte, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	data, _ := json.Marshal(map[string]string{"text": text})
	req, err := c.newRequest(ctx, http.MethodPost, chatPath(agentID, "/tts"), bytes.NewReader(data), "application/json")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	return c.do(req)
}

// MyAgent is an agent created by the caller.
type MyAgent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Logo          string    `json:"logo,omitempty"`
	Tags          []string  `json:"tags"`
	Bio           []string  `json:"bio"`
	Lore          []string  `json:"lore"`
	ModelProvider string    `json:"model_provider"`
	Style         []string  `json:"style,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MyAgentsResponse lists the caller's agents and their quota.
type MyAgentsResponse struct {
	Agents    []MyAgent `json:"agents"`
	MaxAgents int       `json:"max_agents"`
}

// AgentForm is the create/update payload. Tags are comma separated; bio,
// lore and style take one entry per line.
type AgentForm struct {
	Name          string `json:"name"`
	Tags          string `json:"tags,omitempty"`
	Bio           string `json:"bio,omitempty"`
	Lore          string `json:"lore,omitempty"`
	Style         string `json:"style,omitempty"`
	ModelProvider string `json:"model_provider,omitempty"`
}

// ListMyAgents lists the caller's agents.
func (c *Client) ListMyAgents(ctx context.Context) (*MyAgentsResponse, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var resp MyAgentsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/my/agents", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAgent creates an agent. It fails with 409 once the quota is used.
func (c *Client) CreateAgent(ctx context.Context, form AgentForm) (*MyAgent, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var resp MyAgent
	if err := c.doJSON(ctx, http.MethodPost, "/api/my/agents", form, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteAgent deletes one of the caller's agents.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, "/api/my/agents/"+url.PathEscape(id), nil, nil)
}

// Deployment is a hosted deployment of an agent.
type Deployment struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Name      string    `json:"name"`
	PlanType  string    `json:"plan_type"`
	Status    string    `json:"status"`
	ProjectID string    `json:"project_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListDeployments lists the caller's deployments.
func (c *Client) ListDeployments(ctx context.Context) ([]Deployment, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var resp struct {
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/deployments", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deployments, nil
}

// CreateDeployment creates a pending deployment.
func (c *Client) CreateDeployment(ctx context.Context, name, plan, agentID string) (*Deployment, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	req := map[string]string{"name": name, "plan": plan}
	if agentID != "" {
		req["agent_id"] = agentID
	}
	var resp Deployment
	if err := c.doJSON(ctx, http.MethodPost, "/api/deployments", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deploy starts a deployment on the hosting platform.
func (c *Client) Deploy(ctx context.Context, id string) (*Deployment, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var resp Deployment
	if err := c.doJSON(ctx, http.MethodPost, "/api/deployments/"+url.PathEscape(id)+"/deploy", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Dashboard is the summary shown on the home page.
type Dashboard struct {
	DeployedAgents int64 `json:"deployed_agents"`
	Subscription   *struct {
		PlanType string `json:"plan_type"`
		Status   string `json:"status"`
	} `json:"subscription"`
	MessagesToday *int64 `json:"messages_today,omitempty"`
}

// Dashboard returns the caller's dashboard summary.
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var resp Dashboard
	if err := c.doJSON(ctx, http.MethodGet, "/api/dashboard", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Checks    map[string]any `json:"checks"`
	Timestamp string         `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
