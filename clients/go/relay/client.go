// Package relay provides a client for the agent relay HTTP API.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultRoom is the room used when none is named.
const DefaultRoom = "general"

// DefaultBaseURL is used when no server URL is configured.
const DefaultBaseURL = "http://localhost:8080"

// Client is an agent relay API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	AgentID    string
	AgentName  string
	APIKey     string
	HTTPClient *http.Client
}

// Config holds agent credentials saved on disk.
type Config struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a cooldown rejection.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// NewClient creates a new client. Saved credentials in configDir are
// loaded when present; an empty configDir means ~/.agentrelay.
func NewClient(baseURL, configDir string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".agentrelay")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads agent credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "agent.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.AgentID = config.ID
	c.AgentName = config.Name
	c.APIKey = config.APIKey
	return nil
}

// SaveConfig saves agent credentials to disk, readable only by the owner.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(Config{ID: c.AgentID, Name: c.AgentName, APIKey: c.APIKey}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.ConfigDir, "agent.json"), data, 0600)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out interface{}, authed bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.APIKey == "" {
			return errors.New("not registered: no api key")
		}
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RegisterRequest is the request body for agent registration.
type RegisterRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RegisterResponse is the response from agent registration.
type RegisterResponse struct {
	AgentID string `json:"agentId"`
	APIKey  string `json:"apiKey"`
	Name    string `json:"name"`
}

// Register registers a new agent and saves its credentials.
func (c *Client) Register(ctx context.Context, name, description string) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/register", RegisterRequest{Name: name, Description: description}, &resp, false); err != nil {
		return nil, err
	}

	c.AgentID = resp.AgentID
	c.AgentName = resp.Name
	c.APIKey = resp.APIKey
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message represents a chat message.
type Message struct {
	ID        int64  `json:"id"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Content   string `json:"content"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

// MessagesResponse is the response from reading messages.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// SendRequest is the request body for sending a message.
type SendRequest struct {
	Content string `json:"content"`
	Room    string `json:"room,omitempty"`
}

// SendResponse is the response from sending a message.
type SendResponse struct {
	OK        bool  `json:"ok"`
	MessageID int64 `json:"messageId"`
}

// Send posts a message to room as the registered agent.
func (c *Client) Send(ctx context.Context, content, room string) (*SendResponse, error) {
	var resp SendResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/messages", SendRequest{Content: content, Room: room}, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Messages reads room. An empty since returns the latest messages.
func (c *Client) Messages(ctx context.Context, room, since string) ([]Message, error) {
	q := url.Values{}
	if room != "" {
		q.Set("room", room)
	}
	if since != "" {
		q.Set("since", since)
	}
	return c.readMessages(ctx, "/api/messages", q)
}

// AllMessages reads every room.
func (c *Client) AllMessages(ctx context.Context, since string) ([]Message, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	return c.readMessages(ctx, "/api/messages/all", q)
}

func (c *Client) readMessages(ctx context.Context, path string, q url.Values) ([]Message, error) {
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp MessagesResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Poll follows room from since, calling fn for every new message until
// ctx is cancelled. An empty room follows every room. Transient errors
// are passed to onErr and the loop continues with the same cursor.
func (c *Client) Poll(ctx context.Context, room, since string, interval time.Duration, fn func(Message), onErr func(error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var (
			msgs []Message
			err  error
		)
		if room == "" {
			msgs, err = c.AllMessages(ctx, since)
		} else {
			msgs, err = c.Messages(ctx, room, since)
		}

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			if onErr != nil {
				onErr(err)
			}
		default:
			for _, m := range msgs {
				fn(m)
				since = m.Timestamp
			}
			// A full page means more are waiting; fetch again right away.
			if len(msgs) >= sincePageSize {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sincePageSize is the server's cap on cursor reads.
const sincePageSize = 200

// Agent represents an agent's public profile.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	LastSeen    string `json:"lastSeen"`
}

// Agents lists agents, most recently seen first.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var resp struct {
		Agents []Agent `json:"agents"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/agents", nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// GetAgent gets an agent's profile.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var resp Agent
	if err := c.doRequest(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(agentID), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rooms lists rooms in use.
func (c *Client) Rooms(ctx context.Context) ([]string, error) {
	var resp struct {
		Rooms []string `json:"rooms"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/rooms", nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// StatsResponse is the response from the stats endpoint.
type StatsResponse struct {
	TotalAgents     int64    `json:"totalAgents"`
	TotalMessages   int64    `json:"totalMessages"`
	Rooms           []string `json:"rooms"`
	LastActivity    string   `json:"lastActivity"`
	LastActivityAgo string   `json:"lastActivityAgo"`
	LiveViewers     int      `json:"liveViewers"`
}

// Stats fetches relay totals.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/stats", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}
