// Package llm talks to a local Ollama server over its HTTP API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL      = "http://127.0.0.1:11434"
	DefaultProbeTimeout = 5 * time.Second

	maxResponseBytes = 10 * 1024 * 1024
)

// Client is a minimal Ollama API client.
type Client struct {
	baseURL      string
	http         *http.Client
	probeTimeout time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithProbeTimeout bounds availability and health probes.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:      baseURL,
		http:         &http.Client{},
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateRequest is a single non-streaming completion request.
type GenerateRequest struct {
	Model  string
	System string
	Prompt string
	// Format "json" asks the server for a JSON-only response.
	Format string
}

type generateBody struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type versionResponse struct {
	Version string `json:"version"`
}

// Generate returns the raw model response text.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	body := generateBody{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Format:  req.Format,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	var out generateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", body, &out); err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if strings.TrimSpace(out.Error) != "" {
		return "", fmt.Errorf("generate: %s", strings.TrimSpace(out.Error))
	}
	return out.Response, nil
}

// ListModels returns the names of locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var out tagsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Available probes the server with a bounded list-models call.
func (c *Client) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	_, err := c.ListModels(ctx)
	return err
}

func (c *Client) version(ctx context.Context) (string, error) {
	var out versionResponse
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// Health summarizes server reachability for the status endpoint.
type Health struct {
	IsRunning        bool     `json:"isRunning"`
	Version          string   `json:"version,omitempty"`
	Models           []string `json:"models"`
	RecommendedModel string   `json:"recommendedModel,omitempty"`
	Error            string   `json:"error,omitempty"`
}

func (c *Client) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	models, err := c.ListModels(ctx)
	if err != nil {
		return Health{Models: []string{}, Error: err.Error()}
	}
	h := Health{IsRunning: true, Models: models, RecommendedModel: RecommendedModel(models)}
	if v, err := c.version(ctx); err == nil {
		h.Version = v
	}
	return h
}

var preferredModels = []string{
	"deepseek-coder:6.7b",
	"deepseek-coder",
	"codellama:7b",
	"codellama",
	"llama3:8b",
	"llama3",
}

// RecommendedModel picks the first installed model matching the preference
// list, else the first installed model.
func RecommendedModel(available []string) string {
	for _, pref := range preferredModels {
		for _, m := range available {
			if strings.HasPrefix(m, pref) {
				return m
			}
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := strings.TrimSpace(string(body))
		if reason == "" {
			reason = "empty response body"
		}
		if len(reason) > 500 {
			reason = reason[:500] + "..."
		}
		return fmt.Errorf("ollama returned HTTP %d: %s", resp.StatusCode, reason)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
