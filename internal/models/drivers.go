package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/dohr-michael/cadre/internal/config"
)

// driver builds a chat model for one provider family.
type driver struct {
	needsKey bool
	timeout  time.Duration // used when the provider sets none
	build    func(ctx context.Context, name string, cfg config.ProviderConfig, key string, timeout time.Duration) (model.BaseChatModel, error)
}

var drivers = map[string]driver{
	"openai":    {needsKey: true, timeout: 60 * time.Second, build: buildOpenAI},
	"anthropic": {needsKey: true, timeout: 120 * time.Second, build: buildClaude},
	"gemini":    {needsKey: true, timeout: 120 * time.Second, build: buildGemini},
	"ollama":    {timeout: 300 * time.Second, build: buildOllama},
}

const (
	defaultClaudeModel     = "claude-sonnet-4-5"
	defaultClaudeMaxTokens = 4096
	defaultGeminiModel     = "gemini-2.5-flash"
	defaultOllamaBaseURL   = "http://localhost:11434"
)

// CreateModel builds the chat model for the provider called name.
func CreateModel(ctx context.Context, name string, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	d, ok := drivers[strings.ToLower(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("provider %s: unknown driver %q", name, cfg.Driver)
	}
	var key string
	if d.needsKey {
		var err error
		if key, err = ResolveAuth(cfg); err != nil {
			return nil, fmt.Errorf("provider %s: resolve auth: %w", name, err)
		}
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = d.timeout
	}
	return d.build(ctx, name, cfg, key, timeout)
}

func buildOpenAI(ctx context.Context, name string, cfg config.ProviderConfig, key string, timeout time.Duration) (model.BaseChatModel, error) {
	mc := &einoopenai.ChatModelConfig{
		APIKey:      key,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		HTTPClient:  guardedClient(name, timeout),
	}
	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		mc.MaxCompletionTokens = &n
	}
	return einoopenai.NewChatModel(ctx, mc)
}

func buildOllama(ctx context.Context, name string, cfg config.ProviderConfig, _ string, timeout time.Duration) (model.BaseChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	opts := &einoollama.Options{}
	if cfg.MaxTokens > 0 {
		opts.NumPredict = cfg.MaxTokens
	}
	if cfg.Temperature != nil {
		opts.Temperature = *cfg.Temperature
	}
	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL:    baseURL,
		Model:      cfg.Model,
		Timeout:    timeout,
		Options:    opts,
		HTTPClient: guardedClient(name, timeout),
	})
}

func buildClaude(ctx context.Context, _ string, cfg config.ProviderConfig, key string, _ time.Duration) (model.BaseChatModel, error) {
	cc := &claude.Config{
		APIKey:      key,
		Model:       orDefault(cfg.Model, defaultClaudeModel),
		MaxTokens:   defaultClaudeMaxTokens,
		Temperature: cfg.Temperature,
	}
	if cfg.MaxTokens > 0 {
		cc.MaxTokens = cfg.MaxTokens
	}
	if cfg.BaseURL != "" {
		u := cfg.BaseURL
		cc.BaseURL = &u
	}
	return claude.NewChatModel(ctx, cc)
}

func buildGemini(ctx context.Context, _ string, cfg config.ProviderConfig, key string, timeout time.Duration) (model.BaseChatModel, error) {
	cc := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	cc.HTTPOptions.Timeout = &timeout
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	gc := &gemini.Config{
		Client:      client,
		Model:       orDefault(cfg.Model, defaultGeminiModel),
		Temperature: cfg.Temperature,
	}
	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		gc.MaxTokens = &n
	}
	return gemini.NewChatModel(ctx, gc)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// guardedClient is an HTTP client whose transport reports error statuses and
// non-model bodies (a proxy's "no available server" page, say) as
// ErrModelUnavailable instead of letting the SDK fail to decode them.
func guardedClient(provider string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &responseGuard{inner: http.DefaultTransport, provider: provider},
	}
}

type responseGuard struct {
	inner    http.RoundTripper
	provider string
}

func (g *responseGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := g.inner.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: g.provider, Cause: err}
	}
	if resp.StatusCode >= 400 || !modelContentType(resp.Header.Get("Content-Type")) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &ErrModelUnavailable{
			Provider: g.provider,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}

// modelContentType accepts JSON, NDJSON and server-sent events. A missing
// header is let through.
func modelContentType(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "json") || strings.Contains(ct, "event-stream")
}
