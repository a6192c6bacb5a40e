package classify

import (
	"context"
	"time"

	"github.com/kalambet/leadbot/internal/ollama"
	"github.com/kalambet/leadbot/internal/proxy"
)

// Completer is the chat-completion surface of proxy.Client.
type Completer interface {
	Complete(ctx context.Context, req proxy.ChatRequest) (string, error)
}

// CapFunc computes a provider's time cap from the total and remaining budget.
type CapFunc func(total, remaining time.Duration) time.Duration

// PrimaryCapFunc applies PrimaryCap to the total budget.
func PrimaryCapFunc(total, _ time.Duration) time.Duration { return PrimaryCap(total) }

// FallbackCapFunc returns a CapFunc applying FallbackCap with ceiling.
func FallbackCapFunc(ceiling time.Duration) CapFunc {
	return func(_, remaining time.Duration) time.Duration {
		return FallbackCap(remaining, ceiling)
	}
}

// ChatProvider classifies through an OpenAI-compatible endpoint.
type ChatProvider struct {
	name    string
	model   string
	client  Completer
	capFn   CapFunc
	timeout time.Duration
}

// NewChatProvider returns a provider sending prompts to model through client.
// timeout is the configured per-call limit; zero defers to the cap.
func NewChatProvider(name, model string, client Completer, capFn CapFunc, timeout time.Duration) *ChatProvider {
	if capFn == nil {
		capFn = FallbackCapFunc(8 * time.Second)
	}
	return &ChatProvider{name: name, model: model, client: client, capFn: capFn, timeout: timeout}
}

func (p *ChatProvider) Name() string { return p.name }

func (p *ChatProvider) Cap(total, remaining time.Duration) time.Duration {
	return AttemptTimeout(p.timeout, p.capFn(total, remaining), remaining)
}

func (p *ChatProvider) Complete(ctx context.Context, pr Prompt) (string, error) {
	temp := 0.0
	return p.client.Complete(ctx, proxy.ChatRequest{
		Model: p.model,
		Messages: []proxy.Message{
			{Role: "system", Content: pr.System},
			{Role: "user", Content: pr.User},
		},
		Temperature:    &temp,
		ResponseFormat: &proxy.ResponseFormat{Type: "json_object"},
		MaxTokens:      300,
	})
}

// Chatter is the chat surface of ollama.Client.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, schema *ollama.Schema) (string, error)
}

// resultSchema constrains local model output to the Result shape.
var resultSchema = &ollama.Schema{
	Type: "object",
	Properties: map[string]ollama.SchemaProperty{
		"relevant":    {Type: "boolean"},
		"category":    {Type: "string"},
		"subcategory": {Type: "string"},
		"region":      {Type: "string"},
		"explanation": {Type: "string", Description: "under 70 characters"},
		"confidence":  {Type: "number", Description: "0.0 to 1.0"},
	},
	Required: []string{"relevant", "explanation", "confidence"},
}

// OllamaProvider classifies with a local model.
type OllamaProvider struct {
	model  string
	client Chatter
	capFn  CapFunc
}

func NewOllamaProvider(model string, client Chatter) *OllamaProvider {
	return &OllamaProvider{model: model, client: client, capFn: FallbackCapFunc(8 * time.Second)}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Cap(total, remaining time.Duration) time.Duration {
	return AttemptTimeout(0, p.capFn(total, remaining), remaining)
}

func (p *OllamaProvider) Complete(ctx context.Context, pr Prompt) (string, error) {
	return p.client.Chat(ctx, p.model, []ollama.Message{
		{Role: "system", Content: pr.System},
		{Role: "user", Content: pr.User},
	}, resultSchema)
}
