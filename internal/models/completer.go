package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Request is one chat completion: a system prompt, prior turns and the new
// user prompt.
type Request struct {
	Provider    string // registry name; empty selects the default
	System      string
	History     []*schema.Message
	Prompt      string
	Model       string // overrides the provider's configured model
	Temperature *float32
	Stream      bool
	OnChunk     func(string) // called per streamed delta when Stream is set
}

// Messages assembles the message list sent to the model.
func (r Request) Messages() []*schema.Message {
	msgs := make([]*schema.Message, 0, len(r.History)+2)
	if r.System != "" {
		msgs = append(msgs, schema.SystemMessage(r.System))
	}
	msgs = append(msgs, r.History...)
	msgs = append(msgs, schema.UserMessage(r.Prompt))
	return msgs
}

// Response is the assistant text of a completion.
type Response struct {
	Text     string
	Provider string
	Duration time.Duration
}

// Completer turns a Request into a Response.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ChatCompleter implements Completer over the provider registry. Blocking
// calls that fail with a retryable error are tried again with doubling
// backoff; streamed calls are not, since chunks already reached the caller.
type ChatCompleter struct {
	registry *Registry
	retries  int
	backoff  time.Duration
}

// NewChatCompleter creates a completer backed by registry.
func NewChatCompleter(registry *Registry) *ChatCompleter {
	return &ChatCompleter{registry: registry, retries: 2, backoff: 2 * time.Second}
}

// Complete runs one generation against the requested provider.
func (c *ChatCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	provider := req.Provider
	if provider == "" {
		provider = c.registry.DefaultName()
	}

	chat, err := c.registry.Get(ctx, provider)
	if err != nil {
		return Response{}, err
	}

	var opts []model.Option
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}

	start := time.Now()
	var text string
	for attempt := 0; ; attempt++ {
		if req.Stream {
			text, err = stream(ctx, chat, req, opts)
		} else {
			var msg *schema.Message
			msg, err = chat.Generate(ctx, req.Messages(), opts...)
			if msg != nil {
				text = msg.Content
			}
		}
		if err == nil {
			break
		}
		err = HandleError(fmt.Errorf("%s: %w", provider, err))
		if req.Stream || attempt >= c.retries || !Retryable(err) {
			return Response{}, err
		}
		wait := c.backoff << attempt
		slog.Warn("model call failed, retrying", "provider", provider, "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(wait):
		}
	}

	return Response{
		Text:     strings.TrimSpace(text),
		Provider: provider,
		Duration: time.Since(start),
	}, nil
}

func stream(ctx context.Context, chat model.BaseChatModel, req Request, opts []model.Option) (string, error) {
	reader, err := chat.Stream(ctx, req.Messages(), opts...)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var sb strings.Builder
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		if req.OnChunk != nil {
			req.OnChunk(chunk.Content)
		}
	}
	return sb.String(), nil
}
