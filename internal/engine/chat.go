package engine

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/cadre/internal/dispatch"
	"github.com/dohr-michael/cadre/internal/models"
	"github.com/dohr-michael/cadre/internal/repository"
)

// ChatRequest is one interactive message to a persona.
type ChatRequest struct {
	Persona   *repository.Persona
	History   []*schema.Message
	Message   string
	Directory []DirectoryEntry
	OnChunk   func(string)
}

// Chat answers an interactive message. Skill calls in the reply are run and
// their output handed back, within the same turn limit as a task; the last
// reply is returned with any coordination tags left in place for the caller.
func (e *Executor) Chat(ctx context.Context, req ChatRequest) (string, error) {
	d := e.Dispatcher(req.Persona)
	system := ChatPrompt(req.Persona, d.PromptSection(), req.Directory)

	history := append([]*schema.Message(nil), req.History...)
	prompt := req.Message
	var last string
	for turn := 0; turn < e.cfg.MaxTurns; turn++ {
		resp, err := e.opts.Completer.Complete(ctx, models.Request{
			Provider:    req.Persona.Provider,
			System:      system,
			History:     history,
			Prompt:      prompt,
			Model:       req.Persona.Model,
			Temperature: req.Persona.Temperature,
			Stream:      req.OnChunk != nil,
			OnChunk:     req.OnChunk,
		})
		if err != nil {
			return "", fmt.Errorf("chat: %w", err)
		}
		history = append(history, schema.UserMessage(prompt))

		directive, _, ok := dispatch.FindDirective(resp.Text)
		if !ok || directive == last {
			return resp.Text, nil
		}
		last = directive

		res := d.ParseAndExecute(ctx, resp.Text)
		history = append(history, schema.AssistantMessage(res.Directive, nil))
		prompt = ObservationPrefix + res.Output
	}
	return NoContent, nil
}
