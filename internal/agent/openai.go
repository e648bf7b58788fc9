package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const defaultMaxToolRounds = 8

// OpenAIAgent talks to any OpenAI-compatible chat completions endpoint and
// runs a function-calling loop over its tools.
type OpenAIAgent struct {
	client    openai.Client
	model     string
	persona   Persona
	tools     map[string]Tool
	toolOrder []string
	sessions  *sessions
	maxRounds int
}

// NewOpenAIClient builds an SDK client for baseURL. An empty baseURL keeps the
// SDK default. SDK retries are disabled; callers own the retry policy.
func NewOpenAIClient(apiKey, baseURL string) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

func NewOpenAIAgent(client openai.Client, model string, persona Persona, tools []Tool) *OpenAIAgent {
	a := &OpenAIAgent{
		client:    client,
		model:     model,
		persona:   persona,
		tools:     make(map[string]Tool, len(tools)),
		sessions:  newSessions(0),
		maxRounds: defaultMaxToolRounds,
	}
	for _, t := range tools {
		a.tools[t.Name()] = t
		a.toolOrder = append(a.toolOrder, t.Name())
	}
	return a
}

func (a *OpenAIAgent) Invoke(ctx context.Context, sessionID, prompt string) (<-chan Event, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(a.persona.SystemPrompt())}
	for _, t := range a.sessions.get(sessionID) {
		if t.role == "assistant" {
			msgs = append(msgs, openai.AssistantMessage(t.content))
		} else {
			msgs = append(msgs, openai.UserMessage(t.content))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		final, err := a.run(ctx, msgs, out)
		if err != nil {
			out <- Event{Type: EventError, Author: a.persona.AgentName(), Err: err}
			return
		}
		a.sessions.append(sessionID, turn{"user", prompt}, turn{"assistant", final})
	}()
	return out, nil
}

func (a *OpenAIAgent) run(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion, out chan<- Event) (string, error) {
	author := a.persona.AgentName()
	var texts []string
	for range a.maxRounds {
		text, calls, err := a.round(ctx, msgs, out)
		if err != nil {
			return "", err
		}
		if text != "" {
			texts = append(texts, text)
			out <- Event{Type: EventText, Author: author, Content: text}
		}
		if len(calls) == 0 {
			return strings.Join(texts, "\n"), nil
		}

		assistant := openai.ChatCompletionAssistantMessageParam{Role: "assistant"}
		if text != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
		}
		for _, c := range calls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   c.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      c.Function.Name,
					Arguments: c.Function.Arguments,
				},
			})
		}
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		for _, c := range calls {
			args := map[string]any{}
			if c.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(c.Function.Arguments), &args); err != nil {
					args = map[string]any{"_raw": c.Function.Arguments}
				}
			}
			out <- Event{Type: EventFunctionCall, Author: author, Name: c.Function.Name, Args: args}
			result := a.callTool(ctx, c.Function.Name, args)
			out <- Event{Type: EventFunctionResponse, Author: author, Name: c.Function.Name, Response: result}
			msgs = append(msgs, openai.ToolMessage(result, c.ID))
		}
	}
	return strings.Join(texts, "\n"), nil
}

// round streams one completion and returns its text and any tool calls.
func (a *OpenAIAgent) round(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion, out chan<- Event) (string, []openai.ChatCompletionMessageToolCall, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(a.model),
		Messages: msgs,
	}
	if len(a.tools) > 0 {
		params.Tools = a.toolParams()
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	author := a.persona.AgentName()
	acc := openai.ChatCompletionAccumulator{}
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			text.WriteString(chunk.Choices[0].Delta.Content)
			out <- Event{Type: EventText, Author: author, Content: chunk.Choices[0].Delta.Content, Partial: true}
		}
	}
	if err := stream.Err(); err != nil {
		return "", nil, fmt.Errorf("chat completion stream: %w", err)
	}

	var calls []openai.ChatCompletionMessageToolCall
	if len(acc.Choices) > 0 {
		calls = acc.Choices[0].Message.ToolCalls
	}
	return text.String(), calls, nil
}

func (a *OpenAIAgent) toolParams() []openai.ChatCompletionToolParam {
	params := make([]openai.ChatCompletionToolParam, 0, len(a.toolOrder))
	for _, name := range a.toolOrder {
		t := a.tools[name]
		params = append(params, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters:  shared.FunctionParameters(t.Parameters()),
			},
		})
	}
	return params
}

func (a *OpenAIAgent) callTool(ctx context.Context, name string, args map[string]any) string {
	t, ok := a.tools[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name)
	}
	result, err := t.Call(ctx, a.persona.Handle, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	return result
}
