// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAIProvider talks to the OpenAI chat completions API or any
// compatible gateway reachable through a custom base URL.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// OpenAIOption configures the OpenAIProvider.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	model   string
	baseURL string
	apiKey  string
	extra   []option.RequestOption
}

// WithOpenAIModel sets the default model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *openAISettings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithOpenAIBaseURL points the client at a proxy or compatible gateway.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(s *openAISettings) {
		s.baseURL = url
	}
}

// WithOpenAIKey sets the API key. Without it OPENAI_API_KEY is used.
func WithOpenAIKey(apiKey string) OpenAIOption {
	return func(s *openAISettings) {
		s.apiKey = apiKey
	}
}

// WithOpenAIRequestOptions passes raw request options to the client.
func WithOpenAIRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(s *openAISettings) {
		s.extra = append(s.extra, opts...)
	}
}

// NewOpenAI creates a new OpenAI provider.
func NewOpenAI(opts ...OpenAIOption) *OpenAIProvider {
	s := openAISettings{model: "gpt-4o-mini"}
	for _, opt := range opts {
		opt(&s)
	}
	var reqOpts []option.RequestOption
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(s.apiKey))
	}
	reqOpts = append(reqOpts, s.extra...)
	return &OpenAIProvider{
		client: openai.NewClient(reqOpts...),
		model:  s.model,
	}
}

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	return convertOpenAIResponse(completion), nil
}

func (p *OpenAIProvider) params(req ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertOpenAIMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertOpenAITool(tool))
		}
		params.Tools = tools
	}
	return params
}

func convertOpenAIMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case RoleSystem:
		return openai.SystemMessage(msg.Content)
	case RoleUser:
		return openai.UserMessage(msg.Content)
	case RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content)
		}
		toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
		if msg.Content != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(msg.Content),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	case RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func convertOpenAITool(tool Tool) openai.ChatCompletionToolParam {
	var params openai.FunctionParameters
	if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
		_ = json.Unmarshal(raw, &params)
	}
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        tool.Function.Name,
			Description: openai.String(tool.Function.Description),
			Parameters:  params,
		},
	}
}

func convertOpenAIResponse(completion *openai.ChatCompletion) *ChatResponse {
	resp := &ChatResponse{
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp
	}
	choice := completion.Choices[0]
	resp.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, NewToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return resp
}
