// ABOUTME: OpenAI-backed content-generation handler for research/script/voice-prompt nodes.
// ABOUTME: Uses the Chat Completions endpoint with base URL support for compatible providers.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/2389-research/loom/weft"
)

const defaultModel = "gpt-5.2"

// GenerateHandler executes "generate" nodes: it renders the node's prompt
// template against the delivered inputs and asks an OpenAI-compatible Chat
// Completions endpoint for the content. Research, script, and prompt nodes
// in a content pipeline are all this handler with different configs.
type GenerateHandler struct {
	// BaseURL overrides the API endpoint for OpenAI-compatible providers
	// (Cerebras, OpenRouter, Cloudflare AI Gateway, etc.). Empty = OpenAI.
	BaseURL string
	// Model is the default model when node config declares none.
	Model string

	// newClient is swapped in tests to avoid real API calls.
	newClient func(apiKey, baseURL string) chatClient
}

// chatClient is the slice of the OpenAI client the handler uses.
type chatClient interface {
	Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

type openaiChatClient struct {
	client openai.Client
}

func (c *openaiChatClient) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

func newOpenAIChatClient(apiKey, baseURL string) chatClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiChatClient{client: openai.NewClient(opts...)}
}

func (h *GenerateHandler) Type() string { return "generate" }

func (h *GenerateHandler) Ports() (int, int) { return -1, 1 }

// Execute renders the prompt and calls the model. The API key comes from
// the invocation's key map under "openai"; node config may override model,
// system prompt, and maxTokens.
func (h *GenerateHandler) Execute(ctx context.Context, inv *weft.Invocation) (any, error) {
	apiKey := inv.APIKeys["openai"]
	if apiKey == "" {
		return nil, fmt.Errorf("generate node %q: no openai API key configured", inv.Node.ID)
	}

	prompt := renderPrompt(inv)
	if prompt == "" {
		return nil, fmt.Errorf("generate node %q: empty prompt", inv.Node.ID)
	}

	model := inv.ConfigString("model", h.Model)
	if model == "" {
		model = defaultModel
	}

	params := openai.ChatCompletionNewParams{Model: model}
	if system := inv.ConfigString("system", ""); system != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(system))
	}
	params.Messages = append(params.Messages, openai.UserMessage(prompt))
	if maxTokens, ok := inv.Config["maxTokens"]; ok {
		if n, isInt := maxTokens.(int); isInt && n > 0 {
			params.MaxCompletionTokens = openai.Int(int64(n))
		} else if f, isFloat := maxTokens.(float64); isFloat && f > 0 {
			params.MaxCompletionTokens = openai.Int(int64(f))
		}
	}

	factory := h.newClient
	if factory == nil {
		factory = newOpenAIChatClient
	}
	client := factory(apiKey, h.BaseURL)

	resp, err := client.Complete(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("generate node %q: %w", inv.Node.ID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generate node %q: model returned no choices", inv.Node.ID)
	}
	return resp.Choices[0].Message.Content, nil
}

// renderPrompt expands the node's prompt template: {input} becomes the first
// delivered input, {<sourceID>} the value delivered by that node. With no
// template, the inputs themselves become the prompt.
func renderPrompt(inv *weft.Invocation) string {
	template := inv.ConfigString("prompt", "")
	if template == "" {
		var parts []string
		for _, v := range inv.PortInputs {
			if v != nil {
				parts = append(parts, fmt.Sprintf("%v", v))
			}
		}
		return strings.Join(parts, "\n\n")
	}
	out := strings.ReplaceAll(template, "{input}", stringifyInput(inv.FirstInput()))
	for sourceID, v := range inv.Inputs {
		out = strings.ReplaceAll(out, "{"+sourceID+"}", stringifyInput(v))
	}
	return out
}

func stringifyInput(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Compile-time interface assertion.
var _ weft.Handler = (*GenerateHandler)(nil)
