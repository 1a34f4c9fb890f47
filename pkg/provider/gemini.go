package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements LLMProvider for Google Gemini. It also exposes
// the provider-side cached-content lifecycle, which makes it the one
// provider usable for prompt caching.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{client: client, model: model}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Call makes an API call to Gemini
func (p *GeminiProvider) Call(ctx context.Context, request Request) (*Response, error) {
	contents := p.convertMessages(request.Messages)

	config := &genai.GenerateContentConfig{}
	if request.SystemPrompt != "" && request.CachedContent == "" {
		// A cached content resource already carries the system instruction.
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: request.SystemPrompt}},
		}
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if request.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(request.Temperature))
	}
	if request.CachedContent != "" {
		config.CachedContent = request.CachedContent
	} else if len(request.Tools) > 0 {
		config.Tools = convertToolDecls(request.Tools)
	}

	model := request.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, err
	}

	content := ""
	toolCalls := []ToolCall{}

	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				content += part.Text
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, ToolCall{
					ID:         fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, time.Now().UnixNano()),
					Name:       part.FunctionCall.Name,
					Parameters: part.FunctionCall.Args,
				})
			}
		}
	}

	result := &Response{
		Content:   content,
		ToolCalls: toolCalls,
	}
	if resp.UsageMetadata != nil {
		result.Usage = &Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	return result, nil
}

// CreateCache creates a provider-side cached-content resource holding the
// system instruction and tool declarations, and returns its handle name.
func (p *GeminiProvider) CreateCache(ctx context.Context, systemInstruction string, tools []ToolDecl, ttl time.Duration) (string, error) {
	config := &genai.CreateCachedContentConfig{
		TTL: ttl,
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if len(tools) > 0 {
		config.Tools = convertToolDecls(tools)
	}

	cached, err := p.client.Caches.Create(ctx, p.model, config)
	if err != nil {
		return "", fmt.Errorf("failed to create cached content: %w", err)
	}
	return cached.Name, nil
}

// DeleteCache deletes a cached-content resource by handle name.
func (p *GeminiProvider) DeleteCache(ctx context.Context, name string) error {
	if _, err := p.client.Caches.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("failed to delete cached content: %w", err)
	}
	return nil
}

func (p *GeminiProvider) convertMessages(messages []Message) []*genai.Content {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == "system" {
			continue // Handled via SystemInstruction
		}

		content := &genai.Content{}
		switch msg.Role {
		case "assistant":
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" && msg.Role != "tool" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: tc.Parameters,
				},
			})
		}

		if msg.Role == "tool" {
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.ToolCallID,
					Response: map[string]interface{}{"result": msg.Content},
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result
}

func convertToolDecls(tools []ToolDecl) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.InputSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}
