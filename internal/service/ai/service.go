package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codesage/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const claudeDefaultMaxTokens = 3000

var defaultModels = map[string]string{
	"gemini": "gemini-2.0-flash",
	"openai": "gpt-4o-mini",
	"claude": "claude-3-5-haiku-latest",
}

// ErrGeneration matches every *GenerationError.
var ErrGeneration = errors.New("generation failed")

var errEmptyResponse = errors.New("empty response")

// GenerationError reports a failed or rejected generation call.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// Params tunes a single generation call. Zero values leave the provider
// defaults in place.
type Params struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   int
}

// Request is the text-in side of a generation call.
type Request struct {
	Prompt         string
	SystemPreamble string
	Params         Params
}

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type chatGenerator struct {
	provider  string
	chatModel model.BaseChatModel
	defaults  Params
}

// NewChatGenerator wraps an eino chat model. defaults apply when a request
// leaves the matching parameter unset.
func NewChatGenerator(provider string, chatModel model.BaseChatModel, defaults Params) Generator {
	return &chatGenerator{provider: provider, chatModel: chatModel, defaults: defaults}
}

// NewGenerator builds the chat model for the named provider.
func NewGenerator(ctx context.Context, provider string, provCfg config.ProviderConfig) (Generator, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	modelName := provCfg.Model
	if modelName == "" {
		modelName = defaultModels[provider]
	}
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key required", provider)
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		maxTokens := provCfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = claudeDefaultMaxTokens
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return NewChatGenerator(provider, chatModel, Params{
		Temperature: provCfg.Temperature,
		MaxTokens:   provCfg.MaxTokens,
	}), nil
}

func (g *chatGenerator) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]*schema.Message, 0, 2)
	if preamble := strings.TrimSpace(req.SystemPreamble); preamble != "" {
		messages = append(messages, schema.SystemMessage(preamble))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))

	resp, err := g.chatModel.Generate(ctx, messages, g.options(req.Params)...)
	if err != nil {
		return "", &GenerationError{Provider: g.provider, Err: err}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", &GenerationError{Provider: g.provider, Err: errEmptyResponse}
	}
	return resp.Content, nil
}

func (g *chatGenerator) options(p Params) []model.Option {
	var opts []model.Option
	if t := firstFloat(p.Temperature, g.defaults.Temperature); t != nil {
		opts = append(opts, model.WithTemperature(*t))
	}
	if tp := firstFloat(p.TopP, g.defaults.TopP); tp != nil {
		opts = append(opts, model.WithTopP(*tp))
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.defaults.MaxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}
	return opts
}

func firstFloat(values ...*float32) *float32 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
