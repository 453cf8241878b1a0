package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/odontosorriso/scheduling-agent/internal/llm"
)

// BuildLLMClient returns the configured provider, wrapped with a fallback
// provider when one is set. It returns nil without error when no provider
// has credentials; NLU then degrades to unknown and NLG to templates.
func BuildLLMClient(ctx context.Context, rt *Runtime) (llm.Client, error) {
	primary, err := buildProvider(ctx, rt, rt.Config.LLMProvider)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		rt.Logger.Warn("no LLM provider configured; replies will use templates", "provider", rt.Config.LLMProvider)
		return nil, nil
	}

	fb := rt.Config.LLMFallbackProvider
	if fb == "" || fb == rt.Config.LLMProvider {
		return primary, nil
	}
	fallback, err := buildProvider(ctx, rt, fb)
	if err != nil {
		return nil, err
	}
	if fallback == nil {
		return primary, nil
	}
	rt.Logger.Info("llm fallback enabled", "primary", rt.Config.LLMProvider, "fallback", fb)
	return llm.NewFallbackClient(primary, fallback, rt.Logger), nil
}

func buildProvider(ctx context.Context, rt *Runtime, name string) (llm.Client, error) {
	cfg := rt.Config
	switch name {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil
		}
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.NLUModel)
	case "bedrock":
		if cfg.BedrockModelID == "" {
			return nil, nil
		}
		return llm.NewBedrockClient(bedrockruntime.NewFromConfig(rt.AWS), cfg.BedrockModelID), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		return llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown LLM provider %q", name)
	}
}
