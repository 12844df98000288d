// Package llm exposes the vision-model providers behind one
// Completer interface. Each adapter owns its credential shape and
// message construction; retries live with the caller.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/docmark/internal/domain"
)

// defaultRequestTimeout bounds one model call unless the caller
// overrides it through LLMParams.
const defaultRequestTimeout = 5 * time.Minute

// Params are the normalized call parameters lifted out of the
// caller's LLMParams map. Keys the adapters understand are consumed
// here; the rest pass through in Extra.
type Params struct {
	MaxTokens       int64
	Temperature     *float64
	Logprobs        bool
	TopLogprobs     int64
	Timeout         time.Duration
	ThinkingLevel   string
	MediaResolution string
	Extra           map[string]any
}

// ParseParams interprets the canonical camelCase parameter keys
func ParseParams(raw map[string]any) (Params, error) {
	p := Params{Timeout: defaultRequestTimeout}
	for key, value := range raw {
		switch key {
		case "maxTokens":
			n, ok := toInt64(value)
			if !ok {
				return Params{}, domain.ConfigError("llm parameter maxTokens must be a number", nil)
			}
			p.MaxTokens = n
		case "temperature":
			f, ok := toFloat64(value)
			if !ok {
				return Params{}, domain.ConfigError("llm parameter temperature must be a number", nil)
			}
			p.Temperature = &f
		case "logprobs":
			b, ok := value.(bool)
			if !ok {
				return Params{}, domain.ConfigError("llm parameter logprobs must be a boolean", nil)
			}
			p.Logprobs = b
		case "topLogprobs":
			n, ok := toInt64(value)
			if !ok {
				return Params{}, domain.ConfigError("llm parameter topLogprobs must be a number", nil)
			}
			p.TopLogprobs = n
		case "timeoutMs":
			n, ok := toInt64(value)
			if !ok || n <= 0 {
				return Params{}, domain.ConfigError("llm parameter timeoutMs must be a positive number", nil)
			}
			p.Timeout = time.Duration(n) * time.Millisecond
		case "thinkingLevel":
			s, ok := value.(string)
			if !ok {
				return Params{}, domain.ConfigError("llm parameter thinkingLevel must be a string", nil)
			}
			p.ThinkingLevel = s
		case "mediaResolution":
			s, ok := value.(string)
			if !ok {
				return Params{}, domain.ConfigError("llm parameter mediaResolution must be a string", nil)
			}
			p.MediaResolution = s
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[key] = value
		}
	}
	return p, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// New builds the Completer for a provider. Credentials come only from
// the arguments; nothing is read from the environment here.
func New(ctx context.Context, provider domain.Provider, model string, creds domain.Credentials, rawParams map[string]any, log zerolog.Logger) (domain.Completer, error) {
	params, err := ParseParams(rawParams)
	if err != nil {
		return nil, err
	}
	switch provider {
	case domain.ProviderOpenAI:
		return NewOpenAI(model, creds, params, log)
	case domain.ProviderAzure:
		return NewAzure(model, creds, params, log)
	case domain.ProviderGoogle:
		return NewGoogle(ctx, model, creds, params, log)
	case domain.ProviderBedrock:
		return NewBedrock(ctx, model, creds, params, log)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown model provider %q", provider), nil)
	}
}
