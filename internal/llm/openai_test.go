package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docmark/internal/domain"
)

// completionServer records the last request body and replies with a
// canned chat completion.
func completionServer(t *testing.T, status int, response map[string]any) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func okCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 0,
		"model":   "gpt-4o",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
			"logprobs": map[string]any{
				"content": []any{map[string]any{
					"token":   "#",
					"logprob": -0.25,
					"top_logprobs": []any{
						map[string]any{"token": "#", "logprob": -0.25},
						map[string]any{"token": "##", "logprob": -1.5},
					},
				}},
			},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func newTestOpenAI(t *testing.T, srv *httptest.Server, model string, raw map[string]any) *OpenAIClient {
	t.Helper()
	params, err := ParseParams(raw)
	require.NoError(t, err)
	client, err := NewOpenAI(model, domain.Credentials{APIKey: "sk-test", Endpoint: srv.URL}, params, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func messageAt(t *testing.T, body map[string]any, i int) map[string]any {
	t.Helper()
	messages, ok := body["messages"].([]any)
	require.True(t, ok, "request has messages")
	require.Greater(t, len(messages), i)
	return messages[i].(map[string]any)
}

func TestOpenAI_CompleteOCR(t *testing.T) {
	srv, captured := completionServer(t, http.StatusOK, okCompletion("```markdown\n# Invoice\n```"))
	client := newTestOpenAI(t, srv, "gpt-4o", map[string]any{
		"maxTokens":   1000,
		"temperature": 0.1,
		"logprobs":    true,
		"topLogprobs": 2,
	})

	resp, err := client.Complete(context.Background(), domain.CompletionRequest{
		Mode: domain.ModeOCR,
		OCR: &domain.OCRRequest{
			Buffers:        [][]byte{{1, 2, 3}},
			MaintainFormat: true,
			PriorPage:      "## Prior page",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "```markdown\n# Invoice\n```", resp.Content, "processing happens downstream")
	assert.Equal(t, 10, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
	require.Len(t, resp.Logprobs, 1)
	assert.Equal(t, "#", resp.Logprobs[0].Token)
	require.Len(t, resp.Logprobs[0].TopLogprobs, 2)

	body := *captured
	user := messageAt(t, body, 0)
	assert.Equal(t, "user", user["role"])
	parts := user["content"].([]any)
	require.Len(t, parts, 2)

	image := parts[0].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	url := image["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	carryover := parts[1].(map[string]any)
	assert.Equal(t, "text", carryover["type"])
	assert.Contains(t, carryover["text"], "## Prior page")

	system := messageAt(t, body, 1)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "markdown")

	assert.Equal(t, float64(1000), body["max_tokens"])
	assert.Nil(t, body["max_completion_tokens"])
	assert.Equal(t, 0.1, body["temperature"])
	assert.Equal(t, true, body["logprobs"])
	assert.Equal(t, float64(2), body["top_logprobs"])
}

func TestOpenAI_ReasoningModelTokenField(t *testing.T) {
	srv, captured := completionServer(t, http.StatusOK, okCompletion("# Page"))
	client := newTestOpenAI(t, srv, "o3", map[string]any{"maxTokens": 500})

	_, err := client.Complete(context.Background(), domain.CompletionRequest{
		Mode: domain.ModeOCR,
		OCR:  &domain.OCRRequest{Buffers: [][]byte{{9}}},
	})
	require.NoError(t, err)

	body := *captured
	assert.Equal(t, float64(500), body["max_completion_tokens"])
	assert.Nil(t, body["max_tokens"])
}

func TestOpenAI_ExtraParamsSnakeCased(t *testing.T) {
	srv, captured := completionServer(t, http.StatusOK, okCompletion("# Page"))
	client := newTestOpenAI(t, srv, "gpt-4o", map[string]any{"frequencyPenalty": 0.5})

	_, err := client.Complete(context.Background(), domain.CompletionRequest{
		Mode: domain.ModeOCR,
		OCR:  &domain.OCRRequest{Buffers: [][]byte{{9}}},
	})
	require.NoError(t, err)

	body := *captured
	assert.Equal(t, 0.5, body["frequency_penalty"])
	assert.Nil(t, body["frequencyPenalty"])
}

func TestOpenAI_CustomPromptReplacesDefault(t *testing.T) {
	srv, captured := completionServer(t, http.StatusOK, okCompletion("# Page"))
	client := newTestOpenAI(t, srv, "gpt-4o", nil)

	_, err := client.Complete(context.Background(), domain.CompletionRequest{
		Mode: domain.ModeOCR,
		OCR:  &domain.OCRRequest{Buffers: [][]byte{{9}}, Prompt: "Transcribe verbatim."},
	})
	require.NoError(t, err)

	system := messageAt(t, *captured, 1)
	assert.Equal(t, "Transcribe verbatim.", system["content"])
}

func TestOpenAI_CompleteExtraction(t *testing.T) {
	srv, captured := completionServer(t, http.StatusOK, okCompletion(`{"name":"Ada"}`))
	client := newTestOpenAI(t, srv, "gpt-4o", nil)

	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
	}
	resp, err := client.Complete(context.Background(), domain.CompletionRequest{
		Mode: domain.ModeExtraction,
		Extraction: &domain.ExtractionRequest{
			Input:  domain.ExtractionInput{Text: "Name: Ada"},
			Schema: schema,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Ada"}`, resp.Content)

	body := *captured
	format := body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	jsonSchema := format["json_schema"].(map[string]any)
	assert.Equal(t, "extraction", jsonSchema["name"])
	assert.NotNil(t, jsonSchema["schema"])

	user := messageAt(t, body, 0)
	parts := user["content"].([]any)
	require.Len(t, parts, 1)
	assert.Equal(t, "Name: Ada", parts[0].(map[string]any)["text"])

	system := messageAt(t, body, 1)
	assert.Contains(t, system["content"], "schema")
}

func TestOpenAI_ServerError(t *testing.T) {
	srv, _ := completionServer(t, http.StatusBadRequest, map[string]any{
		"error": map[string]any{"message": "bad request", "type": "invalid_request_error"},
	})
	client := newTestOpenAI(t, srv, "gpt-4o", nil)

	_, err := client.Complete(context.Background(), domain.CompletionRequest{
		Mode: domain.ModeOCR,
		OCR:  &domain.OCRRequest{Buffers: [][]byte{{9}}},
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindOCR))
}

func TestOpenAI_NoLogprobsUnlessRequested(t *testing.T) {
	srv, captured := completionServer(t, http.StatusOK, okCompletion("# Page"))
	client := newTestOpenAI(t, srv, "gpt-4o", nil)

	resp, err := client.Complete(context.Background(), domain.CompletionRequest{
		Mode: domain.ModeOCR,
		OCR:  &domain.OCRRequest{Buffers: [][]byte{{9}}},
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Logprobs)
	assert.Nil(t, (*captured)["logprobs"])
}
