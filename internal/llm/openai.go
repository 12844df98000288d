package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/spherical/docmark/internal/domain"
	"github.com/spherical/docmark/internal/imgprep"
)

// azureAPIVersion is the data-plane version the Azure adapter pins
const azureAPIVersion = "2024-10-21"

// reasoningModelRe matches o-series reasoning models (o1, o3, o4-mini)
var reasoningModelRe = regexp.MustCompile(`^o\d`)

// OpenAIClient serves OpenAI, OpenAI-compatible endpoints and Azure
// OpenAI deployments through the official SDK.
type OpenAIClient struct {
	client openai.Client
	model  string
	params Params
	log    zerolog.Logger
}

// NewOpenAI builds the adapter for api.openai.com or a compatible
// endpoint when Credentials.Endpoint is set.
func NewOpenAI(model string, creds domain.Credentials, params Params, log zerolog.Logger) (*OpenAIClient, error) {
	if creds.APIKey == "" {
		return nil, domain.ConfigError("openai provider requires an api key", nil)
	}
	opts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
	if creds.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(creds.Endpoint))
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: model, params: params, log: log}, nil
}

// NewAzure builds the adapter for an Azure OpenAI resource. The model
// names the deployment.
func NewAzure(model string, creds domain.Credentials, params Params, log zerolog.Logger) (*OpenAIClient, error) {
	if creds.APIKey == "" || creds.Endpoint == "" {
		return nil, domain.ConfigError("azure provider requires an api key and an endpoint", nil)
	}
	client := openai.NewClient(
		azure.WithEndpoint(creds.Endpoint, azureAPIVersion),
		azure.WithAPIKey(creds.APIKey),
	)
	return &OpenAIClient{client: client, model: model, params: params, log: log}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.ModelResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.params.Timeout)
	defer cancel()

	switch req.Mode {
	case domain.ModeOCR:
		return c.completeOCR(ctx, req.OCR)
	case domain.ModeExtraction:
		return c.completeExtraction(ctx, req.Extraction)
	default:
		return nil, domain.OCRError(fmt.Sprintf("unsupported completion mode %q", req.Mode), nil)
	}
}

func (c *OpenAIClient) completeOCR(ctx context.Context, req *domain.OCRRequest) (*domain.ModelResponse, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Buffers)+1)
	for _, buf := range req.Buffers {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: imgprep.DataURL(buf),
		}))
	}
	if req.MaintainFormat && req.PriorPage != "" {
		parts = append(parts, openai.TextContentPart(consistencyPrompt(req.PriorPage)))
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = ocrSystemPrompt
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
			openai.SystemMessage(prompt),
		},
	}
	c.applyParams(&params)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, domain.OCRError("openai completion failed", err)
	}
	return c.modelResponse(resp, domain.ModeOCR)
}

func (c *OpenAIClient) completeExtraction(ctx context.Context, req *domain.ExtractionRequest) (*domain.ModelResponse, error) {
	buffers, err := loadImages(req.Input.ImagePaths)
	if err != nil {
		return nil, err
	}

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(buffers)+1)
	for _, buf := range buffers {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: imgprep.DataURL(buf),
		}))
	}
	if req.Input.Text != "" {
		parts = append(parts, openai.TextContentPart(req.Input.Text))
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = extractionSystemPrompt
	}

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
			openai.SystemMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "extraction",
					Schema: req.Schema,
				},
			},
		},
	}
	c.applyParams(&params)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, domain.ExtractionError("openai extraction failed", err)
	}
	return c.modelResponse(resp, domain.ModeExtraction)
}

func (c *OpenAIClient) applyParams(params *openai.ChatCompletionNewParams) {
	p := c.params
	if p.MaxTokens > 0 {
		// Reasoning models reject max_tokens in favor of
		// max_completion_tokens.
		if isReasoningModel(c.model) {
			params.MaxCompletionTokens = openai.Int(p.MaxTokens)
		} else {
			params.MaxTokens = openai.Int(p.MaxTokens)
		}
	}
	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}
	if p.Logprobs {
		params.Logprobs = openai.Bool(true)
		if p.TopLogprobs > 0 {
			params.TopLogprobs = openai.Int(p.TopLogprobs)
		}
	}
	if len(p.Extra) > 0 {
		params.SetExtraFields(snakeKeys(p.Extra))
	}
}

func (c *OpenAIClient) modelResponse(resp *openai.ChatCompletion, mode domain.CompletionMode) (*domain.ModelResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, completionError(mode, "model returned no choices", nil)
	}
	out := &domain.ModelResponse{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	if c.params.Logprobs {
		out.Logprobs = tokenLogprobs(resp.Choices[0].Logprobs.Content)
	}
	return out, nil
}

// isReasoningModel reports whether the model takes
// max_completion_tokens instead of max_tokens.
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return reasoningModelRe.MatchString(m) || strings.HasPrefix(m, "gpt-5")
}

func tokenLogprobs(content []openai.ChatCompletionTokenLogprob) []domain.TokenLogprob {
	if len(content) == 0 {
		return nil
	}
	out := make([]domain.TokenLogprob, 0, len(content))
	for _, tl := range content {
		entry := domain.TokenLogprob{Token: tl.Token, Logprob: tl.Logprob}
		for _, top := range tl.TopLogprobs {
			entry.TopLogprobs = append(entry.TopLogprobs, domain.TopLogprob{
				Token:   top.Token,
				Logprob: top.Logprob,
			})
		}
		out = append(out, entry)
	}
	return out
}

func completionError(mode domain.CompletionMode, msg string, err error) error {
	if mode == domain.ModeExtraction {
		return domain.ExtractionError(msg, err)
	}
	return domain.OCRError(msg, err)
}

// loadImages reads extraction input images from disk
func loadImages(paths []string) ([][]byte, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	buffers := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, domain.ExtractionError(fmt.Sprintf("reading extraction image %s", filepath.Base(p)), err)
		}
		buffers = append(buffers, data)
	}
	return buffers, nil
}
