package llm

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/bedrock"

	"github.com/spherical/docmark/internal/domain"
	"github.com/spherical/docmark/internal/imgprep"
)

// BedrockClient serves Anthropic and other models hosted on AWS
// Bedrock. Logprobs are not available on this provider.
type BedrockClient struct {
	llm    *bedrock.LLM
	model  string
	params Params
	log    zerolog.Logger
}

// NewBedrock builds the adapter from static AWS credentials
func NewBedrock(ctx context.Context, model string, creds domain.Credentials, params Params, log zerolog.Logger) (*BedrockClient, error) {
	if !creds.HasAWS() {
		return nil, domain.ConfigError("bedrock provider requires an access key id and a secret access key", nil)
	}
	if creds.Region == "" {
		return nil, domain.ConfigError("bedrock provider requires a region", nil)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(creds.Region),
		awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)),
	)
	if err != nil {
		return nil, domain.ConfigError("building aws config", err)
	}

	client, err := bedrock.New(
		bedrock.WithModel(model),
		bedrock.WithClient(bedrockruntime.NewFromConfig(cfg)),
	)
	if err != nil {
		return nil, domain.ConfigError("creating bedrock client", err)
	}
	return &BedrockClient{llm: client, model: model, params: params, log: log}, nil
}

func (c *BedrockClient) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.ModelResponse, error) {
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

func (c *BedrockClient) completeOCR(ctx context.Context, req *domain.OCRRequest) (*domain.ModelResponse, error) {
	parts := make([]llms.ContentPart, 0, len(req.Buffers)+1)
	for _, buf := range req.Buffers {
		parts = append(parts, llms.BinaryPart(imgprep.MIMEType(buf), buf))
	}
	if req.MaintainFormat && req.PriorPage != "" {
		parts = append(parts, llms.TextPart(consistencyPrompt(req.PriorPage)))
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = ocrSystemPrompt
	}

	resp, err := c.generate(ctx, parts, prompt)
	if err != nil {
		return nil, domain.OCRError("bedrock completion failed", err)
	}
	return c.modelResponse(resp, domain.ModeOCR)
}

func (c *BedrockClient) completeExtraction(ctx context.Context, req *domain.ExtractionRequest) (*domain.ModelResponse, error) {
	buffers, err := loadImages(req.Input.ImagePaths)
	if err != nil {
		return nil, err
	}

	parts := make([]llms.ContentPart, 0, len(buffers)+1)
	for _, buf := range buffers {
		parts = append(parts, llms.BinaryPart(imgprep.MIMEType(buf), buf))
	}
	if req.Input.Text != "" {
		parts = append(parts, llms.TextPart(req.Input.Text))
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = extractionSystemPrompt
	}

	// No structured output on this provider; the schema rides in the
	// system prompt and the response is parsed as JSON downstream.
	resp, err := c.generate(ctx, parts, prompt+schemaPromptBlock(req.Schema))
	if err != nil {
		return nil, domain.ExtractionError("bedrock extraction failed", err)
	}
	return c.modelResponse(resp, domain.ModeExtraction)
}

func (c *BedrockClient) generate(ctx context.Context, parts []llms.ContentPart, systemPrompt string) (*llms.ContentResponse, error) {
	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(systemPrompt)}},
	}

	var callOpts []llms.CallOption
	if c.params.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(int(c.params.MaxTokens)))
	}
	if c.params.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*c.params.Temperature))
	}
	return c.llm.GenerateContent(ctx, messages, callOpts...)
}

func (c *BedrockClient) modelResponse(resp *llms.ContentResponse, mode domain.CompletionMode) (*domain.ModelResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, completionError(mode, "model returned no choices", nil)
	}
	choice := resp.Choices[0]
	return &domain.ModelResponse{
		Content:      choice.Content,
		InputTokens:  tokenFromInfo(choice.GenerationInfo, "input_tokens", "InputTokens", "prompt_tokens", "PromptTokens"),
		OutputTokens: tokenFromInfo(choice.GenerationInfo, "output_tokens", "OutputTokens", "completion_tokens", "CompletionTokens"),
	}, nil
}

// tokenFromInfo digs a token count out of GenerationInfo; the key and
// value type vary by model family.
func tokenFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		v, ok := info[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}
