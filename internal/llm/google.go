package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/spherical/docmark/internal/domain"
	"github.com/spherical/docmark/internal/imgprep"
)

// defaultVertexLocation is used when the credentials omit one
const defaultVertexLocation = "us-central1"

var thinkingLevels = map[string]genai.ThinkingLevel{
	"low":  genai.ThinkingLevelLow,
	"high": genai.ThinkingLevelHigh,
}

var mediaResolutions = map[string]genai.MediaResolution{
	"low":    genai.MediaResolutionLow,
	"medium": genai.MediaResolutionMedium,
	"high":   genai.MediaResolutionHigh,
}

// GoogleClient serves Gemini models through the Gemini API or a
// Vertex deployment, depending on the credential variant.
type GoogleClient struct {
	client *genai.Client
	model  string
	params Params
	vertex bool
	log    zerolog.Logger

	thinkingWarn sync.Once
}

// NewGoogle builds the adapter. A service-account credential selects
// the Vertex backend; otherwise an API key is required.
func NewGoogle(ctx context.Context, model string, creds domain.Credentials, params Params, log zerolog.Logger) (*GoogleClient, error) {
	if params.ThinkingLevel != "" {
		if _, ok := thinkingLevels[params.ThinkingLevel]; !ok {
			return nil, domain.ConfigError(fmt.Sprintf("llm parameter thinkingLevel must be low or high, got %q", params.ThinkingLevel), nil)
		}
	}
	if params.MediaResolution != "" {
		if _, ok := mediaResolutions[params.MediaResolution]; !ok {
			return nil, domain.ConfigError(fmt.Sprintf("llm parameter mediaResolution must be low, medium or high, got %q", params.MediaResolution), nil)
		}
	}

	if creds.HasServiceAccount() {
		return newVertex(ctx, model, creds, params, log)
	}
	if creds.APIKey == "" {
		return nil, domain.ConfigError("google provider requires an api key or a service account", nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  creds.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, domain.ConfigError("creating google client", err)
	}
	return &GoogleClient{client: client, model: model, params: params, log: log}, nil
}

func newVertex(ctx context.Context, model string, creds domain.Credentials, params Params, log zerolog.Logger) (*GoogleClient, error) {
	var sa struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(creds.ServiceAccountJSON), &sa); err != nil {
		return nil, domain.ConfigError("service account json is invalid", err)
	}
	if sa.ProjectID == "" {
		return nil, domain.ConfigError("service account json has no project_id", nil)
	}

	authCreds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(creds.ServiceAccountJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, domain.ConfigError("building vertex credentials", err)
	}

	location := creds.Location
	if location == "" {
		location = defaultVertexLocation
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:     genai.BackendVertexAI,
		Project:     sa.ProjectID,
		Location:    location,
		Credentials: authCreds,
	})
	if err != nil {
		return nil, domain.ConfigError("creating vertex client", err)
	}
	return &GoogleClient{client: client, model: model, params: params, vertex: true, log: log}, nil
}

func (c *GoogleClient) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.ModelResponse, error) {
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

func (c *GoogleClient) completeOCR(ctx context.Context, req *domain.OCRRequest) (*domain.ModelResponse, error) {
	parts := make([]*genai.Part, 0, len(req.Buffers)+1)
	for _, buf := range req.Buffers {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: imgprep.MIMEType(buf), Data: buf},
		})
	}
	if req.MaintainFormat && req.PriorPage != "" {
		parts = append(parts, &genai.Part{Text: consistencyPrompt(req.PriorPage)})
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = ocrSystemPrompt
	}

	config := c.buildConfig(prompt)
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: "user", Parts: parts}}, config)
	if err != nil {
		return nil, domain.OCRError("google completion failed", err)
	}
	return c.modelResponse(resp, domain.ModeOCR)
}

func (c *GoogleClient) completeExtraction(ctx context.Context, req *domain.ExtractionRequest) (*domain.ModelResponse, error) {
	buffers, err := loadImages(req.Input.ImagePaths)
	if err != nil {
		return nil, err
	}

	parts := make([]*genai.Part, 0, len(buffers)+1)
	for _, buf := range buffers {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: imgprep.MIMEType(buf), Data: buf},
		})
	}
	if req.Input.Text != "" {
		parts = append(parts, &genai.Part{Text: req.Input.Text})
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = extractionSystemPrompt
	}

	// Gemini gets strict JSON mode with the schema in the prompt.
	config := c.buildConfig(prompt + schemaPromptBlock(req.Schema))
	config.ResponseMIMEType = "application/json"

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: "user", Parts: parts}}, config)
	if err != nil {
		return nil, domain.ExtractionError("google extraction failed", err)
	}
	return c.modelResponse(resp, domain.ModeExtraction)
}

func (c *GoogleClient) buildConfig(systemPrompt string) *genai.GenerateContentConfig {
	p := c.params
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	}
	if p.MaxTokens > 0 {
		config.MaxOutputTokens = int32(p.MaxTokens)
	}
	if p.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*p.Temperature))
	}
	if p.Logprobs {
		config.ResponseLogprobs = true
		if p.TopLogprobs > 0 {
			config.Logprobs = genai.Ptr(int32(p.TopLogprobs))
		}
	}

	if p.ThinkingLevel != "" {
		switch {
		case c.vertex:
			c.thinkingWarn.Do(func() {
				c.log.Warn().Str("model", c.model).Msg("thinkingLevel is not supported on vertex deployments; ignoring")
			})
		case isGemini3(c.model):
			config.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: thinkingLevels[p.ThinkingLevel]}
		default:
			c.log.Debug().Str("model", c.model).Msg("thinkingLevel ignored for non gemini-3 model")
		}
	}
	if p.MediaResolution != "" {
		if isGemini3(c.model) {
			config.MediaResolution = mediaResolutions[p.MediaResolution]
		} else {
			c.log.Debug().Str("model", c.model).Msg("mediaResolution ignored for non gemini-3 model")
		}
	}
	return config
}

func (c *GoogleClient) modelResponse(resp *genai.GenerateContentResponse, mode domain.CompletionMode) (*domain.ModelResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, completionError(mode, "model returned no candidates", nil)
	}
	out := &domain.ModelResponse{Content: resp.Text()}
	if um := resp.UsageMetadata; um != nil {
		out.InputTokens = int(um.PromptTokenCount)
		out.OutputTokens = int(um.CandidatesTokenCount)
	}
	if c.params.Logprobs {
		out.Logprobs = googleLogprobs(resp.Candidates[0].LogprobsResult)
	}
	return out, nil
}

func isGemini3(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "gemini-3")
}

func googleLogprobs(result *genai.LogprobsResult) []domain.TokenLogprob {
	if result == nil || len(result.ChosenCandidates) == 0 {
		return nil
	}
	out := make([]domain.TokenLogprob, 0, len(result.ChosenCandidates))
	for i, chosen := range result.ChosenCandidates {
		entry := domain.TokenLogprob{
			Token:   chosen.Token,
			Logprob: float64(chosen.LogProbability),
		}
		if i < len(result.TopCandidates) && result.TopCandidates[i] != nil {
			for _, top := range result.TopCandidates[i].Candidates {
				entry.TopLogprobs = append(entry.TopLogprobs, domain.TopLogprob{
					Token:   top.Token,
					Logprob: float64(top.LogProbability),
				})
			}
		}
		out = append(out, entry)
	}
	return out
}
