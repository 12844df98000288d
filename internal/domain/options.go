package domain

import (
	"github.com/rs/zerolog"
)

// Provider selects a vision-model family
type Provider string

const (
	ProviderOpenAI  Provider = "OPENAI"
	ProviderAzure   Provider = "AZURE"
	ProviderGoogle  Provider = "GOOGLE"
	ProviderBedrock Provider = "BEDROCK"
)

// ErrorMode controls how per-page OCR failures propagate
type ErrorMode string

const (
	ErrorModeThrow  ErrorMode = "THROW"
	ErrorModeIgnore ErrorMode = "IGNORE"
)

// Well-known model identifiers, so callers avoid magic strings.
const (
	ModelGPT4o        = "gpt-4o"
	ModelGPT4oMini    = "gpt-4o-mini"
	ModelGPT41        = "gpt-4.1"
	ModelGPT5         = "gpt-5"
	ModelO3           = "o3"
	ModelO4Mini       = "o4-mini"
	ModelGeminiFlash  = "gemini-2.0-flash"
	ModelGeminiPro    = "gemini-2.5-pro"
	ModelClaudeSonnet = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	ModelClaudeHaiku  = "anthropic.claude-3-haiku-20240307-v1:0"
)

// Default option values.
const (
	DefaultModel        = ModelGPT4o
	DefaultProvider     = ProviderOpenAI
	DefaultConcurrency  = 10
	DefaultMaxRetries   = 1
	DefaultMaxImageSize = 15 // megabytes
)

// Bool returns a pointer to b, for optional boolean options
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i, for optional integer options
func Int(i int) *int { return &i }

// Float64 returns a pointer to f, for optional float options
func Float64(f float64) *float64 { return &f }

// Options configures one pipeline run. The zero value of an optional
// field selects its default; pointer fields distinguish "unset" from
// an explicit zero.
type Options struct {
	// Source and credentials.
	FilePath    string
	Credentials Credentials

	// Model selection.
	Model         string   // default gpt-4o
	ModelProvider Provider // default OPENAI

	// Behavior.
	Cleanup             *bool     // default true: remove the temp directory on exit
	Concurrency         int       // default 10
	CorrectOrientation  *bool     // default true
	ErrorMode           ErrorMode // default IGNORE
	MaintainFormat      bool
	MaxRetries          *int // default 1
	MaxTesseractWorkers int  // default -1: sized from the page count

	// Imaging.
	ImageDensity           int      // render DPI; 0 uses the rasterizer default
	ImageHeight            int      // target height in pixels, aspect-preserving; 0 keeps natural size
	MaxImageSize           *float64 // megabytes; default 15; explicit 0 disables recompression
	TrimEdges              *bool    // default true
	PagesToConvertAsImages []int    // ascending 1-based pages; nil or empty converts all
	TempDir                string   // temp root; default os.TempDir()
	OutputDir              string   // when set, writes {sanitized}.md

	// LLM.
	LLMParams map[string]any // canonical camelCase keys
	Prompt    string

	// Extraction.
	Schema                  map[string]any
	ExtractPerPage          []string
	ExtractOnly             bool
	DirectImageExtraction   bool
	EnableHybridExtraction  bool
	ExtractionModel         string
	ExtractionModelProvider Provider
	ExtractionCredentials   *Credentials
	ExtractionPrompt        string
	ExtractionLLMParams     map[string]any

	// CustomModelFunction replaces the provider adapter for OCR calls.
	CustomModelFunction CustomModelFunc

	// OnProgress, when set, is called after each page finishes OCR
	// (successfully or not) with the completed and total page counts.
	// It may be called from several goroutines at once.
	OnProgress func(completed, total int)

	// External binaries. Empty values resolve via $PATH.
	LibreOfficePath string
	MagickPath      string
	TesseractPath   string

	// Logger for pipeline events; nil disables logging.
	Logger *zerolog.Logger
}

// WithDefaults returns a copy of o with every unset field replaced by
// its default. It does not validate.
func (o Options) WithDefaults() Options {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.ModelProvider == "" {
		o.ModelProvider = DefaultProvider
	}
	if o.Cleanup == nil {
		o.Cleanup = Bool(true)
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.CorrectOrientation == nil {
		o.CorrectOrientation = Bool(true)
	}
	if o.ErrorMode == "" {
		o.ErrorMode = ErrorModeIgnore
	}
	if o.MaxRetries == nil {
		o.MaxRetries = Int(DefaultMaxRetries)
	}
	if o.MaxTesseractWorkers == 0 {
		o.MaxTesseractWorkers = -1
	}
	if o.MaxImageSize == nil {
		o.MaxImageSize = Float64(DefaultMaxImageSize)
	}
	if o.TrimEdges == nil {
		o.TrimEdges = Bool(true)
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Validate enforces the argument rules. It assumes WithDefaults has
// run and returns a config error on the first violation.
func (o Options) Validate() error {
	if o.Credentials.IsZero() {
		return ConfigError("missing credentials", nil)
	}
	if o.FilePath == "" {
		return ConfigError("missing file path", nil)
	}
	if o.EnableHybridExtraction && o.DirectImageExtraction {
		return ConfigError("hybrid extraction cannot be combined with direct image extraction", nil)
	}
	if o.EnableHybridExtraction && o.ExtractOnly {
		return ConfigError("hybrid extraction cannot be combined with extract-only", nil)
	}
	if o.EnableHybridExtraction && o.Schema == nil {
		return ConfigError("hybrid extraction requires a schema", nil)
	}
	if o.ExtractOnly && o.Schema == nil {
		return ConfigError("extract-only requires a schema", nil)
	}
	if o.ExtractOnly && o.MaintainFormat {
		return ConfigError("extract-only cannot be combined with maintain format", nil)
	}
	return nil
}

// Normalized returns a copy with the cross-field implications applied:
// extract-only implies direct image extraction, and unset extraction
// settings fall back to the main ones.
func (o Options) Normalized() Options {
	if o.ExtractOnly {
		o.DirectImageExtraction = true
	}
	if o.ExtractionModel == "" {
		o.ExtractionModel = o.Model
	}
	if o.ExtractionModelProvider == "" {
		o.ExtractionModelProvider = o.ModelProvider
	}
	if o.ExtractionCredentials == nil {
		creds := o.Credentials
		o.ExtractionCredentials = &creds
	}
	if o.ExtractionLLMParams == nil {
		o.ExtractionLLMParams = o.LLMParams
	}
	return o
}
