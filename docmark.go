// Package docmark converts documents into per-page Markdown using
// vision-capable language models, with optional schema-driven JSON
// extraction over the converted pages.
//
// A conversion is one call:
//
//	result, err := docmark.Run(ctx, docmark.Options{
//		FilePath:    "report.pdf",
//		Credentials: docmark.Credentials{APIKey: apiKey},
//	})
//
// PDFs, office documents and images are rasterized page by page, each
// page image is cleaned up and sent to the configured model, and the
// Markdown comes back in page order. Spreadsheets skip rasterization
// and are rendered directly from their cell data. Setting
// Options.Schema additionally extracts structured JSON from the
// converted text, or from the page images themselves in the
// direct-image modes.
//
// Credentials are passed explicitly in Options; the library never
// reads environment variables.
package docmark

import (
	"context"

	"github.com/spherical/docmark/internal/domain"
	"github.com/spherical/docmark/internal/pipeline"
)

// Run executes the pipeline described by opts: acquire the source,
// rasterize it, convert every page to Markdown, optionally extract
// structured data, and assemble the result. Temp files and Tesseract
// workers are released before Run returns, on success and on error.
func Run(ctx context.Context, opts Options) (*Result, error) {
	return pipeline.Run(ctx, opts)
}

// Options configures a Run. See the field docs in the struct for
// defaults; zero values mean "use the default".
type Options = domain.Options

// Credentials selects and authenticates a model provider.
type Credentials = domain.Credentials

// Result is the outcome of a Run.
type Result = domain.Result

// Page is one converted page of the source document.
type Page = domain.Page

type (
	Summary        = domain.Summary
	Counts         = domain.Counts
	ResultLogprobs = domain.ResultLogprobs
	PageLogprobs   = domain.PageLogprobs
	TokenLogprob   = domain.TokenLogprob
	TopLogprob     = domain.TopLogprob
)

// Provider identifies a model backend.
type Provider = domain.Provider

const (
	ProviderOpenAI  = domain.ProviderOpenAI
	ProviderAzure   = domain.ProviderAzure
	ProviderGoogle  = domain.ProviderGoogle
	ProviderBedrock = domain.ProviderBedrock
)

// ErrorMode controls how per-page OCR failures propagate.
type ErrorMode = domain.ErrorMode

const (
	ErrorModeThrow  = domain.ErrorModeThrow
	ErrorModeIgnore = domain.ErrorModeIgnore
)

// PageStatus marks a page as converted or failed.
type PageStatus = domain.PageStatus

const (
	StatusSuccess = domain.StatusSuccess
	StatusError   = domain.StatusError
)

// Well-known model identifiers.
const (
	ModelGPT4o        = domain.ModelGPT4o
	ModelGPT4oMini    = domain.ModelGPT4oMini
	ModelGPT41        = domain.ModelGPT41
	ModelGPT5         = domain.ModelGPT5
	ModelO3           = domain.ModelO3
	ModelO4Mini       = domain.ModelO4Mini
	ModelGeminiFlash  = domain.ModelGeminiFlash
	ModelGeminiPro    = domain.ModelGeminiPro
	ModelClaudeSonnet = domain.ModelClaudeSonnet
	ModelClaudeHaiku  = domain.ModelClaudeHaiku
)

// Default option values applied by Run.
const (
	DefaultModel        = domain.DefaultModel
	DefaultProvider     = domain.DefaultProvider
	DefaultConcurrency  = domain.DefaultConcurrency
	DefaultMaxRetries   = domain.DefaultMaxRetries
	DefaultMaxImageSize = domain.DefaultMaxImageSize
)

// Error is the error type returned by Run; inspect its kind with
// IsKind or errors.As.
type Error = domain.Error

// ErrorKind classifies an Error by the pipeline stage that produced it.
type ErrorKind = domain.ErrorKind

const (
	KindConfig        = domain.KindConfig
	KindAcquisition   = domain.KindAcquisition
	KindConversion    = domain.KindConversion
	KindRasterization = domain.KindRasterization
	KindOCR           = domain.KindOCR
	KindExtraction    = domain.KindExtraction
	KindSchema        = domain.KindSchema
)

// IsKind reports whether err is a pipeline Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return domain.IsKind(err, kind)
}

// OCRRequest is the per-page payload handed to a CustomModelFunction.
type OCRRequest = domain.OCRRequest

// ModelResponse is what a CustomModelFunction returns.
type ModelResponse = domain.ModelResponse

// CustomModelFunc replaces the built-in model call during OCR.
type CustomModelFunc = domain.CustomModelFunc

// Bool returns a pointer to b, for optional boolean options.
func Bool(b bool) *bool { return domain.Bool(b) }

// Int returns a pointer to i, for optional integer options.
func Int(i int) *int { return domain.Int(i) }

// Float64 returns a pointer to f, for optional float options.
func Float64(f float64) *float64 { return domain.Float64(f) }
