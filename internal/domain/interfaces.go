package domain

import "context"

// CompletionMode selects what a model call produces
type CompletionMode string

const (
	ModeOCR        CompletionMode = "OCR"
	ModeExtraction CompletionMode = "EXTRACTION"
)

// OCRRequest asks a vision model to render page images as Markdown.
// Buffers are PNG-encoded page images. When MaintainFormat is set,
// PriorPage carries the previous page's Markdown so the model keeps
// formatting consistent across pages.
type OCRRequest struct {
	Buffers        [][]byte
	MaintainFormat bool
	PriorPage      string
	Prompt         string
}

// ExtractionRequest asks a model for JSON conforming to Schema
type ExtractionRequest struct {
	Input  ExtractionInput
	Schema map[string]any
	Prompt string
}

// CompletionRequest is the mode-tagged argument of Completer.Complete.
// Exactly one of OCR and Extraction is set, matching Mode.
type CompletionRequest struct {
	Mode       CompletionMode
	OCR        *OCRRequest
	Extraction *ExtractionRequest
}

// ModelResponse is the raw adapter output before normalization
type ModelResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Logprobs     []TokenLogprob
}

// Completer is the uniform capability over the provider families.
// Adapters build provider-specific messages (images first, then the
// carry-over block, then the prompt) and report token usage.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*ModelResponse, error)
}

// CustomModelFunc substitutes for the provider adapter in OCR. It is
// still wrapped by the retry runner and the completion processor, so
// downstream invariants hold.
type CustomModelFunc func(ctx context.Context, req OCRRequest) (*ModelResponse, error)
