package domain

// PageStatus marks the terminal state of a page
type PageStatus string

const (
	StatusSuccess PageStatus = "SUCCESS"
	StatusError   PageStatus = "ERROR"
)

// Page is one processed page: a rasterized image for document sources,
// or one sheet for structured-data sources.
//
// ContentLength is the length of Content after code-fence stripping.
// A SUCCESS page carries no Error; an ERROR page carries empty Content.
type Page struct {
	Page          int        `json:"page"`
	Content       string     `json:"content"`
	ContentLength int        `json:"contentLength"`
	Status        PageStatus `json:"status"`
	Error         string     `json:"error,omitempty"`
}

// TopLogprob is one alternative token at a position
type TopLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// TokenLogprob is the log probability of one emitted token
type TokenLogprob struct {
	Token       string       `json:"token"`
	Logprob     float64      `json:"logprob"`
	TopLogprobs []TopLogprob `json:"topLogprobs,omitempty"`
}

// PageLogprobs holds the token logprobs for one page. A nil Page
// identifies the full-document extraction call.
type PageLogprobs struct {
	Page  *int           `json:"page"`
	Value []TokenLogprob `json:"value"`
}

// ResultLogprobs groups logprobs by pipeline stage
type ResultLogprobs struct {
	OCR       []PageLogprobs `json:"ocr,omitempty"`
	Extracted []PageLogprobs `json:"extracted,omitempty"`
}

// Counts is a successful/failed tally for one stage
type Counts struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Summary reports per-stage outcomes so callers can detect partial
// success without inspecting every page.
type Summary struct {
	TotalPages int     `json:"totalPages"`
	OCR        *Counts `json:"ocr,omitempty"`
	Extracted  *Counts `json:"extracted,omitempty"`
}

// Result is the output of one pipeline run
type Result struct {
	CompletionTime int64           `json:"completionTime"` // milliseconds
	FileName       string          `json:"fileName"`
	InputTokens    int             `json:"inputTokens"`
	OutputTokens   int             `json:"outputTokens"`
	Pages          []Page          `json:"pages"`
	Extracted      map[string]any  `json:"extracted,omitempty"`
	Logprobs       *ResultLogprobs `json:"logprobs,omitempty"`
	Summary        Summary         `json:"summary"`
}

// PageImage pairs a rendered page image with its 1-based source page
// number. Numbers are not contiguous when a page subset was selected.
type PageImage struct {
	Number int
	Path   string
}

// ExtractionInput is the tagged input for one extraction call: text
// only, images only, or both (hybrid).
type ExtractionInput struct {
	Text       string
	ImagePaths []string
}

// IsHybrid reports whether both text and images are present
func (in ExtractionInput) IsHybrid() bool {
	return in.Text != "" && len(in.ImagePaths) > 0
}
