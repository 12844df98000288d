package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical/docmark"
)

var version = "0.1.0"

var (
	flagProvider string
	flagModel    string
	flagAPIKey   string
	flagEndpoint string

	flagAWSAccessKey    string
	flagAWSSecretKey    string
	flagAWSSessionToken string
	flagAWSRegion       string

	flagServiceAccount string
	flagLocation       string

	flagConcurrency    int
	flagRetries        int
	flagErrorMode      string
	flagMaintainFormat bool
	flagNoOrientation  bool
	flagNoTrim         bool
	flagKeepTemp       bool
	flagTempDir        string

	flagDensity      int
	flagHeight       int
	flagMaxImageSize float64
	flagPages        []int

	flagPrompt    string
	flagLLMParams string

	flagSchemaFile       string
	flagPerPage          []string
	flagExtractOnly      bool
	flagDirectImage      bool
	flagHybrid           bool
	flagExtractionModel  string
	flagExtractionPrompt string

	flagOutputDir  string
	flagJSON       bool
	flagNoProgress bool
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "docmark <file-or-url>",
	Short: "Convert documents to Markdown with vision-capable language models",
	Long: `docmark converts PDFs, office documents and images to Markdown by
rasterizing each page and sending it to a vision-capable language
model. Spreadsheets are rendered directly from their cell data. With
--schema, structured JSON is additionally extracted from the
converted pages.

Credentials come from flags first, then the environment
(OPENAI_API_KEY, AZURE_OPENAI_API_KEY, GEMINI_API_KEY or
GOOGLE_API_KEY, AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY). A .env file
in the working directory is loaded if present.`,
	Example: `  docmark invoice.pdf
  docmark --output-dir ./out --pages 1,3 report.pdf
  docmark --schema invoice.schema.json --json invoice.pdf
  docmark --provider GOOGLE --model gemini-2.0-flash scan.png`,
	Version:      version,
	Args:         cobra.ExactArgs(1),
	RunE:         runConvert,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.Flags()

	f.StringVar(&flagProvider, "provider", string(docmark.DefaultProvider), "model provider: OPENAI, AZURE, GOOGLE or BEDROCK")
	f.StringVarP(&flagModel, "model", "m", docmark.DefaultModel, "model identifier")
	f.StringVar(&flagAPIKey, "api-key", "", "API key (OPENAI, AZURE, GOOGLE)")
	f.StringVar(&flagEndpoint, "endpoint", "", "base URL override, or the Azure resource endpoint")

	f.StringVar(&flagAWSAccessKey, "aws-access-key", "", "AWS access key ID (BEDROCK)")
	f.StringVar(&flagAWSSecretKey, "aws-secret-key", "", "AWS secret access key (BEDROCK)")
	f.StringVar(&flagAWSSessionToken, "aws-session-token", "", "AWS session token (BEDROCK, optional)")
	f.StringVar(&flagAWSRegion, "aws-region", "", "AWS region (BEDROCK)")

	f.StringVar(&flagServiceAccount, "service-account", "", "path to a Google service account JSON file (Vertex)")
	f.StringVar(&flagLocation, "location", "", "Vertex location, e.g. us-central1")

	f.IntVar(&flagConcurrency, "concurrency", docmark.DefaultConcurrency, "pages converted in parallel")
	f.IntVar(&flagRetries, "retries", docmark.DefaultMaxRetries, "retries per failed model call")
	f.StringVar(&flagErrorMode, "error-mode", string(docmark.ErrorModeIgnore), "per-page failure handling: IGNORE or THROW")
	f.BoolVar(&flagMaintainFormat, "maintain-format", false, "convert pages in order, feeding each page the prior one")
	f.BoolVar(&flagNoOrientation, "no-orientation", false, "skip Tesseract orientation correction")
	f.BoolVar(&flagNoTrim, "no-trim", false, "keep uniform page borders")
	f.BoolVar(&flagKeepTemp, "keep-temp", false, "keep the temp directory after the run")
	f.StringVar(&flagTempDir, "temp-dir", "", "root for the per-run temp directory")

	f.IntVar(&flagDensity, "density", 0, "render DPI for PDF pages (0 uses the rasterizer default)")
	f.IntVar(&flagHeight, "height", 0, "target page height in pixels (0 keeps natural size)")
	f.Float64Var(&flagMaxImageSize, "max-image-size", docmark.DefaultMaxImageSize, "recompress page images above this many megabytes (0 disables)")
	f.IntSliceVar(&flagPages, "pages", nil, "1-based pages to convert, e.g. 1,3,5 (default all)")

	f.StringVar(&flagPrompt, "prompt", "", "replace the built-in OCR system prompt")
	f.StringVar(&flagLLMParams, "llm-params", "", "extra model parameters as inline JSON, e.g. '{\"temperature\":0.2}'")

	f.StringVar(&flagSchemaFile, "schema", "", "path to a JSON Schema file for structured extraction")
	f.StringSliceVar(&flagPerPage, "per-page", nil, "schema properties extracted per page instead of once per document")
	f.BoolVar(&flagExtractOnly, "extract-only", false, "skip Markdown conversion and extract straight from page images")
	f.BoolVar(&flagDirectImage, "direct-image", false, "extract from page images instead of converted text")
	f.BoolVar(&flagHybrid, "hybrid", false, "extract from converted text and page images together")
	f.StringVar(&flagExtractionModel, "extraction-model", "", "model for extraction (default: the OCR model)")
	f.StringVar(&flagExtractionPrompt, "extraction-prompt", "", "replace the built-in extraction system prompt")

	f.StringVarP(&flagOutputDir, "output-dir", "o", "", "write the joined Markdown into this directory")
	f.BoolVar(&flagJSON, "json", false, "emit the full result as JSON")
	f.BoolVar(&flagNoProgress, "no-progress", false, "disable the per-page progress bar")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
