package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/spherical/docmark"
)

func runConvert(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load() // ignore error if .env doesn't exist

	log := newLogger(flagVerbose)

	opts, err := buildOptions(args[0], &log)
	if err != nil {
		return err
	}

	// Graceful shutdown on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	var (
		bar     *progressbar.ProgressBar
		barOnce sync.Once
	)
	if !flagNoProgress && !flagVerbose {
		opts.OnProgress = func(completed, total int) {
			barOnce.Do(func() { bar = newProgressBar(total) })
			_ = bar.Add(1)
		}
	}

	result, err := docmark.Run(ctx, opts)
	if bar != nil {
		if err == nil {
			_ = bar.Finish()
		}
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	return writeOutput(result)
}

func buildOptions(source string, log *zerolog.Logger) (docmark.Options, error) {
	creds, err := resolveCredentials()
	if err != nil {
		return docmark.Options{}, err
	}

	opts := docmark.Options{
		FilePath:      source,
		Credentials:   creds,
		Model:         flagModel,
		ModelProvider: docmark.Provider(strings.ToUpper(flagProvider)),

		Concurrency:        flagConcurrency,
		ErrorMode:          docmark.ErrorMode(strings.ToUpper(flagErrorMode)),
		MaintainFormat:     flagMaintainFormat,
		MaxRetries:         docmark.Int(flagRetries),
		Cleanup:            docmark.Bool(!flagKeepTemp),
		CorrectOrientation: docmark.Bool(!flagNoOrientation),
		TrimEdges:          docmark.Bool(!flagNoTrim),

		ImageDensity:           flagDensity,
		ImageHeight:            flagHeight,
		MaxImageSize:           docmark.Float64(flagMaxImageSize),
		PagesToConvertAsImages: flagPages,
		TempDir:                flagTempDir,
		OutputDir:              flagOutputDir,

		Prompt: flagPrompt,

		ExtractPerPage:         flagPerPage,
		ExtractOnly:            flagExtractOnly,
		DirectImageExtraction:  flagDirectImage,
		EnableHybridExtraction: flagHybrid,
		ExtractionModel:        flagExtractionModel,
		ExtractionPrompt:       flagExtractionPrompt,

		Logger: log,
	}

	if flagSchemaFile != "" {
		schema, err := loadSchema(flagSchemaFile)
		if err != nil {
			return docmark.Options{}, err
		}
		opts.Schema = schema
	}
	if flagLLMParams != "" {
		params := map[string]any{}
		if err := json.Unmarshal([]byte(flagLLMParams), &params); err != nil {
			return docmark.Options{}, fmt.Errorf("parsing --llm-params: %w", err)
		}
		opts.LLMParams = params
	}

	return opts, nil
}

// resolveCredentials assembles the credential variant matching the
// provider, falling back from flags to well-known environment
// variables. The library itself never touches the environment.
func resolveCredentials() (docmark.Credentials, error) {
	provider := docmark.Provider(strings.ToUpper(flagProvider))

	if provider == docmark.ProviderBedrock {
		creds := docmark.Credentials{
			AccessKeyID:     firstNonEmpty(flagAWSAccessKey, os.Getenv("AWS_ACCESS_KEY_ID")),
			SecretAccessKey: firstNonEmpty(flagAWSSecretKey, os.Getenv("AWS_SECRET_ACCESS_KEY")),
			SessionToken:    firstNonEmpty(flagAWSSessionToken, os.Getenv("AWS_SESSION_TOKEN")),
			Region:          firstNonEmpty(flagAWSRegion, os.Getenv("AWS_REGION")),
		}
		if !creds.HasAWS() {
			return docmark.Credentials{}, fmt.Errorf("BEDROCK needs --aws-access-key and --aws-secret-key (or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY)")
		}
		return creds, nil
	}

	if flagServiceAccount != "" {
		doc, err := os.ReadFile(flagServiceAccount)
		if err != nil {
			return docmark.Credentials{}, fmt.Errorf("reading service account file: %w", err)
		}
		return docmark.Credentials{ServiceAccountJSON: string(doc), Location: flagLocation}, nil
	}

	key := flagAPIKey
	if key == "" {
		for _, name := range apiKeyEnvVars(provider) {
			if v := os.Getenv(name); v != "" {
				key = v
				break
			}
		}
	}
	if key == "" {
		return docmark.Credentials{}, fmt.Errorf("missing API key: pass --api-key or set %s", strings.Join(apiKeyEnvVars(provider), " or "))
	}

	endpoint := flagEndpoint
	if endpoint == "" && provider == docmark.ProviderAzure {
		endpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")
	}
	return docmark.Credentials{APIKey: key, Endpoint: endpoint}, nil
}

func apiKeyEnvVars(provider docmark.Provider) []string {
	switch provider {
	case docmark.ProviderAzure:
		return []string{"AZURE_OPENAI_API_KEY"}
	case docmark.ProviderGoogle:
		return []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	default:
		return []string{"OPENAI_API_KEY"}
	}
}

func loadSchema(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	schema := map[string]any{}
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	return schema, nil
}

// writeOutput prints the primary artifact to stdout: the joined
// Markdown, the extracted JSON, or with --json the whole result.
// Everything else goes to stderr.
func writeOutput(res *docmark.Result) error {
	if flagJSON {
		payload, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		if flagOutputDir != "" {
			path := filepath.Join(flagOutputDir, res.FileName+".json")
			if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
				return fmt.Errorf("writing result JSON: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Result written to %s\n", path)
			return nil
		}
		fmt.Println(string(payload))
		return nil
	}

	if flagOutputDir != "" {
		fmt.Fprintf(os.Stderr, "Markdown written to %s\n", filepath.Join(flagOutputDir, res.FileName+".md"))
	} else if !flagExtractOnly {
		parts := make([]string, 0, len(res.Pages))
		for _, page := range res.Pages {
			if page.Content != "" {
				parts = append(parts, page.Content)
			}
		}
		fmt.Println(strings.Join(parts, "\n\n"))
	}

	if res.Extracted != nil {
		payload, err := json.MarshalIndent(res.Extracted, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding extracted data: %w", err)
		}
		fmt.Println(string(payload))
	}
	return nil
}

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("converting pages"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
	)
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
