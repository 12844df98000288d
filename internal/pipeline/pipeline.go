// Package pipeline drives one document run end to end: acquire the
// source, rasterize it (or read it as a workbook), clean and OCR the
// pages, extract structured data, and assemble the result. Resource
// lifecycles (the run's temp directory, the Tesseract pool) begin and
// end here.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spherical/docmark/internal/acquire"
	"github.com/spherical/docmark/internal/domain"
	"github.com/spherical/docmark/internal/extract"
	"github.com/spherical/docmark/internal/imgprep"
	"github.com/spherical/docmark/internal/llm"
	"github.com/spherical/docmark/internal/ocr"
	"github.com/spherical/docmark/internal/raster"
	"github.com/spherical/docmark/internal/schema"
	"github.com/spherical/docmark/internal/sheets"
	"github.com/spherical/docmark/internal/tesspool"
)

// Run validates opts, executes the pipeline and returns the assembled
// result. The run's temp directory and Tesseract workers are released
// on every exit path.
func Run(ctx context.Context, opts domain.Options) (*domain.Result, error) {
	start := time.Now()

	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.Normalized()

	// Split the schema before any expensive stage so a bad one fails
	// the run immediately.
	var part schema.Partition
	if opts.Schema != nil {
		var err error
		part, err = schema.Split(opts.Schema, opts.ExtractPerPage)
		if err != nil {
			return nil, err
		}
	}

	tempRoot := opts.TempDir
	if tempRoot == "" {
		tempRoot = os.TempDir()
	}
	runDir := filepath.Join(tempRoot, "docmark-"+uuid.NewString())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	r := &run{
		opts: opts,
		log:  *opts.Logger,
		dir:  runDir,
		conv: raster.New(opts.LibreOfficePath, opts.MagickPath, *opts.Logger),
	}
	defer r.release()

	return r.execute(ctx, part, start)
}

// run holds the state of one pipeline invocation
type run struct {
	opts domain.Options
	log  zerolog.Logger
	dir  string
	conv *raster.Converter
	pool *tesspool.Pool
}

// release tears down the Tesseract pool and the temp directory. It
// runs on every exit path, including aborts.
func (r *run) release() {
	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			r.log.Warn().Err(err).Msg("closing tesseract pool")
		}
	}
	if *r.opts.Cleanup {
		if err := os.RemoveAll(r.dir); err != nil {
			r.log.Warn().Err(err).Str("dir", r.dir).Msg("removing run directory")
		}
	}
}

func (r *run) execute(ctx context.Context, part schema.Partition, start time.Time) (*domain.Result, error) {
	file, err := acquire.New(r.log).Acquire(ctx, r.opts.FilePath, r.dir)
	if err != nil {
		return nil, err
	}

	res := &domain.Result{FileName: sanitizeFileName(r.opts.FilePath)}
	logprobs := &domain.ResultLogprobs{}

	var (
		pages  []domain.Page
		images []domain.PageImage
	)
	// Workbook pages are text already; extraction over them is always
	// text-mode regardless of the image flags.
	sheetInput := sheets.IsSpreadsheet(file.Extension)

	if sheetInput {
		pages, err = r.readSheet(ctx, file)
		if err != nil {
			return nil, err
		}
		r.log.Debug().Int("pages", len(pages)).Msg("workbook read")
	} else {
		images, err = r.conv.Prepare(ctx, *file, r.dir, raster.RenderOptions{
			Density:      r.opts.ImageDensity,
			Height:       r.opts.ImageHeight,
			Pages:        r.opts.PagesToConvertAsImages,
			MaxImageSize: *r.opts.MaxImageSize,
		})
		if err != nil {
			return nil, err
		}
		r.log.Debug().Int("pages", len(images)).Msg("document rasterized")

		if r.opts.ExtractOnly {
			pages = placeholderPages(images)
		} else {
			ocrRes, err := r.ocrStage(ctx, images)
			if err != nil {
				return nil, err
			}
			pages = ocrRes.Pages
			res.InputTokens += ocrRes.InputTokens
			res.OutputTokens += ocrRes.OutputTokens
			res.Summary.OCR = &domain.Counts{Successful: ocrRes.Successful, Failed: ocrRes.Failed}
			logprobs.OCR = ocrRes.Logprobs
		}
	}

	res.Pages = pages
	res.Summary.TotalPages = len(pages)

	if r.opts.Schema != nil {
		exRes, err := r.extractStage(ctx, part, pages, images, sheetInput)
		if err != nil {
			return nil, err
		}
		res.Extracted = exRes.Extracted
		res.InputTokens += exRes.InputTokens
		res.OutputTokens += exRes.OutputTokens
		res.Summary.Extracted = &domain.Counts{Successful: exRes.Successful, Failed: exRes.Failed}
		logprobs.Extracted = exRes.Logprobs
	}

	if len(logprobs.OCR) > 0 || len(logprobs.Extracted) > 0 {
		res.Logprobs = logprobs
	}

	if r.opts.OutputDir != "" {
		if err := writeMarkdown(r.opts.OutputDir, res.FileName, pages); err != nil {
			return nil, err
		}
	}

	res.CompletionTime = time.Since(start).Milliseconds()
	r.log.Info().
		Str("file", res.FileName).
		Int("pages", len(pages)).
		Int64("durationMs", res.CompletionTime).
		Msg("pipeline complete")
	return res, nil
}

// readSheet turns a workbook into text pages, converting legacy
// formats to xlsx first.
func (r *run) readSheet(ctx context.Context, file *acquire.File) ([]domain.Page, error) {
	path, ext := file.LocalPath, file.Extension
	if sheets.NeedsConversion(ext) {
		converted, err := r.conv.OfficeToXLSX(ctx, path, r.dir)
		if err != nil {
			return nil, err
		}
		path, ext = converted, ".xlsx"
	}
	return sheets.Read(path, ext)
}

func (r *run) ocrStage(ctx context.Context, images []domain.PageImage) (*ocr.Result, error) {
	var completer domain.Completer
	if r.opts.CustomModelFunction == nil {
		var err error
		completer, err = llm.New(ctx, r.opts.ModelProvider, r.opts.Model, r.opts.Credentials, r.opts.LLMParams, r.log)
		if err != nil {
			return nil, err
		}
	}

	cleanOpts := imgprep.CleanupOptions{TrimEdges: *r.opts.TrimEdges, Log: r.log}
	if *r.opts.CorrectOrientation {
		pool, err := tesspool.New(r.engineFactory(), len(images), r.opts.MaxTesseractWorkers, r.log)
		if err != nil {
			// Typically a missing tesseract binary. The run proceeds
			// with pages in whatever orientation they arrived.
			r.log.Warn().Err(err).Msg("orientation correction unavailable")
		} else {
			r.pool = pool
			cleanOpts.CorrectOrientation = true
			cleanOpts.Detector = pool
		}
	}

	driver := ocr.New(ocr.Config{
		Completer:  completer,
		CustomFunc: r.opts.CustomModelFunction,
		Cleanup: func(ctx context.Context, data []byte) ([][]byte, error) {
			return imgprep.Cleanup(ctx, data, cleanOpts)
		},
		MaintainFormat: r.opts.MaintainFormat,
		Concurrency:    r.opts.Concurrency,
		MaxRetries:     *r.opts.MaxRetries,
		ErrorMode:      r.opts.ErrorMode,
		Prompt:         r.opts.Prompt,
		Progress:       r.opts.OnProgress,
		Log:            r.log,
	})
	return driver.Run(ctx, images)
}

func (r *run) engineFactory() tesspool.EngineFactory {
	path := r.opts.TesseractPath
	return func() (tesspool.Engine, error) {
		return tesspool.NewCLIEngine(path)
	}
}

func (r *run) extractStage(ctx context.Context, part schema.Partition, pages []domain.Page, images []domain.PageImage, textOnly bool) (*extract.Result, error) {
	completer, err := llm.New(ctx, r.opts.ExtractionModelProvider, r.opts.ExtractionModel, *r.opts.ExtractionCredentials, r.opts.ExtractionLLMParams, r.log)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(images))
	for i, img := range images {
		paths[i] = img.Path
	}
	in := extract.Input{Pages: pages, ImagePaths: paths}
	if !textOnly {
		in.DirectImage = r.opts.DirectImageExtraction
		in.Hybrid = r.opts.EnableHybridExtraction
	}

	driver := extract.New(extract.Config{
		Completer:   completer,
		Concurrency: r.opts.Concurrency,
		MaxRetries:  *r.opts.MaxRetries,
		Prompt:      r.opts.ExtractionPrompt,
		Log:         r.log,
	})
	return driver.Run(ctx, part, in)
}

// placeholderPages stands in for OCR output in extract-only runs
func placeholderPages(images []domain.PageImage) []domain.Page {
	pages := make([]domain.Page, len(images))
	for i, img := range images {
		pages[i] = domain.Page{Page: img.Number, Status: domain.StatusSuccess}
	}
	return pages
}

func writeMarkdown(dir, name string, pages []domain.Page) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	contents := make([]string, len(pages))
	for i, p := range pages {
		contents[i] = p.Content
	}
	path := filepath.Join(dir, name+".md")
	if err := os.WriteFile(path, []byte(strings.Join(contents, "\n\n")), 0o644); err != nil {
		return fmt.Errorf("writing markdown output: %w", err)
	}
	return nil
}

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// sanitizeFileName derives the output stem from the source name:
// non-word characters removed, whitespace collapsed to underscores,
// lowercased, capped at 255 characters.
func sanitizeFileName(source string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = nonWordRe.ReplaceAllString(base, "")
	base = whitespaceRe.ReplaceAllString(base, "_")
	base = strings.ToLower(base)
	if len(base) > 255 {
		base = base[:255]
	}
	if base == "" {
		base = "document"
	}
	return base
}
