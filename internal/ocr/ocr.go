// Package ocr drives the per-page conversion loop: read, clean,
// complete under the retry budget, process. Pages run concurrently
// under a bounded semaphore unless format maintenance forces strict
// order.
package ocr

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/docmark/internal/domain"
	"github.com/spherical/docmark/internal/llm"
	"github.com/spherical/docmark/internal/retry"
)

// CleanupFunc normalizes one raw page image into model-ready buffers.
// It usually splits nothing and returns a single buffer.
type CleanupFunc func(ctx context.Context, data []byte) ([][]byte, error)

// Config assembles the driver's collaborators and budgets
type Config struct {
	Completer  domain.Completer
	CustomFunc domain.CustomModelFunc // replaces Completer for OCR when set
	Cleanup    CleanupFunc            // nil passes images through untouched

	MaintainFormat bool
	Concurrency    int
	MaxRetries     int
	ErrorMode      domain.ErrorMode
	Prompt         string

	// Progress, when set, is called after each page settles with the
	// completed and total counts. Concurrent runs call it from several
	// goroutines.
	Progress func(completed, total int)

	Log zerolog.Logger
}

// Result is the outcome of one OCR run
type Result struct {
	Pages        []domain.Page
	Logprobs     []domain.PageLogprobs
	InputTokens  int
	OutputTokens int
	Successful   int
	Failed       int
}

// Driver runs the conversion loop
type Driver struct {
	cfg Config
}

// New creates a Driver; a non-positive concurrency becomes 1
func New(cfg Config) *Driver {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Driver{cfg: cfg}
}

// Run converts the ordered page images to Markdown pages. Result pages
// carry the source page numbers, which are not contiguous when a page
// subset was rendered. Under MaintainFormat pages run strictly in order
// and a failure halts the remainder; otherwise pages run concurrently
// and ErrorMode decides whether a failed page aborts the run or becomes
// an error page.
func (d *Driver) Run(ctx context.Context, images []domain.PageImage) (*Result, error) {
	if len(images) == 0 {
		return &Result{Pages: []domain.Page{}}, nil
	}
	if d.cfg.MaintainFormat {
		return d.runSequential(ctx, images)
	}
	return d.runConcurrent(ctx, images)
}

func (d *Driver) runSequential(ctx context.Context, images []domain.PageImage) (*Result, error) {
	res := &Result{}
	prior := ""
	for i, img := range images {
		page, logprobs, in, out, err := d.processPage(ctx, img.Number, img.Path, prior)
		res.InputTokens += in
		res.OutputTokens += out
		if err != nil {
			if d.cfg.ErrorMode == domain.ErrorModeThrow {
				return nil, err
			}
			// Format carryover is broken; stop converting but keep
			// what succeeded so extraction can still run.
			res.Pages = append(res.Pages, errorPage(img.Number, err))
			res.Failed++
			d.reportProgress(i+1, len(images))
			d.cfg.Log.Error().Err(err).Int("page", img.Number).Msg("halting format-maintained conversion")
			break
		}
		res.Pages = append(res.Pages, page)
		res.Logprobs = appendPageLogprobs(res.Logprobs, img.Number, logprobs)
		res.Successful++
		d.reportProgress(i+1, len(images))
		prior = page.Content
	}
	return res, nil
}

func (d *Driver) runConcurrent(ctx context.Context, images []domain.PageImage) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pages := make([]domain.Page, len(images))
	pageLogprobs := make([][]domain.TokenLogprob, len(images))
	var inputTokens, outputTokens, completed atomic.Int64

	var (
		firstErrMu sync.Mutex
		firstErr   error
	)
	abort := func(err error) {
		firstErrMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		firstErrMu.Unlock()
		cancel()
	}

	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		go func(idx int, img domain.PageImage) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				pages[idx] = errorPage(img.Number, ctx.Err())
				return
			}
			defer func() { <-sem }()

			page, logprobs, in, out, err := d.processPage(ctx, img.Number, img.Path, "")
			inputTokens.Add(int64(in))
			outputTokens.Add(int64(out))
			if err != nil {
				if d.cfg.ErrorMode == domain.ErrorModeThrow {
					abort(err)
				}
				pages[idx] = errorPage(img.Number, err)
				d.reportProgress(int(completed.Add(1)), len(images))
				return
			}
			pages[idx] = page
			pageLogprobs[idx] = logprobs
			d.reportProgress(int(completed.Add(1)), len(images))
		}(i, img)
	}
	wg.Wait()

	if firstErr != nil {
		// In-flight work has drained; results are discarded.
		return nil, firstErr
	}

	res := &Result{
		Pages:        pages,
		InputTokens:  int(inputTokens.Load()),
		OutputTokens: int(outputTokens.Load()),
	}
	for i, page := range pages {
		if page.Status == domain.StatusSuccess {
			res.Successful++
			res.Logprobs = appendPageLogprobs(res.Logprobs, images[i].Number, pageLogprobs[i])
		} else {
			res.Failed++
		}
	}
	return res, nil
}

func (d *Driver) processPage(ctx context.Context, pageNum int, path, prior string) (domain.Page, []domain.TokenLogprob, int, int, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Page{}, nil, 0, 0, domain.OCRError(fmt.Sprintf("reading page %d image", pageNum), err)
	}
	buffers := [][]byte{data}
	if d.cfg.Cleanup != nil {
		buffers, err = d.cfg.Cleanup(ctx, data)
		if err != nil {
			return domain.Page{}, nil, 0, 0, domain.OCRError(fmt.Sprintf("preparing page %d image", pageNum), err)
		}
	}

	req := domain.OCRRequest{
		Buffers:        buffers,
		MaintainFormat: d.cfg.MaintainFormat,
		PriorPage:      prior,
		Prompt:         d.cfg.Prompt,
	}

	var resp *domain.ModelResponse
	op := func(ctx context.Context) error {
		var cerr error
		resp, cerr = d.complete(ctx, req)
		return cerr
	}
	if err := retry.Do(ctx, d.cfg.Log, fmt.Sprintf("ocr page %d", pageNum), d.cfg.MaxRetries, op); err != nil {
		if !domain.IsKind(err, domain.KindOCR) {
			err = domain.OCRError(fmt.Sprintf("page %d conversion failed", pageNum), err)
		}
		return domain.Page{}, nil, 0, 0, err
	}

	content, length := llm.ProcessOCR(resp.Content)
	d.cfg.Log.Debug().
		Int("page", pageNum).
		Int("contentLength", length).
		Dur("duration", time.Since(start)).
		Msg("converted page")

	return domain.Page{
		Page:          pageNum,
		Content:       content,
		ContentLength: length,
		Status:        domain.StatusSuccess,
	}, resp.Logprobs, resp.InputTokens, resp.OutputTokens, nil
}

func (d *Driver) complete(ctx context.Context, req domain.OCRRequest) (*domain.ModelResponse, error) {
	if d.cfg.CustomFunc != nil {
		return d.cfg.CustomFunc(ctx, req)
	}
	return d.cfg.Completer.Complete(ctx, domain.CompletionRequest{Mode: domain.ModeOCR, OCR: &req})
}

func (d *Driver) reportProgress(completed, total int) {
	if d.cfg.Progress != nil {
		d.cfg.Progress(completed, total)
	}
}

func errorPage(pageNum int, err error) domain.Page {
	return domain.Page{
		Page:   pageNum,
		Status: domain.StatusError,
		Error:  err.Error(),
	}
}

func appendPageLogprobs(list []domain.PageLogprobs, pageNum int, logprobs []domain.TokenLogprob) []domain.PageLogprobs {
	if len(logprobs) == 0 {
		return list
	}
	page := pageNum
	return append(list, domain.PageLogprobs{Page: &page, Value: logprobs})
}
