// Package extract turns OCR output, page images, or both into a JSON
// object conforming to a caller-supplied schema. Per-page properties
// are gathered as {page, value} lists; full-document properties come
// back as bare values.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/docmark/internal/domain"
	"github.com/spherical/docmark/internal/llm"
	"github.com/spherical/docmark/internal/retry"
	"github.com/spherical/docmark/internal/schema"
)

// pageSeparator joins page texts for the full-document call
const pageSeparator = "\n<hr><hr>\n"

// Config wires the extraction driver
type Config struct {
	Completer   domain.Completer
	Concurrency int
	MaxRetries  int
	Prompt      string
	Log         zerolog.Logger
}

// Input is the material extraction draws from. Pages hold the OCR or
// sheet text; ImagePaths are the page images aligned with Pages by
// position. DirectImage feeds the model images instead of text,
// Hybrid both.
type Input struct {
	Pages       []domain.Page
	ImagePaths  []string
	DirectImage bool
	Hybrid      bool
}

// pageNumber is the source page number for position i. Pages carry the
// authoritative numbers; image-only input falls back to position.
func (in Input) pageNumber(i int) int {
	if i < len(in.Pages) {
		return in.Pages[i].Page
	}
	return i + 1
}

// Result is the merged outcome of all extraction tasks
type Result struct {
	Extracted    map[string]any
	Logprobs     []domain.PageLogprobs
	InputTokens  int
	OutputTokens int
	Successful   int
	Failed       int
}

// Driver fans extraction tasks out over the completer
type Driver struct {
	cfg Config
}

func New(cfg Config) *Driver {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Driver{cfg: cfg}
}

// task is one extraction call. page is zero for the full-document
// task, 1-based otherwise.
type task struct {
	page   int
	input  domain.ExtractionInput
	schema map[string]any
}

type taskResult struct {
	page     int
	value    map[string]any
	logprobs []domain.TokenLogprob
}

// Run executes the per-page tasks and the optional full-document task
// concurrently and merges their outputs. Unlike OCR there is no
// ignore mode: any task failing after retries fails the run.
func (d *Driver) Run(ctx context.Context, part schema.Partition, in Input) (*Result, error) {
	tasks := d.buildTasks(part, in)
	if len(tasks) == 0 {
		return &Result{Extracted: map[string]any{}}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*taskResult, len(tasks))
	var (
		inputTokens  atomic.Int64
		outputTokens atomic.Int64

		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	abort := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		cancel()
	}

	sem := make(chan struct{}, d.cfg.Concurrency)
	for i, tk := range tasks {
		wg.Add(1)
		go func(idx int, tk task) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				abort(ctx.Err())
				return
			}
			defer func() { <-sem }()

			res, used, err := d.runTask(ctx, tk)
			inputTokens.Add(int64(used.in))
			outputTokens.Add(int64(used.out))
			if err != nil {
				abort(err)
				return
			}
			results[idx] = res
		}(i, tk)
	}
	wg.Wait()

	if firstErr != nil {
		if !domain.IsKind(firstErr, domain.KindExtraction) {
			firstErr = domain.ExtractionError("extraction failed", firstErr)
		}
		return nil, firstErr
	}

	res := d.merge(results)
	res.InputTokens = int(inputTokens.Load())
	res.OutputTokens = int(outputTokens.Load())
	res.Successful = len(tasks)
	return res, nil
}

func (d *Driver) buildTasks(part schema.Partition, in Input) []task {
	var tasks []task
	if part.PerPage != nil {
		tasks = append(tasks, d.perPageTasks(part.PerPage, in)...)
	}
	if part.FullDoc != nil {
		tasks = append(tasks, task{input: d.fullDocInput(in), schema: part.FullDoc})
	}
	return tasks
}

func (d *Driver) perPageTasks(sch map[string]any, in Input) []task {
	var tasks []task
	switch {
	case in.DirectImage:
		for i, path := range in.ImagePaths {
			tasks = append(tasks, task{
				page:   in.pageNumber(i),
				input:  domain.ExtractionInput{ImagePaths: []string{path}},
				schema: sch,
			})
		}
	case in.Hybrid:
		for i, page := range in.Pages {
			input := domain.ExtractionInput{Text: page.Content}
			if i < len(in.ImagePaths) {
				input.ImagePaths = []string{in.ImagePaths[i]}
			}
			tasks = append(tasks, task{page: page.Page, input: input, schema: sch})
		}
	default:
		for _, page := range in.Pages {
			tasks = append(tasks, task{
				page:   page.Page,
				input:  domain.ExtractionInput{Text: page.Content},
				schema: sch,
			})
		}
	}
	return tasks
}

func (d *Driver) fullDocInput(in Input) domain.ExtractionInput {
	switch {
	case in.DirectImage:
		return domain.ExtractionInput{ImagePaths: in.ImagePaths}
	case in.Hybrid:
		return domain.ExtractionInput{ImagePaths: in.ImagePaths, Text: joinPages(in.Pages)}
	default:
		return domain.ExtractionInput{Text: joinPages(in.Pages)}
	}
}

type tokens struct{ in, out int }

func (d *Driver) runTask(ctx context.Context, tk task) (*taskResult, tokens, error) {
	start := time.Now()
	tag := "extract document"
	if tk.page > 0 {
		tag = fmt.Sprintf("extract page %d", tk.page)
	}

	var resp *domain.ModelResponse
	op := func(ctx context.Context) error {
		var cerr error
		resp, cerr = d.cfg.Completer.Complete(ctx, domain.CompletionRequest{
			Mode: domain.ModeExtraction,
			Extraction: &domain.ExtractionRequest{
				Input:  tk.input,
				Schema: tk.schema,
				Prompt: d.cfg.Prompt,
			},
		})
		return cerr
	}
	if err := retry.Do(ctx, d.cfg.Log, tag, d.cfg.MaxRetries, op); err != nil {
		return nil, tokens{}, err
	}

	value, err := llm.ProcessExtraction(resp.Content)
	used := tokens{in: resp.InputTokens, out: resp.OutputTokens}
	if err != nil {
		return nil, used, err
	}
	d.cfg.Log.Debug().
		Str("task", tag).
		Dur("duration", time.Since(start)).
		Msg("extraction task complete")
	return &taskResult{page: tk.page, value: value, logprobs: resp.Logprobs}, used, nil
}

// merge folds task outputs into the final object. Tasks are ordered
// pages-ascending with the full-document task last, so per-page lists
// come out in page order and full-document values win conflicts.
func (d *Driver) merge(results []*taskResult) *Result {
	res := &Result{Extracted: make(map[string]any)}
	perPage := make(map[string][]any)
	var fullDoc map[string]any

	for _, r := range results {
		if r == nil {
			continue
		}
		if r.page == 0 {
			fullDoc = r.value
		} else {
			for name, v := range r.value {
				if v == nil {
					continue
				}
				perPage[name] = append(perPage[name], map[string]any{"page": r.page, "value": v})
			}
		}
		if len(r.logprobs) > 0 {
			lp := domain.PageLogprobs{Value: r.logprobs}
			if r.page > 0 {
				p := r.page
				lp.Page = &p
			}
			res.Logprobs = append(res.Logprobs, lp)
		}
	}

	for name, entries := range perPage {
		res.Extracted[name] = entries
	}
	for name, v := range fullDoc {
		res.Extracted[name] = v
	}
	return res
}

func joinPages(pages []domain.Page) string {
	contents := make([]string, len(pages))
	for i, p := range pages {
		contents[i] = p.Content
	}
	return strings.Join(contents, pageSeparator)
}
