// Package tesspool bounds concurrent Tesseract orientation detection.
// The pool starts small, grows lazily up to the page count, and is
// torn down by the pipeline's release block.
package tesspool

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// startingWorkers is the initial pool size unless capped lower
const startingWorkers = 3

// Orientation is one OSD verdict. Rotate is the clockwise rotation
// Tesseract suggests to bring the page upright (0, 90, 180 or 270).
type Orientation struct {
	Rotate     int
	Confidence float64
}

// Engine detects page orientation for one worker slot
type Engine interface {
	DetectOrientation(ctx context.Context, png []byte) (Orientation, error)
	Close() error
}

// EngineFactory creates a worker engine
type EngineFactory func() (Engine, error)

// Pool is a bounded, lazily grown set of OSD workers
type Pool struct {
	factory EngineFactory
	log     zerolog.Logger
	cap     int

	mu      sync.Mutex
	engines []Engine
	closed  bool

	idle chan Engine
}

// New creates a pool for up to numImages pages. maxWorkers caps the
// pool when positive; -1 leaves sizing to the page count. The initial
// workers are created eagerly so the first pages never wait on cold
// start.
func New(factory EngineFactory, numImages, maxWorkers int, log zerolog.Logger) (*Pool, error) {
	capacity := numImages
	if capacity < 1 {
		capacity = 1
	}
	if maxWorkers > 0 && maxWorkers < capacity {
		capacity = maxWorkers
	}
	initial := startingWorkers
	if initial > capacity {
		initial = capacity
	}

	p := &Pool{
		factory: factory,
		log:     log,
		cap:     capacity,
		idle:    make(chan Engine, capacity),
	}
	for i := 0; i < initial; i++ {
		eng, err := factory()
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.engines = append(p.engines, eng)
		p.idle <- eng
	}
	log.Debug().Int("workers", initial).Int("cap", capacity).Msg("tesseract pool ready")
	return p, nil
}

// Detect runs orientation detection on png using any available worker,
// growing the pool if every worker is busy and capacity remains.
func (p *Pool) Detect(ctx context.Context, png []byte) (Orientation, error) {
	eng, err := p.acquire(ctx)
	if err != nil {
		return Orientation{}, err
	}
	defer p.release(eng)
	return eng.DetectOrientation(ctx, png)
}

func (p *Pool) acquire(ctx context.Context) (Engine, error) {
	select {
	case eng := <-p.idle:
		return eng, nil
	default:
	}

	// No idle worker; grow if capacity remains.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("tesseract pool is closed")
	}
	if len(p.engines) < p.cap {
		eng, err := p.factory()
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.engines = append(p.engines, eng)
		size := len(p.engines)
		p.mu.Unlock()
		p.log.Debug().Int("workers", size).Msg("tesseract pool grew")
		return eng, nil
	}
	p.mu.Unlock()

	select {
	case eng := <-p.idle:
		return eng, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) release(eng Engine) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	select {
	case p.idle <- eng:
	default:
		// Pool shrank under close; the engine is already tracked and
		// will be closed there.
	}
}

// Size reports how many workers exist
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.engines)
}

// Close terminates every worker. Safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	engines := p.engines
	p.mu.Unlock()

	var first error
	for _, eng := range engines {
		if err := eng.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.log.Debug().Int("workers", len(engines)).Msg("tesseract pool closed")
	return first
}
