package tesspool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	block  chan struct{} // when non-nil, DetectOrientation waits on it
	closed atomic.Bool
}

func (s *stubEngine) DetectOrientation(ctx context.Context, png []byte) (Orientation, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return Orientation{}, ctx.Err()
		}
	}
	return Orientation{Rotate: 90, Confidence: 12.5}, nil
}

func (s *stubEngine) Close() error {
	s.closed.Store(true)
	return nil
}

type stubFactory struct {
	mu      sync.Mutex
	engines []*stubEngine
	block   chan struct{}
}

func (f *stubFactory) new() (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eng := &stubEngine{block: f.block}
	f.engines = append(f.engines, eng)
	return eng, nil
}

func (f *stubFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func TestPool_StartsWithThreeWorkers(t *testing.T) {
	f := &stubFactory{}
	p, err := New(f.new, 10, -1, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 3, p.Size())
}

func TestPool_MaxWorkersCapsBelowMinimum(t *testing.T) {
	f := &stubFactory{}
	p, err := New(f.new, 10, 2, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 2, p.Size())
}

func TestPool_FewPagesCapBelowMinimum(t *testing.T) {
	f := &stubFactory{}
	p, err := New(f.new, 1, -1, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 1, p.Size())
}

func TestPool_GrowsLazilyUpToPageCount(t *testing.T) {
	f := &stubFactory{block: make(chan struct{})}
	p, err := New(f.new, 5, -1, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Detect(ctx, []byte("png"))
		}()
	}

	// All five detections block inside engines, which forces the pool
	// to grow from three workers to the page-count cap.
	require.Eventually(t, func() bool { return p.Size() == 5 }, 2*time.Second, 5*time.Millisecond)

	close(f.block)
	wg.Wait()
	assert.Equal(t, 5, f.created())
}

func TestPool_DoesNotGrowPastCap(t *testing.T) {
	block := make(chan struct{})
	f := &stubFactory{block: block}
	p, err := New(f.new, 10, 3, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Detect(ctx, []byte("png"))
		}()
	}

	// Give the extra detections time to either (incorrectly) grow the
	// pool or queue up on the idle channel.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, p.Size())

	close(block)
	wg.Wait()
}

func TestPool_Close_TerminatesAllWorkers(t *testing.T) {
	f := &stubFactory{}
	p, err := New(f.new, 10, -1, zerolog.Nop())
	require.NoError(t, err)

	_, err = p.Detect(context.Background(), []byte("png"))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	for _, eng := range f.engines {
		assert.True(t, eng.closed.Load())
	}

	// Closing twice is safe, and a closed pool refuses work.
	require.NoError(t, p.Close())
	_, err = p.Detect(context.Background(), []byte("png"))
	require.Error(t, err)
}

func TestPool_DetectHonorsContextWhileWaiting(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := &stubFactory{block: block}
	p, err := New(f.new, 1, 1, zerolog.Nop())
	require.NoError(t, err)
	defer p.Close()

	go func() { _, _ = p.Detect(context.Background(), []byte("png")) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Detect(ctx, []byte("png"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseOSD(t *testing.T) {
	out := `Page number: 0
Orientation in degrees: 270
Rotate: 90
Orientation confidence: 15.47
Script: Latin
Script confidence: 4.06
`
	o, err := parseOSD(out)
	require.NoError(t, err)
	assert.Equal(t, 90, o.Rotate)
	assert.InDelta(t, 15.47, o.Confidence, 0.001)
}

func TestParseOSD_NoRotation(t *testing.T) {
	_, err := parseOSD("Warning: nothing detected\n")
	require.Error(t, err)
}
