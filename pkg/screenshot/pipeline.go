package screenshot

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultQueueSize bounds frames pending consumption.
	DefaultQueueSize = 8
	// DefaultSimilarityThreshold drops an adjacent frame at least this
	// similar to the previous one.
	DefaultSimilarityThreshold = 0.80
)

// Source captures one frame.
type Source func(ctx context.Context) (image.Image, error)

// Frame is one captured screenshot with its capture time.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

// Options tune a capture pipeline.
type Options struct {
	QueueSize int           // pending frame bound; <=0 selects DefaultQueueSize
	Interval  time.Duration // minimum delay between captures; 0 captures back to back
	Timeout   time.Duration // capture window; 0 runs until Stop
	Dedup     bool          // enable the SSIM stage
	Threshold float64       // similarity at or above which a frame is dropped
}

// Pipeline streams frames from a source. Frames arrive at consumers in
// capture order, possibly with gaps from overflow or deduplication.
type Pipeline struct {
	frames   chan Frame
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu      sync.Mutex
	dropped int64
	deduped int64
}

// Start launches the producer (and dedup stage when enabled) and returns the
// running pipeline.
func Start(ctx context.Context, src Source, opts Options, logger *slog.Logger) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultSimilarityThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		frames: make(chan Frame, opts.QueueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}

	out := p.frames
	if opts.Dedup {
		raw := make(chan Frame, opts.QueueSize)
		p.wg.Add(1)
		go p.dedupLoop(raw, opts.Threshold)
		out = raw
	}

	p.wg.Add(1)
	go p.produceLoop(ctx, src, opts, out)
	return p
}

// Frames returns the consumer channel. It is closed once the pipeline
// stops and all pending frames are delivered.
func (p *Pipeline) Frames() <-chan Frame { return p.frames }

// Next pulls one frame, honoring ctx.
func (p *Pipeline) Next(ctx context.Context) (Frame, bool) {
	select {
	case f, ok := <-p.frames:
		return f, ok
	case <-ctx.Done():
		return Frame{}, false
	}
}

// Stop halts capture and waits for the stages to drain. Idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
	})
}

// Dropped returns frames discarded by queue overflow.
func (p *Pipeline) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Deduped returns frames discarded as near-identical.
func (p *Pipeline) Deduped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deduped
}

func (p *Pipeline) produceLoop(ctx context.Context, src Source, opts Options, out chan Frame) {
	defer p.wg.Done()
	defer close(out)

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-deadline:
			return
		default:
		}

		img, err := src(ctx)
		if err != nil {
			p.logger.Warn("Screenshot capture failed", "error", err)
		} else {
			p.push(out, Frame{Image: img, Timestamp: time.Now()})
		}

		if opts.Interval > 0 {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-deadline:
				return
			case <-time.After(opts.Interval):
			}
		}
	}
}

// push enqueues with drop-oldest semantics; the producer is the only sender
// on out, so making room cannot race another writer.
func (p *Pipeline) push(out chan Frame, f Frame) {
	for {
		select {
		case out <- f:
			return
		default:
		}
		select {
		case <-out:
			p.mu.Lock()
			p.dropped++
			n := p.dropped
			p.mu.Unlock()
			p.logger.Warn("Frame queue full, dropping oldest frame", "total_dropped", n)
		default:
		}
	}
}

// dedupLoop forwards frames whose similarity to the previously forwarded
// frame is below the threshold.
func (p *Pipeline) dedupLoop(raw chan Frame, threshold float64) {
	defer p.wg.Done()
	defer close(p.frames)

	var prev image.Image
	for f := range raw {
		if prev != nil && SSIM(prev, f.Image) >= threshold {
			p.mu.Lock()
			p.deduped++
			p.mu.Unlock()
			continue
		}
		prev = f.Image
		p.push(p.frames, f)
	}
}
