package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
)

// Middle-man between a capture source and its backing store.
//
// The source hands buffers to deliver, which never blocks: buffers are queued on a
// bounded channel, and dropped (with a warning) when the queue is full.
// A single worker goroutine drains the queue, normalizes each buffer to the canonical
// format and appends it to the store, so buffers of one source are written strictly
// in order, one at a time.
//
// Write failures drop the buffer and are logged; the worker carries on with the next.
type sourcePipeline struct {
	logger     *slog.Logger
	name       string
	normalizer *device.Normalizer
	writer     *device.StreamWriter

	// Guards queue against sends after close
	closeMu sync.RWMutex
	closed  bool
	queue   chan frame.PCMBuffer
	done    chan struct{}

	queueDrops  atomic.Int64
	writeErrors atomic.Int64
	closeOnce   sync.Once
	closeErr    error
}

func newSourcePipeline(
	name string,
	writer *device.StreamWriter,
	queueSize int,
	resampleQuality int,
	logger *slog.Logger,
) *sourcePipeline {
	if queueSize <= 0 {
		queueSize = 1
	}
	logger = logger.With("pipeline", name)

	p := &sourcePipeline{
		logger:     logger,
		name:       name,
		normalizer: device.NewNormalizer(writer.GetDeviceProperties(), resampleQuality, logger),
		writer:     writer,
		queue:      make(chan frame.PCMBuffer, queueSize),
		done:       make(chan struct{}),
	}
	go p.work()
	return p
}

// Hand a buffer to the pipeline. Safe to call from any goroutine, and after close.
func (p *sourcePipeline) deliver(buf frame.PCMBuffer) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- buf:
	default:
		drops := p.queueDrops.Add(1)
		p.logger.Warn("capture queue full, dropping buffer",
			"frames", buf.NumFrames(),
			"totalDrops", drops,
		)
	}
}

func (p *sourcePipeline) work() {
	defer close(p.done)
	for buf := range p.queue {
		samples := p.normalizer.Normalize(buf)
		if len(samples) == 0 {
			continue
		}
		if err := p.writer.Append(samples); err != nil {
			p.writeErrors.Add(1)
			p.logger.Error("failed to write buffer, dropping it",
				"frames", len(samples),
				"err", err,
			)
		}
	}
}

// Stop accepting buffers, drain what is queued, then finalize the store.
// Idempotent; later calls return the first result.
func (p *sourcePipeline) close() error {
	p.closeOnce.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		close(p.queue)
		p.closeMu.Unlock()

		<-p.done
		p.closeErr = p.writer.Close()

		p.logger.Info("pipeline closed",
			"framesWritten", p.writer.FramesWritten(),
			"queueDrops", p.queueDrops.Load(),
			"writeFailures", p.writeErrors.Load(),
		)
	})
	return p.closeErr
}

func (p *sourcePipeline) framesWritten() int64 {
	return p.writer.FramesWritten()
}

func (p *sourcePipeline) path() string {
	return p.writer.Path()
}
