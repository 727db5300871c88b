package device

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/dualrecorder/pkg/frame"
)

// A CaptureSource that starts successfully but never produces a buffer.
//
// A minimal example of the architecture of a CaptureSource, useful in testing.
type DummyCaptureSource struct {
	name    string
	running atomic.Bool
}

func NewDummyCaptureSource(name string) *DummyCaptureSource {
	return &DummyCaptureSource{name: name}
}

func (d *DummyCaptureSource) Start(ctx context.Context, deliver audiodevice.DeliverFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.running.Store(true)
	return nil
}

func (d *DummyCaptureSource) Stop() error {
	d.running.Store(false)
	return nil
}

func (d *DummyCaptureSource) Name() string {
	return d.name
}

func (d *DummyCaptureSource) IsRunning() bool {
	return d.running.Load()
}

// A CaptureSource that delivers a fixed script of buffers as soon as it is started,
// from its own goroutine, then goes quiet until stopped.
//
// StartErr and StopErr let tests simulate device failures. The source records how
// often it was started and stopped.
type ScriptedCaptureSource struct {
	name   string
	script []frame.PCMBuffer

	StartErr error
	StopErr  error

	mu        sync.Mutex
	done      chan struct{}
	cancel    chan struct{}
	starts    int
	stops     int
	delivered int
}

func NewScriptedCaptureSource(name string, script ...frame.PCMBuffer) *ScriptedCaptureSource {
	return &ScriptedCaptureSource{
		name:   name,
		script: script,
	}
}

func (d *ScriptedCaptureSource) Start(ctx context.Context, deliver audiodevice.DeliverFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	if d.StartErr != nil {
		return d.StartErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.done = make(chan struct{})
	d.cancel = make(chan struct{})
	go func(done, cancel chan struct{}) {
		defer close(done)
		for _, buf := range d.script {
			select {
			case <-cancel:
				return
			default:
			}
			samples := make(frame.PCMFrame, len(buf.Samples))
			copy(samples, buf.Samples)
			buf.Samples = samples
			deliver(buf)

			d.mu.Lock()
			d.delivered++
			d.mu.Unlock()
		}
	}(d.done, d.cancel)
	return nil
}

// Blocks until the whole script has been delivered or the source is stopped.
func (d *ScriptedCaptureSource) WaitForScript() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *ScriptedCaptureSource) Stop() error {
	d.mu.Lock()
	d.stops++
	done, cancel := d.done, d.cancel
	d.done, d.cancel = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		close(cancel)
		<-done
	}
	return d.StopErr
}

func (d *ScriptedCaptureSource) Name() string {
	return d.name
}

func (d *ScriptedCaptureSource) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func (d *ScriptedCaptureSource) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

func (d *ScriptedCaptureSource) Delivered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered
}
