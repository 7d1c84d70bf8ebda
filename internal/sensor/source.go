package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/sourcegraph/conc"
)

// RowSource produces textual samples, one delimited line each
type RowSource interface {
	Modality() recorder.Modality
	Run(ctx context.Context, emit func(at time.Time, value string)) error
}

// FrameSource produces binary frames
type FrameSource interface {
	Modality() recorder.Modality
	Run(ctx context.Context, emit func(at time.Time, frame []byte)) error
}

type binding struct {
	name string
	run  func(ctx context.Context) error
}

// Hub runs every bound source on its own goroutine and feeds the samples
// into the matching recorder.
type Hub struct {
	mu       sync.Mutex
	bindings []binding
	running  bool
}

func NewHub() *Hub {
	return &Hub{}
}

// BindRow connects a row source to a row recorder
func (h *Hub) BindRow(src RowSource, rec *recorder.RowRecorder) error {
	if src.Modality() != rec.Modality() {
		return fmt.Errorf("source %s cannot feed %s recorder", src.Modality(), rec.Modality())
	}
	return h.bind(binding{
		name: src.Modality().String(),
		run: func(ctx context.Context) error {
			return src.Run(ctx, func(at time.Time, v string) { rec.Feed(at, v) })
		},
	})
}

// BindFrames connects a frame source to a blob recorder
func (h *Hub) BindFrames(src FrameSource, rec *recorder.BlobRecorder) error {
	if src.Modality() != rec.Modality() {
		return fmt.Errorf("source %s cannot feed %s recorder", src.Modality(), rec.Modality())
	}
	return h.bind(binding{
		name: src.Modality().String(),
		run: func(ctx context.Context) error {
			return src.Run(ctx, func(at time.Time, f []byte) { rec.Feed(at, f) })
		},
	})
}

func (h *Hub) bind(b binding) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return fmt.Errorf("cannot bind %s source while the hub is running", b.name)
	}
	h.bindings = append(h.bindings, b)
	return nil
}

// Len returns the number of bound sources
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bindings)
}

// Run blocks until ctx is done and every source has returned. A failing
// source is logged and does not stop the others.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	bindings := append([]binding(nil), h.bindings...)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	var wg conc.WaitGroup
	for _, b := range bindings {
		b := b
		wg.Go(func() {
			slog.Debug("Sensor source started", "modality", b.name)
			if err := b.run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Sensor source failed", "modality", b.name, "error", err)
				return
			}
			slog.Debug("Sensor source stopped", "modality", b.name)
		})
	}
	wg.Wait()
}
