package recorder

import (
	"sync"
	"time"
)

// Sample is a single timestamped value produced by a sensor
type Sample[T any] struct {
	At    time.Time
	Value T
}

// Recorder is the contract shared by every capture unit, regardless of how
// its samples are serialized.
type Recorder interface {
	Modality() Modality
	Enabled() bool
	SetEnabled(enabled bool)

	// Begin opens a continuous capture bracket; End closes it.
	Begin()
	End()

	// Snapshot buffers the most recent sample seen from the sensor
	// without opening a bracket.
	Snapshot()

	Clear()
	Len() int
}

// buffer holds the samples of one recorder. Feed may be called from sensor
// goroutines while Begin/End/Drain/Clear are called from the controller.
type buffer[T any] struct {
	modality Modality

	mu        sync.Mutex
	enabled   bool
	capturing bool
	latest    *Sample[T]
	samples   []Sample[T]

	// appended runs under mu, right after a sample is buffered
	appended func(Sample[T])
}

func (b *buffer[T]) Modality() Modality { return b.modality }

func (b *buffer[T]) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *buffer[T]) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

func (b *buffer[T]) Begin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capturing = true
}

func (b *buffer[T]) End() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capturing = false
}

// Capturing reports whether a Begin/End bracket is open
func (b *buffer[T]) Capturing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capturing
}

// feed records the sample as the latest one and buffers it while capturing.
// It reports whether the sample was buffered.
func (b *buffer[T]) feed(s Sample[T], keep func() bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &s
	if !b.capturing {
		return false
	}
	if keep != nil && !keep() {
		return false
	}
	return b.appendLocked(s)
}

func (b *buffer[T]) Snapshot() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return
	}
	b.appendLocked(*b.latest)
}

// appendLocked keeps the buffer in non-decreasing timestamp order by
// dropping samples older than the last buffered one.
func (b *buffer[T]) appendLocked(s Sample[T]) bool {
	if n := len(b.samples); n > 0 && s.At.Before(b.samples[n-1].At) {
		return false
	}
	b.samples = append(b.samples, s)
	if b.appended != nil {
		b.appended(s)
	}
	return true
}

// drain copies the buffer; the recorder keeps its samples until Clear.
func (b *buffer[T]) drain() []Sample[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Sample[T], len(b.samples))
	copy(out, b.samples)
	return out
}

func (b *buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
}

func (b *buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// RowRecorder buffers textual samples that are persisted as lines of a
// single delimited file.
type RowRecorder struct {
	buffer[string]
	header   string
	fileName string
}

// NewRowRecorder creates a disabled-by-default row recorder
func NewRowRecorder(m Modality, fileName, header string) *RowRecorder {
	return &RowRecorder{
		buffer:   buffer[string]{modality: m},
		header:   header,
		fileName: fileName,
	}
}

func (r *RowRecorder) Header() string   { return r.header }
func (r *RowRecorder) FileName() string { return r.fileName }

// Feed hands a value from the sensor to the recorder
func (r *RowRecorder) Feed(at time.Time, value string) bool {
	return r.feed(Sample[string]{At: at, Value: value}, nil)
}

// Drain returns the buffered rows in timestamp order
func (r *RowRecorder) Drain() []Sample[string] { return r.drain() }

// BlobRecorder buffers binary samples that are persisted one file each.
type BlobRecorder struct {
	buffer[[]byte]
	folder    string
	extension string

	// guarded by buffer.mu
	onStored func(int)
	skip     int
	seen     int
}

// NewBlobRecorder creates a disabled-by-default blob recorder
func NewBlobRecorder(m Modality, folder, extension string) *BlobRecorder {
	r := &BlobRecorder{
		buffer:    buffer[[]byte]{modality: m},
		folder:    folder,
		extension: extension,
	}
	r.appended = func(s Sample[[]byte]) {
		if r.onStored != nil {
			r.onStored(len(s.Value))
		}
	}
	return r
}

func (r *BlobRecorder) Folder() string    { return r.folder }
func (r *BlobRecorder) Extension() string { return r.extension }

// OnStored registers the callback invoked with the size of every buffered
// sample, before the call that buffered it returns.
func (r *BlobRecorder) OnStored(fn func(bytes int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStored = fn
}

// SetSkip keeps one frame out of every n+1 while capturing.
func (r *BlobRecorder) SetSkip(n int) {
	if n < 0 {
		n = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skip = n
	r.seen = 0
}

func (r *BlobRecorder) Skip() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skip
}

// Begin also restarts the skip cadence so the first frame is kept
func (r *BlobRecorder) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capturing = true
	r.seen = 0
}

// Feed hands a frame from the sensor to the recorder. The slice is owned by
// the recorder afterwards.
func (r *BlobRecorder) Feed(at time.Time, data []byte) bool {
	return r.feed(Sample[[]byte]{At: at, Value: data}, r.keepLocked)
}

func (r *BlobRecorder) keepLocked() bool {
	keep := r.seen%(r.skip+1) == 0
	r.seen++
	return keep
}

// Drain returns the buffered frames in timestamp order
func (r *BlobRecorder) Drain() []Sample[[]byte] { return r.drain() }
