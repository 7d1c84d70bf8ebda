package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"go.uber.org/multierr"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// FormatTimestamp renders t as yyyyMMdd-HHmmssfff, the name stem used for
// every row and blob written to disk.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s%03d", t.Format("20060102-150405"), t.Nanosecond()/int(time.Millisecond))
}

// RecorderError is a write failure isolated to one recorder
type RecorderError struct {
	Modality recorder.Modality
	Kind     recorder.Kind
	Failed   int // samples that could not be written
	Err      error
}

func (e RecorderError) Error() string {
	return fmt.Sprintf("%s %s recorder: %d sample(s) not written: %v", e.Modality, e.Kind, e.Failed, e.Err)
}

func (e RecorderError) Unwrap() error { return e.Err }

// Result summarizes one Save call
type Result struct {
	Rows   int
	Blobs  int
	Bytes  int64
	Errors []RecorderError

	// Fatal is set when nothing could be written at all, e.g. the storage
	// root cannot be created.
	Fatal error
}

// Empty reports whether nothing was saved
func (r Result) Empty() bool {
	return r.Rows == 0 && r.Blobs == 0
}

// Err combines the fatal error and every per-recorder error
func (r Result) Err() error {
	err := r.Fatal
	for _, re := range r.Errors {
		err = multierr.Append(err, re)
	}
	return err
}

// Option configures a Writer
type Option func(*Writer)

// WithRetainRows keeps row buffers after they are persisted, so every save
// appends the full row history again.
func WithRetainRows(retain bool) Option {
	return func(w *Writer) { w.retainRows = retain }
}

// Writer persists recorder buffers under a storage root
type Writer struct {
	root       string
	retainRows bool
}

// NewWriter creates a writer rooted at root. The directory is created lazily.
func NewWriter(root string, opts ...Option) *Writer {
	w := &Writer{root: root}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Root returns the storage root directory
func (w *Writer) Root() string { return w.root }

// RetainRows reports whether row buffers survive a save
func (w *Writer) RetainRows() bool { return w.retainRows }

// RowPath returns the file a row recorder appends to
func (w *Writer) RowPath(r *recorder.RowRecorder) string {
	return filepath.Join(w.root, r.FileName())
}

// BlobPath returns the file a blob sample is written to
func (w *Writer) BlobPath(r *recorder.BlobRecorder, at time.Time) string {
	return filepath.Join(w.root, r.Folder(), FormatTimestamp(at)+"."+r.Extension())
}

// Save drains every entry to disk. A failing recorder never aborts the
// others; each processed recorder is cleared afterwards whether or not all of
// its samples made it to disk.
func (w *Writer) Save(entries []recorder.Entry) Result {
	var res Result

	if err := os.MkdirAll(w.root, dirPerm); err != nil {
		res.Fatal = fmt.Errorf("failed to create storage root %s: %w", w.root, err)
		slog.Error("Storage root unavailable", "root", w.root, "error", err)
		return res
	}

	for _, e := range entries {
		switch e.Kind {
		case recorder.KindRow:
			n, failed, err := w.saveRows(e.Row)
			res.Rows += n
			if err != nil {
				res.Errors = append(res.Errors, RecorderError{Modality: e.Modality(), Kind: e.Kind, Failed: failed, Err: err})
			}
			if !w.retainRows {
				e.Row.Clear()
			}
		case recorder.KindBlob:
			n, size, failed, err := w.saveBlobs(e.Blob)
			res.Blobs += n
			res.Bytes += size
			if err != nil {
				res.Errors = append(res.Errors, RecorderError{Modality: e.Modality(), Kind: e.Kind, Failed: failed, Err: err})
			}
			e.Blob.Clear()
		}
	}

	for _, re := range res.Errors {
		slog.Warn("Recorder save failed", "modality", re.Modality.String(), "failed", re.Failed, "error", re.Err)
	}
	slog.Debug("Save completed", "root", w.root, "rows", res.Rows, "blobs", res.Blobs, "bytes", res.Bytes)
	return res
}

// saveRows appends the drained rows to the recorder's file, writing the
// header first when the file is new. Rows are written in one call so a
// failure leaves no partially counted batch.
func (w *Writer) saveRows(r *recorder.RowRecorder) (written, failed int, err error) {
	rows := r.Drain()
	path := w.RowPath(r)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, filePerm)
	if err != nil {
		return 0, len(rows), fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, len(rows), fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var sb strings.Builder
	if info.Size() == 0 {
		sb.WriteString(r.Header())
		sb.WriteByte('\n')
	}
	for _, row := range rows {
		sb.WriteString(FormatTimestamp(row.At))
		sb.WriteByte(',')
		sb.WriteString(row.Value)
		sb.WriteByte('\n')
	}

	if _, err := f.WriteString(sb.String()); err != nil {
		return 0, len(rows), fmt.Errorf("failed to append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return 0, len(rows), fmt.Errorf("failed to close %s: %w", path, err)
	}
	return len(rows), 0, nil
}

// saveBlobs writes one file per frame, overwriting any file with the same
// timestamp name. It keeps going after a failed frame.
func (w *Writer) saveBlobs(r *recorder.BlobRecorder) (written int, size int64, failed int, err error) {
	frames := r.Drain()
	dir := filepath.Join(w.root, r.Folder())

	if mkErr := os.MkdirAll(dir, dirPerm); mkErr != nil {
		return 0, 0, len(frames), fmt.Errorf("failed to create folder %s: %w", dir, mkErr)
	}

	for _, frame := range frames {
		path := w.BlobPath(r, frame.At)
		if werr := os.WriteFile(path, frame.Value, filePerm); werr != nil {
			failed++
			err = multierr.Append(err, fmt.Errorf("failed to write %s: %w", path, werr))
			continue
		}
		written++
		size += int64(len(frame.Value))
	}
	return written, size, failed, err
}

// DeleteAll removes the storage root and everything below it. A missing root
// is not an error.
func (w *Writer) DeleteAll() error {
	if _, err := os.Stat(w.root); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("failed to delete %s: %w", w.root, err)
	}
	slog.Info("Deleted all captured data", "root", w.root)
	return nil
}
