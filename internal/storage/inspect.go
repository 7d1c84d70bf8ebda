package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
)

// Usage is what one recorder currently has on disk
type Usage struct {
	Modality recorder.Modality
	Kind     recorder.Kind
	Path     string
	Files    int
	Bytes    int64
	Modified time.Time
}

// Inspect reports the on-disk footprint of every entry. Missing files and
// folders count as empty.
func (w *Writer) Inspect(entries []recorder.Entry) ([]Usage, error) {
	out := make([]Usage, 0, len(entries))
	for _, e := range entries {
		u := Usage{Modality: e.Modality(), Kind: e.Kind}
		switch e.Kind {
		case recorder.KindRow:
			u.Path = w.RowPath(e.Row)
			info, err := os.Stat(u.Path)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			if err == nil {
				u.Files, u.Bytes, u.Modified = 1, info.Size(), info.ModTime()
			}
		case recorder.KindBlob:
			u.Path = filepath.Join(w.root, e.Blob.Folder())
			err := filepath.WalkDir(u.Path, func(_ string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return err
				}
				u.Files++
				u.Bytes += info.Size()
				if info.ModTime().After(u.Modified) {
					u.Modified = info.ModTime()
				}
				return nil
			})
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
		out = append(out, u)
	}
	return out, nil
}
