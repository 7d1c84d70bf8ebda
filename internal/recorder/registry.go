package recorder

import (
	"fmt"
	"sync"
)

// Kind tells which serialization an Entry uses
type Kind int

const (
	KindRow Kind = iota
	KindBlob
)

func (k Kind) String() string {
	if k == KindBlob {
		return "blob"
	}
	return "row"
}

// Entry is a registered recorder. Exactly one of Row or Blob is set; the
// variant is fixed when the recorder is added.
type Entry struct {
	Kind Kind
	Row  *RowRecorder
	Blob *BlobRecorder
}

// Recorder returns the common view of the entry
func (e Entry) Recorder() Recorder {
	if e.Kind == KindBlob {
		return e.Blob
	}
	return e.Row
}

func (e Entry) Modality() Modality { return e.Recorder().Modality() }

// Registry owns the set of recorders known to a capture engine
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// AddRow registers a row recorder
func (r *Registry) AddRow(rec *RowRecorder) error {
	if rec == nil {
		return fmt.Errorf("row recorder is nil")
	}
	if rec.FileName() == "" {
		return fmt.Errorf("%s: row recorder requires a file name", rec.Modality())
	}
	return r.add(Entry{Kind: KindRow, Row: rec})
}

// AddBlob registers a blob recorder
func (r *Registry) AddBlob(rec *BlobRecorder) error {
	if rec == nil {
		return fmt.Errorf("blob recorder is nil")
	}
	if rec.Folder() == "" || rec.Extension() == "" {
		return fmt.Errorf("%s: blob recorder requires a folder and an extension", rec.Modality())
	}
	return r.add(Entry{Kind: KindBlob, Blob: rec})
}

func (r *Registry) add(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// Entries returns all registered recorders in registration order
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Enabled returns the recorders currently enabled, in registration order
func (r *Registry) Enabled() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Recorder().Enabled() {
			out = append(out, e)
		}
	}
	return out
}

// Blobs returns every registered blob recorder
func (r *Registry) Blobs() []*BlobRecorder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*BlobRecorder
	for _, e := range r.entries {
		if e.Kind == KindBlob {
			out = append(out, e.Blob)
		}
	}
	return out
}

// SetEnabled toggles every recorder tagged with the modality. It returns the
// number of recorders touched.
func (r *Registry) SetEnabled(m Modality, enabled bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.Modality() == m {
			e.Recorder().SetEnabled(enabled)
			n++
		}
	}
	return n
}

// Apply sets the enable flag of every modality present in toggles
func (r *Registry) Apply(toggles map[Modality]bool) {
	for m, on := range toggles {
		r.SetEnabled(m, on)
	}
}

// Toggles reports the enable flag per registered modality
func (r *Registry) Toggles() map[Modality]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Modality]bool, len(r.entries))
	for _, e := range r.entries {
		out[e.Modality()] = out[e.Modality()] || e.Recorder().Enabled()
	}
	return out
}
