package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 9, 14, 5, 7, 123_000_000, time.UTC)

func rowEntry(t *testing.T, m recorder.Modality, file string, values ...string) recorder.Entry {
	t.Helper()
	r := recorder.NewRowRecorder(m, file, "time,value")
	r.Begin()
	for i, v := range values {
		r.Feed(t0.Add(time.Duration(i)*time.Millisecond), v)
	}
	r.End()
	return recorder.Entry{Kind: recorder.KindRow, Row: r}
}

func blobEntry(t *testing.T, m recorder.Modality, folder string, frames ...[]byte) recorder.Entry {
	t.Helper()
	r := recorder.NewBlobRecorder(m, folder, "bin")
	r.Begin()
	for i, f := range frames {
		r.Feed(t0.Add(time.Duration(i)*time.Millisecond), f)
	}
	r.End()
	return recorder.Entry{Kind: recorder.KindBlob, Blob: r}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "20240309-140507123", FormatTimestamp(t0))
	assert.Equal(t, "20240309-140507004", FormatTimestamp(t0.Truncate(time.Second).Add(4*time.Millisecond+900*time.Microsecond)))
}

func TestSave_RowsWriteHeaderOnceAndAppend(t *testing.T) {
	root := filepath.Join(t.TempDir(), "TofArData")
	w := NewWriter(root)

	res := w.Save([]recorder.Entry{rowEntry(t, recorder.Hand, "hand.csv", "a", "b")})
	require.NoError(t, res.Err())
	assert.Equal(t, 2, res.Rows)

	res = w.Save([]recorder.Entry{rowEntry(t, recorder.Hand, "hand.csv", "c")})
	require.NoError(t, res.Err())
	assert.Equal(t, 1, res.Rows)

	lines := readLines(t, filepath.Join(root, "hand.csv"))
	assert.Equal(t, []string{
		"time,value",
		"20240309-140507123,a",
		"20240309-140507124,b",
		"20240309-140507123,c",
	}, lines)
}

func TestSave_RowBuffersClearedUnlessRetained(t *testing.T) {
	e := rowEntry(t, recorder.Body, "body.csv", "a")
	NewWriter(t.TempDir()).Save([]recorder.Entry{e})
	assert.Equal(t, 0, e.Row.Len())

	e = rowEntry(t, recorder.Body, "body.csv", "a")
	w := NewWriter(t.TempDir(), WithRetainRows(true))
	w.Save([]recorder.Entry{e})
	w.Save([]recorder.Entry{e})
	assert.Equal(t, 1, e.Row.Len())
	assert.Len(t, readLines(t, w.RowPath(e.Row)), 3, "header plus the same row twice")
}

func TestSave_BlobRoundTrip(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	payload := []byte{0x00, 0xff, 0x10, 0x7f, 0x80}
	e := blobEntry(t, recorder.Depth, "Depth", payload, []byte("second"))

	res := w.Save([]recorder.Entry{e})
	require.NoError(t, res.Err())
	assert.Equal(t, 2, res.Blobs)
	assert.Equal(t, int64(len(payload)+6), res.Bytes)
	assert.Equal(t, 0, e.Blob.Len(), "blob buffers are cleared after save")

	got, err := os.ReadFile(filepath.Join(root, "Depth", "20240309-140507123.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSave_BlobOverwritesOnCollision(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	w.Save([]recorder.Entry{blobEntry(t, recorder.Color, "Color", []byte("first-longer"))})
	w.Save([]recorder.Entry{blobEntry(t, recorder.Color, "Color", []byte("new"))})

	got, err := os.ReadFile(filepath.Join(root, "Color", "20240309-140507123.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestSave_IsolatesRecorderFailure(t *testing.T) {
	root := t.TempDir()
	// A regular file where the blob folder should be makes that recorder fail.
	require.NoError(t, os.WriteFile(filepath.Join(root, "Depth"), []byte("x"), 0644))

	bad := blobEntry(t, recorder.Depth, "Depth", []byte{1}, []byte{2})
	good := rowEntry(t, recorder.Hand, "hand.csv", "a", "b", "c")
	also := blobEntry(t, recorder.Color, "Color", []byte{3})

	res := NewWriter(root).Save([]recorder.Entry{bad, good, also})
	require.Nil(t, res.Fatal)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 1, res.Blobs)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, recorder.Depth, res.Errors[0].Modality)
	assert.Equal(t, 2, res.Errors[0].Failed)
	assert.Error(t, res.Err())

	assert.Equal(t, 0, bad.Blob.Len(), "failed recorders are cleared like successful ones")
	assert.Equal(t, 0, good.Row.Len())
}

func TestSave_FatalWhenRootUnavailable(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	e := rowEntry(t, recorder.Hand, "hand.csv", "a")
	res := NewWriter(filepath.Join(blocker, "root")).Save([]recorder.Entry{e})

	require.Error(t, res.Fatal)
	assert.True(t, res.Empty())
	assert.Equal(t, 1, e.Row.Len(), "nothing is cleared when the root is unavailable")
}

func TestDeleteAll(t *testing.T) {
	root := filepath.Join(t.TempDir(), "TofArData")
	w := NewWriter(root)

	require.NoError(t, w.DeleteAll(), "missing root is a no-op")

	w.Save([]recorder.Entry{
		rowEntry(t, recorder.Hand, "hand.csv", "old"),
		blobEntry(t, recorder.Depth, "Depth", []byte{1}),
	})
	require.NoError(t, w.DeleteAll())
	_, err := os.Stat(root)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	res := w.Save([]recorder.Entry{rowEntry(t, recorder.Body, "body.csv", "new")})
	require.NoError(t, res.Err())

	var files []string
	require.NoError(t, filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			rel, _ := filepath.Rel(root, path)
			files = append(files, rel)
		}
		return err
	}))
	assert.Equal(t, []string{"body.csv"}, files)
}

func TestInspect(t *testing.T) {
	root := filepath.Join(t.TempDir(), "TofArData")
	w := NewWriter(root)

	hand := rowEntry(t, recorder.Hand, "hand.csv", "a", "b")
	depth := blobEntry(t, recorder.Depth, "Depth", []byte{1, 2}, []byte{3, 4, 5})

	usage, err := w.Inspect([]recorder.Entry{hand, depth})
	require.NoError(t, err, "missing root counts as empty")
	require.Len(t, usage, 2)
	assert.Zero(t, usage[0].Files)
	assert.Zero(t, usage[1].Files)

	require.NoError(t, w.Save([]recorder.Entry{hand, depth}).Err())

	usage, err = w.Inspect([]recorder.Entry{hand, depth})
	require.NoError(t, err)
	assert.Equal(t, 1, usage[0].Files)
	assert.Equal(t, int64(len("time,value\n20240309-140507123,a\n20240309-140507124,b\n")), usage[0].Bytes)
	assert.Equal(t, 2, usage[1].Files)
	assert.Equal(t, int64(5), usage[1].Bytes)
	assert.Equal(t, filepath.Join(root, "Depth"), usage[1].Path)
}
