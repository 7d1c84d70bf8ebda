package capture

import (
	"errors"
	"sync"
	"testing"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/audiolibrelab/sensorcapture/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestBudget_TripsOnceUnderConcurrentReports(t *testing.T) {
	trips := atomic.NewInt32(0)
	b := NewBudget(1000, func(int64) { trips.Inc() })

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Report(100)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), trips.Load())
	assert.Equal(t, int64(160000), b.Total())
	assert.True(t, b.Tripped())

	b.Reset()
	assert.Equal(t, int64(0), b.Total())
	assert.False(t, b.Tripped())
	assert.Equal(t, int64(1), b.Epoch())

	b.Report(999)
	assert.Equal(t, int32(1), trips.Load())
	b.Report(1)
	assert.Equal(t, int32(2), trips.Load(), "trips again after a reset")
}

func TestBudget_DisabledCeiling(t *testing.T) {
	tripped := false
	b := NewBudget(0, func(int64) { tripped = true })
	b.Report(1 << 20)
	assert.False(t, tripped)
	assert.False(t, b.Tripped())
}

func TestMailbox_PostAfterClose(t *testing.T) {
	m := NewMailbox(1)
	require.NoError(t, m.Post(func() {}))
	m.Close()
	m.Close()
	assert.ErrorIs(t, m.Post(func() {}), ErrClosed)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Single")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMultiple, m)

	_, err = ParseMode("burst")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "No record saves.", Summary(ModeMultiple, storage.Result{}))
	assert.Equal(t, "No record saves.", Summary(ModeSingle, storage.Result{}))
	assert.Equal(t, "Succeed in save.", Summary(ModeSingle, storage.Result{Rows: 3, Blobs: 1}))
	assert.Equal(t, "Succeed in save: 5 rows, 0 blobs.", Summary(ModeMultiple, storage.Result{Rows: 5}))
	assert.Equal(t, "Succeed in save: 5 rows, 3 blobs (2.0 KiB).",
		Summary(ModeMultiple, storage.Result{Rows: 5, Blobs: 3, Bytes: 2048}))

	withErr := Summary(ModeMultiple, storage.Result{
		Rows:   1,
		Errors: []storage.RecorderError{{Modality: recorder.Depth, Err: errors.New("disk full")}},
	})
	assert.Contains(t, withErr, "1 rows, 0 blobs")
	assert.Contains(t, withErr, "Warning: 1 recorder(s) failed to save")

	assert.Contains(t, Summary(ModeSingle, storage.Result{Fatal: errors.New("permission denied")}), "Failed to save")
}
