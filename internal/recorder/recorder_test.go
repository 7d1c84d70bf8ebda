package recorder

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 9, 14, 5, 7, 123_000_000, time.UTC)

func TestRowRecorder_FeedOnlyWhileCapturing(t *testing.T) {
	r := NewRowRecorder(Hand, "hand.csv", "time,x")

	assert.False(t, r.Feed(t0, "1"))
	assert.Equal(t, 0, r.Len())

	r.Begin()
	assert.True(t, r.Feed(t0.Add(time.Millisecond), "2"))
	assert.True(t, r.Feed(t0.Add(2*time.Millisecond), "3"))
	r.End()
	assert.False(t, r.Feed(t0.Add(3*time.Millisecond), "4"))

	rows := r.Drain()
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[0].Value)
	assert.Equal(t, "3", rows[1].Value)
}

func TestRowRecorder_DrainDoesNotMutate(t *testing.T) {
	r := NewRowRecorder(Body, "body.csv", "h")
	r.Begin()
	r.Feed(t0, "a")
	r.End()

	first := r.Drain()
	first[0].Value = "changed"
	second := r.Drain()

	require.Len(t, second, 1)
	assert.Equal(t, "a", second[0].Value)

	r.Clear()
	assert.Empty(t, r.Drain())
}

func TestRecorder_DropsOutOfOrderSamples(t *testing.T) {
	r := NewRowRecorder(Face, "face.csv", "h")
	r.Begin()
	assert.True(t, r.Feed(t0.Add(time.Second), "late"))
	assert.False(t, r.Feed(t0, "early"))
	assert.True(t, r.Feed(t0.Add(time.Second), "same"))

	rows := r.Drain()
	require.Len(t, rows, 2)
	assert.Equal(t, "late", rows[0].Value)
	assert.Equal(t, "same", rows[1].Value)
}

func TestRecorder_SnapshotBuffersLatest(t *testing.T) {
	r := NewRowRecorder(Hand, "hand.csv", "h")

	r.Snapshot()
	assert.Equal(t, 0, r.Len(), "no sample seen yet")

	r.Feed(t0, "old")
	r.Feed(t0.Add(time.Second), "new")
	r.Snapshot()

	rows := r.Drain()
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].Value)
	assert.False(t, r.Capturing())
}

func TestBlobRecorder_ReportsSizeSynchronously(t *testing.T) {
	r := NewBlobRecorder(Depth, "Depth", "depth")
	var reported []int
	r.OnStored(func(n int) { reported = append(reported, n) })

	r.Feed(t0, make([]byte, 10))
	assert.Empty(t, reported, "frames outside a bracket are not stored")

	r.Begin()
	r.Feed(t0.Add(time.Millisecond), make([]byte, 600))
	assert.Equal(t, []int{600}, reported)
	r.Feed(t0.Add(2*time.Millisecond), make([]byte, 7))
	assert.Equal(t, []int{600, 7}, reported)
}

func TestBlobRecorder_Skip(t *testing.T) {
	r := NewBlobRecorder(Color, "Color", "rgb")
	r.SetSkip(2)
	r.Begin()
	for i := 0; i < 7; i++ {
		r.Feed(t0.Add(time.Duration(i)*time.Millisecond), []byte{byte(i)})
	}
	frames := r.Drain()
	require.Len(t, frames, 3)
	assert.Equal(t, []byte{0}, frames[0].Value)
	assert.Equal(t, []byte{3}, frames[1].Value)
	assert.Equal(t, []byte{6}, frames[2].Value)
}

func TestBuffer_ConcurrentFeed(t *testing.T) {
	r := NewBlobRecorder(Depth, "Depth", "depth")
	var mu sync.Mutex
	total := 0
	r.OnStored(func(n int) {
		mu.Lock()
		total += n
		mu.Unlock()
	})
	r.Begin()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				// identical timestamps are never out of order
				r.Feed(t0, []byte{1, 2})
			}
		}()
	}
	wg.Wait()
	r.End()

	assert.Equal(t, 200, r.Len())
	assert.Equal(t, 400, total)
}

func TestParseModality(t *testing.T) {
	cases := map[string]Modality{
		"hand":        Hand,
		"BlendShape":  BlendShape,
		"blend_shape": BlendShape,
		"spatial-map": SpatialMap,
		"slam":        SpatialMap,
		" Depth ":     Depth,
	}
	for in, want := range cases {
		got, err := ParseModality(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseModality("thermal")
	assert.Error(t, err)
}
