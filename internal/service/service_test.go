package service

import (
	"context"
	"testing"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/capture"
	"github.com/audiolibrelab/sensorcapture/internal/config"
	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Root = t.TempDir()
	cfg.Capture.Countdown = 0
	for i := range cfg.Modalities {
		mc := &cfg.Modalities[i]
		mc.Enabled = mc.Modality == recorder.Hand || mc.Modality == recorder.Depth
		mc.Rate = 200
		if mc.Width > 0 {
			mc.Width, mc.Height = 20, 10
		}
	}
	return cfg
}

type running struct {
	svc    Service
	events chan capture.Event
	cancel context.CancelFunc
	done   chan error
}

func startService(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	svc, err := New(cfg, "")
	require.NoError(t, err)

	r := &running{svc: svc, events: make(chan capture.Event, 256), done: make(chan error, 1)}
	svc.Subscribe(func(ev capture.Event) {
		select {
		case r.events <- ev:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-r.done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("service did not stop")
		}
	})
	return r
}

func (r *running) waitFor(t *testing.T, kind capture.EventKind) capture.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestService_MultipleCaptureWritesEnabledModalities(t *testing.T) {
	r := startService(t, testConfig(t))

	require.NoError(t, r.svc.Start())
	r.waitFor(t, capture.EventRecordingBegan)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, r.svc.Stop())

	done := r.waitFor(t, capture.EventCompleted)
	require.NotNil(t, done.Result)
	assert.Greater(t, done.Result.Rows, 0)
	assert.Greater(t, done.Result.Blobs, 0)
	assert.Contains(t, done.Message, "Succeed in save")
	assert.Empty(t, r.svc.GetLastError())

	info, err := r.svc.GetStorageInfo()
	require.NoError(t, err)
	byName := map[string]RecorderInfo{}
	for _, ri := range info.Recorders {
		byName[ri.Modality] = ri
	}
	assert.Equal(t, 1, byName["hand"].Files)
	depth := byName["depth"]
	assert.Greater(t, depth.Files, 0)
	assert.LessOrEqual(t, depth.Files, done.Result.Blobs, "frames stamped in the same millisecond share a file")
	assert.Equal(t, int64(depth.Files*20*10*2), depth.Size)
	assert.Zero(t, byName["face"].Files)
	assert.NotEmpty(t, info.TotalHuman)
}

func TestService_SingleSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Mode = capture.ModeSingle
	r := startService(t, cfg)

	// let every enabled source produce a latest sample
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, r.svc.Start())
	done := r.waitFor(t, capture.EventCompleted)

	assert.Equal(t, "Succeed in save.", done.Message)
	assert.Equal(t, 1, done.Result.Rows)
	assert.Equal(t, 1, done.Result.Blobs)
}

func TestService_Modalities(t *testing.T) {
	r := startService(t, testConfig(t))

	toggles, err := r.svc.SetModalities(map[string]bool{"face": true, "depth": false})
	require.NoError(t, err)
	assert.True(t, toggles["face"])
	assert.False(t, toggles["depth"])
	assert.True(t, toggles["hand"])

	_, err = r.svc.SetModalities(map[string]bool{"thermal": true})
	assert.Error(t, err)
}

func TestService_ModeAndDelete(t *testing.T) {
	r := startService(t, testConfig(t))

	assert.Error(t, r.svc.SetMode("burst"))
	require.NoError(t, r.svc.SetMode("single"))
	require.NoError(t, r.svc.SetCountdown(2*time.Second))
	assert.Error(t, r.svc.SetCountdown(-time.Second))

	st, err := r.svc.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, capture.ModeSingle, st.Mode)
	assert.Equal(t, 2*time.Second, st.Countdown)
	assert.Equal(t, capture.StateIdle, st.State)

	require.NoError(t, r.svc.DeleteAll())
	r.waitFor(t, capture.EventDeleted)

	assert.ErrorIs(t, r.svc.Stop(), capture.ErrNotRunning)
	assert.Contains(t, r.svc.GetLastError(), "Failed to stop capture")
}

func TestNew_RejectsBadModalitySettings(t *testing.T) {
	cfg := testConfig(t)
	for i := range cfg.Modalities {
		if cfg.Modalities[i].Modality == recorder.Color {
			cfg.Modalities[i].Scale = 3
		}
	}
	_, err := New(cfg, "")
	assert.Error(t, err)
}
