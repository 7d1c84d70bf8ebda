package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/capture"
	"github.com/audiolibrelab/sensorcapture/internal/config"
	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/audiolibrelab/sensorcapture/internal/sensor"
	"github.com/audiolibrelab/sensorcapture/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc"
)

// Service represents the core sensor capture service interface
type Service interface {
	// Run drives sensors and the capture loop until ctx is done
	Run(ctx context.Context) error

	// Capture operations
	Start() error
	Stop() error
	SetMode(mode string) error
	SetCountdown(d time.Duration) error
	GetStatus() (capture.Status, error)

	// Modality operations
	SetModalities(toggles map[string]bool) (map[string]bool, error)
	GetModalities() map[string]bool
	WatchConfig() error

	// Data operations
	DeleteAll() error
	GetStorageInfo() (*StorageInfo, error)

	// Events
	Subscribe(l capture.Listener)

	GetConfig() *config.Config
	GetLastError() string
}

// RecorderInfo is the on-disk footprint of one recorder
type RecorderInfo struct {
	Modality     string    `json:"modality"`
	Kind         string    `json:"kind"`
	Enabled      bool      `json:"enabled"`
	Path         string    `json:"path"`
	Files        int       `json:"files"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time,omitempty"`
	ModTimeHuman string    `json:"mod_time_human,omitempty"`
}

// StorageInfo describes the storage folder
type StorageInfo struct {
	Directory  string         `json:"directory"`
	RetainRows bool           `json:"retain_rows"`
	TotalSize  int64          `json:"total_size"`
	TotalHuman string         `json:"total_human"`
	Recorders  []RecorderInfo `json:"recorders"`
}

// CaptureService is the main service implementation
type CaptureService struct {
	cfg        *config.Config
	configFile string

	registry     *recorder.Registry
	writer       *storage.Writer
	hub          *sensor.Hub
	orchestrator *capture.Orchestrator

	listenersMu sync.RWMutex
	listeners   []capture.Listener

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New builds recorders, simulated sensors and the orchestrator from cfg.
// Extra options are applied after the ones derived from cfg.
func New(cfg *config.Config, configFile string, opts ...capture.Option) (Service, error) {
	s := &CaptureService{
		cfg:        cfg,
		configFile: configFile,
		registry:   recorder.NewRegistry(),
		writer:     storage.NewWriter(cfg.Storage.Dir(), storage.WithRetainRows(cfg.Storage.RetainRows)),
		hub:        sensor.NewHub(),
	}

	for _, mc := range cfg.Modalities {
		if err := s.addModality(mc); err != nil {
			return nil, fmt.Errorf("failed to set up %s: %w", mc.Name, err)
		}
	}

	options := append(cfg.CaptureOptions(), capture.WithListener(s.dispatch))
	options = append(options, opts...)
	s.orchestrator = capture.New(s.registry, s.writer, options...)
	return s, nil
}

func (s *CaptureService) addModality(mc config.Modality) error {
	layout, err := sensor.LayoutFor(mc.Modality)
	if err != nil {
		return err
	}

	switch layout.Kind {
	case recorder.KindRow:
		rec := recorder.NewRowRecorder(mc.Modality, layout.FileName, layout.Header)
		rec.SetEnabled(mc.Enabled)
		if err := s.registry.AddRow(rec); err != nil {
			return err
		}
		src, err := sensor.NewRows(mc.Modality, mc.Rate, nil)
		if err != nil {
			return err
		}
		return s.hub.BindRow(src, rec)
	default:
		rec := recorder.NewBlobRecorder(mc.Modality, layout.Folder, layout.Extension)
		rec.SetEnabled(mc.Enabled)
		rec.SetSkip(mc.Skip)
		if err := s.registry.AddBlob(rec); err != nil {
			return err
		}
		src, err := sensor.NewFrames(mc.Modality, mc.Width, mc.Height, mc.Scale, mc.Rate, nil)
		if err != nil {
			return err
		}
		return s.hub.BindFrames(src, rec)
	}
}

// Run blocks until ctx is cancelled
func (s *CaptureService) Run(ctx context.Context) error {
	slog.Debug("Service.Run called", "profile", s.cfg.Profile, "sources", s.hub.Len())

	var wg conc.WaitGroup
	wg.Go(func() { s.hub.Run(ctx) })

	err := s.orchestrator.Run(ctx)
	wg.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// Start arms a new capture session
func (s *CaptureService) Start() error {
	slog.Debug("Service.Start called", "mode", s.cfg.Capture.Mode)
	s.clearLastError() // Clear any previous errors when starting a new operation
	err := s.orchestrator.Start()
	if err != nil {
		slog.Error("Service.Start failed", "error", err)
		s.setLastError(fmt.Sprintf("Failed to start capture: %v", err))
	}
	return err
}

// Stop cancels a countdown or ends a continuous capture
func (s *CaptureService) Stop() error {
	err := s.orchestrator.Stop()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop capture: %v", err))
	}
	return err
}

func (s *CaptureService) SetMode(mode string) error {
	m, err := capture.ParseMode(mode)
	if err != nil {
		return err
	}
	if err := s.orchestrator.SetMode(m); err != nil {
		return fmt.Errorf("failed to change mode: %w", err)
	}
	return nil
}

func (s *CaptureService) SetCountdown(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("countdown must be >= 0, got %s", d)
	}
	if err := s.orchestrator.SetCountdown(d); err != nil {
		return fmt.Errorf("failed to change countdown: %w", err)
	}
	return nil
}

// GetStatus returns the orchestrator status
func (s *CaptureService) GetStatus() (capture.Status, error) {
	return s.orchestrator.Status()
}

// SetModalities applies enable flags keyed by modality name. A change made
// while a session is live applies to the next session.
func (s *CaptureService) SetModalities(toggles map[string]bool) (map[string]bool, error) {
	parsed := make(map[recorder.Modality]bool, len(toggles))
	for name, on := range toggles {
		m, err := recorder.ParseModality(name)
		if err != nil {
			return nil, err
		}
		parsed[m] = on
	}
	for m, on := range parsed {
		if s.registry.SetEnabled(m, on) == 0 {
			return nil, fmt.Errorf("modality %s has no recorder", m)
		}
	}
	slog.Info("Modalities updated", "toggles", toggles, "state", s.orchestrator.State())
	return s.GetModalities(), nil
}

// GetModalities reports the enable flag of every registered modality
func (s *CaptureService) GetModalities() map[string]bool {
	out := make(map[string]bool)
	for m, on := range s.registry.Toggles() {
		out[m.String()] = on
	}
	return out
}

// WatchConfig re-applies modality toggles whenever the config file changes
func (s *CaptureService) WatchConfig() error {
	return config.WatchToggles(s.configFile, s.cfg.Profile, s.registry.Apply)
}

// DeleteAll removes every captured file
func (s *CaptureService) DeleteAll() error {
	err := s.orchestrator.DeleteAll()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to delete data: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// GetStorageInfo reports what every recorder has on disk
func (s *CaptureService) GetStorageInfo() (*StorageInfo, error) {
	entries := s.registry.Entries()
	usage, err := s.writer.Inspect(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect storage: %w", err)
	}

	info := &StorageInfo{
		Directory:  s.writer.Root(),
		RetainRows: s.writer.RetainRows(),
	}
	for i, u := range usage {
		ri := RecorderInfo{
			Modality:  u.Modality.String(),
			Kind:      u.Kind.String(),
			Enabled:   entries[i].Recorder().Enabled(),
			Path:      u.Path,
			Files:     u.Files,
			Size:      u.Bytes,
			SizeHuman: humanize.IBytes(uint64(u.Bytes)),
		}
		if !u.Modified.IsZero() {
			ri.ModTime = u.Modified
			ri.ModTimeHuman = humanize.Time(u.Modified)
		}
		info.TotalSize += u.Bytes
		info.Recorders = append(info.Recorders, ri)
	}
	sort.SliceStable(info.Recorders, func(i, j int) bool {
		return info.Recorders[i].Modality < info.Recorders[j].Modality
	})
	info.TotalHuman = humanize.IBytes(uint64(info.TotalSize))
	return info, nil
}

// Subscribe registers l for every orchestrator event. Listeners run on the
// capture loop and must return quickly.
func (s *CaptureService) Subscribe(l capture.Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *CaptureService) dispatch(ev capture.Event) {
	if ev.Kind == capture.EventCompleted && ev.Result != nil {
		if err := ev.Result.Err(); err != nil {
			s.setLastError(ev.Message)
		}
	}

	s.listenersMu.RLock()
	listeners := append([]capture.Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// GetConfig returns the current configuration
func (s *CaptureService) GetConfig() *config.Config {
	return s.cfg
}

// GetLastError returns the last error message
func (s *CaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *CaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
	slog.Debug("Service error set", "error", err)
}

func (s *CaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
