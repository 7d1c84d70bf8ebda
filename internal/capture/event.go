package capture

import (
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/storage"
)

// EventKind names a notification emitted by the orchestrator
type EventKind string

const (
	// EventProgress carries countdown ticks and the saving indicator
	EventProgress EventKind = "progress"
	// EventRecordingBegan and EventRecordingEnded are the audio cue triggers
	EventRecordingBegan EventKind = "recording_began"
	EventRecordingEnded EventKind = "recording_ended"
	// EventCanceled fires when a countdown is cancelled
	EventCanceled EventKind = "canceled"
	// EventCompleted fires once per saved session with the summary
	EventCompleted EventKind = "completed"
	// EventFinishedBySystem fires when the byte budget stopped the capture
	EventFinishedBySystem EventKind = "finished_by_system"
	// EventDeleted fires after all captured data was removed
	EventDeleted EventKind = "deleted"
)

// Phase of a progress event
type Phase string

const (
	PhaseCountdown Phase = "countdown"
	PhaseSaving    Phase = "saving"
)

// Event is delivered to the Listener on the controlling goroutine
type Event struct {
	Kind      EventKind
	SessionID string
	Mode      Mode

	// Progress fields
	Phase     Phase
	Remaining time.Duration
	Blocking  bool

	// Message is the user-facing text for canceled, completed and saving events
	Message string

	// Completed fields
	Result *storage.Result
	Reason StopReason
}

// Listener receives orchestrator events. It runs on the controlling
// goroutine and must not call back into the orchestrator synchronously.
type Listener func(Event)
