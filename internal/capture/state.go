package capture

import (
	"fmt"
	"strings"
)

// State of the capture state machine
type State string

const (
	StateIdle         State = "IDLE"
	StateArming       State = "ARMING"
	StateSnapshotSave State = "SNAPSHOT_SAVE"
	StateRecording    State = "RECORDING"
	StateSaving       State = "SAVING"
)

// Mode selects between a single snapshot and a continuous capture
type Mode string

const (
	ModeSingle   Mode = "single"
	ModeMultiple Mode = "multiple"
)

// ParseMode accepts "single" or "multiple", case-insensitively
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSingle:
		return ModeSingle, nil
	case ModeMultiple, "":
		return ModeMultiple, nil
	}
	return "", fmt.Errorf("unknown capture mode: %q (valid: single, multiple)", s)
}

// StopReason tells who ended a continuous capture
type StopReason string

const (
	StopOperator StopReason = "operator"
	StopBudget   StopReason = "budget"
)
