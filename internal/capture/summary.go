package capture

import (
	"fmt"

	"github.com/audiolibrelab/sensorcapture/internal/storage"
	"github.com/dustin/go-humanize"
)

const (
	msgCanceled = "Canceled record."
	msgNoRecord = "No record saves."
	msgDeleted  = "Delete all data."
	msgSaving   = "Saving"
)

// Summary turns a save result into the message shown to the operator.
// Single mode only reports success or failure; Multiple mode reports counts.
func Summary(mode Mode, res storage.Result) string {
	if res.Fatal != nil {
		return fmt.Sprintf("Failed to save: %v", res.Fatal)
	}

	var msg string
	switch {
	case res.Empty():
		msg = msgNoRecord
	case mode == ModeSingle:
		msg = "Succeed in save."
	default:
		msg = fmt.Sprintf("Succeed in save: %d rows, %d blobs", res.Rows, res.Blobs)
		if res.Bytes > 0 {
			msg += fmt.Sprintf(" (%s)", humanize.IBytes(uint64(res.Bytes)))
		}
		msg += "."
	}

	if n := len(res.Errors); n > 0 {
		msg += fmt.Sprintf("\nWarning: %d recorder(s) failed to save", n)
	}
	return msg
}
