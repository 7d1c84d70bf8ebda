package capture

import (
	"go.uber.org/atomic"
)

// Budget keeps the running total of bytes buffered by blob recorders and
// trips once when the total reaches the configured ceiling. Report is safe to
// call from any goroutine.
type Budget struct {
	max     int64
	total   *atomic.Int64
	tripped *atomic.Bool
	epoch   *atomic.Int64
	onTrip  func(epoch int64)
}

// NewBudget creates a budget of maxBytes. A ceiling <= 0 never trips.
// onTrip receives the epoch the trip belongs to.
func NewBudget(maxBytes int64, onTrip func(epoch int64)) *Budget {
	return &Budget{
		max:     maxBytes,
		total:   atomic.NewInt64(0),
		tripped: atomic.NewBool(false),
		epoch:   atomic.NewInt64(0),
		onTrip:  onTrip,
	}
}

// Report adds n bytes. The first report that brings the total to the ceiling
// invokes onTrip; later reports only accumulate until Reset.
func (b *Budget) Report(n int) {
	total := b.total.Add(int64(n))
	if b.max <= 0 || total < b.max {
		return
	}
	if b.tripped.CAS(false, true) && b.onTrip != nil {
		b.onTrip(b.epoch.Load())
	}
}

// Reset zeroes the total, re-arms the trip and starts a new epoch
func (b *Budget) Reset() {
	b.epoch.Inc()
	b.total.Store(0)
	b.tripped.Store(false)
}

func (b *Budget) Total() int64  { return b.total.Load() }
func (b *Budget) Max() int64    { return b.max }
func (b *Budget) Tripped() bool { return b.tripped.Load() }
func (b *Budget) Epoch() int64  { return b.epoch.Load() }
