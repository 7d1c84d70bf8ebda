package capture

import (
	"errors"
	"sync"
)

// ErrClosed is returned when posting after the controlling loop has exited
var ErrClosed = errors.New("capture loop is not running")

// Mailbox carries work from producer and background goroutines to the
// controlling goroutine, which runs each posted function in order.
type Mailbox struct {
	ch        chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewMailbox creates a mailbox buffering up to size pending messages
func NewMailbox(size int) *Mailbox {
	if size < 1 {
		size = 1
	}
	return &Mailbox{
		ch:   make(chan func(), size),
		done: make(chan struct{}),
	}
}

// Post enqueues fn, blocking while the mailbox is full
func (m *Mailbox) Post(fn func()) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- fn:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// C is the receive side, read only by the controlling goroutine
func (m *Mailbox) C() <-chan func() { return m.ch }

// Close rejects further posts; pending messages are dropped
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Done is closed once the mailbox no longer accepts messages
func (m *Mailbox) Done() <-chan struct{} { return m.done }
