package session

import (
	"errors"
	"sync/atomic"
)

// ErrSaveInFlight is returned when a save is attempted while another is outstanding.
var ErrSaveInFlight = errors.New("a save for this session is already in progress")

// InFlight rejects a second save for one session until the first has released.
type InFlight struct {
	busy atomic.Bool
}

// Acquire marks a save as outstanding.
func (f *InFlight) Acquire() error {
	if !f.busy.CompareAndSwap(false, true) {
		return ErrSaveInFlight
	}
	return nil
}

// Release clears the outstanding save.
func (f *InFlight) Release() { f.busy.Store(false) }
