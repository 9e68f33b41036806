package pal

import "time"

// Stopper cancels a pending callback. Stop reports whether the call
// prevented the callback from running.
type Stopper interface {
	Stop() bool
}

// Timer schedules one-shot callbacks.
type Timer interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// StdTimer is a Timer backed by time.AfterFunc.
type StdTimer struct{}

// AfterFunc runs f in its own goroutine after d.
func (StdTimer) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}
