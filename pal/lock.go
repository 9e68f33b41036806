package pal

import "sync"

// Lock guards scheduler state. Acquire/Release protect the transaction
// state and session context; EnterCritical/ExitCritical bracket port
// access. Callers take Acquire before EnterCritical, never the reverse.
type Lock interface {
	Acquire()
	Release()
	EnterCritical()
	ExitCritical()
}

// MutexLock implements Lock with two mutexes.
type MutexLock struct {
	state sync.Mutex
	port  sync.Mutex
}

// NewMutexLock returns a ready to use MutexLock.
func NewMutexLock() *MutexLock {
	return &MutexLock{}
}

func (l *MutexLock) Acquire()       { l.state.Lock() }
func (l *MutexLock) Release()       { l.state.Unlock() }
func (l *MutexLock) EnterCritical() { l.port.Lock() }
func (l *MutexLock) ExitCritical()  { l.port.Unlock() }
