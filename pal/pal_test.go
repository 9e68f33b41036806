package pal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStdTimerFires(t *testing.T) {
	done := make(chan struct{})
	StdTimer{}.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
}

func TestStdTimerStop(t *testing.T) {
	var fired atomic.Bool
	s := StdTimer{}.AfterFunc(time.Hour, func() { fired.Store(true) })

	if !s.Stop() {
		t.Error("Stop() = false, want true for a pending callback")
	}
	if fired.Load() {
		t.Error("callback ran after Stop")
	}
}

func TestMutexLock(t *testing.T) {
	l := NewMutexLock()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Acquire()
			l.EnterCritical()
			counter++
			l.ExitCritical()
			l.Release()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestMutexLockIndependentSections(t *testing.T) {
	l := NewMutexLock()

	// Holding the state lock must not block port access from elsewhere.
	l.Acquire()
	defer l.Release()

	done := make(chan struct{})
	go func() {
		l.EnterCritical()
		l.ExitCritical()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("critical section blocked by state lock")
	}
}
