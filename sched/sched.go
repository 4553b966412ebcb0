// Package sched holds the cooperative scheduling primitives the firmware
// tasks are written against: lifetime tasks, explicit yields, cooperative
// sleeps and a mutex whose TryLock never blocks.
//
// On the Teensy original these map to a time-sliced thread library; here
// they map onto goroutines and the Go runtime. Keeping the contract in one
// place keeps the task code honest about its suspension points: every loop
// iteration ends in a Sleep, a Yield or a blocking Lock.
package sched

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var taskCount atomic.Int32

// Spawn starts fn as a lifetime task. Lifetime tasks never return; there
// is no join.
func Spawn(fn func()) {
	taskCount.Add(1)
	go fn()
}

// TaskCount reports how many tasks have been spawned. Diagnostics only.
func TaskCount() int {
	return int(taskCount.Load())
}

// Yield relinquishes the current slice.
func Yield() {
	runtime.Gosched()
}

// Sleep suspends the calling task for at least d.
func Sleep(d time.Duration) {
	time.Sleep(d)
}

// Mutex is the only blocking primitive available to tasks. TryLock never
// blocks; Lock waits, bounded by the scheduler rather than a deadline.
type Mutex struct {
	mu sync.Mutex
}

func (m *Mutex) Lock() {
	m.mu.Lock()
}

// TryLock acquires the mutex if it is free and reports whether it did.
func (m *Mutex) TryLock() bool {
	return m.mu.TryLock()
}

func (m *Mutex) Unlock() {
	m.mu.Unlock()
}
