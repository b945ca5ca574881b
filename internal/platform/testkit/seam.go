package testkit

import (
	"sync"
	"testing"
)

var serial sync.Mutex

// Swap points *target at replacement until t finishes
func Swap[T any](t *testing.T, target *T, replacement T) {
	t.Helper()
	prev := *target
	*target = replacement
	t.Cleanup(func() { *target = prev })
}

// Serial holds a process-wide lock for the rest of t. Tests that Swap
// package seams or reset registries call it first
func Serial(t *testing.T) {
	t.Helper()
	serial.Lock()
	t.Cleanup(serial.Unlock)
}
