//go:build deadlock

// Package syncutil provides the mutex types used across go-tjc. Building
// with -tags=deadlock swaps them for github.com/sasha-s/go-deadlock so lock
// ordering problems between the receive loop and raw mode show up in tests.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

// Mutex is a deadlock-detecting mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a deadlock-detecting reader/writer mutex.
type RWMutex struct {
	deadlock.RWMutex
}
