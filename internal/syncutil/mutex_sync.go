//go:build !deadlock

// Package syncutil provides the mutex types used across go-tjc. By default
// they are plain sync mutexes; build with -tags=deadlock to route them
// through github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// Mutex is a plain sync.Mutex.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex is a plain sync.RWMutex.
//
//nolint:gocritic // embedding exposes the full RWMutex API
type RWMutex struct {
	sync.RWMutex
}
