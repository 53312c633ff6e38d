// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tjc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Link reopen defaults. A panel that is power cycled takes a few seconds
// before its USB adapter enumerates again.
const (
	DefaultReopenAttempts   = 5
	ReopenInitialBackoff    = 250 * time.Millisecond
	ReopenMaxBackoff        = 4 * time.Second
	ReopenBackoffMultiplier = 2.0
	ReopenJitter            = 0.1
	ReopenRetryTimeout      = 30 * time.Second
)

// RetryConfig configures RetryWithConfig. The engine never retries on its
// own; this is for callers that reconnect or repeat failed transfers.
type RetryConfig struct {
	// ShouldRetry decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	ShouldRetry func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, wait time.Duration)
	// MaxAttempts is the maximum number of attempts (0 = single attempt)
	MaxAttempts int
	// InitialBackoff is the first wait
	InitialBackoff time.Duration
	// MaxBackoff caps the wait
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after every attempt
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the wait at random
	Jitter float64
	// RetryTimeout bounds all attempts together
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns a short retry configuration for single
// operations.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      10 * time.Second,
	}
}

// ReopenRetryConfig returns the configuration used to reopen a link.
func ReopenRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultReopenAttempts,
		InitialBackoff:    ReopenInitialBackoff,
		MaxBackoff:        ReopenMaxBackoff,
		BackoffMultiplier: ReopenBackoffMultiplier,
		Jitter:            ReopenJitter,
		RetryTimeout:      ReopenRetryTimeout,
		// reopening targets exactly the device-gone errors IsRetryable rejects
		ShouldRetry: func(error) bool { return true },
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// RetryWithConfig runs fn until it succeeds, returns an error ShouldRetry
// rejects, runs out of attempts or the context ends. The last error is
// returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn()
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	shouldRetry := config.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	var lastErr error
	backoff := config.InitialBackoff
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}

		wait := jitter(backoff, config.Jitter)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, wait)
		}
		if !sleepContext(ctx, wait) {
			return lastErr
		}
		backoff = nextBackoff(backoff, config)
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if config.MaxBackoff > 0 && next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

func jitter(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*factor*float64(base)) //nolint:gosec // timing jitter
}
