// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package clock provides the wall-clock source stamped once per inbound
// frame. Handlers take a Clock instead of calling time.Now() directly so
// tests can drive expiry deterministically.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time in milliseconds since the Unix epoch.
type Clock interface {
	NowMillis() int64
}

// Real is a Clock backed by the system wall clock.
type Real struct{}

// NowMillis implements Clock.
func (Real) NowMillis() int64 { return time.Now().UnixMilli() }

// Fake is a Clock whose value is set explicitly by tests.
type Fake struct {
	millis atomic.Int64
}

// NewFake returns a Fake clock initialized to millis.
func NewFake(millis int64) *Fake {
	f := &Fake{}
	f.millis.Store(millis)
	return f
}

// NowMillis implements Clock.
func (f *Fake) NowMillis() int64 { return f.millis.Load() }

// Set updates the fake clock's current time.
func (f *Fake) Set(millis int64) { f.millis.Store(millis) }

// Advance moves the fake clock forward by delta milliseconds.
func (f *Fake) Advance(delta int64) { f.millis.Add(delta) }
