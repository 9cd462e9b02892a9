// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package router

import (
	"sync"
	"time"
)

// DefaultBirthDelay is the time to wait after the last birth message before resyncing
const DefaultBirthDelay = 35 * time.Second

type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	pending  bool
	callback func()
}

func newDebouncer(delay time.Duration, callback func()) *debouncer {
	d := &debouncer{
		delay:    delay,
		callback: callback,
	}
	d.timer = time.AfterFunc(delay, d.fire)
	d.timer.Stop()
	return d
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.callback()
}

// Kick (re)arms the debouncer. The callback runs once, delay after the last kick
func (d *debouncer) Kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timer.Stop()
	d.pending = true
	d.timer.Reset(d.delay)
}

// Pending returns true if the callback is scheduled
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop the debouncer without running the callback
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timer.Stop()
	d.pending = false
}
