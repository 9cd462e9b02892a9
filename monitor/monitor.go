// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package monitor derives device availability from the connectivity of locations.
//
// A location that disconnects is only reported offline after a grace period, so that
// short interruptions of the cloud connection do not make devices unavailable.
package monitor

import (
	"sync"
	"time"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
)

// State of a location
type State int

// Location states
const (
	Connected State = iota
	Disconnected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// DefaultGracePeriod is the time a location must be disconnected before its devices are marked offline
var DefaultGracePeriod = 30 * time.Second

type location struct {
	state State
	timer *time.Timer
	gen   uint64
}

// Monitor keeps the connectivity state of locations
type Monitor struct {
	ctx   log.Interface
	grace time.Duration

	onConnected func(locationID string)
	onOffline   func(locationID string)

	mu        sync.Mutex
	locations map[string]*location
}

// New returns a new Monitor. onConnected is called when a location (re)connects, onOffline
// when a location stayed disconnected for the grace period.
func New(ctx log.Interface, grace time.Duration, onConnected, onOffline func(locationID string)) *Monitor {
	if grace == 0 {
		grace = DefaultGracePeriod
	}
	return &Monitor{
		ctx:         ctx,
		grace:       grace,
		onConnected: onConnected,
		onOffline:   onOffline,
		locations:   make(map[string]*location),
	}
}

func (m *Monitor) get(locationID string) *location {
	loc, ok := m.locations[locationID]
	if !ok {
		loc = &location{state: Connected}
		m.locations[locationID] = loc
	}
	return loc
}

// State returns the state of a location. Unknown locations are connected.
func (m *Monitor) State(locationID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc, ok := m.locations[locationID]; ok {
		return loc.state
	}
	return Connected
}

// Connected returns true if the location is connected
func (m *Monitor) Connected(locationID string) bool {
	return m.State(locationID) == Connected
}

// Handle a connectivity message
func (m *Monitor) Handle(msg *types.ConnectivityMessage) {
	ctx := m.ctx.WithField("LocationID", msg.LocationID)
	m.mu.Lock()
	loc := m.get(msg.LocationID)
	if !msg.Connected && loc.state == Disconnected && loc.timer != nil {
		// The grace period runs from the first disconnect
		m.mu.Unlock()
		ctx.Debug("Location still disconnected")
		return
	}
	if loc.timer != nil {
		loc.timer.Stop()
		loc.timer = nil
	}
	loc.gen++
	if msg.Connected {
		loc.state = Connected
		m.mu.Unlock()
		ctx.Info("Location connected")
		if m.onConnected != nil {
			m.onConnected(msg.LocationID)
		}
		return
	}
	loc.state = Disconnected
	gen := loc.gen
	loc.timer = time.AfterFunc(m.grace, func() {
		m.expire(msg.LocationID, gen)
	})
	m.mu.Unlock()
	ctx.WithField("GracePeriod", m.grace).Info("Location disconnected")
}

func (m *Monitor) expire(locationID string, gen uint64) {
	m.mu.Lock()
	loc := m.get(locationID)
	if loc.gen != gen || loc.state != Disconnected {
		m.mu.Unlock()
		return
	}
	loc.timer = nil
	m.mu.Unlock()
	m.ctx.WithField("LocationID", locationID).Warn("Location still disconnected, marking devices offline")
	if m.onOffline != nil {
		m.onOffline(locationID)
	}
}

// Watch handles the messages of a connectivity subscription until it is closed or done is closed
func (m *Monitor) Watch(sub <-chan *types.ConnectivityMessage, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			m.Handle(msg)
		}
	}
}

// Stop cancels all pending grace timers
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, loc := range m.locations {
		if loc.timer != nil {
			loc.timer.Stop()
			loc.timer = nil
		}
		loc.gen++
	}
}
