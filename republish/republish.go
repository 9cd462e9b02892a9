// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package republish periodically republishes the devices of a location.
//
// Each location has at most one running cycle. Starting a cycle for a location that
// already has one stops the running cycle and continues with the new remaining count.
package republish

import (
	"sync"
	"time"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/device"
	"github.com/apex/log"
)

// Defaults for the scheduler
const (
	DefaultCount    = 6
	DefaultInterval = 30 * time.Second
)

// Config for the scheduler
type Config struct {
	Count    int
	Interval time.Duration
}

// Source provides the state that a cycle publishes
type Source interface {
	Devices(locationID string) []device.Handler
	LocationConnected(locationID string) bool
	BrokerConnected() bool
}

type cycle struct {
	remaining int
	done      chan struct{}
	running   bool
}

// Scheduler runs republish cycles
type Scheduler struct {
	ctx    log.Interface
	config Config
	source Source

	mu      sync.Mutex
	cycles  map[string]*cycle
	running int
}

// New returns a new Scheduler
func New(ctx log.Interface, config Config, source Source) *Scheduler {
	if config.Count <= 0 {
		config.Count = DefaultCount
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Scheduler{
		ctx:    ctx,
		config: config,
		source: source,
		cycles: make(map[string]*cycle),
	}
}

// Start a cycle for a location. The first cycle of a location and cycles started with reset
// publish the configured count, otherwise at least one more round is published.
func (s *Scheduler) Start(locationID string, reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.config.Count
	if prev, ok := s.cycles[locationID]; ok {
		remaining = prev.remaining
		if prev.running {
			close(prev.done)
			prev.running = false
			s.running--
		}
	}
	if reset {
		remaining = s.config.Count
	} else if remaining < 1 {
		remaining = 1
	}
	c := &cycle{
		remaining: remaining,
		done:      make(chan struct{}),
		running:   true,
	}
	s.cycles[locationID] = c
	s.running++
	activeCycles.Set(float64(s.running))
	go s.run(locationID, c)
}

func (s *Scheduler) next(c *cycle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.running && c.remaining > 0
}

func (s *Scheduler) finish(c *cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.running {
		c.running = false
		s.running--
		activeCycles.Set(float64(s.running))
	}
}

func (s *Scheduler) run(locationID string, c *cycle) {
	ctx := s.ctx.WithField("LocationID", locationID)
	defer s.finish(c)
	for s.next(c) {
		if !s.source.BrokerConnected() {
			ctx.Debug("Stop republishing: not connected to MQTT")
			return
		}
		s.publish(ctx, locationID)
		select {
		case <-c.done:
			ctx.Debug("Republish cycle superseded")
			return
		case <-time.After(s.config.Interval):
		}
		s.mu.Lock()
		c.remaining--
		s.mu.Unlock()
	}
}

func (s *Scheduler) publish(ctx log.Interface, locationID string) {
	connected := s.source.LocationConnected(locationID)
	devices := s.source.Devices(locationID)
	for _, d := range devices {
		if err := d.Publish(connected); err != nil {
			publishErrors.Inc()
			ctx.WithField("DeviceID", d.DeviceID()).WithError(err).Warn("Could not publish device")
		}
	}
	republishRounds.Inc()
	ctx.WithFields(log.Fields{
		"Devices":   len(devices),
		"Connected": connected,
	}).Debug("Republished devices")
}

// Remaining returns the remaining rounds of the cycle of a location
func (s *Scheduler) Remaining(locationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cycles[locationID]; ok {
		return c.remaining
	}
	return 0
}

// Active returns true if a cycle is running for the location
func (s *Scheduler) Active(locationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[locationID]
	return ok && c.running
}

// Running returns the number of running cycles
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CancelAll stops all running cycles and clears their remaining count
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cycles {
		if c.running {
			close(c.done)
			c.running = false
			s.running--
		}
		c.remaining = 0
	}
	activeCycles.Set(float64(s.running))
}
