// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package router routes inbound MQTT messages to device handlers.
//
// Command topics have the layout <base>/<locationId>/<category>/<deviceId>/<subtopic...>.
// Messages on status topics announce restarts of the home automation system.
package router

import (
	"strings"
	"time"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/device"
	"github.com/apex/log"
	"github.com/deckarep/golang-set"
)

// LegacyStatusTopic is always treated as a status topic
const LegacyStatusTopic = "hass/status"

// BirthPayload is the status payload that announces a (re)start
const BirthPayload = "online"

// Context for parsing topics
type Context struct {
	BaseTopicDepth int
	StatusTopics   mapset.Set
}

// NewContext returns a Context for the base topic and status topics
func NewContext(baseTopic string, statusTopics ...string) Context {
	topics := mapset.NewSet(LegacyStatusTopic)
	for _, topic := range statusTopics {
		if topic != "" {
			topics.Add(topic)
		}
	}
	return Context{
		BaseTopicDepth: len(strings.Split(baseTopic, "/")),
		StatusTopics:   topics,
	}
}

// IsStatusTopic returns true if the topic is a status topic
func (c Context) IsStatusTopic(topic string) bool {
	return c.StatusTopics.Contains(topic)
}

// Parse returns the location and device ID of a command topic
func (c Context) Parse(topic string) (locationID, deviceID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) <= c.BaseTopicDepth+2 {
		return "", "", false
	}
	return parts[c.BaseTopicDepth], parts[c.BaseTopicDepth+2], true
}

// Result of routing a message
type Result int

// Routing results
const (
	Command Result = iota
	Birth
	IgnoredStatus
	Unmatched
	Invalid
)

func (r Result) String() string {
	switch r {
	case Command:
		return "command"
	case Birth:
		return "birth"
	case IgnoredStatus:
		return "ignored_status"
	case Unmatched:
		return "unmatched"
	}
	return "invalid"
}

// Finder looks up a device handler
type Finder func(locationID, deviceID string) (device.Handler, bool)

// Hooks are called when a birth message is received
type Hooks struct {
	// Restart is called for every birth message, before the delay
	Restart func()
	// Resync is called once the birth messages settled
	Resync func()
}

// Router routes MQTT messages
type Router struct {
	ctx     log.Interface
	context Context
	find    Finder
	hooks   Hooks
	birth   *debouncer
}

// New returns a new Router. A birthDelay of 0 selects DefaultBirthDelay
func New(ctx log.Interface, context Context, find Finder, birthDelay time.Duration, hooks Hooks) *Router {
	if birthDelay == 0 {
		birthDelay = DefaultBirthDelay
	}
	r := &Router{
		ctx:     ctx,
		context: context,
		find:    find,
		hooks:   hooks,
	}
	r.birth = newDebouncer(birthDelay, r.resync)
	return r
}

func (r *Router) resync() {
	r.ctx.Info("Resyncing after restart of home automation")
	if r.hooks.Resync != nil {
		r.hooks.Resync()
	}
}

// Context returns the routing context
func (r *Router) Context() Context {
	return r.context
}

// Route a message
func (r *Router) Route(topic string, payload []byte) Result {
	res := r.route(topic, payload)
	routedCounter.WithLabelValues(res.String()).Inc()
	return res
}

func (r *Router) route(topic string, payload []byte) Result {
	ctx := r.ctx.WithField("Topic", topic)
	if r.context.IsStatusTopic(topic) {
		status := string(payload)
		ctx.WithField("Status", status).Debug("Received status")
		if status != BirthPayload {
			return IgnoredStatus
		}
		if r.hooks.Restart != nil {
			r.hooks.Restart()
		}
		r.birth.Kick()
		ctx.Info("Home automation started, resync scheduled")
		return Birth
	}
	locationID, deviceID, ok := r.context.Parse(topic)
	if !ok {
		ctx.Warn("Ignore message on invalid topic")
		return Invalid
	}
	handler, ok := r.find(locationID, deviceID)
	if !ok {
		ctx.WithFields(log.Fields{
			"LocationID": locationID,
			"DeviceID":   deviceID,
		}).Debug("Received message for unknown device")
		return Unmatched
	}
	handler.ProcessCommand(string(payload), topic)
	return Command
}

// BirthPending returns true if a resync is scheduled
func (r *Router) BirthPending() bool {
	return r.birth.Pending()
}

// Stop cancels a scheduled resync
func (r *Router) Stop() {
	r.birth.Stop()
}
