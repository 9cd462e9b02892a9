// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
)

// Handler translates the state of one cloud device to MQTT and MQTT commands to the cloud
type Handler interface {
	DeviceID() string
	LocationID() string
	Category() string
	Kind() Kind
	Camera() bool

	// Available returns false after the handler was marked offline
	Available() bool

	// Publish publishes the configuration and state of the device
	Publish(connected bool) error
	ProcessCommand(payload, topic string)
	Offline()
}

// Commander sends commands to the cloud
type Commander interface {
	SendCommand(command *types.CommandMessage) error
}

// Availability payloads
const (
	Online  = "online"
	Offline = "offline"
)

// DefaultDiscoveryPrefix is used when no discovery prefix is given
var DefaultDiscoveryPrefix = "homeassistant"

// Info is used to construct a handler
type Info struct {
	Device          types.DeviceDescriptor
	Kind            Kind
	Category        string
	BaseTopic       string
	DiscoveryPrefix string
	Publisher       backend.Publisher
	Commander       Commander
}

// Generic handler that publishes Home Assistant discovery, availability and state
type Generic struct {
	ctx  log.Interface
	info Info

	mu        sync.Mutex
	available bool
}

// New returns a new Generic handler
func New(ctx log.Interface, info Info) *Generic {
	if info.DiscoveryPrefix == "" {
		info.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	return &Generic{
		ctx: ctx.WithFields(log.Fields{
			"LocationID": info.Device.LocationID,
			"DeviceID":   info.Device.ID,
			"Kind":       info.Kind,
		}),
		info: info,
	}
}

// DeviceID implements Handler
func (d *Generic) DeviceID() string { return d.info.Device.ID }

// LocationID implements Handler
func (d *Generic) LocationID() string { return d.info.Device.LocationID }

// Category implements Handler
func (d *Generic) Category() string { return d.info.Category }

// Kind implements Handler
func (d *Generic) Kind() Kind { return d.info.Kind }

// Camera implements Handler
func (d *Generic) Camera() bool { return d.info.Kind == KindCamera }

// Available implements Handler
func (d *Generic) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

// Topic returns the device topic for a subtopic
func (d *Generic) Topic(sub string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", d.info.BaseTopic, d.info.Device.LocationID, d.info.Category, d.info.Device.ID, sub)
}

// ConfigTopic returns the discovery topic of the device
func (d *Generic) ConfigTopic() string {
	return fmt.Sprintf("%s/%s/%s/%s/config", d.info.DiscoveryPrefix, d.info.Kind.Component(), d.info.Device.LocationID, d.info.Device.ID)
}

type discoveryConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	AvailabilityTopic string `json:"availability_topic"`
	StateTopic        string `json:"json_attributes_topic"`
	CommandTopic      string `json:"command_topic,omitempty"`
}

func (d *Generic) discovery() ([]byte, error) {
	config := discoveryConfig{
		Name:              d.info.Device.Name,
		UniqueID:          d.info.Device.ID,
		AvailabilityTopic: d.Topic("status"),
		StateTopic:        d.Topic("state"),
	}
	if config.Name == "" {
		config.Name = d.info.Device.ID
	}
	if d.info.Kind.Commandable() {
		config.CommandTopic = d.Topic("command")
	}
	return json.Marshal(config)
}

func (d *Generic) state() ([]byte, error) {
	if d.info.Device.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.info.Device.Data)
}

// Publish implements Handler
func (d *Generic) Publish(connected bool) error {
	config, err := d.discovery()
	if err != nil {
		return err
	}
	state, err := d.state()
	if err != nil {
		return err
	}
	availability := Offline
	if connected {
		availability = Online
	}
	for _, msg := range []struct {
		topic   string
		payload []byte
	}{
		{d.ConfigTopic(), config},
		{d.Topic("status"), []byte(availability)},
		{d.Topic("state"), state},
	} {
		if err := d.info.Publisher.Publish(msg.topic, msg.payload, false); err != nil {
			return fmt.Errorf("could not publish %s: %s", msg.topic, err)
		}
	}
	d.mu.Lock()
	d.available = connected
	d.mu.Unlock()
	d.ctx.WithField("Available", connected).Debug("Published device")
	return nil
}

// CommandSuffixes are the last segments of the topics that carry commands
var CommandSuffixes = []string{"command", "set"}

func commandSuffix(topic string) string {
	for _, suffix := range CommandSuffixes {
		if strings.HasSuffix(topic, "/"+suffix) {
			return suffix
		}
	}
	return ""
}

// ProcessCommand implements Handler
func (d *Generic) ProcessCommand(payload, topic string) {
	ctx := d.ctx.WithField("Topic", topic)
	prefix := d.Topic("")
	suffix := commandSuffix(topic)
	if !strings.HasPrefix(topic, prefix) || suffix == "" {
		ctx.Warn("Ignore message on unsupported topic")
		return
	}
	if !d.info.Kind.Commandable() {
		ctx.Warn("Ignore command for device that does not accept commands")
		return
	}
	command := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), suffix)
	command = strings.TrimSuffix(command, "/")
	if command == "" {
		command = "state"
	}
	if d.info.Commander == nil {
		ctx.Warn("Ignore command: no cloud connection")
		return
	}
	err := d.info.Commander.SendCommand(&types.CommandMessage{
		LocationID: d.info.Device.LocationID,
		DeviceID:   d.info.Device.ID,
		Command:    command,
		Payload:    payload,
	})
	if err != nil {
		ctx.WithError(err).Warn("Could not send command")
		return
	}
	ctx.WithField("Command", command).Info("Sent command")
}

// Offline implements Handler
func (d *Generic) Offline() {
	d.mu.Lock()
	d.available = false
	d.mu.Unlock()
	if err := d.info.Publisher.Publish(d.Topic("status"), []byte(Offline), false); err != nil {
		d.ctx.WithError(err).Warn("Could not publish offline state")
		return
	}
	d.ctx.Debug("Marked device offline")
}
