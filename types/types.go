// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

// LocationDescriptor is a location as reported by the cloud
type LocationDescriptor struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	HasHubs bool   `yaml:"hubs"`
}

// DeviceDescriptor is a device as reported by the cloud
type DeviceDescriptor struct {
	ID         string                 `yaml:"id"`
	LocationID string                 `yaml:"-"`
	DeviceType string                 `yaml:"type"`
	CategoryID int                    `yaml:"category"`
	Name       string                 `yaml:"name"`
	Camera     bool                   `yaml:"-"`
	Data       map[string]interface{} `yaml:"data"`
}

// ConnectivityMessage is sent by the cloud when the real-time connection of a location changes
type ConnectivityMessage struct {
	LocationID string
	Connected  bool
}

// CommandMessage is a command for a cloud device, received on MQTT
type CommandMessage struct {
	LocationID string
	DeviceID   string
	Command    string
	Payload    string
}

// BrokerEventType is the type of a BrokerEvent
type BrokerEventType int

// Broker event types
const (
	BrokerConnect BrokerEventType = iota
	BrokerReconnect
	BrokerError
	BrokerMessage
)

func (t BrokerEventType) String() string {
	switch t {
	case BrokerConnect:
		return "connect"
	case BrokerReconnect:
		return "reconnect"
	case BrokerError:
		return "error"
	case BrokerMessage:
		return "message"
	}
	return "unknown"
}

// BrokerEvent is emitted by the MQTT broker connection
type BrokerEvent struct {
	Type    BrokerEventType
	Topic   string
	Payload []byte
	Err     error
}
