// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package backend

import "github.com/TheThingsNetwork/alarm-mqtt-bridge/types"

// Publisher publishes a payload on a topic
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

// Broker talks to the MQTT broker
type Broker interface {
	Publisher
	Connect() error
	Disconnect() error
	IsConnected() bool
	Subscribe(topic string) error
	// Events returns the connection events and received messages of the broker
	Events() <-chan *types.BrokerEvent
}

// Cloud talks to the cloud that manages the devices
type Cloud interface {
	ListLocations() ([]types.LocationDescriptor, error)
	ListDevices(locationID string) ([]types.DeviceDescriptor, error)
	ListCameras(locationID string) ([]types.DeviceDescriptor, error)
	SupportsModeSwitching(locationID string) (bool, error)

	// SubscribeConnectivity subscribes to the real-time connection state of a location.
	// The current state is delivered first.
	SubscribeConnectivity(locationID string) (<-chan *types.ConnectivityMessage, error)
	UnsubscribeConnectivity(locationID string) error

	SendCommand(command *types.CommandMessage) error
}

// TokenNotifier is implemented by clouds that rotate their refresh token
type TokenNotifier interface {
	SubscribeToken() (<-chan string, error)
}
