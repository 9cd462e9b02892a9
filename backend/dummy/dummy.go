// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package dummy

import (
	"errors"
	"strings"
	"sync"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
)

// BufferSize indicates the maximum number of dummy messages that should be buffered
var BufferSize = 100

// Message published on the dummy broker
type Message struct {
	Topic   string
	Payload string
	Retain  bool
}

// ErrNotConnected is returned when publishing on a disconnected broker
var ErrNotConnected = errors.New("dummy: not connected")

// Broker is an in-memory MQTT broker
type Broker struct {
	mu            sync.Mutex
	ctx           log.Interface
	connected     bool
	events        chan *types.BrokerEvent
	subscriptions []string
	published     []Message

	// PublishErr is returned by Publish when set
	PublishErr error
}

// NewBroker returns a new dummy Broker
func NewBroker(ctx log.Interface) *Broker {
	return &Broker{
		ctx:    ctx.WithField("Connector", "Dummy"),
		events: make(chan *types.BrokerEvent, BufferSize),
	}
}

func (b *Broker) emit(event *types.BrokerEvent) {
	select {
	case b.events <- event:
	default:
		b.ctx.WithField("Event", event.Type).Debug("Did not emit event [buffer full]")
	}
}

// Connect implements backend.Broker
func (b *Broker) Connect() error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.ctx.Debug("Connected")
	b.emit(&types.BrokerEvent{Type: types.BrokerConnect})
	return nil
}

// Disconnect implements backend.Broker
func (b *Broker) Disconnect() error {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.ctx.Debug("Disconnected")
	return nil
}

// Drop simulates a lost connection
func (b *Broker) Drop() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.emit(&types.BrokerEvent{Type: types.BrokerReconnect})
}

// IsConnected implements backend.Broker
func (b *Broker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Subscribe implements backend.Broker
func (b *Broker) Subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, topic)
	b.ctx.WithField("Topic", topic).Debug("Subscribed")
	return nil
}

// Subscriptions returns the subscribed topics
func (b *Broker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscriptions...)
}

// Publish implements backend.Publisher
func (b *Broker) Publish(topic string, payload []byte, retain bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PublishErr != nil {
		return b.PublishErr
	}
	b.published = append(b.published, Message{Topic: topic, Payload: string(payload), Retain: retain})
	return nil
}

// Published returns the messages published on topics with the given prefix
func (b *Broker) Published(prefix string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var published []Message
	for _, msg := range b.published {
		if strings.HasPrefix(msg.Topic, prefix) {
			published = append(published, msg)
		}
	}
	return published
}

// Reset forgets the published messages
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

// Deliver simulates a message received from the broker
func (b *Broker) Deliver(topic string, payload string) {
	b.emit(&types.BrokerEvent{Type: types.BrokerMessage, Topic: topic, Payload: []byte(payload)})
}

// Events implements backend.Broker
func (b *Broker) Events() <-chan *types.BrokerEvent {
	return b.events
}
