// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// PublishTimeout is the timeout before returning from publish without checking error
var PublishTimeout = 50 * time.Millisecond

// ClientIDPrefix is prepended to the random client ID
var ClientIDPrefix = "alarm-mqtt-bridge-"

// ErrNotConnected is returned when publishing while not connected to the broker
var ErrNotConnected = errors.New("mqtt: not connected")

// New returns a new MQTT
func New(config Config, ctx log.Interface) (*MQTT, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("mqtt: no brokers configured")
	}
	mqtt := &MQTT{
		ctx:           ctx.WithField("Connector", "MQTT"),
		events:        make(chan *types.BrokerEvent, BufferSize),
		subscriptions: make(map[string]paho.MessageHandler),
	}

	mqttOpts := paho.NewClientOptions()
	for _, broker := range config.Brokers {
		mqttOpts.AddBroker(broker)
	}
	if config.TLSConfig != nil {
		mqttOpts.SetTLSConfig(config.TLSConfig)
	}
	mqttOpts.SetClientID(ClientIDPrefix + uuid.New().String())
	mqttOpts.SetUsername(config.Username)
	mqttOpts.SetPassword(config.Password)
	mqttOpts.SetKeepAlive(30 * time.Second)
	mqttOpts.SetPingTimeout(10 * time.Second)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		mqtt.ctx.WithField("Topic", msg.Topic()).Warn("Received unhandled message on MQTT")
	})

	var reconnecting bool
	mqttOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		mqtt.ctx.Warnf("Disconnected (%s). Reconnecting...", err.Error())
		reconnecting = true
		mqtt.emit(&types.BrokerEvent{Type: types.BrokerReconnect, Err: err})
	})
	mqttOpts.SetOnConnectHandler(func(_ paho.Client) {
		mqtt.ctx.Info("Connected")
		if reconnecting {
			mqtt.resubscribe()
			reconnecting = false
		}
		mqtt.emit(&types.BrokerEvent{Type: types.BrokerConnect})
	})

	mqtt.client = paho.NewClient(mqttOpts)

	return mqtt, nil
}

// QoS indicates the MQTT Quality of Service level.
// 0: The broker/client will deliver the message once, with no confirmation.
// 1: The broker/client will deliver the message at least once, with confirmation required.
// 2: The broker/client will deliver the message exactly once by using a four step handshake.
var (
	PublishQoS   byte = 0x00
	SubscribeQoS byte = 0x00
)

// BufferSize indicates the maximum number of MQTT events that should be buffered
var BufferSize = 100

// Config contains configuration for MQTT
type Config struct {
	Brokers   []string
	Username  string
	Password  string
	TLSConfig *tls.Config
}

// MQTT connection of the bridge
type MQTT struct {
	ctx           log.Interface
	client        paho.Client
	events        chan *types.BrokerEvent
	subscriptions map[string]paho.MessageHandler
	mu            sync.Mutex
}

var (
	// ConnectRetries says how many times the client should retry a failed connection
	ConnectRetries = 10
	// ConnectRetryDelay says how long the client should wait between retries
	ConnectRetryDelay = time.Second
)

func (c *MQTT) emit(event *types.BrokerEvent) {
	select {
	case c.events <- event:
	default:
		c.ctx.WithField("Event", event.Type).Warn("Could not handle event: buffer full")
	}
}

// Connect to MQTT
func (c *MQTT) Connect() error {
	var err error
	for retries := 0; retries < ConnectRetries; retries++ {
		token := c.client.Connect()
		finished := token.WaitTimeout(1 * time.Second)
		if !finished {
			c.ctx.Warn("MQTT connection took longer than expected...")
			token.Wait()
		}
		err = token.Error()
		if err == nil {
			break
		}
		c.ctx.Warnf("Could not connect to MQTT (%s). Retrying...", err.Error())
		c.emit(&types.BrokerEvent{Type: types.BrokerError, Err: err})
		<-time.After(ConnectRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("Could not connect to MQTT (%s)", err)
	}
	return err
}

// Disconnect from MQTT
func (c *MQTT) Disconnect() error {
	c.client.Disconnect(100)
	return nil
}

// IsConnected returns true if the client is connected to the broker
func (c *MQTT) IsConnected() bool {
	return c.client.IsConnected()
}

// Events returns the connection events and received messages
func (c *MQTT) Events() <-chan *types.BrokerEvent {
	return c.events
}

func wildcard(topic string) bool {
	return strings.ContainsAny(topic, "+#")
}

// Subscribe to a topic. Retained messages are only delivered for topics without wildcards,
// so that stale commands are not replayed after a reconnect.
func (c *MQTT) Subscribe(topic string) error {
	ignoreRetained := wildcard(topic)
	handler := func(_ paho.Client, msg paho.Message) {
		if ignoreRetained && msg.Retained() {
			c.ctx.WithField("Topic", msg.Topic()).Debug("Ignore retained message")
			return
		}
		c.ctx.WithField("Topic", msg.Topic()).Debug("Received message")
		c.emit(&types.BrokerEvent{
			Type:    types.BrokerMessage,
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
		})
	}
	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()
	token := c.client.Subscribe(topic, SubscribeQoS, handler)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	c.ctx.WithField("Topic", topic).Debug("Subscribed")
	return nil
}

func (c *MQTT) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handler := range c.subscriptions {
		c.client.Subscribe(topic, SubscribeQoS, handler)
	}
}

// Publish a message. Errors that are not reported within PublishTimeout are logged.
func (c *MQTT) Publish(topic string, payload []byte, retain bool) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	ctx := c.ctx.WithField("Topic", topic)
	token := c.client.Publish(topic, PublishQoS, retain, payload)
	if token.WaitTimeout(PublishTimeout) {
		return token.Error()
	}
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			ctx.WithError(err).Warn("Could not publish message")
		}
	}()
	return nil
}
