// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/device"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/dispatch"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/monitor"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/registry"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/republish"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/router"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/status"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
	"github.com/deckarep/golang-set"
)

// Config of the Exchange
type Config struct {
	BaseTopic       string
	StatusTopic     string
	DiscoveryPrefix string

	EnableCameras bool
	EnableModes   bool

	// LocationIDs limits the synced locations. All locations are synced when empty
	LocationIDs []string

	RepublishCount    int
	RepublishInterval time.Duration
	OfflineGrace      time.Duration
	BirthDelay        time.Duration
}

// DefaultBaseTopic is used when no base topic is configured
const DefaultBaseTopic = "ring"

// Exchange synchronizes the devices of the cloud with the MQTT broker.
//
// When the broker connects:
// - The status and command topics are subscribed
// - The devices of all locations are synced from the cloud
// - Locations with hubs are subscribed to connectivity, other locations are republished
// Commands received on MQTT are routed to the device handlers, and birth messages on the
// status topics trigger a resync.
type Exchange struct {
	ctx      log.Interface
	config   Config
	done     chan struct{}
	stopOnce sync.Once

	cloud  backend.Cloud
	broker backend.Broker

	mu        sync.Mutex
	mirrors   []backend.Publisher
	connected bool

	syncLock  sync.Mutex
	locations mapset.Set

	registry  *registry.Registry
	monitor   *monitor.Monitor
	scheduler *republish.Scheduler
	router    *router.Router
}

// New initializes a new Exchange
func New(ctx log.Interface, cloud backend.Cloud, broker backend.Broker, config Config) *Exchange {
	if config.BaseTopic == "" {
		config.BaseTopic = DefaultBaseTopic
	}
	e := &Exchange{
		ctx:    ctx,
		config: config,
		done:   make(chan struct{}),
		cloud:  cloud,
		broker: broker,
	}
	if len(config.LocationIDs) > 0 {
		e.locations = mapset.NewSet()
		for _, locationID := range config.LocationIDs {
			e.locations.Add(locationID)
		}
	}
	e.registry = registry.New(ctx, registry.Options{
		EnableCameras: config.EnableCameras,
		EnableModes:   config.EnableModes,
	}, e.newHandler)
	e.monitor = monitor.New(ctx, config.OfflineGrace, e.locationConnected, e.locationOffline)
	e.scheduler = republish.New(ctx, republish.Config{
		Count:    config.RepublishCount,
		Interval: config.RepublishInterval,
	}, e)
	e.router = router.New(ctx, router.NewContext(config.BaseTopic, config.StatusTopic), e.registry.Find, config.BirthDelay, router.Hooks{
		Restart: e.scheduler.CancelAll,
		Resync:  e.resync,
	})
	return e
}

func (e *Exchange) newHandler(kind device.Kind, d types.DeviceDescriptor) device.Handler {
	registeredDevices.WithLabelValues(string(kind)).Inc()
	return device.New(e.ctx, device.Info{
		Device:          d,
		Kind:            kind,
		Category:        dispatch.Category(kind),
		BaseTopic:       e.config.BaseTopic,
		DiscoveryPrefix: e.config.DiscoveryPrefix,
		Publisher:       e,
		Commander:       e.cloud,
	})
}

// AddMirror adds a publisher that receives a copy of every publication
func (e *Exchange) AddMirror(mirror ...backend.Publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mirrors = append(e.mirrors, mirror...)
}

// Publish publishes to the broker and all mirrors
func (e *Exchange) Publish(topic string, payload []byte, retain bool) error {
	e.mu.Lock()
	mirrors := e.mirrors
	e.mu.Unlock()
	for _, mirror := range mirrors {
		if err := mirror.Publish(topic, payload, retain); err != nil {
			e.ctx.WithFields(log.Fields{
				"Backend": fmt.Sprintf("%T", mirror),
				"Topic":   topic,
			}).WithError(err).Warn("Could not mirror publication")
		}
	}
	return e.broker.Publish(topic, payload, retain)
}

// Devices returns the device handlers of a location
func (e *Exchange) Devices(locationID string) []device.Handler {
	return e.registry.Devices(locationID)
}

// LocationConnected returns the connectivity of a location
func (e *Exchange) LocationConnected(locationID string) bool {
	return e.monitor.Connected(locationID)
}

// BrokerConnected returns true if the MQTT broker is connected
func (e *Exchange) BrokerConnected() bool {
	return e.broker.IsConnected()
}

// Connected returns the connection state as reported by the last broker event
func (e *Exchange) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Status returns the status of the broker connection and all locations
func (e *Exchange) Status() status.Status {
	st := status.Status{
		MQTTConnected: e.Connected(),
		Locations:     []status.Location{},
	}
	for _, location := range e.registry.Locations() {
		handlers := e.registry.Devices(location.ID)
		var available int
		for _, handler := range handlers {
			if handler.Available() {
				available++
			}
		}
		st.Locations = append(st.Locations, status.Location{
			ID:           location.ID,
			Name:         location.Name,
			Monitored:    location.Monitored,
			Connected:    e.monitor.Connected(location.ID),
			Devices:      len(handlers),
			Available:    available,
			Republishing: e.scheduler.Active(location.ID),
		})
	}
	return st
}

func (e *Exchange) setConnected(connected bool) {
	e.mu.Lock()
	e.connected = connected
	e.mu.Unlock()
	if connected {
		mqttConnected.Set(1)
	} else {
		mqttConnected.Set(0)
	}
}

func (e *Exchange) locationConnected(locationID string) {
	e.scheduler.Start(locationID, false)
}

func (e *Exchange) locationOffline(locationID string) {
	offlineSweeps.Inc()
	for _, handler := range e.registry.Devices(locationID) {
		if handler.Camera() {
			continue
		}
		handler.Offline()
	}
}

// resync runs after a birth message cancelled all cycles. When the cloud can not be
// reached, the known devices are republished instead.
func (e *Exchange) resync() {
	err := e.Sync(true)
	if err == nil {
		return
	}
	e.ctx.WithError(err).Warn("Could not resync, republishing known devices")
	for _, location := range e.registry.Locations() {
		if len(e.registry.Devices(location.ID)) == 0 {
			continue
		}
		e.scheduler.Start(location.ID, true)
	}
}

func (e *Exchange) commandTopics() (topics []string) {
	for _, suffix := range device.CommandSuffixes {
		topics = append(topics,
			e.config.BaseTopic+"/+/+/+/"+suffix,
			e.config.BaseTopic+"/+/+/+/+/"+suffix,
		)
	}
	return
}

func (e *Exchange) subscribe() {
	var topics []string
	for _, topic := range e.router.Context().StatusTopics.ToSlice() {
		topics = append(topics, topic.(string))
	}
	topics = append(topics, e.commandTopics()...)
	for _, topic := range topics {
		if err := e.broker.Subscribe(topic); err != nil {
			e.ctx.WithField("Topic", topic).WithError(err).Error("Could not subscribe")
		}
	}
}

// Sync reconciles the devices of all locations with the cloud and starts publishing them.
// With reset, running republish cycles restart with the configured count.
func (e *Exchange) Sync(reset bool) error {
	e.syncLock.Lock()
	defer e.syncLock.Unlock()
	locations, err := e.cloud.ListLocations()
	if err != nil {
		return fmt.Errorf("could not list locations: %s", err)
	}
	syncCounter.Inc()
	for _, loc := range locations {
		ctx := e.ctx.WithField("LocationID", loc.ID)
		if e.locations != nil && !e.locations.Contains(loc.ID) {
			ctx.Debug("Skip location that is not configured")
			continue
		}
		location, added := e.registry.AddLocation(loc)
		if added {
			ctx.WithField("Name", loc.Name).Info("New location")
		}
		if err := e.syncLocation(loc); err != nil {
			ctx.WithError(err).Warn("Could not sync location")
			continue
		}
		if len(e.registry.Devices(loc.ID)) == 0 {
			ctx.Debug("No devices in location")
			continue
		}
		if location.NeedsMonitor && e.registry.SetMonitored(loc.ID) {
			sub, err := e.cloud.SubscribeConnectivity(loc.ID)
			if err == nil {
				go e.monitor.Watch(sub, e.done)
				ctx.Debug("Monitoring connectivity")
				continue
			}
			e.registry.ClearMonitored(loc.ID)
			ctx.WithError(err).Warn("Could not subscribe to connectivity")
		}
		e.scheduler.Start(loc.ID, reset)
	}
	return nil
}

func (e *Exchange) syncLocation(loc types.LocationDescriptor) (err error) {
	devices, err := e.cloud.ListDevices(loc.ID)
	if err != nil {
		return err
	}
	var cameras []types.DeviceDescriptor
	if e.config.EnableCameras {
		if cameras, err = e.cloud.ListCameras(loc.ID); err != nil {
			return err
		}
	}
	var modes bool
	if e.config.EnableModes {
		if modes, err = e.cloud.SupportsModeSwitching(loc.ID); err != nil {
			return err
		}
	}
	res := e.registry.Reconcile(loc, devices, cameras, modes)
	for _, deviceType := range res.Unsupported {
		unsupportedDevices.WithLabelValues(deviceType).Inc()
	}
	return nil
}

func (e *Exchange) handleEvents() {
	events := e.broker.Events()
	for {
		select {
		case <-e.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Type {
			case types.BrokerConnect:
				e.setConnected(true)
				e.ctx.Info("Connected to MQTT")
				e.subscribe()
				go func() {
					if err := e.Sync(false); err != nil {
						e.ctx.WithError(err).Error("Could not sync devices")
					}
				}()
			case types.BrokerReconnect:
				e.setConnected(false)
				e.ctx.Warn("Connection to MQTT lost, reconnecting")
			case types.BrokerError:
				e.setConnected(false)
				e.ctx.WithError(event.Err).Warn("MQTT error")
			case types.BrokerMessage:
				e.router.Route(event.Topic, event.Payload)
			}
		}
	}
}

// Start the Exchange
func (e *Exchange) Start() {
	go e.handleEvents()
}

// Stop the Exchange
func (e *Exchange) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.router.Stop()
		e.scheduler.CancelAll()
		e.monitor.Stop()
		for _, location := range e.registry.Locations() {
			if !location.Monitored {
				continue
			}
			if err := e.cloud.UnsubscribeConnectivity(location.ID); err != nil {
				e.ctx.WithField("LocationID", location.ID).WithError(err).Warn("Could not unsubscribe from connectivity")
			}
		}
	})
}

// Shutdown marks all available devices offline and stops the Exchange after the grace delay
func (e *Exchange) Shutdown(grace time.Duration) {
	e.scheduler.CancelAll()
	var offline int
	for _, handler := range e.registry.All() {
		if !handler.Available() {
			continue
		}
		handler.Offline()
		offline++
	}
	e.ctx.WithField("Devices", offline).Info("Marked devices offline")
	time.Sleep(grace)
	e.Stop()
}
