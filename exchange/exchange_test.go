// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package exchange

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend/dummy"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	. "github.com/smartystreets/goconvey/convey"
)

func lastPayload(broker *dummy.Broker, topic string) string {
	published := broker.Published(topic)
	if len(published) == 0 {
		return ""
	}
	return published[len(published)-1].Payload
}

// unreliableCloud fails connectivity subscriptions and location listings on demand
type unreliableCloud struct {
	*dummy.Cloud

	mu                sync.Mutex
	subscribeFailures int
	listFailure       bool
	subscribeCalls    int
	unsubscribeCalls  int
}

func (c *unreliableCloud) SubscribeConnectivity(locationID string) (<-chan *types.ConnectivityMessage, error) {
	c.mu.Lock()
	c.subscribeCalls++
	if c.subscribeFailures > 0 {
		c.subscribeFailures--
		c.mu.Unlock()
		return nil, errors.New("subscription refused")
	}
	c.mu.Unlock()
	return c.Cloud.SubscribeConnectivity(locationID)
}

func (c *unreliableCloud) UnsubscribeConnectivity(locationID string) error {
	c.mu.Lock()
	c.unsubscribeCalls++
	c.mu.Unlock()
	return c.Cloud.UnsubscribeConnectivity(locationID)
}

func (c *unreliableCloud) ListLocations() ([]types.LocationDescriptor, error) {
	c.mu.Lock()
	fail := c.listFailure
	c.mu.Unlock()
	if fail {
		return nil, errors.New("cloud unavailable")
	}
	return c.Cloud.ListLocations()
}

func (c *unreliableCloud) failListing() {
	c.mu.Lock()
	c.listFailure = true
	c.mu.Unlock()
}

func (c *unreliableCloud) calls() (subscribe, unsubscribe int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeCalls, c.unsubscribeCalls
}

func TestExchange(t *testing.T) {
	Convey("Given a new Context, Cloud and Broker", t, func(c C) {

		var logs bytes.Buffer
		ctx := &log.Logger{
			Handler: text.New(&logs),
			Level:   log.DebugLevel,
		}
		defer func() {
			if logs.Len() > 0 {
				c.Printf("\n%s", logs.String())
			}
		}()

		cloud := dummy.NewCloud(ctx)
		cloud.AddLocation(types.LocationDescriptor{ID: "loc123", Name: "Home", HasHubs: true}, true)
		cloud.SetDevices("loc123",
			types.DeviceDescriptor{ID: "door", DeviceType: "sensor.contact", Name: "Front Door"},
			types.DeviceDescriptor{ID: "lock", DeviceType: "lock.v2", Name: "Front Lock"},
			types.DeviceDescriptor{ID: "toaster", DeviceType: "appliance.toaster"},
		)
		cloud.SetCameras("loc123", types.DeviceDescriptor{ID: "doorbell", Name: "Doorbell"})
		cloud.AddLocation(types.LocationDescriptor{ID: "loc456", Name: "Cabin"}, true)
		cloud.SetDevices("loc456", types.DeviceDescriptor{ID: "hall", DeviceType: "sensor", Name: "Hall Motion"})
		cloud.AddLocation(types.LocationDescriptor{ID: "loc789", Name: "Empty"}, true)

		broker := dummy.NewBroker(ctx)

		config := Config{
			BaseTopic:         "ring",
			StatusTopic:       "homeassistant/status",
			EnableCameras:     true,
			RepublishInterval: time.Hour,
			OfflineGrace:      50 * time.Millisecond,
			BirthDelay:        50 * time.Millisecond,
		}

		Convey("When creating a new Exchange", func() {
			e := New(ctx, cloud, broker, config)

			Convey("When starting the Exchange and connecting the Broker", func() {
				e.Start()
				Reset(e.Stop)
				broker.Connect()
				time.Sleep(50 * time.Millisecond)

				Convey("It should be connected", func() {
					So(e.Connected(), ShouldBeTrue)
				})

				Convey("The status and command topics should be subscribed", func() {
					subscriptions := broker.Subscriptions()
					So(subscriptions, ShouldContain, "homeassistant/status")
					So(subscriptions, ShouldContain, "hass/status")
					So(subscriptions, ShouldContain, "ring/+/+/+/command")
					So(subscriptions, ShouldContain, "ring/+/+/+/+/command")
					So(subscriptions, ShouldContain, "ring/+/+/+/set")
					So(subscriptions, ShouldContain, "ring/+/+/+/+/set")
				})

				Convey("The supported devices should be registered", func() {
					So(e.registry.Len(), ShouldEqual, 4)
					_, ok := e.registry.Find("loc123", "toaster")
					So(ok, ShouldBeFalse)
				})

				Convey("The devices should be published", func() {
					So(broker.Published("homeassistant/binary_sensor/loc123/door/config"), ShouldHaveLength, 1)
					So(broker.Published("homeassistant/lock/loc123/lock/config"), ShouldHaveLength, 1)
					So(lastPayload(broker, "ring/loc123/alarm/door/status"), ShouldEqual, "online")
					So(lastPayload(broker, "ring/loc456/alarm/hall/status"), ShouldEqual, "online")
				})

				Convey("Republish cycles should be running with the default count", func() {
					So(e.scheduler.Active("loc123"), ShouldBeTrue)
					So(e.scheduler.Remaining("loc123"), ShouldEqual, 6)
					So(e.scheduler.Active("loc456"), ShouldBeTrue)
					So(e.scheduler.Active("loc789"), ShouldBeFalse)
				})

				Convey("Only the location with hubs should be monitored", func() {
					location, _ := e.registry.Location("loc123")
					So(location.Monitored, ShouldBeTrue)
					location, _ = e.registry.Location("loc456")
					So(location.Monitored, ShouldBeFalse)
				})

				Convey("The status should list the locations", func() {
					st := e.Status()
					So(st.MQTTConnected, ShouldBeTrue)
					So(st.Locations, ShouldHaveLength, 3)
					So(st.Locations[0].ID, ShouldEqual, "loc123")
					So(st.Locations[0].Monitored, ShouldBeTrue)
					So(st.Locations[0].Devices, ShouldEqual, 3)
					So(st.Locations[1].Devices, ShouldEqual, 1)
					So(st.Locations[1].Republishing, ShouldBeTrue)
					So(st.Locations[2].Devices, ShouldEqual, 0)
				})

				Convey("When syncing again", func() {
					So(e.Sync(false), ShouldBeNil)
					Convey("No devices should be added", func() {
						So(e.registry.Len(), ShouldEqual, 4)
					})
				})

				Convey("When receiving a command", func() {
					broker.Deliver("ring/loc123/alarm/lock/command", "LOCK")
					time.Sleep(10 * time.Millisecond)
					Convey("It should be sent to the cloud", func() {
						commands := cloud.Commands()
						So(commands, ShouldHaveLength, 1)
						So(commands[0].DeviceID, ShouldEqual, "lock")
						So(commands[0].Payload, ShouldEqual, "LOCK")
					})
				})

				Convey("When receiving a command on a set topic", func() {
					broker.Deliver("ring/loc123/alarm/lock/set", "1")
					time.Sleep(10 * time.Millisecond)
					Convey("It should be sent to the cloud", func() {
						commands := cloud.Commands()
						So(commands, ShouldHaveLength, 1)
						So(commands[0].DeviceID, ShouldEqual, "lock")
						So(commands[0].Payload, ShouldEqual, "1")
					})
				})

				Convey("When the location disconnects briefly", func() {
					cloud.SetConnected("loc123", false)
					time.Sleep(10 * time.Millisecond)
					cloud.SetConnected("loc123", true)
					time.Sleep(100 * time.Millisecond)
					Convey("The devices should stay online", func() {
						So(lastPayload(broker, "ring/loc123/alarm/door/status"), ShouldEqual, "online")
					})
				})

				Convey("When the location stays disconnected", func() {
					cloud.SetConnected("loc123", false)
					time.Sleep(100 * time.Millisecond)
					Convey("The devices should be offline", func() {
						So(lastPayload(broker, "ring/loc123/alarm/door/status"), ShouldEqual, "offline")
						So(lastPayload(broker, "ring/loc123/alarm/lock/status"), ShouldEqual, "offline")
					})
					Convey("The camera should not be marked offline", func() {
						So(lastPayload(broker, "ring/loc123/camera/doorbell/status"), ShouldEqual, "online")
					})
					Convey("The location without hubs should not be affected", func() {
						So(lastPayload(broker, "ring/loc456/alarm/hall/status"), ShouldEqual, "online")
					})
				})

				Convey("When receiving a birth message", func() {
					broker.Deliver("homeassistant/status", "online")
					time.Sleep(10 * time.Millisecond)

					Convey("Running cycles should be cancelled", func() {
						So(e.scheduler.Active("loc456"), ShouldBeFalse)
					})

					Convey("After the delay the devices should be resynced", func() {
						cloud.SetDevices("loc456",
							types.DeviceDescriptor{ID: "hall", DeviceType: "sensor", Name: "Hall Motion"},
							types.DeviceDescriptor{ID: "fan", DeviceType: "switch.multilevel", CategoryID: 17},
						)
						time.Sleep(100 * time.Millisecond)
						So(e.registry.Len(), ShouldEqual, 5)
						So(broker.Published("homeassistant/fan/loc456/fan/config"), ShouldHaveLength, 1)
						So(e.scheduler.Active("loc456"), ShouldBeTrue)
						So(e.scheduler.Remaining("loc456"), ShouldEqual, 6)
						So(e.scheduler.Remaining("loc123"), ShouldEqual, 6)
					})
				})

				Convey("When receiving an offline status", func() {
					broker.Deliver("hass/status", "offline")
					time.Sleep(100 * time.Millisecond)
					Convey("Nothing should change", func() {
						So(e.scheduler.Active("loc456"), ShouldBeTrue)
						So(e.scheduler.Remaining("loc456"), ShouldEqual, 6)
					})
				})

				Convey("When the connection drops", func() {
					broker.Drop()
					time.Sleep(10 * time.Millisecond)
					Convey("It should not be connected", func() {
						So(e.Connected(), ShouldBeFalse)
					})
					Convey("The devices should not be touched", func() {
						So(lastPayload(broker, "ring/loc123/alarm/door/status"), ShouldEqual, "online")
					})
				})

				Convey("When adding a mirror", func() {
					mirror := dummy.NewBroker(ctx)
					e.AddMirror(mirror)
					So(e.Sync(true), ShouldBeNil)
					time.Sleep(10 * time.Millisecond)
					Convey("Publications should be mirrored", func() {
						So(mirror.Published("ring/loc456/alarm/hall/status"), ShouldNotBeEmpty)
					})
				})

				Convey("When shutting down", func() {
					e.Shutdown(10 * time.Millisecond)
					Convey("All devices should be offline", func() {
						So(lastPayload(broker, "ring/loc123/alarm/door/status"), ShouldEqual, "offline")
						So(lastPayload(broker, "ring/loc456/alarm/hall/status"), ShouldEqual, "offline")
						So(lastPayload(broker, "ring/loc123/camera/doorbell/status"), ShouldEqual, "offline")
						So(e.scheduler.Running(), ShouldEqual, 0)
					})
				})
			})
		})

		Convey("When creating an Exchange with an unreliable cloud", func() {
			unreliable := &unreliableCloud{Cloud: cloud, subscribeFailures: 1}
			e := New(ctx, unreliable, broker, config)
			e.Start()
			Reset(e.Stop)
			broker.Connect()
			time.Sleep(50 * time.Millisecond)

			Convey("A location whose subscription failed should not be monitored", func() {
				subscribe, _ := unreliable.calls()
				So(subscribe, ShouldEqual, 1)
				location, _ := e.registry.Location("loc123")
				So(location.Monitored, ShouldBeFalse)
				So(e.Status().Locations[0].Monitored, ShouldBeFalse)
				So(e.scheduler.Active("loc123"), ShouldBeTrue)
			})

			Convey("When syncing again", func() {
				So(e.Sync(true), ShouldBeNil)
				time.Sleep(10 * time.Millisecond)

				Convey("The subscription should be retried", func() {
					subscribe, _ := unreliable.calls()
					So(subscribe, ShouldEqual, 2)
					location, _ := e.registry.Location("loc123")
					So(location.Monitored, ShouldBeTrue)
				})

				Convey("When the location stays disconnected", func() {
					cloud.SetConnected("loc123", false)
					time.Sleep(100 * time.Millisecond)
					Convey("The devices should be offline", func() {
						So(lastPayload(broker, "ring/loc123/alarm/door/status"), ShouldEqual, "offline")
					})
				})

				Convey("When stopping the Exchange", func() {
					e.Stop()
					Convey("The monitored location should be unsubscribed", func() {
						_, unsubscribe := unreliable.calls()
						So(unsubscribe, ShouldEqual, 1)
					})
				})
			})

			Convey("When the cloud is unavailable for the resync after a birth message", func() {
				unreliable.failListing()
				broker.Deliver("homeassistant/status", "online")
				time.Sleep(100 * time.Millisecond)
				Convey("The known devices should be republished", func() {
					So(e.scheduler.Active("loc456"), ShouldBeTrue)
					So(e.scheduler.Remaining("loc456"), ShouldEqual, 6)
					So(e.scheduler.Active("loc789"), ShouldBeFalse)
				})
			})
		})

		Convey("When creating an Exchange for one location", func() {
			config.LocationIDs = []string{"loc456"}
			e := New(ctx, cloud, broker, config)
			e.Start()
			Reset(e.Stop)
			broker.Connect()
			time.Sleep(50 * time.Millisecond)

			Convey("Only that location should be synced", func() {
				So(e.registry.Len(), ShouldEqual, 1)
				_, ok := e.registry.Location("loc123")
				So(ok, ShouldBeFalse)
			})
		})
	})
}
