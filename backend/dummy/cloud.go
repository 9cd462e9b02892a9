// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package dummy

import (
	"errors"
	"sync"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
)

// ErrLocationNotFound is returned for unknown locations
var ErrLocationNotFound = errors.New("dummy: location not found")

type dummyLocation struct {
	types.LocationDescriptor
	connected bool
	modes     bool
	devices   []types.DeviceDescriptor
	cameras   []types.DeviceDescriptor
	sub       chan *types.ConnectivityMessage
}

// Cloud is an in-memory device cloud
type Cloud struct {
	mu        sync.Mutex
	ctx       log.Interface
	order     []string
	locations map[string]*dummyLocation
	commands  []*types.CommandMessage
	tokens    chan string
}

// NewCloud returns a new dummy Cloud
func NewCloud(ctx log.Interface) *Cloud {
	return &Cloud{
		ctx:       ctx.WithField("Connector", "DummyCloud"),
		locations: make(map[string]*dummyLocation),
	}
}

func (c *Cloud) location(locationID string) (*dummyLocation, error) {
	loc, ok := c.locations[locationID]
	if !ok {
		return nil, ErrLocationNotFound
	}
	return loc, nil
}

// AddLocation adds a location or updates an existing one
func (c *Cloud) AddLocation(location types.LocationDescriptor, connected bool) {
	c.mu.Lock()
	if loc, ok := c.locations[location.ID]; ok {
		loc.LocationDescriptor = location
		c.mu.Unlock()
		c.SetConnected(location.ID, connected)
		return
	}
	c.locations[location.ID] = &dummyLocation{LocationDescriptor: location, connected: connected}
	c.order = append(c.order, location.ID)
	c.mu.Unlock()
}

// SetDevices sets the devices of a location
func (c *Cloud) SetDevices(locationID string, devices ...types.DeviceDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return err
	}
	loc.devices = devices
	return nil
}

// SetCameras sets the cameras of a location
func (c *Cloud) SetCameras(locationID string, cameras ...types.DeviceDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return err
	}
	loc.cameras = cameras
	return nil
}

// SetModeSupport sets whether a location supports mode switching
func (c *Cloud) SetModeSupport(locationID string, supported bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return err
	}
	loc.modes = supported
	return nil
}

// SetConnected changes the connectivity of a location and notifies the subscriber
func (c *Cloud) SetConnected(locationID string, connected bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return err
	}
	if loc.connected == connected {
		return nil
	}
	loc.connected = connected
	c.notify(loc)
	return nil
}

func (c *Cloud) notify(loc *dummyLocation) {
	if loc.sub == nil {
		return
	}
	select {
	case loc.sub <- &types.ConnectivityMessage{LocationID: loc.ID, Connected: loc.connected}:
		c.ctx.WithField("LocationID", loc.ID).WithField("Connected", loc.connected).Debug("Published connectivity")
	default:
		c.ctx.WithField("LocationID", loc.ID).Debug("Did not publish connectivity [buffer full]")
	}
}

// ListLocations implements backend.Cloud
func (c *Cloud) ListLocations() ([]types.LocationDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	locations := make([]types.LocationDescriptor, 0, len(c.order))
	for _, id := range c.order {
		locations = append(locations, c.locations[id].LocationDescriptor)
	}
	return locations, nil
}

// ListDevices implements backend.Cloud
func (c *Cloud) ListDevices(locationID string) ([]types.DeviceDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return nil, err
	}
	return append([]types.DeviceDescriptor(nil), loc.devices...), nil
}

// ListCameras implements backend.Cloud
func (c *Cloud) ListCameras(locationID string) ([]types.DeviceDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return nil, err
	}
	return append([]types.DeviceDescriptor(nil), loc.cameras...), nil
}

// SupportsModeSwitching implements backend.Cloud
func (c *Cloud) SupportsModeSwitching(locationID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return false, err
	}
	return loc.modes, nil
}

// SubscribeConnectivity implements backend.Cloud
func (c *Cloud) SubscribeConnectivity(locationID string) (<-chan *types.ConnectivityMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return nil, err
	}
	loc.sub = make(chan *types.ConnectivityMessage, BufferSize)
	c.notify(loc)
	c.ctx.WithField("LocationID", locationID).Debug("Subscribed to connectivity")
	return loc.sub, nil
}

// UnsubscribeConnectivity implements backend.Cloud
func (c *Cloud) UnsubscribeConnectivity(locationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, err := c.location(locationID)
	if err != nil {
		return err
	}
	if loc.sub != nil {
		close(loc.sub)
		loc.sub = nil
	}
	c.ctx.WithField("LocationID", locationID).Debug("Unsubscribed from connectivity")
	return nil
}

// SendCommand implements backend.Cloud
func (c *Cloud) SendCommand(command *types.CommandMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.location(command.LocationID); err != nil {
		return err
	}
	c.commands = append(c.commands, command)
	c.ctx.WithField("LocationID", command.LocationID).WithField("DeviceID", command.DeviceID).Info("Received command")
	return nil
}

// Commands returns the commands that were sent to the cloud
func (c *Cloud) Commands() []*types.CommandMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.CommandMessage(nil), c.commands...)
}

// SubscribeToken implements backend.TokenNotifier
func (c *Cloud) SubscribeToken() (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(chan string, BufferSize)
	return c.tokens, nil
}

// RotateToken simulates a refresh token update
func (c *Cloud) RotateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return
	}
	select {
	case c.tokens <- token:
	default:
		c.ctx.Debug("Did not publish token [buffer full]")
	}
}
