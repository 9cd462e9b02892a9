// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package registry

import (
	"sort"
	"sync"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/device"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/dispatch"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
	"github.com/deckarep/golang-set"
)

// Factory constructs a handler for a classified device
type Factory func(kind device.Kind, d types.DeviceDescriptor) device.Handler

// Options for the registry
type Options struct {
	EnableCameras bool
	EnableModes   bool
}

// Location known to the registry
type Location struct {
	ID           string
	Name         string
	NeedsMonitor bool

	// Monitored is set once the location is subscribed to connectivity events
	Monitored bool
}

type key struct {
	locationID string
	deviceID   string
}

// Registry keeps the device handlers of all locations
type Registry struct {
	ctx     log.Interface
	options Options
	factory Factory

	mu         sync.RWMutex
	locations  map[string]*Location
	devices    map[key]device.Handler
	byLocation map[string][]device.Handler
}

// New returns a new Registry
func New(ctx log.Interface, options Options, factory Factory) *Registry {
	return &Registry{
		ctx:        ctx,
		options:    options,
		factory:    factory,
		locations:  make(map[string]*Location),
		devices:    make(map[key]device.Handler),
		byLocation: make(map[string][]device.Handler),
	}
}

// AddLocation adds a location if it is not yet known. It returns the location and whether it was added
func (r *Registry) AddLocation(loc types.LocationDescriptor) (*Location, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if location, ok := r.locations[loc.ID]; ok {
		return location, false
	}
	location := &Location{
		ID:           loc.ID,
		Name:         loc.Name,
		NeedsMonitor: loc.HasHubs,
	}
	r.locations[loc.ID] = location
	return location, true
}

// Location returns a known location
func (r *Registry) Location(locationID string) (*Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	location, ok := r.locations[locationID]
	return location, ok
}

// SetMonitored marks a location as subscribed to connectivity events. It returns false if it already was
func (r *Registry) SetMonitored(locationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	location, ok := r.locations[locationID]
	if !ok || location.Monitored {
		return false
	}
	location.Monitored = true
	return true
}

// ClearMonitored marks a location as not subscribed to connectivity events
func (r *Registry) ClearMonitored(locationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if location, ok := r.locations[locationID]; ok {
		location.Monitored = false
	}
}

// Locations returns a copy of all known locations sorted by ID
func (r *Registry) Locations() []Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	locations := make([]Location, 0, len(r.locations))
	for _, location := range r.locations {
		locations = append(locations, *location)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].ID < locations[j].ID })
	return locations
}

// Result of a reconciliation
type Result struct {
	Added       []device.Handler
	Unsupported []string
}

// Reconcile adds handlers for devices of a location that are not yet known.
// Known handlers are never replaced, and devices that disappeared are kept.
func (r *Registry) Reconcile(loc types.LocationDescriptor, devices, cameras []types.DeviceDescriptor, modeSupported bool) (res Result) {
	ctx := r.ctx.WithField("LocationID", loc.ID)
	candidates := make([]types.DeviceDescriptor, 0, len(devices)+len(cameras)+1)
	candidates = append(candidates, devices...)
	if r.options.EnableCameras {
		for _, camera := range cameras {
			camera.Camera = true
			candidates = append(candidates, camera)
		}
	}
	if r.options.EnableModes && modeSupported {
		candidates = append(candidates, dispatch.ModesDescriptor(loc.ID))
	}

	unsupported := mapset.NewThreadUnsafeSet()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range candidates {
		d.LocationID = loc.ID
		k := key{locationID: loc.ID, deviceID: d.ID}
		if _, ok := r.devices[k]; ok {
			ctx.WithField("DeviceID", d.ID).WithField("DeviceType", d.DeviceType).Debug("Existing device")
			continue
		}
		kind := dispatch.Classify(d)
		if kind == device.KindNone {
			unsupported.Add(d.DeviceType)
			continue
		}
		handler := r.factory(kind, d)
		r.devices[k] = handler
		r.byLocation[loc.ID] = append(r.byLocation[loc.ID], handler)
		res.Added = append(res.Added, handler)
		ctx.WithField("DeviceID", d.ID).WithField("DeviceType", d.DeviceType).Info("New device")
	}
	for _, deviceType := range unsupported.ToSlice() {
		res.Unsupported = append(res.Unsupported, deviceType.(string))
		ctx.WithField("DeviceType", deviceType).Warn("Unsupported device")
	}
	sort.Strings(res.Unsupported)
	return
}

// Find returns the handler for a device
func (r *Registry) Find(locationID, deviceID string) (device.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.devices[key{locationID: locationID, deviceID: deviceID}]
	return handler, ok
}

// Devices returns the handlers of a location in registration order
func (r *Registry) Devices(locationID string) []device.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]device.Handler(nil), r.byLocation[locationID]...)
}

// All returns the handlers of all locations
func (r *Registry) All() []device.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := make([]device.Handler, 0, len(r.devices))
	for _, location := range r.byLocation {
		handlers = append(handlers, location...)
	}
	return handlers
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
