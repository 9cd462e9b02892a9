// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package dummy

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

type inventoryLocation struct {
	types.LocationDescriptor `yaml:",inline"`
	Connected                *bool                    `yaml:"connected"`
	Modes                    bool                     `yaml:"modes"`
	Devices                  []types.DeviceDescriptor `yaml:"devices"`
	Cameras                  []types.DeviceDescriptor `yaml:"cameras"`
}

// Inventory file contents
type Inventory struct {
	Token     string              `yaml:"token"`
	Locations []inventoryLocation `yaml:"locations"`
}

// ErrInvalidToken is returned when dialing the inventory cloud with the wrong refresh token
var ErrInvalidToken = errors.New("dummy: invalid refresh token")

// ReadInventory reads an inventory file
func ReadInventory(filename string) (*Inventory, error) {
	contents, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var inventory Inventory
	if err := yaml.Unmarshal(contents, &inventory); err != nil {
		return nil, err
	}
	for _, loc := range inventory.Locations {
		for _, devices := range [][]types.DeviceDescriptor{loc.Devices, loc.Cameras} {
			for i := range devices {
				devices[i].Data = stringMap(devices[i].Data)
			}
		}
	}
	return &inventory, nil
}

// stringMap converts the nested maps that yaml decodes as map[interface{}]interface{}
// so that the device data can be encoded as JSON
func stringMap(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = stringValue(v)
	}
	return out
}

func stringValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, v := range v {
			out[fmt.Sprint(k)] = stringValue(v)
		}
		return out
	case map[string]interface{}:
		return stringMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, v := range v {
			out[i] = stringValue(v)
		}
		return out
	}
	return v
}

// Apply the inventory to the cloud
func (c *Cloud) Apply(inventory *Inventory) {
	for _, loc := range inventory.Locations {
		connected := true
		if loc.Connected != nil {
			connected = *loc.Connected
		}
		c.AddLocation(loc.LocationDescriptor, connected)
		c.SetDevices(loc.ID, loc.Devices...)
		c.SetCameras(loc.ID, loc.Cameras...)
		c.SetModeSupport(loc.ID, loc.Modes)
	}
}

// InventoryCloud is a Cloud that is loaded from an inventory file and follows changes to that file
type InventoryCloud struct {
	*Cloud
	filename string
	watcher  *fsnotify.Watcher
}

// NewInventoryCloud returns a Cloud with the contents of the inventory file
func NewInventoryCloud(ctx log.Interface, filename string) (*InventoryCloud, error) {
	filename, err := filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	inventory, err := ReadInventory(filename)
	if err != nil {
		return nil, err
	}
	c := &InventoryCloud{
		Cloud:    NewCloud(ctx),
		filename: filename,
	}
	c.Apply(inventory)
	return c, nil
}

// Watch reloads the inventory when the file is written
func (c *InventoryCloud) Watch() (err error) {
	c.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = c.watcher.Add(c.filename); err != nil {
		return err
	}
	go func() {
		for e := range c.watcher.Events {
			if e.Op&fsnotify.Write == fsnotify.Write {
				if err := c.Reload(); err != nil {
					c.ctx.WithError(err).Warn("Could not reload inventory")
				}
			}
		}
	}()
	return nil
}

// Reload the inventory file
func (c *InventoryCloud) Reload() error {
	inventory, err := ReadInventory(c.filename)
	if err != nil {
		return err
	}
	c.Apply(inventory)
	c.ctx.WithField("File", c.filename).Info("Reloaded inventory")
	return nil
}

// Close the inventory watcher
func (c *InventoryCloud) Close() {
	if c.watcher != nil {
		c.watcher.Close()
	}
}

// Dial returns a function that connects to the inventory cloud with a refresh token.
// If the inventory contains a token, only that token is accepted.
func Dial(ctx log.Interface, filename string) func(token string) (backend.Cloud, error) {
	return func(token string) (backend.Cloud, error) {
		inventory, err := ReadInventory(filename)
		if err != nil {
			return nil, err
		}
		if inventory.Token != "" && inventory.Token != token {
			return nil, ErrInvalidToken
		}
		cloud, err := NewInventoryCloud(ctx, filename)
		if err != nil {
			return nil, err
		}
		if err := cloud.Watch(); err != nil {
			ctx.WithError(err).Warn("Could not watch inventory")
		}
		return cloud, nil
	}
}
