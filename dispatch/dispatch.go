// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package dispatch maps cloud device descriptors to device handler kinds.
package dispatch

import (
	"regexp"
	"strings"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/device"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/types"
)

// Device types reported by the cloud
const (
	ContactSensor          = "sensor.contact"
	RetrofitZone           = "sensor.zone"
	TiltSensor             = "sensor.tilt"
	MotionSensor           = "sensor.motion"
	FloodFreezeSensor      = "sensor.flood-freeze"
	SecurityPanel          = "security-panel"
	SmokeAlarm             = "alarm.smoke"
	CoAlarm                = "alarm.co"
	SmokeCoListener        = "listener.smoke-co"
	Keypad                 = "security-keypad"
	BaseStation            = "hub.redsky"
	RangeExtender          = "range-extender.zwave"
	Switch                 = "switch"
	MultiLevelSwitch       = "switch.multilevel"
	Sensor                 = "sensor"
	BeamsMotionSensor      = "motion-sensor.beams"
	BeamsSwitch            = "switch.multilevel.beams"
	BeamsTransformerSwitch = "switch.transformer.beams"
	BeamsLightGroupSwitch  = "group.light-group.beams"
	LocationMode           = "location.mode"
)

// FanCategoryID is the category of multi-level switches that are fans
const FanCategoryID = 17

// Handler categories, used as topic level
const (
	CategoryAlarm    = "alarm"
	CategoryLighting = "lighting"
	CategoryCamera   = "camera"
)

var exact = map[string]device.Kind{
	ContactSensor:          device.KindContactSensor,
	RetrofitZone:           device.KindContactSensor,
	TiltSensor:             device.KindContactSensor,
	MotionSensor:           device.KindMotionSensor,
	FloodFreezeSensor:      device.KindFloodFreezeSensor,
	SecurityPanel:          device.KindSecurityPanel,
	SmokeAlarm:             device.KindSmokeAlarm,
	CoAlarm:                device.KindCoAlarm,
	SmokeCoListener:        device.KindSmokeCoListener,
	Keypad:                 device.KindKeypad,
	BaseStation:            device.KindBaseStation,
	RangeExtender:          device.KindRangeExtender,
	Switch:                 device.KindSwitch,
	BeamsMotionSensor:      device.KindBeam,
	BeamsSwitch:            device.KindBeam,
	BeamsTransformerSwitch: device.KindBeam,
	BeamsLightGroupSwitch:  device.KindBeam,
	LocationMode:           device.KindModesPanel,
}

var lockType = regexp.MustCompile(`^lock($|\.)`)

// Classify returns the handler kind for a device, or device.KindNone if the device is not supported
func Classify(d types.DeviceDescriptor) device.Kind {
	if d.Camera {
		return device.KindCamera
	}
	if kind, ok := exact[d.DeviceType]; ok {
		return kind
	}
	switch d.DeviceType {
	case MultiLevelSwitch:
		if d.CategoryID == FanCategoryID {
			return device.KindFan
		}
		return device.KindMultiLevelSwitch
	case Sensor:
		if strings.Contains(strings.ToLower(d.Name), "motion") {
			return device.KindMotionSensor
		}
		return device.KindContactSensor
	}
	if lockType.MatchString(d.DeviceType) {
		return device.KindLock
	}
	return device.KindNone
}

// Category returns the topic category for a handler kind
func Category(kind device.Kind) string {
	switch kind {
	case device.KindBeam:
		return CategoryLighting
	case device.KindCamera:
		return CategoryCamera
	}
	return CategoryAlarm
}

// ModesDescriptor returns the synthetic descriptor for the mode panel of a location
func ModesDescriptor(locationID string) types.DeviceDescriptor {
	return types.DeviceDescriptor{
		ID:         locationID + "_mode",
		LocationID: locationID,
		DeviceType: LocationMode,
		Name:       "Location Mode",
	}
}
