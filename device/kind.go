// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package device

// Kind of device handler
type Kind string

// Handler kinds
const (
	KindNone              Kind = ""
	KindCamera            Kind = "camera"
	KindContactSensor     Kind = "contact-sensor"
	KindMotionSensor      Kind = "motion-sensor"
	KindFloodFreezeSensor Kind = "flood-freeze-sensor"
	KindSecurityPanel     Kind = "security-panel"
	KindSmokeAlarm        Kind = "smoke-alarm"
	KindCoAlarm           Kind = "co-alarm"
	KindSmokeCoListener   Kind = "smoke-co-listener"
	KindKeypad            Kind = "keypad"
	KindBaseStation       Kind = "base-station"
	KindRangeExtender     Kind = "range-extender"
	KindLock              Kind = "lock"
	KindSwitch            Kind = "switch"
	KindMultiLevelSwitch  Kind = "multi-level-switch"
	KindFan               Kind = "fan"
	KindBeam              Kind = "beam"
	KindModesPanel        Kind = "modes-panel"
)

// Kinds lists all handler kinds
var Kinds = []Kind{
	KindCamera,
	KindContactSensor,
	KindMotionSensor,
	KindFloodFreezeSensor,
	KindSecurityPanel,
	KindSmokeAlarm,
	KindCoAlarm,
	KindSmokeCoListener,
	KindKeypad,
	KindBaseStation,
	KindRangeExtender,
	KindLock,
	KindSwitch,
	KindMultiLevelSwitch,
	KindFan,
	KindBeam,
	KindModesPanel,
}

// Component returns the Home Assistant component that represents the kind
func (k Kind) Component() string {
	switch k {
	case KindSecurityPanel, KindModesPanel:
		return "alarm_control_panel"
	case KindLock:
		return "lock"
	case KindSwitch:
		return "switch"
	case KindMultiLevelSwitch, KindBeam:
		return "light"
	case KindFan:
		return "fan"
	case KindKeypad, KindBaseStation, KindRangeExtender:
		return "sensor"
	}
	return "binary_sensor"
}

// Commandable returns true if handlers of this kind accept commands
func (k Kind) Commandable() bool {
	switch k {
	case KindSecurityPanel, KindModesPanel, KindLock, KindSwitch, KindMultiLevelSwitch, KindFan, KindBeam, KindBaseStation:
		return true
	}
	return false
}
