// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
)

var mqttConnected = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "mqtt_connected",
		Help:      "Whether the bridge is connected to MQTT.",
	},
)

var registeredDevices = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "devices_registered_total",
		Help:      "Total number of registered device handlers.",
	}, []string{"kind"},
)

var unsupportedDevices = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "devices_unsupported_total",
		Help:      "Total number of unsupported device types seen during syncs.",
	}, []string{"device_type"},
)

var syncCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "syncs_total",
		Help:      "Total number of inventory syncs.",
	},
)

var offlineSweeps = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "offline_sweeps_total",
		Help:      "Total number of locations whose devices were marked offline.",
	},
)

func init() {
	prometheus.MustRegister(mqttConnected)
	prometheus.MustRegister(registeredDevices)
	prometheus.MustRegister(unsupportedDevices)
	prometheus.MustRegister(syncCounter)
	prometheus.MustRegister(offlineSweeps)
}
