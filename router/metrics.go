// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package router

import "github.com/prometheus/client_golang/prometheus"

var routedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "messages_routed_total",
		Help:      "Total number of MQTT messages routed.",
	}, []string{"result"},
)

func init() {
	prometheus.MustRegister(routedCounter)
}
