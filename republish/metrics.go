// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package republish

import "github.com/prometheus/client_golang/prometheus"

var activeCycles = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "republish_cycles_active",
		Help:      "Number of running republish cycles.",
	},
)

var republishRounds = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "republish_rounds_total",
		Help:      "Total number of republish rounds.",
	},
)

var publishErrors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "alarm",
		Subsystem: "bridge",
		Name:      "publish_errors_total",
		Help:      "Total number of failed device publications.",
	},
)

func init() {
	prometheus.MustRegister(activeCycles)
	prometheus.MustRegister(republishRounds)
	prometheus.MustRegister(publishErrors)
}
