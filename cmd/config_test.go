// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfig(t *testing.T) {
	Convey("Given a comma-separated list", t, func() {
		Convey("Empty elements and spaces should be dropped", func() {
			So(splitList(" loc123, ,loc456,"), ShouldResemble, []string{"loc123", "loc456"})
		})
		Convey("An empty list should give no elements", func() {
			So(splitList(""), ShouldBeEmpty)
		})
	})

	Convey("Given a broker address", t, func() {
		Convey("Credentials should be parsed", func() {
			parts := brokerRegexp.FindStringSubmatch("guest:guest@localhost:5672")
			So(parts, ShouldResemble, []string{"guest:guest@localhost:5672", "guest", "guest", "localhost:5672"})
		})
		Convey("Credentials should be optional", func() {
			parts := brokerRegexp.FindStringSubmatch("localhost:5672")
			So(parts[3], ShouldEqual, "localhost:5672")
		})
		Convey("An address without port should not match", func() {
			So(brokerRegexp.FindStringSubmatch("localhost"), ShouldBeNil)
		})
	})

	Convey("Given legacy environment variables", t, func() {
		os.Setenv("MQTTHOST", "broker.local")
		os.Setenv("RINGLOCATIONIDS", "loc123,loc456")
		Reset(func() {
			os.Unsetenv("MQTTHOST")
			os.Unsetenv("RINGLOCATIONIDS")
		})
		initConfig()
		Convey("They should be used for the configuration", func() {
			So(config.GetString("mqtt-host"), ShouldEqual, "broker.local")
			So(splitList(config.GetString("location-ids")), ShouldResemble, []string{"loc123", "loc456"})
		})
	})
}
