// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment prefix that is used for configuration
const EnvPrefix = "ringmqtt"

// legacyEnv maps configuration keys to the environment variables of earlier releases
var legacyEnv = map[string]string{
	"mqtt-host":        "MQTTHOST",
	"mqtt-port":        "MQTTPORT",
	"mqtt-username":    "MQTTUSER",
	"mqtt-password":    "MQTTPASSWORD",
	"base-topic":       "MQTTRINGTOPIC",
	"status-topic":     "MQTTHASSTOPIC",
	"token":            "RINGTOKEN",
	"enable-cameras":   "ENABLECAMERAS",
	"enable-modes":     "ENABLEMODES",
	"location-ids":     "RINGLOCATIONIDS",
	"discovery-prefix": "MQTTDISCOVERYPREFIX",
}

var cfgFile string

func initConfig() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			fmt.Println("Error when reading config file:", err)
		} else if err == nil {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
	viper.BindEnv("debug")
	for key, env := range legacyEnv {
		viper.BindEnv(key, env)
	}
}

// splitList splits a comma-separated list and drops empty elements
func splitList(list string) (out []string) {
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return
}

var config = viper.GetViper()
