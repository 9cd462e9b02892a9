// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/TheThingsNetwork/alarm-mqtt-bridge/auth"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend/amqp"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend/dummy"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/backend/mqtt"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/exchange"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/monitor"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/republish"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/router"
	"github.com/TheThingsNetwork/alarm-mqtt-bridge/status"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	redis "gopkg.in/redis.v5"
)

// BridgeCmd is the main command that is executed when running alarm-mqtt-bridge
var BridgeCmd = &cobra.Command{
	Use:   "alarm-mqtt-bridge",
	Short: "Alarm devices on MQTT",
	Long:  `alarm-mqtt-bridge bridges the devices of an alarm cloud to an MQTT broker with Home Assistant discovery`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logHandlers []log.Handler

		logHandlers = append(logHandlers, cli.New(os.Stdout))

		if logFileLocation := config.GetString("log-file"); logFileLocation != "" {
			absLogFileLocation, err := filepath.Abs(logFileLocation)
			if err != nil {
				panic(err)
			}
			logFile, err = os.OpenFile(absLogFileLocation, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
			if err != nil {
				panic(err)
			}
			logHandlers = append(logHandlers, json.New(logFile))
		}

		level := log.InfoLevel
		if config.GetBool("debug") {
			level = log.DebugLevel
		}

		ctx = &log.Logger{
			Level:   level,
			Handler: multi.New(logHandlers...),
		}
	},
	Run: runBridge,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			time.Sleep(100 * time.Millisecond)
			logFile.Close()
		}
	},
}

// user:pass@host:port
var brokerRegexp = regexp.MustCompile(`^(?:([0-9a-z_-]+)(?::([0-9A-Za-z-!"#$%&'()*+,.:;<=>?@[\]^_{|}~]+))?@)?([0-9a-z.-]+:[0-9]+)$`)

func tokenStore() auth.Store {
	if config.GetBool("redis") {
		client := redis.NewClient(&redis.Options{
			Addr:     config.GetString("redis-address"),
			Password: config.GetString("redis-password"),
			DB:       config.GetInt("redis-db"),
		})
		ctx.Info("Initializing Redis token store")
		return auth.NewRedis(client, config.GetString("redis-key"))
	}
	if stateFile := config.GetString("state-file"); stateFile != "" {
		ctx.WithField("File", stateFile).Info("Initializing file token store")
		return auth.NewFile(stateFile)
	}
	ctx.Info("Initializing memory token store")
	return auth.NewMemory()
}

func connectCloud(store auth.Store) backend.Cloud {
	candidates := auth.Candidates(ctx, store, config.GetString("token"))
	if len(candidates) == 0 {
		ctx.Error("No refresh token configured or saved")
		os.Exit(ExitTokensExhausted)
	}
	inventory := config.GetString("inventory")
	ctx.WithField("Inventory", inventory).Info("Using inventory cloud")
	cloud, source, err := auth.Connect(ctx, candidates, dummy.Dial(ctx, inventory))
	if err != nil {
		ctx.WithError(err).Error("Could not connect to cloud")
		os.Exit(ExitTokensExhausted)
	}
	ctx.WithField("TokenSource", source.Name).Info("Connected to cloud")
	notifier, _ := cloud.(backend.TokenNotifier)
	if err := auth.Persist(ctx, store, source.Token, notifier); err != nil {
		ctx.WithError(err).Warn("Could not save refresh token")
	}
	return cloud
}

func runBridge(cmd *cobra.Command, args []string) {
	cloud := connectCloud(tokenStore())
	if closer, ok := cloud.(interface{ Close() }); ok {
		defer closer.Close()
	}

	mqttAddress := fmt.Sprintf("tcp://%s:%d", config.GetString("mqtt-host"), config.GetInt("mqtt-port"))
	ctx.WithField("Address", mqttAddress).WithField("Username", config.GetString("mqtt-username")).Info("Initializing MQTT")
	broker, err := mqtt.New(mqtt.Config{
		Brokers:  []string{mqttAddress},
		Username: config.GetString("mqtt-username"),
		Password: config.GetString("mqtt-password"),
	}, ctx)
	if err != nil {
		ctx.WithError(err).Error("Could not initialize MQTT")
		os.Exit(ExitBrokerFailed)
	}

	bridge := exchange.New(ctx, cloud, broker, exchange.Config{
		BaseTopic:         config.GetString("base-topic"),
		StatusTopic:       config.GetString("status-topic"),
		DiscoveryPrefix:   config.GetString("discovery-prefix"),
		EnableCameras:     config.GetBool("enable-cameras"),
		EnableModes:       config.GetBool("enable-modes"),
		LocationIDs:       splitList(config.GetString("location-ids")),
		RepublishCount:    config.GetInt("republish-count"),
		RepublishInterval: config.GetDuration("republish-interval"),
		OfflineGrace:      config.GetDuration("offline-grace"),
		BirthDelay:        config.GetDuration("birth-delay"),
	})

	if amqpBroker := config.GetString("amqp"); amqpBroker != "" && amqpBroker != "disable" {
		parts := brokerRegexp.FindStringSubmatch(amqpBroker)
		if parts == nil {
			ctx.WithField("AMQP", amqpBroker).Warn("Invalid AMQP broker, expected user:pass@host:port")
		} else {
			ctx.WithField("Username", parts[1]).WithField("Address", parts[3]).Info("Initializing AMQP mirror")
			mirror, err := amqp.New(amqp.Config{
				Address:      parts[3],
				Username:     parts[1],
				Password:     parts[2],
				ExchangeName: config.GetString("amqp-exchange"),
			}, ctx)
			if err == nil {
				err = mirror.Connect()
			}
			if err != nil {
				ctx.WithError(err).Warn("Could not initialize AMQP mirror")
			} else {
				bridge.AddMirror(mirror)
				defer mirror.Disconnect()
			}
		}
	}

	if httpAddress := config.GetString("http-address"); httpAddress != "" {
		server := status.NewServer(ctx, httpAddress, bridge)
		server.Start()
		defer server.Stop()
	}

	bridge.Start()
	if err := broker.Connect(); err != nil {
		ctx.WithError(err).Error("Could not connect to MQTT")
		bridge.Stop()
		os.Exit(ExitBrokerFailed)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	ctx.WithField("signal", <-sigChan).Info("signal received")

	bridge.Shutdown(config.GetDuration("shutdown-grace"))
	broker.Disconnect()
}

func init() {
	BridgeCmd.Flags().String("log-file", "", "Location of the log file")
	BridgeCmd.Flags().Bool("debug", false, "Print debug logs")

	BridgeCmd.Flags().String("mqtt-host", "localhost", "MQTT broker host")
	BridgeCmd.Flags().Int("mqtt-port", 1883, "MQTT broker port")
	BridgeCmd.Flags().String("mqtt-username", "", "MQTT username")
	BridgeCmd.Flags().String("mqtt-password", "", "MQTT password")
	BridgeCmd.Flags().String("base-topic", exchange.DefaultBaseTopic, "Base topic of the device topics")
	BridgeCmd.Flags().String("status-topic", "homeassistant/status", "Home Assistant status topic ("+router.LegacyStatusTopic+" is always subscribed)")
	BridgeCmd.Flags().String("discovery-prefix", "homeassistant", "Home Assistant discovery prefix")

	BridgeCmd.Flags().String("token", "", "Refresh token for the cloud")
	BridgeCmd.Flags().String("state-file", "ring-state.json", "File to save the refresh token in (memory when empty)")
	BridgeCmd.Flags().Bool("redis", false, "Save the refresh token in Redis")
	BridgeCmd.Flags().String("redis-address", "localhost:6379", "Redis host and port")
	BridgeCmd.Flags().String("redis-password", "", "Redis password")
	BridgeCmd.Flags().Int("redis-db", 0, "Redis database")
	BridgeCmd.Flags().String("redis-key", auth.DefaultRedisKey, "Redis key of the refresh token")
	BridgeCmd.Flags().String("inventory", "inventory.yml", "Inventory file of the cloud")

	BridgeCmd.Flags().Bool("enable-cameras", false, "Publish cameras")
	BridgeCmd.Flags().Bool("enable-modes", false, "Publish the location mode panel")
	BridgeCmd.Flags().String("location-ids", "", "Comma-separated location IDs to sync (all when empty)")

	BridgeCmd.Flags().Int("republish-count", republish.DefaultCount, "Number of republish rounds")
	BridgeCmd.Flags().Duration("republish-interval", republish.DefaultInterval, "Interval between republish rounds")
	BridgeCmd.Flags().Duration("offline-grace", monitor.DefaultGracePeriod, "Time a location may be disconnected before its devices go offline")
	BridgeCmd.Flags().Duration("birth-delay", router.DefaultBirthDelay, "Delay between a Home Assistant birth message and the resync")
	BridgeCmd.Flags().Duration("shutdown-grace", 2*time.Second, "Time to wait for offline messages on shutdown")

	BridgeCmd.Flags().String("amqp", "disable", "AMQP broker to mirror publications to (user:pass@host:port, disable with \"disable\")")
	BridgeCmd.Flags().String("amqp-exchange", "", "AMQP exchange of the mirror")
	BridgeCmd.Flags().String("http-address", "", "Address to serve status and metrics on (disabled when empty)")

	viper.BindPFlags(BridgeCmd.Flags())
}
