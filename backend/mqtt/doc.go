// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package mqtt connects the bridge to an MQTT broker.
//
// Device configuration, availability and state are published on topics
// below the base topic ("[base]/[location-id]/[category]/[device-id]/...")
// and on the Home Assistant discovery topics.
//
// The bridge subscribes to the command topics ("[base]/+/+/+/command") and to
// the status topic of Home Assistant. All received messages, as well as
// connects and lost connections, are delivered on the channel returned by
// `Events()`. Retained messages are ignored on wildcard subscriptions, so that
// old commands are not executed again.
//
// The client reconnects automatically, and restores its subscriptions after
// reconnecting.
package mqtt
