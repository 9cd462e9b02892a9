// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package amqp mirrors the publications of the bridge to an AMQP server.
//
// Every message that the bridge publishes on MQTT is also published on a
// topic exchange ("amq.topic" by default). The routing key is the MQTT topic
// with "/" replaced by ".", so the availability of a device is published on
// "[base].[location-id].[category].[device-id].status".
//
// Messages are buffered while the connection is being (re)established. When
// the buffer is full, messages are dropped.
package amqp
