// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	redis "gopkg.in/redis.v5"
)

// Redis implements Store with a Redis backend
type Redis struct {
	key    string
	client *redis.Client
}

// DefaultRedisKey is used as key when no key is given
var DefaultRedisKey = "alarm-mqtt-bridge:ring_token"

// NewRedis returns a new Store with a redis backend
func NewRedis(client *redis.Client, key string) Store {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{
		client: client,
		key:    key,
	}
}

// Get implements Store
func (r *Redis) Get() (string, error) {
	token, err := r.client.Get(r.key).Result()
	if err == redis.Nil || (err == nil && token == "") {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Set implements Store
func (r *Redis) Set(token string) error {
	return r.client.Set(r.key, token, 0).Err()
}

// Delete the stored token
func (r *Redis) Delete() error {
	return r.client.Del(r.key).Err()
}
