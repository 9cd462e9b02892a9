// Copyright © 2016 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package auth stores the refresh token of the cloud account and selects the token to connect with.
package auth

import (
	"errors"
	"sync"
)

// Store for the refresh token
type Store interface {
	// Get returns the stored token, or ErrNoToken
	Get() (token string, err error)
	Set(token string) error
}

// ErrNoToken is returned when no token is stored
var ErrNoToken = errors.New("No refresh token stored")

// ErrTokensExhausted is returned when none of the refresh tokens could be used to connect
var ErrTokensExhausted = errors.New("Could not connect with any refresh token")

// Memory implements Store with an in-memory backend
type Memory struct {
	token string
	mu    sync.RWMutex
}

// NewMemory returns a new Store with an in-memory backend
func NewMemory() Store {
	return &Memory{}
}

// Get implements Store
func (m *Memory) Get() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return "", ErrNoToken
	}
	return m.token, nil
}

// Set implements Store
func (m *Memory) Set(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}
