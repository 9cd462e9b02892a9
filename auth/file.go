// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package auth

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"sync"
)

type state struct {
	Token string `json:"ring_token"`
}

// File implements Store with a JSON state file
type File struct {
	filename string
	mu       sync.Mutex
}

// NewFile returns a new Store that keeps the token in a JSON state file
func NewFile(filename string) Store {
	return &File{filename: filename}
}

// Get implements Store
func (f *File) Get() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	contents, err := ioutil.ReadFile(f.filename)
	if os.IsNotExist(err) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	var s state
	if err := json.Unmarshal(contents, &s); err != nil {
		return "", err
	}
	if s.Token == "" {
		return "", ErrNoToken
	}
	return s.Token, nil
}

// Set implements Store
func (f *File) Set(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	contents, err := json.Marshal(state{Token: token})
	if err != nil {
		return err
	}
	return ioutil.WriteFile(f.filename, contents, 0600)
}
