// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package status serves the status and metrics of the bridge over HTTP.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Location status
type Location struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Monitored    bool   `json:"monitored"`
	Connected    bool   `json:"connected"`
	Devices      int    `json:"devices"`
	Available    int    `json:"available"`
	Republishing bool   `json:"republishing"`
}

// Status of the bridge
type Status struct {
	MQTTConnected bool       `json:"mqtt_connected"`
	Locations     []Location `json:"locations"`
}

// Provider returns the current status
type Provider interface {
	Status() Status
}

// Server serves the status endpoints
type Server struct {
	ctx      log.Interface
	provider Provider
	server   *http.Server
}

// NewServer returns a new status Server for the address
func NewServer(ctx log.Interface, address string, provider Provider) *Server {
	s := &Server{
		ctx:      ctx.WithField("Connector", "Status"),
		provider: provider,
	}
	s.server = &http.Server{
		Addr:    address,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the HTTP handler with the /metrics, /health and /status endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.provider.Status()); err != nil {
			s.ctx.WithError(err).Warn("Could not write status")
		}
	})
	return mux
}

// Start serving in the background
func (s *Server) Start() {
	go func() {
		s.ctx.WithField("Address", s.server.Addr).Info("Serving status")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.ctx.WithError(err).Error("Could not serve status")
		}
	}()
}

// Stop the server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
