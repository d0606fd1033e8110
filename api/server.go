//----------------------------------------------------------------------
// This file is part of pico-fungi.
// Copyright (C) 2025-present Rhomber
//
// pico-fungi is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// pico-fungi is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

// Package api serves the appliance HTTP interface: live status,
// configuration reads and partial updates, mist mode control and a
// remote reset. It binds to whatever link the connection manager
// announces and rebinds when the link is replaced.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rhomber/pico-fungi/mister"
	"github.com/rhomber/pico-fungi/netmgr"
	"github.com/rhomber/pico-fungi/state"
	"github.com/rhomber/pico-fungi/store"
)

// request handling stays bounded; a stuck client must not pin the
// only connections the port stack has
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
	idleTimeout  = 30 * time.Second
	maxBody      = 4096
	resetDelay   = 250 * time.Millisecond
)

// ConfigStore persists the configuration record.
type ConfigStore interface {
	Current() store.Record
	Save(store.Record) error
}

// Wireless accepts credential updates.
type Wireless interface {
	CredentialsChanged(netmgr.Credentials)
}

// MistControl selects the mist mode.
type MistControl interface {
	Mode() mister.Mode
	SetMode(mister.Mode)
}

// Rebooter restarts the appliance.
type Rebooter interface {
	Reset()
}

// Config wires the server to the rest of the appliance.
type Config struct {
	Cache *state.Cache
	Store ConfigStore
	Net   Wireless
	Mist  MistControl
	Reset Rebooter
	Log   *slog.Logger
	Port  uint16
}

// Server is the appliance HTTP API.
type Server struct {
	cache  *state.Cache
	store  ConfigStore
	net    Wireless
	mist   MistControl
	reset  Rebooter
	log    *slog.Logger
	port   uint16
	router *mux.Router
}

// New builds the router and returns the server.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		cache:  cfg.Cache,
		store:  cfg.Store,
		net:    cfg.Net,
		mist:   cfg.Mist,
		reset:  cfg.Reset,
		log:    log,
		port:   cfg.Port,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)
	s.router.HandleFunc("/status", s.getStatus).Methods("GET")
	s.router.HandleFunc("/config", s.getConfig).Methods("GET")
	s.router.HandleFunc("/config", s.putConfig).Methods("PUT")
	s.router.HandleFunc("/mode", s.getMode).Methods("GET")
	s.router.HandleFunc("/mode", s.putMode).Methods("PUT")
	s.router.HandleFunc("/reset", s.postReset).Methods("POST")
	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)
}

// Handler exposes the router, mainly to tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

type okBody struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type modeBody struct {
	Mode string `json:"mode"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", "err", err)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorBody{Status: code, Msg: msg})
}

func (s *Server) writeOK(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusOK, okBody{Success: true, Message: msg})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.writeErr(w, http.StatusNotFound, "not found")
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Read())
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Current())
}

// configPatch is a partial configuration update. Absent fields keep
// their stored values.
type configPatch struct {
	SSID       *string            `json:"ssid"`
	Secret     *string            `json:"secret"`
	PollMs     *store.Duration    `json:"poll_ms"`
	PollErrMs  *store.Duration    `json:"poll_err_ms"`
	DisplayMs  *store.Duration    `json:"display_ms"`
	MistLowRH  *float64           `json:"mist_low_rh"`
	MistHighRH *float64           `json:"mist_high_rh"`
	Labels     *map[string]string `json:"labels"`
}

func (p configPatch) apply(r store.Record) store.Record {
	if p.SSID != nil {
		r.SSID = *p.SSID
	}
	if p.Secret != nil {
		r.Secret = *p.Secret
	}
	if p.PollMs != nil {
		r.PollInterval = *p.PollMs
	}
	if p.PollErrMs != nil {
		r.PollErrInterval = *p.PollErrMs
	}
	if p.DisplayMs != nil {
		r.DisplayInterval = *p.DisplayMs
	}
	if p.MistLowRH != nil {
		r.MistLowRH = *p.MistLowRH
	}
	if p.MistHighRH != nil {
		r.MistHighRH = *p.MistHighRH
	}
	if p.Labels != nil {
		r.Labels = maps.Clone(*p.Labels)
	}
	return r
}

func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var patch configPatch
	if err := dec.Decode(&patch); err != nil {
		s.log.Warn("config patch rejected", "err", err)
		s.writeErr(w, http.StatusBadRequest, "malformed config patch")
		return
	}

	prev := s.store.Current()
	next := patch.apply(prev.Clone())

	err := s.store.Save(next)
	switch {
	case errors.Is(err, store.ErrInvalid):
		s.writeErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && !errors.Is(err, store.ErrHardware):
		s.log.Error("config save failed", "err", err)
		s.writeErr(w, http.StatusInternalServerError, "config save failed")
		return
	}

	// the record is in effect from here, persisted or not
	if next.SSID != prev.SSID || next.Secret != prev.Secret {
		s.net.CredentialsChanged(netmgr.Credentials{SSID: next.SSID, Secret: next.Secret})
	}

	if err != nil {
		s.log.Error("config save failed", "err", err)
		s.writeErr(w, http.StatusInternalServerError, "config applied but not persisted")
		return
	}
	s.writeJSON(w, http.StatusOK, next)
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, modeBody{Mode: string(s.mist.Mode())})
}

func (s *Server) putMode(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var body modeBody
	if err := dec.Decode(&body); err != nil {
		s.writeErr(w, http.StatusBadRequest, "malformed mode request")
		return
	}
	m, err := mister.ParseMode(body.Mode)
	if err != nil {
		s.writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mist.SetMode(m)
	s.writeOK(w, "mode updated")
}

func (s *Server) postReset(w http.ResponseWriter, r *http.Request) {
	s.log.Info("reset requested")
	s.writeOK(w, "resetting")
	// let the response flush before the cpu goes away
	go func() {
		time.Sleep(resetDelay)
		s.reset.Reset()
	}()
}

// Run serves the API over links announced by the connection manager
// until ctx is cancelled. Each new link replaces the previous server;
// a dead link parks the loop until the next announcement.
func (s *Server) Run(ctx context.Context, links <-chan netmgr.Link) {
	var (
		hs    *http.Server
		errCh chan error
	)
	stop := func() {
		if hs == nil {
			return
		}
		hs.Close()
		<-errCh
		hs, errCh = nil, nil
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return

		case link := <-links:
			stop()
			lst, err := link.Listen(s.port)
			if err != nil {
				s.log.Error("api listen failed", "port", s.port, "err", err)
				continue
			}
			s.log.Info("api listening", "port", s.port, "addr", link.Addr())
			hs = &http.Server{
				Handler:           s.router,
				ReadTimeout:       readTimeout,
				ReadHeaderTimeout: readTimeout,
				WriteTimeout:      writeTimeout,
				IdleTimeout:       idleTimeout,
			}
			errCh = make(chan error, 1)
			go serve(hs, lst, errCh)

		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Warn("api server stopped", "err", err)
			}
			hs, errCh = nil, nil
		}
	}
}

func serve(hs *http.Server, lst net.Listener, errCh chan error) {
	errCh <- hs.Serve(lst)
}
