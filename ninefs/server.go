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

package ninefs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"git.sr.ht/~moody/ninep"

	"github.com/rhomber/pico-fungi/mister"
	"github.com/rhomber/pico-fungi/netmgr"
	"github.com/rhomber/pico-fungi/state"
	"github.com/rhomber/pico-fungi/store"
)

// ConfigStore reads the persisted configuration.
type ConfigStore interface {
	Current() store.Record
}

// MistControl selects the mist mode.
type MistControl interface {
	Mode() mister.Mode
	SetMode(mister.Mode)
}

// Config wires the file service to the appliance.
type Config struct {
	Cache   *state.Cache
	Store   ConfigStore
	Mist    MistControl
	Log     *slog.Logger
	Port    uint16
	Version string
}

// Server publishes the appliance namespace over 9p.
type Server struct {
	ns    *Namespace
	cache *state.Cache
	store ConfigStore
	mist  MistControl
	log   *slog.Logger
	port  uint16
}

// New builds the namespace and returns the server.
//
//	/reading   last measurement, "temp rh" in C and %RH
//	/status    one line per subsystem
//	/config    configuration record as JSON, secret withheld
//	/mode      mist mode, writable with off/on/auto
//	/version   firmware version
func New(cfg Config) (*Server, error) {
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		cache: cfg.Cache,
		store: cfg.Store,
		mist:  cfg.Mist,
		log:   log,
		port:  cfg.Port,
	}

	ns := NewNamespace("fungi", "fungi")
	if err := ns.NewFile("/reading", 0444, NewFuncFile(s.readingFile)); err != nil {
		return nil, err
	}
	if err := ns.NewFile("/status", 0444, NewFuncFile(s.statusFile)); err != nil {
		return nil, err
	}
	if err := ns.NewFile("/config", 0444, NewFuncFile(s.configFile)); err != nil {
		return nil, err
	}
	if err := ns.NewFile("/mode", 0666, NewCtlFile(s.modeFile, s.writeMode)); err != nil {
		return nil, err
	}
	if err := ns.NewFile("/version", 0444, NewTextFile(cfg.Version+"\n")); err != nil {
		return nil, err
	}
	s.ns = ns
	return s, nil
}

func (s *Server) readingFile() ([]byte, error) {
	r := s.cache.Read().Reading
	if r.At.IsZero() && r.Err == "" {
		return []byte("no reading yet\n"), nil
	}
	return fmt.Appendf(nil, "%.2f %.2f\n", r.TempC, r.RH), nil
}

func (s *Server) statusFile() ([]byte, error) {
	snap := s.cache.Read()
	var b bytes.Buffer

	fmt.Fprintf(&b, "net %s", snap.Net.Kind)
	if snap.Net.Addr != "" {
		fmt.Fprintf(&b, " %s", snap.Net.Addr)
	}
	if snap.Net.Reason != "" {
		fmt.Fprintf(&b, " %s", snap.Net.Reason)
	}
	b.WriteByte('\n')

	switch {
	case snap.Reading.Err != "":
		fmt.Fprintf(&b, "sensor error %s\n", snap.Reading.Err)
	case snap.Reading.At.IsZero():
		b.WriteString("sensor waiting\n")
	default:
		b.WriteString("sensor ok\n")
	}

	act := "idle"
	if snap.Control.Active {
		act = "on"
	}
	fmt.Fprintf(&b, "mist %s %s\n", s.mist.Mode(), act)
	fmt.Fprintf(&b, "rev %d\n", snap.Revision)
	return b.Bytes(), nil
}

func (s *Server) configFile() ([]byte, error) {
	data, err := json.MarshalIndent(s.store.Current(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Server) modeFile() ([]byte, error) {
	return []byte(string(s.mist.Mode()) + "\n"), nil
}

func (s *Server) writeMode(data []byte) error {
	m, err := mister.ParseMode(strings.TrimSpace(string(data)))
	if err != nil {
		return err
	}
	s.mist.SetMode(m)
	s.log.Info("mist mode set via 9p", "mode", m)
	return nil
}

// Run serves 9p over links announced by the connection manager until
// ctx is cancelled. Each new link replaces the previous listener.
func (s *Server) Run(ctx context.Context, links <-chan netmgr.Link) {
	var (
		lst  net.Listener
		done chan struct{}
	)
	stop := func() {
		if lst == nil {
			return
		}
		lst.Close()
		<-done
		lst, done = nil, nil
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return

		case link := <-links:
			stop()
			l, err := link.Listen(s.port)
			if err != nil {
				s.log.Error("9p listen failed", "port", s.port, "err", err)
				continue
			}
			s.log.Info("9p listening", "port", s.port, "addr", link.Addr())
			lst = l
			done = make(chan struct{})
			go func(l net.Listener, done chan struct{}) {
				s.acceptLoop(l)
				close(done)
			}(lst, done)

		case <-done:
			lst, done = nil, nil
		}
	}
}

// acceptLoop runs one 9p session per connection until the listener
// closes.
func (s *Server) acceptLoop(lst net.Listener) {
	for {
		c, err := lst.Accept()
		if err != nil {
			return
		}
		srv := ninep.NewSrv(func() ninep.FS { return s.ns })
		go func() {
			srv.ServeIO(c, c)
			c.Close()
		}()
	}
}
