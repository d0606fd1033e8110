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

// Package state holds the appliance state shared between tasks: the
// last sensor reading, the operating configuration, the wireless
// connection status and the mist controller state. Exactly one task
// writes each group; any task may read.
package state

import (
	"sync"
	"time"

	"github.com/rhomber/pico-fungi/store"
)

// Kind enumerates wireless connection states as published to clients.
type Kind string

const (
	Disconnected Kind = "disconnected"
	Connecting   Kind = "connecting"
	Connected    Kind = "connected"
	Failed       Kind = "failed"
)

// Reading is the last sensor measurement. A non-empty Err marks the
// most recent poll as failed; TempC, RH and At then still carry the
// last successful values.
type Reading struct {
	TempC float64   `json:"temp_c"`
	RH    float64   `json:"rh"`
	At    time.Time `json:"at"`
	Err   string    `json:"err,omitempty"`
}

// Status describes the wireless connection.
type Status struct {
	Kind   Kind      `json:"state"`
	Addr   string    `json:"addr,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Control reports the mist subsystem: the selected mode and whether
// the output is currently energized.
type Control struct {
	Mode   string `json:"mode"`
	Active bool   `json:"active"`
}

// Snapshot is a consistent copy of the whole appliance state. The
// revision counter increments on every mutation, so two snapshots
// with the same revision are identical.
type Snapshot struct {
	Reading  Reading      `json:"reading"`
	Config   store.Record `json:"config"`
	Net      Status       `json:"net"`
	Control  Control      `json:"control"`
	Revision uint64       `json:"rev"`
}

// Cache is the shared state store. Critical sections only copy data;
// no I/O and no blocking calls happen under the lock.
type Cache struct {
	mu   sync.Mutex
	snap Snapshot
}

// New returns an empty cache. The configuration group stays zero
// until the config store publishes its first record.
func New() *Cache {
	c := &Cache{}
	c.snap.Net.Kind = Disconnected
	return c
}

// Read returns a copy of the current state sharing no mutable memory
// with the cache.
func (c *Cache) Read() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Config = s.Config.Clone()
	return s
}

// Revision returns the current mutation count.
func (c *Cache) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Revision
}

// UpdateReading publishes a successful measurement and clears any
// error marker.
func (c *Cache) UpdateReading(tempC, rh float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Reading = Reading{TempC: tempC, RH: rh, At: at}
	c.snap.Revision++
}

// ReadingFailed keeps the last good measurement and marks it with
// the poll error.
func (c *Cache) ReadingFailed(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Reading.Err = msg
	c.snap.Revision++
}

// UpdateNet publishes a connection state change.
func (c *Cache) UpdateNet(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Net = s
	c.snap.Revision++
}

// UpdateConfig publishes the configuration record all tasks work
// from. Only the config store calls this.
func (c *Cache) UpdateConfig(r store.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Config = r.Clone()
	c.snap.Revision++
}

// UpdateControl publishes the mist controller state.
func (c *Cache) UpdateControl(ctl Control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Control = ctl
	c.snap.Revision++
}
