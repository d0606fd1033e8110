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

// Package mister switches the humidifier output. In auto mode it runs
// a hysteresis band over the measured humidity: at or below the low
// threshold the mist turns on, at or above the high threshold it
// turns off, in between it holds. A stale or failed reading forces
// the output off.
package mister

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rhomber/pico-fungi/state"
)

// Mode selects how the output is driven.
type Mode string

const (
	ModeOff  Mode = "off"
	ModeOn   Mode = "on"
	ModeAuto Mode = "auto"
)

// ErrBadMode reports a mode string outside off/on/auto.
var ErrBadMode = errors.New("unknown mist mode")

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, ModeOn, ModeAuto:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadMode, s)
}

// Output drives the mist hardware.
type Output interface {
	Set(on bool) error
}

// Controller evaluates the mist policy once a second and on every
// mode change. The appliance boots in auto mode.
type Controller struct {
	out    Output
	cache  *state.Cache
	log    *slog.Logger
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	mode    Mode
	active  bool
	applied bool
}

// New returns a controller over out publishing into cache.
func New(out Output, cache *state.Cache, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		out:    out,
		cache:  cache,
		log:    log,
		period: time.Second,
		now:    time.Now,
		mode:   ModeAuto,
	}
}

// Mode returns the selected mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the mode and applies it immediately.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	if c.mode == m {
		c.mu.Unlock()
		return
	}
	c.mode = m
	c.applied = false
	c.mu.Unlock()
	c.evaluate()
}

// Run evaluates until ctx is cancelled, then forces the output off.
func (c *Controller) Run(ctx context.Context) {
	c.evaluate()
	tick := time.NewTicker(c.period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := c.out.Set(false); err != nil {
				c.log.Warn("mist output failed", "err", err)
			}
			return
		case <-tick.C:
			c.evaluate()
		}
	}
}

func (c *Controller) evaluate() {
	snap := c.cache.Read()

	c.mu.Lock()
	defer c.mu.Unlock()

	want := c.decide(snap)
	if c.applied && want == c.active {
		return
	}
	if err := c.out.Set(want); err != nil {
		c.log.Warn("mist output failed", "err", err)
		c.applied = false
		return
	}
	c.active = want
	c.applied = true
	c.cache.UpdateControl(state.Control{Mode: string(c.mode), Active: want})
}

// decide computes the desired output. Caller holds c.mu.
func (c *Controller) decide(snap state.Snapshot) bool {
	switch c.mode {
	case ModeOff:
		return false
	case ModeOn:
		return true
	}

	r, cfg := snap.Reading, snap.Config
	if r.Err != "" || r.At.IsZero() {
		return false
	}
	if maxAge := 3 * cfg.PollInterval.Std(); maxAge > 0 && c.now().Sub(r.At) > maxAge {
		return false
	}
	if r.RH <= cfg.MistLowRH {
		return true
	}
	if r.RH >= cfg.MistHighRH {
		return false
	}
	return c.active
}
