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

// Package display renders the appliance state onto the status panel.
// The task redraws only when the state revision moved, so an idle
// appliance does not burn cycles repainting identical frames.
package display

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhomber/pico-fungi/state"
)

// Screen paints rendered text lines onto the panel hardware.
type Screen interface {
	Draw(lines []string) error
}

// lineWidth is what a 128px panel fits with 6px glyphs.
const lineWidth = 21

// Lines renders the four-line panel summary of a snapshot.
func Lines(snap state.Snapshot) []string {
	return []string{
		readingLine(snap.Reading),
		mistLine(snap.Control),
		fmt.Sprintf("net %s", snap.Net.Kind),
		netDetail(snap.Net),
	}
}

func readingLine(r state.Reading) string {
	if r.At.IsZero() {
		if r.Err != "" {
			return "sensor error"
		}
		return "waiting for sensor"
	}
	s := fmt.Sprintf("%.1fC %.1f%%", r.TempC, r.RH)
	if r.Err != "" {
		s += " !"
	}
	return s
}

func mistLine(ctl state.Control) string {
	mode := ctl.Mode
	if mode == "" {
		mode = "auto"
	}
	st := "idle"
	if ctl.Active {
		st = "on"
	}
	return fmt.Sprintf("mist %s %s", mode, st)
}

func netDetail(n state.Status) string {
	switch n.Kind {
	case state.Connected:
		return n.Addr
	case state.Failed:
		return truncate(n.Reason, lineWidth)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// LogScreen substitutes for the panel on hosts without one.
type LogScreen struct {
	Log *slog.Logger
}

func (s LogScreen) Draw(lines []string) error {
	s.Log.Info("display", "text", strings.Join(lines, " | "))
	return nil
}

// Task drives the redraw loop.
type Task struct {
	scr   Screen
	cache *state.Cache
	log   *slog.Logger
	rev   uint64
	drawn bool
}

// NewTask returns a redraw task painting cache onto scr.
func NewTask(scr Screen, cache *state.Cache, log *slog.Logger) *Task {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Task{scr: scr, cache: cache, log: log}
}

// Run redraws until ctx is cancelled, at the configured interval.
func (t *Task) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(t.redraw())
		}
	}
}

// redraw paints the snapshot if it changed and returns the delay
// until the next check.
func (t *Task) redraw() time.Duration {
	snap := t.cache.Read()
	if !t.drawn || snap.Revision != t.rev {
		if err := t.scr.Draw(Lines(snap)); err != nil {
			t.log.Warn("display draw failed", "err", err)
		} else {
			t.rev = snap.Revision
			t.drawn = true
		}
	}
	d := snap.Config.DisplayInterval.Std()
	if d <= 0 {
		d = time.Second
	}
	return d
}
