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

// Package sensor polls the temperature/humidity sensor and publishes
// measurements to the shared state cache. A failed poll keeps the
// last good measurement, marks it with the error and slows the poll
// cadence until the sensor answers again.
package sensor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rhomber/pico-fungi/state"
)

var (
	// ErrNotResponding reports a sensor that did not answer in time.
	ErrNotResponding = errors.New("sensor not responding")
	// ErrOutOfRange reports a measurement outside the physical range
	// of the part.
	ErrOutOfRange = errors.New("reading out of range")
	// ErrBus reports a fault on the bus carrying the sensor.
	ErrBus = errors.New("sensor bus fault")
)

// Reading is one raw measurement from the driver.
type Reading struct {
	TempC float64
	RH    float64
}

// Driver reads the sensor hardware. Read blocks until a measurement
// is available or ctx expires.
type Driver interface {
	Read(ctx context.Context) (Reading, error)
}

const readTimeout = 2 * time.Second

// fallback cadences for the window before the config store publishes
// its first record
const (
	fallbackPoll    = 5 * time.Second
	fallbackPollErr = 10 * time.Second
)

// Task drives the poll loop.
type Task struct {
	drv   Driver
	cache *state.Cache
	log   *slog.Logger
}

// NewTask returns a poll task over drv publishing into cache.
func NewTask(drv Driver, cache *state.Cache, log *slog.Logger) *Task {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Task{drv: drv, cache: cache, log: log}
}

// Run polls until ctx is cancelled. The poll interval follows the
// current configuration and switches to the error cadence while the
// sensor is down.
func (t *Task) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(t.poll(ctx))
		}
	}
}

// poll performs one measurement and returns the delay until the next.
func (t *Task) poll(ctx context.Context) time.Duration {
	cfg := t.cache.Read().Config

	rctx, cancel := context.WithTimeout(ctx, readTimeout)
	r, err := t.drv.Read(rctx)
	cancel()

	if err != nil {
		t.log.Warn("sensor read failed", "err", err)
		t.cache.ReadingFailed(err.Error())
		return delayOr(cfg.PollErrInterval.Std(), fallbackPollErr)
	}

	r.RH = clamp(r.RH, 0, 100)
	t.cache.UpdateReading(r.TempC, r.RH, time.Now())
	return delayOr(cfg.PollInterval.Std(), fallbackPoll)
}

func delayOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
