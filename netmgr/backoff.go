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

package netmgr

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultBackoffMin = 2 * time.Second
	DefaultBackoffMax = 2 * time.Minute
)

// Backoff produces capped exponential retry delays with a uniform
// +-25% jitter. The zero value uses the package defaults. Not safe
// for concurrent use.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur    time.Duration
	jitter func(time.Duration) time.Duration
}

// Next returns the delay before the upcoming attempt and advances
// the sequence.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		if b.Min <= 0 {
			b.Min = DefaultBackoffMin
		}
		if b.Max < b.Min {
			b.Max = DefaultBackoffMax
		}
		b.cur = b.Min
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.Max {
		b.cur = b.Max
	}
	if b.jitter != nil {
		return b.jitter(d)
	}
	return jittered(d)
}

// Reset restarts the sequence at Min.
func (b *Backoff) Reset() { b.cur = 0 }

// jittered spreads d uniformly over [0.75d, 1.25d).
func jittered(d time.Duration) time.Duration {
	q := d / 4
	if q <= 0 {
		return d
	}
	return d - q + rand.N(2*q)
}
