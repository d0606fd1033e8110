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

package sensor

import (
	"context"
	"math/rand/v2"
	"sync"
)

// Sim is a deterministic stand-in driver for the host build. It walks
// temperature and humidity through plausible grow-chamber ranges and
// can be forced into a failure state.
type Sim struct {
	mu   sync.Mutex
	rng  *rand.Rand
	temp float64
	rh   float64
	fail error
}

// NewSim returns a simulated sensor seeded for reproducible walks.
func NewSim(seed int64) *Sim {
	return &Sim{
		rng:  rand.New(rand.NewPCG(uint64(seed), 0)),
		temp: 22,
		rh:   90,
	}
}

// Fail makes every following Read return err. Pass nil to recover.
func (s *Sim) Fail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Read returns the next simulated measurement.
func (s *Sim) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Reading{}, s.fail
	}
	s.temp = walk(s.rng, s.temp, 0.1, 18, 26)
	s.rh = walk(s.rng, s.rh, 0.4, 80, 97)
	return Reading{TempC: s.temp, RH: s.rh}, nil
}

func walk(rng *rand.Rand, v, step, lo, hi float64) float64 {
	v += (rng.Float64()*2 - 1) * step
	return clamp(v, lo, hi)
}
