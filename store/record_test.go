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

package store

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	r := Defaults()
	r.SSID = "chamber-net"
	r.Secret = "mycelium42"
	r.Labels = map[string]string{"room": "basement", "rack": "b2"}
	return r
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Record)
		ok     bool
	}{
		{"valid", func(r *Record) {}, true},
		{"open network", func(r *Record) { r.Secret = "" }, true},
		{"empty ssid", func(r *Record) { r.SSID = "" }, false},
		{"ssid too long", func(r *Record) { r.SSID = strings.Repeat("x", 33) }, false},
		{"secret too short", func(r *Record) { r.Secret = "abc" }, false},
		{"secret too long", func(r *Record) { r.Secret = strings.Repeat("x", 64) }, false},
		{"zero poll interval", func(r *Record) { r.PollInterval = 0 }, false},
		{"poll below floor", func(r *Record) { r.PollInterval = Duration(400 * time.Millisecond) }, false},
		{"poll above ceiling", func(r *Record) { r.PollInterval = Duration(2 * time.Hour) }, false},
		{"poll err below floor", func(r *Record) { r.PollErrInterval = Duration(500 * time.Millisecond) }, false},
		{"display below floor", func(r *Record) { r.DisplayInterval = Duration(100 * time.Millisecond) }, false},
		{"mist low zero", func(r *Record) { r.MistLowRH = 0 }, false},
		{"mist high above 100", func(r *Record) { r.MistHighRH = 101 }, false},
		{"mist band inverted", func(r *Record) { r.MistLowRH, r.MistHighRH = 94, 88 }, false},
		{"mist low NaN", func(r *Record) { r.MistLowRH = math.NaN() }, false},
		{"too many labels", func(r *Record) {
			r.Labels = map[string]string{}
			for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"} {
				r.Labels[k] = "v"
			}
		}, false},
		{"empty label key", func(r *Record) { r.Labels = map[string]string{"": "v"} }, false},
		{"label key too long", func(r *Record) { r.Labels = map[string]string{strings.Repeat("k", 17): "v"} }, false},
		{"label value too long", func(r *Record) { r.Labels = map[string]string{"k": strings.Repeat("v", 33)} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := testRecord()
			tc.mutate(&r)
			err := r.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestDefaultsNeedCredentials(t *testing.T) {
	// a fresh device runs on defaults but cannot persist them until
	// an SSID is configured
	assert.ErrorIs(t, Defaults().Validate(), ErrInvalid)
	r := Defaults()
	r.SSID = "chamber-net"
	assert.NoError(t, r.Validate())
}

func TestRecordJSONOmitsSecret(t *testing.T) {
	b, err := json.Marshal(testRecord())
	require.NoError(t, err)
	s := string(b)
	assert.NotContains(t, s, "mycelium42")
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, `"poll_ms":5000`)
	assert.Contains(t, s, `"ssid":"chamber-net"`)
}

func TestDurationJSON(t *testing.T) {
	b, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "1500", string(b))

	var d Duration
	require.NoError(t, json.Unmarshal([]byte("250"), &d))
	assert.Equal(t, Duration(250*time.Millisecond), d)

	assert.Error(t, json.Unmarshal([]byte(`"fast"`), &d))
	assert.Error(t, json.Unmarshal([]byte("1.5"), &d))
}

func TestCloneDetachesLabels(t *testing.T) {
	orig := testRecord()
	cp := orig.Clone()
	cp.Labels["room"] = "attic"
	assert.Equal(t, "basement", orig.Labels["room"])
}
