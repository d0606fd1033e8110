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
	"fmt"
	"maps"
	"strconv"
	"time"
)

// SchemaVersion is the record layout this firmware writes. Version 1
// records (pre display/mist fields) are still read and migrated.
const SchemaVersion = 2

// Schema bounds. SSID and passphrase limits follow 802.11/WPA2; the
// interval floors keep tasks from spinning, the ceiling keeps the
// encoded milliseconds inside 32 bits.
const (
	MaxSSIDLen    = 32
	MinSecretLen  = 8
	MaxSecretLen  = 63
	MaxLabels     = 8
	MaxLabelKey   = 16
	MaxLabelValue = 32

	MinPollInterval    = Duration(500 * time.Millisecond)
	MinPollErrInterval = Duration(time.Second)
	MinDisplayInterval = Duration(250 * time.Millisecond)
	MaxInterval        = Duration(time.Hour)
)

// Duration is a time.Duration carried as integer milliseconds in
// JSON, matching the wire and flash encodings.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration as integer milliseconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, time.Duration(d).Milliseconds(), 10), nil
}

// UnmarshalJSON accepts integer milliseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be integer milliseconds: %q", string(b))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Record is the persisted operating configuration. The secret never
// appears in JSON; API responses are built from this type directly.
type Record struct {
	SSID            string            `json:"ssid"`
	Secret          string            `json:"-"`
	PollInterval    Duration          `json:"poll_ms"`
	PollErrInterval Duration          `json:"poll_err_ms"`
	DisplayInterval Duration          `json:"display_ms"`
	MistLowRH       float64           `json:"mist_low_rh"`
	MistHighRH      float64           `json:"mist_high_rh"`
	Labels          map[string]string `json:"labels,omitempty"`
}

// Defaults is the compiled-in configuration a fresh device runs
// with: no credentials, 5s sensor polls stretching to 10s on errors,
// 1s display refresh and a mist band of 88-94 %RH.
func Defaults() Record {
	return Record{
		PollInterval:    Duration(5 * time.Second),
		PollErrInterval: Duration(10 * time.Second),
		DisplayInterval: Duration(time.Second),
		MistLowRH:       88,
		MistHighRH:      94,
	}
}

// Clone returns a copy sharing no mutable state with r.
func (r Record) Clone() Record {
	if r.Labels != nil {
		r.Labels = maps.Clone(r.Labels)
	}
	return r
}

func (r Record) equal(o Record) bool {
	return r.SSID == o.SSID &&
		r.Secret == o.Secret &&
		r.PollInterval == o.PollInterval &&
		r.PollErrInterval == o.PollErrInterval &&
		r.DisplayInterval == o.DisplayInterval &&
		r.MistLowRH == o.MistLowRH &&
		r.MistHighRH == o.MistHighRH &&
		maps.Equal(r.Labels, o.Labels)
}

// Validate checks r against the schema bounds. Every failure wraps
// ErrInvalid.
func (r Record) Validate() error {
	if r.SSID == "" {
		return fmt.Errorf("%w: ssid is empty", ErrInvalid)
	}
	if len(r.SSID) > MaxSSIDLen {
		return fmt.Errorf("%w: ssid exceeds %d bytes", ErrInvalid, MaxSSIDLen)
	}
	if r.Secret != "" && (len(r.Secret) < MinSecretLen || len(r.Secret) > MaxSecretLen) {
		return fmt.Errorf("%w: secret must be %d-%d bytes, or empty for an open network",
			ErrInvalid, MinSecretLen, MaxSecretLen)
	}
	if err := checkInterval("poll interval", r.PollInterval, MinPollInterval); err != nil {
		return err
	}
	if err := checkInterval("poll error interval", r.PollErrInterval, MinPollErrInterval); err != nil {
		return err
	}
	if err := checkInterval("display interval", r.DisplayInterval, MinDisplayInterval); err != nil {
		return err
	}
	if !(r.MistLowRH > 0) || !(r.MistHighRH <= 100) || !(r.MistLowRH < r.MistHighRH) {
		return fmt.Errorf("%w: mist band must satisfy 0 < low < high <= 100", ErrInvalid)
	}
	if len(r.Labels) > MaxLabels {
		return fmt.Errorf("%w: more than %d labels", ErrInvalid, MaxLabels)
	}
	for k, v := range r.Labels {
		if k == "" || len(k) > MaxLabelKey {
			return fmt.Errorf("%w: label key %q must be 1-%d bytes", ErrInvalid, k, MaxLabelKey)
		}
		if len(v) > MaxLabelValue {
			return fmt.Errorf("%w: label %q value exceeds %d bytes", ErrInvalid, k, MaxLabelValue)
		}
	}
	return nil
}

func checkInterval(name string, d, floor Duration) error {
	if d < floor {
		return fmt.Errorf("%w: %s below %s", ErrInvalid, name, floor)
	}
	if d > MaxInterval {
		return fmt.Errorf("%w: %s above %s", ErrInvalid, name, MaxInterval)
	}
	return nil
}
