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

// Package profile configures host runs of the appliance. The firmware
// proper has no use for it; on a workstation it picks the flash image
// file, the listen ports and how the simulated radio behaves.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Env names the environment variable holding the profile path.
const Env = "FUNGI_PROFILE"

// Profile for a host run.
type Profile struct {
	// FlashImage is the file backing the simulated config flash.
	FlashImage string `yaml:"flash_image"`
	// APIPort and NinePort are the listen ports on loopback.
	APIPort  uint16 `yaml:"api_port"`
	NinePort uint16 `yaml:"ninep_port"`
	// SSID/Secret are the credentials the simulated radio accepts.
	SSID   string `yaml:"ssid"`
	Secret string `yaml:"secret"`
	// JoinFailures makes the first n join attempts fail, for
	// exercising the retry path.
	JoinFailures int `yaml:"join_failures"`
	// SensorSeed seeds the simulated sensor walk.
	SensorSeed int64 `yaml:"sensor_seed"`
}

// Default returns the profile used when none is configured.
func Default() Profile {
	return Profile{
		FlashImage: "fungi-flash.img",
		APIPort:    8080,
		NinePort:   5640,
		SSID:       "chamber-net",
		Secret:     "mycelium42",
	}
}

// Load reads a profile from path. Omitted fields fall back to the
// defaults.
func Load(path string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	// Defaults
	def := Default()
	if p.FlashImage == "" {
		p.FlashImage = def.FlashImage
	}
	if p.APIPort == 0 {
		p.APIPort = def.APIPort
	}
	if p.NinePort == 0 {
		p.NinePort = def.NinePort
	}
	if p.SSID == "" {
		p.SSID = def.SSID
		if p.Secret == "" {
			p.Secret = def.Secret
		}
	}
	if p.JoinFailures < 0 {
		p.JoinFailures = 0
	}
	return p, nil
}

// FromEnv loads the profile named by FUNGI_PROFILE, or the defaults
// when the variable is unset.
func FromEnv() (Profile, error) {
	path := os.Getenv(Env)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
