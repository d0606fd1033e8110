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

// Package fungi assembles the fruiting chamber appliance: hardware
// abstraction, status LED and firmware identity. The build target
// decides the Device behind the interface; a Pico 2 W with the real
// peripherals, or a simulated rig for workstation runs.
package fungi

import (
	"log/slog"

	"github.com/rhomber/pico-fungi/display"
	"github.com/rhomber/pico-fungi/mister"
	"github.com/rhomber/pico-fungi/netmgr"
	"github.com/rhomber/pico-fungi/sensor"
	"github.com/rhomber/pico-fungi/store"
)

// Version is the firmware version reported to clients.
const Version = "0.2.0"

// Device is a hardware abstraction
type Device interface {
	// LED on or off (if applicable)
	LED(on bool)
	// Reset restarts the appliance.
	Reset()
	// Netlink returns the wireless control surface.
	Netlink() netmgr.Netlink
	// Flash returns the storage region holding the config slots.
	Flash() store.BlockDevice
	// Sensor returns the temperature/humidity driver.
	Sensor() sensor.Driver
	// Screen returns the status panel.
	Screen() display.Screen
	// Mist returns the humidifier switch.
	Mist() mister.Output
	// Ports returns the HTTP and 9p listen ports.
	Ports() (api, ninep uint16)
	// Logger returns the device log sink.
	Logger() *slog.Logger
	// SeedCredentials returns the wireless credentials to adopt when
	// the stored config carries none. Either value may be empty.
	SeedCredentials() (ssid, secret string)
}
