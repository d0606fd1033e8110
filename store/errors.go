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

import "errors"

var (
	// ErrInvalid marks a record that fails schema validation.
	ErrInvalid = errors.New("invalid configuration")

	// ErrCorrupt marks a flash slot that cannot be decoded.
	ErrCorrupt = errors.New("corrupt record")

	// ErrHardware marks a flash operation failure. The previously
	// persisted record is still intact when Save returns it.
	ErrHardware = errors.New("flash hardware failure")
)
