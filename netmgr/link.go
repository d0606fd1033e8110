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

// Package netmgr owns the wireless connection: joining, address
// acquisition, link supervision and reconnect policy. It publishes
// every transition to the state cache and hands established links to
// the servers that listen on them.
package netmgr

import (
	"context"
	"errors"
	"net"
	"net/netip"
)

// Credentials identify the wireless network to join.
type Credentials struct {
	SSID   string
	Secret string
}

// Netlink drives the wireless hardware.
type Netlink interface {
	// Join associates with the network and acquires an address,
	// honoring ctx cancellation and deadlines. The returned link is
	// exclusive: callers close it before joining again.
	Join(ctx context.Context, creds Credentials) (Link, error)
}

// Link is one established attachment to the network.
type Link interface {
	// Addr is the address acquired for this attachment.
	Addr() netip.Addr
	// Up reports whether the attachment is still usable.
	Up() bool
	// Listen opens a TCP listener on the attachment.
	Listen(port uint16) (net.Listener, error)
	// Close releases the attachment.
	Close() error
}

// Join failure classes. Netlink implementations wrap these so the
// published failure reason is stable across targets.
var (
	ErrAuthRejected  = errors.New("auth-rejected")
	ErrNoSuchNetwork = errors.New("no-such-network")
	ErrAddrTimeout   = errors.New("address-timeout")
)
