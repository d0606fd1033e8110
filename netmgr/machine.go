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

// State enumerates the connection machine.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Event enumerates the inputs that move the machine.
type Event int

const (
	EvStart        Event = iota // manager started
	EvJoinOK                    // join and address acquisition succeeded
	EvJoinFail                  // join attempt failed
	EvRetryDue                  // backoff wait elapsed
	EvLinkLost                  // established link went down
	EvCredsChanged              // credentials replaced
)

func (e Event) String() string {
	switch e {
	case EvStart:
		return "start"
	case EvJoinOK:
		return "join-ok"
	case EvJoinFail:
		return "join-fail"
	case EvRetryDue:
		return "retry-due"
	case EvLinkLost:
		return "link-lost"
	case EvCredsChanged:
		return "creds-changed"
	}
	return "unknown"
}

// next is the transition function. It is total: an event that does
// not apply in a state leaves the machine where it is. Link loss and
// credential changes re-enter Connecting directly, without a backoff
// wait; only failed attempts pass through Failed.
func next(s State, ev Event) State {
	switch s {
	case Idle:
		switch ev {
		case EvStart, EvCredsChanged:
			return Connecting
		}
	case Connecting:
		switch ev {
		case EvJoinOK:
			return Connected
		case EvJoinFail:
			return Failed
		case EvCredsChanged:
			return Connecting
		}
	case Connected:
		switch ev {
		case EvLinkLost, EvCredsChanged:
			return Connecting
		}
	case Failed:
		switch ev {
		case EvRetryDue, EvCredsChanged:
			return Connecting
		}
	}
	return s
}
