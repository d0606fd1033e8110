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
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/rhomber/pico-fungi/state"
)

const (
	DefaultJoinTimeout   = 45 * time.Second
	DefaultProbeInterval = 3 * time.Second
)

// Manager owns the wireless connection. It keeps at most one join
// attempt in flight, publishes every transition to the state cache
// and announces each established link to subscribers. It retries
// forever; there is no terminal failure state.
type Manager struct {
	nl    Netlink
	cache *state.Cache
	log   *slog.Logger

	backoff     Backoff
	joinTimeout time.Duration
	probe       time.Duration

	mu    sync.Mutex
	creds Credentials
	subs  []chan Link

	credsCh chan struct{}
}

// New returns a manager joining with creds until told otherwise.
func New(nl Netlink, cache *state.Cache, creds Credentials, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		nl:          nl,
		cache:       cache,
		log:         log,
		backoff:     Backoff{Min: DefaultBackoffMin, Max: DefaultBackoffMax},
		joinTimeout: DefaultJoinTimeout,
		probe:       DefaultProbeInterval,
		creds:       creds,
		credsCh:     make(chan struct{}, 1),
	}
}

// Subscribe returns a channel delivering each established link. The
// channel only holds the newest link; a slow receiver never blocks
// the manager. Subscribe before calling Run.
func (m *Manager) Subscribe() <-chan Link {
	ch := make(chan Link, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// CredentialsChanged replaces the join credentials. Any in-flight
// attempt, backoff wait or established link is abandoned and a fresh
// attempt starts with the new values.
func (m *Manager) CredentialsChanged(c Credentials) {
	m.mu.Lock()
	same := m.creds == c
	m.creds = c
	m.mu.Unlock()
	if same {
		return
	}
	select {
	case m.credsCh <- struct{}{}:
	default:
	}
}

func (m *Manager) credentials() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

// Run drives the connection machine until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.publish(state.Disconnected, netip.Addr{}, "")
	st := Idle
	var link Link
	for ctx.Err() == nil {
		switch st {
		case Idle:
			st = next(st, EvStart)
		case Connecting:
			st, link = m.connect(ctx)
		case Connected:
			st = m.monitor(ctx, link)
			link = nil
		case Failed:
			st = m.waitRetry(ctx)
		}
	}
}

// connect runs one join attempt. Credential changes abort the
// attempt and re-enter Connecting.
func (m *Manager) connect(ctx context.Context) (State, Link) {
	creds := m.credentials()
	m.publish(state.Connecting, netip.Addr{}, "")
	m.log.Info("joining network", "ssid", creds.SSID)

	jctx, cancel := context.WithTimeout(ctx, m.joinTimeout)
	defer cancel()
	type result struct {
		link Link
		err  error
	}
	done := make(chan result, 1)
	go func() {
		l, err := m.nl.Join(jctx, creds)
		done <- result{l, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if ctx.Err() != nil {
				return Connecting, nil
			}
			m.log.Warn("join failed", "ssid", creds.SSID, "err", r.err)
			m.publish(state.Failed, netip.Addr{}, r.err.Error())
			return next(Connecting, EvJoinFail), nil
		}
		addr := r.link.Addr()
		m.log.Info("network joined", "ssid", creds.SSID, "addr", addr)
		m.publish(state.Connected, addr, "")
		m.backoff.Reset()
		m.announce(r.link)
		return next(Connecting, EvJoinOK), r.link
	case <-m.credsCh:
		cancel()
		r := <-done
		if r.err == nil {
			r.link.Close()
		}
		m.log.Info("credentials changed, restarting join")
		return next(Connecting, EvCredsChanged), nil
	case <-ctx.Done():
		cancel()
		if r := <-done; r.err == nil {
			r.link.Close()
		}
		return Connecting, nil
	}
}

// monitor watches an established link and leaves on loss, credential
// change or shutdown. The link is closed on every exit path.
func (m *Manager) monitor(ctx context.Context, link Link) State {
	t := time.NewTicker(m.probe)
	defer t.Stop()
	defer link.Close()
	for {
		select {
		case <-t.C:
			if link.Up() {
				continue
			}
			m.log.Warn("link lost, rejoining")
			return next(Connected, EvLinkLost)
		case <-m.credsCh:
			m.log.Info("credentials changed, leaving network")
			return next(Connected, EvCredsChanged)
		case <-ctx.Done():
			return Connected
		}
	}
}

// waitRetry sleeps out one backoff period. Credential changes cut
// the wait short.
func (m *Manager) waitRetry(ctx context.Context) State {
	d := m.backoff.Next()
	m.log.Info("join retry scheduled", "wait", d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return next(Failed, EvRetryDue)
	case <-m.credsCh:
		return next(Failed, EvCredsChanged)
	case <-ctx.Done():
		return Failed
	}
}

func (m *Manager) publish(kind state.Kind, addr netip.Addr, reason string) {
	st := state.Status{Kind: kind, Reason: reason, At: time.Now()}
	if addr.IsValid() {
		st.Addr = addr.String()
	}
	m.cache.UpdateNet(st)
}

func (m *Manager) announce(l Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- l:
		default:
		}
	}
}
