//go:build !rp2350

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

package fungi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/rhomber/pico-fungi/display"
	"github.com/rhomber/pico-fungi/mister"
	"github.com/rhomber/pico-fungi/netmgr"
	"github.com/rhomber/pico-fungi/profile"
	"github.com/rhomber/pico-fungi/sensor"
	"github.com/rhomber/pico-fungi/store"
)

// HostDevice (for testing purposes). The radio, sensor, flash and
// panel are simulated; servers listen on loopback.
type HostDevice struct {
	prof  profile.Profile
	log   *slog.Logger
	flash *fileFlash
	sim   *sensor.Sim
	nl    *hostNetlink
}

// Initialize device
func InitDevice() (Device, error) {
	prof, err := profile.FromEnv()
	if err != nil {
		return nil, err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	flash, err := openFileFlash(prof.FlashImage)
	if err != nil {
		return nil, err
	}
	return &HostDevice{
		prof:  prof,
		log:   log,
		flash: flash,
		sim:   sensor.NewSim(prof.SensorSeed),
		nl: &hostNetlink{
			prof:     prof,
			log:      log,
			failures: prof.JoinFailures,
		},
	}, nil
}

// LED on or off (not applicable)
func (dev *HostDevice) LED(on bool) {}

// Reset ends the process; the supervisor (or the developer) restarts it.
func (dev *HostDevice) Reset() {
	dev.log.Info("reset requested, exiting")
	os.Exit(0)
}

func (dev *HostDevice) Netlink() netmgr.Netlink   { return dev.nl }
func (dev *HostDevice) Flash() store.BlockDevice  { return dev.flash }
func (dev *HostDevice) Sensor() sensor.Driver     { return dev.sim }
func (dev *HostDevice) Screen() display.Screen    { return display.LogScreen{Log: dev.log} }
func (dev *HostDevice) Mist() mister.Output       { return &logOutput{log: dev.log} }
func (dev *HostDevice) Ports() (uint16, uint16)   { return dev.prof.APIPort, dev.prof.NinePort }
func (dev *HostDevice) Logger() *slog.Logger      { return dev.log }

func (dev *HostDevice) SeedCredentials() (string, string) {
	return dev.prof.SSID, dev.prof.Secret
}

//----------------------------------------------------------------------
// Simulated config flash backed by a plain file.
//----------------------------------------------------------------------

const (
	flashWriteSize = 256
	flashEraseSize = 4096
	flashSlotCount = 2
)

// fileFlash keeps NOR semantics: writes must be page aligned and
// erases fill whole blocks with 0xFF.
type fileFlash struct {
	mu sync.Mutex
	f  *os.File
}

func openFileFlash(path string) (*fileFlash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open flash image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := int64(flashSlotCount * flashEraseSize)
	if info.Size() < size {
		// a fresh image starts fully erased
		blank := erased(size - info.Size())
		if _, err := f.WriteAt(blank, info.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &fileFlash{f: f}, nil
}

func erased(n int64) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

func (ff *fileFlash) ReadAt(p []byte, off int64) (int, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.f.ReadAt(p, off)
}

func (ff *fileFlash) WriteAt(p []byte, off int64) (int, error) {
	if off%flashWriteSize != 0 || int64(len(p))%flashWriteSize != 0 {
		return 0, errors.New("unaligned flash write")
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.f.WriteAt(p, off)
}

func (ff *fileFlash) Size() int64           { return flashSlotCount * flashEraseSize }
func (ff *fileFlash) WriteBlockSize() int64 { return flashWriteSize }
func (ff *fileFlash) EraseBlockSize() int64 { return flashEraseSize }

func (ff *fileFlash) EraseBlocks(start, n int64) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	blank := erased(flashEraseSize)
	for b := start; b < start+n; b++ {
		if _, err := ff.f.WriteAt(blank, b*flashEraseSize); err != nil {
			return err
		}
	}
	return nil
}

//----------------------------------------------------------------------
// Simulated radio.
//----------------------------------------------------------------------

// joinLatency keeps host joins from completing instantly; the retry
// and backoff paths stay observable.
const joinLatency = 150 * time.Millisecond

// hostNetlink grants a link when the credentials match the profile.
// The first JoinFailures attempts fail regardless.
type hostNetlink struct {
	prof profile.Profile
	log  *slog.Logger

	mu       sync.Mutex
	failures int
}

func (n *hostNetlink) Join(ctx context.Context, creds netmgr.Credentials) (netmgr.Link, error) {
	select {
	case <-time.After(joinLatency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	n.mu.Lock()
	scripted := n.failures > 0
	if scripted {
		n.failures--
	}
	n.mu.Unlock()
	if scripted {
		n.log.Debug("scripted join failure")
		return nil, netmgr.ErrNoSuchNetwork
	}
	if creds.SSID != n.prof.SSID {
		return nil, netmgr.ErrNoSuchNetwork
	}
	if n.prof.Secret != "" && creds.Secret != n.prof.Secret {
		return nil, netmgr.ErrAuthRejected
	}
	return &hostLink{}, nil
}

// hostLink binds listeners on loopback and tracks them so closing the
// link tears the servers down, the way a dead radio would.
type hostLink struct {
	mu     sync.Mutex
	closed bool
	lsts   []net.Listener
}

func (l *hostLink) Addr() netip.Addr { return netip.MustParseAddr("127.0.0.1") }

func (l *hostLink) Up() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *hostLink) Listen(port uint16) (net.Listener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errors.New("link is down")
	}
	cfg := new(net.ListenConfig)
	lst, err := cfg.Listen(context.Background(), "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	l.lsts = append(l.lsts, lst)
	return lst, nil
}

func (l *hostLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, lst := range l.lsts {
		lst.Close()
	}
	return nil
}

//----------------------------------------------------------------------
// Simulated humidifier switch.
//----------------------------------------------------------------------

type logOutput struct {
	log *slog.Logger

	mu sync.Mutex
	on bool
}

func (o *logOutput) Set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if on != o.on {
		o.log.Info("mist output", "on", on)
		o.on = on
	}
	return nil
}
