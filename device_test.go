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
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhomber/pico-fungi/netmgr"
	"github.com/rhomber/pico-fungi/profile"
	"github.com/rhomber/pico-fungi/state"
	"github.com/rhomber/pico-fungi/store"
)

func testFlash(t *testing.T) *fileFlash {
	t.Helper()
	ff, err := openFileFlash(filepath.Join(t.TempDir(), "flash.img"))
	require.NoError(t, err)
	return ff
}

func TestFileFlashGeometry(t *testing.T) {
	ff := testFlash(t)

	assert.Equal(t, int64(flashSlotCount*flashEraseSize), ff.Size())
	assert.Equal(t, int64(flashWriteSize), ff.WriteBlockSize())
	assert.Equal(t, int64(flashEraseSize), ff.EraseBlockSize())

	// a fresh image reads fully erased
	buf := make([]byte, 32)
	_, err := ff.ReadAt(buf, flashEraseSize-16)
	require.NoError(t, err)
	for _, b := range buf {
		require.Equal(t, byte(0xFF), b)
	}
}

func TestFileFlashWriteAndErase(t *testing.T) {
	ff := testFlash(t)

	_, err := ff.WriteAt(make([]byte, 10), 0)
	assert.Error(t, err, "partial pages must be rejected")
	_, err = ff.WriteAt(make([]byte, flashWriteSize), 13)
	assert.Error(t, err, "unaligned offsets must be rejected")

	page := make([]byte, flashWriteSize)
	for i := range page {
		page[i] = 0xAB
	}
	_, err = ff.WriteAt(page, flashWriteSize)
	require.NoError(t, err)

	got := make([]byte, flashWriteSize)
	_, err = ff.ReadAt(got, flashWriteSize)
	require.NoError(t, err)
	assert.Equal(t, page, got)

	require.NoError(t, ff.EraseBlocks(0, 1))
	_, err = ff.ReadAt(got, flashWriteSize)
	require.NoError(t, err)
	for _, b := range got {
		require.Equal(t, byte(0xFF), b)
	}
}

func TestFileFlashBacksStoreAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	ff, err := openFileFlash(path)
	require.NoError(t, err)

	st, err := store.New(ff, state.New(), nil)
	require.NoError(t, err)
	rec := st.Load()
	rec.SSID = "chamber-net"
	rec.Secret = "mycelium42"
	require.NoError(t, st.Save(rec))

	// a second open of the same image sees the record, like a reboot
	ff2, err := openFileFlash(path)
	require.NoError(t, err)
	st2, err := store.New(ff2, state.New(), nil)
	require.NoError(t, err)
	got := st2.Load()
	assert.Equal(t, "chamber-net", got.SSID)
	assert.Equal(t, "mycelium42", got.Secret)
}

func TestHostNetlinkJoin(t *testing.T) {
	nl := &hostNetlink{
		prof:     profile.Profile{SSID: "net-a", Secret: "passpass1"},
		log:      slog.New(slog.DiscardHandler),
		failures: 1,
	}
	ctx := context.Background()
	creds := netmgr.Credentials{SSID: "net-a", Secret: "passpass1"}

	_, err := nl.Join(ctx, creds)
	assert.ErrorIs(t, err, netmgr.ErrNoSuchNetwork, "first attempt is a scripted failure")

	link, err := nl.Join(ctx, creds)
	require.NoError(t, err)
	assert.True(t, link.Up())
	assert.Equal(t, "127.0.0.1", link.Addr().String())

	_, err = nl.Join(ctx, netmgr.Credentials{SSID: "elsewhere", Secret: "passpass1"})
	assert.ErrorIs(t, err, netmgr.ErrNoSuchNetwork)

	_, err = nl.Join(ctx, netmgr.Credentials{SSID: "net-a", Secret: "badbadbad"})
	assert.ErrorIs(t, err, netmgr.ErrAuthRejected)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = nl.Join(cancelled, creds)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHostLinkTearsDownListeners(t *testing.T) {
	link := &hostLink{}

	lst, err := link.Listen(0)
	require.NoError(t, err)
	require.True(t, link.Up())

	require.NoError(t, link.Close())
	assert.False(t, link.Up())

	_, err = lst.Accept()
	assert.Error(t, err, "closing the link closes its listeners")
	_, err = link.Listen(0)
	assert.Error(t, err, "a downed link refuses new listeners")
}

func TestInitDeviceFromProfile(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "chamber.img")
	body := "flash_image: " + img + "\napi_port: 18080\nsensor_seed: 3\n"
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	t.Setenv(profile.Env, path)

	dev, err := InitDevice()
	require.NoError(t, err)

	apiPort, ninePort := dev.Ports()
	assert.Equal(t, uint16(18080), apiPort)
	assert.Equal(t, uint16(5640), ninePort)

	ssid, secret := dev.SeedCredentials()
	assert.Equal(t, "chamber-net", ssid)
	assert.Equal(t, "mycelium42", secret)

	info, err := os.Stat(img)
	require.NoError(t, err)
	assert.EqualValues(t, flashSlotCount*flashEraseSize, info.Size())

	require.NotNil(t, dev.Sensor())
	require.NotNil(t, dev.Screen())
	require.NotNil(t, dev.Netlink())
	require.NoError(t, dev.Mist().Set(true))
}
