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

package main

import (
	"context"
	"time"

	fungi "github.com/rhomber/pico-fungi"
	"github.com/rhomber/pico-fungi/api"
	"github.com/rhomber/pico-fungi/display"
	"github.com/rhomber/pico-fungi/mister"
	"github.com/rhomber/pico-fungi/netmgr"
	"github.com/rhomber/pico-fungi/ninefs"
	"github.com/rhomber/pico-fungi/sensor"
	"github.com/rhomber/pico-fungi/state"
	"github.com/rhomber/pico-fungi/store"
)

// WiFi credentials for hardware builds (set via -ldflags -X)
var (
	SSID   string
	Passwd string
)

// run the appliance
func main() {
	// access device
	dev, err := fungi.InitDevice()
	if err != nil {
		// no status LED yet, the panic at least reaches the log
		panic(err)
	}
	stat := fungi.NewStatus(dev)
	defer stat.Trap(30 * time.Second)
	stat.Set(fungi.StatOK, 0)

	log := dev.Logger()
	ctx := context.Background()
	cache := state.New()

	// bring up the config store
	st, err := store.New(dev.Flash(), cache, log)
	if err != nil {
		log.Error("config region unusable", "err", err)
		stat.Set(fungi.StatFLASH, 0)
		return
	}
	rec := st.Load()
	if rec.SSID == "" {
		ssid, secret := dev.SeedCredentials()
		if ssid == "" {
			ssid, secret = SSID, Passwd
		}
		if ssid != "" {
			rec.SSID, rec.Secret = ssid, secret
			if err := st.Save(rec); err != nil {
				log.Warn("seed credentials not persisted", "err", err)
			}
		}
	}

	// connect to WiFi and keep the link alive
	mgr := netmgr.New(dev.Netlink(), cache, netmgr.Credentials{
		SSID:   rec.SSID,
		Secret: rec.Secret,
	}, log)
	go mgr.Run(ctx)

	// chamber tasks
	go sensor.NewTask(dev.Sensor(), cache, log).Run(ctx)
	ctl := mister.New(dev.Mist(), cache, log)
	go ctl.Run(ctx)
	go display.NewTask(dev.Screen(), cache, log).Run(ctx)

	// serve clients on whatever link the manager lands
	apiPort, ninePort := dev.Ports()
	srv := api.New(api.Config{
		Cache: cache,
		Store: st,
		Net:   mgr,
		Mist:  ctl,
		Reset: dev,
		Log:   log,
		Port:  apiPort,
	})
	go srv.Run(ctx, mgr.Subscribe())

	nfs, err := ninefs.New(ninefs.Config{
		Cache:   cache,
		Store:   st,
		Mist:    ctl,
		Log:     log,
		Port:    ninePort,
		Version: fungi.Version,
	})
	if err != nil {
		log.Error("namespace construction failed", "err", err)
		stat.Set(fungi.StatSRV, 0)
		return
	}
	go nfs.Run(ctx, mgr.Subscribe())

	// reflect the shared state on the LED
	for {
		time.Sleep(5 * time.Second)
		snap := cache.Read()
		switch {
		case snap.Net.Kind != state.Connected:
			stat.Set(fungi.StatWIFI, 0)
		case snap.Reading.Err != "":
			stat.Set(fungi.StatSENSOR, 0)
		default:
			stat.Set(fungi.StatOK, 0)
		}
	}

	// curl http://<addr>/status
	// curl -X PUT http://<addr>/config -d '{"mist_low_rh": 85}'
	//
	// srv tcp!<addr>!564 fungi
	// mount /srv/fungi /n/fungi
	// cat /n/fungi/status
}
