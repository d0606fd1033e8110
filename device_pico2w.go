//go:build rp2350

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
	"fmt"
	"image/color"
	"log/slog"
	"machine"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
	"tinygo.org/x/drivers/sht4x"
	"tinygo.org/x/drivers/ssd1306"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"

	"github.com/rhomber/pico-fungi/display"
	"github.com/rhomber/pico-fungi/mister"
	"github.com/rhomber/pico-fungi/netmgr"
	"github.com/rhomber/pico-fungi/sensor"
	"github.com/rhomber/pico-fungi/store"
)

const (
	hostname = "fungi"

	apiPort  = 80
	ninePort = 564

	// tcpPorts covers the HTTP and 9p listeners on the stack.
	tcpPorts = 2
)

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	log  *slog.Logger
	wifi *cyw43439.Device
	sht  sht4x.Device
	oled *ssd1306.Device
	pin  machine.Pin
	nl   *picoNetlink
}

// Initialize device
func InitDevice() (Device, error) {
	log := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelDebug - 1}))
	time.Sleep(2 * time.Second)

	err := machine.I2C0.Configure(machine.I2CConfig{
		SDA:       machine.GP4,
		SCL:       machine.GP5,
		Frequency: 400 * machine.KHz,
	})
	if err != nil {
		return nil, fmt.Errorf("i2c0: %w", err)
	}

	oled := ssd1306.NewI2C(machine.I2C0)
	oled.Configure(ssd1306.Config{
		Address: 0x3C,
		Width:   128,
		Height:  64,
	})
	oled.ClearDisplay()

	pin := machine.GP15
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.Low()

	dev := &Pico2WDevice{
		log:  log,
		wifi: cyw43439.NewPicoWDevice(),
		sht:  sht4x.New(machine.I2C0),
		oled: &oled,
		pin:  pin,
	}
	dev.nl = &picoNetlink{dev: dev.wifi, log: log}
	return dev, nil
}

// LED on or off (if applicable)
func (dev *Pico2WDevice) LED(on bool) {
	dev.wifi.GPIOSet(0, on)
}

func (dev *Pico2WDevice) Reset() {
	machine.CPUReset()
}

func (dev *Pico2WDevice) Netlink() netmgr.Netlink  { return dev.nl }
func (dev *Pico2WDevice) Flash() store.BlockDevice { return picoFlash{} }
func (dev *Pico2WDevice) Sensor() sensor.Driver    { return &shtDriver{dev: dev.sht} }
func (dev *Pico2WDevice) Screen() display.Screen   { return &oledScreen{dev: dev.oled} }
func (dev *Pico2WDevice) Mist() mister.Output      { return pinOutput{pin: dev.pin} }
func (dev *Pico2WDevice) Ports() (uint16, uint16)  { return apiPort, ninePort }
func (dev *Pico2WDevice) Logger() *slog.Logger     { return dev.log }

// SeedCredentials is empty on hardware; credentials arrive baked in
// via the linker (see cmd/fungi) or over the API.
func (dev *Pico2WDevice) SeedCredentials() (string, string) { return "", "" }

//----------------------------------------------------------------------
// Config flash. The slots live at the start of the data area the
// linker leaves free behind the program image.
//----------------------------------------------------------------------

const flashSlotCount = 2

type picoFlash struct{}

func (picoFlash) ReadAt(p []byte, off int64) (int, error)  { return machine.Flash.ReadAt(p, off) }
func (picoFlash) WriteAt(p []byte, off int64) (int, error) { return machine.Flash.WriteAt(p, off) }
func (picoFlash) WriteBlockSize() int64                    { return machine.Flash.WriteBlockSize() }
func (picoFlash) EraseBlockSize() int64                    { return machine.Flash.EraseBlockSize() }
func (picoFlash) EraseBlocks(start, n int64) error         { return machine.Flash.EraseBlocks(start, n) }

func (picoFlash) Size() int64 {
	sz := flashSlotCount * machine.Flash.EraseBlockSize()
	if avail := machine.Flash.Size(); avail < sz {
		return avail
	}
	return sz
}

//----------------------------------------------------------------------
// Sensor and panel.
//----------------------------------------------------------------------

// shtDriver reads the SHT4x on the I2C bus.
type shtDriver struct {
	dev sht4x.Device
}

func (d *shtDriver) Read(ctx context.Context) (sensor.Reading, error) {
	if err := ctx.Err(); err != nil {
		return sensor.Reading{}, err
	}
	mc, mrh, err := d.dev.ReadTemperatureHumidity()
	if err != nil {
		return sensor.Reading{}, fmt.Errorf("%w: %v", sensor.ErrBus, err)
	}
	return sensor.Reading{
		TempC: float64(mc) / 1000,
		RH:    float64(mrh) / 1000,
	}, nil
}

// oledScreen paints text lines on the 128x64 panel.
type oledScreen struct {
	dev *ssd1306.Device
}

func (s *oledScreen) Draw(lines []string) error {
	s.dev.ClearBuffer()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	y := int16(10)
	for _, line := range lines {
		tinyfont.WriteLine(s.dev, &proggy.TinySZ8pt7b, 0, y, line, white)
		y += 14
	}
	return s.dev.Display()
}

// pinOutput drives the humidifier relay.
type pinOutput struct {
	pin machine.Pin
}

func (o pinOutput) Set(on bool) error {
	o.pin.Set(on)
	return nil
}

//----------------------------------------------------------------------
// Radio. The join flow follows the cyw43439 examples: bring the chip
// up once, associate, run a port stack with a NIC pump goroutine and
// acquire an address over DHCP.
//----------------------------------------------------------------------

const mtu = cyw43439.MTU

// picoNetlink drives the cyw43439. The connection manager serializes
// Join calls, so no locking is needed here.
type picoNetlink struct {
	dev  *cyw43439.Device
	log  *slog.Logger
	init bool
}

func (n *picoNetlink) Join(ctx context.Context, creds netmgr.Credentials) (netmgr.Link, error) {
	if !n.init {
		wificfg := cyw43439.DefaultWifiConfig()
		wificfg.Logger = n.log
		n.log.Info("initializing pico W device...")
		start := time.Now()
		if err := n.dev.Init(wificfg); err != nil {
			return nil, fmt.Errorf("cyw43439 init: %w", err)
		}
		n.log.Info("cyw43439:Init", slog.Duration("duration", time.Since(start)))
		n.init = true
	}

	if len(creds.Secret) == 0 {
		n.log.Info("joining open network:", slog.String("ssid", creds.SSID))
	} else {
		n.log.Info("joining WPA secure network", slog.String("ssid", creds.SSID), slog.Int("passlen", len(creds.Secret)))
	}
	var err error
	for range 5 {
		err = n.dev.JoinWPA2(creds.SSID, creds.Secret)
		if err == nil {
			break
		}
		n.log.Error("wifi join failed", slog.String("err", err.Error()))
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("wifi join: %w", err)
	}
	mac, err := n.dev.HardwareAddr6()
	if err != nil {
		return nil, err
	}
	n.log.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))

	stack := stacks.NewPortStack(stacks.PortStackConfig{
		MAC:             mac,
		MaxOpenPortsUDP: 1, // DHCP client
		MaxOpenPortsTCP: tcpPorts,
		MTU:             mtu,
		Logger:          n.log,
	})
	n.dev.RecvEthHandle(stack.RecvEth)

	stop := make(chan struct{})
	go nicLoop(n.dev, stack, stop, n.log)
	fail := func(err error) (netmgr.Link, error) {
		close(stop)
		return nil, err
	}

	// Perform DHCP request.
	dhcpClient := stacks.NewDHCPClient(stack, dhcp.DefaultClientPort)
	err = dhcpClient.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: netip.Addr{},
		Xid:           uint32(time.Now().Nanosecond()),
		Hostname:      hostname,
	})
	if err != nil {
		return fail(fmt.Errorf("dhcp request: %w", err))
	}
	for i := 0; dhcpClient.State() != dhcp.StateBound; i++ {
		if i > 15 {
			return fail(netmgr.ErrAddrTimeout)
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		n.log.Info("DHCP ongoing...")
		time.Sleep(time.Second / 2)
	}
	ip := dhcpClient.Offer()
	n.log.Info("DHCP complete",
		slog.String("ourIP", ip.String()),
		slog.String("gateway", dhcpClient.Gateway().String()),
		slog.Duration("lease", dhcpClient.IPLeaseTime()),
	)
	stack.SetAddr(ip) // It's important to set the IP address after DHCP completes.

	return &picoLink{
		dev:   n.dev,
		stack: stack,
		addr:  ip,
		stop:  stop,
	}, nil
}

// picoLink is one wifi association with its port stack. Closing it
// stops the NIC pump; the next join builds a fresh stack.
type picoLink struct {
	dev   *cyw43439.Device
	stack *stacks.PortStack
	addr  netip.Addr
	stop  chan struct{}
}

func (l *picoLink) Addr() netip.Addr { return l.addr }

func (l *picoLink) Up() bool {
	select {
	case <-l.stop:
		return false
	default:
		return l.dev.IsLinkUp()
	}
}

func (l *picoLink) Listen(port uint16) (net.Listener, error) {
	lst, err := stacks.NewTCPListener(l.stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  2048,
		ConnRxBufSize:  2048,
	})
	if err != nil {
		return nil, err
	}
	if err := lst.StartListening(port); err != nil {
		return nil, err
	}
	return lst, nil
}

func (l *picoLink) Close() error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	return nil
}

//======================================================================
// adapted from https://raw.githubusercontent.com/soypat/cyw43439,
// file '/examples/common/common.go'.
//======================================================================

func nicLoop(dev *cyw43439.Device, Stack *stacks.PortStack, stop <-chan struct{}, log *slog.Logger) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		queue[i] = [mtu]byte{} // Not really necessary.
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		select {
		case <-stop:
			return
		default:
		}
		stallRx := true
		// Poll for incoming packets.
		for i := 0; i < 1; i++ {
			gotPacket, err := dev.PollOne()
			if err != nil {
				log.Error("nic poll", slog.String("err", err.Error()))
			}
			if !gotPacket {
				break
			}
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			var err error
			buf := queue[i][:]
			lenBuf[i], err = Stack.HandleEth(buf[:])
			if err != nil {
				log.Error("nic handle", slog.Int("n", lenBuf[i]), slog.String("err", err.Error()))
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		stallTx := lenBuf == [queueSize]int{}
		if stallTx {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			err := dev.SendEth(queue[i][:n])
			if err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					log.Error("dropped outgoing packet", slog.String("err", err.Error()))
				}
			} else {
				markSent(i)
			}
		}
	}
}
