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

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"slices"
	"time"
)

// Slot envelope, little endian:
//
//	off  size  field
//	0    4     magic "FNGI"
//	4    2     schema version
//	6    4     sequence number
//	10   2     payload length
//	12   4     payload CRC-32 (IEEE)
//	16   4     header CRC-32 (IEEE) over bytes 0..16
//
// The payload starts at offset 20. A slot counts as valid only when
// the magic, both CRCs and the payload length all agree, so a write
// torn at any byte leaves the slot invalid rather than half-new.
const (
	envMagic      = 0x49474e46 // "FNGI"
	envHeaderSize = 20
)

type slotHeader struct {
	schema     uint16
	seq        uint32
	payloadLen int
	payloadCRC uint32
}

func parseSlotHeader(h []byte) (slotHeader, error) {
	if len(h) < envHeaderSize {
		return slotHeader{}, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(h[16:]) != crc32.ChecksumIEEE(h[:16]) {
		return slotHeader{}, fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(h[0:]) != envMagic {
		return slotHeader{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	return slotHeader{
		schema:     binary.LittleEndian.Uint16(h[4:]),
		seq:        binary.LittleEndian.Uint32(h[6:]),
		payloadLen: int(binary.LittleEndian.Uint16(h[10:])),
		payloadCRC: binary.LittleEndian.Uint32(h[12:]),
	}, nil
}

func (h slotHeader) verifyPayload(p []byte) error {
	if crc32.ChecksumIEEE(p) != h.payloadCRC {
		return fmt.Errorf("%w: payload checksum mismatch", ErrCorrupt)
	}
	return nil
}

// encodeSlot renders a complete slot image for r with the given
// sequence number.
func encodeSlot(seq uint32, r Record) []byte {
	p := encodePayload(r)
	b := make([]byte, envHeaderSize, envHeaderSize+len(p))
	binary.LittleEndian.PutUint32(b[0:], envMagic)
	binary.LittleEndian.PutUint16(b[4:], SchemaVersion)
	binary.LittleEndian.PutUint32(b[6:], seq)
	binary.LittleEndian.PutUint16(b[10:], uint16(len(p)))
	binary.LittleEndian.PutUint32(b[12:], crc32.ChecksumIEEE(p))
	binary.LittleEndian.PutUint32(b[16:], crc32.ChecksumIEEE(b[:16]))
	return append(b, p...)
}

// encodePayload assumes r passed Validate, which bounds every field
// well below the length prefixes and the slot size.
func encodePayload(r Record) []byte {
	b := make([]byte, 0, 128)
	b = appendString(b, r.SSID)
	b = appendString(b, r.Secret)
	b = appendMillis(b, r.PollInterval)
	b = appendMillis(b, r.PollErrInterval)
	b = appendMillis(b, r.DisplayInterval)
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.MistLowRH))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(r.MistHighRH))
	keys := make([]string, 0, len(r.Labels))
	for k := range r.Labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	b = append(b, byte(len(keys)))
	for _, k := range keys {
		b = appendString(b, k)
		b = appendString(b, r.Labels[k])
	}
	return b
}

// decodePayload turns a verified payload back into a record,
// migrating older schema versions to the current layout.
func decodePayload(schema uint16, p []byte) (Record, error) {
	switch schema {
	case 1:
		return decodeV1(p)
	case SchemaVersion:
		return decodeV2(p)
	default:
		return Record{}, fmt.Errorf("%w: unknown schema version %d", ErrCorrupt, schema)
	}
}

func decodeV2(p []byte) (Record, error) {
	c := cursor{p: p}
	r := Record{
		SSID:            c.str(),
		Secret:          c.str(),
		PollInterval:    c.millis(),
		PollErrInterval: c.millis(),
		DisplayInterval: c.millis(),
		MistLowRH:       c.f64(),
		MistHighRH:      c.f64(),
	}
	if n := int(c.u8()); n > 0 {
		r.Labels = make(map[string]string, n)
		for i := 0; i < n; i++ {
			k := c.str()
			r.Labels[k] = c.str()
		}
	}
	return r, c.finish()
}

// decodeV1 reads the first-release layout (credentials and poll
// cadence only) and fills the fields added later with the compiled-in
// defaults, so migrated and fresh devices agree.
func decodeV1(p []byte) (Record, error) {
	c := cursor{p: p}
	r := Defaults()
	r.SSID = c.str()
	r.Secret = c.str()
	r.PollInterval = c.millis()
	r.PollErrInterval = c.millis()
	return r, c.finish()
}

func appendString(b []byte, s string) []byte {
	b = append(b, byte(len(s)))
	return append(b, s...)
}

func appendMillis(b []byte, d Duration) []byte {
	return binary.LittleEndian.AppendUint32(b, uint32(time.Duration(d).Milliseconds()))
}

// cursor walks a payload with a sticky error; all reads after the
// first failure return zero values.
type cursor struct {
	p   []byte
	off int
	err error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if c.off+n > len(c.p) {
		c.err = fmt.Errorf("%w: payload truncated at offset %d", ErrCorrupt, c.off)
		return nil
	}
	b := c.p[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) u8() byte {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) str() string {
	n := int(c.u8())
	return string(c.take(n))
}

func (c *cursor) millis() Duration {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return Duration(time.Duration(binary.LittleEndian.Uint32(b)) * time.Millisecond)
}

func (c *cursor) f64() float64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (c *cursor) finish() error {
	if c.err != nil {
		return c.err
	}
	if c.off != len(c.p) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(c.p)-c.off)
	}
	return nil
}
