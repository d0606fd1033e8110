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

// Package store persists the operating configuration in a dedicated
// flash region. Two erase-block slots alternate: a save always
// rewrites the slot *not* holding the current record and commits only
// after a read-back verify, so power loss at any byte leaves either
// the old record or the new one, never a blend.
package store

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
)

// BlockDevice is the flash region the store writes, in the shape of
// TinyGo's machine flash block device. EraseBlocks counts in erase
// blocks, not bytes; WriteAt offsets and lengths must be multiples of
// WriteBlockSize.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Size() int64
	WriteBlockSize() int64
	EraseBlockSize() int64
	EraseBlocks(start, len int64) error
}

// Publisher receives every record the store accepts. The state cache
// implements it.
type Publisher interface {
	UpdateConfig(Record)
}

// Store owns the config region. Slot k occupies erase block k.
type Store struct {
	mu   sync.Mutex
	dev  BlockDevice
	pub  Publisher
	log  *slog.Logger
	cur  Record
	seq  uint32
	slot int // slot holding the persisted record, -1 if none
}

// New checks the region geometry and returns a store over dev. Every
// accepted record is pushed to pub; pub must not be nil. Call Load
// before anything else.
func New(dev BlockDevice, pub Publisher, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	wb, eb := dev.WriteBlockSize(), dev.EraseBlockSize()
	if wb <= 0 || eb <= 0 || eb%wb != 0 {
		return nil, fmt.Errorf("%w: unusable block geometry (write %d, erase %d)", ErrHardware, wb, eb)
	}
	if eb < 1024 {
		return nil, fmt.Errorf("%w: erase block too small for a record slot", ErrHardware)
	}
	if dev.Size() < 2*eb {
		return nil, fmt.Errorf("%w: region smaller than two erase blocks", ErrHardware)
	}
	return &Store{dev: dev, pub: pub, log: log, slot: -1}, nil
}

// Load reads both slots and adopts the valid record with the highest
// sequence number, falling back to compiled-in defaults when neither
// slot holds one. The adopted record is published to the cache.
func (s *Store) Load() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur, s.slot, s.seq = Defaults(), -1, 0
	for slot := 0; slot < 2; slot++ {
		rec, seq, err := s.readSlot(slot)
		if err != nil {
			s.log.Debug("config slot unusable", "slot", slot, "err", err)
			continue
		}
		if s.slot < 0 || seqAfter(seq, s.seq) {
			s.cur, s.slot, s.seq = rec, slot, seq
		}
	}
	if s.slot < 0 {
		s.log.Info("no stored configuration, using defaults")
	} else {
		s.log.Info("configuration loaded", "slot", s.slot, "seq", s.seq)
	}
	s.pub.UpdateConfig(s.cur.Clone())
	return s.cur.Clone()
}

// Current returns the record in effect, i.e. the last one published.
func (s *Store) Current() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Clone()
}

// Save validates r, publishes it as the effective configuration and
// persists it to the inactive slot. A hardware failure returns
// ErrHardware with the prior record still on flash while r stays in
// effect; the next successful save converges flash again. Saving a
// record equal to the current one changes nothing.
func (s *Store) Save(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r = r.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slot >= 0 && s.cur.equal(r) {
		return nil
	}
	s.cur = r
	s.pub.UpdateConfig(r.Clone())

	target := 0
	if s.slot == 0 {
		target = 1
	}
	seq := s.seq + 1
	if err := s.writeSlot(target, seq, r); err != nil {
		s.log.Error("config save failed", "slot", target, "err", err)
		return err
	}
	s.slot, s.seq = target, seq
	s.log.Info("configuration saved", "slot", target, "seq", seq)
	return nil
}

func (s *Store) readSlot(slot int) (Record, uint32, error) {
	base := int64(slot) * s.dev.EraseBlockSize()
	h := make([]byte, envHeaderSize)
	if _, err := s.dev.ReadAt(h, base); err != nil {
		return Record{}, 0, fmt.Errorf("%w: header read: %v", ErrHardware, err)
	}
	hdr, err := parseSlotHeader(h)
	if err != nil {
		return Record{}, 0, err
	}
	if int64(envHeaderSize+hdr.payloadLen) > s.dev.EraseBlockSize() {
		return Record{}, 0, fmt.Errorf("%w: payload overruns slot", ErrCorrupt)
	}
	p := make([]byte, hdr.payloadLen)
	if _, err := s.dev.ReadAt(p, base+envHeaderSize); err != nil {
		return Record{}, 0, fmt.Errorf("%w: payload read: %v", ErrHardware, err)
	}
	if err := hdr.verifyPayload(p); err != nil {
		return Record{}, 0, err
	}
	rec, err := decodePayload(hdr.schema, p)
	if err != nil {
		return Record{}, 0, err
	}
	if err := rec.Validate(); err != nil {
		return Record{}, 0, fmt.Errorf("%w: stored record out of bounds: %v", ErrCorrupt, err)
	}
	return rec, hdr.seq, nil
}

func (s *Store) writeSlot(slot int, seq uint32, r Record) error {
	img := encodeSlot(seq, r)
	wb := s.dev.WriteBlockSize()
	padded := make([]byte, (int64(len(img))+wb-1)/wb*wb)
	copy(padded, img)
	for i := len(img); i < len(padded); i++ {
		padded[i] = 0xff
	}

	base := int64(slot) * s.dev.EraseBlockSize()
	if err := s.dev.EraseBlocks(int64(slot), 1); err != nil {
		return fmt.Errorf("%w: erase: %v", ErrHardware, err)
	}
	if _, err := s.dev.WriteAt(padded, base); err != nil {
		return fmt.Errorf("%w: write: %v", ErrHardware, err)
	}
	chk := make([]byte, len(padded))
	if _, err := s.dev.ReadAt(chk, base); err != nil {
		return fmt.Errorf("%w: verify read: %v", ErrHardware, err)
	}
	if !bytes.Equal(chk, padded) {
		return fmt.Errorf("%w: verify mismatch", ErrHardware)
	}
	return nil
}

// seqAfter reports whether sequence a is newer than b under uint32
// wraparound.
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}
