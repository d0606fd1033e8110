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
	"errors"
	"fmt"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFlash simulates a two-block flash region, including power loss
// after a set number of written bytes and injectable operation failures.
type fakeFlash struct {
	buf       []byte
	writeSize int64
	eraseSize int64

	failAfter int // bytes writable before simulated power loss, -1 = unlimited
	written   int

	readErr  error
	writeErr error
	eraseErr error
}

func newFakeFlash() *fakeFlash {
	f := &fakeFlash{
		buf:       make([]byte, 2*4096),
		writeSize: 256,
		eraseSize: 4096,
		failAfter: -1,
	}
	for i := range f.buf {
		f.buf[i] = 0xff
	}
	return f
}

func (f *fakeFlash) clone() *fakeFlash {
	cp := *f
	cp.buf = append([]byte(nil), f.buf...)
	return &cp
}

func (f *fakeFlash) ReadAt(p []byte, off int64) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if off < 0 || off+int64(len(p)) > int64(len(f.buf)) {
		return 0, fmt.Errorf("read out of range: off %d len %d", off, len(p))
	}
	copy(p, f.buf[off:])
	return len(p), nil
}

func (f *fakeFlash) WriteAt(p []byte, off int64) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if off%f.writeSize != 0 || int64(len(p))%f.writeSize != 0 {
		return 0, fmt.Errorf("unaligned write: off %d len %d", off, len(p))
	}
	if off < 0 || off+int64(len(p)) > int64(len(f.buf)) {
		return 0, fmt.Errorf("write out of range: off %d len %d", off, len(p))
	}
	if f.failAfter >= 0 {
		remain := f.failAfter - f.written
		if remain < len(p) {
			if remain > 0 {
				copy(f.buf[off:], p[:remain])
			}
			f.written = f.failAfter
			return max(remain, 0), errors.New("power lost")
		}
	}
	copy(f.buf[off:], p)
	f.written += len(p)
	return len(p), nil
}

func (f *fakeFlash) Size() int64           { return int64(len(f.buf)) }
func (f *fakeFlash) WriteBlockSize() int64 { return f.writeSize }
func (f *fakeFlash) EraseBlockSize() int64 { return f.eraseSize }

func (f *fakeFlash) EraseBlocks(start, n int64) error {
	if f.eraseErr != nil {
		return f.eraseErr
	}
	lo, hi := start*f.eraseSize, (start+n)*f.eraseSize
	if lo < 0 || hi > int64(len(f.buf)) {
		return fmt.Errorf("erase out of range: block %d count %d", start, n)
	}
	for i := lo; i < hi; i++ {
		f.buf[i] = 0xff
	}
	return nil
}

type pubRecorder struct {
	recs []Record
}

func (p *pubRecorder) UpdateConfig(r Record) { p.recs = append(p.recs, r) }

func (p *pubRecorder) last() Record {
	if len(p.recs) == 0 {
		return Record{}
	}
	return p.recs[len(p.recs)-1]
}

func newTestStore(t *testing.T, f *fakeFlash) (*Store, *pubRecorder) {
	t.Helper()
	pub := &pubRecorder{}
	st, err := New(f, pub, nil)
	require.NoError(t, err)
	return st, pub
}

// makeSlot builds a slot image with an arbitrary schema version for
// migration tests.
func makeSlot(schema uint16, seq uint32, payload []byte) []byte {
	b := make([]byte, envHeaderSize, envHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(b[0:], envMagic)
	binary.LittleEndian.PutUint16(b[4:], schema)
	binary.LittleEndian.PutUint32(b[6:], seq)
	binary.LittleEndian.PutUint16(b[10:], uint16(len(payload)))
	binary.LittleEndian.PutUint32(b[12:], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(b[16:], crc32.ChecksumIEEE(b[:16]))
	return append(b, payload...)
}

func TestNewRejectsBadGeometry(t *testing.T) {
	f := newFakeFlash()
	f.eraseSize = 300 // not a write-block multiple
	_, err := New(f, &pubRecorder{}, nil)
	assert.ErrorIs(t, err, ErrHardware)

	f = newFakeFlash()
	f.buf = f.buf[:4096] // room for one slot only
	_, err = New(f, &pubRecorder{}, nil)
	assert.ErrorIs(t, err, ErrHardware)
}

func TestLoadDefaultsOnFreshFlash(t *testing.T) {
	st, pub := newTestStore(t, newFakeFlash())
	rec := st.Load()
	assert.Equal(t, Defaults(), rec)
	require.Len(t, pub.recs, 1)
	assert.Equal(t, Defaults(), pub.recs[0])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	minimal := Defaults()
	minimal.SSID = "m"
	minimal.Secret = "" // open network

	full := testRecord()
	full.MistLowRH = 87.5
	full.MistHighRH = 93.25
	full.PollInterval = Duration(900 * time.Millisecond)

	crowded := testRecord()
	crowded.Labels = map[string]string{
		"a": "1", "b": "2", "c": "3", "d": "4",
		"e": "5", "f": "6", "g": "7", "h": "8",
	}

	for name, rec := range map[string]Record{
		"minimal": minimal, "full": full, "max labels": crowded,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFakeFlash()
			st, _ := newTestStore(t, f)
			st.Load()
			require.NoError(t, st.Save(rec))

			st2, _ := newTestStore(t, f)
			assert.Equal(t, rec, st2.Load())
		})
	}
}

func TestSaveAlternatesSlots(t *testing.T) {
	f := newFakeFlash()
	st, _ := newTestStore(t, f)
	st.Load()

	for i, poll := range []Duration{
		Duration(time.Second), Duration(2 * time.Second), Duration(3 * time.Second),
	} {
		rec := testRecord()
		rec.PollInterval = poll
		require.NoError(t, st.Save(rec), "save %d", i)
	}

	h0, err := parseSlotHeader(f.buf[0:envHeaderSize])
	require.NoError(t, err)
	h1, err := parseSlotHeader(f.buf[4096 : 4096+envHeaderSize])
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h0.seq)
	assert.Equal(t, uint32(2), h1.seq)
}

func TestSaveIdempotent(t *testing.T) {
	f := newFakeFlash()
	st, pub := newTestStore(t, f)
	st.Load()

	rec := testRecord()
	require.NoError(t, st.Save(rec))
	published := len(pub.recs)
	written := f.written

	require.NoError(t, st.Save(rec.Clone()))
	assert.Equal(t, published, len(pub.recs), "identical save must not republish")
	assert.Equal(t, written, f.written, "identical save must not touch flash")
	assert.Equal(t, rec, st.Current())
}

func TestSaveInvalidRejected(t *testing.T) {
	f := newFakeFlash()
	st, pub := newTestStore(t, f)
	st.Load()
	require.NoError(t, st.Save(testRecord()))

	published := len(pub.recs)
	snapshot := append([]byte(nil), f.buf...)

	bad := testRecord()
	bad.PollInterval = 0
	err := st.Save(bad)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, published, len(pub.recs))
	assert.Equal(t, snapshot, f.buf)
	assert.Equal(t, testRecord(), st.Current())
}

func TestPowerLossAtEveryByte(t *testing.T) {
	recA := testRecord()
	recB := testRecord()
	recB.SSID = "replacement"
	recB.PollInterval = Duration(700 * time.Millisecond)
	recB.Labels = map[string]string{"rack": "c9"}

	base := newFakeFlash()
	st, _ := newTestStore(t, base)
	st.Load()
	require.NoError(t, st.Save(recA))

	img := encodeSlot(2, recB)
	need := (len(img) + int(base.writeSize) - 1) / int(base.writeSize) * int(base.writeSize)

	for cut := 0; cut <= need; cut++ {
		f := base.clone()
		f.written = 0
		f.failAfter = cut

		st2, _ := newTestStore(t, f)
		require.Equal(t, recA, st2.Load())
		err := st2.Save(recB)
		if cut < need {
			require.ErrorIs(t, err, ErrHardware, "cut at byte %d", cut)
		} else {
			require.NoError(t, err)
		}

		f.failAfter = -1
		st3, _ := newTestStore(t, f)
		got := st3.Load()
		require.True(t, got.equal(recA) || got.equal(recB),
			"cut at byte %d yielded a blended record: %+v", cut, got)
		if cut == need {
			require.True(t, got.equal(recB))
		}
	}
}

func TestLoadPicksNewestValidSlot(t *testing.T) {
	f := newFakeFlash()
	st, _ := newTestStore(t, f)
	st.Load()

	recA := testRecord()
	recB := testRecord()
	recB.SSID = "newer-net"
	require.NoError(t, st.Save(recA)) // slot 0, seq 1
	require.NoError(t, st.Save(recB)) // slot 1, seq 2

	st2, _ := newTestStore(t, f)
	assert.Equal(t, recB, st2.Load())

	// damage the newer slot: the older record must win again
	f.buf[4096+envHeaderSize+3] ^= 0xff
	st3, _ := newTestStore(t, f)
	assert.Equal(t, recA, st3.Load())
}

func TestLoadMigratesV1(t *testing.T) {
	var p []byte
	p = appendString(p, "legacy-net")
	p = appendString(p, "oldsecret99")
	p = appendMillis(p, Duration(2*time.Second))
	p = appendMillis(p, Duration(4*time.Second))

	f := newFakeFlash()
	copy(f.buf, makeSlot(1, 7, p))

	st, _ := newTestStore(t, f)
	rec := st.Load()

	want := Defaults()
	want.SSID = "legacy-net"
	want.Secret = "oldsecret99"
	want.PollInterval = Duration(2 * time.Second)
	want.PollErrInterval = Duration(4 * time.Second)
	assert.Equal(t, want, rec)
}

func TestLoadIgnoresUnknownSchema(t *testing.T) {
	future := makeSlot(9, 40, []byte{1, 2, 3, 4})
	f := newFakeFlash()
	copy(f.buf, future)

	rec := testRecord()
	copy(f.buf[4096:], encodeSlot(2, rec))

	st, _ := newTestStore(t, f)
	assert.Equal(t, rec, st.Load(), "older valid slot must beat an unknown-schema slot")

	// with no other valid slot, defaults apply
	f2 := newFakeFlash()
	copy(f2.buf, future)
	st2, _ := newTestStore(t, f2)
	assert.Equal(t, Defaults(), st2.Load())
}

func TestSaveHardwareFailureKeepsEffectiveRecord(t *testing.T) {
	f := newFakeFlash()
	st, pub := newTestStore(t, f)
	st.Load()

	recA := testRecord()
	require.NoError(t, st.Save(recA))

	recB := testRecord()
	recB.SSID = "degraded-net"
	f.writeErr = errors.New("nand gone")
	err := st.Save(recB)
	require.ErrorIs(t, err, ErrHardware)

	// the accepted record stays in effect in memory...
	assert.Equal(t, recB, st.Current())
	assert.Equal(t, recB, pub.last())

	// ...while flash still holds the prior one
	f.writeErr = nil
	stAfter, _ := newTestStore(t, f)
	assert.Equal(t, recA, stAfter.Load())

	// the next successful save converges flash
	recC := testRecord()
	recC.SSID = "repaired-net"
	require.NoError(t, st.Save(recC))
	stFinal, _ := newTestStore(t, f)
	assert.Equal(t, recC, stFinal.Load())
}
