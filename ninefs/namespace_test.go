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

package ninefs

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// build a test namespace
func newTestNamespace() (*Namespace, error) {
	ns := NewNamespace("sys", "sys")
	if err := ns.NewFile("/readme", 0444, NewTextFile("Just a test...\n")); err != nil {
		return nil, err
	}
	if err := ns.NewDir("/sensors", 0555); err != nil {
		return nil, err
	}
	err := ns.NewFile("/sensors/temp", 0444, NewFuncFile(
		func() ([]byte, error) {
			s := fmt.Sprintf("%f\n", rand.Float32())
			return []byte(s), nil
		},
	))
	return ns, err
}

func TestNamespaceBuild(t *testing.T) {
	ns, err := newTestNamespace()
	require.NoError(t, err)

	root := ns.Root()
	require.NotNil(t, root)
	assert.True(t, root.IsDir())

	e, err := ns.Get("/readme")
	require.NoError(t, err)
	assert.False(t, e.IsDir())
	data, err := e.file.Read()
	require.NoError(t, err)
	assert.Equal(t, "Just a test...\n", string(data))

	e, err = ns.Get("/sensors/temp")
	require.NoError(t, err)
	data, err = e.file.Read()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestNamespaceLookupErrors(t *testing.T) {
	ns, err := newTestNamespace()
	require.NoError(t, err)

	_, err = ns.Get("/nope")
	assert.ErrorIs(t, err, errNoFile)

	_, err = ns.Get("relative")
	assert.ErrorIs(t, err, errNoAbs)

	_, err = ns.Get("/readme/child")
	assert.ErrorIs(t, err, errNoDir)

	err = ns.NewFile("/missing/file", 0444, NewTextFile("x"))
	assert.ErrorIs(t, err, errNoFile)

	err = ns.NewFile("/sensors/", 0444, NewTextFile("x"))
	assert.ErrorIs(t, err, errNoName)
}

func TestWalk(t *testing.T) {
	ns, err := newTestNamespace()
	require.NoError(t, err)

	root := ns.Root()
	q := ns.Walk(&root.ref.Qid, "sensors")
	require.NotNil(t, q)
	assert.NotNil(t, ns.Walk(q, "temp"))
	assert.Nil(t, ns.Walk(q, "hum"))
	assert.Nil(t, ns.Walk(&root.ref.Qid, "temp"), "no walk across levels")
}

func TestFileImplementations(t *testing.T) {
	txt := NewTextFile("hello\n")
	data, err := txt.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
	assert.ErrorIs(t, txt.Write([]byte("x")), errReadOnly)

	fn := NewFuncFile(func() ([]byte, error) { return []byte("gen\n"), nil })
	data, err = fn.Read()
	require.NoError(t, err)
	assert.Equal(t, "gen\n", string(data))
	assert.ErrorIs(t, fn.Write([]byte("x")), errReadOnly)

	var got []byte
	ctl := NewCtlFile(
		func() ([]byte, error) { return []byte("state\n"), nil },
		func(data []byte) error { got = data; return nil },
	)
	require.NoError(t, ctl.Write([]byte("cmd")))
	assert.Equal(t, "cmd", string(got))
	data, err = ctl.Read()
	require.NoError(t, err)
	assert.Equal(t, "state\n", string(data))
}
