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

import "errors"

var errReadOnly = errors.New("write prohibited")

//----------------------------------------------------------------------

// TextFile with (small) static text content.
type TextFile struct {
	body string
}

// NewTextFile with given text content.
func NewTextFile(content string) *TextFile {
	return &TextFile{body: content}
}

// Read implementation: return file content.
func (f *TextFile) Read() ([]byte, error) {
	return []byte(f.body), nil
}

// Write implementation: rejected.
func (f *TextFile) Write([]byte) error {
	return errReadOnly
}

//----------------------------------------------------------------------

// FuncFile content is returned by a function.
type FuncFile struct {
	fcn func() ([]byte, error)
}

// NewFuncFile with specified function.
func NewFuncFile(fcn func() ([]byte, error)) *FuncFile {
	return &FuncFile{fcn: fcn}
}

// Read implementation: return file content.
func (f *FuncFile) Read() ([]byte, error) {
	return f.fcn()
}

// Write implementation: rejected.
func (f *FuncFile) Write([]byte) error {
	return errReadOnly
}

//----------------------------------------------------------------------

// CtlFile reads through one function and feeds writes to another.
type CtlFile struct {
	rd func() ([]byte, error)
	wr func([]byte) error
}

// NewCtlFile with the given read and write functions.
func NewCtlFile(rd func() ([]byte, error), wr func([]byte) error) *CtlFile {
	return &CtlFile{rd: rd, wr: wr}
}

// Read implementation: return file content.
func (f *CtlFile) Read() ([]byte, error) {
	return f.rd()
}

// Write implementation: hand the payload to the control function.
func (f *CtlFile) Write(data []byte) error {
	return f.wr(data)
}
