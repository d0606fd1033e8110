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

// Package ninefs exposes the appliance over 9p: readings, status and
// configuration as plain files, the mist mode as a control file. The
// tree is built once at startup and never changes shape afterwards,
// so serving needs no locking of its own.
package ninefs

import (
	"errors"
	"strings"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
	errNoDir  = errors.New("not a directory")
	errIsDir  = errors.New("is a directory")
	errNoAbs  = errors.New("no absolute path")
	errNoName = errors.New("empty file name")
)

// File interface for file handler implementations:
// The interface methods are called by the 9p protocol handler on demand.
// The implementation is free to handle the read/write calls according
// to its own logic.
type File interface {
	Read() ([]byte, error)
	Write([]byte) error
}

//----------------------------------------------------------------------

// Entry in the filesystem
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // children by name (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

//----------------------------------------------------------------------

// Namespace is a synthetic file system.
type Namespace struct {
	ninep.NopFS                   // use default handlers where needed
	user, group string            // ownership shown in stat
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
	nextID      uint64
}

// NewNamespace creates a new filesystem (with root directory) for the
// given user/group.
func NewNamespace(user, group string) *Namespace {
	ns := &Namespace{
		user:  user,
		group: group,
		dict:  make(map[uint64]*Entry),
	}
	// root always gets Qid.Path 0
	ns.register(ns.newEntry("/", 0555, nil))
	return ns
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	return ns.dict[0]
}

// NewFile adds a file entry at the given absolute path. The parent
// directory must already exist.
func (ns *Namespace) NewFile(path string, perm uint32, impl File) error {
	dir, name, err := ns.parent(path)
	if err != nil {
		return err
	}
	e := ns.newEntry(name, perm, impl)
	dir.children[name] = e
	ns.register(e)
	return nil
}

// NewDir adds a directory entry at the given absolute path.
func (ns *Namespace) NewDir(path string, perm uint32) error {
	dir, name, err := ns.parent(path)
	if err != nil {
		return err
	}
	e := ns.newEntry(name, perm, nil)
	dir.children[name] = e
	ns.register(e)
	return nil
}

// Get entry with given path
func (ns *Namespace) Get(path string) (*Entry, error) {
	if path == "" || path[0] != '/' {
		return nil, errNoAbs
	}
	curr := ns.Root()
	for _, label := range strings.Split(path[1:], "/") {
		if label == "" {
			continue
		}
		if !curr.IsDir() {
			return nil, errNoDir
		}
		qid := ns.Walk(&curr.ref.Qid, label)
		if qid == nil {
			return nil, errNoFile
		}
		curr = ns.dict[qid.Path]
	}
	return curr, nil
}

func (ns *Namespace) parent(path string) (*Entry, string, error) {
	if path == "" || path[0] != '/' {
		return nil, "", errNoAbs
	}
	i := strings.LastIndexByte(path, '/')
	name := path[i+1:]
	if name == "" {
		return nil, "", errNoName
	}
	dir, err := ns.Get(path[:i+1])
	if err != nil {
		return nil, "", err
	}
	if !dir.IsDir() {
		return nil, "", errNoDir
	}
	return dir, name, nil
}

// Create a new entry. If impl is nil, the entry represents a
// directory; otherwise a file.
func (ns *Namespace) newEntry(name string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Path: ns.newID(),
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.group,
		Muid: ns.user,
	}
	return e
}

func (ns *Namespace) newID() uint64 {
	id := ns.nextID
	ns.nextID++
	return id
}

func (ns *Namespace) register(e *Entry) {
	ns.dict[e.ref.Path] = e
}

//----------------------------------------------------------------------
// ninep FS implementation

// Attach to 9p session
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if e, ok := ns.dict[0]; ok {
		t.Respond(&e.ref.Qid)
	} else {
		t.Err(errNoRoot)
	}
}

// Walk to child entry with name "next".
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.dict[cur.Path]
	if !ok {
		return nil
	}
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// Open entry for file operation
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read from entry. Either return the content of a file
// or the listing from a directory.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.IsDir() {
		kids := make([]ninep.Dir, 0, len(e.children))
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// Write to a file entry.
func (ns *Namespace) Write(t *ninep.Twrite, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.IsDir() {
		t.Err(errIsDir)
		return
	}
	if err := e.file.Write(t.Data); err != nil {
		t.Err(err)
		return
	}
	t.Respond(uint32(len(t.Data)))
}

// Stat returns information for a filesystem entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}
