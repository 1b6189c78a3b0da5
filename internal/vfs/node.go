// Copyright 2025 the AMQ-OS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vfs provides the virtual filesystem layer: a filesystem
// registry, a single root mount, absolute path resolution, the file
// descriptor table, and the current working directory.
package vfs

// NodeType classifies a VFS node.
type NodeType uint8

const (
	Regular    NodeType = 0x01
	Directory  NodeType = 0x02
	CharDev    NodeType = 0x03
	BlockDev   NodeType = 0x04
	Pipe       NodeType = 0x05
	Symlink    NodeType = 0x06
	Mountpoint NodeType = 0x08
)

// Open flags.
const (
	FlagRead   uint32 = 0x01
	FlagWrite  uint32 = 0x02
	FlagAppend uint32 = 0x04
	FlagCreate uint32 = 0x08
)

// Seek whence values.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Node is an object in the virtual filesystem. Backends hand out
// nodes whose Ops route back into them; nodes synthesized by ReadDir
// are owned by the caller, while a filesystem's root node is owned by
// the filesystem.
type Node struct {
	Name        string
	Type        NodeType
	Permissions uint32
	Size        uint32
	Inode       uint32
	FS          Filesystem
	Ops         NodeOps
}

// NodeOps is the per-node operation table. All byte-moving operations
// return the transfer count; reads at or past EOF return 0.
type NodeOps interface {
	Open(n *Node, flags uint32) error
	Close(n *Node) error

	ReadAt(n *Node, p []byte, offset uint32) (int, error)
	WriteAt(n *Node, p []byte, offset uint32) (int, error)

	// ReadDir returns the index-th child of a directory, or nil when
	// the index is past the last entry. The returned node is a fresh
	// caller-owned copy.
	ReadDir(n *Node, index int) (*Node, error)

	// FindDir looks a child up by name, returning nil when the name is
	// not present.
	FindDir(n *Node, name string) (*Node, error)

	Create(parent *Node, name string, typ NodeType, permissions uint32) error
	Unlink(parent *Node, name string) error
}

// Stats reports filesystem capacity.
type Stats struct {
	TotalBlocks uint32
	FreeBlocks  uint32
	BlockSize   uint32
}

// Filesystem is the interface a backend registers with the VFS.
type Filesystem interface {
	Name() string
	Mount(device string) error
	Unmount() error
	Root() (*Node, error)
	Stats() (Stats, error)
}
