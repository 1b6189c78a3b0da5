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

// Package tinyfs implements the TinyFS backend: a superblock, a FAT
// with one entry per block, and a flat array of directory entries,
// stored on a 512-byte-sector block device. Inode 0 is the root
// directory; entry i of the dirent array has inode i+1.
package tinyfs

import (
	"encoding/binary"
	"fmt"

	"github.com/mqestical/amqos/internal/blockdev"
	"github.com/mqestical/amqos/internal/kerr"
	"github.com/mqestical/amqos/internal/logger"
	"github.com/mqestical/amqos/internal/vfs"
)

const maxOpenHandles = 256

type fileHandle struct {
	used        bool
	direntIndex int
	flags       uint32
	refs        int
}

// TinyFS is the filesystem state for one mount.
type TinyFS struct {
	devices    *blockdev.Registry
	dev        blockdev.Device
	deviceName string

	sb      superblock
	fat     []uint32
	dirents [MaxFiles]dirent
	handles [maxOpenHandles]fileHandle
	mounted bool
}

// New creates an unmounted TinyFS that resolves devices from the given
// registry.
func New(devices *blockdev.Registry) *TinyFS {
	return &TinyFS{devices: devices}
}

var _ vfs.Filesystem = (*TinyFS)(nil)
var _ vfs.NodeOps = (*TinyFS)(nil)

func (fs *TinyFS) Name() string { return "tinyfs" }

// Format writes a fresh, empty filesystem onto the device.
func Format(dev blockdev.Device) error {
	sb := geometry(dev.Sectors())

	buf := make([]byte, BlockSize)
	sb.encode(buf)
	if err := dev.WriteSectors(0, 1, buf); err != nil {
		return err
	}

	zero := make([]byte, BlockSize)
	for b := sb.fatStart; b < sb.dataStart; b++ {
		if err := dev.WriteSectors(b, 1, zero); err != nil {
			return err
		}
	}
	return nil
}

// Mount attaches the named device, formatting it when no valid
// superblock is present (the RAM-disk case), then loads the FAT and
// directory.
func (fs *TinyFS) Mount(device string) error {
	dev, err := fs.devices.Lookup(device)
	if err != nil {
		return err
	}

	buf := make([]byte, BlockSize)
	if err := dev.ReadSectors(0, 1, buf); err != nil {
		return fmt.Errorf("tinyfs: superblock read: %w", err)
	}
	var sb superblock
	sb.decode(buf)

	if sb.magic != Magic {
		logger.Infof("tinyfs: no filesystem on %q, formatting", device)
		if err := Format(dev); err != nil {
			return fmt.Errorf("tinyfs: format: %w", err)
		}
		if err := dev.ReadSectors(0, 1, buf); err != nil {
			return err
		}
		sb.decode(buf)
	}
	if sb.magic != Magic {
		return fmt.Errorf("tinyfs: bad magic %#x: %w", sb.magic, kerr.ErrCorruption)
	}
	if sb.totalBlocks == 0 || sb.totalBlocks > MaxBlocks || sb.dataStart >= sb.totalBlocks {
		return fmt.Errorf("tinyfs: implausible superblock geometry: %w", kerr.ErrCorruption)
	}

	fs.dev = dev
	fs.deviceName = device
	fs.sb = sb

	if err := fs.loadMeta(); err != nil {
		return err
	}

	fs.handles = [maxOpenHandles]fileHandle{}
	fs.mounted = true
	logger.Infof("tinyfs: mounted %q (%d blocks, %d free)", device, sb.totalBlocks, fs.countFree())
	return nil
}

// Unmount discards the mount. The superblock is invalidated on the
// device: TinyFS is session storage, and a later mount starts from a
// freshly formatted volume.
func (fs *TinyFS) Unmount() error {
	if !fs.mounted {
		return fmt.Errorf("tinyfs: not mounted: %w", kerr.ErrInvalidArgument)
	}
	zero := make([]byte, BlockSize)
	if err := fs.dev.WriteSectors(0, 1, zero); err != nil {
		return err
	}
	fs.mounted = false
	fs.dev = nil
	fs.fat = nil
	fs.dirents = [MaxFiles]dirent{}
	fs.handles = [maxOpenHandles]fileHandle{}
	return nil
}

// Root returns the root directory node. The node is owned by the
// filesystem.
func (fs *TinyFS) Root() (*vfs.Node, error) {
	if !fs.mounted {
		return nil, fmt.Errorf("tinyfs: not mounted: %w", kerr.ErrInvalidArgument)
	}
	return &vfs.Node{
		Name:  "/",
		Type:  vfs.Directory,
		Inode: 0,
		FS:    fs,
		Ops:   fs,
	}, nil
}

// Stats recomputes the free-block count from the FAT.
func (fs *TinyFS) Stats() (vfs.Stats, error) {
	if !fs.mounted {
		return vfs.Stats{}, fmt.Errorf("tinyfs: not mounted: %w", kerr.ErrInvalidArgument)
	}
	return vfs.Stats{
		TotalBlocks: fs.sb.totalBlocks,
		FreeBlocks:  fs.countFree(),
		BlockSize:   BlockSize,
	}, nil
}

func (fs *TinyFS) countFree() uint32 {
	free := uint32(0)
	for b := fs.sb.dataStart; b < fs.sb.totalBlocks; b++ {
		if fs.fat[b] == 0 {
			free++
		}
	}
	return free
}

////////////////////////////////////////////////////////////////////////
// Metadata persistence
////////////////////////////////////////////////////////////////////////

func (fs *TinyFS) loadMeta() error {
	fatBlocks := fs.sb.dirStart - fs.sb.fatStart
	buf := make([]byte, fatBlocks*BlockSize)
	if err := fs.dev.ReadSectors(fs.sb.fatStart, fatBlocks, buf); err != nil {
		return fmt.Errorf("tinyfs: FAT read: %w", err)
	}
	fs.fat = make([]uint32, fs.sb.totalBlocks)
	for i := range fs.fat {
		fs.fat[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}

	dirBlocks := fs.sb.dataStart - fs.sb.dirStart
	buf = make([]byte, dirBlocks*BlockSize)
	if err := fs.dev.ReadSectors(fs.sb.dirStart, dirBlocks, buf); err != nil {
		return fmt.Errorf("tinyfs: directory read: %w", err)
	}
	for i := range fs.dirents {
		fs.dirents[i].decode(buf[i*direntSize:])
	}
	return nil
}

func (fs *TinyFS) flushMeta() error {
	fs.sb.freeBlocks = fs.countFree()

	buf := make([]byte, BlockSize)
	fs.sb.encode(buf)
	if err := fs.dev.WriteSectors(0, 1, buf); err != nil {
		return err
	}

	fatBlocks := fs.sb.dirStart - fs.sb.fatStart
	buf = make([]byte, fatBlocks*BlockSize)
	for i, v := range fs.fat {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	if err := fs.dev.WriteSectors(fs.sb.fatStart, fatBlocks, buf); err != nil {
		return err
	}

	dirBlocks := fs.sb.dataStart - fs.sb.dirStart
	buf = make([]byte, dirBlocks*BlockSize)
	for i := range fs.dirents {
		fs.dirents[i].encode(buf[i*direntSize:])
	}
	return fs.dev.WriteSectors(fs.sb.dirStart, dirBlocks, buf)
}

////////////////////////////////////////////////////////////////////////
// Dirent helpers
////////////////////////////////////////////////////////////////////////

// direntByInode maps a node inode back to its entry. Inode 0 (the
// root) has no dirent.
func (fs *TinyFS) direntByInode(inode uint32) *dirent {
	if inode == 0 || inode > MaxFiles {
		return nil
	}
	d := &fs.dirents[inode-1]
	if d.used == 0 {
		return nil
	}
	return d
}

func (fs *TinyFS) findChild(parentInode uint32, name string) int {
	for i := range fs.dirents {
		d := &fs.dirents[i]
		if d.used == 1 && d.parentInode == parentInode && d.Name() == name {
			return i
		}
	}
	return -1
}

func (fs *TinyFS) nodeForDirent(i int) *vfs.Node {
	d := &fs.dirents[i]
	typ := vfs.Regular
	if d.isDirectory == 1 {
		typ = vfs.Directory
	}
	return &vfs.Node{
		Name:  d.Name(),
		Type:  typ,
		Size:  d.size,
		Inode: uint32(i) + 1,
		FS:    fs,
		Ops:   fs,
	}
}

// allocBlock claims the first free data block and terminates it.
func (fs *TinyFS) allocBlock() (uint32, error) {
	for b := fs.sb.dataStart; b < fs.sb.totalBlocks; b++ {
		if fs.fat[b] == 0 {
			fs.fat[b] = ChainEnd
			return b, nil
		}
	}
	return 0, fmt.Errorf("tinyfs: volume full: %w", kerr.ErrOutOfMemory)
}

////////////////////////////////////////////////////////////////////////
// Node operations
////////////////////////////////////////////////////////////////////////

func (fs *TinyFS) Open(n *vfs.Node, flags uint32) error {
	if n.Type != vfs.Regular {
		return nil
	}
	for i := range fs.handles {
		h := &fs.handles[i]
		if h.used && h.direntIndex == int(n.Inode)-1 {
			h.refs++
			return nil
		}
	}
	for i := range fs.handles {
		h := &fs.handles[i]
		if !h.used {
			*h = fileHandle{used: true, direntIndex: int(n.Inode) - 1, flags: flags, refs: 1}
			return nil
		}
	}
	return fmt.Errorf("tinyfs: handle table full: %w", kerr.ErrOutOfMemory)
}

func (fs *TinyFS) Close(n *vfs.Node) error {
	for i := range fs.handles {
		h := &fs.handles[i]
		if h.used && h.direntIndex == int(n.Inode)-1 {
			h.refs--
			if h.refs <= 0 {
				*h = fileHandle{}
			}
			return nil
		}
	}
	return nil
}

func (fs *TinyFS) ReadAt(n *vfs.Node, p []byte, offset uint32) (int, error) {
	d := fs.direntByInode(n.Inode)
	if d == nil || d.isDirectory == 1 {
		return 0, fmt.Errorf("tinyfs: read of non-file inode %d: %w", n.Inode, kerr.ErrInvalidArgument)
	}
	if offset >= d.size {
		return 0, nil
	}

	count := uint32(len(p))
	if offset+count > d.size {
		count = d.size - offset
	}

	block := d.firstBlock
	skip := offset / BlockSize
	for i := uint32(0); i < skip && block != 0 && block != ChainEnd; i++ {
		block = fs.fat[block]
	}
	if block == 0 || block == ChainEnd {
		return 0, nil
	}

	buf := make([]byte, BlockSize)
	read := uint32(0)
	pos := offset % BlockSize
	for read < count {
		if err := fs.dev.ReadSectors(block, 1, buf); err != nil {
			return int(read), err
		}
		chunk := BlockSize - pos
		if chunk > count-read {
			chunk = count - read
		}
		copy(p[read:], buf[pos:pos+chunk])
		read += chunk
		pos = 0

		if read < count {
			block = fs.fat[block]
			if block == 0 || block == ChainEnd {
				break
			}
		}
	}
	return int(read), nil
}

func (fs *TinyFS) WriteAt(n *vfs.Node, p []byte, offset uint32) (int, error) {
	d := fs.direntByInode(n.Inode)
	if d == nil || d.isDirectory == 1 {
		return 0, fmt.Errorf("tinyfs: write of non-file inode %d: %w", n.Inode, kerr.ErrInvalidArgument)
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := offset + uint32(len(p))
	blocksNeeded := (end + BlockSize - 1) / BlockSize

	// Extend the chain so every block the write touches exists. The
	// first block is allocated lazily here on first write.
	if d.firstBlock == 0 {
		b, err := fs.allocBlock()
		if err != nil {
			return 0, err
		}
		d.firstBlock = b
	}
	last := d.firstBlock
	have := uint32(1)
	for fs.fat[last] != ChainEnd {
		last = fs.fat[last]
		have++
	}
	for have < blocksNeeded {
		b, err := fs.allocBlock()
		if err != nil {
			return 0, err
		}
		fs.fat[last] = b
		last = b
		have++
	}

	// Walk to the block holding offset and copy block by block.
	block := d.firstBlock
	for i := uint32(0); i < offset/BlockSize; i++ {
		block = fs.fat[block]
	}

	buf := make([]byte, BlockSize)
	written := uint32(0)
	pos := offset % BlockSize
	for written < uint32(len(p)) {
		if err := fs.dev.ReadSectors(block, 1, buf); err != nil {
			return int(written), err
		}
		chunk := BlockSize - pos
		if chunk > uint32(len(p))-written {
			chunk = uint32(len(p)) - written
		}
		copy(buf[pos:], p[written:written+chunk])
		if err := fs.dev.WriteSectors(block, 1, buf); err != nil {
			return int(written), err
		}
		written += chunk
		pos = 0
		if written < uint32(len(p)) {
			block = fs.fat[block]
		}
	}

	if end > d.size {
		d.size = end
	}
	n.Size = d.size

	if err := fs.flushMeta(); err != nil {
		return int(written), err
	}
	return int(written), nil
}

func (fs *TinyFS) ReadDir(n *vfs.Node, index int) (*vfs.Node, error) {
	seen := 0
	for i := range fs.dirents {
		d := &fs.dirents[i]
		if d.used != 1 || d.parentInode != n.Inode {
			continue
		}
		if seen == index {
			return fs.nodeForDirent(i), nil
		}
		seen++
	}
	return nil, nil
}

func (fs *TinyFS) FindDir(n *vfs.Node, name string) (*vfs.Node, error) {
	i := fs.findChild(n.Inode, name)
	if i < 0 {
		return nil, nil
	}
	return fs.nodeForDirent(i), nil
}

func (fs *TinyFS) Create(parent *vfs.Node, name string, typ vfs.NodeType, permissions uint32) error {
	if name == "" || len(name) >= MaxFilename {
		return fmt.Errorf("tinyfs: bad name %q: %w", name, kerr.ErrInvalidArgument)
	}
	if typ != vfs.Regular && typ != vfs.Directory {
		return fmt.Errorf("tinyfs: node type %d: %w", typ, kerr.ErrUnsupported)
	}
	if fs.findChild(parent.Inode, name) >= 0 {
		return fmt.Errorf("tinyfs: %q exists: %w", name, kerr.ErrInvalidArgument)
	}

	for i := range fs.dirents {
		d := &fs.dirents[i]
		if d.used == 1 {
			continue
		}
		*d = dirent{parentInode: parent.Inode, used: 1}
		d.setName(name)
		if typ == vfs.Directory {
			d.isDirectory = 1
		}
		return fs.flushMeta()
	}
	return fmt.Errorf("tinyfs: directory full: %w", kerr.ErrOutOfMemory)
}

func (fs *TinyFS) Unlink(parent *vfs.Node, name string) error {
	i := fs.findChild(parent.Inode, name)
	if i < 0 {
		return fmt.Errorf("tinyfs: %q: %w", name, kerr.ErrNotFound)
	}
	d := &fs.dirents[i]

	block := d.firstBlock
	for block != 0 && block != ChainEnd {
		next := fs.fat[block]
		fs.fat[block] = 0
		block = next
	}

	*d = dirent{}
	return fs.flushMeta()
}

