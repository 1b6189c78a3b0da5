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

package tinyfs

import (
	"bytes"
	"encoding/binary"
)

const (
	// Magic spells "TINY".
	Magic = 0x54494E59

	BlockSize   = 512
	MaxFilename = 32
	MaxFiles    = 256

	// MaxBlocks bounds the FAT.
	MaxBlocks = 1024

	// ChainEnd terminates a FAT chain; 0 marks a free block.
	ChainEnd = 0xFFFFFFFF

	superblockSize = 24
	direntSize     = 48
)

// superblock is the 24-byte little-endian header at block 0.
type superblock struct {
	magic       uint32
	totalBlocks uint32
	fatStart    uint32
	dirStart    uint32
	dataStart   uint32
	freeBlocks  uint32
}

func (sb *superblock) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], sb.magic)
	binary.LittleEndian.PutUint32(buf[4:], sb.totalBlocks)
	binary.LittleEndian.PutUint32(buf[8:], sb.fatStart)
	binary.LittleEndian.PutUint32(buf[12:], sb.dirStart)
	binary.LittleEndian.PutUint32(buf[16:], sb.dataStart)
	binary.LittleEndian.PutUint32(buf[20:], sb.freeBlocks)
}

func (sb *superblock) decode(buf []byte) {
	sb.magic = binary.LittleEndian.Uint32(buf[0:])
	sb.totalBlocks = binary.LittleEndian.Uint32(buf[4:])
	sb.fatStart = binary.LittleEndian.Uint32(buf[8:])
	sb.dirStart = binary.LittleEndian.Uint32(buf[12:])
	sb.dataStart = binary.LittleEndian.Uint32(buf[16:])
	sb.freeBlocks = binary.LittleEndian.Uint32(buf[20:])
}

// dirent is one 48-byte directory entry: name[32], first block, size,
// is_directory, used, parent inode, two bytes of padding.
type dirent struct {
	name        [MaxFilename]byte
	firstBlock  uint32
	size        uint32
	isDirectory uint8
	used        uint8
	parentInode uint32
}

func (d *dirent) Name() string {
	if i := bytes.IndexByte(d.name[:], 0); i >= 0 {
		return string(d.name[:i])
	}
	return string(d.name[:])
}

func (d *dirent) setName(name string) {
	d.name = [MaxFilename]byte{}
	copy(d.name[:MaxFilename-1], name)
}

func (d *dirent) encode(buf []byte) {
	copy(buf[0:MaxFilename], d.name[:])
	binary.LittleEndian.PutUint32(buf[32:], d.firstBlock)
	binary.LittleEndian.PutUint32(buf[36:], d.size)
	buf[40] = d.isDirectory
	buf[41] = d.used
	binary.LittleEndian.PutUint32(buf[42:], d.parentInode)
	buf[46] = 0
	buf[47] = 0
}

func (d *dirent) decode(buf []byte) {
	copy(d.name[:], buf[0:MaxFilename])
	d.firstBlock = binary.LittleEndian.Uint32(buf[32:])
	d.size = binary.LittleEndian.Uint32(buf[36:])
	d.isDirectory = buf[40]
	d.used = buf[41]
	d.parentInode = binary.LittleEndian.Uint32(buf[42:])
}

// geometry computes the metadata layout for a device of totalBlocks
// 512-byte blocks.
func geometry(totalBlocks uint32) superblock {
	if totalBlocks > MaxBlocks {
		totalBlocks = MaxBlocks
	}
	fatStart := uint32(1)
	fatBlocks := (totalBlocks*4 + BlockSize - 1) / BlockSize
	dirStart := fatStart + fatBlocks
	dirBlocks := uint32((MaxFiles*direntSize + BlockSize - 1) / BlockSize)
	dataStart := dirStart + dirBlocks
	return superblock{
		magic:       Magic,
		totalBlocks: totalBlocks,
		fatStart:    fatStart,
		dirStart:    dirStart,
		dataStart:   dataStart,
		freeBlocks:  totalBlocks - dataStart,
	}
}
