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

// Package memory implements physical memory for the kernel: a page
// frame allocator over a flat arena, the first-fit kernel heap on top
// of it, and a contiguous pool for DMA rings.
//
// Addresses are byte offsets into the arena. Offset 0 is never handed
// out (the synthesized memory map starts at page 1), so 0 serves as
// the null address throughout.
package memory

import "encoding/binary"

// PageSize is the frame granularity.
const PageSize = 4096

// Arena is the simulated physical address space.
type Arena []byte

// Slice returns the n bytes starting at addr.
func (a Arena) Slice(addr, n uint64) []byte {
	return a[addr : addr+n]
}

func (a Arena) readU32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(a[addr:])
}

func (a Arena) writeU32(addr uint64, v uint32) {
	binary.LittleEndian.PutUint32(a[addr:], v)
}

func (a Arena) readU64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(a[addr:])
}

func (a Arena) writeU64(addr uint64, v uint64) {
	binary.LittleEndian.PutUint64(a[addr:], v)
}

// MemoryType mirrors the loader-supplied descriptor types the kernel
// cares about.
type MemoryType int

const (
	ConventionalMemory MemoryType = iota
	ReservedMemory
)

// MemoryDescriptor is one entry of the boot memory map.
type MemoryDescriptor struct {
	Type          MemoryType
	PhysicalStart uint64
	NumberOfPages uint64
}

// ConventionalMap synthesizes a boot memory map covering an arena of
// the given size, reserving page 0.
func ConventionalMap(size uint64) []MemoryDescriptor {
	pages := size / PageSize
	if pages <= 1 {
		return nil
	}
	return []MemoryDescriptor{
		{Type: ReservedMemory, PhysicalStart: 0, NumberOfPages: 1},
		{Type: ConventionalMemory, PhysicalStart: PageSize, NumberOfPages: pages - 1},
	}
}
