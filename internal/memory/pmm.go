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

package memory

import (
	"fmt"
	"slices"

	"github.com/mqestical/amqos/internal/kerr"
)

// FrameAllocator hands out 4 KiB frames from a LIFO free list built
// from the boot memory map. While a frame is free, its first eight
// bytes hold the address of the next free frame (0 terminates the
// list); the word is cleared again when the frame is allocated.
type FrameAllocator struct {
	mem        Arena
	freeHead   uint64
	totalPages uint64
	usedPages  uint64
}

// NewFrameAllocator builds the free list from every conventional
// descriptor in the map.
func NewFrameAllocator(mem Arena, mmap []MemoryDescriptor) *FrameAllocator {
	f := &FrameAllocator{mem: mem}
	for _, d := range mmap {
		if d.Type != ConventionalMemory {
			continue
		}
		for p := uint64(0); p < d.NumberOfPages; p++ {
			addr := d.PhysicalStart + p*PageSize
			f.mem.writeU64(addr, f.freeHead)
			f.freeHead = addr
			f.totalPages++
		}
	}
	return f
}

// AllocPage pops the head of the free list and zero-fills the frame.
func (f *FrameAllocator) AllocPage() (uint64, error) {
	if f.freeHead == 0 {
		return 0, fmt.Errorf("pmm: no free frames: %w", kerr.ErrOutOfMemory)
	}

	addr := f.freeHead
	f.freeHead = f.mem.readU64(addr)
	f.usedPages++

	clear(f.mem.Slice(addr, PageSize))
	return addr, nil
}

// AllocPages performs count consecutive AllocPage calls and returns the
// first frame's address. Physical contiguity between the frames is not
// guaranteed; callers that need it use AllocContiguous.
func (f *FrameAllocator) AllocPages(count uint64) (uint64, error) {
	if count == 0 {
		return 0, fmt.Errorf("pmm: zero page count: %w", kerr.ErrInvalidArgument)
	}

	first, err := f.AllocPage()
	if err != nil {
		return 0, err
	}
	for i := uint64(1); i < count; i++ {
		if _, err := f.AllocPage(); err != nil {
			return 0, err
		}
	}
	return first, nil
}

// FreePage pushes the frame back onto the head of the free list.
func (f *FrameAllocator) FreePage(addr uint64) {
	if addr == 0 {
		return
	}
	f.mem.writeU64(addr, f.freeHead)
	f.freeHead = addr
	f.usedPages--
}

// AllocContiguous removes a run of count physically consecutive frames
// from the free list and returns the first address, zero-filled. This
// is the DMA pool: descriptor rings must not rely on the incidental
// ordering of the LIFO list.
func (f *FrameAllocator) AllocContiguous(count uint64) (uint64, error) {
	if count == 0 {
		return 0, fmt.Errorf("pmm: zero page count: %w", kerr.ErrInvalidArgument)
	}

	var free []uint64
	for addr := f.freeHead; addr != 0; addr = f.mem.readU64(addr) {
		free = append(free, addr)
	}
	sorted := slices.Clone(free)
	slices.Sort(sorted)

	run := 0
	start := -1
	for i := range sorted {
		if i > 0 && sorted[i] == sorted[i-1]+PageSize {
			run++
		} else {
			run = 1
		}
		if uint64(run) == count {
			start = i - int(count) + 1
			break
		}
	}
	if start < 0 {
		return 0, fmt.Errorf("pmm: no contiguous run of %d frames: %w", count, kerr.ErrOutOfMemory)
	}

	taken := sorted[start : start+int(count)]
	f.rebuildFreeList(free, taken)
	f.usedPages += count

	base := taken[0]
	clear(f.mem.Slice(base, count*PageSize))
	return base, nil
}

// rebuildFreeList relinks every frame in free except the taken run,
// preserving LIFO order (free was collected head-first).
func (f *FrameAllocator) rebuildFreeList(free, taken []uint64) {
	f.freeHead = 0
	for i := len(free) - 1; i >= 0; i-- {
		addr := free[i]
		if _, ok := slices.BinarySearch(taken, addr); ok {
			continue
		}
		f.mem.writeU64(addr, f.freeHead)
		f.freeHead = addr
	}
}

// TotalPages reports the number of frames contributed at boot.
func (f *FrameAllocator) TotalPages() uint64 { return f.totalPages }

// UsedPages reports the number of frames currently allocated.
func (f *FrameAllocator) UsedPages() uint64 { return f.usedPages }

// FreePages reports the number of frames on the free list.
func (f *FrameAllocator) FreePages() uint64 { return f.totalPages - f.usedPages }
