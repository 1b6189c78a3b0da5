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

	"github.com/mqestical/amqos/internal/kerr"
)

const (
	heapMagic = 0xDEADBEEF

	// headerSize: payload size u64, free-list next u64, is_free u32,
	// magic u32, 8 bytes of padding so payloads stay 16-byte aligned.
	headerSize = 32

	minBlockSize = 32
	heapAlign    = 16

	initialHeapPages = 16
)

// header field offsets within a block header.
const (
	offSize  = 0
	offNext  = 8
	offFree  = 16
	offMagic = 20
)

type heapRegion struct {
	base uint64
	size uint64
}

// Heap is the first-fit kernel byte allocator. Blocks live inside
// contiguous regions obtained from the frame allocator; each block is
// a 32-byte header followed by a 16-byte-aligned payload. Free blocks
// form a singly-linked list threaded through the headers.
type Heap struct {
	mem    Arena
	frames *FrameAllocator

	base     uint64
	size     uint64
	used     uint64
	freeHead uint64
	regions  []heapRegion

	allocs    uint64
	frees     uint64
	splits    uint64
	coalesces uint64
}

// NewHeap seeds the heap with a single free block covering
// initialHeapPages frames.
func NewHeap(mem Arena, frames *FrameAllocator) (*Heap, error) {
	h := &Heap{mem: mem, frames: frames}

	base, err := frames.AllocContiguous(initialHeapPages)
	if err != nil {
		return nil, fmt.Errorf("heap: initial arena: %w", err)
	}

	h.base = base
	h.size = initialHeapPages * PageSize
	h.regions = []heapRegion{{base: base, size: h.size}}

	h.writeHeader(base, h.size-headerSize, 0, true)
	h.freeHead = base
	return h, nil
}

func (h *Heap) writeHeader(block, size, next uint64, free bool) {
	h.mem.writeU64(block+offSize, size)
	h.mem.writeU64(block+offNext, next)
	if free {
		h.mem.writeU32(block+offFree, 1)
	} else {
		h.mem.writeU32(block+offFree, 0)
	}
	h.mem.writeU32(block+offMagic, heapMagic)
}

func (h *Heap) blockSize(block uint64) uint64  { return h.mem.readU64(block + offSize) }
func (h *Heap) blockNext(block uint64) uint64  { return h.mem.readU64(block + offNext) }
func (h *Heap) blockFree(block uint64) bool    { return h.mem.readU32(block+offFree) != 0 }
func (h *Heap) blockMagicOK(block uint64) bool { return h.mem.readU32(block+offMagic) == heapMagic }

func (h *Heap) setSize(block, v uint64) { h.mem.writeU64(block+offSize, v) }
func (h *Heap) setNext(block, v uint64) { h.mem.writeU64(block+offNext, v) }
func (h *Heap) setFree(block uint64, free bool) {
	if free {
		h.mem.writeU32(block+offFree, 1)
	} else {
		h.mem.writeU32(block+offFree, 0)
	}
}

func alignSize(size uint64) uint64 {
	return (size + heapAlign - 1) &^ (heapAlign - 1)
}

// Alloc returns the address of a zero-offset payload of at least size
// bytes. Size 0 is rejected.
func (h *Heap) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("heap: zero-size allocation: %w", kerr.ErrInvalidArgument)
	}
	size = alignSize(size)

	if addr, err := h.allocFromFreeList(size); err == nil {
		return addr, nil
	} else if err != errNoFit {
		return 0, err
	}

	// Grow: one new region large enough for the request plus a header,
	// inserted at the head of the free list, then retry once.
	newPages := (size + headerSize + PageSize - 1) / PageSize
	region, err := h.frames.AllocContiguous(newPages)
	if err != nil {
		return 0, fmt.Errorf("heap: cannot grow: %w", err)
	}

	h.writeHeader(region, newPages*PageSize-headerSize, h.freeHead, true)
	h.freeHead = region
	h.size += newPages * PageSize
	h.regions = append(h.regions, heapRegion{base: region, size: newPages * PageSize})

	addr, err := h.allocFromFreeList(size)
	if err != nil {
		return 0, fmt.Errorf("heap: retry after grow: %w", kerr.ErrOutOfMemory)
	}
	return addr, nil
}

var errNoFit = fmt.Errorf("heap: no fitting free block")

func (h *Heap) allocFromFreeList(size uint64) (uint64, error) {
	var prev uint64
	for block := h.freeHead; block != 0; block = h.blockNext(block) {
		if !h.blockMagicOK(block) {
			return 0, fmt.Errorf("heap: free list header at %#x: %w", block, kerr.ErrCorruption)
		}
		if h.blockFree(block) && h.blockSize(block) >= size {
			h.splitBlock(block, size)
			h.setFree(block, false)

			if prev != 0 {
				h.setNext(prev, h.blockNext(block))
			} else {
				h.freeHead = h.blockNext(block)
			}
			h.setNext(block, 0)

			h.used += headerSize + h.blockSize(block)
			h.allocs++
			return block + headerSize, nil
		}
		prev = block
	}
	return 0, errNoFit
}

// splitBlock carves the tail of block into a new free block when the
// remainder is at least minBlockSize.
func (h *Heap) splitBlock(block, size uint64) {
	if h.blockSize(block) < size+headerSize {
		return
	}
	remaining := h.blockSize(block) - size - headerSize
	if remaining < minBlockSize {
		return
	}

	newBlock := block + headerSize + size
	h.writeHeader(newBlock, remaining, h.blockNext(block), true)

	h.setSize(block, size)
	h.setNext(block, newBlock)
	h.splits++
}

// Free returns a payload to the heap. A bad magic or an already-free
// block is ignored rather than corrupting the heap further.
func (h *Heap) Free(addr uint64) {
	if addr == 0 || addr < headerSize {
		return
	}
	block := addr - headerSize
	if !h.inHeap(block) || !h.blockMagicOK(block) {
		return
	}
	if h.blockFree(block) {
		return
	}

	h.setFree(block, true)
	h.setNext(block, h.freeHead)
	h.freeHead = block

	h.used -= headerSize + h.blockSize(block)
	h.frees++

	h.coalesce()
}

func (h *Heap) inHeap(block uint64) bool {
	for _, r := range h.regions {
		if block >= r.base && block+headerSize <= r.base+r.size {
			return true
		}
	}
	return false
}

// coalesce walks each region in address order and merges every pair of
// adjacent free blocks, absorbing the second block's header and payload
// into the first.
func (h *Heap) coalesce() {
	for _, r := range h.regions {
		end := r.base + r.size
		cur := r.base
		for cur < end {
			if !h.blockMagicOK(cur) {
				break
			}
			if h.blockFree(cur) {
				next := cur + headerSize + h.blockSize(cur)
				if next < end && h.blockMagicOK(next) && h.blockFree(next) {
					h.unlinkFree(next)
					h.setSize(cur, h.blockSize(cur)+headerSize+h.blockSize(next))
					h.coalesces++
					continue
				}
			}
			cur += headerSize + h.blockSize(cur)
		}
	}
}

func (h *Heap) unlinkFree(block uint64) {
	if h.freeHead == block {
		h.freeHead = h.blockNext(block)
		return
	}
	for cur := h.freeHead; cur != 0; cur = h.blockNext(cur) {
		if h.blockNext(cur) == block {
			h.setNext(cur, h.blockNext(block))
			return
		}
	}
}

// Calloc allocates num*size bytes and zeroes the payload.
func (h *Heap) Calloc(num, size uint64) (uint64, error) {
	total := num * size
	addr, err := h.Alloc(total)
	if err != nil {
		return 0, err
	}
	clear(h.mem.Slice(addr, total))
	return addr, nil
}

// Realloc grows an allocation. The existing block is returned unchanged
// when it is already large enough; otherwise the payload is copied into
// a fresh block and the old one freed. Realloc(0, n) is Alloc(n) and
// Realloc(p, 0) frees p.
func (h *Heap) Realloc(addr, newSize uint64) (uint64, error) {
	if addr == 0 {
		return h.Alloc(newSize)
	}
	if newSize == 0 {
		h.Free(addr)
		return 0, nil
	}

	block := addr - headerSize
	if !h.inHeap(block) || !h.blockMagicOK(block) {
		return 0, fmt.Errorf("heap: realloc of non-heap pointer %#x: %w", addr, kerr.ErrCorruption)
	}

	oldSize := h.blockSize(block)
	if oldSize >= newSize {
		return addr, nil
	}

	newAddr, err := h.Alloc(newSize)
	if err != nil {
		return 0, err
	}
	copy(h.mem.Slice(newAddr, oldSize), h.mem.Slice(addr, oldSize))
	h.Free(addr)
	return newAddr, nil
}

// Bytes returns the n-byte payload view at addr.
func (h *Heap) Bytes(addr, n uint64) []byte {
	return h.mem.Slice(addr, n)
}

// FreeBlocks counts blocks on the free list, for tests and the stats
// report.
func (h *Heap) FreeBlocks() int {
	n := 0
	for block := h.freeHead; block != 0; block = h.blockNext(block) {
		n++
	}
	return n
}
