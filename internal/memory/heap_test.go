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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqestical/amqos/internal/kerr"
)

func newTestHeap(t *testing.T) (*Heap, *FrameAllocator) {
	t.Helper()
	size := uint64(8 << 20)
	mem := make(Arena, size)
	frames := NewFrameAllocator(mem, ConventionalMap(size))
	heap, err := NewHeap(mem, frames)
	require.NoError(t, err)
	return heap, frames
}

func TestHeapAllocZeroSize(t *testing.T) {
	h, _ := newTestHeap(t)

	addr, err := h.Alloc(0)
	assert.ErrorIs(t, err, kerr.ErrInvalidArgument)
	assert.Zero(t, addr)
}

func TestHeapAllocAlignment(t *testing.T) {
	h, _ := newTestHeap(t)

	for _, size := range []uint64{1, 15, 16, 17, 100} {
		addr, err := h.Alloc(size)
		require.NoError(t, err)
		assert.Zero(t, addr%16, "payload for size %d not 16-byte aligned", size)
	}
}

func TestHeapSplitAndCoalesce(t *testing.T) {
	h, _ := newTestHeap(t)

	initialFree := h.size - headerSize

	p1, err := h.Alloc(64)
	require.NoError(t, err)
	p2, err := h.Alloc(64)
	require.NoError(t, err)
	p3, err := h.Alloc(64)
	require.NoError(t, err)

	h.Free(p2)
	h.Free(p1)
	h.Free(p3)

	// Everything coalesced back into the single initial block.
	assert.Equal(t, 1, h.FreeBlocks())
	assert.Equal(t, h.base, h.freeHead)
	assert.Equal(t, initialFree, h.blockSize(h.freeHead))
	assert.Zero(t, h.used)

	// And the next allocation lands at the original base again.
	p4, err := h.Alloc(192)
	require.NoError(t, err)
	assert.Equal(t, p1, p4)
}

func TestHeapNoAdjacentFreeBlocks(t *testing.T) {
	h, _ := newTestHeap(t)

	var ptrs []uint64
	for i := 0; i < 8; i++ {
		p, err := h.Alloc(48)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	// Free every other block, then the rest.
	for i := 0; i < len(ptrs); i += 2 {
		h.Free(ptrs[i])
	}
	for i := 1; i < len(ptrs); i += 2 {
		h.Free(ptrs[i])
	}

	// Walk each region and confirm no two neighbors are both free.
	for _, r := range h.regions {
		end := r.base + r.size
		cur := r.base
		for cur < end {
			next := cur + headerSize + h.blockSize(cur)
			if next >= end {
				break
			}
			assert.False(t, h.blockFree(cur) && h.blockFree(next),
				"adjacent free blocks at %#x and %#x", cur, next)
			cur = next
		}
	}
}

func TestHeapUsedAccounting(t *testing.T) {
	h, _ := newTestHeap(t)

	p1, err := h.Alloc(100)
	require.NoError(t, err)
	p2, err := h.Alloc(200)
	require.NoError(t, err)

	// Sizes are rounded up to 16.
	want := uint64(headerSize+112) + uint64(headerSize+208)
	assert.Equal(t, want, h.used)

	h.Free(p1)
	assert.Equal(t, uint64(headerSize+208), h.used)
	h.Free(p2)
	assert.Zero(t, h.used)
}

func TestHeapFreeAddressReuse(t *testing.T) {
	h, _ := newTestHeap(t)

	p1, err := h.Alloc(128)
	require.NoError(t, err)
	h.Free(p1)
	p2, err := h.Alloc(128)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestHeapDoubleFreeIgnored(t *testing.T) {
	h, _ := newTestHeap(t)

	p, err := h.Alloc(64)
	require.NoError(t, err)
	h.Free(p)
	frees := h.frees
	h.Free(p)
	assert.Equal(t, frees, h.frees, "double free must be ignored")
}

func TestHeapFreeForeignPointerIgnored(t *testing.T) {
	h, _ := newTestHeap(t)

	h.Free(0)
	h.Free(12345)
	assert.Zero(t, h.frees)
}

func TestHeapCallocZeroes(t *testing.T) {
	h, _ := newTestHeap(t)

	p, err := h.Alloc(64)
	require.NoError(t, err)
	// Dirty the memory, free it, then calloc over the same spot.
	copy(h.Bytes(p, 64), []byte("scribble scribble scribble"))
	h.Free(p)

	q, err := h.Calloc(16, 4)
	require.NoError(t, err)
	require.Equal(t, p, q)
	for _, b := range h.Bytes(q, 64) {
		assert.Zero(t, b)
	}
}

func TestHeapRealloc(t *testing.T) {
	h, _ := newTestHeap(t)

	// realloc(0, n) behaves as alloc.
	p, err := h.Realloc(0, 64)
	require.NoError(t, err)
	require.NotZero(t, p)

	// A shrink returns the same block.
	q, err := h.Realloc(p, 32)
	require.NoError(t, err)
	assert.Equal(t, p, q)

	// Growth copies the payload.
	copy(h.Bytes(p, 5), []byte("hello"))
	r, err := h.Realloc(p, 4096)
	require.NoError(t, err)
	assert.NotEqual(t, p, r)
	assert.Equal(t, []byte("hello"), h.Bytes(r, 5))

	// realloc(p, 0) frees.
	z, err := h.Realloc(r, 0)
	require.NoError(t, err)
	assert.Zero(t, z)
	assert.Zero(t, h.used)
}

func TestHeapGrowsFromFrameAllocator(t *testing.T) {
	h, frames := newTestHeap(t)
	before := frames.UsedPages()

	// Larger than the initial 16-page arena.
	p, err := h.Alloc(initialHeapPages * PageSize)
	require.NoError(t, err)
	require.NotZero(t, p)
	assert.Greater(t, frames.UsedPages(), before)
	assert.Len(t, h.regions, 2)
}

func TestHeapStatsReport(t *testing.T) {
	h, frames := newTestHeap(t)

	p, err := h.Alloc(64)
	require.NoError(t, err)
	h.Free(p)

	s := Snapshot(frames, h)
	assert.Equal(t, uint64(1), s.Allocs)
	assert.Equal(t, uint64(1), s.Frees)
	report := s.Report()
	assert.Contains(t, report, "Total pages:")
	assert.Contains(t, report, "Allocations: 1")
	assert.Contains(t, report, "Coalesces:")
}
