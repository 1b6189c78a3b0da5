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

func newTestFrames(t *testing.T, size uint64) (*FrameAllocator, Arena) {
	t.Helper()
	mem := make(Arena, size)
	return NewFrameAllocator(mem, ConventionalMap(size)), mem
}

func TestFrameAllocatorCounts(t *testing.T) {
	f, _ := newTestFrames(t, 1<<20)

	// One page is reserved at the bottom of the map.
	assert.Equal(t, uint64(255), f.TotalPages())
	assert.Zero(t, f.UsedPages())

	addr, err := f.AllocPage()
	require.NoError(t, err)
	require.NotZero(t, addr)
	assert.Equal(t, uint64(1), f.UsedPages())

	f.FreePage(addr)
	assert.Zero(t, f.UsedPages())
	assert.Equal(t, uint64(255), f.FreePages())
}

func TestAllocPageZeroFills(t *testing.T) {
	f, mem := newTestFrames(t, 1<<20)

	addr, err := f.AllocPage()
	require.NoError(t, err)
	copy(mem.Slice(addr, PageSize), []byte("garbage garbage garbage"))
	f.FreePage(addr)

	// The LIFO list hands the same frame straight back.
	again, err := f.AllocPage()
	require.NoError(t, err)
	require.Equal(t, addr, again)
	for _, b := range mem.Slice(again, PageSize) {
		if b != 0 {
			t.Fatalf("frame at %#x not zero-filled", again)
		}
	}
}

func TestAllocPageExhaustion(t *testing.T) {
	f, _ := newTestFrames(t, 16*PageSize)

	for i := uint64(0); i < f.TotalPages(); i++ {
		_, err := f.AllocPage()
		require.NoError(t, err)
	}
	_, err := f.AllocPage()
	assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
}

func TestAllocPagesReturnsFirst(t *testing.T) {
	f, _ := newTestFrames(t, 1<<20)

	first, err := f.AllocPages(4)
	require.NoError(t, err)
	require.NotZero(t, first)
	assert.Equal(t, uint64(4), f.UsedPages())

	_, err = f.AllocPages(0)
	assert.ErrorIs(t, err, kerr.ErrInvalidArgument)
}

func TestAllocContiguous(t *testing.T) {
	f, _ := newTestFrames(t, 1<<20)

	base, err := f.AllocContiguous(8)
	require.NoError(t, err)
	require.NotZero(t, base)
	assert.Equal(t, uint64(8), f.UsedPages())

	// A second run must not overlap the first.
	other, err := f.AllocContiguous(8)
	require.NoError(t, err)
	lo, hi := base, base+8*PageSize
	assert.True(t, other+8*PageSize <= lo || other >= hi,
		"contiguous runs overlap: %#x and %#x", base, other)
}

func TestAllocContiguousTooLarge(t *testing.T) {
	f, _ := newTestFrames(t, 16*PageSize)

	_, err := f.AllocContiguous(64)
	assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
}

func TestFreeListSurvivesContiguousCarving(t *testing.T) {
	f, _ := newTestFrames(t, 1<<20)

	total := f.TotalPages()
	_, err := f.AllocContiguous(4)
	require.NoError(t, err)

	// Every remaining frame is still reachable through the list.
	n := uint64(0)
	for {
		if _, err := f.AllocPage(); err != nil {
			break
		}
		n++
	}
	assert.Equal(t, total-4, n)
}
