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
	"strings"
)

// Stats is a point-in-time snapshot of both allocators.
type Stats struct {
	TotalPages uint64
	UsedPages  uint64
	FreePages  uint64

	HeapBase uint64
	HeapSize uint64
	HeapUsed uint64
	HeapFree uint64

	Allocs    uint64
	Frees     uint64
	Splits    uint64
	Coalesces uint64
}

// Snapshot collects stats across the frame allocator and heap.
func Snapshot(frames *FrameAllocator, heap *Heap) Stats {
	return Stats{
		TotalPages: frames.TotalPages(),
		UsedPages:  frames.UsedPages(),
		FreePages:  frames.FreePages(),
		HeapBase:   heap.base,
		HeapSize:   heap.size,
		HeapUsed:   heap.used,
		HeapFree:   heap.size - heap.used,
		Allocs:     heap.allocs,
		Frees:      heap.frees,
		Splits:     heap.splits,
		Coalesces:  heap.coalesces,
	}
}

// Report renders the human-readable memory statistics block.
func (s Stats) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Memory Statistics ===\n")
	fmt.Fprintf(&b, "Physical Memory:\n")
	fmt.Fprintf(&b, "  Total pages: %d\n", s.TotalPages)
	fmt.Fprintf(&b, "  Used pages: %d\n", s.UsedPages)
	fmt.Fprintf(&b, "  Free pages: %d\n", s.FreePages)
	fmt.Fprintf(&b, "  Total size: %d KB\n", s.TotalPages*PageSize/1024)
	fmt.Fprintf(&b, "Heap Memory:\n")
	fmt.Fprintf(&b, "  Base: %#x\n", s.HeapBase)
	fmt.Fprintf(&b, "  Size: %d KB\n", s.HeapSize/1024)
	fmt.Fprintf(&b, "  Used: %d KB\n", s.HeapUsed/1024)
	fmt.Fprintf(&b, "  Free: %d KB\n", s.HeapFree/1024)
	fmt.Fprintf(&b, "Heap Operations:\n")
	fmt.Fprintf(&b, "  Allocations: %d\n", s.Allocs)
	fmt.Fprintf(&b, "  Frees: %d\n", s.Frees)
	fmt.Fprintf(&b, "  Splits: %d\n", s.Splits)
	fmt.Fprintf(&b, "  Coalesces: %d\n", s.Coalesces)
	return b.String()
}
