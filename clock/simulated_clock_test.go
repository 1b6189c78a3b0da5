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

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedClockAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSimulatedClock(start)

	assert.Equal(t, start, c.Now())
	c.AdvanceTime(42 * time.Millisecond)
	assert.Equal(t, start.Add(42*time.Millisecond), c.Now())
}

func TestSimulatedClockAfter(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSimulatedClock(start)

	ch := c.After(100 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired before the deadline")
	default:
	}

	c.AdvanceTime(99 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired one tick early")
	default:
	}

	c.AdvanceTime(time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("did not fire at the deadline")
	}
}

func TestSimulatedClockAfterNonPositive(t *testing.T) {
	c := NewSimulatedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero-duration After must fire immediately")
	}
}

func TestTickConversions(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSimulatedClock(start)

	c.AdvanceTicks(150)
	assert.Equal(t, uint64(150), TicksSince(c, start))
	assert.Equal(t, uint64(150), UptimeMs(c, start))
}
