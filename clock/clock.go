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

// Package clock abstracts the kernel's time source. The timer interrupt
// is modelled as a 1 kHz tick derived from a Clock, so tests can drive
// the whole kernel off a simulated clock.
package clock

import "time"

// TickHz is the simulated PIT frequency: one tick per millisecond.
const TickHz = 1000

type Clock interface {
	Now() time.Time

	// Notifies on the returned channel after the specified time has passed.
	After(d time.Duration) <-chan time.Time
}

// TicksSince converts the elapsed time since boot into timer ticks.
func TicksSince(c Clock, boot time.Time) uint64 {
	d := c.Now().Sub(boot)
	if d < 0 {
		return 0
	}
	return uint64(d / (time.Second / TickHz))
}

// UptimeMs converts the elapsed time since boot into whole milliseconds.
func UptimeMs(c Clock, boot time.Time) uint64 {
	return TicksSince(c, boot) * 1000 / TickHz
}
