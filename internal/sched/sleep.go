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

package sched

import (
	"time"

	"github.com/mqestical/amqos/internal/logger"
)

// SleepMs puts the calling thread to sleep for at least ms
// milliseconds. The wake time is recorded in the caller's job entry and
// the thread blocks until the timer sweep wakes it. Outside a thread
// the call degrades to waiting on the clock.
func (s *Scheduler) SleepMs(ms uint64) {
	if ms == 0 {
		return
	}

	t := s.current
	if t == nil {
		<-s.clk.After(time.Duration(ms) * time.Millisecond)
		return
	}

	wakeAt := s.UptimeMs() + ms

	s.mu.Lock()
	found := false
	for i := range s.jobs {
		if s.jobs[i].used && s.jobs[i].TID == t.TID {
			s.jobs[i].State = JobSleeping
			s.jobs[i].WakeAt = wakeAt
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		logger.Warnf("sched: sleep with no job for tid=%d", t.TID)
	}

	logger.Tracef("sched: tid=%d sleeping until %d ms", t.TID, wakeAt)
	s.Block(t.TID)
}

// SleepSeconds sleeps for whole seconds.
func (s *Scheduler) SleepSeconds(sec uint32) {
	if sec == 0 {
		return
	}
	s.SleepMs(uint64(sec) * 1000)
}

// SleepMicros sleeps for at least the given microseconds, rounded up to
// a millisecond.
func (s *Scheduler) SleepMicros(us uint64) {
	if us == 0 {
		return
	}
	ms := (us + 999) / 1000
	if ms == 0 {
		ms = 1
	}
	s.SleepMs(ms)
}

// MeasureMs runs fn and returns the elapsed milliseconds on the
// kernel clock.
func (s *Scheduler) MeasureMs(fn func()) uint64 {
	start := s.UptimeMs()
	fn()
	return s.UptimeMs() - start
}
