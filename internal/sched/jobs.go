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
	"fmt"
	"strings"
	"time"
)

type JobState int

const (
	JobRunning JobState = iota
	JobStopped
	JobSleeping
	JobDone
)

func (j JobState) String() string {
	switch j {
	case JobRunning:
		return "Running"
	case JobStopped:
		return "Stopped"
	case JobSleeping:
		return "Sleeping"
	default:
		return "Done"
	}
}

// Job is the shell-level handle over a thread. While a thread sleeps,
// its job holds the absolute wake time in ms-since-boot; the timer
// sweep wakes it when uptime reaches that value.
type Job struct {
	used       bool
	ID         int
	PID        uint32
	TID        uint32
	Command    string
	Background bool
	State      JobState
	WakeAt     uint64
}

// JobsEnable turns job tracking on or off.
func (s *Scheduler) JobsEnable(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsEnabled = active
}

func (s *Scheduler) addJob(command string, pid, tid uint32, background bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if background && !s.jobsEnabled {
		return -1
	}

	for i := range s.jobs {
		if s.jobs[i].used {
			continue
		}
		s.jobs[i] = Job{
			used:       true,
			ID:         s.nextJobID,
			PID:        pid,
			TID:        tid,
			Command:    command,
			Background: background,
			State:      JobRunning,
		}
		s.nextJobID++
		return s.jobs[i].ID
	}
	return -1
}

// AddForegroundJob records a foreground job for (pid, tid).
func (s *Scheduler) AddForegroundJob(command string, pid, tid uint32) int {
	return s.addJob(command, pid, tid, false)
}

// AddBackgroundJob records a background job for (pid, tid). Job
// tracking must be enabled.
func (s *Scheduler) AddBackgroundJob(command string, pid, tid uint32) int {
	return s.addJob(command, pid, tid, true)
}

// RemoveJob releases a job slot.
func (s *Scheduler) RemoveJob(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].used && s.jobs[i].ID == id {
			s.jobs[i] = Job{}
			return
		}
	}
}

// Job returns a snapshot of the named job.
func (s *Scheduler) Job(id int) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].used && s.jobs[i].ID == id {
			return s.jobs[i], true
		}
	}
	return Job{}, false
}

// Jobs returns a snapshot of every used job slot.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for i := range s.jobs {
		if s.jobs[i].used {
			out = append(out, s.jobs[i])
		}
	}
	return out
}

// Foreground brings a job to the foreground.
func (s *Scheduler) Foreground(id int) bool { return s.setBackground(id, false) }

// Background sends a job to the background.
func (s *Scheduler) Background(id int) bool { return s.setBackground(id, true) }

func (s *Scheduler) setBackground(id int, bg bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].used && s.jobs[i].ID == id {
			s.jobs[i].Background = bg
			return true
		}
	}
	return false
}

// JobsReport renders the job table for the shell.
func (s *Scheduler) JobsReport() string {
	jobs := s.Jobs()
	var b strings.Builder
	b.WriteString("=== Jobs ===\n")
	if len(jobs) == 0 {
		b.WriteString("(No jobs)\n")
		return b.String()
	}
	now := s.UptimeMs()
	for _, j := range jobs {
		prefix := ""
		if !j.Background {
			prefix = "(fg) "
		}
		detail := ""
		if j.State == JobSleeping && j.WakeAt > now {
			detail = fmt.Sprintf(" (%ds)", (j.WakeAt-now)/1000)
		}
		fmt.Fprintf(&b, "[%d]  %s%-10s%s  %s\n", j.ID, prefix, j.State, detail, j.Command)
	}
	return b.String()
}

// Tick is the timer-interrupt sweep. It wakes sleeping jobs whose time
// has come, reconciles job states with thread states, and releases the
// slots of finished jobs. It runs from the tick goroutine, so it must
// not allocate from the kernel heap, log, or enter the scheduler.
func (s *Scheduler) Tick(now time.Time) {
	nowMs := uint64(now.Sub(s.boot) / time.Millisecond)

	s.mu.Lock()
	woke := false
	for i := range s.jobs {
		if !s.jobs[i].used {
			continue
		}
		j := &s.jobs[i]
		t := s.threadLocked(j.TID)

		if t == nil || t.state == ThreadTerminated {
			j.State = JobDone
			*j = Job{}
			continue
		}

		if j.State == JobSleeping && j.WakeAt > 0 {
			if nowMs >= j.WakeAt {
				if t.state == ThreadBlocked {
					t.state = ThreadReady
					s.ready.Push(t)
					woke = true
				}
				j.State = JobRunning
				j.WakeAt = 0
			}
			continue
		}

		switch t.state {
		case ThreadRunning, ThreadReady:
			j.State = JobRunning
		case ThreadBlocked:
			if j.WakeAt > 0 {
				j.State = JobSleeping
			} else {
				j.State = JobStopped
			}
		}
	}
	s.mu.Unlock()

	if woke {
		s.signalWake()
	}
}
