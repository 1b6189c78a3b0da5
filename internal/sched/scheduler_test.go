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

package sched_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqestical/amqos/clock"
	"github.com/mqestical/amqos/internal/memory"
	"github.com/mqestical/amqos/internal/sched"
)

func newTestScheduler(t *testing.T) (*sched.Scheduler, *clock.SimulatedClock) {
	t.Helper()
	size := uint64(8 << 20)
	mem := make(memory.Arena, size)
	frames := memory.NewFrameAllocator(mem, memory.ConventionalMap(size))
	heap, err := memory.NewHeap(mem, frames)
	require.NoError(t, err)

	clk := clock.NewSimulatedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return sched.New(heap, clk, clk.Now()), clk
}

func TestRoundRobinYield(t *testing.T) {
	s, _ := newTestScheduler(t)
	proc, err := s.CreateProcess("test")
	require.NoError(t, err)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		_, err := s.CreateThread(proc.PID, func() {
			for k := 0; k < 3; k++ {
				order = append(order, i)
				s.Yield()
			}
		}, 0, sched.SchedParams{})
		require.NoError(t, err)
	}

	s.Run()

	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0, 1, 2}, order)
	assert.Empty(t, s.LiveThreads())
}

func TestBlockAndUnblock(t *testing.T) {
	s, _ := newTestScheduler(t)
	proc, err := s.CreateProcess("test")
	require.NoError(t, err)

	var events []string
	var tid1 uint32

	tid1, err = s.CreateThread(proc.PID, func() {
		events = append(events, "t1-blocking")
		s.Block(s.Current().TID)
		events = append(events, "t1-resumed")
	}, 0, sched.SchedParams{})
	require.NoError(t, err)

	_, err = s.CreateThread(proc.PID, func() {
		events = append(events, "t2-unblocking")
		s.Unblock(tid1)
	}, 0, sched.SchedParams{})
	require.NoError(t, err)

	s.Run()

	assert.Equal(t, []string{"t1-blocking", "t2-unblocking", "t1-resumed"}, events)
}

func TestUnblockNonBlockedIsNoop(t *testing.T) {
	s, _ := newTestScheduler(t)
	proc, err := s.CreateProcess("test")
	require.NoError(t, err)

	tid, err := s.CreateThread(proc.PID, func() {}, 0, sched.SchedParams{})
	require.NoError(t, err)

	// Ready, not blocked: both calls must leave the queue intact.
	s.Unblock(tid)
	s.Unblock(999)
	s.Run()
	assert.Empty(t, s.LiveThreads())
}

func TestCooperativeSleep(t *testing.T) {
	s, clk := newTestScheduler(t)
	proc, err := s.CreateProcess("test")
	require.NoError(t, err)
	s.JobsEnable(true)

	for _, name := range []string{"sleep-a &", "sleep-b &"} {
		tid, err := s.CreateThread(proc.PID, func() {
			s.SleepMs(100)
		}, 0, sched.SchedParams{})
		require.NoError(t, err)
		require.Greater(t, s.AddBackgroundJob(name, proc.PID, tid), 0)
	}

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	// Wait until both threads have gone to sleep.
	require.Eventually(t, func() bool {
		threads := s.LiveThreads()
		if len(threads) != 2 {
			return false
		}
		for _, th := range threads {
			if th.State != sched.ThreadBlocked {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)

	// t = 50 ms: both jobs report Sleeping.
	clk.AdvanceTicks(50)
	s.Tick(clk.Now())
	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, sched.JobSleeping, j.State)
		assert.Equal(t, uint64(100), j.WakeAt)
	}

	// t = 150 ms: the sweep wakes both; they run to completion.
	clk.AdvanceTicks(100)
	s.Tick(clk.Now())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("threads did not finish after wake")
	}

	// The next sweep reaps the finished jobs.
	s.Tick(clk.Now())
	assert.Empty(t, s.Jobs())
	assert.Empty(t, s.LiveThreads())
}

func TestStackRangesDisjoint(t *testing.T) {
	s, _ := newTestScheduler(t)
	proc, err := s.CreateProcess("test")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := s.CreateThread(proc.PID, func() {}, 8*1024, sched.SchedParams{})
		require.NoError(t, err)
	}

	threads := s.LiveThreads()
	require.Len(t, threads, 4)
	for i, a := range threads {
		for _, b := range threads[i+1:] {
			disjoint := a.StackAddr+a.StackSize <= b.StackAddr || b.StackAddr+b.StackSize <= a.StackAddr
			assert.True(t, disjoint, "stacks of tid %d and tid %d overlap", a.TID, b.TID)
		}
	}

	s.Run()
}

func TestProcessTerminatesWithLastThread(t *testing.T) {
	s, _ := newTestScheduler(t)
	proc, err := s.CreateProcess("workers")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := s.CreateThread(proc.PID, func() {}, 0, sched.SchedParams{})
		require.NoError(t, err)
	}

	assert.Equal(t, sched.ProcessRunning, proc.State())
	s.Run()
	assert.Equal(t, sched.ProcessTerminated, proc.State())
	assert.Zero(t, proc.ThreadCount())
}

func TestThreadLimits(t *testing.T) {
	s, _ := newTestScheduler(t)
	proc, err := s.CreateProcess("crowded")
	require.NoError(t, err)

	for i := 0; i < sched.MaxThreadsPerProcess; i++ {
		_, err := s.CreateThread(proc.PID, func() {}, 0, sched.SchedParams{})
		require.NoError(t, err)
	}
	_, err = s.CreateThread(proc.PID, func() {}, 0, sched.SchedParams{})
	assert.Error(t, err)

	_, err = s.CreateThread(12345, func() {}, 0, sched.SchedParams{})
	assert.Error(t, err)

	_, err = s.CreateThread(proc.PID, nil, 0, sched.SchedParams{})
	assert.Error(t, err)

	s.Run()
}

func TestJobTable(t *testing.T) {
	s, _ := newTestScheduler(t)
	proc, err := s.CreateProcess("jobs")
	require.NoError(t, err)

	tid, err := s.CreateThread(proc.PID, func() { s.Yield() }, 0, sched.SchedParams{})
	require.NoError(t, err)

	// Background jobs require tracking to be enabled.
	assert.Equal(t, -1, s.AddBackgroundJob("nope &", proc.PID, tid))

	s.JobsEnable(true)
	id := s.AddBackgroundJob("work &", proc.PID, tid)
	require.Greater(t, id, 0)

	j, ok := s.Job(id)
	require.True(t, ok)
	assert.True(t, j.Background)

	require.True(t, s.Foreground(id))
	j, _ = s.Job(id)
	assert.False(t, j.Background)
	require.True(t, s.Background(id))

	report := s.JobsReport()
	assert.Contains(t, report, "work &")

	s.RemoveJob(id)
	_, ok = s.Job(id)
	assert.False(t, ok)

	s.Run()
}
