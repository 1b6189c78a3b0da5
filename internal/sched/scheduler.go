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
	"runtime"
	"sync"
	"time"

	"github.com/mqestical/amqos/clock"
	"github.com/mqestical/amqos/common"
	"github.com/mqestical/amqos/internal/kerr"
	"github.com/mqestical/amqos/internal/logger"
	"github.com/mqestical/amqos/internal/memory"
)

// Scheduler owns the thread table, the FIFO ready queue, and the job
// table. Run is the only place that seats the current-thread pointer;
// yield, block and exit return the CPU to Run, which dispatches the
// next ready thread.
//
// mu guards the structures the timer sweep shares with the cooperative
// region: thread states, the ready queue, and the job table. It is
// never held across a context switch.
type Scheduler struct {
	heap *memory.Heap
	clk  clock.Clock
	boot time.Time

	mu       sync.Mutex
	enabled  bool
	stopping bool

	threads [MaxThreadsGlobal]*Thread
	nextTID uint32

	processes []*Process
	nextPID   uint32

	ready common.Queue[*Thread]
	live  int

	current *Thread
	cpu     chan struct{} // baton back to the run loop
	wake    chan struct{} // a thread became ready while the CPU was idle

	jobs        [MaxJobs]Job
	nextJobID   int
	jobsEnabled bool
}

func New(heap *memory.Heap, clk clock.Clock, boot time.Time) *Scheduler {
	return &Scheduler{
		heap:      heap,
		clk:       clk,
		boot:      boot,
		nextTID:   1,
		nextPID:   1,
		nextJobID: 1,
		ready:     common.NewQueue[*Thread](),
		cpu:       make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// UptimeMs returns milliseconds since boot.
func (s *Scheduler) UptimeMs() uint64 {
	return clock.UptimeMs(s.clk, s.boot)
}

// CreateProcess allocates a process table entry.
func (s *Scheduler) CreateProcess(name string) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.processes) >= MaxProcesses {
		return nil, fmt.Errorf("sched: process table full: %w", kerr.ErrOutOfMemory)
	}
	p := &Process{PID: s.nextPID, Name: name}
	s.nextPID++
	s.processes = append(s.processes, p)
	return p, nil
}

// Process looks a process up by id.
func (s *Scheduler) Process(pid uint32) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.processes {
		if p.PID == pid {
			return p
		}
	}
	return nil
}

// CreateThread allocates a stack, builds the initial context, and links
// the thread into its process and the ready queue. The EDF parameters
// are recorded but unused.
func (s *Scheduler) CreateThread(pid uint32, entry func(), stackSize uint64, params SchedParams) (uint32, error) {
	if entry == nil {
		return 0, fmt.Errorf("sched: nil entry point: %w", kerr.ErrInvalidArgument)
	}
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}

	proc := s.Process(pid)
	if proc == nil {
		return 0, fmt.Errorf("sched: process %d: %w", pid, kerr.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(proc.threads) >= MaxThreadsPerProcess {
		return 0, fmt.Errorf("sched: thread limit for process %d: %w", pid, kerr.ErrOutOfMemory)
	}
	slot := -1
	for i := range s.threads {
		if s.threads[i] == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, fmt.Errorf("sched: thread table full: %w", kerr.ErrOutOfMemory)
	}

	stackAddr, err := s.heap.Alloc(stackSize)
	if err != nil {
		return 0, fmt.Errorf("sched: stack allocation: %w", err)
	}
	stack := s.heap.Bytes(stackAddr, stackSize)
	for i := range stack {
		stack[i] = stackFillPattern
	}

	t := &Thread{
		TID:       s.nextTID,
		parent:    proc,
		state:     ThreadReady,
		ctx:       Context{resume: make(chan struct{})},
		stackAddr: stackAddr,
		stackSize: stackSize,
		entry:     entry,
		params:    params,
	}
	s.nextTID++
	s.threads[slot] = t
	proc.threads = append(proc.threads, t)
	s.ready.Push(t)
	s.live++

	go s.threadWrapper(t)

	logger.Debugf("sched: created tid=%d for pid=%d", t.TID, pid)
	s.signalWake()
	return t.TID, nil
}

// threadWrapper is the first frame of every thread: it waits for the
// first context switch into the thread, calls the entry function, and
// exits if the entry returns.
func (s *Scheduler) threadWrapper(t *Thread) {
	<-t.ctx.resume
	t.entry()
	s.Exit()
}

// Thread looks a thread up by id.
func (s *Scheduler) Thread(tid uint32) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadLocked(tid)
}

func (s *Scheduler) threadLocked(tid uint32) *Thread {
	for _, t := range s.threads {
		if t != nil && t.TID == tid {
			return t
		}
	}
	return nil
}

// Current returns the thread holding the CPU, if any.
func (s *Scheduler) Current() *Thread { return s.current }

// Run dispatches ready threads until every thread has terminated or
// Stop is called. It must be invoked from the goroutine that owns the
// CPU (the boot goroutine).
func (s *Scheduler) Run() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.stopping || s.live == 0 {
			s.enabled = false
			s.stopping = false
			s.mu.Unlock()
			return
		}
		var next *Thread
		if !s.ready.IsEmpty() {
			next = s.ready.Pop()
			next.state = ThreadRunning
		}
		s.mu.Unlock()

		if next == nil {
			// Every live thread is blocked; wait for the timer sweep or
			// an unblock to produce work.
			<-s.wake
			continue
		}

		s.current = next
		next.ctx.resume <- struct{}{}
		<-s.cpu
	}
}

// Stop asks Run to return after the current thread next releases the
// CPU.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.signalWake()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Yield puts the calling thread at the tail of the ready queue and
// hands the CPU back to the scheduler.
func (s *Scheduler) Yield() {
	t := s.current
	if t == nil {
		return
	}
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	t.state = ThreadReady
	s.ready.Push(t)
	s.mu.Unlock()

	s.current = nil
	s.cpu <- struct{}{}
	<-t.ctx.resume
}

// Block moves the named thread out of the ready queue. Blocking the
// current thread immediately relinquishes the CPU.
func (s *Scheduler) Block(tid uint32) {
	s.mu.Lock()
	t := s.threadLocked(tid)
	if t == nil || t.state == ThreadBlocked {
		s.mu.Unlock()
		return
	}
	t.state = ThreadBlocked
	s.ready.Remove(t)
	isCurrent := t == s.current
	s.mu.Unlock()

	logger.Tracef("sched: blocked tid=%d", tid)

	if isCurrent {
		s.current = nil
		s.cpu <- struct{}{}
		<-t.ctx.resume
	}
}

// Unblock moves a blocked thread back to the ready queue tail.
// Unblocking a thread that is not blocked is a no-op.
func (s *Scheduler) Unblock(tid uint32) {
	s.mu.Lock()
	t := s.threadLocked(tid)
	if t == nil || t.state != ThreadBlocked {
		s.mu.Unlock()
		return
	}
	t.state = ThreadReady
	s.ready.Push(t)
	s.mu.Unlock()

	logger.Tracef("sched: unblocked tid=%d", tid)
	s.signalWake()
}

// Exit terminates the calling thread: the stack is reclaimed, the
// thread leaves its process (terminating it when it was the last), and
// the CPU returns to the scheduler. Exit does not return.
func (s *Scheduler) Exit() {
	t := s.current
	if t == nil {
		logger.Warnf("sched: exit with no current thread")
		return
	}

	s.mu.Lock()
	if t.state == ThreadTerminated {
		s.mu.Unlock()
		runtime.Goexit()
	}
	t.state = ThreadTerminated
	for i := range s.threads {
		if s.threads[i] == t {
			s.threads[i] = nil
			break
		}
	}
	s.live--
	if t.parent != nil {
		t.parent.removeThread(t)
		if t.parent.state == ProcessTerminated {
			logger.Debugf("sched: process %d terminated (no threads)", t.parent.PID)
		}
	}
	s.mu.Unlock()

	s.heap.Free(t.stackAddr)
	t.stackAddr = 0

	logger.Debugf("sched: tid=%d exited", t.TID)

	s.current = nil
	s.cpu <- struct{}{}
	runtime.Goexit()
}

// ThreadInfo is a consistent snapshot of one live thread.
type ThreadInfo struct {
	TID       uint32
	State     ThreadState
	StackAddr uint64
	StackSize uint64
}

// LiveThreads snapshots every non-terminated thread, for invariant
// checks and reporting.
func (s *Scheduler) LiveThreads() []ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ThreadInfo
	for _, t := range s.threads {
		if t != nil {
			out = append(out, ThreadInfo{
				TID:       t.TID,
				State:     t.state,
				StackAddr: t.stackAddr,
				StackSize: t.stackSize,
			})
		}
	}
	return out
}
