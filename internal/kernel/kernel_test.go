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

package kernel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqestical/amqos/cfg"
	"github.com/mqestical/amqos/clock"
	"github.com/mqestical/amqos/internal/kernel"
	"github.com/mqestical/amqos/internal/netstack"
	"github.com/mqestical/amqos/internal/sched"
	"github.com/mqestical/amqos/internal/vfs"
)

func testConfig() *cfg.Config {
	return &cfg.Config{
		AppName: "amqos-test",
		Memory:  cfg.MemoryConfig{SizeMb: 32},
		Logging: cfg.LoggingConfig{Severity: cfg.OffLevel, Format: "text"},
		FileSystem: cfg.FileSystemConfig{
			RamDiskKb: 512,
		},
		Scheduler: cfg.SchedulerConfig{StackSizeKb: 16, TickMs: 1},
		Network: cfg.NetworkConfig{
			Dhcp:    false,
			Ip:      cfg.IPAddr{10, 0, 2, 15},
			Netmask: cfg.IPAddr{255, 255, 255, 0},
			Gateway: cfg.IPAddr{10, 0, 2, 2},
		},
	}
}

func newBootedKernel(t *testing.T) (*kernel.Kernel, *clock.SimulatedClock) {
	t.Helper()
	clk := clock.NewSimulatedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	k, err := kernel.New(testConfig(), clk, nil)
	require.NoError(t, err)
	require.NoError(t, k.Boot())
	return k, clk
}

func TestBootBringsSubsystemsUp(t *testing.T) {
	k, _ := newBootedKernel(t)

	assert.NotNil(t, k.VFS.Root())
	assert.True(t, k.NIC.LinkUp())
	assert.True(t, k.Net.Config().Configured)
	assert.Equal(t, netstack.IPv4{10, 0, 2, 15}, k.Net.Config().IP)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", k.BootID.String())
}

func TestBootFilesystemUsable(t *testing.T) {
	k, _ := newBootedKernel(t)

	require.NoError(t, k.VFS.Mkdir("/tmp", 0o755))
	require.NoError(t, k.VFS.Create("/tmp/x", 0o644))

	fd, err := k.VFS.Open("/tmp/x", vfs.FlagWrite)
	require.NoError(t, err)
	_, err = k.VFS.Write(fd, []byte("boot"))
	require.NoError(t, err)
	require.NoError(t, k.VFS.Close(fd))
}

func TestPingSelfAfterBoot(t *testing.T) {
	k, _ := newBootedKernel(t)

	err := k.Net.Ping(netstack.IPv4{10, 0, 2, 15}, 1, 1, []byte("selftest"))
	require.NoError(t, err)
	assert.Empty(t, k.Medium.Transmitted())
}

func TestMemoryReportShape(t *testing.T) {
	k, _ := newBootedKernel(t)

	report := k.MemoryReport()
	assert.Contains(t, report, "=== Memory Statistics ===")
	assert.Contains(t, report, "Total pages:")
	assert.Contains(t, report, "Allocations:")
}

func TestSchedulerIntegration(t *testing.T) {
	k, clk := newBootedKernel(t)

	proc, err := k.Sched.CreateProcess("init")
	require.NoError(t, err)

	tid, err := k.Sched.CreateThread(proc.PID, func() {
		k.Sched.SleepMs(20)
	}, 0, sched.SchedParams{})
	require.NoError(t, err)
	require.Greater(t, k.Sched.AddForegroundJob("sleep 20", proc.PID, tid), 0)

	done := make(chan struct{})
	go func() {
		k.Sched.Run()
		close(done)
	}()

	require.Eventually(t, func() bool {
		threads := k.Sched.LiveThreads()
		return len(threads) == 1 && threads[0].State == sched.ThreadBlocked
	}, 2*time.Second, time.Millisecond)

	clk.AdvanceTicks(25)
	k.Tick(clk.Now())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sleeper never woke")
	}
	assert.Equal(t, uint64(25), k.UptimeMs())
}

func TestMonitorGathers(t *testing.T) {
	k, _ := newBootedKernel(t)

	families, err := k.Monitor.Registry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["amqos_pmm_total_pages"])
	assert.True(t, names["amqos_heap_allocs_total"])
	assert.True(t, names["amqos_net_rx_frames_total"])
}
