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

// Package kernel assembles the subsystems into one context object:
// physical memory, heap, scheduler, VFS with tinyfs on a RAM disk, and
// the network stack on the simulated NIC. Nothing here is a package
// global; every subsystem hangs off the Kernel.
package kernel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mqestical/amqos/cfg"
	"github.com/mqestical/amqos/clock"
	"github.com/mqestical/amqos/internal/blockdev"
	"github.com/mqestical/amqos/internal/logger"
	"github.com/mqestical/amqos/internal/memory"
	"github.com/mqestical/amqos/internal/monitor"
	"github.com/mqestical/amqos/internal/netstack"
	"github.com/mqestical/amqos/internal/nic"
	"github.com/mqestical/amqos/internal/sched"
	"github.com/mqestical/amqos/internal/tinyfs"
	"github.com/mqestical/amqos/internal/vfs"
)

// RootDevice is the RAM disk tinyfs mounts at "/".
const RootDevice = "ram0"

// defaultMAC is the EEPROM station address of the simulated card.
var defaultMAC = [6]byte{0x52, 0x54, 0x00, 0x41, 0x4D, 0x51}

// Kernel is the context object threaded through every subsystem.
type Kernel struct {
	BootID   uuid.UUID
	Config   *cfg.Config
	Clock    clock.Clock
	BootTime time.Time

	Mem    memory.Arena
	Frames *memory.FrameAllocator
	Heap   *memory.Heap

	Sched *sched.Scheduler

	VFS     *vfs.VFS
	Devices *blockdev.Registry
	TinyFS  *tinyfs.TinyFS

	PCI    *nic.PCIBus
	Medium *nic.Medium
	NIC    *nic.Driver
	Net    *netstack.Stack

	Monitor *monitor.Monitor
}

// New builds the kernel up to, but not including, device
// initialization: memory map, frame allocator, heap, scheduler, VFS
// and the filesystem registry.
func New(c *cfg.Config, clk clock.Clock, medium *nic.Medium) (*Kernel, error) {
	k := &Kernel{
		BootID:   uuid.New(),
		Config:   c,
		Clock:    clk,
		BootTime: clk.Now(),
	}

	size := uint64(c.Memory.SizeMb) << 20
	k.Mem = make(memory.Arena, size)
	mmap := memory.ConventionalMap(size)
	k.Frames = memory.NewFrameAllocator(k.Mem, mmap)

	heap, err := memory.NewHeap(k.Mem, k.Frames)
	if err != nil {
		return nil, fmt.Errorf("kernel: heap init: %w", err)
	}
	k.Heap = heap

	k.Sched = sched.New(k.Heap, clk, k.BootTime)

	k.VFS = vfs.New()
	k.Devices = blockdev.NewRegistry()
	k.Devices.Register(RootDevice, blockdev.NewRAMDisk(uint32(c.FileSystem.RamDiskKb)*1024))
	k.TinyFS = tinyfs.New(k.Devices)
	if err := k.VFS.RegisterFilesystem(k.TinyFS); err != nil {
		return nil, err
	}

	if medium == nil {
		medium = nic.NewMedium()
	}
	k.Medium = medium
	k.PCI = nic.NewPCIBus()
	device := nic.NewDevice(nic.Device82540EM, defaultMAC, k.Mem, medium)
	k.PCI.AttachE1000(0, 3, 0xFEB80000, device)
	k.NIC = nic.NewDriver(k.PCI, k.Mem, k.Frames)

	k.Monitor = monitor.New()
	k.Monitor.ObserveMemory(k.MemoryStats)

	return k, nil
}

// Boot mounts the root filesystem and brings the network stack up.
func (k *Kernel) Boot() error {
	logger.Infof("kernel: booting %s (boot id %s)", k.Config.AppName, k.BootID)

	if err := k.VFS.Mount(k.TinyFS.Name(), RootDevice, "/"); err != nil {
		return err
	}

	if err := k.InitNetwork(); err != nil {
		return err
	}

	k.Sched.JobsEnable(true)
	return nil
}

// InitNetwork initializes the NIC driver and attaches the protocol
// stack. Static configuration from cfg is applied when DHCP is off.
func (k *Kernel) InitNetwork() error {
	if err := k.NIC.Init(); err != nil {
		return err
	}

	k.Net = netstack.New(k.NIC)
	k.Net.SetYield(func() {
		if k.Sched.Current() != nil {
			k.Sched.Yield()
		}
	})
	k.Monitor.ObserveNetwork(k.Net.Counters)

	nc := k.Config.Network
	if !nc.Dhcp && !nc.Ip.IsZero() {
		k.Net.SetConfig(netstack.IPv4(nc.Ip), netstack.IPv4(nc.Netmask), netstack.IPv4(nc.Gateway))
	}
	if !nc.DnsServer.IsZero() {
		k.Net.SetDNSServer(netstack.IPv4(nc.DnsServer))
	}
	return nil
}

// RunDHCP walks a full lease acquisition.
func (k *Kernel) RunDHCP() error {
	client, err := k.Net.NewDHCPClient()
	if err != nil {
		return err
	}
	return client.Run()
}

// Tick is the timer interrupt: it advances the job-wake sweep.
func (k *Kernel) Tick(now time.Time) {
	k.Sched.Tick(now)
}

// UptimeMs reports milliseconds since boot on the kernel clock.
func (k *Kernel) UptimeMs() uint64 {
	return clock.UptimeMs(k.Clock, k.BootTime)
}

// MemoryStats snapshots both allocators.
func (k *Kernel) MemoryStats() memory.Stats {
	return memory.Snapshot(k.Frames, k.Heap)
}

// MemoryReport renders the human-readable statistics block.
func (k *Kernel) MemoryReport() string {
	return k.MemoryStats().Report()
}
