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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mqestical/amqos/clock"
	"github.com/mqestical/amqos/internal/kernel"
	"github.com/mqestical/amqos/internal/logger"
	"github.com/mqestical/amqos/internal/sched"
	"github.com/mqestical/amqos/internal/vfs"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Boot the kernel and run the init workload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoot()
	},
}

func runBoot() error {
	k, err := kernel.New(&bootConfig, clock.RealClock{}, nil)
	if err != nil {
		return err
	}
	if err := k.Boot(); err != nil {
		return err
	}

	fmt.Println(k.MemoryReport())

	if bootConfig.Network.Dhcp {
		if err := k.RunDHCP(); err != nil {
			logger.Warnf("boot: dhcp failed (%v); network stays unconfigured", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The timer interrupt: a goroutine that only runs the job sweep.
	g, ctx := errgroup.WithContext(ctx)
	tickCtx, cancelTicks := context.WithCancel(ctx)
	g.Go(func() error {
		period := time.Duration(bootConfig.Scheduler.TickMs) * time.Millisecond
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return nil
			case now := <-ticker.C:
				k.Tick(now)
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		k.Sched.Stop()
		return nil
	})

	if err := runInitWorkload(k); err != nil {
		cancelTicks()
		stop()
		_ = g.Wait()
		return err
	}

	cancelTicks()
	stop()
	_ = g.Wait()

	fmt.Println(k.MemoryReport())
	fmt.Print(k.Sched.JobsReport())
	return nil
}

// runInitWorkload spawns the init process and drives the scheduler
// until its threads finish: a filesystem round trip plus two sleepers
// exercising the job table.
func runInitWorkload(k *kernel.Kernel) error {
	proc, err := k.Sched.CreateProcess("init")
	if err != nil {
		return err
	}

	stackSize := uint64(bootConfig.Scheduler.StackSizeKb) * 1024

	var fsErr error
	fsTid, err := k.Sched.CreateThread(proc.PID, func() {
		fsErr = initFilesystem(k)
	}, stackSize, sched.SchedParams{})
	if err != nil {
		return err
	}
	k.Sched.AddForegroundJob("init", proc.PID, fsTid)

	for _, name := range []string{"sleeper-a", "sleeper-b"} {
		tid, err := k.Sched.CreateThread(proc.PID, func() {
			k.Sched.SleepMs(100)
		}, stackSize, sched.SchedParams{})
		if err != nil {
			return err
		}
		k.Sched.AddBackgroundJob(name+" &", proc.PID, tid)
	}

	k.Sched.Run()
	return fsErr
}

func initFilesystem(k *kernel.Kernel) error {
	if err := k.VFS.Mkdir("/etc", 0o755); err != nil {
		return err
	}
	if err := k.VFS.Create("/etc/motd", 0o644); err != nil {
		return err
	}

	fd, err := k.VFS.Open("/etc/motd", vfs.FlagWrite)
	if err != nil {
		return err
	}
	banner := fmt.Sprintf("%s booted (%s)\n", bootConfig.AppName, k.BootID)
	if _, err := k.VFS.Write(fd, []byte(banner)); err != nil {
		return err
	}
	if err := k.VFS.Close(fd); err != nil {
		return err
	}

	entries, err := k.VFS.ListDirectory("/")
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "f"
		if e.Type == vfs.Directory {
			kind = "d"
		}
		fmt.Printf("  [%s] %s %d bytes\n", kind, e.Name, e.Size)
	}

	stats, err := k.VFS.Statfs("/")
	if err != nil {
		return err
	}
	fmt.Printf("tinyfs: %d/%d blocks free\n", stats.FreeBlocks, stats.TotalBlocks)
	return nil
}
