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

package cfg

import "fmt"

// ValidateConfig rejects configurations the kernel cannot boot with.
func ValidateConfig(c *Config) error {
	if c.Memory.SizeMb < 1 {
		return fmt.Errorf("memory.size-mb must be at least 1, got %d", c.Memory.SizeMb)
	}
	if c.Memory.SizeMb > 4096 {
		return fmt.Errorf("memory.size-mb must be at most 4096, got %d", c.Memory.SizeMb)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.FileSystem.RamDiskKb < 64 {
		return fmt.Errorf("file-system.ram-disk-kb must be at least 64, got %d", c.FileSystem.RamDiskKb)
	}

	if c.Scheduler.StackSizeKb < 4 {
		return fmt.Errorf("scheduler.stack-size-kb must be at least 4, got %d", c.Scheduler.StackSizeKb)
	}
	if c.Scheduler.TickMs < 1 {
		return fmt.Errorf("scheduler.tick-ms must be at least 1, got %d", c.Scheduler.TickMs)
	}

	if !c.Network.Dhcp {
		if c.Network.Ip.IsZero() || c.Network.Netmask.IsZero() {
			return fmt.Errorf("network.ip and network.netmask are required when dhcp is off")
		}
	}
	return nil
}
