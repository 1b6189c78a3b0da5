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

// Package cfg defines the boot configuration and its flag bindings.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Memory MemoryConfig `yaml:"memory"`

	Logging LoggingConfig `yaml:"logging"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	Network NetworkConfig `yaml:"network"`
}

type MemoryConfig struct {
	// SizeMb is the size of simulated physical memory.
	SizeMb int `yaml:"size-mb"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`

	Format string `yaml:"format"`

	FilePath string `yaml:"file-path"`

	MaxFileSizeMb int `yaml:"max-file-size-mb"`

	MaxBackups int `yaml:"max-backups"`
}

type FileSystemConfig struct {
	// RamDiskKb is the capacity of the RAM disk tinyfs mounts on.
	RamDiskKb int `yaml:"ram-disk-kb"`
}

type SchedulerConfig struct {
	StackSizeKb int `yaml:"stack-size-kb"`

	TickMs int `yaml:"tick-ms"`
}

type NetworkConfig struct {
	// Dhcp selects automatic configuration at boot.
	Dhcp bool `yaml:"dhcp"`

	Ip IPAddr `yaml:"ip"`

	Netmask IPAddr `yaml:"netmask"`

	Gateway IPAddr `yaml:"gateway"`

	DnsServer IPAddr `yaml:"dns-server"`
}

func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "amqos", "Name reported by the kernel banner.")

	err = v.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.IntP("memory-size-mb", "", 64, "Simulated physical memory size in MiB.")

	err = v.BindPFlag("memory.size-mb", flagSet.Lookup("memory-size-mb"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR or OFF.")

	err = v.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Log output format: text or json.")

	err = v.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Write logs to this file instead of stderr.")

	err = v.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-size-mb", "", 512, "Maximum size of each rotated log file.")

	err = v.BindPFlag("logging.max-file-size-mb", flagSet.Lookup("log-rotate-size-mb"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backups", "", 10, "Rotated log files to keep.")

	err = v.BindPFlag("logging.max-backups", flagSet.Lookup("log-rotate-backups"))
	if err != nil {
		return err
	}

	flagSet.IntP("ram-disk-kb", "", 512, "RAM disk capacity in KiB.")

	err = v.BindPFlag("file-system.ram-disk-kb", flagSet.Lookup("ram-disk-kb"))
	if err != nil {
		return err
	}

	flagSet.IntP("stack-size-kb", "", 16, "Default thread stack size in KiB.")

	err = v.BindPFlag("scheduler.stack-size-kb", flagSet.Lookup("stack-size-kb"))
	if err != nil {
		return err
	}

	flagSet.IntP("tick-ms", "", 1, "Timer tick period in milliseconds.")

	err = v.BindPFlag("scheduler.tick-ms", flagSet.Lookup("tick-ms"))
	if err != nil {
		return err
	}

	flagSet.BoolP("dhcp", "", true, "Configure the interface with DHCP at boot.")

	err = v.BindPFlag("network.dhcp", flagSet.Lookup("dhcp"))
	if err != nil {
		return err
	}

	flagSet.StringP("ip", "", "", "Static interface address (used with --dhcp=false).")

	err = v.BindPFlag("network.ip", flagSet.Lookup("ip"))
	if err != nil {
		return err
	}

	flagSet.StringP("netmask", "", "", "Static netmask.")

	err = v.BindPFlag("network.netmask", flagSet.Lookup("netmask"))
	if err != nil {
		return err
	}

	flagSet.StringP("gateway", "", "", "Static default gateway.")

	err = v.BindPFlag("network.gateway", flagSet.Lookup("gateway"))
	if err != nil {
		return err
	}

	flagSet.StringP("dns-server", "", "", "DNS server address.")

	err = v.BindPFlag("network.dns-server", flagSet.Lookup("dns-server"))
	if err != nil {
		return err
	}

	return nil
}
