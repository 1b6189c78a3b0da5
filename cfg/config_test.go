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

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseConfig(t *testing.T, args []string) Config {
	t.Helper()

	v := viper.New()
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(v, flagSet))
	require.NoError(t, flagSet.Parse(args))

	var c Config
	require.NoError(t, v.Unmarshal(&c, DecodeOptions()...))
	return c
}

func TestDefaults(t *testing.T) {
	c := parseConfig(t, nil)

	assert.Equal(t, "amqos", c.AppName)
	assert.Equal(t, 64, c.Memory.SizeMb)
	assert.Equal(t, InfoLevel, c.Logging.Severity)
	assert.Equal(t, "text", c.Logging.Format)
	assert.Equal(t, 512, c.FileSystem.RamDiskKb)
	assert.Equal(t, 16, c.Scheduler.StackSizeKb)
	assert.Equal(t, 1, c.Scheduler.TickMs)
	assert.True(t, c.Network.Dhcp)
	assert.True(t, c.Network.Ip.IsZero())

	assert.NoError(t, ValidateConfig(&c))
}

func TestFlagOverrides(t *testing.T) {
	c := parseConfig(t, []string{
		"--memory-size-mb", "128",
		"--log-severity", "debug",
		"--dhcp=false",
		"--ip", "10.0.2.15",
		"--netmask", "255.255.255.0",
		"--gateway", "10.0.2.2",
		"--dns-server", "8.8.4.4",
	})

	assert.Equal(t, 128, c.Memory.SizeMb)
	assert.Equal(t, DebugLevel, c.Logging.Severity)
	assert.False(t, c.Network.Dhcp)
	assert.Equal(t, IPAddr{10, 0, 2, 15}, c.Network.Ip)
	assert.Equal(t, IPAddr{255, 255, 255, 0}, c.Network.Netmask)
	assert.Equal(t, IPAddr{10, 0, 2, 2}, c.Network.Gateway)
	assert.Equal(t, IPAddr{8, 8, 4, 4}, c.Network.DnsServer)

	assert.NoError(t, ValidateConfig(&c))
}

func TestLogSeverityParsing(t *testing.T) {
	var l LogSeverity
	require.NoError(t, l.UnmarshalText([]byte("warning")))
	assert.Equal(t, WarningLevel, l)

	assert.Error(t, l.UnmarshalText([]byte("loud")))
}

func TestIPAddrParsing(t *testing.T) {
	var a IPAddr
	require.NoError(t, a.UnmarshalText([]byte("1.2.3.4")))
	assert.Equal(t, IPAddr{1, 2, 3, 4}, a)
	assert.Equal(t, "1.2.3.4", a.String())

	require.NoError(t, a.UnmarshalText(nil))
	assert.True(t, a.IsZero())

	assert.Error(t, a.UnmarshalText([]byte("1.2.3")))
	assert.Error(t, a.UnmarshalText([]byte("1.2.3.256")))
}

func TestValidateRejectsNonsense(t *testing.T) {
	c := parseConfig(t, nil)

	bad := c
	bad.Memory.SizeMb = 0
	assert.Error(t, ValidateConfig(&bad))

	bad = c
	bad.Logging.Format = "xml"
	assert.Error(t, ValidateConfig(&bad))

	bad = c
	bad.FileSystem.RamDiskKb = 1
	assert.Error(t, ValidateConfig(&bad))

	bad = c
	bad.Scheduler.TickMs = 0
	assert.Error(t, ValidateConfig(&bad))

	bad = c
	bad.Network.Dhcp = false
	assert.Error(t, ValidateConfig(&bad), "static config requires ip and netmask")
}
