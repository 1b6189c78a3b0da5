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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mqestical/amqos/clock"
	"github.com/mqestical/amqos/internal/kernel"
	"github.com/mqestical/amqos/internal/logger"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch URL",
	Short: "Boot the network stack and perform an HTTP GET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(args[0])
	},
}

func runFetch(url string) error {
	k, err := kernel.New(&bootConfig, clock.RealClock{}, nil)
	if err != nil {
		return err
	}
	if err := k.Boot(); err != nil {
		return err
	}

	if bootConfig.Network.Dhcp {
		if err := k.RunDHCP(); err != nil {
			return fmt.Errorf("dhcp failed (%w); run with --ip/--netmask or fix the network", err)
		}
	}

	resp, err := k.Net.HTTPGet(url)
	if err != nil {
		return err
	}

	logger.Infof("fetch: status %d, %d header bytes, %d body bytes",
		resp.StatusCode(), len(resp.Headers), len(resp.Body))
	if resp.Truncated {
		logger.Warnf("fetch: response truncated at receive buffer limit")
	}

	if _, err := os.Stdout.Write(resp.Body); err != nil {
		return err
	}
	return nil
}
