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

// Package cmd is the CLI entry: flag binding, config loading, and the
// boot and fetch subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mqestical/amqos/cfg"
	"github.com/mqestical/amqos/internal/logger"
)

var (
	cfgFile    string
	bootConfig cfg.Config

	v       = viper.New()
	bindErr error
)

var rootCmd = &cobra.Command{
	Use:   "amqos",
	Short: "Run the AMQ kernel core on a simulated machine",
	Long: `amqos boots the AMQ kernel core in user space: physical memory is a
byte arena, the timer is a clock-driven tick source, and the network
card is a software device. The core itself - frame allocator, heap,
cooperative scheduler with jobs, VFS with tinyfs, and the network
stack up through HTTP - behaves as it does on the metal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func loadConfig() error {
	if bindErr != nil {
		return fmt.Errorf("binding flags: %w", bindErr)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", cfgFile, err)
		}
	}

	if err := v.Unmarshal(&bootConfig, cfg.DecodeOptions()...); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.ValidateConfig(&bootConfig); err != nil {
		return err
	}

	return logger.InitLogFile(logger.Config{
		Severity:      string(bootConfig.Logging.Severity),
		Format:        bootConfig.Logging.Format,
		FilePath:      bootConfig.Logging.FilePath,
		MaxFileSizeMB: bootConfig.Logging.MaxFileSizeMb,
		MaxBackups:    bootConfig.Logging.MaxBackups,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(v, rootCmd.PersistentFlags())
	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(fetchCmd)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "amqos: %v\n", err)
		os.Exit(1)
	}
}
