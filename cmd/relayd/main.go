/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Command relayd is the relay server binary: it loads configuration via
// viper (YAML file plus RELAYD_-prefixed environment overrides), builds
// the server facade, and runs it until an interrupt signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kaleido-io/gsnrelay/internal/server"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "GSN-style meta-transaction relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "./relayd.yaml", "path to the relay server config file")
	return cmd
}

// envOverridable lists the top-level settings most operators need to flip
// per-deployment (listen address, hub/stake manager addresses, persistence
// path, devMode) without editing the YAML file - e.g. a Kubernetes
// deployment wiring RELAYD_LISTENADDR from a Service spec.
var envOverridable = []string{
	"listenAddr", "relayHubAddress", "stakeManagerAddress", "txStorePath", "devMode",
}

func loadConfig(configFile string) (*server.Config, error) {
	conf := *server.DefaultConfig
	raw, err := os.ReadFile(configFile)
	if err == nil {
		if uerr := yaml.Unmarshal(raw, &conf); uerr != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configFile, uerr)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("RELAYD")
	v.AutomaticEnv()
	for _, key := range envOverridable {
		_ = v.BindEnv(key)
	}
	if v.IsSet("listenAddr") {
		conf.ListenAddr = v.GetString("listenAddr")
	}
	if v.IsSet("relayHubAddress") {
		conf.RelayHubAddress = v.GetString("relayHubAddress")
	}
	if v.IsSet("stakeManagerAddress") {
		conf.StakeManagerAddress = v.GetString("stakeManagerAddress")
	}
	if v.IsSet("txStorePath") {
		conf.TxStorePath = v.GetString("txStorePath")
	}
	if v.IsSet("devMode") {
		conf.DevMode = v.GetBool("devMode")
	}

	conf.Version = version
	return &conf, nil
}

func run(ctx context.Context, configFile string) error {
	conf, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	s, err := server.New(ctx, conf)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	return s.Stop(ctx)
}
