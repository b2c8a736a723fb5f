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

// Package server is the relay server facade: it composes TxStore,
// TransactionManager, RegistrationManager, ReconciliationLoop and
// AdmissionPipeline, and exposes the ping/relay HTTP handlers plus
// process lifecycle. Grounded on the teacher's top-level engine
// composition in core/go/internal/components - a single struct wiring
// every subsystem together at construction time, handed read-only
// capabilities (loggers, config) rather than owning them.
package server

import (
	"github.com/kaleido-io/gsnrelay/internal/admission"
	"github.com/kaleido-io/gsnrelay/internal/chainclient"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/keystore"
	"github.com/kaleido-io/gsnrelay/internal/reconcile"
	"github.com/kaleido-io/gsnrelay/internal/registration"
	"github.com/kaleido-io/gsnrelay/internal/txmgr"
	"github.com/kaleido-io/gsnrelay/pkg/log"
)

// Config is the full configuration surface of the relay server,
// aggregating every component's own Config plus the fields only the
// facade needs (addresses, HTTP bind address, persistence path, devMode).
type Config struct {
	Chain      chainclient.Config       `yaml:"chain"`
	Keystore   keystore.FileSystemConfig `yaml:"keystore"`
	Log        log.Config               `yaml:"log"`
	Txmgr      txmgr.Config             `yaml:"txmgr"`
	Registration registration.Config    `yaml:"registration"`
	Reconcile  reconcile.Config         `yaml:"reconcile"`
	Admission  admission.Config         `yaml:"admission"`

	RelayHubAddress      string  `yaml:"relayHubAddress"`
	StakeManagerAddress  string  `yaml:"stakeManagerAddress"`
	StakeAmount          *string `yaml:"stakeAmount"`
	UnstakeDelaySeconds  *string `yaml:"unstakeDelaySeconds"`

	TxStorePath string `yaml:"txStorePath"`
	ListenAddr  string `yaml:"listenAddr"`
	DevMode     bool   `yaml:"devMode"`
	Version     string `yaml:"-"`
}

var DefaultConfig = &Config{
	TxStorePath: "./relay.db",
	ListenAddr:  "0.0.0.0:8090",
	StakeAmount: confutil.P("1000000000000000000"), // 1 ETH
	UnstakeDelaySeconds: confutil.P("86400"),        // 1 day
}
