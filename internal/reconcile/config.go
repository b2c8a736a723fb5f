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

package reconcile

import "github.com/kaleido-io/gsnrelay/internal/confutil"

// Config is the cadence, balance-target and alert-delay configuration
// consumed by the ReconciliationLoop.
type Config struct {
	// Cadence
	CheckIntervalMS           *int    `yaml:"checkIntervalMS"`
	ReadyTimeoutMS            *int    `yaml:"readyTimeoutMS"`
	RefreshStateTimeoutBlocks *int    `yaml:"refreshStateTimeoutBlocks"`
	SuccessfulRoundsForReady  *int    `yaml:"successfulRoundsForReady"`
	GasPriceFactor            *string `yaml:"gasPriceFactor"`

	// Balances
	ManagerTargetBalance    *string `yaml:"managerTargetBalance"`
	MinHubWithdrawalBalance *string `yaml:"minHubWithdrawalBalance"`
	WorkerMinBalance        *string `yaml:"workerMinBalance"`
	WorkerTargetBalance     *string `yaml:"workerTargetBalance"`

	// Alert
	AlertedBlockDelay *int `yaml:"alertedBlockDelay"`
	MinAlertedDelayMS *int `yaml:"minAlertedDelayMS"`
	MaxAlertedDelayMS *int `yaml:"maxAlertedDelayMS"`
}

var DefaultConfig = &Config{
	CheckIntervalMS:           confutil.P(5000),
	ReadyTimeoutMS:            confutil.P(30000),
	RefreshStateTimeoutBlocks: confutil.P(10),
	SuccessfulRoundsForReady:  confutil.P(3),
	GasPriceFactor:            confutil.P("1.0"),

	ManagerTargetBalance:    confutil.P("200000000000000000"), // 0.2 ETH
	MinHubWithdrawalBalance: confutil.P("10000000000000000"),  // 0.01 ETH
	WorkerMinBalance:        confutil.P("50000000000000000"),  // 0.05 ETH
	WorkerTargetBalance:     confutil.P("100000000000000000"), // 0.1 ETH

	AlertedBlockDelay: confutil.P(20),
	MinAlertedDelayMS: confutil.P(1000),
	MaxAlertedDelayMS: confutil.P(10000),
}
