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

package txmgr

import (
	"github.com/kaleido-io/gsnrelay/internal/confutil"
)

// Config is the gas pricing and confirmation cadence consumed directly
// by the TransactionManager.
type Config struct {
	MaxGasPrice               *string `yaml:"maxGasPrice"`
	RetryGasPriceFactor       *string `yaml:"retryGasPriceFactor"`
	PendingTransactionTimeout *int    `yaml:"pendingTransactionTimeout"` // blocks
	ConfirmationsNeeded       *int    `yaml:"confirmationsNeeded"`
	EstimateGasMarginPercent  *int    `yaml:"estimateGasMarginPercent"`
}

var DefaultConfig = &Config{
	MaxGasPrice:               confutil.P("500000000000"), // 500 gwei
	RetryGasPriceFactor:       confutil.P("1.3"),
	PendingTransactionTimeout: confutil.P(30),
	ConfirmationsNeeded:       confutil.P(12),
	EstimateGasMarginPercent:  confutil.P(30),
}
