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

package admission

import "github.com/kaleido-io/gsnrelay/internal/confutil"

// Config is the fee/budget economics and trusted-paymaster allowlist
// consumed by the AdmissionPipeline.
type Config struct {
	TrustedPaymasters    []string `yaml:"trustedPaymasters"`
	PctRelayFee          *string  `yaml:"pctRelayFee"`
	BaseRelayFee         *string  `yaml:"baseRelayFee"`
	MaxAcceptanceBudget  *string  `yaml:"maxAcceptanceBudget"`
	PaymasterCacheTTLSec *int     `yaml:"paymasterCacheTTLSec"`
}

var DefaultConfig = &Config{
	PctRelayFee:          confutil.P("10"),
	BaseRelayFee:         confutil.P("0"),
	MaxAcceptanceBudget:  confutil.P("300000"),
	PaymasterCacheTTLSec: confutil.P(300),
}

// GasReserve is the fixed gas the relay reserves for its own transaction
// wrapper overhead - a constant the protocol fixes independent of any
// single deployment's config.
const GasReserve = 100000
