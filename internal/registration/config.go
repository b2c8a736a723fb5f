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

package registration

import "github.com/kaleido-io/gsnrelay/internal/confutil"

// Config is the owner address, minimum balance and polling cadence
// consumed by the RegistrationManager.
type Config struct {
	OwnerAddress          string  `yaml:"ownerAddress"`
	ManagerMinBalance     *string `yaml:"managerMinBalance"`
	RegistrationBlockRate *int    `yaml:"registrationBlockRate"`
}

var DefaultConfig = &Config{
	ManagerMinBalance:     confutil.P("100000000000000000"), // 0.1 ETH
	RegistrationBlockRate: confutil.P(5000),
}
