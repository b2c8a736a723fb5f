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

package hubabi

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// topicHash returns the full 32-byte Keccak256 hash of an event signature
// as a lower-case 0x-prefixed string - an event's topic0, as opposed to
// Selector's 4-byte function selector.
func topicHash(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// Event topics the reconciliation engine watches for when scanning past
// blocks: stake manager authorization/unauthorization and stake lifecycle
// events, the relay hub's owner and worker-registration events, and the
// hub's paymaster-rejection event.
var (
	TopicHubAuthorized                 = topicHash("HubAuthorized(address,address)")
	TopicHubUnauthorized               = topicHash("HubUnauthorized(address,address,uint256)")
	TopicRelayWorkersAdded             = topicHash("RelayWorkersAdded(address,address[],uint256)")
	TopicStakeAdded                    = topicHash("StakeAdded(address,address,uint256,uint256)")
	TopicStakeUnlocked                 = topicHash("StakeUnlocked(address,address,uint256)")
	TopicStakeWithdrawn                = topicHash("StakeWithdrawn(address,address,uint256)")
	TopicOwnerSet                      = topicHash("OwnerSet(address,address)")
	TopicRelayServerRegistered         = topicHash("RelayServerRegistered(address,uint256,uint256,string)")
	TopicTransactionRejectedByPaymaster = topicHash("TransactionRejectedByPaymaster(address,address,uint256,bytes)")
)
