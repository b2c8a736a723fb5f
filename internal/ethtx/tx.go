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

package ethtx

import "math/big"

// ServerAction enumerates the kinds of transaction the relay ever submits
// under its own signers.
type ServerAction string

const (
	ActionRegisterServer   ServerAction = "REGISTER_SERVER"
	ActionAddWorker        ServerAction = "ADD_WORKER"
	ActionAuthorizeHub     ServerAction = "AUTHORIZE_HUB"
	ActionStake            ServerAction = "STAKE"
	ActionUnstake          ServerAction = "UNSTAKE"
	ActionRelayCall        ServerAction = "RELAY_CALL"
	ActionValueTransfer    ServerAction = "VALUE_TRANSFER"
	ActionDepositWithdrawal ServerAction = "DEPOSIT_WITHDRAWAL"
	ActionSetOwner         ServerAction = "SET_OWNER"
)

// SignerRole names the two roles a signer plays.
type SignerRole string

const (
	RoleManager SignerRole = "manager"
	RoleWorker  SignerRole = "worker"
)

// UnsignedTx is what TransactionManager.sendTransaction asks the KeyStore
// to sign: a fully resolved Ethereum transaction, nonce already allocated.
type UnsignedTx struct {
	ChainID  uint64
	Nonce    uint64
	To       *Address
	Value    *big.Int
	GasPrice *big.Int
	GasLimit uint64
	Data     HexBytes
}
