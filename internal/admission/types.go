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

import (
	"math/big"

	"github.com/kaleido-io/gsnrelay/internal/ethtx"
)

// ForwardRequest is the user's signed meta-transaction, forwarded on-chain
// by the relay on the user's behalf.
type ForwardRequest struct {
	From       ethtx.Address  `json:"from"`
	To         ethtx.Address  `json:"to"`
	Value      *big.Int       `json:"value"`
	Gas        uint64         `json:"gas,string"`
	Nonce      uint64         `json:"nonce,string"`
	Data       ethtx.HexBytes `json:"data"`
	ValidUntil uint64         `json:"validUntil,string"`
}

// RelayData carries the economics and routing a paymaster/hub need to
// process the forwarded call.
type RelayData struct {
	GasPrice      *big.Int       `json:"gasPrice"`
	PctRelayFee   *big.Int       `json:"pctRelayFee"`
	BaseRelayFee  *big.Int       `json:"baseRelayFee"`
	RelayWorker   ethtx.Address  `json:"relayWorker"`
	Paymaster     ethtx.Address  `json:"paymaster"`
	PaymasterData ethtx.HexBytes `json:"paymasterData"`
	Forwarder     ethtx.Address  `json:"forwarder"`
	ClientID      string         `json:"clientId"`
}

// Metadata is the request envelope's routing/authorization fields.
type Metadata struct {
	RelayHubAddress ethtx.Address  `json:"relayHubAddress"`
	RelayMaxNonce   uint64         `json:"relayMaxNonce,string"`
	Signature       ethtx.HexBytes `json:"signature"`
	ApprovalData    ethtx.HexBytes `json:"approvalData"`
}

// RelayTransactionRequest is the POST /relay request body.
type RelayTransactionRequest struct {
	Request   ForwardRequest `json:"request"`
	RelayData RelayData      `json:"relayData"`
	Metadata  Metadata       `json:"metadata"`
}

// PingResponse is the GET /getaddr response body.
type PingResponse struct {
	RelayWorkerAddress  ethtx.Address `json:"relayWorkerAddress"`
	RelayManagerAddress ethtx.Address `json:"relayManagerAddress"`
	RelayHubAddress     ethtx.Address `json:"relayHubAddress"`
	MinGasPrice         string        `json:"minGasPrice"`
	MaxAcceptanceBudget string        `json:"maxAcceptanceBudget"`
	ChainID             uint64        `json:"chainId"`
	NetworkID           uint64        `json:"networkId"`
	Ready               bool          `json:"ready"`
	Version             string        `json:"version"`
}
