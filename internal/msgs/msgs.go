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

// Package msgs registers every error and log message the relay raises
// under a stable code, so a validation failure, a transient RPC error
// and an integrity violation are never indistinguishable bare strings.
package msgs

import (
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

var ffe = i18n.FFE

var (
	// Admission pipeline validation failures
	MsgWrongHub             = ffe(language.AmericanEnglish, "RLY0001", "Wrong hub address: request specifies %s, server is configured for %s")
	MsgWrongWorker          = ffe(language.AmericanEnglish, "RLY0002", "Wrong relay worker address: request specifies %s, server worker is %s")
	MsgGasPriceTooLow       = ffe(language.AmericanEnglish, "RLY0003", "Gas price too low: request specifies %s, current relay gas price is %s")
	MsgRelayFeeTooLow       = ffe(language.AmericanEnglish, "RLY0004", "Relay fee too low: pctRelayFee=%s baseRelayFee=%s required pctRelayFee=%s baseRelayFee=%s")
	MsgNonceTooHigh         = ffe(language.AmericanEnglish, "RLY0005", "Transaction nonce %d exceeds requested relayMaxNonce %d")
	MsgAcceptanceBudgetHigh = ffe(language.AmericanEnglish, "RLY0006", "Paymaster acceptance budget %s exceeds configured maximum %s")
	MsgPaymasterBalanceLow  = ffe(language.AmericanEnglish, "RLY0007", "Paymaster balance too low: requires %s, has %s")
	MsgPaymasterRejected    = ffe(language.AmericanEnglish, "RLY0008", "Paymaster rejected the relay call: %s")
	MsgNotReady             = ffe(language.AmericanEnglish, "RLY0009", "Relay server is not ready")
	MsgInvalidRequest       = ffe(language.AmericanEnglish, "RLY0010", "Invalid relay request: %s")

	// TransactionManager
	MsgNoPendingTransaction = ffe(language.AmericanEnglish, "RLY0020", "No pending transaction found for signer %s")
	MsgBroadcastFailed      = ffe(language.AmericanEnglish, "RLY0021", "Failed to broadcast transaction for signer %s nonce %d: %s")
	MsgEstimateGasReverted  = ffe(language.AmericanEnglish, "RLY0022", "Gas estimate for %s reverted: %s")
	MsgGasPriceZero         = ffe(language.AmericanEnglish, "RLY0023", "Network gas price resolved to zero")

	// RegistrationManager
	MsgForeignOwner          = ffe(language.AmericanEnglish, "RLY0030", "OwnerSet event names unexpected owner %s, expected %s: entering terminal misconfigured state")
	MsgStakeUnlocked         = ffe(language.AmericanEnglish, "RLY0031", "StakeUnlocked observed on-chain for manager %s: entering terminal de-ready state")
	MsgUnexpectedEvent       = ffe(language.AmericanEnglish, "RLY0032", "Unexpected event %s received while in state %s")
	MsgRegistrationInitFailed = ffe(language.AmericanEnglish, "RLY0033", "Failed to initialize registration state: %s")
	MsgBalanceRefreshFailed   = ffe(language.AmericanEnglish, "RLY0034", "Failed to refresh balance for %s: %s")

	// TxStore
	MsgTxStoreOpenFailed = ffe(language.AmericanEnglish, "RLY0040", "Failed to open transaction store at %s: %s")
	MsgTxStorePutFailed  = ffe(language.AmericanEnglish, "RLY0041", "Failed to persist transaction for signer %s nonce %d: %s")
	MsgPruneGapDetected  = ffe(language.AmericanEnglish, "RLY0042", "Refusing to prune signer %s past nonce %d: an earlier nonce is still unconfirmed")

	// ReconciliationLoop
	MsgBalanceInsufficient = ffe(language.AmericanEnglish, "RLY0050", "%s balance insufficient: requires %s, has %s")
	MsgFundingNeeded       = ffe(language.AmericanEnglish, "RLY0051", "Worker %s needs funding: requires %s more than manager can currently spare")

	// KeyStore / integrity
	MsgKeyStoreBadPath   = ffe(language.AmericanEnglish, "RLY0060", "Key store path is invalid: %s")
	MsgKeyNotFound       = ffe(language.AmericanEnglish, "RLY0061", "No key material found for signer %s")
	MsgHubNotDeployed    = ffe(language.AmericanEnglish, "RLY0062", "Relay hub contract not found at %s")

	// Config / lifecycle
	MsgConfigInvalid    = ffe(language.AmericanEnglish, "RLY0070", "Invalid configuration: %s")
	MsgContextCanceled  = ffe(language.AmericanEnglish, "RLY0071", "Context canceled")
)
