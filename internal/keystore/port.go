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

// Package keystore declares the KeyStore port and a filesystem-backed
// default implementation adapted from the teacher's keystorev3-wallet-file
// signing module.
package keystore

import (
	"context"

	"github.com/kaleido-io/gsnrelay/internal/ethtx"
)

// KeyStore is the custody and signing port: it owns private key material
// for the manager and worker signers and is the only thing that ever
// sees a raw key.
type KeyStore interface {
	// GetAddress resolves a 0-based signer index (0=manager, 1=worker, ...)
	// to its Ethereum address, creating key material on first use.
	GetAddress(ctx context.Context, index int) (ethtx.Address, error)
	// Sign produces the signed raw transaction bytes and its hash for tx,
	// under the key owned by addr.
	Sign(ctx context.Context, addr ethtx.Address, tx *ethtx.UnsignedTx) (raw []byte, hash ethtx.Hash, err error)
}
