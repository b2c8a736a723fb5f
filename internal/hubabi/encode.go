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

// Package hubabi is a small, deliberately minimal Solidity ABI encoder
// covering only the fixed-arity hub/stake-manager/paymaster methods the
// reconciliation engine and admission pipeline call. Full tuple/array ABI
// encoding (as needed for the GSN RelayRequest struct's nested fee/request
// data) is out of scope here - contract call encoding belongs to the
// external ChainAccess port, so callers of this package treat it as the
// thin convenience it is, not a general-purpose ABI library - a real
// deployment would lean on the ChainAccess implementation's own encoder
// (e.g. go-ethereum's accounts/abi) for anything richer than these fixed
// shapes.
package hubabi

import (
	"math/big"

	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"golang.org/x/crypto/sha3"
)

// Selector returns the 4-byte Keccak256 function selector for signature,
// e.g. "stakeForAddress(address,uint256)".
func Selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

func padLeft32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// EncodeAddress left-pads a to a 32-byte ABI word.
func EncodeAddress(a ethtx.Address) []byte {
	return padLeft32(a.Bytes())
}

// EncodeUint256 left-pads v to a 32-byte ABI word.
func EncodeUint256(v *big.Int) []byte {
	if v == nil {
		v = big.NewInt(0)
	}
	return padLeft32(v.Bytes())
}

// Call builds selector || concat(words) as HexBytes method call data.
func Call(signature string, words ...[]byte) ethtx.HexBytes {
	data := append([]byte{}, Selector(signature)...)
	for _, w := range words {
		data = append(data, w...)
	}
	return ethtx.HexBytesFromBytes(data)
}

// DecodeUint256 reads the first 32-byte word of data as an unsigned integer.
func DecodeUint256(data []byte) *big.Int {
	if len(data) < 32 {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(data[:32])
}

// DecodeAddress reads the first 32-byte word of data as a left-padded address.
func DecodeAddress(data []byte) ethtx.Address {
	if len(data) < 32 {
		return ""
	}
	addr, _ := ethtx.ParseAddress(ethtx.HexBytesFromBytes(data[12:32]).String())
	return addr
}
