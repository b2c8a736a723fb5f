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

// Package ethtx holds the scalar wire types shared by the TxStore,
// TransactionManager and AdmissionPipeline: addresses, hashes and
// hex-encoded byte strings, each normalized to a canonical lower-case
// 0x-prefixed form so map keys and equality checks are safe across
// a request's lifetime without repeated case-folding at every call site.
package ethtx

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Address is a 20-byte Ethereum account address, stored canonically as
// a lower-case 0x-prefixed hex string.
type Address string

// ParseAddress normalizes any-case 0x-prefixed (or bare) hex into an Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 40 {
		return "", fmt.Errorf("invalid address length: %q", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid address hex: %q", s)
	}
	return Address("0x" + strings.ToLower(s)), nil
}

// MustParseAddress panics on invalid input; only for constants/tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }

// Equal compares two addresses case-insensitively (both should already be
// canonical, but callers handling raw RPC/wire input should not assume so).
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

// zeroAddress is the all-zero 20-byte address Ethereum contracts use to mean
// "unset", distinct from the empty string this package also treats as unset.
const zeroAddress = Address("0x0000000000000000000000000000000000000000")

func (a Address) IsZero() bool { return a == "" || a == zeroAddress }

// Bytes decodes the 20 raw address bytes.
func (a Address) Bytes() []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(string(a), "0x"))
	return b
}

func (a Address) Value() (driver.Value, error) { return string(a), nil }

func (a *Address) Scan(v interface{}) error {
	s, ok := v.(string)
	if !ok {
		if b, ok := v.([]byte); ok {
			s = string(b)
		} else {
			return fmt.Errorf("unsupported Scan type for Address: %T", v)
		}
	}
	*a = Address(s)
	return nil
}

// Hash is a 32-byte hex hash (transaction hash, block hash), canonical
// lower-case 0x-prefixed.
type Hash string

func ParseHash(s string) (Hash, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return "", fmt.Errorf("invalid hash length: %q", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid hash hex: %q", s)
	}
	return Hash("0x" + strings.ToLower(s)), nil
}

func (h Hash) String() string { return string(h) }
func (h Hash) IsZero() bool   { return h == "" }

// Bytes decodes the 32 raw hash bytes.
func (h Hash) Bytes() []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(string(h), "0x"))
	return b
}

// HexBytes is arbitrary ABI-encoded call data, canonical lower-case
// 0x-prefixed (empty data is represented as "0x").
type HexBytes string

func HexBytesFromBytes(b []byte) HexBytes {
	return HexBytes("0x" + hex.EncodeToString(b))
}

func (d HexBytes) Bytes() []byte {
	b, _ := hex.DecodeString(strings.TrimPrefix(string(d), "0x"))
	return b
}

func (d HexBytes) String() string { return string(d) }

// BigIntToString renders a *big.Int as a decimal string, "0" for nil -
// the canonical representation used for gasPrice/value/balance columns.
func BigIntToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ParseBigInt parses a decimal string into a *big.Int, defaulting nil/"" to zero.
func ParseBigInt(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return i
}
