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
	"sync"
	"time"

	"github.com/kaleido-io/gsnrelay/internal/ethtx"
)

// gasLimits is a paymaster's getGasLimits() result.
type gasLimits struct {
	AcceptanceBudget *big.Int
	PreRelayedGas    *big.Int
	PostRelayedGas   *big.Int
}

type cacheEntry struct {
	limits    gasLimits
	trusted   bool
	fetchedAt time.Time
}

// paymasterCache caches getGasLimits() per paymaster address, so admission
// doesn't re-query a paymaster contract on every request. Entries for
// addresses in the trusted-paymaster allowlist never expire; everything
// else expires after ttl and is re-fetched on next use.
type paymasterCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	trusted map[ethtx.Address]bool
	entries map[ethtx.Address]*cacheEntry
}

func newPaymasterCache(ttl time.Duration, trustedAddrs []ethtx.Address) *paymasterCache {
	trusted := make(map[ethtx.Address]bool, len(trustedAddrs))
	for _, a := range trustedAddrs {
		trusted[a] = true
	}
	return &paymasterCache{
		ttl:     ttl,
		trusted: trusted,
		entries: make(map[ethtx.Address]*cacheEntry),
	}
}

func (c *paymasterCache) isTrusted(addr ethtx.Address) bool {
	return c.trusted[addr]
}

// get returns a cached, non-expired entry, or nil if a fresh query is needed.
func (c *paymasterCache) get(addr ethtx.Address) *gasLimits {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[addr]
	if !ok {
		return nil
	}
	if !e.trusted && time.Since(e.fetchedAt) > c.ttl {
		return nil
	}
	limits := e.limits
	return &limits
}

func (c *paymasterCache) put(addr ethtx.Address, limits gasLimits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[addr] = &cacheEntry{
		limits:    limits,
		trusted:   c.trusted[addr],
		fetchedAt: time.Now(),
	}
}
