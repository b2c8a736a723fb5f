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

package txmgr

import (
	"sync"

	"github.com/kaleido-io/gsnrelay/internal/ethtx"
)

// signerLocks hands out one *sync.Mutex per signer address, protecting the
// {allocate nonce -> sign -> broadcast -> persist} critical section of
// spec.md §5, and shared with boost operations so a boost can never race
// a fresh submission for the same signer. Grounded on the teacher's single
// InFlightOrchestratorMux guarding its per-address orchestrator map in
// transaction_manager.go, generalized here to one lock per signer instead
// of one lock over the whole map, since spec.md §5 asks for per-signer
// (not global) serialization.
type signerLocks struct {
	mux   sync.Mutex
	locks map[ethtx.Address]*sync.Mutex
}

func newSignerLocks() *signerLocks {
	return &signerLocks{locks: map[ethtx.Address]*sync.Mutex{}}
}

func (s *signerLocks) lockFor(addr ethtx.Address) *sync.Mutex {
	s.mux.Lock()
	defer s.mux.Unlock()
	l, ok := s.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		s.locks[addr] = l
	}
	return l
}
