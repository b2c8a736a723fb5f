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

// Package requirement implements AmountRequired, a monotonic threshold
// tracker: (description, required, current) with isSatisfied :=
// current >= required, logging exactly once per satisfied/unsatisfied
// transition rather than on every refresh.
package requirement

import (
	"context"
	"math/big"

	"github.com/kaleido-io/gsnrelay/pkg/log"
)

// AmountRequired tracks a named balance threshold.
type AmountRequired struct {
	Description string
	Required    *big.Int
	Current     *big.Int

	everObserved    bool
	previouslySatisfied bool
}

// New creates an AmountRequired for description against required, with
// current initialized to zero (unsatisfied until the first refresh).
func New(description string, required *big.Int) *AmountRequired {
	return &AmountRequired{
		Description: description,
		Required:    required,
		Current:     big.NewInt(0),
	}
}

// IsSatisfied reports whether Current >= Required.
func (a *AmountRequired) IsSatisfied() bool {
	return a.Current.Cmp(a.Required) >= 0
}

// SetCurrent updates Current to v, logging once if satisfaction changed
// since the last call (or, on the very first call, if v does not
// satisfy the requirement).
func (a *AmountRequired) SetCurrent(ctx context.Context, v *big.Int) {
	a.Current = v
	nowSatisfied := a.IsSatisfied()
	transitioned := !a.everObserved || nowSatisfied != a.previouslySatisfied
	if transitioned {
		if nowSatisfied {
			log.L(ctx).Infof("%s requirement satisfied: have %s, need %s", a.Description, a.Current, a.Required)
		} else {
			log.L(ctx).Warnf("%s requirement not satisfied: have %s, need %s", a.Description, a.Current, a.Required)
		}
	}
	a.previouslySatisfied = nowSatisfied
	a.everObserved = true
}
