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

package requirement

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSatisfiedTracksCurrentVsRequired(t *testing.T) {
	ctx := context.Background()
	r := New("worker balance", big.NewInt(100))
	assert.False(t, r.IsSatisfied())

	r.SetCurrent(ctx, big.NewInt(50))
	assert.False(t, r.IsSatisfied())

	r.SetCurrent(ctx, big.NewInt(100))
	assert.True(t, r.IsSatisfied())

	r.SetCurrent(ctx, big.NewInt(200))
	assert.True(t, r.IsSatisfied())

	r.SetCurrent(ctx, big.NewInt(99))
	assert.False(t, r.IsSatisfied())
}
