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

// Package confutil collects the small helpers used to resolve optional
// pointer-typed config fields against package-level defaults.
package confutil

import (
	"math/big"
	"time"
)

// P returns a pointer to v, for building *T literal defaults inline.
func P[T any](v T) *T {
	return &v
}

// Int resolves a *int against a default.
func Int(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// IntMin resolves a *int against a default, then floors it at min.
func IntMin(v *int, min int, def int) int {
	r := Int(v, def)
	if r < min {
		return min
	}
	return r
}

// Duration resolves a *string duration against a default string, parsing both.
func Duration(v *string, def string) time.Duration {
	s := def
	if v != nil {
		s = *v
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}

// DurationMin resolves a *string duration against a default, then floors it at min.
func DurationMin(v *string, min time.Duration, def string) time.Duration {
	d := Duration(v, def)
	if d < min {
		return min
	}
	return d
}

// StringNotEmpty resolves a *string against a default, treating an empty
// string the same as nil.
func StringNotEmpty(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// BigIntOrNil parses a decimal string into a *big.Int, returning nil if v is nil or blank.
func BigIntOrNil(v *string) *big.Int {
	if v == nil || *v == "" {
		return nil
	}
	i, ok := new(big.Int).SetString(*v, 10)
	if !ok {
		return nil
	}
	return i
}

// BigIntMin resolves a *string decimal against a default decimal, then floors it at min.
func BigIntMin(v *string, min *big.Int, def string) *big.Int {
	i := BigIntOrNil(v)
	if i == nil {
		i = BigIntOrNil(&def)
	}
	if i == nil || i.Cmp(min) < 0 {
		return new(big.Int).Set(min)
	}
	return i
}
