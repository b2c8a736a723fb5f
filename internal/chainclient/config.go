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

// Package chainclient is the default concrete ChainAccess implementation:
// a JSON-RPC transport over go-resty talking to any Ethereum-compatible
// node, plus an in-memory Fake used by engine tests.
// Grounded on the teacher's toolkit/go/go.mod dependency on
// github.com/go-resty/resty/v2, which the toolkit pulls in for its own
// outbound HTTP/JSON-RPC needs.
package chainclient

import "github.com/kaleido-io/gsnrelay/internal/confutil"

// Config points the JSON-RPC client at a node.
type Config struct {
	URL            string  `yaml:"url"`
	RequestTimeout *string `yaml:"requestTimeout"`
	LogBlockRange  *int    `yaml:"logBlockRange"`
}

var DefaultConfig = &Config{
	RequestTimeout: confutil.P("30s"),
	LogBlockRange:  confutil.P(2000),
}
