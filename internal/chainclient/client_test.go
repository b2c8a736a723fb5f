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

package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/hubabi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer is a minimal stand-in for an Ethereum JSON-RPC node: handler
// maps a method name to a result-producing function.
func rpcServer(t *testing.T, handlers map[string]func(params []interface{}) interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		h, ok := handlers[req.Method]
		if !ok {
			t.Fatalf("unexpected JSON-RPC method %q", req.Method)
		}
		result := h(req.Params)
		resp := rpcResponse{ID: req.ID}
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		resp.Result = raw
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestClient(t *testing.T, url string) chain.Access {
	c, err := New(context.Background(), &Config{URL: url})
	require.NoError(t, err)
	return c
}

func TestGetBlockNumber(t *testing.T) {
	srv := rpcServer(t, map[string]func([]interface{}) interface{}{
		"eth_blockNumber": func(params []interface{}) interface{} { return "0x2a" },
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	n, err := c.GetBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
}

func TestGetGasPriceAndChainID(t *testing.T) {
	srv := rpcServer(t, map[string]func([]interface{}) interface{}{
		"eth_gasPrice": func(params []interface{}) interface{} { return "0x3b9aca00" },
		"eth_chainId":  func(params []interface{}) interface{} { return "0x1" },
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	price, err := c.GetGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000000000", price.String())

	chainID, err := c.GetChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), chainID)
}

func TestCallViewMethodRoundTrips(t *testing.T) {
	to := ethtx.MustParseAddress("0x1111111111111111111111111111111111111111")
	srv := rpcServer(t, map[string]func([]interface{}) interface{}{
		"eth_call": func(params []interface{}) interface{} {
			req, ok := params[0].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, to.String(), req["to"])
			return "0x000000000000000000000000000000000000000000000000000000000000002a"
		},
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.CallViewMethod(context.Background(), chain.CallRequest{To: to, Data: hubabi.Call("balanceOf(address)", hubabi.EncodeAddress(to))})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), hubabi.DecodeUint256(result).Uint64())
}

func TestGetPastEventsForHubPaginatesByLogBlockRange(t *testing.T) {
	var seenRanges [][2]uint64
	srv := rpcServer(t, map[string]func([]interface{}) interface{}{
		"eth_getLogs": func(params []interface{}) interface{} {
			filter, ok := params[0].(map[string]interface{})
			require.True(t, ok)
			from := hexToUint64(filter["fromBlock"].(string))
			to := hexToUint64(filter["toBlock"].(string))
			seenRanges = append(seenRanges, [2]uint64{from, to})
			return []rpcLog{
				{
					Address:     "0x1111111111111111111111111111111111111111",
					Topics:      []string{hubabi.TopicStakeAdded},
					Data:        "0x00000000000000000000000000000000000000000000000000000000000000c8",
					BlockNumber: fmt.Sprintf("0x%x", from),
					TxHash:      "0x" + strings.Repeat("0", 62) + "11",
				},
			}
		},
	})
	defer srv.Close()

	c, err := New(context.Background(), &Config{URL: srv.URL, LogBlockRange: intPtr(10)})
	require.NoError(t, err)

	events, err := c.GetPastEventsForHub(context.Background(), ethtx.MustParseAddress("0x1111111111111111111111111111111111111111"), nil, 0, 25)
	require.NoError(t, err)

	require.Len(t, seenRanges, 3, "26 blocks over a window of 10 must page into 3 requests")
	assert.Equal(t, [2]uint64{0, 9}, seenRanges[0])
	assert.Equal(t, [2]uint64{10, 19}, seenRanges[1])
	assert.Equal(t, [2]uint64{20, 25}, seenRanges[2])

	require.Len(t, events, 3)
	assert.Equal(t, "StakeAdded", events[0].Name)
	assert.Equal(t, uint64(200), events[0].Args["stake"].(interface{ Uint64() uint64 }).Uint64())
}

func TestGetPastEventsForHubFiltersByManagerTopic(t *testing.T) {
	hub := ethtx.MustParseAddress("0x1111111111111111111111111111111111111111")
	wantedManager := ethtx.MustParseAddress("0x2222222222222222222222222222222222222222")
	otherManager := ethtx.MustParseAddress("0x3333333333333333333333333333333333333333")
	wantedTopic := ethtx.HexBytesFromBytes(hubabi.EncodeAddress(wantedManager)).String()
	otherTopic := ethtx.HexBytesFromBytes(hubabi.EncodeAddress(otherManager)).String()

	var sentFilter map[string]interface{}
	srv := rpcServer(t, map[string]func([]interface{}) interface{}{
		"eth_getLogs": func(params []interface{}) interface{} {
			sentFilter = params[0].(map[string]interface{})
			// A real node would already scope this to wantedManager via the
			// topics filter; this stub deliberately returns a mismatched
			// log too, to exercise the client's own defense-in-depth check.
			return []rpcLog{
				{
					Address:     hub.String(),
					Topics:      []string{hubabi.TopicStakeAdded, wantedTopic},
					Data:        "0x00000000000000000000000000000000000000000000000000000000000000c8",
					BlockNumber: "0x1",
					TxHash:      "0x" + strings.Repeat("0", 62) + "11",
				},
				{
					Address:     hub.String(),
					Topics:      []string{hubabi.TopicStakeAdded, otherTopic},
					Data:        "0x0000000000000000000000000000000000000000000000000000000003e8",
					BlockNumber: "0x2",
					TxHash:      "0x" + strings.Repeat("0", 62) + "12",
				},
			}
		},
	})
	defer srv.Close()

	c, err := New(context.Background(), &Config{URL: srv.URL, LogBlockRange: intPtr(1000)})
	require.NoError(t, err)

	events, err := c.GetPastEventsForHub(context.Background(), hub, []string{wantedManager.String()}, 0, 10)
	require.NoError(t, err)

	require.NotNil(t, sentFilter["topics"])
	topics, ok := sentFilter["topics"].([]interface{})
	require.True(t, ok)
	require.Len(t, topics, 2)
	assert.Nil(t, topics[0])
	assert.Equal(t, []interface{}{wantedTopic}, topics[1])

	require.Len(t, events, 1, "the event for a non-matching manager must be excluded even if the stub node returned it")
	assert.Equal(t, "StakeAdded", events[0].Name)
	assert.Equal(t, wantedManager, events[0].Subject)
	assert.Equal(t, uint64(200), events[0].Args["stake"].(interface{ Uint64() uint64 }).Uint64())
}

func intPtr(v int) *int { return &v }
