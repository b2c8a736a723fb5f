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
	"math/big"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/hubabi"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/pkg/log"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// client is the go-resty-backed JSON-RPC ChainAccess adapter.
type client struct {
	rc            *resty.Client
	idCounter     uint64
	logBlockRange uint64
}

// New builds a ChainAccess that speaks JSON-RPC to conf.URL.
func New(ctx context.Context, conf *Config) (chain.Access, error) {
	if conf.URL == "" {
		return nil, i18n.NewError(ctx, msgs.MsgConfigInvalid, "chain.url is required")
	}
	timeout := confutil.DurationMin(conf.RequestTimeout, 0, *DefaultConfig.RequestTimeout)
	rc := resty.New().
		SetBaseURL(conf.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &client{
		rc:            rc,
		logBlockRange: uint64(confutil.IntMin(conf.LogBlockRange, 1, *DefaultConfig.LogBlockRange)),
	}, nil
}

func (c *client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	req := &rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	var rpcResp rpcResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&rpcResp).
		Post("")
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgContextCanceled)
	}
	if resp.IsError() {
		return fmt.Errorf("JSON-RPC transport error calling %s: HTTP %d", method, resp.StatusCode())
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("JSON-RPC error calling %s: %d %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func hexToUint64(s string) uint64 {
	v, _ := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	return v
}

func hexToBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func toHexBlockTag(tag chain.BlockTag) string {
	switch tag {
	case chain.TagPending:
		return "pending"
	default:
		return "latest"
	}
}

func (c *client) GetBlockNumber(ctx context.Context) (uint64, error) {
	var hexNum string
	if err := c.call(ctx, "eth_blockNumber", nil, &hexNum); err != nil {
		return 0, err
	}
	return hexToUint64(hexNum), nil
}

type rpcBlock struct {
	Number    string `json:"number"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

func (c *client) GetBlock(ctx context.Context, tag chain.BlockTag) (*chain.Block, error) {
	var b rpcBlock
	if err := c.call(ctx, "eth_getBlockByNumber", []interface{}{toHexBlockTag(tag), false}, &b); err != nil {
		return nil, err
	}
	blockHash, _ := ethtx.ParseHash(b.Hash)
	return &chain.Block{
		Number:    hexToUint64(b.Number),
		Hash:      blockHash,
		Timestamp: int64(hexToUint64(b.Timestamp)),
	}, nil
}

func (c *client) GetBalance(ctx context.Context, addr ethtx.Address, tag chain.BlockTag) (*big.Int, error) {
	var hexBal string
	if err := c.call(ctx, "eth_getBalance", []interface{}{addr.String(), toHexBlockTag(tag)}, &hexBal); err != nil {
		return nil, err
	}
	return hexToBigInt(hexBal), nil
}

func (c *client) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var hexPrice string
	if err := c.call(ctx, "eth_gasPrice", nil, &hexPrice); err != nil {
		return nil, err
	}
	return hexToBigInt(hexPrice), nil
}

func (c *client) GetChainID(ctx context.Context) (uint64, error) {
	var hexID string
	if err := c.call(ctx, "eth_chainId", nil, &hexID); err != nil {
		return 0, err
	}
	return hexToUint64(hexID), nil
}

func (c *client) GetNetworkID(ctx context.Context) (uint64, error) {
	var idStr string
	if err := c.call(ctx, "net_version", nil, &idStr); err != nil {
		return 0, err
	}
	id, _ := strconv.ParseUint(idStr, 10, 64)
	return id, nil
}

func (c *client) GetCode(ctx context.Context, addr ethtx.Address) ([]byte, error) {
	var hexCode string
	if err := c.call(ctx, "eth_getCode", []interface{}{addr.String(), "latest"}, &hexCode); err != nil {
		return nil, err
	}
	return ethtx.HexBytes(hexCode).Bytes(), nil
}

func (c *client) GetTransactionCount(ctx context.Context, addr ethtx.Address, tag chain.BlockTag) (uint64, error) {
	var hexCount string
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{addr.String(), toHexBlockTag(tag)}, &hexCount); err != nil {
		return 0, err
	}
	return hexToUint64(hexCount), nil
}

// knownEventTopics maps the hub/stake-manager/paymaster event signatures
// the reconciliation engine reacts to, to the Name carried on
// chain.LogEvent - the only ABI decoding this client does is recognizing
// which of these fixed-shape events a log line is, plus the narrow
// per-event argument a caller actually reads (stake, owner,
// withdrawBlock). General log topic/argument decoding is out of scope
// for this package.
var knownEventTopics = map[string]string{
	hubabi.TopicHubAuthorized:               "HubAuthorized",
	hubabi.TopicHubUnauthorized:             "HubUnauthorized",
	hubabi.TopicRelayWorkersAdded:           "RelayWorkersAdded",
	hubabi.TopicStakeAdded:                  "StakeAdded",
	hubabi.TopicStakeUnlocked:               "StakeUnlocked",
	hubabi.TopicStakeWithdrawn:              "StakeWithdrawn",
	hubabi.TopicOwnerSet:                    "OwnerSet",
	hubabi.TopicRelayServerRegistered:       "RelayServerRegistered",
	hubabi.TopicTransactionRejectedByPaymaster: "TransactionRejectedByPaymaster",
}

type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
}

func decodeLogEvent(l rpcLog) chain.LogEvent {
	addr, _ := ethtx.ParseAddress(l.Address)
	txHash, _ := ethtx.ParseHash(l.TxHash)
	topics := make([]ethtx.Hash, 0, len(l.Topics))
	for _, t := range l.Topics {
		h, err := ethtx.ParseHash(t)
		if err == nil {
			topics = append(topics, h)
		}
	}
	name := "Unknown"
	if len(l.Topics) > 0 {
		if n, ok := knownEventTopics[strings.ToLower(l.Topics[0])]; ok {
			name = n
		}
	}
	// Every event this relay reacts to indexes its relayManager as
	// topics[1] - decoded into Subject so callers can tell their own
	// manager's events apart from another relay's on the same shared
	// hub/stake-manager contract.
	var subject ethtx.Address
	if len(topics) > 1 {
		subject = hubabi.DecodeAddress(topics[1].Bytes())
	}
	data := ethtx.HexBytes(l.Data).Bytes()
	args := map[string]interface{}{}
	switch name {
	case "StakeAdded":
		if len(data) >= 32 {
			args["stake"] = hubabi.DecodeUint256(data[0:32])
		}
	case "OwnerSet":
		if len(data) >= 32 {
			args["owner"] = hubabi.DecodeAddress(data[0:32])
		}
	case "StakeUnlocked":
		if len(data) >= 32 {
			args["withdrawBlock"] = hubabi.DecodeUint256(data[0:32]).Uint64()
		}
	}
	return chain.LogEvent{
		Name:        name,
		Address:     addr,
		BlockNumber: hexToUint64(l.BlockNumber),
		TxHash:      txHash,
		Topics:      topics,
		Data:        ethtx.HexBytes(l.Data),
		Args:        args,
		Subject:     subject,
	}
}

// parseTopicAddresses parses each raw address string in topics into an
// ethtx.Address, failing loudly on a malformed entry rather than silently
// dropping the filter.
func parseTopicAddresses(topics []string) ([]ethtx.Address, error) {
	addrs := make([]ethtx.Address, 0, len(topics))
	for _, t := range topics {
		a, err := ethtx.ParseAddress(t)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// GetPastEventsForHub paginates eth_getLogs in windows of logBlockRange
// blocks - most public RPC providers reject a single eth_getLogs call
// spanning more than a few thousand blocks. topics (the relayManager
// addresses the caller cares about) are placed into the filter's topics[1]
// position, the indexed slot every event this relay reacts to shares, per
// spec.md §6's getPastEventsForHub(topics, {fromBlock,toBlock}) port
// contract - the relayHub/stakeManager contracts are shared across many
// independent relay managers, so without this filter the engine would
// process other managers' events as its own.
func (c *client) GetPastEventsForHub(ctx context.Context, hub ethtx.Address, topics []string, fromBlock, toBlock uint64) ([]chain.LogEvent, error) {
	addrs, err := parseTopicAddresses(topics)
	if err != nil {
		return nil, err
	}
	var wanted map[ethtx.Address]bool
	var paddedTopics []string
	if len(addrs) > 0 {
		wanted = make(map[ethtx.Address]bool, len(addrs))
		paddedTopics = make([]string, 0, len(addrs))
		for _, a := range addrs {
			wanted[a] = true
			paddedTopics = append(paddedTopics, ethtx.HexBytesFromBytes(hubabi.EncodeAddress(a)).String())
		}
	}

	var out []chain.LogEvent
	for start := fromBlock; start <= toBlock; start += c.logBlockRange {
		end := start + c.logBlockRange - 1
		if end > toBlock {
			end = toBlock
		}
		filter := map[string]interface{}{
			"address":   hub.String(),
			"fromBlock": "0x" + strconv.FormatUint(start, 16),
			"toBlock":   "0x" + strconv.FormatUint(end, 16),
		}
		if len(paddedTopics) > 0 {
			// topics[0] (the event signature) is left unconstrained since
			// this client reacts to several distinct event signatures on
			// the same contract; topics[1] is the relayManager address
			// every one of them indexes.
			filter["topics"] = []interface{}{nil, paddedTopics}
		}
		var logs []rpcLog
		if err := c.call(ctx, "eth_getLogs", []interface{}{filter}, &logs); err != nil {
			return nil, err
		}
		for _, l := range logs {
			ev := decodeLogEvent(l)
			if wanted != nil && !wanted[ev.Subject] {
				// Defense in depth: don't trust a node that ignores (or
				// only loosely honors) the topics filter above to have
				// actually scoped results to this manager.
				continue
			}
			out = append(out, ev)
		}
		log.L(ctx).Tracef("Fetched %d logs for hub %s in [%d,%d]", len(logs), hub, start, end)
	}
	return out, nil
}

func (c *client) CallViewMethod(ctx context.Context, call chain.CallRequest) ([]byte, error) {
	params := map[string]interface{}{
		"to":   call.To.String(),
		"data": call.Data.String(),
	}
	if !call.From.IsZero() {
		params["from"] = call.From.String()
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		params["value"] = "0x" + call.Value.Text(16)
	}
	var hexResult string
	if err := c.call(ctx, "eth_call", []interface{}{params, "latest"}, &hexResult); err != nil {
		return nil, err
	}
	return ethtx.HexBytes(hexResult).Bytes(), nil
}

func (c *client) EstimateGas(ctx context.Context, call chain.CallRequest) (uint64, error) {
	params := map[string]interface{}{
		"to":   call.To.String(),
		"data": call.Data.String(),
	}
	if !call.From.IsZero() {
		params["from"] = call.From.String()
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		params["value"] = "0x" + call.Value.Text(16)
	}
	var hexGas string
	if err := c.call(ctx, "eth_estimateGas", []interface{}{params}, &hexGas); err != nil {
		return 0, i18n.WrapError(ctx, err, msgs.MsgEstimateGasReverted, call.To, err.Error())
	}
	return hexToUint64(hexGas), nil
}

func (c *client) SendRawTransaction(ctx context.Context, raw []byte) (ethtx.Hash, error) {
	var hash string
	if err := c.call(ctx, "eth_sendRawTransaction", []interface{}{ethtx.HexBytesFromBytes(raw).String()}, &hash); err != nil {
		return "", err
	}
	return ethtx.ParseHash(hash)
}
