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
	"context"
	"math/big"
	"testing"

	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/hubabi"
	"github.com/kaleido-io/gsnrelay/internal/txmgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testHub       = ethtx.MustParseAddress("0x1111111111111111111111111111111111111111")
	testWorker    = ethtx.MustParseAddress("0x2222222222222222222222222222222222222222")
	testPaymaster = ethtx.MustParseAddress("0x3333333333333333333333333333333333333333")
	testFrom      = ethtx.MustParseAddress("0x4444444444444444444444444444444444444444")
	testTo        = ethtx.MustParseAddress("0x5555555555555555555555555555555555555555")
)

// fakeChain answers every view call this pipeline issues with a generous
// default (accepted=true, ample balance) so each test only needs to
// override the one field exercising its scenario.
type fakeChain struct {
	chain.Access
	acceptanceBudget *big.Int
	preGas           *big.Int
	postGas          *big.Int
	hubBalance       *big.Int
	maxCharge        *big.Int
	simulateAccepts  bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		acceptanceBudget: big.NewInt(50000),
		preGas:           big.NewInt(1000),
		postGas:          big.NewInt(1000),
		hubBalance:       big.NewInt(1_000_000_000_000_000_000),
		maxCharge:        big.NewInt(1),
		simulateAccepts:  true,
	}
}

func (f *fakeChain) CallViewMethod(ctx context.Context, call chain.CallRequest) ([]byte, error) {
	sel := hubabi.Selector("getGasLimits()")
	switch {
	case call.To.Equal(testPaymaster) && len(call.Data.Bytes()) >= 4 && hasSelector(call.Data.Bytes(), sel):
		out := make([]byte, 96)
		f.acceptanceBudget.FillBytes(out[0:32])
		f.preGas.FillBytes(out[32:64])
		f.postGas.FillBytes(out[64:96])
		return out, nil
	case call.To.Equal(testHub) && hasSelector(call.Data.Bytes(), hubabi.Selector("calculateCharge(uint256,uint256)")):
		out := make([]byte, 32)
		f.maxCharge.FillBytes(out)
		return out, nil
	case call.To.Equal(testHub) && hasSelector(call.Data.Bytes(), hubabi.Selector("balanceOf(address)")):
		out := make([]byte, 32)
		f.hubBalance.FillBytes(out)
		return out, nil
	case call.To.Equal(testHub) && hasSelector(call.Data.Bytes(), hubabi.Selector("relayCall(uint256,address,address,uint256,uint256,uint256)")):
		out := make([]byte, 32)
		if f.simulateAccepts {
			out[31] = 1
		}
		return out, nil
	}
	return make([]byte, 32), nil
}

func hasSelector(data, sel []byte) bool {
	if len(data) < 4 {
		return false
	}
	for i := range sel {
		if data[i] != sel[i] {
			return false
		}
	}
	return true
}

type fakeTxManager struct {
	txmgr.Manager
	nextNonce uint64
	sent      []*txmgr.SendDetails
}

func (f *fakeTxManager) PollNonce(ctx context.Context, signer ethtx.Address) (uint64, error) {
	return f.nextNonce, nil
}
func (f *fakeTxManager) SendTransaction(ctx context.Context, details *txmgr.SendDetails) (ethtx.Hash, []byte, error) {
	f.sent = append(f.sent, details)
	return ethtx.Hash("0xaaaa"), []byte{0x01}, nil
}

type fakeReadiness struct {
	ready       bool
	gasPrice    *big.Int
	alerted     bool
	minMS       int
	maxMS       int
	replenished int
}

func (f *fakeReadiness) IsReady() bool           { return f.ready }
func (f *fakeReadiness) GasPrice() *big.Int      { return f.gasPrice }
func (f *fakeReadiness) IsAlerted() bool         { return f.alerted }
func (f *fakeReadiness) AlertedDelayBounds() (int, int) { return f.minMS, f.maxMS }
func (f *fakeReadiness) ReplenishNow(ctx context.Context, block uint64) ([]ethtx.Hash, error) {
	f.replenished++
	return nil, nil
}

func validRequest() *RelayTransactionRequest {
	return &RelayTransactionRequest{
		Request: ForwardRequest{
			From:  testFrom,
			To:    testTo,
			Value: big.NewInt(0),
			Gas:   100000,
			Nonce: 0,
		},
		RelayData: RelayData{
			GasPrice:     big.NewInt(10),
			PctRelayFee:  big.NewInt(10),
			BaseRelayFee: big.NewInt(0),
			RelayWorker:  testWorker,
			Paymaster:    testPaymaster,
		},
		Metadata: Metadata{
			RelayHubAddress: testHub,
			RelayMaxNonce:   100,
		},
	}
}

func newTestPipeline(t *testing.T, fc *fakeChain, ftm *fakeTxManager, fr *fakeReadiness) *Pipeline {
	conf := &Config{
		PctRelayFee:          confutil.P("10"),
		BaseRelayFee:         confutil.P("0"),
		MaxAcceptanceBudget:  confutil.P("300000"),
		PaymasterCacheTTLSec: confutil.P(300),
	}
	p, err := New(conf, fc, ftm, fr, testHub, testWorker)
	require.NoError(t, err)
	return p
}

func TestCreateRelayTransactionHappyPath(t *testing.T) {
	fc := newFakeChain()
	ftm := &fakeTxManager{}
	fr := &fakeReadiness{ready: true, gasPrice: big.NewInt(5)}
	p := newTestPipeline(t, fc, ftm, fr)

	result, err := p.CreateRelayTransaction(context.Background(), validRequest(), 100)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Len(t, ftm.sent, 1)
	assert.Equal(t, ethtx.ActionRelayCall, ftm.sent[0].Action)
	assert.Equal(t, 1, fr.replenished, "a successful submission triggers a replenish check")
}

func TestCreateRelayTransactionRejectsWrongHub(t *testing.T) {
	fc := newFakeChain()
	ftm := &fakeTxManager{}
	fr := &fakeReadiness{ready: true, gasPrice: big.NewInt(5)}
	p := newTestPipeline(t, fc, ftm, fr)

	req := validRequest()
	req.Metadata.RelayHubAddress = ethtx.MustParseAddress("0x9999999999999999999999999999999999999999")

	_, err := p.CreateRelayTransaction(context.Background(), req, 100)
	require.Error(t, err)
	assert.Empty(t, ftm.sent, "admission purity: a validation failure never reaches sendTransaction")
}

func TestCreateRelayTransactionRejectsWhenNotReady(t *testing.T) {
	fc := newFakeChain()
	ftm := &fakeTxManager{}
	fr := &fakeReadiness{ready: false, gasPrice: big.NewInt(5)}
	p := newTestPipeline(t, fc, ftm, fr)

	_, err := p.CreateRelayTransaction(context.Background(), validRequest(), 100)
	require.Error(t, err)
	assert.Empty(t, ftm.sent)
}

func TestCreateRelayTransactionRejectsLowGasPrice(t *testing.T) {
	fc := newFakeChain()
	ftm := &fakeTxManager{}
	fr := &fakeReadiness{ready: true, gasPrice: big.NewInt(100)}
	p := newTestPipeline(t, fc, ftm, fr)

	_, err := p.CreateRelayTransaction(context.Background(), validRequest(), 100)
	require.Error(t, err)
	assert.Empty(t, ftm.sent)
}

func TestCreateRelayTransactionRejectsNonceBeyondHorizon(t *testing.T) {
	fc := newFakeChain()
	ftm := &fakeTxManager{nextNonce: 200}
	fr := &fakeReadiness{ready: true, gasPrice: big.NewInt(5)}
	p := newTestPipeline(t, fc, ftm, fr)

	_, err := p.CreateRelayTransaction(context.Background(), validRequest(), 100)
	require.Error(t, err)
	assert.Empty(t, ftm.sent)
}

func TestCreateRelayTransactionRejectsUnderfundedPaymaster(t *testing.T) {
	fc := newFakeChain()
	fc.hubBalance = big.NewInt(0)
	fc.maxCharge = big.NewInt(100)
	ftm := &fakeTxManager{}
	fr := &fakeReadiness{ready: true, gasPrice: big.NewInt(5)}
	p := newTestPipeline(t, fc, ftm, fr)

	_, err := p.CreateRelayTransaction(context.Background(), validRequest(), 100)
	require.Error(t, err)
	assert.Empty(t, ftm.sent)
}

func TestCreateRelayTransactionRejectsWhenPaymasterSimulationFails(t *testing.T) {
	fc := newFakeChain()
	fc.simulateAccepts = false
	ftm := &fakeTxManager{}
	fr := &fakeReadiness{ready: true, gasPrice: big.NewInt(5)}
	p := newTestPipeline(t, fc, ftm, fr)

	_, err := p.CreateRelayTransaction(context.Background(), validRequest(), 100)
	require.Error(t, err)
	assert.Empty(t, ftm.sent)
}

func TestCreateRelayTransactionSkipsFeeCheckForTrustedPaymaster(t *testing.T) {
	fc := newFakeChain()
	ftm := &fakeTxManager{}
	fr := &fakeReadiness{ready: true, gasPrice: big.NewInt(5)}
	conf := &Config{
		TrustedPaymasters:    []string{testPaymaster.String()},
		PctRelayFee:          confutil.P("50"), // well above the request's fee
		BaseRelayFee:         confutil.P("0"),
		MaxAcceptanceBudget:  confutil.P("1"), // well below the acceptance budget
		PaymasterCacheTTLSec: confutil.P(300),
	}
	p, err := New(conf, fc, ftm, fr, testHub, testWorker)
	require.NoError(t, err)

	_, err = p.CreateRelayTransaction(context.Background(), validRequest(), 100)
	require.NoError(t, err, "a trusted paymaster skips both the fee check and the acceptance-budget cap")
}
