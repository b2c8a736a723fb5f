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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/kaleido-io/gsnrelay/internal/admission"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/pkg/log"
)

type relayResponse struct {
	SignedTx string `json:"signedTx,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handlePing serves GET /getaddr, spec.md §6's PingResponse.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymaster := r.URL.Query().Get("paymaster")
	if paymaster != "" {
		log.L(ctx).Debugf("Ping requested for paymaster %s", paymaster)
	}
	resp := &admission.PingResponse{
		RelayWorkerAddress:  s.workerSigner,
		RelayManagerAddress: s.managerSigner,
		RelayHubAddress:     s.hub,
		MinGasPrice:         s.loop.GasPrice().String(),
		MaxAcceptanceBudget: confutil.StringNotEmpty(s.conf.Admission.MaxAcceptanceBudget, *admission.DefaultConfig.MaxAcceptanceBudget),
		ChainID:             s.chainID,
		NetworkID:           s.networkID,
		Ready:               s.loop.IsReady(),
		Version:             s.conf.Version,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRelay serves POST /relay, spec.md §6's RelayTransactionRequest ->
// {signedTx} | {error}. Every AdmissionPipeline failure is translated into
// a single descriptive error returned to the client, per spec.md §7's
// propagation policy; no failure here panics or crashes the process.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req admission.RelayTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &relayResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	currentBlock, err := s.chainAccess.GetBlockNumber(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, &relayResponse{Error: "failed to read current block: " + err.Error()})
		return
	}

	result, err := s.admission.CreateRelayTransaction(ctx, &req, currentBlock)
	if err != nil {
		log.L(ctx).Warnf("Relay request rejected: %s", err)
		writeJSON(w, http.StatusOK, &relayResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, &relayResponse{SignedTx: ethtx.HexBytesFromBytes(result.SignedTx).String()})
}

// handleHealthz is the supplemental liveness endpoint of SPEC_FULL.md
// §3.7: process-level liveness, independent of the relay's own readiness
// flag (a relay that is up but not-ready should still report healthy so
// an orchestrator does not restart it while it converges).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
