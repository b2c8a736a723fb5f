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
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rs/cors"

	"github.com/kaleido-io/gsnrelay/internal/admission"
	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/chainclient"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/keystore"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/internal/reconcile"
	"github.com/kaleido-io/gsnrelay/internal/registration"
	"github.com/kaleido-io/gsnrelay/internal/txmgr"
	"github.com/kaleido-io/gsnrelay/internal/txstore"
	"github.com/kaleido-io/gsnrelay/pkg/log"
)

// Server is the facade of spec.md §2: it owns every component singleton
// for the lifetime of the process and exposes the ping/relay HTTP surface.
type Server struct {
	conf *Config

	chainAccess  chain.Access
	keys         keystore.KeyStore
	store        txstore.Store
	txManager    txmgr.Manager
	registration *registration.Manager
	loop         *reconcile.Loop
	admission    *admission.Pipeline

	hub           ethtx.Address
	managerSigner ethtx.Address
	workerSigner  ethtx.Address
	chainID       uint64
	networkID     uint64

	httpServer *http.Server
}

// New wires every component of spec.md §2 together, resolving the
// manager/worker signers from the KeyStore and the registration state
// machine's initial state from the chain, per spec.md §3's "a signer is
// created at server init from the KeyStore".
func New(ctx context.Context, conf *Config) (*Server, error) {
	log.Init(&conf.Log)

	chainAccess, err := chainclient.New(ctx, &conf.Chain)
	if err != nil {
		return nil, err
	}
	keys, err := keystore.NewFileSystemKeyStore(ctx, &conf.Keystore)
	if err != nil {
		return nil, err
	}
	managerSigner, err := keys.GetAddress(ctx, 0)
	if err != nil {
		return nil, err
	}
	workerSigner, err := keys.GetAddress(ctx, 1)
	if err != nil {
		return nil, err
	}

	store, err := txstore.Open(ctx, confutil.StringNotEmpty(&conf.TxStorePath, DefaultConfig.TxStorePath))
	if err != nil {
		return nil, err
	}

	chainID, err := chainAccess.GetChainID(ctx)
	if err != nil {
		return nil, err
	}
	networkID, err := chainAccess.GetNetworkID(ctx)
	if err != nil {
		return nil, err
	}

	hub, err := ethtx.ParseAddress(conf.RelayHubAddress)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgConfigInvalid, "relayHubAddress: "+err.Error())
	}
	if code, err := chainAccess.GetCode(ctx, hub); err != nil || len(code) == 0 {
		if !conf.DevMode {
			return nil, i18n.NewError(ctx, msgs.MsgHubNotDeployed, hub)
		}
		// devMode skips the deployed-bytecode check so a relay can be
		// pointed at a hub address before its contract is mined - e.g.
		// against a deterministic CREATE2 address computed ahead of
		// deployment, or a local chain reset between runs.
		log.L(ctx).Warnf("devMode: relayHubAddress %s has no deployed code; continuing startup anyway", hub)
	}
	stakeManager, err := ethtx.ParseAddress(conf.StakeManagerAddress)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgConfigInvalid, "stakeManagerAddress: "+err.Error())
	}

	txManager := txmgr.New(&conf.Txmgr, chainID, chainAccess, keys, store)

	stakeAmount := ethtx.ParseBigInt(confutil.StringNotEmpty(conf.StakeAmount, *DefaultConfig.StakeAmount))
	unstakeDelay := ethtx.ParseBigInt(confutil.StringNotEmpty(conf.UnstakeDelaySeconds, *DefaultConfig.UnstakeDelaySeconds))
	reg, err := registration.New(&conf.Registration, chainAccess, txManager, hub, stakeManager, managerSigner, workerSigner, stakeAmount, unstakeDelay)
	if err != nil {
		return nil, err
	}
	if err := reg.Init(ctx); err != nil {
		return nil, err
	}

	managerMinBalance := ethtx.ParseBigInt(confutil.StringNotEmpty(conf.Registration.ManagerMinBalance, *registration.DefaultConfig.ManagerMinBalance))
	loop := reconcile.New(&conf.Reconcile, chainAccess, txManager, reg, hub, managerSigner, workerSigner, managerMinBalance)

	pipeline, err := admission.New(&conf.Admission, chainAccess, txManager, loop, hub, workerSigner)
	if err != nil {
		return nil, err
	}

	s := &Server{
		conf:          conf,
		chainAccess:   chainAccess,
		keys:          keys,
		store:         store,
		txManager:     txManager,
		registration:  reg,
		loop:          loop,
		admission:     pipeline,
		hub:           hub,
		managerSigner: managerSigner,
		workerSigner:  workerSigner,
		chainID:       chainID,
		networkID:     networkID,
	}
	s.httpServer = &http.Server{
		Addr:              confutil.StringNotEmpty(&conf.ListenAddr, DefaultConfig.ListenAddr),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if conf.DevMode {
		log.L(ctx).Warnf("devMode enabled: hub deployed-bytecode check is skipped, do not use in production")
	}
	return s, nil
}

func (s *Server) buildRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/getaddr", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/relay", s.handleRelay).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	return cors.AllowAll().Handler(r)
}

// Start begins the reconciliation loop's ticker and the HTTP listener,
// per spec.md §2's control-flow overview.
func (s *Server) Start(ctx context.Context) error {
	s.loop.Start(ctx)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.L(ctx).Errorf("HTTP listener exited: %s", err)
		}
	}()
	log.L(ctx).Infof("Relay server listening on %s (manager=%s worker=%s hub=%s)", s.httpServer.Addr, s.managerSigner, s.workerSigner, s.hub)
	return nil
}

// Stop drains the HTTP listener and the reconciliation loop, per spec.md
// §5's "stop the interval, then drain any in-progress tick", then closes
// the transaction store.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	s.loop.Stop()
	return s.store.Close()
}
