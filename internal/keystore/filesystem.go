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

package keystore

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/keystorev3"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/pkg/log"
	"golang.org/x/crypto/sha3"
)

// FileSystemConfig mirrors the teacher's filesystem signing module config:
// a directory of keystorev3 wallet files plus a password sidecar per key,
// indexed by a stable "manager"/"worker" key handle rather than a derived
// HD path (the relay only ever has two signers, so BIP32/BIP44 derivation
// would be unused machinery).
type FileSystemConfig struct {
	Path     *string `yaml:"path"`
	FileMode *uint32 `yaml:"fileMode"`
	DirMode  *uint32 `yaml:"dirMode"`
}

var FileSystemDefaults = &FileSystemConfig{
	Path:     confutil.P("./keystore"),
	FileMode: confutil.P(uint32(0600)),
	DirMode:  confutil.P(uint32(0700)),
}

var keyHandles = []string{"manager", "worker"}

type filesystemKeyStore struct {
	mux       sync.Mutex
	path      string
	fileMode  os.FileMode
	dirMode   os.FileMode
	addresses map[int]ethtx.Address
	keypairs  map[ethtx.Address]*secp256k1.KeyPair
}

// NewFileSystemKeyStore opens (creating if necessary) a directory of
// keystorev3 wallet files, one per signer index.
func NewFileSystemKeyStore(ctx context.Context, conf *FileSystemConfig) (KeyStore, error) {
	path := confutil.StringNotEmpty(conf.Path, *FileSystemDefaults.Path)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeyStoreBadPath, path)
	}
	dirMode := os.FileMode(*FileSystemDefaults.DirMode)
	if conf.DirMode != nil {
		dirMode = os.FileMode(*conf.DirMode)
	}
	fileMode := os.FileMode(*FileSystemDefaults.FileMode)
	if conf.FileMode != nil {
		fileMode = os.FileMode(*conf.FileMode)
	}
	if err := os.MkdirAll(absPath, dirMode); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeyStoreBadPath, absPath)
	}
	return &filesystemKeyStore{
		path:      absPath,
		fileMode:  fileMode,
		dirMode:   dirMode,
		addresses: map[int]ethtx.Address{},
		keypairs:  map[ethtx.Address]*secp256k1.KeyPair{},
	}, nil
}

func (fs *filesystemKeyStore) keyPaths(index int) (keyFile, pwdFile string, err error) {
	if index < 0 || index >= len(keyHandles) {
		return "", "", fmt.Errorf("unsupported signer index %d", index)
	}
	handle := keyHandles[index]
	return filepath.Join(fs.path, handle+".key"), filepath.Join(fs.path, handle+".pwd"), nil
}

func (fs *filesystemKeyStore) GetAddress(ctx context.Context, index int) (ethtx.Address, error) {
	fs.mux.Lock()
	defer fs.mux.Unlock()

	if addr, ok := fs.addresses[index]; ok {
		return addr, nil
	}

	keyFile, pwdFile, err := fs.keyPaths(index)
	if err != nil {
		return "", err
	}

	var wf keystorev3.WalletFile
	if _, statErr := os.Stat(keyFile); os.IsNotExist(statErr) {
		wf, err = fs.createWalletFile(ctx, keyFile, pwdFile)
	} else {
		wf, err = fs.readWalletFile(ctx, keyFile, pwdFile)
	}
	if err != nil {
		return "", err
	}

	kp, err := secp256k1.NewSecp256k1KeyPair(wf.PrivateKey())
	if err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgKeyNotFound, keyHandles[index])
	}
	addr, err := ethtx.ParseAddress(kp.Address.String())
	if err != nil {
		return "", err
	}
	fs.addresses[index] = addr
	fs.keypairs[addr] = kp
	log.L(ctx).Infof("Resolved signer %s (index %d) to address %s", keyHandles[index], index, addr)
	return addr, nil
}

func (fs *filesystemKeyStore) createWalletFile(ctx context.Context, keyFile, pwdFile string) (keystorev3.WalletFile, error) {
	keyMaterial := make([]byte, 32)
	if _, err := rand.Read(keyMaterial); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeyStoreBadPath, keyFile)
	}
	password := randHex(32)
	wf := keystorev3.NewWalletFileCustomBytesStandard(password, keyMaterial)
	if err := os.WriteFile(pwdFile, []byte(password), fs.fileMode); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeyStoreBadPath, pwdFile)
	}
	if err := os.WriteFile(keyFile, wf.JSON(), fs.fileMode); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeyStoreBadPath, keyFile)
	}
	return wf, nil
}

func (fs *filesystemKeyStore) readWalletFile(ctx context.Context, keyFile, pwdFile string) (keystorev3.WalletFile, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeyStoreBadPath, keyFile)
	}
	pwdData, err := os.ReadFile(pwdFile)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeyStoreBadPath, pwdFile)
	}
	return keystorev3.ReadWalletFile(keyData, pwdData)
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}

// buildEthTX mirrors the teacher's buildEthTX in transaction_manager.go,
// adapted from the PublicTxOptions shape to our UnsignedTx.
func buildEthTX(tx *ethtx.UnsignedTx) (*ethsigner.Transaction, error) {
	ethTx := &ethsigner.Transaction{
		Nonce:    ethtypes.NewHexIntegerU64(tx.Nonce),
		GasPrice: (*ethtypes.HexInteger)(tx.GasPrice),
		GasLimit: ethtypes.NewHexIntegerU64(tx.GasLimit),
		Value:    (*ethtypes.HexInteger)(tx.Value),
		Data:     ethtypes.HexBytes0xPrefix(tx.Data.Bytes()),
	}
	if tx.To != nil {
		to, err := ethtypes.NewAddress(tx.To.String())
		if err != nil {
			return nil, err
		}
		ethTx.To = to
	}
	return ethTx, nil
}

func (fs *filesystemKeyStore) Sign(ctx context.Context, addr ethtx.Address, tx *ethtx.UnsignedTx) ([]byte, ethtx.Hash, error) {
	fs.mux.Lock()
	kp, ok := fs.keypairs[addr]
	fs.mux.Unlock()
	if !ok {
		return nil, "", i18n.NewError(ctx, msgs.MsgKeyNotFound, addr)
	}

	ethTx, err := buildEthTX(tx)
	if err != nil {
		return nil, "", i18n.WrapError(ctx, err, msgs.MsgBroadcastFailed, addr, tx.Nonce, err.Error())
	}

	raw, err := ethTx.Sign(kp, int64(tx.ChainID))
	if err != nil {
		return nil, "", i18n.WrapError(ctx, err, msgs.MsgBroadcastFailed, addr, tx.Nonce, err.Error())
	}

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(raw)
	hash, err := ethtx.ParseHash(fmt.Sprintf("%x", hasher.Sum(nil)))
	if err != nil {
		return nil, "", err
	}
	return raw, hash, nil
}
