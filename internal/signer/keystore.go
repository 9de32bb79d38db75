// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/go-logr/logr"
	"golang.org/x/crypto/sha3"
)

// Compile-time check
var _ Signer = (*KeystoreSigner)(nil)

const keyFileName = "ecdsa.key"

// KeystoreSigner signs with a secp256k1 key stored on the filesystem.
// The key file holds 32 bytes, raw or hex encoded, and is re-read on
// every Sign call so key rotation needs no restart.
type KeystoreSigner struct {
	dir    string
	logger logr.Logger
}

// NewKeystoreSigner creates a signer over the keystore directory dir.
func NewKeystoreSigner(dir string, logger logr.Logger) *KeystoreSigner {
	return &KeystoreSigner{
		dir:    dir,
		logger: logger.WithName("keystore-signer"),
	}
}

// Sign signs the keccak-256 digest of msg with the keystore's ECDSA key.
// The returned signature is the 65-byte compact form.
func (s *KeystoreSigner) Sign(ctx context.Context, msg []byte) (Signature, error) {
	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}

	priv, err := s.loadKey()
	if err != nil {
		s.logger.Error(err, "failed to load signing key", "keystore", s.dir)
		return Signature{}, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	defer priv.Zero()

	h := sha3.NewLegacyKeccak256()
	h.Write(msg)
	digest := h.Sum(nil)

	sig := ecdsa.SignCompact(priv, digest, true)
	return Signature{
		Bytes:    sig,
		SignerID: priv.PubKey().SerializeCompressed(),
	}, nil
}

func (s *KeystoreSigner) loadKey() (*secp256k1.PrivateKey, error) {
	path := filepath.Join(s.dir, keyFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)

	switch len(raw) {
	case secp256k1.PrivKeyBytesLen:
		return secp256k1.PrivKeyFromBytes(raw), nil
	case secp256k1.PrivKeyBytesLen * 2:
		decoded := make([]byte, secp256k1.PrivKeyBytesLen)
		if _, err := hex.Decode(decoded, raw); err != nil {
			return nil, fmt.Errorf("invalid hex key file %s: %w", path, err)
		}
		return secp256k1.PrivKeyFromBytes(decoded), nil
	default:
		return nil, fmt.Errorf("key file %s is %d bytes, want %d raw or %d hex",
			path, len(raw), secp256k1.PrivKeyBytesLen, secp256k1.PrivKeyBytesLen*2)
	}
}
