// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

// Package signer produces heartbeat signatures. Key material lives
// outside this core; the signer only loads it on demand.
package signer

import (
	"context"
	"errors"
)

// ErrKeyUnavailable reports that key material could not be loaded, for
// example because the keystore backend or filesystem is unavailable. The
// heartbeat cycle treats it as a discard, never a panic.
var ErrKeyUnavailable = errors.New("signer: key material unavailable")

// Signature is a signature over the canonical heartbeat byte layout,
// together with the identity of the signer that produced it.
type Signature struct {
	// Bytes is the 65-byte compact ECDSA signature (recovery id first).
	Bytes []byte
	// SignerID is the 33-byte compressed public key of the signing key.
	SignerID []byte
}

// Signer signs canonical heartbeat messages.
type Signer interface {
	// Sign signs msg and returns the signature. Implementations load key
	// material per call; a load failure is reported as ErrKeyUnavailable.
	Sign(ctx context.Context, msg []byte) (Signature, error)
}
