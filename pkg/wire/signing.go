// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package wire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Canonical pre-signature layout:
//
//	sequence(8) || timestamp(8) || service_id(8) || blueprint_id(8) || status_code(1) || payload_hash(32)
//
// where payload_hash is the keccak-256 of the binary payload. Every
// submitter signs exactly this byte sequence; a submitter deriving its
// own layout is a protocol divergence.
const (
	PayloadHashLen    = 32
	SigningMessageLen = 8 + 8 + 8 + 8 + 1 + PayloadHashLen
)

// PayloadHash returns the keccak-256 digest of an encoded payload.
func PayloadHash(payload []byte) [PayloadHashLen]byte {
	var out [PayloadHashLen]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	copy(out[:], h.Sum(nil))
	return out
}

// SigningMessage builds the canonical byte sequence a Signer signs for
// one heartbeat. Only widening conversions happen here; a status code
// outside the 1-byte wire width is rejected, never truncated.
func SigningMessage(st Status, serviceID, blueprintID uint64, payload []byte) ([]byte, error) {
	if st.Code > wireMaxStatusCode {
		return nil, fmt.Errorf("%w: %d", ErrStatusCodeRange, st.Code)
	}

	msg := make([]byte, 0, SigningMessageLen)
	msg = binary.BigEndian.AppendUint64(msg, st.Sequence)
	msg = binary.BigEndian.AppendUint64(msg, st.Timestamp)
	msg = binary.BigEndian.AppendUint64(msg, serviceID)
	msg = binary.BigEndian.AppendUint64(msg, blueprintID)
	msg = append(msg, byte(st.Code))
	hash := PayloadHash(payload)
	msg = append(msg, hash[:]...)
	return msg, nil
}
