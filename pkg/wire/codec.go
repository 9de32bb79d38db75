// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

// Package wire implements the binary heartbeat payload format and the
// canonical pre-signature byte layout shared by every submitter.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
)

// Wire format, all integers fixed-width big-endian:
//
//	[status_code:1][sequence:8][timestamp:8][pair_count:2][(key_len:1, key:key_len, value:8)*]
const (
	DefaultMaxKeyLen = 64
	DefaultMaxPairs  = 256

	// wireMaxKeyLen is the hard ceiling imposed by the 1-byte key length
	// prefix. Configured limits above it are narrowing and rejected.
	wireMaxKeyLen = 255

	// wireMaxPairs is the hard ceiling imposed by the 2-byte pair count
	// field. Configured limits above it are narrowing and rejected.
	wireMaxPairs = 65535

	// wireMaxStatusCode is the ceiling imposed by the 1-byte status code
	// field. A code above it is an encoding error, never a wraparound.
	wireMaxStatusCode = 255

	headerLen = 1 + 8 + 8 + 2
)

var (
	ErrStatusCodeRange = errors.New("wire: status code exceeds 1-byte field width")
	ErrTooManyPairs    = errors.New("wire: snapshot exceeds pair limit")
	ErrKeyTooLong      = errors.New("wire: metric key exceeds length limit")
	ErrTruncated       = errors.New("wire: payload truncated")
	ErrTrailingBytes   = errors.New("wire: trailing bytes after last pair")
	ErrDuplicateKey    = errors.New("wire: duplicate metric key")
)

// Status carries the heartbeat status fields encoded alongside a
// snapshot. Message and BlockNumber travel only in logs and local
// consumers, never on the wire; BlockNumber is filled in from the chain
// confirmation after a commit.
type Status struct {
	Code        uint32
	Message     string
	Sequence    uint64
	Timestamp   uint64
	BlockNumber uint64
}

// Codec encodes and decodes heartbeat payloads with explicit bounds
// checks. The bounds exist to make an oversized payload fail cheaply here
// instead of expensively at the chain.
type Codec struct {
	maxPairs  int
	maxKeyLen int
}

// NewCodec creates a Codec with the given limits; zero values take the
// defaults. Limits above what the wire's length fields can represent
// (255 for key length, 65535 for pair count) are errors, never silent
// truncation later.
func NewCodec(maxPairs, maxKeyLen int) (*Codec, error) {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	if maxKeyLen <= 0 {
		maxKeyLen = DefaultMaxKeyLen
	}
	if maxKeyLen > wireMaxKeyLen {
		return nil, fmt.Errorf("wire: max key length %d exceeds wire limit %d", maxKeyLen, wireMaxKeyLen)
	}
	if maxPairs > wireMaxPairs {
		return nil, fmt.Errorf("wire: max pairs %d exceeds wire limit %d", maxPairs, wireMaxPairs)
	}
	return &Codec{maxPairs: maxPairs, maxKeyLen: maxKeyLen}, nil
}

// MaxPairs returns the configured pair limit.
func (c *Codec) MaxPairs() int { return c.maxPairs }

// MaxKeyLen returns the configured key length limit in bytes.
func (c *Codec) MaxKeyLen() int { return c.maxKeyLen }

// Validate checks status and snapshot against the wire format limits
// without encoding anything.
func (c *Codec) Validate(st Status, snap metrics.Snapshot) error {
	if st.Code > wireMaxStatusCode {
		return fmt.Errorf("%w: %d", ErrStatusCodeRange, st.Code)
	}
	if len(snap.Pairs) > c.maxPairs {
		return fmt.Errorf("%w: %d > %d", ErrTooManyPairs, len(snap.Pairs), c.maxPairs)
	}
	for _, p := range snap.Pairs {
		if len(p.Key) > c.maxKeyLen {
			return fmt.Errorf("%w: %q is %d bytes, limit %d", ErrKeyTooLong, p.Key, len(p.Key), c.maxKeyLen)
		}
	}
	return nil
}

// Encode serializes status and snapshot into a transaction payload.
// Pairs are written in the snapshot's insertion order.
func (c *Codec) Encode(st Status, snap metrics.Snapshot) ([]byte, error) {
	if err := c.Validate(st, snap); err != nil {
		return nil, err
	}

	size := headerLen
	for _, p := range snap.Pairs {
		size += 1 + len(p.Key) + 8
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(st.Code))
	buf = binary.BigEndian.AppendUint64(buf, st.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, st.Timestamp)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(snap.Pairs)))
	for _, p := range snap.Pairs {
		buf = append(buf, byte(len(p.Key)))
		buf = append(buf, p.Key...)
		buf = binary.BigEndian.AppendUint64(buf, p.Value)
	}
	return buf, nil
}

// Decode mirrors Encode exactly. It rejects, rather than truncates, any
// pair count or key length outside the configured limits. Metric kind is
// a store-side concept not carried on the wire; decoded pairs default to
// counter.
func (c *Codec) Decode(payload []byte) (Status, metrics.Snapshot, error) {
	var st Status
	var snap metrics.Snapshot

	if len(payload) < headerLen {
		return st, snap, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncated, len(payload), headerLen)
	}

	st.Code = uint32(payload[0])
	st.Sequence = binary.BigEndian.Uint64(payload[1:9])
	st.Timestamp = binary.BigEndian.Uint64(payload[9:17])
	count := int(binary.BigEndian.Uint16(payload[17:19]))
	if count > c.maxPairs {
		return st, snap, fmt.Errorf("%w: %d > %d", ErrTooManyPairs, count, c.maxPairs)
	}

	rest := payload[headerLen:]
	pairs := make([]metrics.Pair, 0, count)
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		if len(rest) < 1 {
			return st, snap, fmt.Errorf("%w: missing key length for pair %d", ErrTruncated, i)
		}
		keyLen := int(rest[0])
		if keyLen > c.maxKeyLen {
			return st, snap, fmt.Errorf("%w: pair %d key is %d bytes, limit %d", ErrKeyTooLong, i, keyLen, c.maxKeyLen)
		}
		rest = rest[1:]
		if len(rest) < keyLen+8 {
			return st, snap, fmt.Errorf("%w: pair %d needs %d more bytes", ErrTruncated, i, keyLen+8-len(rest))
		}
		key := string(rest[:keyLen])
		// Keys are unique within a snapshot; a well-formed encoder
		// cannot emit a duplicate.
		if _, dup := seen[key]; dup {
			return st, snap, fmt.Errorf("%w: %q at pair %d", ErrDuplicateKey, key, i)
		}
		seen[key] = struct{}{}
		value := binary.BigEndian.Uint64(rest[keyLen : keyLen+8])
		rest = rest[keyLen+8:]
		pairs = append(pairs, metrics.Pair{Key: key, Value: value})
	}
	if len(rest) != 0 {
		return st, snap, fmt.Errorf("%w: %d bytes", ErrTrailingBytes, len(rest))
	}

	snap.Pairs = pairs
	return st, snap, nil
}
