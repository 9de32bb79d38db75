// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package chain

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Compile-time check
var _ SubmissionClient = (*TxClient)(nil)

const heartbeatMethod = "/tangle.services.v1.Services/Heartbeat"

// TxClient submits heartbeat transactions over a gRPC connection to a
// chain gateway. Requests and responses travel as raw framed bytes; the
// gateway owns extrinsic construction and finality tracking.
type TxClient struct {
	conn   *grpc.ClientConn
	logger logr.Logger
}

// NewTxClient creates a TxClient over an established connection.
func NewTxClient(conn *grpc.ClientConn, logger logr.Logger) *TxClient {
	return &TxClient{
		conn:   conn,
		logger: logger.WithName("tx-client"),
	}
}

// Submit sends the signed heartbeat and blocks until the gateway reports
// finalization or failure. Errors come back classified so the scheduler
// can pick the right cycle outcome.
func (c *TxClient) Submit(ctx context.Context, hb SignedHeartbeat, params TxParams) (Confirmation, error) {
	req := encodeSubmission(hb, params)
	var resp []byte

	err := c.conn.Invoke(ctx, heartbeatMethod, &req, &resp, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		class := classifyRPCError(err)
		c.logger.V(1).Info("heartbeat submission failed",
			"class", class.String(), "service_id", hb.ServiceID, "error", err)
		return Confirmation{}, &SubmissionError{Class: class, Err: err}
	}

	conf, err := decodeConfirmation(resp)
	if err != nil {
		// The gateway acknowledged but the response is unreadable; the
		// transaction outcome is unknown.
		return Confirmation{}, &SubmissionError{Class: ClassTimeout, Err: err}
	}

	c.logger.V(1).Info("heartbeat confirmed",
		"service_id", hb.ServiceID, "block", conf.Block)
	return conf, nil
}

// Submission frame, big-endian:
//
//	[chain_id:8][nonce:8][gas_limit:8][service_id:8][blueprint_id:8]
//	[sig_len:2][sig][signer_len:2][signer_id][payload...]
func encodeSubmission(hb SignedHeartbeat, params TxParams) []byte {
	size := 5*8 + 2 + len(hb.Signature.Bytes) + 2 + len(hb.Signature.SignerID) + len(hb.Payload)
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint64(buf, params.ChainID)
	buf = binary.BigEndian.AppendUint64(buf, params.Nonce)
	buf = binary.BigEndian.AppendUint64(buf, params.GasLimit)
	buf = binary.BigEndian.AppendUint64(buf, hb.ServiceID)
	buf = binary.BigEndian.AppendUint64(buf, hb.BlueprintID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(hb.Signature.Bytes)))
	buf = append(buf, hb.Signature.Bytes...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(hb.Signature.SignerID)))
	buf = append(buf, hb.Signature.SignerID...)
	buf = append(buf, hb.Payload...)
	return buf
}

// Confirmation frame: [tx_hash:32][block:8]
func decodeConfirmation(resp []byte) (Confirmation, error) {
	if len(resp) != 40 {
		return Confirmation{}, fmt.Errorf("confirmation frame is %d bytes, want 40", len(resp))
	}
	var conf Confirmation
	copy(conf.TxHash[:], resp[:32])
	conf.Block = binary.BigEndian.Uint64(resp[32:])
	return conf, nil
}

func classifyRPCError(err error) ErrorClass {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied,
		codes.Unauthenticated, codes.AlreadyExists, codes.OutOfRange:
		return ClassRejected
	case codes.DeadlineExceeded, codes.Canceled:
		return ClassTimeout
	default:
		// Unavailable, ResourceExhausted, Aborted, Internal and anything
		// unrecognized: worth another cycle.
		return ClassTransient
	}
}

// rawCodec moves pre-encoded frames through grpc untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("rawCodec: cannot marshal %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: cannot unmarshal into %T", v)
	}
	*b = data
	return nil
}

func (rawCodec) Name() string { return "raw" }
