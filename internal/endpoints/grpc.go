// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.
package endpoints

import (
	"crypto/tls"
	"flag"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

type options struct {
	addr      string
	secure    bool
	keepalive time.Duration
}

type Option func(*options)

func Addr(a string) Option {
	return func(o *options) {
		o.addr = a
	}
}

func Secure(s bool) Option {
	return func(o *options) {
		o.secure = s
	}
}

func Keepalive(k time.Duration) Option {
	return func(o *options) {
		o.keepalive = k
	}
}

func createGrpcConn(opts *options) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if opts.secure {
		creds = credentials.NewTLS(&tls.Config{})
	} else {
		creds = insecure.NewCredentials()
	}

	return grpc.NewClient(opts.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time: opts.keepalive,
		}),
	)
}

var (
	defaultChainAddr   string
	defaultChainSecure bool
)

func init() {
	flag.StringVar(&defaultChainAddr, "chain-address", "rpc.tangle.tools:443",
		"The address of the chain gateway used for heartbeat submission",
	)
	flag.BoolVar(&defaultChainSecure, "chain-secure", true,
		"Use secure connection to the chain gateway",
	)
}

// Chain dials the chain gateway that accepts heartbeat transactions.
func Chain(opts ...Option) (*grpc.ClientConn, error) {
	cfg := &options{
		addr:      defaultChainAddr,
		secure:    defaultChainSecure,
		keepalive: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return createGrpcConn(cfg)
}
