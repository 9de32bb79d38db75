// Copyright Tangle Network, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/tangle-network/blueprint-sub004/internal/agent"
	"github.com/tangle-network/blueprint-sub004/internal/chain"
	"github.com/tangle-network/blueprint-sub004/internal/config"
	"github.com/tangle-network/blueprint-sub004/internal/endpoints"
	"github.com/tangle-network/blueprint-sub004/internal/heartbeat"
	"github.com/tangle-network/blueprint-sub004/internal/signer"
	"github.com/tangle-network/blueprint-sub004/pkg/config/environment"
	"github.com/tangle-network/blueprint-sub004/pkg/metrics"
	"github.com/tangle-network/blueprint-sub004/pkg/metrics/providers/otelmirror"
	"github.com/tangle-network/blueprint-sub004/pkg/metrics/providers/push"
)

var (
	setupLog logr.Logger

	// CLI Options (alphabetical order)
	blueprintID     uint64
	devMode         bool
	enableConfig    bool
	forwardEndpoint string
	keystorePath    string
	sampleInterval  time.Duration
	serviceID       uint64
	txChainID       uint64
	txGasLimit      uint64
	txNonce         uint64
)

func init() {
	flag.Uint64Var(&blueprintID, "blueprint-id", 0,
		"Blueprint identifier for heartbeat submissions. Falls back to the BLUEPRINT_ID environment variable")
	flag.BoolVar(&devMode, "dev", false,
		"Enable development logging (console encoder, debug level)")
	flag.BoolVar(&enableConfig, "enable-config", false,
		"Load runtime configuration documents from the -config-fs-path directory")
	flag.StringVar(&forwardEndpoint, "forward-endpoint", "",
		"HTTP(S) endpoint to forward recorded metrics to. Empty disables forwarding")
	flag.StringVar(&keystorePath, "keystore-path", "",
		"Directory holding the heartbeat signing key. Falls back to the KEYSTORE_PATH environment variable")
	flag.DurationVar(&sampleInterval, "sample-interval", 30*time.Second,
		"Interval for recording process health metrics. Set to 0 to disable the sampler")
	flag.Uint64Var(&serviceID, "service-id", 0,
		"Service identifier for heartbeat submissions. Falls back to the SERVICE_ID environment variable")
	flag.Uint64Var(&txChainID, "tx-chain-id", 5845, "Chain ID for heartbeat transactions")
	flag.Uint64Var(&txGasLimit, "tx-gas-limit", 500_000, "Gas limit for heartbeat transactions")
	flag.Uint64Var(&txNonce, "tx-nonce", 0, "Starting nonce for heartbeat transactions")
}

func newLogger() logr.Logger {
	var zl *zap.Logger
	var err error
	if devMode {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return zapr.NewLogger(zl)
}

func resolveIdentity() (heartbeat.Config, error) {
	cfg := heartbeat.DefaultConfig()
	cfg.ServiceID = serviceID
	cfg.BlueprintID = blueprintID

	if cfg.ServiceID == 0 {
		v, ok, err := environment.GetServiceID()
		if err != nil {
			return cfg, fmt.Errorf("invalid SERVICE_ID: %w", err)
		}
		if ok {
			cfg.ServiceID = v
		}
	}
	if cfg.BlueprintID == 0 {
		v, ok, err := environment.GetBlueprintID()
		if err != nil {
			return cfg, fmt.Errorf("invalid BLUEPRINT_ID: %w", err)
		}
		if ok {
			cfg.BlueprintID = v
		}
	}
	if cfg.ServiceID == 0 || cfg.BlueprintID == 0 {
		return cfg, fmt.Errorf("service and blueprint identifiers are required (flags or SERVICE_ID/BLUEPRINT_ID)")
	}
	return cfg, nil
}

// applyConfigDocuments overlays values from the config loader onto the
// flag-derived settings. Missing documents are not an error.
func applyConfigDocuments(mgr *config.Manager, hbCfg *heartbeat.Config, pushCfg *push.Config) {
	if instance, err := mgr.GetConfig(config.KindHeartbeat, "default"); err == nil {
		if section, ok := instance.Section.(*config.HeartbeatSection); ok {
			if section.BaseInterval != 0 {
				hbCfg.BaseInterval = section.BaseInterval.Std()
			}
			if section.JitterFraction != 0 {
				hbCfg.JitterFraction = section.JitterFraction
			}
			if section.MaxInterval != 0 {
				hbCfg.MaxInterval = section.MaxInterval.Std()
			}
			if section.SubmitTimeout != 0 {
				hbCfg.SubmitTimeout = section.SubmitTimeout.Std()
			}
			if section.ShutdownGrace != 0 {
				hbCfg.ShutdownGrace = section.ShutdownGrace.Std()
			}
			if section.MaxMissed != 0 {
				hbCfg.MaxMissed = section.MaxMissed
			}
		}
	}
	if instance, err := mgr.GetConfig(config.KindForwarder, "default"); err == nil {
		if section, ok := instance.Section.(*config.ForwarderSection); ok {
			pushCfg.Endpoint = section.Endpoint
			if section.FlushInterval != 0 {
				pushCfg.FlushInterval = section.FlushInterval.Std()
			}
			if section.MaxQueueSize != 0 {
				pushCfg.MaxQueueSize = section.MaxQueueSize
			}
		}
	}
}

func run() error {
	flag.Parse()

	logger := newLogger()
	setupLog = logger.WithName("setup")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hbCfg, err := resolveIdentity()
	if err != nil {
		return err
	}

	pushCfg := push.DefaultConfig()
	pushCfg.Endpoint = forwardEndpoint

	var mgr *config.Manager
	if enableConfig {
		mgr, err = config.NewManager(config.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("unable to create config manager: %w", err)
		}
		go func() {
			if err := mgr.Start(ctx); err != nil {
				setupLog.Error(err, "config manager exited with error")
			}
		}()
		applyConfigDocuments(mgr, &hbCfg, &pushCfg)
	}

	// Provider chain: local store, optionally wrapped by the OTLP mirror
	// and the HTTP forwarder. The scheduler snapshots from the outermost
	// provider so every layer sees the same store.
	var provider metrics.Provider = metrics.NewLocal(nil)

	if otelCfg, enabled := otelmirror.ConfigFromFlags(); enabled {
		if mgr != nil {
			if instance, err := mgr.GetConfig(config.KindTelemetry, "default"); err == nil {
				if section, ok := instance.Section.(*config.TelemetrySection); ok {
					otelCfg.Endpoint = section.Endpoint
					otelCfg.Insecure = section.Insecure
					if section.ExportInterval != 0 {
						otelCfg.ExportInterval = section.ExportInterval.Std()
					}
				}
			}
		}
		mirror, err := otelmirror.New(ctx, provider, otelCfg, logger)
		if err != nil {
			return fmt.Errorf("unable to create metrics mirror: %w", err)
		}
		defer func() {
			if err := mirror.Shutdown(context.Background()); err != nil {
				setupLog.Error(err, "metrics mirror shutdown failed")
			}
		}()
		provider = mirror
	}

	var forwarder *push.Provider
	if pushCfg.Endpoint != "" {
		forwarder, err = push.New(provider, pushCfg, logger)
		if err != nil {
			return fmt.Errorf("unable to create metrics forwarder: %w", err)
		}
		provider = forwarder
	}

	ksPath := keystorePath
	if ksPath == "" {
		ksPath = environment.GetKeystorePath()
	}
	if ksPath == "" {
		return fmt.Errorf("keystore path is required (flag or KEYSTORE_PATH)")
	}
	hbSigner := signer.NewKeystoreSigner(ksPath, logger)

	conn, err := endpoints.Chain()
	if err != nil {
		return fmt.Errorf("unable to connect to chain endpoint: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			setupLog.Error(err, "failed to close chain connection")
		}
	}()
	client := chain.NewTxClient(conn, logger)

	// The nonce advances with each committed heartbeat so a failed cycle
	// retries its nonce and a confirmed one is never reused.
	var scheduler *heartbeat.Scheduler
	txSource := heartbeat.TxParamsFromBase(chain.TxParams{
		GasLimit: txGasLimit,
		Nonce:    txNonce,
		ChainID:  txChainID,
	}, func() uint64 { return scheduler.Committed() })
	scheduler, err = heartbeat.New(hbCfg, provider, hbSigner, client, txSource,
		heartbeat.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("unable to create heartbeat scheduler: %w", err)
	}

	agentOpts := []agent.Option{agent.WithLogger(logger)}
	if mgr != nil {
		agentOpts = append(agentOpts, agent.WithConfigLoader(mgr))
	}
	if forwarder != nil {
		agentOpts = append(agentOpts, agent.WithForwarder(forwarder))
	}
	if sampleInterval > 0 {
		agentOpts = append(agentOpts, agent.WithSystemSampler(sampleInterval))
	}
	a, err := agent.New(scheduler, provider, agentOpts...)
	if err != nil {
		return fmt.Errorf("unable to create agent: %w", err)
	}

	go func() {
		for err := range a.Errors() {
			setupLog.Error(err, "background failure")
		}
	}()

	node, err := environment.GetNodeName()
	if err != nil {
		node = "unknown"
	}
	setupLog.Info("starting blueprint agent",
		"service_id", hbCfg.ServiceID,
		"blueprint_id", hbCfg.BlueprintID,
		"node", node)
	return a.Start(ctx)
}

func main() {
	if err := run(); err != nil {
		setupLog.Error(err, "agent exited with error")
		os.Exit(1)
	}
}
