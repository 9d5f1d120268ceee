package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/kbus/pkg/api"
	"github.com/cuemby/kbus/pkg/bridge"
	"github.com/cuemby/kbus/pkg/broker"
	"github.com/cuemby/kbus/pkg/events"
	"github.com/cuemby/kbus/pkg/log"
	"github.com/cuemby/kbus/pkg/metrics"
	"github.com/cuemby/kbus/pkg/security"
	"github.com/cuemby/kbus/pkg/transport"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a broker",
	Long: `Run a kbus broker with an admin HTTP server and, optionally, a bridge
to another kbusd.

Examples:
  # Broker only
  kbusd serve

  # Bridge two brokers over TCP
  kbusd serve --network-id 1 --listen :7400
  kbusd serve --network-id 2 --peer host-a:7400

  # Same over gRPC, with a config file
  kbusd serve -c kbusd.yaml --transport grpc --peer host-a:7400`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("log-json", false, "Log as JSON")
	serveCmd.Flags().String("metrics-addr", "", "Admin HTTP address for /metrics, /health, /ready (\"off\" disables)")
	serveCmd.Flags().Uint32("network-id", 0, "Network id announced to a bridge peer")
	serveCmd.Flags().String("listen", "", "Accept a bridge peer on this address")
	serveCmd.Flags().String("peer", "", "Connect a bridge to this address")
	serveCmd.Flags().String("transport", "", "Bridge transport (tcp, grpc)")
}

// applyFlags overrides cfg with the flags the user set
func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
		if cfg.Metrics.Addr == "off" {
			cfg.Metrics.Addr = ""
		}
	}
	if flags.Changed("network-id") {
		cfg.Bridge.NetworkID, _ = flags.GetUint32("network-id")
	}
	if flags.Changed("listen") {
		cfg.Bridge.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("peer") {
		cfg.Bridge.Peer, _ = flags.GetString("peer")
	}
	if flags.Changed("transport") {
		cfg.Bridge.Transport, _ = flags.GetString("transport")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("kbusd")
	metrics.SetVersion(Version)

	eventBroker := events.NewBroker()
	eventBroker.Start()
	defer eventBroker.Stop()

	brokerCfg := cfg.BrokerOptions()
	brokerCfg.Events = eventBroker
	b := broker.NewBroker(brokerCfg)
	defer b.Stop()
	metrics.RegisterComponent("broker", true, "running")

	collector := metrics.NewCollector(b, cfg.Metrics.CollectInterval)
	collector.Start()
	defer collector.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)

	var hs *api.HealthServer
	if cfg.Metrics.Addr != "" {
		hs = api.NewHealthServer(b)
		go func() {
			if err := hs.Start(cfg.Metrics.Addr); err != nil {
				errCh <- fmt.Errorf("admin HTTP server error: %v", err)
			}
		}()
	}

	sub := eventBroker.Subscribe()
	defer eventBroker.Unsubscribe(sub)
	go watchEvents(ctx, sub)

	if cfg.Bridge.Enabled() {
		metrics.SetCriticalComponents("broker", "bridge")
		metrics.RegisterComponent("bridge", false, "connecting")
		bridgeSub := eventBroker.Subscribe(events.EventBridgeUp, events.EventBridgeDown)
		defer eventBroker.Unsubscribe(bridgeSub)
		go watchBridge(ctx, bridgeSub)
		bcfg := cfg.BridgeOptions()
		bcfg.Events = eventBroker
		go func() {
			if err := runBridge(ctx, b, cfg.Bridge, bcfg); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	logger.Info().
		Str("version", Version).
		Str("metrics_addr", cfg.Metrics.Addr).
		Bool("bridge", cfg.Bridge.Enabled()).
		Msg("kbusd running")

	// Wait for interrupt signal or a server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down after error")
	}

	cancel()
	if hs != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Admin HTTP server shutdown")
		}
	}
	return runErr
}

// watchEvents logs broker events at debug
func watchEvents(ctx context.Context, sub events.Subscriber) {
	logger := log.WithComponent("events")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			logger.Debug().
				Str("type", string(ev.Type)).
				Str("message", ev.Message).
				Interface("metadata", ev.Metadata).
				Msg("Event")
		}
	}
}

// watchBridge keeps the "bridge" health component in step with the link
func watchBridge(ctx context.Context, sub events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Type == events.EventBridgeUp {
				metrics.UpdateComponent("bridge", true, "peer network "+ev.Metadata["peer_network_id"])
			} else {
				metrics.UpdateComponent("bridge", false, "link down")
			}
		}
	}
}

// runBridge keeps one bridge running until ctx ends. A listening bridge
// serves one peer at a time; a dialling bridge reconnects after
// RetryInterval when the link is lost.
func runBridge(ctx context.Context, b *broker.Broker, cfg BridgeConfig, bcfg bridge.Config) error {
	logger := log.WithNetworkID(cfg.NetworkID).With().Str("component", "bridge").Logger()

	next, stop, err := linkSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()

	for {
		link, err := next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if cfg.Listen != "" {
				return fmt.Errorf("bridge listener: %v", err)
			}
			logger.Warn().Err(err).Str("peer", cfg.Peer).Msg("Bridge dial failed")
			if !sleepCtx(ctx, cfg.RetryInterval) {
				return nil
			}
			continue
		}

		br, err := bridge.New(b, link, bcfg)
		if err != nil {
			_ = link.Close()
			return err
		}
		err = br.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn().Err(err).Msg("Bridge ended")
		if cfg.Peer != "" && !sleepCtx(ctx, cfg.RetryInterval) {
			return nil
		}
	}
}

// linkSource returns a function yielding successive links for cfg
func linkSource(ctx context.Context, cfg BridgeConfig) (func(context.Context) (transport.Link, error), func(), error) {
	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("bridge tls: %w", err)
	}
	if tlsCfg != nil {
		warnExpiring(tlsCfg)
	}

	if cfg.Peer != "" {
		if cfg.Transport == transportGRPC {
			var opts []grpc.DialOption
			if tlsCfg != nil {
				opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
			}
			return func(ctx context.Context) (transport.Link, error) {
				return transport.DialGRPC(ctx, cfg.Peer, opts...)
			}, func() {}, nil
		}
		if tlsCfg != nil {
			dialer := &tls.Dialer{Config: tlsCfg}
			return func(ctx context.Context) (transport.Link, error) {
				conn, err := dialer.DialContext(ctx, "tcp", cfg.Peer)
				if err != nil {
					return nil, err
				}
				return transport.NewStreamLink(conn, 0), nil
			}, func() {}, nil
		}
		return func(ctx context.Context) (transport.Link, error) {
			return transport.DialStream(ctx, "tcp", cfg.Peer)
		}, func() {}, nil
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %v", cfg.Listen, err)
	}

	if cfg.Transport == transportGRPC {
		var opts []grpc.ServerOption
		if tlsCfg != nil {
			opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
		}
		srv := transport.NewGRPCServer(opts...)
		go func() { _ = srv.Serve(lis) }()
		return srv.Accept, srv.Stop, nil
	}

	if tlsCfg != nil {
		lis = tls.NewListener(lis, tlsCfg)
	}
	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	return func(context.Context) (transport.Link, error) {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, transport.ErrClosed
			}
			return nil, err
		}
		return transport.NewStreamLink(conn, 0), nil
	}, func() { stop(); _ = lis.Close() }, nil
}

// warnExpiring logs when the bridge's own certificate is close to expiry
func warnExpiring(cfg *tls.Config) {
	logger := log.WithComponent("bridge")
	for _, cert := range cfg.Certificates {
		if cert.Leaf != nil && security.CertNeedsRotation(cert.Leaf) {
			logger.Warn().
				Str("subject", cert.Leaf.Subject.CommonName).
				Dur("remaining", security.GetCertTimeRemaining(cert.Leaf)).
				Msg("Bridge certificate expires soon")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
