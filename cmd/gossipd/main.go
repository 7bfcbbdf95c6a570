package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"gossipsim/internal/config"
	"gossipsim/internal/eventlog"
	"gossipsim/internal/gossip"
	"gossipsim/internal/logging"
	"gossipsim/internal/node"
	"gossipsim/internal/registry"
	"gossipsim/internal/telemetry"
	"gossipsim/internal/topology"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "gossipd: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gossipd: logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	app := fx.New(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			loadNeighbors,
			newMetrics,
			newSink,
			newNode,
		),
		fx.Invoke(
			runNode,
			runAdmin,
			runRegistry,
		),
	)
	if err := app.Err(); err != nil {
		logger.Fatal("failed to build node", zap.Error(err))
	}
	app.Run()
}

func loadConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("gossipd", flag.ContinueOnError)
	path := fs.String("config", "", "YAML configuration file")
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadNeighbors reads the topology once; the table never changes after.
func loadNeighbors(cfg *config.Config, logger *zap.Logger) ([]gossip.Peer, error) {
	path, err := cfg.TopologyPath()
	if err != nil {
		if errors.Is(err, topology.ErrTopologyNotFound) {
			return nil, fmt.Errorf("no topology for model=%s nodes=%d clusters=%d in %s: %w",
				cfg.Model, cfg.Nodes, cfg.Clusters, cfg.TopologyDir, err)
		}
		return nil, err
	}
	t, err := topology.ReadFile(path)
	if err != nil {
		return nil, err
	}
	book, err := cfg.AddressBook()
	if err != nil {
		return nil, err
	}
	peers, err := config.BuildNeighbors(t, cfg.NodeID, book)
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("node_id", cfg.NodeID),
		zap.String("topology", path),
		zap.Int("nodes", t.Graph.NumNodes()),
		zap.Int("neighbors", len(peers)),
	}
	if t.Clustered() {
		fields = append(fields, zap.Int("clusters", t.TotalClusters))
	}
	logger.Info("loaded topology", fields...)
	return peers, nil
}

func newMetrics(cfg *config.Config) *telemetry.Metrics {
	return telemetry.NewMetrics(cfg.NodeID)
}

func newSink(lc fx.Lifecycle, cfg *config.Config, m *telemetry.Metrics, logger *zap.Logger) (gossip.Sink, error) {
	sinks := gossip.MultiSink{m}
	if cfg.Events.Stdout {
		w := eventlog.NewWriter(os.Stdout)
		sinks = append(sinks, w)
		lc.Append(fx.StopHook(func() {
			_ = w.Sync()
		}))
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		ks, err := eventlog.DialKafka(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ks)
		lc.Append(fx.StopHook(func() error {
			sent, failed, dropped := ks.Stats()
			logger.Info("kafka sink closing",
				zap.Uint64("sent", sent),
				zap.Uint64("failed", failed),
				zap.Uint64("dropped", dropped))
			return ks.Close()
		}))
	}
	return sinks, nil
}

func newNode(cfg *config.Config, neighbors []gossip.Peer, sink gossip.Sink, m *telemetry.Metrics, logger *zap.Logger) (*node.Node, error) {
	mode, err := gossip.ParseFanoutMode(cfg.FanoutMode)
	if err != nil {
		return nil, err
	}
	return node.NewNode(node.Options{
		ID:                   cfg.NodeID,
		ListenAddr:           cfg.ListenAddr,
		Neighbors:            neighbors,
		Sink:                 sink,
		Observer:             m,
		Logger:               logger,
		Mode:                 mode,
		CallTimeout:          cfg.CallTimeout,
		MaxFanouts:           cfg.MaxFanouts,
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		NumStreamWorkers:     cfg.NumStreamWorkers,
	})
}

func runNode(lc fx.Lifecycle, sd fx.Shutdowner, n *node.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := n.Start(); err != nil {
				return err
			}
			go func() {
				if err := <-n.Done(); err != nil {
					logger.Error("grpc server stopped", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			n.Stop()
			return nil
		},
	})
}

func runAdmin(lc fx.Lifecycle, cfg *config.Config, n *node.Node, m *telemetry.Metrics, logger *zap.Logger) {
	if cfg.AdminAddr == "" {
		return
	}
	srv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           telemetry.Router(m, n.Gossip().Status, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.AdminAddr)
			if err != nil {
				return fmt.Errorf("admin listen %s: %w", cfg.AdminAddr, err)
			}
			logger.Info("admin server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("admin server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// runRegistry announces the node in etcd once it serves.
func runRegistry(lc fx.Lifecycle, cfg *config.Config, n *node.Node, logger *zap.Logger) error {
	if len(cfg.Etcd.Endpoints) == 0 {
		return nil
	}
	cli, err := registry.Dial(cfg.Etcd.Endpoints, cfg.Etcd.Timeout)
	if err != nil {
		return fmt.Errorf("etcd: %w", err)
	}
	reg := registry.New(cli, cfg.Etcd.Prefix, cfg.Etcd.TTLSeconds, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return reg.Register(ctx, cfg.NodeID, n.Addr())
		},
		OnStop: func(ctx context.Context) error {
			err := reg.Deregister(ctx)
			return errors.Join(err, cli.Close())
		},
	})
	return nil
}
