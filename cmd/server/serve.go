package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/daudio/internal/adapters/audio"
	router "github.com/dkeye/daudio/internal/adapters/http"
	"github.com/dkeye/daudio/internal/adapters/memfabric"
	"github.com/dkeye/daudio/internal/adapters/wsfabric"
	"github.com/dkeye/daudio/internal/app/device"
	"github.com/dkeye/daudio/internal/app/fabric"
	"github.com/dkeye/daudio/internal/app/orch"
	"github.com/dkeye/daudio/internal/config"
	"github.com/dkeye/daudio/internal/core"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/dkeye/daudio/internal/metrics"
)

const (
	shutdownTimeout = 5 * time.Second
	loopbackPeer    = "loopback"
)

type serveOptions struct {
	configPath string
	open       string
	peer       string
	dhID       string
}

func serveCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audio node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.open {
			case "", "mic", "speaker":
			default:
				return fmt.Errorf("--open must be mic or speaker, got %q", opts.open)
			}
			if opts.open != "" && opts.peer == "" {
				return errors.New("--open needs --peer")
			}
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	cmd.Flags().StringVar(&opts.open, "open", "", "open a remote device on start: mic or speaker")
	cmd.Flags().StringVar(&opts.peer, "peer", "", "peer device id for --open")
	cmd.Flags().StringVar(&opts.dhID, "dh-id", "1", "device handle id for --open")
	return cmd
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// node is one SessionFabric with its orchestrator.
type node struct {
	fabric *fabric.SessionFabric
	orch   *orch.Orchestrator
}

func newNode(cfg *config.Config, net core.Fabric, peers []string, provider core.Provider, m *metrics.Collector) *node {
	sf := fabric.New(net, fabric.Config{
		OutboundQueueSize: cfg.Fabric.OutboundQueue,
		MaxMessageLen:     cfg.Fabric.MaxMessageLen,
		MaxFrameLen:       cfg.Fabric.MaxFrameLen,
	}, m)
	o := orch.New(orch.Config{
		DeviceID:      cfg.DeviceID,
		Peers:         peers,
		OpenTimeout:   cfg.Fabric.OpenTimeout,
		QueueSize:     cfg.TaskQueue.MaxSize,
		MaxMessageLen: sf.Config().MaxMessageLen,
		Device: device.Options{
			JitterCapacity:   cfg.Audio.JitterCapacity,
			JitterPrefill:    cfg.Audio.JitterPrefill,
			PopWait:          cfg.Audio.PopWait,
			LatencyThreshold: cfg.Audio.LatencyThreshold,
			DumpDir:          cfg.Audio.DumpDir,
		},
	}, sf, provider, core.EventSinkFunc(logEvent(cfg.DeviceID)), m)
	return &node{fabric: sf, orch: o}
}

func logEvent(deviceID string) func(domain.AudioEvent) {
	return func(ev domain.AudioEvent) {
		log.Info().Str("module", "server").Str("device", deviceID).Str("type", ev.Type.String()).Str("content", ev.Content).Msg("audio event")
	}
}

func serve(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	setupLogger(config.LogConfig{Level: "info", Console: true})
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	param, err := cfg.AudioParam()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	provider, err := audio.NewProvider(audio.Config{
		Mode:        cfg.Audio.Mode,
		CaptureFile: cfg.Audio.CaptureFile,
		RenderFile:  cfg.Audio.RenderFile,
	})
	if err != nil {
		return err
	}
	if c, ok := provider.(io.Closer); ok {
		defer c.Close()
	}

	deps := router.Deps{Gatherer: reg}
	var nodes []*node
	switch cfg.Fabric.Transport {
	case "memory":
		// Loopback mode: an in-process peer answers on the same provider.
		network := memfabric.NewNetwork()
		local := newNode(cfg, network.Endpoint(cfg.DeviceID), []string{loopbackPeer}, provider, m)
		peerCfg := *cfg
		peerCfg.DeviceID = loopbackPeer
		remote := newNode(&peerCfg, network.Endpoint(loopbackPeer), []string{cfg.DeviceID}, provider, nil)
		nodes = append(nodes, local, remote)
	default:
		ws := wsfabric.New(wsfabric.Config{
			DeviceID:     cfg.DeviceID,
			Peers:        cfg.PeerRoutes(),
			WriteTimeout: cfg.Fabric.WriteTimeout,
			PingPeriod:   cfg.Fabric.PingPeriod,
		})
		defer ws.Close()
		deps.Fabric = ws.Handler()
		nodes = append(nodes, newNode(cfg, ws, cfg.PeerIDs(), provider, m))
	}
	deps.Sessions = nodes[0].fabric
	deps.Peers = nodes[0].orch

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(cfg, deps),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		g.Go(func() error {
			defer n.fabric.Stop()
			return n.orch.Run(gctx)
		})
	}
	g.Go(func() error {
		log.Info().Str("module", "server").Str("addr", addr).Str("device", cfg.DeviceID).Msg("daudio server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("module", "server").Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	if opts.open != "" {
		g.Go(func() error {
			openOnStart(gctx, nodes[0].orch, opts, param, cfg.Fabric.OpenTimeout)
			return nil
		})
	}

	err = g.Wait()
	log.Info().Str("module", "server").Msg("server exited")
	return err
}

// openOnStart retries until the peer answers or ctx ends.
func openOnStart(ctx context.Context, o *orch.Orchestrator, opts serveOptions, param domain.AudioParam, backoff time.Duration) {
	open := o.OpenRemoteSpeaker
	if opts.open == "mic" {
		open = o.OpenRemoteMic
	}
	for {
		err := open(ctx, opts.peer, opts.dhID, param)
		if err == nil {
			log.Info().Str("module", "server").Str("peer", opts.peer).Str("dh_id", opts.dhID).Str("device", opts.open).Msg("remote device requested")
			return
		}
		log.Warn().Err(err).Str("module", "server").Str("peer", opts.peer).Msg("open remote device, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
