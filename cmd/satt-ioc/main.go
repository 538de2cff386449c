// satt-ioc runs the solid attenuator engine over an in-process bus: table
// store, settings, the attenuator system service, and optionally simulated
// motors plus a fixed beam energy for bench use.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"attenuator-go/absorb"
	"attenuator-go/bus"
	"attenuator-go/metrics"
	"attenuator-go/services/attensys"
	"attenuator-go/services/motorsim"
	"attenuator-go/services/settings"
	"attenuator-go/types"
)

var (
	flagConfig    string
	flagDebug     bool
	flagSim       bool
	flagSimEnergy float64
	flagSimTravel time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "satt-ioc",
		Short:         "solid attenuator decision and actuation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "satt.yaml", "system configuration file")
	root.Flags().BoolVar(&flagDebug, "debug", false, "verbose logging")
	root.Flags().BoolVar(&flagSim, "sim", false, "run simulated motors and a fixed beam energy")
	root.Flags().Float64Var(&flagSimEnergy, "sim-energy", 9500, "simulated photon energy in eV")
	root.Flags().DurationVar(&flagSimTravel, "sim-travel", 500*time.Millisecond, "simulated blade travel time")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "satt-ioc:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}

	log, err := buildLogger()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(cfg.BusQueueLen)

	store, err := absorb.NewStore(cfg.TablesDir, log.Named("absorb"))
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		store.Run(ctx)
		return nil
	})

	set := settings.New(b.NewConnection("settings"), log.Named("settings"), cfg)
	if err := set.Start(ctx); err != nil {
		return err
	}

	sys := attensys.New(b.NewConnection("attensys"), log.Named("attensys"), cfg, store, met)
	if err := sys.Start(ctx); err != nil {
		return err
	}

	if flagSim {
		sim := motorsim.New(b.NewConnection("motorsim"), log.Named("motorsim"),
			len(cfg.Blades), flagSimTravel)
		if err := sim.Start(ctx); err != nil {
			return err
		}
		conn := b.NewConnection("simbeam")
		conn.PublishRetained(attensys.TopicBeamStatus, types.LinkStatus{Up: true})
		conn.PublishRetained(attensys.TopicBeamEnergy, flagSimEnergy)
		log.Info("simulation mode", zap.Float64("energy_ev", flagSimEnergy))
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, reg, log) })
	}

	log.Info("engine up",
		zap.String("name", cfg.Name),
		zap.Int("blades", len(cfg.Blades)),
		zap.Bool("ladder", cfg.Ladder()))

	return g.Wait()
}

func loadConfig(path string) (*types.SystemConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg types.SystemConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func buildLogger() (*zap.Logger, error) {
	if flagDebug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	log.Info("metrics listener up", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
