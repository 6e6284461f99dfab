package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/analytics"
	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/hardware"
	"github.com/dyluth/patchbay/internal/instance"
	"github.com/dyluth/patchbay/internal/metrics"
	"github.com/dyluth/patchbay/internal/overlay"
	"github.com/dyluth/patchbay/internal/pipeline"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/internal/ratelimit"
	"github.com/dyluth/patchbay/internal/routing"
	"github.com/dyluth/patchbay/internal/server"
	"github.com/dyluth/patchbay/internal/state"
	"github.com/dyluth/patchbay/pkg/coordination"
)

var serveChannel string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the command pipeline",
	Long: `Run the command pipeline.

Chat messages are read from standard input, one per line, as

  <user> <message>

Configured admins may also use the admin console (route assignment, overlay
toggle, clear, emergency stop, stats).

The HTTP listener serves:
  /healthz    Redis connectivity check
  /metrics    Prometheus metrics
  /overlay    WebSocket overlay feed
  /api/stats  Pipeline, limiter and coordination counters`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveChannel, "channel", "stdin", "Channel name recorded with each message")
	rootCmd.AddCommand(serveCmd)
}

// statsResponse is served at /api/stats.
type statsResponse struct {
	Instance     string                `json:"instance"`
	Namespace    string                `json:"namespace"`
	Pipeline     pipeline.Stats        `json:"pipeline"`
	Coordination coordination.BusStats `json:"coordination"`
	Overlay      overlay.HubStats      `json:"overlay"`
	Hardware     *hardware.SinkStats   `json:"hardware,omitempty"`
	Analytics    *analytics.Stats      `json:"analytics,omitempty"`
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	identity, err := instance.Resolve(cfg.InstanceID)
	if err != nil {
		return printer.Error("invalid instance identity", err.Error(), []string{"Set instance_id in patchbay.yml or PATCHBAY_INSTANCE_ID"})
	}
	cats, err := loadCatalogs(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	routes := routing.NewTable(cats.outputs, cats.validator, routeStore(cfg, rdb))
	if err := routes.Load(ctx); err != nil {
		return printer.Error("failed to load routing table", err.Error(), nil)
	}

	limiter := ratelimit.New(cfg.RateLimit.Limiter(), ratelimit.NewRedisCooldownStore(rdb, cfg.Namespace))

	bus, err := coordination.NewBus(rdb, cfg.Namespace, identity)
	if err != nil {
		return fmt.Errorf("failed to create coordination bus: %w", err)
	}

	store := state.NewStore(rdb, cfg.Namespace, state.DefaultMaxActive)
	hub := overlay.NewHub(store, overlayEnabled(ctx, cfg, store))
	defer hub.Close()

	sink, sinkStats := newSink(cfg)
	m := metrics.New(limiter, bus)

	deps := pipeline.Deps{
		Validator: cats.validator,
		Limiter:   limiter,
		Routes:    routes,
		Sink:      sink,
		Bus:       bus,
		Overlay:   hub,
		State:     store,
		Metrics:   m,
		Instance:  identity,
		Namespace: cfg.Namespace,
	}

	var recorder *analytics.Recorder
	recorderDone := make(chan struct{})
	if cfg.Analytics != nil {
		db, rec, err := openAnalytics(ctx, cfg.Analytics)
		if err != nil {
			printer.Warning("Analytics disabled: %v\n", err)
		} else {
			defer db.Close()
			recorder = rec
			deps.Analytics = rec
			go func() {
				defer close(recorderDone)
				rec.Run(ctx)
			}()
		}
	}
	if recorder == nil {
		close(recorderDone)
	}

	p, err := pipeline.New(deps)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	p.SyncRoutes()

	sub, err := bus.Subscribe(ctx)
	if err != nil {
		printer.Warning("Coordination disabled (continuing standalone): %v\n", err)
	} else {
		defer sub.Close()
		go coordination.Dispatch(ctx, sub, p.Coordinator())
	}

	go limiter.Run(ctx)

	srv := server.New(cfg.Server.Port, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	srv.Handle("/metrics", m.Handler())
	srv.Handle("/overlay", hub)
	srv.HandleJSON("/api/stats", func() any {
		resp := statsResponse{
			Instance:     identity,
			Namespace:    cfg.Namespace,
			Pipeline:     p.Stats(),
			Coordination: bus.Stats(),
			Overlay:      hub.Stats(),
		}
		if sinkStats != nil {
			s := sinkStats()
			resp.Hardware = &s
		}
		if recorder != nil {
			s := recorder.Stats()
			resp.Analytics = &s
		}
		return resp
	})
	if err := srv.Start(); err != nil {
		return printer.Error("failed to start HTTP server", err.Error(),
			[]string{fmt.Sprintf("Choose another port with server.port (currently %d)", cfg.Server.Port)})
	}

	printer.Success("Patchbay serving as %s (namespace %s, %d routes, http %s)\n",
		identity, cfg.Namespace, routes.Len(), srv.Addr())

	go func() {
		if err := readChat(ctx, os.Stdin, serveChannel, cfg, p); err != nil {
			log.Printf("[Chat] Input error: %v", err)
		}
		log.Printf("[Chat] Input closed; still serving until interrupted")
	}()

	<-ctx.Done()
	printer.Step("Shutting down...\n")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Shutdown error: %v", err)
	}
	p.Wait()
	<-recorderDone

	printer.Success("Patchbay stopped\n")
	return nil
}

// overlayEnabled combines the configured default with the persisted toggle.
func overlayEnabled(ctx context.Context, cfg *config.Config, store *state.Store) bool {
	if !cfg.OverlayEnabled() {
		return false
	}
	enabled, err := store.OverlayEnabled(ctx)
	if err != nil {
		log.Printf("[Overlay] Failed to read persisted overlay state: %v", err)
		return true
	}
	return enabled
}

// newSink returns the OSC sink when a host is configured, otherwise a sink
// that only logs. The second result reads delivery counters, or is nil.
func newSink(cfg *config.Config) (hardware.Sink, func() hardware.SinkStats) {
	if cfg.OSC.Host == "" {
		printer.Warning("No osc.host configured; CV updates will be logged only\n")
		return hardware.NewLogSink(), nil
	}
	sink := hardware.NewOSCSink(cfg.OSC.Host, cfg.OSC.Port)
	return sink, sink.Stats
}

func openAnalytics(ctx context.Context, cfg *config.AnalyticsConfig) (*sql.DB, *analytics.Recorder, error) {
	db, err := analytics.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	opts := analytics.DefaultOptions()
	if cfg.Buffer > 0 {
		opts.Buffer = cfg.Buffer
	}
	rec := analytics.NewRecorder(db, opts)
	if err := rec.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, rec, nil
}
