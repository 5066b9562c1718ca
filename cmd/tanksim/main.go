// Command tanksim runs the hydraulic network simulator: it ticks the
// network, publishes telemetry and applies commands received over the
// transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/tanknet-simulator/core"
	"github.com/signalsfoundry/tanknet-simulator/internal/codec"
	"github.com/signalsfoundry/tanknet-simulator/internal/command"
	"github.com/signalsfoundry/tanknet-simulator/internal/config"
	"github.com/signalsfoundry/tanknet-simulator/internal/logging"
	"github.com/signalsfoundry/tanknet-simulator/internal/observability"
	"github.com/signalsfoundry/tanknet-simulator/internal/script"
	"github.com/signalsfoundry/tanknet-simulator/internal/sim/state"
	"github.com/signalsfoundry/tanknet-simulator/internal/transport"
	"github.com/signalsfoundry/tanknet-simulator/timectrl"
	"golang.org/x/sync/errgroup"
)

// newBus opens the transport selected by cfg. Tests swap it for a shared
// MemoryBus.
var newBus = func(cfg config.TransportConfig) (transport.Bus, error) {
	switch cfg.Kind {
	case "memory":
		return transport.NewMemoryBus(0), nil
	case "nng":
		return transport.NewNNGBus(transport.NNGConfig{
			PublishAddr:   cfg.TelemetryAddr,
			SubscribeAddr: cfg.CommandAddr,
			PollInterval:  cfg.PollInterval,
		})
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	topology := flag.String("topology", "", "Built-in topology name or path to a topology YAML file")
	tick := flag.Duration("tick", 0, "Tick interval and integrator dt (0 uses the topology's tick_seconds)")
	seed := flag.Uint64("seed", 0, "Perturbation seed (0 picks one at startup)")
	duration := flag.Duration("duration", 0, "Total simulated time; 0 runs until interrupted")
	mode := flag.String("mode", "", "Clock mode: realtime or accelerated")
	accelerated := flag.Bool("accelerated", false, "Shorthand for -mode accelerated")
	paused := flag.Bool("paused", false, "Start with the simulation paused")
	transportKind := flag.String("transport", "", "Transport kind: nng or memory")
	telemetryAddr := flag.String("telemetry-addr", "", "Address the telemetry PUB socket listens on")
	commandAddr := flag.String("command-addr", "", "Address the command SUB socket listens on")
	encoding := flag.String("encoding", "", "Telemetry encoding: json or proto")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	healthAddr := flag.String("health-addr", "", "TCP address for the gRPC health server (empty disables)")
	dumpTopology := flag.String("dump-topology", "", "Print the named topology as YAML and exit")
	listTopologies := flag.Bool("list-topologies", false, "List built-in topologies and exit")
	flag.Parse()

	if *listTopologies {
		for _, name := range core.BuiltinNames() {
			fmt.Println(name)
		}
		return
	}
	if *dumpTopology != "" {
		if err := dumpTopologyYAML(*dumpTopology); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flags win over file and environment, but only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "topology":
			cfg.Simulation.Topology = *topology
		case "tick":
			cfg.Simulation.Tick = *tick
		case "seed":
			cfg.Simulation.Seed = *seed
		case "duration":
			cfg.Simulation.Duration = *duration
		case "mode":
			cfg.Simulation.Mode = *mode
		case "accelerated":
			if *accelerated {
				cfg.Simulation.Mode = "accelerated"
			}
		case "paused":
			cfg.Simulation.Paused = *paused
		case "transport":
			cfg.Transport.Kind = *transportKind
		case "telemetry-addr":
			cfg.Transport.TelemetryAddr = *telemetryAddr
		case "command-addr":
			cfg.Transport.CommandAddr = *commandAddr
		case "encoding":
			cfg.Transport.Encoding = *encoding
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		case "health-addr":
			cfg.Health.Addr = *healthAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	var lis net.Listener
	if cfg.Health.Addr != "" {
		lis, err = net.Listen("tcp", cfg.Health.Addr)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC health", logging.String("addr", cfg.Health.Addr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "simulator exited with error", logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "simulator shut down")
}

// run builds the network and serves until ctx is cancelled or the
// configured duration elapses. lis, when non-nil, carries the gRPC
// health server.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}

	topo, err := core.ResolveTopology(cfg.Simulation.Topology)
	if err != nil {
		return fmt.Errorf("resolve topology: %w", err)
	}
	tick := bindTick(topo, cfg.Simulation.Tick)
	mode, ok := timectrl.ParseMode(cfg.Simulation.Mode)
	if !ok {
		return fmt.Errorf("unknown clock mode %q", cfg.Simulation.Mode)
	}
	enc, err := codec.ByName(cfg.Transport.Encoding)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	opts := []state.NetworkStateOption{state.WithMetricsRecorder(collector)}
	if cfg.Simulation.Seed != 0 {
		opts = append(opts, state.WithSeed(cfg.Simulation.Seed))
	}
	st, err := state.NewNetworkState(topo, log, opts...)
	if err != nil {
		return fmt.Errorf("build network: %w", err)
	}
	log = log.With(logging.String("run_id", st.RunID()), logging.String("topology", st.TopologyName()))
	if cfg.Simulation.Paused {
		st.SetPaused(ctx, true)
	}

	bus, err := newBus(cfg.Transport)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer bus.Close()

	publish := func(ctx context.Context, topic string, payload []byte) {
		if err := bus.Publish(ctx, topic, payload); err != nil {
			collector.RecordPublishError(topic)
			log.Warn(ctx, "publish failed", logging.String("topic", topic), logging.Err(err))
		}
	}

	proc := command.NewProcessor(st, log,
		command.WithRecorder(collector),
		command.WithRateLimit(cfg.Commands.RatePerSecond, cfg.Commands.Burst),
		command.WithReportSink(func(ctx context.Context, rep command.Report) {
			payload, err := rep.Marshal()
			if err != nil {
				log.Warn(ctx, "failed to encode command report", logging.Err(err))
				return
			}
			publish(ctx, cfg.Transport.EventsTopic, payload)
		}),
	)

	var health *observability.HealthServer
	if lis != nil {
		health = observability.NewHealthServer(collector, log)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	tc := timectrl.NewTimeController(time.Now().UTC(), tick, mode)

	var sched *script.Scheduler
	if len(cfg.Simulation.Script) > 0 {
		sched = script.NewScheduler(tc)
		script.Load(sched, tc.StartTime, cfg.Simulation.Script, func(payload []byte) {
			proc.Handle(ctx, payload)
		})
	}

	log.Info(ctx, "starting simulation",
		logging.Duration("tick", tick),
		logging.Duration("duration", cfg.Simulation.Duration),
		logging.String("transport", cfg.Transport.Kind),
		logging.String("encoding", enc.Name()),
		logging.Int("script_steps", sched.Pending()),
	)

	g.Go(func() error {
		// A finite run ends the daemon once the last tick is published.
		defer cancel()
		return runSimLoop(gctx, tc, cfg.Simulation.Duration, st, sched, func(ctx context.Context, tel state.Telemetry) {
			payload, err := enc.Encode(tel.Record())
			if err != nil {
				log.Warn(ctx, "failed to encode telemetry", logging.Uint64("tick", tel.Tick), logging.Err(err))
				return
			}
			publish(ctx, cfg.Transport.TelemetryTopic, payload)
			health.SetSimulatorServing(!tel.Paused)
		}, log)
	})

	g.Go(func() error {
		err := bus.Subscribe(gctx, cfg.Transport.CommandTopic, func(ctx context.Context, msg transport.Message) {
			proc.Handle(ctx, msg.Payload)
		})
		if err != nil && !errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("command subscriber: %w", err)
		}
		return nil
	})

	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Addr, collector, log)
		})
	}

	if health != nil {
		g.Go(func() error {
			log.Info(ctx, "serving gRPC health", logging.String("addr", lis.Addr().String()))
			return health.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			health.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// bindTick makes the clock interval and the integrator's dt the same
// value. A positive tick overrides the topology's tick_seconds; otherwise
// the clock follows the topology.
func bindTick(topo *core.Topology, tick time.Duration) time.Duration {
	if tick > 0 {
		topo.Constants.TickSeconds = tick.Seconds()
		return tick
	}
	if topo.Constants.TickSeconds <= 0 {
		topo.Constants.TickSeconds = core.DefaultConstants().TickSeconds
	}
	return time.Duration(topo.Constants.TickSeconds * float64(time.Second))
}

// runSimLoop drives st from tc until ctx is done or duration of simulated
// time has passed. Scripted commands due at a tick's time are applied
// before that tick. Telemetry is handed to emit after the state lock is
// released; a tick in progress when ctx is cancelled still completes.
func runSimLoop(
	ctx context.Context,
	tc *timectrl.TimeController,
	duration time.Duration,
	st *state.NetworkState,
	sched *script.Scheduler,
	emit func(context.Context, state.Telemetry),
	log logging.Logger,
) error {
	if tc == nil || st == nil {
		return errors.New("runSimLoop: missing controller or state")
	}
	var tickErr error
	tc.AddListener(func(now time.Time) {
		if tickErr != nil {
			return
		}
		sched.RunDue()
		tel, err := st.RunTick(ctx, now)
		if err != nil {
			tickErr = err
			return
		}
		if emit != nil {
			emit(ctx, tel)
		}
	})

	<-tc.Start(ctx, duration)
	log.Info(context.Background(), "tick loop stopped", logging.Uint64("ticks", tc.Ticks()))
	return tickErr
}

func metricsMux(collector *observability.SimCollector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func serveMetrics(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(collector),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn(context.Background(), "metrics server shutdown error", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func dumpTopologyYAML(ref string) error {
	topo, err := core.ResolveTopology(ref)
	if err != nil {
		return err
	}
	out, err := core.MarshalTopology(topo)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
