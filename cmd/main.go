/*
Copyright 2025 The shiplift Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"k8s.io/utils/clock"

	"github.com/taskops/shiplift/internal/actuator"
	"github.com/taskops/shiplift/internal/buildinfo"
	"github.com/taskops/shiplift/internal/collector"
	"github.com/taskops/shiplift/internal/config"
	"github.com/taskops/shiplift/internal/events"
	"github.com/taskops/shiplift/internal/logging"
	"github.com/taskops/shiplift/internal/pipeline"
	"github.com/taskops/shiplift/internal/replicas"
	"github.com/taskops/shiplift/internal/scaler"
	"github.com/taskops/shiplift/internal/server"
	"github.com/taskops/shiplift/internal/store"
)

// options holds all command-line configuration.
type options struct {
	configPath        string
	listenAddr        string
	controllerURL     string
	metricsSource     string
	prometheusURL     string
	metricsURL        string
	eventsURL         string
	dbPath            string
	retentionHours    int
	pruneSchedule     string
	development       bool
	verbosity         int
	controllerTimeout time.Duration
	printConfig       bool
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configPath, "config", "config.yaml",
		"Path to the service and pipeline configuration file.")
	flag.StringVar(&opts.listenAddr, "listen-addr", ":8080",
		"Address the HTTP API binds to.")
	flag.StringVar(&opts.controllerURL, "replica-controller-url", os.Getenv("SHIPLIFT_CONTROLLER_URL"),
		"Base URL of the replica controller. Empty enables dry-run mode with an in-memory controller.")
	flag.StringVar(&opts.metricsSource, "metrics-source", "fixed",
		"Load sample source: prometheus, http or fixed.")
	flag.StringVar(&opts.prometheusURL, "prometheus-url", "",
		"Prometheus server address, required with --metrics-source=prometheus.")
	flag.StringVar(&opts.metricsURL, "metrics-url", "",
		"Base URL of the plain JSON metrics endpoint, required with --metrics-source=http.")
	flag.StringVar(&opts.eventsURL, "events-url", "",
		"Monitoring endpoint stage events are posted to. Empty disables the HTTP publisher.")
	flag.StringVar(&opts.dbPath, "db-path", "",
		"Path of the sqlite history database. Empty disables persistence.")
	flag.IntVar(&opts.retentionHours, "history-retention-hours", 24*14,
		"How long history rows are kept before pruning.")
	flag.StringVar(&opts.pruneSchedule, "history-prune-schedule", "@hourly",
		"Cron schedule of the history prune job.")
	flag.BoolVar(&opts.development, "dev", false,
		"Enable console log encoding and debug level.")
	flag.IntVarP(&opts.verbosity, "verbosity", "v", logging.INFO,
		"Log verbosity: 0=info, 1=debug, 2=trace.")
	flag.DurationVar(&opts.controllerTimeout, "controller-timeout", 30*time.Second,
		"Per-call timeout for replica controller requests.")
	flag.BoolVar(&opts.printConfig, "print-example-config", false,
		"Print an example configuration file and exit.")
	flag.Parse()

	return opts
}

func main() {
	opts := parseFlags()

	if opts.printConfig {
		os.Stdout.WriteString(config.Example())
		return
	}

	log := logging.NewLogger(logging.Options{Development: opts.development, Level: opts.verbosity})
	setupLog := log.WithName("setup")
	setupLog.Info("starting shiplift", "version", buildinfo.Version())

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		setupLog.Error(err, "loading configuration failed", "path", opts.configPath)
		os.Exit(1)
	}
	setupLog.Info("configuration loaded", "services", cfg.ServiceNames(),
		"stageTimeout", cfg.StageTimeout(), "pollInterval", cfg.PollInterval())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.IntoContext(ctx, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	emitter := actuator.NewMetricsEmitter(registry)

	persistence := setupPersistence(ctx, opts, setupLog)
	var history store.Historian
	if persistence != nil {
		history = persistence.History
	}

	controller := setupController(opts, setupLog)
	source := setupMetricSource(opts, setupLog)

	eventChan := make(chan events.StageEvent, 256)
	startEventQueue(ctx, opts, eventChan, log)

	manager := scaler.NewManager(cfg, source, controller, emitter, history, clock.RealClock{}, log.WithName("scaler"))
	manager.Bootstrap(ctx)
	manager.Start(ctx)

	runner := pipeline.NewRunner(
		pipeline.NewLoggingExecutor(log.WithName("executor")),
		cfg.StageTimeout(), cfg.RetryBound, clock.RealClock{}, log.WithName("runner"))
	orchestrator := pipeline.NewOrchestrator(cfg, runner, controller, emitter,
		eventChan, clock.RealClock{}, log.WithName("pipeline")).
		WithBaseliner(manager)
	if history != nil {
		orchestrator.WithHistory(history)
	}

	srv := server.New(orchestrator, history, manager, registry, log.WithName("server"))
	if err := srv.ListenAndServe(opts.listenAddr); err != nil {
		setupLog.Error(err, "http server failed")
		os.Exit(1)
	}
}

func setupPersistence(ctx context.Context, opts options, setupLog logr.Logger) *store.Persistence {
	persistence, err := store.New(opts.dbPath != "", opts.dbPath)
	if err != nil {
		setupLog.Error(err, "opening history database failed", "path", opts.dbPath)
		os.Exit(1)
	}
	if persistence == nil {
		setupLog.Info("history persistence disabled")
		return nil
	}

	if err := persistence.History.Bootstrap(ctx); err != nil {
		setupLog.Error(err, "bootstrapping history database failed")
		os.Exit(1)
	}

	retention := time.Duration(opts.retentionHours) * time.Hour
	pruner := store.NewPruner(persistence.History, retention, opts.pruneSchedule, setupLog.WithName("pruner"))
	if err := pruner.Start(ctx); err != nil {
		setupLog.Error(err, "starting history pruner failed", "schedule", opts.pruneSchedule)
		os.Exit(1)
	}
	setupLog.Info("history persistence enabled", "path", opts.dbPath, "retention", retention)
	return persistence
}

func setupController(opts options, setupLog logr.Logger) replicas.Controller {
	if opts.controllerURL == "" {
		setupLog.Info("no replica controller configured, running in dry-run mode")
		return replicas.NewFakeController()
	}
	setupLog.Info("replica controller configured", "url", opts.controllerURL)
	return replicas.NewHTTPController(opts.controllerURL, opts.controllerTimeout)
}

func setupMetricSource(opts options, setupLog logr.Logger) collector.MetricSource {
	switch opts.metricsSource {
	case "prometheus":
		if opts.prometheusURL == "" {
			setupLog.Error(nil, "--prometheus-url is required with --metrics-source=prometheus")
			os.Exit(1)
		}
		source, err := collector.NewPrometheusSource(opts.prometheusURL, nil)
		if err != nil {
			setupLog.Error(err, "creating prometheus source failed")
			os.Exit(1)
		}
		setupLog.Info("metric source configured", "source", source.Name(), "url", opts.prometheusURL)
		return source
	case "http":
		if opts.metricsURL == "" {
			setupLog.Error(nil, "--metrics-url is required with --metrics-source=http")
			os.Exit(1)
		}
		source := collector.NewHTTPSource(opts.metricsURL, 10*time.Second)
		setupLog.Info("metric source configured", "source", source.Name(), "url", opts.metricsURL)
		return source
	case "fixed":
		setupLog.Info("metric source configured", "source", "fixed")
		return collector.NewFixedSource()
	default:
		setupLog.Error(nil, "unknown metrics source", "source", opts.metricsSource)
		os.Exit(1)
		return nil
	}
}

func startEventQueue(ctx context.Context, opts options, eventChan chan events.StageEvent, log logr.Logger) {
	publishers := []events.Publisher{
		events.NewLogPublisher(log.WithName("events")),
	}
	if opts.eventsURL != "" {
		publishers = append(publishers, events.NewHTTPPublisher(opts.eventsURL))
		log.Info("monitoring endpoint configured", "url", opts.eventsURL)
	}
	queue := events.NewQueue(eventChan, publishers, log.WithName("events"))
	go queue.Loop(ctx)
}
