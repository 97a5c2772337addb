// Command gatewayd runs the LLM inference gateway: it loads a config file,
// builds the model/function object graph it describes, and serves the
// gateway's HTTP surface until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tensorzero/tensorzero-sub009/eventstore"
	"github.com/tensorzero/tensorzero-sub009/eventstore/mongostore"
	"github.com/tensorzero/tensorzero-sub009/function"
	"github.com/tensorzero/tensorzero-sub009/gwconfig"
	"github.com/tensorzero/tensorzero-sub009/gwhttp"
	"github.com/tensorzero/tensorzero-sub009/gwtelemetry"
	"github.com/tensorzero/tensorzero-sub009/orchestrator"
)

func main() {
	var (
		addrF     = flag.String("addr", "localhost:3000", "HTTP listen address")
		configF   = flag.String("config", "gateway.yaml", "Path to the gateway configuration file")
		mongoURIF = flag.String("mongo-uri", "", "MongoDB connection URI; when empty, inference events are kept in an in-process memory store instead of persisted")
		mongoDBF  = flag.String("mongo-database", "tensorzero", "MongoDB database name, used only when -mongo-uri is set")
		watchF    = flag.Bool("watch", true, "Reload the configuration file on change")
	)
	flag.Parse()

	logger := gwtelemetry.NewClueLogger()
	ctx, cancel := context.WithCancel(context.Background())

	cfg, err := gwconfig.Load(*configF)
	if err != nil {
		logger.Error(ctx, "gatewayd: failed to load config", "path", *configF, "error", err.Error())
		cancel()
		os.Exit(1)
	}

	store, err := buildStore(ctx, *mongoURIF, *mongoDBF, logger)
	if err != nil {
		logger.Error(ctx, "gatewayd: failed to initialize event store", "error", err.Error())
		cancel()
		os.Exit(1)
	}

	dispatcher, models, err := gwconfig.Build(ctx, cfg, gwconfig.BuildOptions{})
	if err != nil {
		logger.Error(ctx, "gatewayd: failed to build model/function graph", "error", err.Error())
		cancel()
		os.Exit(1)
	}

	gateway := &orchestrator.Gateway{
		Dispatcher: dispatcher,
		Models:     models,
		Store:      store,
		Logger:     logger,
		Metrics:    gwtelemetry.NewClueMetrics(),
		Tracer:     gwtelemetry.NewClueTracer(),
	}

	server := &gwhttp.Server{
		Gateway: gateway,
		Logger:  logger,
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx, *addrF); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	if *watchF {
		watcher, err := gwconfig.NewWatcher(gwconfig.WatcherConfig{Path: *configF}, logger)
		if err != nil {
			logger.Error(ctx, "gatewayd: failed to start config watcher", "error", err.Error())
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := watcher.Watch(ctx, func() error {
					return reload(ctx, *configF, dispatcher, logger)
				})
				if err != nil && ctx.Err() == nil {
					logger.Error(ctx, "gatewayd: config watcher stopped", "error", err.Error())
				}
			}()
		}
	}

	logger.Info(ctx, "gatewayd: exiting", "cause", (<-errc).Error())
	cancel()
	wg.Wait()
	logger.Info(ctx, "gatewayd: exited")
}

// reload re-parses and rebuilds the config tree, swapping the dispatcher's
// function set in place so in-flight requests against the old set finish
// uninterrupted. The model registry is intentionally left untouched by a
// reload: swapping live modelchain.Chain values out from under in-flight
// requests is unsafe without a generation-counted registry, which is out
// of scope here; only function/variant definitions hot-reload.
func reload(ctx context.Context, path string, dispatcher *function.Dispatcher, logger gwtelemetry.Logger) error {
	cfg, err := gwconfig.Load(path)
	if err != nil {
		return fmt.Errorf("gatewayd: reload: %w", err)
	}
	newDispatcher, _, err := gwconfig.Build(ctx, cfg, gwconfig.BuildOptions{})
	if err != nil {
		return fmt.Errorf("gatewayd: reload: %w", err)
	}
	dispatcher.Functions = newDispatcher.Functions
	logger.Info(ctx, "gatewayd: configuration reloaded", "path", path)
	return nil
}

// buildStore connects to MongoDB when a URI is configured, otherwise falls
// back to an in-process memory store so the gateway is runnable without any
// external dependency during local development.
func buildStore(ctx context.Context, uri, database string, logger gwtelemetry.Logger) (eventstore.Store, error) {
	if uri == "" {
		logger.Info(ctx, "gatewayd: no -mongo-uri configured, inference events will not be persisted across restarts")
		return eventstore.NewMemoryStore(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongodriver.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("gatewayd: connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("gatewayd: ping mongodb: %w", err)
	}
	return mongostore.New(ctx, mongostore.Options{Client: client, Database: database})
}
