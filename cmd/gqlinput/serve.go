package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	config "github.com/hanpama/gqlinput/internal/config"
	engine "github.com/hanpama/gqlinput/internal/engine"
	eventbus "github.com/hanpama/gqlinput/internal/eventbus"
	input "github.com/hanpama/gqlinput/internal/input"
	introspection "github.com/hanpama/gqlinput/internal/introspection"
	metrics "github.com/hanpama/gqlinput/internal/metrics"
	otel "github.com/hanpama/gqlinput/internal/otel"
	router "github.com/hanpama/gqlinput/internal/router"
	server "github.com/hanpama/gqlinput/internal/server"
	ws "github.com/hanpama/gqlinput/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the GraphQL gateway",
		Long: `Run the GraphQL gateway on a schema file.

Fields without a resolver read the same-named key from the JSON document
given by --graphql.data, starting at the root object.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.String("server.addr", d.Server.Addr, "HTTP listen address")
	f.Duration("server.timeout", d.Server.Timeout, "per-request timeout")
	f.Bool("server.pretty", d.Server.Pretty, "pretty-print JSON responses")
	f.Int64("server.max-body-bytes", d.Server.MaxBodyBytes, "maximum request body size, 0 for no limit")
	f.StringSlice("server.metadata-headers", nil, "forward HTTP header to gRPC metadata and the headers extension (repeatable)")
	f.StringSlice("server.cors-origins", nil, "allowed CORS origins, * for any (repeatable)")
	f.Bool("server.request-id-as-execution-id", d.Server.RequestIDAsExecutionID, "use the request id as execution id when none is assigned")
	f.String("graphql.schema", "", "GraphQL SDL file (required)")
	f.String("graphql.data", "", "JSON file served as the root value")
	f.Int("graphql.cache-size", d.GraphQL.CacheSize, "parsed document cache size")
	f.Bool("graphql.introspection", d.GraphQL.Introspection, "serve __schema and __type")
	f.String("otel.endpoint", "", "OTLP collector endpoint")
	f.String("otel.service", d.OTel.Service, "OpenTelemetry service name")
	_ = a.v.BindPFlags(f)
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	defer logEvents(bus, logger)()

	shutdown, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	m.Subscribe(bus)
	defer m.Close()

	h, err := buildHandler(cfg, logger, m.Handler())
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("GraphQL server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// buildHandler wires the engine and both transports behind the router.
func buildHandler(cfg config.Config, logger *log.Logger, metricsHandler http.Handler) (http.Handler, error) {
	if cfg.GraphQL.Schema == "" {
		return nil, errors.New("graphql.schema is required")
	}
	sdl, err := os.ReadFile(cfg.GraphQL.Schema)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	eopts := []engine.Option{
		engine.WithCacheSize(cfg.GraphQL.CacheSize),
		engine.WithResponseExtensions(otel.TraceIDExtension),
	}
	if cfg.GraphQL.Introspection {
		eopts = append(eopts, introspection.Enable())
	} else {
		eopts = append(eopts, introspection.Disable())
	}
	if cfg.GraphQL.Data != "" {
		raw, err := os.ReadFile(cfg.GraphQL.Data)
		if err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}
		var root map[string]any
		if err := json.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("parse data %s: %w", cfg.GraphQL.Data, err)
		}
		eopts = append(eopts, engine.WithRootValue(root))
	}
	eng, err := engine.New(string(sdl), eopts...)
	if err != nil {
		return nil, err
	}

	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithRequestIDAsExecutionID(cfg.Server.RequestIDAsExecutionID),
		server.WithInterceptors(func(ctx context.Context, _ *http.Request, in *input.Input) error {
			in.Configure(otel.TraceConfigurer(ctx))
			return nil
		}),
		server.WithLogger(logger.With("transport", "http")),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.Server.MetadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(cfg.Server.MetadataHeaders...))
	}
	httpHandler, err := server.New(eng, sopts...)
	if err != nil {
		return nil, fmt.Errorf("server init: %w", err)
	}

	wopts := []ws.Option{
		ws.WithRequestIDAsExecutionID(cfg.Server.RequestIDAsExecutionID),
		ws.WithInterceptors(func(ctx context.Context, in *input.Input) error {
			in.Configure(otel.TraceConfigurer(ctx))
			return nil
		}),
		ws.WithLogger(logger.With("transport", "ws")),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		wopts = append(wopts, ws.WithCheckOrigin(originChecker(cfg.Server.CORSOrigins)))
	}
	wsHandler, err := ws.New(eng, wopts...)
	if err != nil {
		return nil, fmt.Errorf("ws init: %w", err)
	}

	return router.New(router.Config{
		GraphQL:     httpHandler,
		WS:          wsHandler,
		Metrics:     metricsHandler,
		CORSOrigins: cfg.Server.CORSOrigins,
		Debug:       logger.GetLevel() <= log.DebugLevel,
		Logger:      logger,
	}), nil
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := map[string]bool{}
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}
