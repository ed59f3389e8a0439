package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/segmentio/ksuid"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/conductorone/catalog-sync/pkg/catalogdb"
	"github.com/conductorone/catalog-sync/pkg/config"
	"github.com/conductorone/catalog-sync/pkg/logging"
	"github.com/conductorone/catalog-sync/pkg/metrics"
	"github.com/conductorone/catalog-sync/pkg/retry"
	catalogsync "github.com/conductorone/catalog-sync/pkg/sync"
	"github.com/conductorone/catalog-sync/pkg/uhttp"
	"github.com/conductorone/catalog-sync/pkg/woocommerce"
)

type needs int

const (
	needSource needs = 1 << iota
	needDestination
)

// app holds what a command needs, built from the validated configuration.
type app struct {
	cfg    *config.Config
	db     *catalogdb.DB
	source *woocommerce.Source
	dest   *woocommerce.Destination
	engine *catalogsync.Engine

	shutdownMetrics func(context.Context) error
}

func setup(ctx context.Context, v *viper.Viper, n needs) (context.Context, *app, error) {
	cfg, err := config.Load(v, config.Schema)
	if err != nil {
		return ctx, nil, err
	}

	ctx, err = logging.Init(ctx,
		logging.WithLogLevel(cfg.LogLevel),
		logging.WithLogFormat(cfg.LogFormat),
		logging.WithInitialFields(map[string]interface{}{
			"invocation_id": ksuid.New().String(),
		}),
	)
	if err != nil {
		return ctx, nil, err
	}

	if n&needSource != 0 {
		if err := cfg.RequireSource(); err != nil {
			return ctx, nil, err
		}
	}
	if n&needDestination != 0 {
		if err := cfg.RequireDestination(); err != nil {
			return ctx, nil, err
		}
	}

	a := &app{cfg: cfg}
	if cfg.Source.Configured() {
		client, err := newClient(cfg, cfg.Source)
		if err != nil {
			return ctx, nil, err
		}
		a.source = woocommerce.NewSource(client)
	}
	if cfg.Destination.Configured() {
		client, err := newClient(cfg, cfg.Destination)
		if err != nil {
			return ctx, nil, err
		}
		a.dest, err = woocommerce.NewDestination(client, woocommerce.WithMediaCredentials(woocommerce.Credentials{
			Username: cfg.MediaUser,
			Password: cfg.MediaPassword,
		}))
		if err != nil {
			return ctx, nil, err
		}
	}

	handler := metrics.NewNoOpHandler(ctx)
	if cfg.MetricsStdout {
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return ctx, nil, err
		}
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		handler = metrics.NewOtelHandler(ctx, provider, "catalog-sync")
		a.shutdownMetrics = provider.Shutdown
	}

	a.db, err = catalogdb.Open(ctx, cfg.DBPath)
	if err != nil {
		return ctx, nil, err
	}

	// Typed nils must not reach the engine as non-nil interfaces.
	var remote catalogsync.RemoteCatalog
	if a.source != nil {
		remote = a.source
	}
	var dest catalogsync.DestinationWriter
	if a.dest != nil {
		dest = a.dest
	}

	a.engine, err = catalogsync.NewEngine(a.db, remote, dest,
		catalogsync.WithPageSize(cfg.PageSize),
		catalogsync.WithCategoryPageSize(cfg.CategoryPageSize),
		catalogsync.WithMetrics(metrics.New(handler, catalogsync.ErrorKind)),
	)
	if err != nil {
		_ = a.db.Close()
		return ctx, nil, err
	}

	return ctx, a, nil
}

func newClient(cfg *config.Config, ep config.Endpoint) (*woocommerce.Client, error) {
	return woocommerce.NewClient(ep.URL,
		woocommerce.Credentials{Username: ep.ConsumerKey, Password: ep.ConsumerSecret},
		&http.Client{Timeout: cfg.HTTPTimeout},
		uhttp.WithRateLimit(cfg.RequestsPerSecond),
		uhttp.WithRetry(httpRetryConfig(cfg)),
		uhttp.WithPrintBody(cfg.LogLevel == "debug"),
	)
}

func httpRetryConfig(cfg *config.Config) retry.RetryConfig {
	return retry.RetryConfig{
		MaxAttempts:  uint(cfg.MaxRetries) + 1,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func (a *app) close(ctx context.Context) {
	l := ctxzap.Extract(ctx)

	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.shutdownMetrics != nil {
		errs = append(errs, a.shutdownMetrics(context.WithoutCancel(ctx)))
	}
	if err := errors.Join(errs...); err != nil {
		l.Error("error closing resources", zap.Error(err))
	}
	_ = l.Sync()
}
