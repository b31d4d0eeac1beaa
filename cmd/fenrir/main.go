// Command fenrir is the process entry point: it loads configuration,
// wires the logger, worker pool, executor, rate limiter and HTTP
// front-end together, starts the internal diagnostics listener, and
// blocks until an OS signal triggers graceful drain, assembling small,
// independently testable components the same way other cmd/ binaries do.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nabbar/fenrir/certificates/tlsversion"
	"github.com/nabbar/fenrir/internal/accept"
	"github.com/nabbar/fenrir/internal/appconfig"
	"github.com/nabbar/fenrir/internal/applog"
	"github.com/nabbar/fenrir/internal/duration"
	"github.com/nabbar/fenrir/internal/filecache"
	"github.com/nabbar/fenrir/internal/health"
	"github.com/nabbar/fenrir/internal/healthapi"
	"github.com/nabbar/fenrir/internal/metrics"
	"github.com/nabbar/fenrir/internal/middleware"
	"github.com/nabbar/fenrir/internal/ratelimit"
	"github.com/nabbar/fenrir/internal/response"
	"github.com/nabbar/fenrir/internal/sapi"
	"github.com/nabbar/fenrir/internal/server"
	"github.com/nabbar/fenrir/internal/tlsaccept"
	"github.com/nabbar/fenrir/internal/workerpool"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a yaml/toml/json configuration file")
	flag.Parse()

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fenrir: configuration error: %v\n", err)
		return 1
	}

	log := applog.New(applog.ParseLevel(cfg.Log.Level))

	started := time.Now()
	checker := health.New()
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	var obs *metrics.Observer
	if cfg.Metrics.Enabled {
		obs = metrics.New(reg)
	}

	pool := workerpool.New(cfg.Pool.Workers, cfg.Pool.QueueCapacity)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	}()

	executor, err := buildExecutor(cfg.Executor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fenrir: executor error: %v\n", err)
		return 1
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		window, werr := duration.Parse(cfg.RateLimit.Window)
		if werr != nil {
			fmt.Fprintf(os.Stderr, "fenrir: rate limit window: %v\n", werr)
			return 1
		}
		limiter = ratelimit.New(cfg.RateLimit.Requests, window.Time())
	}

	requestTimeout, err := duration.Parse(cfg.Pool.RequestTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fenrir: pool.requestTimeout: %v\n", err)
		return 1
	}

	idlePeek, err := duration.Parse(cfg.Timeouts.IdlePeek)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fenrir: timeouts.idlePeek: %v\n", err)
		return 1
	}
	headerRead, err := duration.Parse(cfg.Timeouts.HeaderRead)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fenrir: timeouts.headerRead: %v\n", err)
		return 1
	}

	var fileCache *filecache.Cache
	var staticCacheSeconds int
	if cfg.FileCache.Enabled {
		fcTTL, fcerr := duration.Parse(cfg.FileCache.TTL)
		if fcerr != nil {
			fmt.Fprintf(os.Stderr, "fenrir: fileCache.ttl: %v\n", fcerr)
			return 1
		}
		fileCache = filecache.New(cfg.FileCache.Capacity, fcTTL.Time())
		staticCacheSeconds = int(fcTTL.Time().Seconds())
	}

	errorPages, eperr := response.LoadErrorPages(cfg.Executor.ErrorPagesDir)
	if eperr != nil {
		fmt.Fprintf(os.Stderr, "fenrir: executor.errorPagesDir: %v\n", eperr)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var servers []*server.Server
	for _, l := range cfg.Listen {
		tlsCfg, terr := buildTLS(cfg, l.TLS)
		if terr != nil {
			fmt.Fprintf(os.Stderr, "fenrir: tls configuration for %s: %v\n", l.Address, terr)
			return 1
		}

		srv := server.New(server.Options{
			Listen: accept.Config{
				Address:   l.Address,
				Workers:   l.Workers,
				Backlog:   l.Backlog,
				ReusePort: l.ReusePort,
			},
			TLSConfig:          tlsCfg,
			ScriptRoot:         cfg.Executor.ScriptRoot,
			IndexFile:          cfg.Executor.IndexFile,
			RequestTime:        requestTimeout.Time(),
			IdlePeek:           idlePeek.Time(),
			HeaderRead:         headerRead.Time(),
			Log:                log,
			Metrics:            obs,
			Health:             checker,
			RateLimit:          limiter,
			Middleware:         middleware.NewChain(),
			Executor:           executor,
			Pool:               pool,
			FileCache:          fileCache,
			StaticCacheSeconds: staticCacheSeconds,
			ErrorPages:         errorPages,
			UploadTempDir:      cfg.Executor.UploadTempDir,
		})
		servers = append(servers, srv)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(s *server.Server) {
			errCh <- s.ListenAndServe(ctx)
		}(srv)
	}

	var healthSrv *http.Server
	if cfg.Health.Enabled {
		healthSrv = &http.Server{
			Addr: cfg.Health.Address,
			Handler: healthapi.Mux(healthapi.Checks{
				Health: checker,
				Pool:   pool,
				ActiveConns: func() int64 {
					var total int64
					for _, s := range servers {
						total += s.ActiveConnections()
					}
					return total
				},
				StartedAt: started,
				Version:   "fenrir",
				Config:    redact(cfg),
			}, cfg.Metrics.Enabled),
		}
		go func() {
			if lerr := healthSrv.ListenAndServe(); lerr != nil && lerr != http.ErrServerClosed {
				log.Error("internal listener failed", lerr, applog.Fields{"address": cfg.Health.Address})
			}
		}()
	}

	checker.MarkStarted()

	<-ctx.Done()
	log.Info("shutdown signal received, draining", applog.Fields{})

	drainTimeout, derr := duration.Parse(cfg.Timeouts.ShutdownDrain)
	if derr != nil {
		drainTimeout = duration.Seconds(30)
	}

	for range servers {
		<-errCh
	}

	if healthSrv != nil {
		dctx, cancel := context.WithTimeout(context.Background(), drainTimeout.Time())
		defer cancel()
		_ = healthSrv.Shutdown(dctx)
	}

	log.Info("shutdown complete", applog.Fields{})
	return 0
}

func buildExecutor(cfg appconfig.ExecutorConfig) (sapi.Executor, error) {
	switch cfg.Kind {
	case "", "stub":
		return sapi.NewStub(), nil
	case "eval":
		return sapi.NewEval("php-cgi", cfg.ScriptRoot), nil
	case "ffi":
		// The real in-process interpreter binding is out of scope here;
		// this placeholder documents the shape without pretending to run
		// one.
		return sapi.NewFFI(func(ctx context.Context, req sapi.Request, bridge sapi.Bridge) (sapi.Response, error) {
			h := make(map[string][]string, 1)
			h["Content-Type"] = []string{"text/plain; charset=utf-8"}
			bridge.SendHeaders(501, h)
			body := []byte("ffi executor not wired to an interpreter\n")
			_, _ = bridge.WriteOutput(body)
			return sapi.Response{Status: 501, Body: body}, nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}

func buildTLS(cfg *appconfig.Config, enabled bool) (*tls.Config, error) {
	if !enabled {
		return nil, nil
	}
	minVersion := tlsversion.VersionTLS12
	if cfg.TLS.MinVersion != "" {
		if v := tlsversion.Parse(cfg.TLS.MinVersion); v != tlsversion.VersionUnknown {
			minVersion = v
		}
	}
	return tlsaccept.BuildConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, minVersion, "")
}

// redact clears the TLS private key path before exposing the configuration
// through the /config diagnostics endpoint; the certificate path is kept.
func redact(cfg *appconfig.Config) *appconfig.Config {
	c := *cfg
	c.TLS.KeyFile = ""
	return &c
}
