package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/heapflame/heapflame/internal/heapprofile"
	"github.com/heapflame/heapflame/internal/httputil"
	"github.com/heapflame/heapflame/internal/logutil"
	"github.com/heapflame/heapflame/internal/selection"
)

type (
	KafkaWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	environment struct {
		config ServiceConfig

		storage   *blob.Bucket
		callsites *selection.Cache

		profilingWriter KafkaWriter
	}
)

var release string

func newEnvironment(cfg ServiceConfig) (*environment, error) {
	bucket, err := blob.OpenBucket(context.Background(), cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	e, err := newEnvironmentWithStorage(cfg, bucket)
	if err != nil {
		_ = bucket.Close()
		return nil, err
	}
	e.profilingWriter = &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Async:        true,
		Balancer:     kafka.CRC32Balancer{},
		BatchSize:    10,
		Compression:  kafka.Lz4,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	return e, nil
}

func newEnvironmentWithStorage(cfg ServiceConfig, bucket *blob.Bucket) (*environment, error) {
	callsites, err := selection.NewCache(heapprofile.Store{Bucket: bucket}, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &environment{
		config:    cfg,
		storage:   bucket,
		callsites: callsites,
	}, nil
}

func (e *environment) shutdown() {
	err := e.storage.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	err = e.profilingWriter.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/processes/:pid/heap_profiles/:timestamp/flamegraph", e.getFlamegraph},
		{http.MethodPost, "/processes/:pid/heap_profiles", e.postHeapProfile},
		{http.MethodGet, "/health", e.getHealth},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

func (e *environment) newHandler() (http.Handler, error) {
	router, err := e.newRouter()
	if err != nil {
		return nil, err
	}
	return sentryhttp.New(sentryhttp.Options{}).Handle(router), nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error reading configuration")
	}

	err = logutil.ConfigureLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("error configuring the logger")
	}

	env, err := newEnvironment(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	handler, err := env.newHandler()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	waitForShutdown := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("starting server")
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	// Shutdown the rest of the environment after the HTTP connections are closed
	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
