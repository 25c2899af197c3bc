// Package main wires together the sitescribe service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/api"
	"github.com/parkerlabs/sitescribe/internal/classify"
	"github.com/parkerlabs/sitescribe/internal/clock/system"
	"github.com/parkerlabs/sitescribe/internal/config"
	"github.com/parkerlabs/sitescribe/internal/crawl"
	"github.com/parkerlabs/sitescribe/internal/enrich"
	"github.com/parkerlabs/sitescribe/internal/generate"
	"github.com/parkerlabs/sitescribe/internal/hash/sha256"
	"github.com/parkerlabs/sitescribe/internal/id/uuid"
	"github.com/parkerlabs/sitescribe/internal/llm"
	"github.com/parkerlabs/sitescribe/internal/logging"
	"github.com/parkerlabs/sitescribe/internal/notify"
	"github.com/parkerlabs/sitescribe/internal/orchestrator"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/progress"
	"github.com/parkerlabs/sitescribe/internal/progress/sinks"
	"github.com/parkerlabs/sitescribe/internal/scheduler"
	"github.com/parkerlabs/sitescribe/internal/storage"
	gcsblob "github.com/parkerlabs/sitescribe/internal/storage/gcs"
	localblob "github.com/parkerlabs/sitescribe/internal/storage/local"
	memoryblob "github.com/parkerlabs/sitescribe/internal/storage/memory"
	"github.com/parkerlabs/sitescribe/internal/store"
	memorystore "github.com/parkerlabs/sitescribe/internal/store/memory"
	"github.com/parkerlabs/sitescribe/internal/store/postgres"
	"github.com/parkerlabs/sitescribe/internal/taxonomy"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		st     store.Store
		pinger api.Pinger
	)
	switch cfg.DB.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DBConnLifetime(),
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pg.Close()
		st = pg
		pinger = pg
	default:
		st = memorystore.New()
	}

	blobs, cleanup, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	if cleanup != nil {
		defer cleanup()
	}

	hasher := sha256.New()
	clk := system.New()
	idGen := uuid.New()

	fetcher, err := crawl.NewCollyFetcher(crawl.FetcherConfig{
		UserAgent:      cfg.Crawler.UserAgent,
		Concurrency:    cfg.Crawler.Concurrency,
		RequestTimeout: cfg.FetchTimeout(),
		RespectRobots:  cfg.Crawler.RespectRobots,
	}, logger.Named("fetcher"))
	if err != nil {
		logger.Fatal("fetcher init failed", zap.Error(err))
	}

	var (
		renderer crawl.Renderer
		detector crawl.JSDetector
	)
	if cfg.Headless.Enabled {
		chromedpRenderer, err := crawl.NewChromedpRenderer(crawl.RendererConfig{
			MaxParallel: cfg.Headless.MaxParallel,
			NavTimeout:  time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			UserAgent:   cfg.Crawler.UserAgent,
		}, logger.Named("renderer"))
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
		} else {
			defer func() {
				if closeErr := chromedpRenderer.Close(); closeErr != nil {
					logger.Warn("renderer close failed", zap.Error(closeErr))
				}
			}()
			renderer = chromedpRenderer
			detector = crawl.NewHeuristicDetector(cfg.Headless.MinHTMLBytes, nil, nil)
		}
	}

	engine := crawl.NewEngine(
		fetcher,
		renderer,
		detector,
		st,
		blobs,
		hasher,
		clk,
		idGen,
		crawl.EngineConfig{
			MaxRetries:  cfg.Crawler.MaxRetries,
			BlobPrefix:  cfg.Storage.Prefix,
			ContentType: cfg.Storage.ContentType,
		},
		logger.Named("crawl"),
	)

	provider := llm.New(llm.Config{
		BaseURL:       cfg.LLM.BaseURL,
		Model:         cfg.LLM.Model,
		APIKeyEnv:     cfg.LLM.APIKeyEnv,
		Timeout:       time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
	})
	classifier := classify.New(provider, cfg.Classify.ModelBatchSize, logger.Named("classify"))
	builder := taxonomy.NewBuilder(provider, clk, logger.Named("taxonomy"))
	assigner := taxonomy.NewAssigner(provider, cfg.Classify.ModelBatchSize, logger.Named("taxonomy"))

	search := enrich.NewHTTPSearchProvider(enrich.ProviderConfig{
		BaseURL:   cfg.Search.BaseURL,
		APIKeyEnv: cfg.Search.APIKeyEnv,
		Timeout:   time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
	}, logger.Named("search"))
	var cache enrich.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				logger.Warn("redis close failed", zap.Error(closeErr))
			}
		}()
		cache = enrich.NewRedisCache(rdb, time.Duration(cfg.Enrich.CacheTTLH)*time.Hour, logger.Named("enrich"))
	}
	enricher := enrich.New(search, cache, enrich.Config{
		FanOutTop:    cfg.Enrich.FanOutTop,
		Concurrency:  cfg.Enrich.Concurrency,
		MaxQuestions: cfg.Enrich.MaxQuestions,
	}, logger.Named("enrich"))

	style := generate.DefaultStyleRules()
	if cfg.Generate.StyleRulesPath != "" {
		style, err = generate.LoadStyleRules(cfg.Generate.StyleRulesPath)
		if err != nil {
			logger.Fatal("style rules load failed", zap.Error(err))
		}
	}
	researcher := generate.NewResearcher(provider, clk, logger.Named("research"))
	writer := generate.NewWriter(provider, style, generate.WriterConfig{
		RelatedLinks:  cfg.Generate.RelatedLinks,
		PriorityLinks: cfg.Generate.PriorityLinks,
	}, clk, logger.Named("writer"))
	qa := generate.NewQA(provider, style, logger.Named("qa"))
	generator := generate.NewGenerator(researcher, writer, qa, st, st, clk, generate.Config{
		Concurrency:         cfg.Generate.Concurrency,
		ResearchConcurrency: cfg.Generate.ResearchConcurrency,
	}, logger.Named("generate"))

	progressSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Warn("prometheus sink init failed", zap.Error(err))
	} else {
		progressSinks = append(progressSinks, promSink)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")}, progressSinks...)

	orch := orchestrator.New(
		st,
		engine,
		classifier,
		builder,
		assigner,
		enricher,
		generator,
		hub,
		clk,
		orchestrator.Config{
			Locale:            cfg.Enrich.Locale,
			EnrichConcurrency: cfg.Enrich.Concurrency,
		},
		logger.Named("orchestrator"),
	)

	emailCfg := notify.EmailConfig{
		Host:     cfg.Notify.SMTPHost,
		Port:     cfg.Notify.SMTPPort,
		From:     cfg.Notify.SMTPFrom,
		Username: cfg.Notify.SMTPUsername,
		Password: cfg.Notify.SMTPPassword,
	}
	var extraNotifiers []pipeline.Notifier
	if cfg.Notify.PubSubTopic != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.Notify.PubSubProject)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := psClient.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		extraNotifiers = append(extraNotifiers, notify.NewPubSub(psClient.Publisher(cfg.Notify.PubSubTopic)))
	}
	notifier := notify.NewRouter(st, emailCfg, nil, logger.Named("notify"), extraNotifiers...)

	sched := scheduler.New(st, engine, notifier, clk, idGen, logger.Named("scheduler"))
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			logger.Fatal("scheduler start failed", zap.Error(err))
		}
	}

	apiServer := api.NewServer(api.Deps{
		Store:   st,
		Runner:  orch,
		Trigger: sched,
		Regen:   generator,
		IDGen:   idGen,
		Clock:   clk,
		Pinger:  pinger,
		Logger:  logger.Named("api"),
	}, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if cfg.Scheduler.Enabled {
		if err := sched.Close(shutdownCtx); err != nil {
			logger.Error("scheduler shutdown error", zap.Error(err))
		}
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newBlobStore picks the snapshot backend from configuration. The returned
// cleanup func may be nil.
func newBlobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, func(), error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		bs, err := gcsblob.New(client, gcsblob.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, nil, err
		}
		return bs, func() { _ = client.Close() }, nil
	case "local":
		bs, err := localblob.New(localblob.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, err
		}
		return bs, nil, nil
	default:
		return memoryblob.NewBlobStore(), nil, nil
	}
}
