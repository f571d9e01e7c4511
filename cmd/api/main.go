package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"stockdesk/internal/adapters/alphavantage"
	"stockdesk/internal/adapters/appwrite"
	"stockdesk/internal/adapters/feeds"
	"stockdesk/internal/adapters/filestore"
	"stockdesk/internal/adapters/repo"
	"stockdesk/internal/domain"
	"stockdesk/internal/infra/cache"
	"stockdesk/internal/infra/config"
	"stockdesk/internal/infra/db"
	httpinfra "stockdesk/internal/infra/http"
	applog "stockdesk/internal/infra/log"
	"stockdesk/internal/infra/metrics"
	"stockdesk/internal/infra/queue"
	"stockdesk/internal/querycache"
	"stockdesk/internal/usecase/articles"
	"stockdesk/internal/usecase/market"
	"stockdesk/internal/usecase/profiles"
	"stockdesk/internal/usecase/session"
	"stockdesk/internal/usecase/watchlists"
)

// backend объединяет шлюзы удалённого хранилища.
type backend struct {
	articles   domain.ArticleStore
	profiles   domain.ProfileStore
	watchlists domain.WatchListStore
	files      domain.FileStore
	opener     fileOpener
	auth       domain.AuthGateway
	close      func()
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, cfg.LogFile)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("api: аварийная остановка")
	}
}

// run собирает зависимости и обслуживает HTTP до отмены ctx. Ресурсы
// освобождаются до возврата, в том числе при ошибке запуска.
func run(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	bus, closeBus, err := openBus(cfg, rdb)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer closeBus()

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.close()

	cacheOpts := []querycache.Option{
		querycache.WithKeepUnusedFor(cfg.Query.KeepUnused),
		querycache.WithFetchTimeout(cfg.Query.FetchTimeout),
		querycache.WithLogger(logger.With().Str("component", "querycache").Logger()),
	}
	var relay *queue.InvalidationRelay
	if bus != nil {
		relay = queue.NewInvalidationRelay(bus, logger.With().Str("component", "relay").Logger())
		cacheOpts = append(cacheOpts, querycache.WithNotifier(relay))
	}
	qc := querycache.New(cacheOpts...)
	defer qc.Close()

	avOpts := []alphavantage.Option{
		alphavantage.WithTimeout(cfg.Market.Timeout),
		alphavantage.WithLogger(logger.With().Str("component", "alphavantage").Logger()),
	}
	if rdb != nil {
		avOpts = append(avOpts, alphavantage.WithCache(cache.NewRedis(rdb, "stockdesk:"), cfg.Market.CacheTTL))
	}
	marketData := alphavantage.New(cfg.Market.AlphaVantageURL, cfg.Market.AlphaVantageKey, avOpts...)
	var headlines domain.HeadlineFeed
	if cfg.Market.HeadlinesURL != "" {
		headlines = feeds.NewHeadlines(cfg.Market.HeadlinesURL, cfg.Market.Timeout)
	}

	sessOpts := []session.Option{}
	if bus != nil {
		sessOpts = append(sessOpts, session.WithBus(bus))
	}
	sessions := session.NewRegistry(store.auth, logger.With().Str("component", "session").Logger(), sessOpts...)
	defer sessions.Close()

	a := &api{
		articles:   articles.NewService(qc, store.articles, store.files),
		watchlists: watchlists.NewService(qc, store.watchlists),
		profiles:   profiles.NewService(qc, store.profiles, store.files, logger.With().Str("component", "profiles").Logger()),
		market:     market.NewService(qc, marketData, headlines),
		sessions:   sessions,
		files:      store.opener,
		secure:     strings.HasPrefix(cfg.PublicURL, "https://"),
		log:        logger.With().Str("component", "api").Logger(),
	}

	if relay != nil {
		go func() {
			if err := relay.Listen(ctx, qc); err != nil {
				logger.Error().Err(err).Msg("api: ретранслятор инвалидаций остановлен")
			}
		}()
	}
	go func() {
		if err := sessions.Listen(ctx); err != nil {
			logger.Error().Err(err).Msg("api: подписка на события сессий остановлена")
		}
	}()

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	a.routes(srv.Router)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("backend", cfg.StoreBackend).Msg("api: старт")
		serveErr <- srv.Start(":" + strconv.Itoa(cfg.Port))
	}()
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api: остановка сервера")
	}
	return nil
}

// openBus выбирает шину событий по EVENT_BUS. Пустое значение отключает шину.
func openBus(cfg config.AppConfig, rdb *redis.Client) (domain.EventBus, func(), error) {
	switch cfg.EventBus {
	case "":
		return nil, func() {}, nil
	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("EVENT_BUS=redis требует REDIS_ADDR")
		}
		return queue.NewRedisBus(rdb), func() {}, nil
	case "amqp":
		bus, err := queue.NewRabbitBus(cfg.AMQPURL)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { _ = bus.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("неизвестная шина %q", cfg.EventBus)
	}
}

func openBackend(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (backend, error) {
	switch cfg.StoreBackend {
	case config.BackendAppwrite:
		client := appwrite.New(appwrite.Config{
			Endpoint:             cfg.Appwrite.Endpoint,
			ProjectID:            cfg.Appwrite.ProjectID,
			APIKey:               cfg.Appwrite.APIKey,
			DatabaseID:           cfg.Appwrite.DatabaseID,
			CollectionArticles:   cfg.Appwrite.CollectionArticles,
			CollectionProfiles:   cfg.Appwrite.CollectionProfiles,
			CollectionWatchLists: cfg.Appwrite.CollectionWatchLists,
			BucketID:             cfg.Appwrite.BucketID,
		})
		return backend{
			articles:   client,
			profiles:   client,
			watchlists: client,
			files:      client,
			opener:     client,
			auth:       client,
			close:      func() {},
		}, nil
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			return backend{}, fmt.Errorf("connect: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return backend{}, err
		}
		files, err := filestore.New(afero.NewOsFs(), cfg.FilesDir, cfg.PublicURL)
		if err != nil {
			pool.Close()
			return backend{}, fmt.Errorf("file store: %w", err)
		}
		pg := repo.NewPostgres(pool, cfg.SessionTTL)
		logger.Info().Str("files_dir", cfg.FilesDir).Msg("api: postgres и локальные файлы")
		return backend{
			articles:   pg,
			profiles:   pg,
			watchlists: pg,
			files:      files,
			opener:     files,
			auth:       pg,
			close:      pool.Close,
		}, nil
	default:
		return backend{}, fmt.Errorf("неизвестный бэкенд %q", cfg.StoreBackend)
	}
}

var (
	_ fileOpener = (*filestore.Store)(nil)
	_ fileOpener = (*appwrite.Client)(nil)
)
