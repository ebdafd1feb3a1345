// Точка входа pm-admin — сервис управления доступом администраторов.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует клиент Keycloak Admin API, сервисный слой и API handlers,
// запускает фоновые задачи (сверка зеркала, topologymetrics),
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/Reptilefury/prediction-markets-sub000/internal/api/handlers"
	"github.com/Reptilefury/prediction-markets-sub000/internal/api/middleware"
	"github.com/Reptilefury/prediction-markets-sub000/internal/api/openapi"
	"github.com/Reptilefury/prediction-markets-sub000/internal/config"
	"github.com/Reptilefury/prediction-markets-sub000/internal/database"
	"github.com/Reptilefury/prediction-markets-sub000/internal/events"
	"github.com/Reptilefury/prediction-markets-sub000/internal/keycloak"
	"github.com/Reptilefury/prediction-markets-sub000/internal/repository"
	"github.com/Reptilefury/prediction-markets-sub000/internal/server"
	"github.com/Reptilefury/prediction-markets-sub000/internal/service"
)

const (
	// keycloakHTTPTimeout — таймаут запросов к Keycloak Admin API
	keycloakHTTPTimeout = 30 * time.Second
	// Повторы получения service account токена
	tokenRetryAttempts = 3
	tokenRetryBase     = 200 * time.Millisecond
	tokenRetryMax      = 2 * time.Second
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("pm-admin запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("PM_DEPHEALTH_GROUP") == "" {
		logger.Warn("PM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics: проверка PostgreSQL
	// идёт через тот же пул, что и рабочие запросы.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент для Keycloak (с кастомным CA, если задан)
	kcHTTPClient := &http.Client{Timeout: keycloakHTTPTimeout}
	if cfg.KeycloakCACertPath != "" {
		kcHTTPClient, err = middleware.HTTPClientWithCA(cfg.KeycloakCACertPath, keycloakHTTPTimeout)
		if err != nil {
			logger.Error("Ошибка загрузки CA-сертификата",
				slog.String("path", cfg.KeycloakCACertPath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.KeycloakCACertPath))
	}

	// 6. Keycloak Admin API клиент
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		kcHTTPClient,
		logger,
		keycloak.WithClientCache(cfg.KeycloakClientCacheSize, cfg.KeycloakClientCacheTTL),
		keycloak.WithTokenRetry(tokenRetryAttempts, tokenRetryBase, tokenRetryMax),
	)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
		slog.String("permissions_client", cfg.KeycloakPermissionsClient),
	)

	// 7. Repositories
	permRepo := repository.NewPermissionRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)
	adminUserRepo := repository.NewAdminUserRepository(pool)
	syncStateRepo := repository.NewSyncStateRepository(pool)

	// 8. Services
	permissionsSvc := service.NewPermissionService(kcClient, permRepo, cfg.KeycloakPermissionsClient, logger)
	rolesSvc := service.NewRoleService(kcClient, permissionsSvc, roleRepo, logger)
	adminUsersSvc := service.NewAdminUserService(kcClient, adminUserRepo, roleRepo, logger)
	idpSvc := service.NewIDPService(
		kcClient, permissionsSvc, syncStateRepo,
		cfg.KeycloakURL, cfg.KeycloakRealm,
		logger,
	)

	// 9. Публикация событий (Kafka, если заданы брокеры)
	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("Публикация событий в Kafka включена",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	} else {
		logger.Info("PM_KAFKA_BROKERS не задан, события не публикуются")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Ошибка закрытия публикатора событий", slog.String("error", err.Error()))
		}
	}()
	permissionsSvc.SetEventPublisher(publisher)
	rolesSvc.SetEventPublisher(publisher)
	adminUsersSvc.SetEventPublisher(publisher)

	// 10. Фоновая сверка зеркала
	mirrorSyncSvc := service.NewMirrorSyncService(
		kcClient, permissionsSvc, permRepo, roleRepo, syncStateRepo,
		cfg.MirrorSyncInterval,
		logger,
	)
	idpSvc.SetMirrorSyncService(mirrorSyncSvc)

	// 11. Начальная сверка зеркала при старте
	logger.Info("Начальная сверка зеркала с Keycloak...")
	if _, syncErr := mirrorSyncSvc.SyncNow(ctx); syncErr != nil {
		logger.Warn("Ошибка начальной сверки зеркала",
			slog.String("error", syncErr.Error()),
		)
	}

	// 12. Readiness checkers (PostgreSQL + зеркало, Keycloak) и OpenAPI контракт
	contract, err := openapi.JSON(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	// Зеркало считается устаревшим после трёх пропущенных циклов сверки
	pgChecker := database.NewReadinessChecker(pool, 3*cfg.MirrorSyncInterval)
	healthHandler := handlers.NewHealthHandler(pgChecker, kcClient, contract)

	// 13. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		permissionsSvc,
		rolesSvc,
		adminUsersSvc,
		idpSvc,
		logger,
	)

	// 14. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.KeycloakCACertPath,
		cfg.JWTIssuer,
		cfg.KeycloakPermissionsClient,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 15. Запуск фоновых задач
	mirrorSyncSvc.Start(ctx)

	// 15.1 topologymetrics — мониторинг зависимостей (PostgreSQL + Keycloak)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "pm-admin",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		PostgresURL:     cfg.DatabaseURL(),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 16. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 17. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	mirrorSyncSvc.Stop()

	logger.Info("pm-admin остановлен")
}
