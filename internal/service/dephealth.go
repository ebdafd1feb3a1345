// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
//
// Зависимости pm-admin (обе критические):
//   - PostgreSQL (зеркало) — SQL checker через *sql.DB поверх pgxpool
//   - Keycloak — HTTP checker к JWKS endpoint realm
//
// Метрики публикуются на /metrics:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status, app_dependency_status_detail — статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthService — мониторинг зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// DephealthConfig — параметры мониторинга.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (pm-admin)
	ServiceID string
	// Group — группа в метриках (PM_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB, полученный через stdlib.OpenDBFromPool
	DB *sql.DB
	// PostgresURL — URL PostgreSQL без пароля, только для лейблов
	PostgresURL string
	// KeycloakJWKSURL — JWKS endpoint realm
	KeycloakJWKSURL string
	// KeycloakTLSSkipVerify — не проверять сертификат Keycloak (dev)
	KeycloakTLSSkipVerify bool
	// CheckInterval — интервал проверок (PM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// Registerer — registry метрик; nil — глобальный
	Registerer prometheus.Registerer
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP("keycloak-jwks",
			dephealth.FromURL(cfg.KeycloakJWKSURL),
			dephealth.WithHTTPHealthPath(jwksHealthPath(cfg.KeycloakJWKSURL)),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
			dephealth.WithHTTPTLSSkipVerify(cfg.KeycloakTLSSkipVerify),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// jwksHealthPath возвращает path JWKS URL. /health у Keycloak доступен
// только на management-порту, поэтому проверяется сам JWKS endpoint.
func jwksHealthPath(jwksURL string) string {
	if parsed, err := url.Parse(jwksURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return "/health"
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (PostgreSQL + Keycloak)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает состояние зависимостей: имя → ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
