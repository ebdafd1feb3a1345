// Пакет config — загрузка и валидация конфигурации pm-admin
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации pm-admin.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak ---

	// URL Keycloak (например, https://keycloak.example.com)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для доступа к Keycloak Admin API
	KeycloakClientID string
	// Client Secret для доступа к Keycloak Admin API
	KeycloakClientSecret string
	// clientId клиента, client roles которого являются разрешениями
	KeycloakPermissionsClient string
	// Путь к CA-сертификату Keycloak (опционально)
	KeycloakCACertPath string
	// Размер кэша clientId → UUID
	KeycloakClientCacheSize int
	// TTL кэша clientId → UUID
	KeycloakClientCacheTTL time.Duration

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string

	// --- Синхронизация и мониторинг ---

	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Интервал сверки зеркала ролей/разрешений с Keycloak (0 — отключено)
	MirrorSyncInterval time.Duration

	// --- События ---

	// Адреса Kafka брокеров (пусто — события не публикуются)
	KafkaBrokers []string
	// Топик для событий администрирования
	KafkaTopic string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// PM_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("PM_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("PM_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("PM_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	// PM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PM_LOG_LEVEL: %w", err)
	}

	// PM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("PM_DB_HOST"); err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("PM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("PM_DB_PORT: %w", err)
	}

	if cfg.DBName, err = getEnvRequired("PM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("PM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("PM_DB_PASSWORD"); err != nil {
		return nil, err
	}

	// PM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("PM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("PM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Keycloak ---

	if cfg.KeycloakURL, err = getEnvRequired("PM_KEYCLOAK_URL"); err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// PM_KEYCLOAK_REALM — realm (по умолчанию prediction-markets)
	cfg.KeycloakRealm = getEnvDefault("PM_KEYCLOAK_REALM", "prediction-markets")

	if cfg.KeycloakClientID, err = getEnvRequired("PM_KEYCLOAK_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.KeycloakClientSecret, err = getEnvRequired("PM_KEYCLOAK_CLIENT_SECRET"); err != nil {
		return nil, err
	}

	// PM_KEYCLOAK_PERMISSIONS_CLIENT — по умолчанию совпадает с PM_KEYCLOAK_CLIENT_ID
	cfg.KeycloakPermissionsClient = getEnvDefault("PM_KEYCLOAK_PERMISSIONS_CLIENT", cfg.KeycloakClientID)

	cfg.KeycloakCACertPath = getEnvDefault("PM_KEYCLOAK_CA_CERT_PATH", "")

	cfg.KeycloakClientCacheSize, err = getEnvInt("PM_KEYCLOAK_CLIENT_CACHE_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("PM_KEYCLOAK_CLIENT_CACHE_SIZE: %w", err)
	}
	if cfg.KeycloakClientCacheSize < 1 {
		return nil, fmt.Errorf("PM_KEYCLOAK_CLIENT_CACHE_SIZE: значение %d должно быть положительным", cfg.KeycloakClientCacheSize)
	}

	cfg.KeycloakClientCacheTTL, err = getEnvDuration("PM_KEYCLOAK_CLIENT_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_KEYCLOAK_CLIENT_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("PM_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWTJWKSURL = getEnvDefault("PM_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	// --- Синхронизация и мониторинг ---

	cfg.DephealthGroup = getEnvDefault("PM_DEPHEALTH_GROUP", "prediction-markets")

	cfg.DephealthCheckInterval, err = getEnvDuration("PM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// PM_MIRROR_SYNC_INTERVAL — интервал сверки зеркала (по умолчанию 15m, 0 — отключено)
	cfg.MirrorSyncInterval, err = getEnvDuration("PM_MIRROR_SYNC_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PM_MIRROR_SYNC_INTERVAL: %w", err)
	}
	if cfg.MirrorSyncInterval < 0 {
		return nil, fmt.Errorf("PM_MIRROR_SYNC_INTERVAL: отрицательное значение %v", cfg.MirrorSyncInterval)
	}

	// --- События ---

	cfg.KafkaBrokers = parseCSV(getEnvDefault("PM_KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnvDefault("PM_KAFKA_TOPIC", "pm.admin.events")

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("PM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(c.DBUser),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
