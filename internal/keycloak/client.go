// client.go — HTTP-клиент к Keycloak Admin REST API.
// Реализует автоматическое получение service account token через Client Credentials flow,
// кэширование токена (обновление за 30s до expiration) и повтор запроса токена
// с экспоненциальной задержкой.
// Операции над realm roles, composite-связями, client roles и пользователями
// вынесены в roles.go, clients.go, users.go.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Ошибки Admin REST API, распознаваемые вызывающим кодом через errors.Is.
var (
	// ErrNotFound — Keycloak вернул 404.
	ErrNotFound = errors.New("ресурс Keycloak не найден")
	// ErrConflict — Keycloak вернул 409 (ресурс уже существует).
	ErrConflict = errors.New("ресурс Keycloak уже существует")
)

// APIError — ответ Admin REST API с неуспешным статусом.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Keycloak API вернул статус %d: %s", e.StatusCode, e.Body)
}

// Unwrap сводит 404 и 409 к ErrNotFound и ErrConflict.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

// Значения по умолчанию для кэша клиентов и повтора запроса токена.
const (
	defaultClientCacheSize  = 64
	defaultClientCacheTTL   = 10 * time.Minute
	defaultTokenAttempts    = 3
	defaultTokenRetryBase   = 200 * time.Millisecond
	defaultTokenRetryMaxGap = 2 * time.Second
)

// Client — HTTP-клиент к Keycloak Admin REST API.
type Client struct {
	baseURL      string // Базовый URL Keycloak (без trailing slash)
	realm        string // Имя realm
	clientID     string // Client ID для Client Credentials flow
	clientSecret string // Client Secret

	httpClient *http.Client
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// Повтор запроса токена
	tokenAttempts  int
	tokenRetryBase time.Duration
	tokenRetryMax  time.Duration

	// Кэш clientId → представление клиента (UUID нужен для всех запросов к client roles)
	clientCacheSize int
	clientCacheTTL  time.Duration
	clients         *expirable.LRU[string, *ClientRepr]
}

// Option — функциональная опция клиента.
type Option func(*Client)

// WithClientCache задаёт размер и TTL кэша клиентов по clientId.
func WithClientCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		c.clientCacheSize = size
		c.clientCacheTTL = ttl
	}
}

// WithTokenRetry задаёт число попыток и границы задержки при запросе токена.
func WithTokenRetry(attempts int, base, maxInterval time.Duration) Option {
	return func(c *Client) {
		c.tokenAttempts = attempts
		c.tokenRetryBase = base
		c.tokenRetryMax = maxInterval
	}
}

// New создаёт клиент к Keycloak Admin REST API.
// baseURL — базовый URL Keycloak (например, https://keycloak.example.com).
// realm — имя realm (например, prediction-markets).
// clientID, clientSecret — credentials для Client Credentials flow.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		realm:           realm,
		clientID:        clientID,
		clientSecret:    clientSecret,
		httpClient:      httpClient,
		logger:          logger.With(slog.String("component", "keycloak_client")),
		tokenAttempts:   defaultTokenAttempts,
		tokenRetryBase:  defaultTokenRetryBase,
		tokenRetryMax:   defaultTokenRetryMaxGap,
		clientCacheSize: defaultClientCacheSize,
		clientCacheTTL:  defaultClientCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.clients = expirable.NewLRU[string, *ClientRepr](c.clientCacheSize, nil, c.clientCacheTTL)

	return c
}

// Realm возвращает имя realm.
func (c *Client) Realm() string {
	return c.realm
}

// --- Аутентификация ---

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// adminBaseURL возвращает базовый URL Admin REST API для realm.
func (c *Client) adminBaseURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, c.realm)
}

// getToken возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Проверяем кэш: если токен валиден ещё 30 секунд — используем его
	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.requestTokenWithRetry(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Keycloak токен обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// requestTokenWithRetry повторяет Client Credentials flow при сетевых ошибках и 5xx.
// Ответы 4xx не повторяются.
func (c *Client) requestTokenWithRetry(ctx context.Context) (*TokenResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.tokenRetryBase
	b.MaxInterval = c.tokenRetryMax

	var retries uint64
	if c.tokenAttempts > 1 {
		retries = uint64(c.tokenAttempts - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	var token *TokenResponse
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		t, err := c.requestToken(ctx)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Ошибка запроса токена Keycloak, повтор",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}
		token = t
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}

	return token, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("запрос токена: %w", &APIError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}

	return &token, nil
}

// --- HTTP helpers ---

// doAuthorized выполняет HTTP-запрос к Admin REST API с авторизацией.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	reqURL := c.adminBaseURL() + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Keycloak: %w", err)
		}
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(resp *http.Response, expectedStatus int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return nil
}

// idFromLocation извлекает ID созданного ресурса из Location header.
func idFromLocation(resp *http.Response) (string, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("отсутствует Location header в ответе")
	}

	// Location: .../{resource}/{id}
	id := location[strings.LastIndex(location, "/")+1:]
	if id == "" {
		return "", fmt.Errorf("не удалось извлечь ID из Location: %s", location)
	}

	return id, nil
}

// --- Realm API ---

// RealmInfo возвращает информацию о realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}

	var realm RealmRepresentation
	if err := decodeResponse(resp, &realm); err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}

	return &realm, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Keycloak через realm info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}

	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
