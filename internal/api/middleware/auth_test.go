package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// testKeyID — идентификатор ключа для тестов.
	testKeyID = "test-key-pm"
	// testIssuer — issuer тестовых токенов.
	testIssuer = "https://keycloak.test/realms/prediction-markets"
	// testClient — клиент разрешений.
	testClient = "pm-admin"
)

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth с JWKS из тестового ключа.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, testIssuer, testClient, testLogger())
}

// tokenOptions — параметры тестового токена.
type tokenOptions struct {
	sub         string
	issuer      string
	realmRoles  []string
	permissions map[string][]string // clientId → client roles
	expired     bool
}

// generateToken генерирует подписанный JWT.
func generateToken(t *testing.T, key *rsa.PrivateKey, opts tokenOptions) string {
	t.Helper()

	exp := time.Now().Add(time.Hour)
	if opts.expired {
		exp = time.Now().Add(-time.Hour)
	}
	issuer := opts.issuer
	if issuer == "" {
		issuer = testIssuer
	}

	claims := jwt.MapClaims{
		"preferred_username": "operator",
		"email":              "operator@test.com",
		"iss":                issuer,
		"exp":                jwt.NewNumericDate(exp),
		"nbf":                jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if opts.sub != "" {
		claims["sub"] = opts.sub
	}
	if len(opts.realmRoles) > 0 {
		claims["realm_access"] = map[string]any{"roles": opts.realmRoles}
	}
	if len(opts.permissions) > 0 {
		access := map[string]any{}
		for client, roles := range opts.permissions {
			access[client] = map[string]any{"roles": roles}
		}
		claims["resource_access"] = access
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

// serve прогоняет запрос через middleware и возвращает recorder.
func serve(h http.Handler, method, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/roles", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// --- Тесты JWT Middleware ---

// TestJWTAuth_ValidToken — валидный JWT с realm и client roles.
func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("claims не найдены в контексте")
		}
		if claims.Subject != "user-123" {
			t.Errorf("ожидался sub=user-123, получен %s", claims.Subject)
		}
		if claims.PreferredUsername != "operator" || claims.Email != "operator@test.com" {
			t.Errorf("username/email = %s/%s", claims.PreferredUsername, claims.Email)
		}
		if len(claims.RealmRoles) != 1 || claims.RealmRoles[0] != "offline_access" {
			t.Errorf("RealmRoles = %v", claims.RealmRoles)
		}
		// client roles чужого клиента не считаются разрешениями
		if len(claims.Permissions) != 1 || claims.Permissions[0] != "admin:read" {
			t.Errorf("Permissions = %v, ожидается [admin:read]", claims.Permissions)
		}
		w.WriteHeader(http.StatusOK)
	}))

	token := generateToken(t, key, tokenOptions{
		sub:        "user-123",
		realmRoles: []string{"offline_access"},
		permissions: map[string][]string{
			testClient: {"admin:read"},
			"account":  {"manage-account"},
		},
	})

	if rec := serve(handler, http.MethodGet, token); rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

// TestJWTAuth_Rejected — токены, которые middleware должен отклонить.
func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not-a-jwt"},
		{"просроченный", "Bearer " + generateToken(t, key, tokenOptions{sub: "u", expired: true})},
		{"чужой issuer", "Bearer " + generateToken(t, key, tokenOptions{sub: "u", issuer: "https://evil.test/realms/x"})},
		{"чужой ключ", "Bearer " + generateToken(t, otherKey, tokenOptions{sub: "u"})},
		{"без sub", "Bearer " + generateToken(t, key, tokenOptions{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// --- Тесты RequirePermission ---

func TestRequirePermission(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(RequirePermission()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	reader := generateToken(t, key, tokenOptions{sub: "r", permissions: map[string][]string{testClient: {"admin:read"}}})
	writer := generateToken(t, key, tokenOptions{sub: "w", permissions: map[string][]string{testClient: {"admin:write"}}})
	wildcard := generateToken(t, key, tokenOptions{sub: "x", permissions: map[string][]string{testClient: {"admin:*"}}})
	superAdmin := generateToken(t, key, tokenOptions{sub: "s", realmRoles: []string{"pm-superadmin"}})
	otherClient := generateToken(t, key, tokenOptions{sub: "o", permissions: map[string][]string{"billing": {"admin:write"}}})
	nobody := generateToken(t, key, tokenOptions{sub: "n"})

	tests := []struct {
		name   string
		method string
		token  string
		want   int
	}{
		{"read для GET", http.MethodGet, reader, http.StatusOK},
		{"read для POST", http.MethodPost, reader, http.StatusForbidden},
		{"write для DELETE", http.MethodDelete, writer, http.StatusOK},
		{"write подразумевает read", http.MethodGet, writer, http.StatusOK},
		{"wildcard модуля", http.MethodPut, wildcard, http.StatusOK},
		{"суперадминистратор", http.MethodPost, superAdmin, http.StatusOK},
		{"разрешение другого клиента", http.MethodPost, otherClient, http.StatusForbidden},
		{"без разрешений", http.MethodGet, nobody, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(handler, tt.method, tt.token); rec.Code != tt.want {
				t.Errorf("ожидался статус %d, получен %d, тело: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

// TestRequirePermission_NoClaims — middleware без JWTAuth перед ним.
func TestRequirePermission_NoClaims(t *testing.T) {
	handler := RequirePermission()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	if rec := serve(handler, http.MethodGet, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// --- Context helpers ---

func TestClaimsFromContext_Empty(t *testing.T) {
	if claims := ClaimsFromContext(context.Background()); claims != nil {
		t.Errorf("ожидался nil, получен %+v", claims)
	}
	if sub := SubjectFromContext(context.Background()); sub != "" {
		t.Errorf("ожидалась пустая строка, получено %q", sub)
	}
}

func TestWithClaims(t *testing.T) {
	ctx := WithClaims(context.Background(), &AuthClaims{Subject: "user-42"})
	if sub := SubjectFromContext(ctx); sub != "user-42" {
		t.Errorf("ожидался sub=user-42, получен %q", sub)
	}
}
