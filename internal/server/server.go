// Пакет server — HTTP-сервер pm-admin с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Reptilefury/prediction-markets-sub000/internal/api/handlers"
	"github.com/Reptilefury/prediction-markets-sub000/internal/api/middleware"
	"github.com/Reptilefury/prediction-markets-sub000/internal/config"
)

// Server — HTTP-сервер pm-admin.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для тестирования без auth).
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, jwtAuth),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты pm-admin.
// Health, metrics и OpenAPI доступны без JWT: их опрашивают Kubernetes
// и Prometheus напрямую, без API Gateway.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) chi.Router {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)
	router.Get("/api/v1/openapi.json", h.GetOpenAPI)

	router.Route("/api/v1", func(r chi.Router) {
		if jwtAuth != nil {
			r.Use(jwtAuth.Middleware())
			r.Use(middleware.RequirePermission())
		}

		r.Route("/permissions", func(r chi.Router) {
			r.Get("/", h.ListPermissions)
			r.Post("/", h.CreatePermission)
			r.Put("/{name}", h.UpdatePermission)
			r.Delete("/{name}", h.DeletePermission)
		})

		r.Route("/roles", func(r chi.Router) {
			r.Get("/", h.ListRoles)
			r.Post("/", h.CreateRole)
			r.Get("/{name}", h.GetRole)
			r.Put("/{name}", h.UpdateRole)
			r.Delete("/{name}", h.DeleteRole)
		})

		r.Route("/admin-users", func(r chi.Router) {
			r.Get("/", h.ListAdminUsers)
			r.Post("/", h.CreateAdminUser)
			r.Get("/{id}", h.GetAdminUser)
			r.Put("/{id}", h.UpdateAdminUser)
			r.Delete("/{id}", h.DeleteAdminUser)
			r.Post("/{id}/last-login", h.RecordAdminLogin)
		})

		r.Get("/idp/status", h.GetIdpStatus)
		r.Post("/idp/sync", h.SyncMirror)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
