// handler.go — основной обработчик API pm-admin.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "github.com/Reptilefury/prediction-markets-sub000/internal/api/errors"
	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/service"
)

// maxBodyBytes — предельный размер тела запроса.
const maxBodyBytes = 1 << 20

// PermissionManager — операции над разрешениями (service.PermissionService).
type PermissionManager interface {
	List(ctx context.Context) []model.Permission
	ListByModule(ctx context.Context, module string) []model.Permission
	ListPaged(ctx context.Context, page, size int) (model.Page[model.Permission], error)
	Create(ctx context.Context, req service.CreatePermissionRequest) (*model.Permission, error)
	Update(ctx context.Context, name string, description *string) (*model.Permission, error)
	Delete(ctx context.Context, name string) error
}

// RoleManager — операции над ролями (service.RoleService).
type RoleManager interface {
	List(ctx context.Context) []model.Role
	GetByName(ctx context.Context, name string) (*model.Role, error)
	Create(ctx context.Context, req service.CreateRoleRequest) (*model.Role, error)
	Update(ctx context.Context, name string, req service.UpdateRoleRequest) (*model.Role, error)
	Delete(ctx context.Context, name string) error
}

// AdminUserManager — операции над администраторами (service.AdminUserService).
type AdminUserManager interface {
	Create(ctx context.Context, req service.CreateAdminUserRequest) (*model.AdminUser, error)
	Get(ctx context.Context, id string) (*model.AdminUserDetails, error)
	List(ctx context.Context, limit, offset int) ([]*model.AdminUser, int, error)
	Search(ctx context.Context, term string, limit, offset int) ([]*model.AdminUser, int, error)
	Update(ctx context.Context, id string, req service.UpdateAdminUserRequest) (*model.AdminUser, error)
	Delete(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string) (*model.AdminUser, error)
}

// IDPManager — статус Keycloak и сверка зеркала (service.IDPService).
type IDPManager interface {
	GetStatus(ctx context.Context) *service.IDPStatus
	SyncMirror(ctx context.Context) (*model.MirrorSyncResult, error)
}

var (
	_ PermissionManager = (*service.PermissionService)(nil)
	_ RoleManager       = (*service.RoleService)(nil)
	_ AdminUserManager  = (*service.AdminUserService)(nil)
	_ IDPManager        = (*service.IDPService)(nil)
)

// APIHandler — основной обработчик API pm-admin.
type APIHandler struct {
	health      *HealthHandler
	permissions PermissionManager
	roles       RoleManager
	adminUsers  AdminUserManager
	idp         IDPManager
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	permissions PermissionManager,
	roles RoleManager,
	adminUsers AdminUserManager,
	idp IDPManager,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		permissions: permissions,
		roles:       roles,
		adminUsers:  adminUsers,
		idp:         idp,
		validate:    newValidator(),
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetOpenAPI — OpenAPI контракт (делегируется в HealthHandler).
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, r *http.Request) {
	h.health.GetOpenAPI(w, r)
}

// --- Вспомогательные функции ---

// newValidator создаёт валидатор, сообщающий JSON-имена полей.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody разбирает JSON тела запроса в dst и валидирует его.
// При ошибке записывает 400 и возвращает false.
func (h *APIHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		apierrors.ValidationError(w, validationMessage(err))
		return false
	}
	return true
}

// validationMessage формирует сообщение из ошибок validator.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return "Ошибка валидации: " + strings.Join(parts, "; ")
}

// serviceError отвечает по ошибке сервисного слоя.
// Нераспознанные ошибки логируются как Error.
func (h *APIHandler) serviceError(w http.ResponseWriter, err error, subject, msg string, attrs ...any) {
	if apierrors.FromService(w, err, subject) {
		h.logger.Warn(msg, append(attrs, slog.String("error", err.Error()))...)
		return
	}
	h.logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}
