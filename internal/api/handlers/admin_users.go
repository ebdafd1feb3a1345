// admin_users.go — обработчики /api/v1/admin-users endpoints.
// Создание администратора провижинит учётную запись Keycloak с ролью.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/Reptilefury/prediction-markets-sub000/internal/api/errors"
	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/service"
)

// adminUserResponse — администратор в ответах API.
type adminUserResponse struct {
	ID               string              `json:"id"`
	FirstName        string              `json:"firstName"`
	LastName         string              `json:"lastName"`
	Username         string              `json:"username"`
	Email            openapi_types.Email `json:"email"`
	Phone            *string             `json:"phone,omitempty"`
	RoleID           string              `json:"roleId"`
	Status           string              `json:"status"`
	TwoFactorEnabled bool                `json:"twoFactorEnabled"`
	KeycloakUserID   *string             `json:"keycloakUserId,omitempty"`
	LastLoginAt      *time.Time          `json:"lastLoginAt,omitempty"`
	LoginAttempts    int                 `json:"loginAttempts"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// adminUserDetailsResponse — администратор с ролью и разрешениями.
type adminUserDetailsResponse struct {
	adminUserResponse
	RoleName    *string  `json:"roleName,omitempty"`
	Permissions []string `json:"permissions"`
}

// adminUserListResponse — страница администраторов.
type adminUserListResponse struct {
	Items   []adminUserResponse `json:"items"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"hasMore"`
}

type createAdminUserBody struct {
	FirstName        string              `json:"firstName" validate:"required,max=100"`
	LastName         string              `json:"lastName" validate:"required,max=100"`
	Email            openapi_types.Email `json:"email" validate:"required,email,max=255"`
	Phone            string              `json:"phone" validate:"omitempty,e164"`
	RoleID           string              `json:"roleId" validate:"required,uuid"`
	Status           string              `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE SUSPENDED"`
	TwoFactorEnabled bool                `json:"twoFactorEnabled"`
}

type updateAdminUserBody struct {
	FirstName        *string              `json:"firstName" validate:"omitempty,max=100"`
	LastName         *string              `json:"lastName" validate:"omitempty,max=100"`
	Email            *openapi_types.Email `json:"email" validate:"omitempty,email,max=255"`
	Phone            *string              `json:"phone" validate:"omitempty,e164"`
	RoleID           *string              `json:"roleId" validate:"omitempty,uuid"`
	Status           *string              `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE SUSPENDED"`
	TwoFactorEnabled *bool                `json:"twoFactorEnabled"`
}

// ListAdminUsers — GET /api/v1/admin-users.
// ?search= — поиск по имени, фамилии, username, email; ?limit=&offset= — пагинация.
func (h *APIHandler) ListAdminUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var search string
	var limitParam, offsetParam *int
	if err := runtime.BindQueryParameter("form", true, false, "search", query, &search); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр search: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limitParam); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &offsetParam); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр offset: "+err.Error())
		return
	}

	limit, offset := paginationDefaults(limitParam, offsetParam)

	var (
		users []*model.AdminUser
		total int
		err   error
	)
	if search != "" {
		users, total, err = h.adminUsers.Search(r.Context(), search, limit, offset)
	} else {
		users, total, err = h.adminUsers.List(r.Context(), limit, offset)
	}
	if err != nil {
		h.serviceError(w, err, "Администратор", "Ошибка получения списка администраторов")
		return
	}

	items := make([]adminUserResponse, len(users))
	for i, u := range users {
		items[i] = mapAdminUser(u)
	}

	writeJSON(w, http.StatusOK, adminUserListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// GetAdminUser — GET /api/v1/admin-users/{id}.
// Ответ дополнен именем роли и её разрешениями.
func (h *APIHandler) GetAdminUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := h.adminUsers.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "Администратор", "Ошибка получения администратора", "id", id)
		return
	}

	resp := adminUserDetailsResponse{
		adminUserResponse: mapAdminUser(&details.AdminUser),
		Permissions:       details.Permissions,
	}
	if details.RoleName != "" {
		resp.RoleName = &details.RoleName
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateAdminUser — POST /api/v1/admin-users.
func (h *APIHandler) CreateAdminUser(w http.ResponseWriter, r *http.Request) {
	var body createAdminUserBody
	if !h.decodeBody(w, r, &body) {
		return
	}

	user, err := h.adminUsers.Create(r.Context(), service.CreateAdminUserRequest{
		FirstName:        body.FirstName,
		LastName:         body.LastName,
		Email:            string(body.Email),
		Phone:            body.Phone,
		RoleID:           body.RoleID,
		Status:           model.AdminUserStatus(body.Status),
		TwoFactorEnabled: body.TwoFactorEnabled,
	})
	if err != nil {
		h.serviceError(w, err, "Администратор", "Ошибка создания администратора",
			"email", string(body.Email))
		return
	}

	writeJSON(w, http.StatusCreated, mapAdminUser(user))
}

// UpdateAdminUser — PUT /api/v1/admin-users/{id}.
// Частичное обновление: отсутствующие поля не меняются.
func (h *APIHandler) UpdateAdminUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body updateAdminUserBody
	if !h.decodeBody(w, r, &body) {
		return
	}

	req := service.UpdateAdminUserRequest{
		FirstName:        body.FirstName,
		LastName:         body.LastName,
		Phone:            body.Phone,
		RoleID:           body.RoleID,
		TwoFactorEnabled: body.TwoFactorEnabled,
	}
	if body.Email != nil {
		email := string(*body.Email)
		req.Email = &email
	}
	if body.Status != nil {
		status := model.AdminUserStatus(*body.Status)
		req.Status = &status
	}

	user, err := h.adminUsers.Update(r.Context(), id, req)
	if err != nil {
		h.serviceError(w, err, "Администратор", "Ошибка обновления администратора", "id", id)
		return
	}

	writeJSON(w, http.StatusOK, mapAdminUser(user))
}

// DeleteAdminUser — DELETE /api/v1/admin-users/{id}.
// Удаляет учётную запись Keycloak и локальную запись.
func (h *APIHandler) DeleteAdminUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.adminUsers.Delete(r.Context(), id); err != nil {
		h.serviceError(w, err, "Администратор", "Ошибка удаления администратора", "id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RecordAdminLogin — POST /api/v1/admin-users/{id}/last-login.
// Фиксирует успешный вход: lastLoginAt = now, loginAttempts = 0.
func (h *APIHandler) RecordAdminLogin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.adminUsers.UpdateLastLogin(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "Администратор", "Ошибка фиксации входа", "id", id)
		return
	}

	writeJSON(w, http.StatusOK, mapAdminUser(user))
}

// --- Маппинг domain → API ---

// mapAdminUser конвертирует domain model в тип ответа API.
func mapAdminUser(u *model.AdminUser) adminUserResponse {
	result := adminUserResponse{
		ID:               u.ID,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Username:         u.Username,
		Email:            openapi_types.Email(u.Email),
		RoleID:           u.RoleID,
		Status:           string(u.Status),
		TwoFactorEnabled: u.TwoFactorEnabled,
		KeycloakUserID:   u.KeycloakUserID,
		LastLoginAt:      u.LastLoginAt,
		LoginAttempts:    u.LoginAttempts,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}

	if u.Phone != "" {
		phone := u.Phone
		result.Phone = &phone
	}

	return result
}
