// permissions.go — обработчики /api/v1/permissions endpoints.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/Reptilefury/prediction-markets-sub000/internal/api/errors"
	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/service"
)

// defaultPageSize — размер страницы, если задан только page.
const defaultPageSize = 20

// permissionResponse — разрешение в ответах API.
type permissionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Module      string `json:"module"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// permissionPageResponse — страница разрешений.
type permissionPageResponse struct {
	Items         []permissionResponse `json:"items"`
	Page          int                  `json:"page"`
	Size          int                  `json:"size"`
	TotalElements int                  `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	First         bool                 `json:"first"`
	Last          bool                 `json:"last"`
	Empty         bool                 `json:"empty"`
}

type createPermissionBody struct {
	Module      string `json:"module" validate:"required,max=100,excludes=:"`
	Action      string `json:"action" validate:"required,max=100"`
	Description string `json:"description" validate:"max=255"`
}

type updatePermissionBody struct {
	Description *string `json:"description" validate:"omitempty,max=255"`
}

// ListPermissions — GET /api/v1/permissions.
// ?module= — фильтр по модулю; ?page=&size= — постраничный ответ.
// Без page/size возвращается полный список.
func (h *APIHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var module string
	if err := runtime.BindQueryParameter("form", true, false, "module", query, &module); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр module: "+err.Error())
		return
	}
	var page, size *int
	if err := runtime.BindQueryParameter("form", true, false, "page", query, &page); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр page: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "size", query, &size); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр size: "+err.Error())
		return
	}

	if page == nil && size == nil {
		var perms []model.Permission
		if module != "" {
			perms = h.permissions.ListByModule(r.Context(), module)
		} else {
			perms = h.permissions.List(r.Context())
		}
		writeJSON(w, http.StatusOK, mapPermissions(perms))
		return
	}

	p, s := 0, defaultPageSize
	if page != nil {
		p = *page
	}
	if size != nil {
		s = *size
	}

	result, err := h.permissions.ListPaged(r.Context(), p, s)
	if err != nil {
		h.serviceError(w, err, "Разрешение", "Ошибка получения страницы разрешений")
		return
	}

	writeJSON(w, http.StatusOK, permissionPageResponse{
		Items:         mapPermissions(result.Items),
		Page:          result.Page,
		Size:          result.Size,
		TotalElements: result.TotalElements,
		TotalPages:    result.TotalPages,
		First:         result.First,
		Last:          result.Last,
		Empty:         result.Empty,
	})
}

// CreatePermission — POST /api/v1/permissions.
func (h *APIHandler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var body createPermissionBody
	if !h.decodeBody(w, r, &body) {
		return
	}

	perm, err := h.permissions.Create(r.Context(), service.CreatePermissionRequest{
		Module:      body.Module,
		Action:      body.Action,
		Description: body.Description,
	})
	if err != nil {
		h.serviceError(w, err, "Разрешение", "Ошибка создания разрешения",
			"name", model.PermissionName(body.Module, body.Action))
		return
	}

	writeJSON(w, http.StatusCreated, mapPermission(*perm))
}

// UpdatePermission — PUT /api/v1/permissions/{name}.
// Изменяется только описание.
func (h *APIHandler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body updatePermissionBody
	if !h.decodeBody(w, r, &body) {
		return
	}

	perm, err := h.permissions.Update(r.Context(), name, body.Description)
	if err != nil {
		h.serviceError(w, err, "Разрешение", "Ошибка обновления разрешения", "name", name)
		return
	}

	writeJSON(w, http.StatusOK, mapPermission(*perm))
}

// DeletePermission — DELETE /api/v1/permissions/{name}.
func (h *APIHandler) DeletePermission(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.permissions.Delete(r.Context(), name); err != nil {
		h.serviceError(w, err, "Разрешение", "Ошибка удаления разрешения", "name", name)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Маппинг domain → API ---

func mapPermission(p model.Permission) permissionResponse {
	return permissionResponse{
		ID:          p.ID,
		Name:        p.Name(),
		Module:      p.Module,
		Action:      p.Action,
		Description: p.Description,
	}
}

func mapPermissions(perms []model.Permission) []permissionResponse {
	result := make([]permissionResponse, len(perms))
	for i, p := range perms {
		result[i] = mapPermission(p)
	}
	return result
}
