// roles.go — обработчики /api/v1/roles endpoints.
// Роль — composite realm role Keycloak, её разрешения — client roles.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/service"
)

// roleResponse — роль в ответах API.
type roleResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Composite   bool                 `json:"composite"`
	Permissions []permissionResponse `json:"permissions"`
}

type createRoleBody struct {
	Name          string   `json:"name" validate:"required,max=255,excludesall=/ "`
	Description   string   `json:"description" validate:"max=255"`
	PermissionIDs []string `json:"permissionIds" validate:"dive,required"`
}

type updateRoleBody struct {
	Description   *string  `json:"description" validate:"omitempty,max=255"`
	PermissionIDs []string `json:"permissionIds" validate:"omitempty,dive,required"`
}

// ListRoles — GET /api/v1/roles.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles := h.roles.List(r.Context())

	items := make([]roleResponse, len(roles))
	for i := range roles {
		items[i] = mapRole(&roles[i])
	}
	writeJSON(w, http.StatusOK, items)
}

// GetRole — GET /api/v1/roles/{name}.
func (h *APIHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	role, err := h.roles.GetByName(r.Context(), name)
	if err != nil {
		h.serviceError(w, err, "Роль", "Ошибка получения роли", "name", name)
		return
	}

	writeJSON(w, http.StatusOK, mapRole(role))
}

// CreateRole — POST /api/v1/roles.
func (h *APIHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var body createRoleBody
	if !h.decodeBody(w, r, &body) {
		return
	}

	role, err := h.roles.Create(r.Context(), service.CreateRoleRequest{
		Name:          body.Name,
		Description:   body.Description,
		PermissionIDs: body.PermissionIDs,
	})
	if err != nil {
		h.serviceError(w, err, "Роль", "Ошибка создания роли", "name", body.Name)
		return
	}

	writeJSON(w, http.StatusCreated, mapRole(role))
}

// UpdateRole — PUT /api/v1/roles/{name}.
// permissionIds, если задан, заменяет набор разрешений целиком.
func (h *APIHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body updateRoleBody
	if !h.decodeBody(w, r, &body) {
		return
	}

	role, err := h.roles.Update(r.Context(), name, service.UpdateRoleRequest{
		Description:   body.Description,
		PermissionIDs: body.PermissionIDs,
	})
	if err != nil {
		h.serviceError(w, err, "Роль", "Ошибка обновления роли", "name", name)
		return
	}

	writeJSON(w, http.StatusOK, mapRole(role))
}

// DeleteRole — DELETE /api/v1/roles/{name}.
func (h *APIHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.roles.Delete(r.Context(), name); err != nil {
		h.serviceError(w, err, "Роль", "Ошибка удаления роли", "name", name)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func mapRole(role *model.Role) roleResponse {
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Composite:   role.Composite,
		Permissions: mapPermissions(role.Permissions),
	}
}
