// idp.go — обработчики /api/v1/idp endpoints.
// Статус Identity Provider (Keycloak), принудительная сверка зеркала.
package handlers

import (
	"net/http"
	"time"
)

// idpStatusResponse — статус подключения к Keycloak.
type idpStatusResponse struct {
	Connected        bool       `json:"connected"`
	Realm            string     `json:"realm"`
	KeycloakURL      *string    `json:"keycloakUrl,omitempty"`
	PermissionsCount *int       `json:"permissionsCount,omitempty"`
	RolesCount       *int       `json:"rolesCount,omitempty"`
	LastMirrorSyncAt *time.Time `json:"lastMirrorSyncAt,omitempty"`
	Error            *string    `json:"error,omitempty"`
}

// mirrorSyncResponse — итог сверки зеркала.
type mirrorSyncResponse struct {
	PermissionsInKeycloak  int       `json:"permissionsInKeycloak"`
	PermissionsUpserted    int       `json:"permissionsUpserted"`
	PermissionsDeactivated int       `json:"permissionsDeactivated"`
	RolesInKeycloak        int       `json:"rolesInKeycloak"`
	RolesUpserted          int       `json:"rolesUpserted"`
	RolesDeactivated       int       `json:"rolesDeactivated"`
	SyncedAt               time.Time `json:"syncedAt"`
}

// GetIdpStatus — GET /api/v1/idp/status.
func (h *APIHandler) GetIdpStatus(w http.ResponseWriter, r *http.Request) {
	status := h.idp.GetStatus(r.Context())

	resp := idpStatusResponse{
		Connected:        status.Connected,
		Realm:            status.Realm,
		PermissionsCount: status.PermissionsCount,
		RolesCount:       status.RolesCount,
		LastMirrorSyncAt: status.LastMirrorSyncAt,
		Error:            status.Error,
	}

	if status.KeycloakURL != "" {
		resp.KeycloakURL = &status.KeycloakURL
	}

	writeJSON(w, http.StatusOK, resp)
}

// SyncMirror — POST /api/v1/idp/sync.
// Принудительная сверка зеркала ролей и разрешений с Keycloak.
func (h *APIHandler) SyncMirror(w http.ResponseWriter, r *http.Request) {
	result, err := h.idp.SyncMirror(r.Context())
	if err != nil {
		h.serviceError(w, err, "Зеркало", "Ошибка сверки зеркала")
		return
	}

	writeJSON(w, http.StatusOK, mirrorSyncResponse{
		PermissionsInKeycloak:  result.PermissionsInKeycloak,
		PermissionsUpserted:    result.PermissionsUpserted,
		PermissionsDeactivated: result.PermissionsDeactivated,
		RolesInKeycloak:        result.RolesInKeycloak,
		RolesUpserted:          result.RolesUpserted,
		RolesDeactivated:       result.RolesDeactivated,
		SyncedAt:               result.SyncedAt,
	})
}
