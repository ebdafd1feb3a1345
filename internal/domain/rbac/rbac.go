// Пакет rbac — проверка прав вызывающего API по разрешениям из JWT.
// Разрешения — client roles Keycloak в формате "module:action".
// Правила:
//   - realm role суперадминистратора даёт любое разрешение;
//   - "module:*" даёт любое действие модуля;
//   - "module:write" подразумевает "module:read".
package rbac

import (
	"net/http"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
)

// SuperAdminRole — realm role, дающая все разрешения.
const SuperAdminRole = "pm-superadmin"

// Разрешения на администрирование ролей, разрешений и администраторов.
const (
	PermAdminRead  = "admin:read"
	PermAdminWrite = "admin:write"
)

const (
	actionRead     = "read"
	actionWrite    = "write"
	actionWildcard = "*"
)

// RequiredPermission возвращает разрешение, необходимое для HTTP-метода.
// Безопасные методы требуют admin:read, остальные — admin:write.
func RequiredPermission(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return PermAdminRead
	default:
		return PermAdminWrite
	}
}

// HasPermission проверяет, покрывает ли набор granted разрешение required.
func HasPermission(granted []string, required string) bool {
	reqModule, reqAction := model.ParsePermissionName(required)

	for _, g := range granted {
		if g == required {
			return true
		}
		module, action := model.ParsePermissionName(g)
		if module != reqModule {
			continue
		}
		if action == actionWildcard {
			return true
		}
		if action == actionWrite && reqAction == actionRead {
			return true
		}
	}
	return false
}

// Allowed — итоговое решение: суперадминистратор или наличие разрешения.
func Allowed(realmRoles, permissions []string, required string) bool {
	for _, r := range realmRoles {
		if r == SuperAdminRole {
			return true
		}
	}
	return HasPermission(permissions, required)
}
