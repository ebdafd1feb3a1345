// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — роль, разрешение или администратор не найдены.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrDuplicate — совпадение имени или email при создании.
	ErrDuplicate = errors.New("ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных до любого I/O.
	ErrValidation = errors.New("ошибка валидации")
	// ErrUpstream — Identity Provider (Keycloak) вернул ошибку, отличную от 404.
	ErrUpstream = errors.New("ошибка Identity Provider")
	// ErrPartialSync — изменение в Keycloak выполнено, но запись в зеркало не удалась.
	ErrPartialSync = errors.New("Keycloak и локальное зеркало рассинхронизированы")

	// ErrRoleRequiresPermissions — роль без разрешений.
	ErrRoleRequiresPermissions = fmt.Errorf("%w: роль должна содержать хотя бы одно разрешение", ErrValidation)
	// ErrPermissionsUnavailable — ни одно разрешение роли не удалось получить из Keycloak.
	ErrPermissionsUnavailable = fmt.Errorf("%w: не удалось получить разрешения из Keycloak", ErrUpstream)
)
