// Пакет model — доменные модели сервиса управления доступом администраторов.
package model

import (
	"strings"
	"time"
)

// Permission — одна выдаваемая возможность.
// В Keycloak хранится как client role с именем "<module>:<action>".
// Имя не хранится отдельным полем: оно всегда вычисляется из Module и Action.
type Permission struct {
	// ID — идентификатор client role в Keycloak
	ID string
	// Module — часть имени до первого ':'
	Module string
	// Action — часть имени после первого ':'
	Action string
	// Description — описание
	Description string
}

// Name возвращает имя разрешения в формате "module:action".
func (p Permission) Name() string {
	return PermissionName(p.Module, p.Action)
}

// PermissionName собирает имя разрешения из модуля и действия.
func PermissionName(module, action string) string {
	return module + ":" + action
}

// ParsePermissionName разбирает имя client role на модуль и действие
// по первому ':'. Если ':' нет — модуль равен всему имени, действие пустое.
func ParsePermissionName(name string) (module, action string) {
	module, action, found := strings.Cut(name, ":")
	if !found {
		return name, ""
	}
	return module, action
}

// PermissionRecord — зеркало разрешения в локальной БД (таблица permissions).
// Не является источником истины: Keycloak авторитетен.
type PermissionRecord struct {
	// ID — UUID записи
	ID string
	// KeycloakRoleID — ID client role в Keycloak
	KeycloakRoleID string
	// Name — имя "module:action" на момент синхронизации
	Name string
	// Module — модуль
	Module string
	// Action — действие
	Action string
	// Description — описание
	Description string
	// IsActive — false после удаления разрешения в Keycloak
	IsActive bool
	// LastSyncedAt — время последней успешной синхронизации
	LastSyncedAt time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// ToPermission возвращает доменное представление записи зеркала.
// ID берётся из Keycloak, а не локальный.
func (r *PermissionRecord) ToPermission() Permission {
	return Permission{
		ID:          r.KeycloakRoleID,
		Module:      r.Module,
		Action:      r.Action,
		Description: r.Description,
	}
}
