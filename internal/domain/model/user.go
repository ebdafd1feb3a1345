package model

import (
	"strings"
	"time"
	"unicode"
)

// AdminUserStatus — статус учётной записи администратора.
type AdminUserStatus string

const (
	// AdminUserActive — учётная запись активна (enabled в Keycloak)
	AdminUserActive AdminUserStatus = "ACTIVE"
	// AdminUserInactive — учётная запись отключена
	AdminUserInactive AdminUserStatus = "INACTIVE"
	// AdminUserSuspended — учётная запись заблокирована
	AdminUserSuspended AdminUserStatus = "SUSPENDED"
)

// IsValid проверяет, что статус входит в допустимый набор.
func (s AdminUserStatus) IsValid() bool {
	switch s {
	case AdminUserActive, AdminUserInactive, AdminUserSuspended:
		return true
	}
	return false
}

// AdminUser — учётная запись администратора.
// Хранится в таблице admin_users, зеркалируется в Keycloak.
type AdminUser struct {
	// ID — UUID записи
	ID string
	// FirstName — имя
	FirstName string
	// LastName — фамилия
	LastName string
	// Username — производное: первая буква имени + фамилия, lowercase
	Username string
	// Email — уникален среди всех администраторов
	Email string
	// Phone — телефон (опционально)
	Phone string
	// RoleID — ровно одна роль (локальный ID зеркала роли)
	RoleID string
	// Status — статус учётной записи
	Status AdminUserStatus
	// TwoFactorEnabled — включена ли 2FA
	TwoFactorEnabled bool
	// KeycloakUserID — ID пользователя в Keycloak, nil до провижининга
	KeycloakUserID *string
	// LastLoginAt — время последнего входа
	LastLoginAt *time.Time
	// LoginAttempts — неудачные попытки входа подряд
	LoginAttempts int
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// DeriveUsername вычисляет username: первая буква имени + фамилия,
// в нижнем регистре, без пробельных символов.
func DeriveUsername(firstName, lastName string) string {
	var b strings.Builder
	first := []rune(strings.TrimSpace(firstName))
	if len(first) > 0 {
		b.WriteRune(first[0])
	}
	b.WriteString(lastName)

	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, b.String())
}

// AdminUserDetails — администратор вместе с именем роли и разрешениями.
// RoleName пуст, если запись роли в зеркале отсутствует.
type AdminUserDetails struct {
	AdminUser
	// RoleName — имя роли
	RoleName string
	// Permissions — имена разрешений роли из зеркала
	Permissions []string
}
