// Пакет events — доменные события администрирования (изменения разрешений,
// ролей и администраторов) для внешних потребителей.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Типы событий.
const (
	PermissionCreated = "permission.created"
	PermissionUpdated = "permission.updated"
	PermissionDeleted = "permission.deleted"

	RoleCreated = "role.created"
	RoleUpdated = "role.updated"
	RoleDeleted = "role.deleted"

	AdminUserCreated = "admin_user.created"
	AdminUserUpdated = "admin_user.updated"
	AdminUserDeleted = "admin_user.deleted"
)

// Event — доменное событие.
type Event struct {
	// ID — UUID события
	ID string `json:"id"`
	// Type — тип события, например permission.created
	Type string `json:"type"`
	// Subject — ключ сущности: имя разрешения, имя роли или ID администратора
	Subject string `json:"subject"`
	// OccurredAt — время события (UTC)
	OccurredAt time.Time `json:"occurred_at"`
	// Data — полезная нагрузка
	Data any `json:"data,omitempty"`
}

// New создаёт событие с новым ID и текущим временем.
func New(eventType, subject string, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher публикует доменные события.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher отбрасывает события. Используется, когда брокеры не настроены.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
