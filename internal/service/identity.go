package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Reptilefury/prediction-markets-sub000/internal/keycloak"
	"github.com/Reptilefury/prediction-markets-sub000/internal/repository"
)

// IdentityProvider — операции Keycloak Admin REST API, нужные сервисам.
// Реализуется *keycloak.Client.
type IdentityProvider interface {
	GetRealmRole(ctx context.Context, name string) (*keycloak.RoleRepr, error)
	ListRealmRoles(ctx context.Context) ([]keycloak.RoleRepr, error)
	CreateRealmRole(ctx context.Context, role keycloak.RoleRepr) error
	UpdateRealmRole(ctx context.Context, name string, role keycloak.RoleRepr) error
	DeleteRealmRole(ctx context.Context, name string) error
	GetRoleComposites(ctx context.Context, name string) ([]keycloak.RoleRepr, error)
	AddRoleComposites(ctx context.Context, name string, roles []keycloak.RoleRepr) error
	RemoveRoleComposites(ctx context.Context, name string, roles []keycloak.RoleRepr) error

	GetClientByClientID(ctx context.Context, clientID string) (*keycloak.ClientRepr, error)
	ListClientRoles(ctx context.Context, clientUUID string) ([]keycloak.RoleRepr, error)
	GetClientRole(ctx context.Context, clientUUID, name string) (*keycloak.RoleRepr, error)
	CreateClientRole(ctx context.Context, clientUUID string, role keycloak.RoleRepr) error
	UpdateClientRole(ctx context.Context, clientUUID, name string, role keycloak.RoleRepr) error
	DeleteClientRole(ctx context.Context, clientUUID, name string) error

	CreateUser(ctx context.Context, user keycloak.UserRepr) (string, error)
	AssignRealmRoles(ctx context.Context, userID string, roles []keycloak.RoleRepr) error
	DeleteUser(ctx context.Context, userID string) error

	RealmInfo(ctx context.Context) (*keycloak.RealmRepresentation, error)
}

var _ IdentityProvider = (*keycloak.Client)(nil)

// providerError приводит ошибку Keycloak к ошибкам сервисного слоя:
// 404 — ErrNotFound, 409 — ErrDuplicate, остальное — ErrUpstream.
func providerError(op string, err error) error {
	switch {
	case errors.Is(err, keycloak.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, keycloak.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
	}
}

// repoError приводит ошибку репозитория к ошибкам сервисного слоя.
func repoError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
