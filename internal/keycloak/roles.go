package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// --- Realm roles API ---

func rolePath(name string) string {
	return "/roles/" + url.PathEscape(name)
}

// ListRealmRoles возвращает все realm roles.
func (c *Client) ListRealmRoles(ctx context.Context) ([]RoleRepr, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/roles?briefRepresentation=false", nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepr
	if err := decodeResponse(resp, &roles); err != nil {
		return nil, fmt.Errorf("ListRealmRoles: %w", err)
	}

	return roles, nil
}

// GetRealmRole возвращает realm role по имени.
// Отсутствие роли — ошибка, совместимая с ErrNotFound.
func (c *Client) GetRealmRole(ctx context.Context, name string) (*RoleRepr, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, rolePath(name), nil)
	if err != nil {
		return nil, err
	}

	var role RoleRepr
	if err := decodeResponse(resp, &role); err != nil {
		return nil, fmt.Errorf("GetRealmRole %s: %w", name, err)
	}

	return &role, nil
}

// CreateRealmRole создаёт realm role. Keycloak не возвращает ID —
// для получения ID роль нужно перечитать по имени.
func (c *Client) CreateRealmRole(ctx context.Context, role RoleRepr) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, "/roles", role)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusCreated); err != nil {
		return fmt.Errorf("CreateRealmRole %s: %w", role.Name, err)
	}

	return nil
}

// UpdateRealmRole обновляет realm role (имя, описание, флаги).
func (c *Client) UpdateRealmRole(ctx context.Context, name string, role RoleRepr) error {
	resp, err := c.doAuthorized(ctx, http.MethodPut, rolePath(name), role)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("UpdateRealmRole %s: %w", name, err)
	}

	return nil
}

// DeleteRealmRole удаляет realm role.
func (c *Client) DeleteRealmRole(ctx context.Context, name string) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, rolePath(name), nil)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("DeleteRealmRole %s: %w", name, err)
	}

	return nil
}

// --- Composites ---

// GetRoleComposites возвращает участников composite realm role
// (и realm roles, и client roles).
func (c *Client) GetRoleComposites(ctx context.Context, name string) ([]RoleRepr, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, rolePath(name)+"/composites", nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepr
	if err := decodeResponse(resp, &roles); err != nil {
		return nil, fmt.Errorf("GetRoleComposites %s: %w", name, err)
	}

	return roles, nil
}

// AddRoleComposites добавляет роли в состав composite realm role.
func (c *Client) AddRoleComposites(ctx context.Context, name string, roles []RoleRepr) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, rolePath(name)+"/composites", roles)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("AddRoleComposites %s: %w", name, err)
	}

	return nil
}

// RemoveRoleComposites удаляет роли из состава composite realm role.
func (c *Client) RemoveRoleComposites(ctx context.Context, name string, roles []RoleRepr) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, rolePath(name)+"/composites", roles)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("RemoveRoleComposites %s: %w", name, err)
	}

	return nil
}
