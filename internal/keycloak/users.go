package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// --- Users API ---

// CreateUser создаёт пользователя и возвращает его Keycloak ID
// (из Location header ответа).
func (c *Client) CreateUser(ctx context.Context, user UserRepr) (string, error) {
	resp, err := c.doAuthorized(ctx, http.MethodPost, "/users", user)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("CreateUser %s: %w", user.Username, checkResponse(resp, http.StatusCreated))
	}
	resp.Body.Close()

	id, err := idFromLocation(resp)
	if err != nil {
		return "", fmt.Errorf("CreateUser: %w", err)
	}

	return id, nil
}

// AssignRealmRoles назначает пользователю realm roles.
func (c *Client) AssignRealmRoles(ctx context.Context, userID string, roles []RoleRepr) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/role-mappings/realm", roles)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("AssignRealmRoles %s: %w", userID, err)
	}

	return nil
}

// DeleteUser удаляет пользователя.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, "/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("DeleteUser %s: %w", userID, err)
	}

	return nil
}
