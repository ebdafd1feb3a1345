package keycloak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// --- Clients API ---

// GetClientByClientID возвращает клиента по человекочитаемому clientId.
// Результат кэшируется: UUID клиента не меняется за время жизни клиента.
func (c *Client) GetClientByClientID(ctx context.Context, clientID string) (*ClientRepr, error) {
	if cached, ok := c.clients.Get(clientID); ok {
		return cached, nil
	}

	resp, err := c.doAuthorized(ctx, http.MethodGet, "/clients?clientId="+url.QueryEscape(clientID), nil)
	if err != nil {
		return nil, err
	}

	var clients []ClientRepr
	if err := decodeResponse(resp, &clients); err != nil {
		return nil, fmt.Errorf("GetClientByClientID %s: %w", clientID, err)
	}

	// Фильтр clientId в Keycloak не гарантирует точного совпадения
	for i := range clients {
		if clients[i].ClientID == clientID {
			client := clients[i]
			c.clients.Add(clientID, &client)
			c.logger.Debug("Клиент Keycloak закэширован",
				slog.String("client_id", clientID),
				slog.String("uuid", client.ID),
			)
			return &client, nil
		}
	}

	return nil, fmt.Errorf("GetClientByClientID %s: %w", clientID, ErrNotFound)
}

// forgetClientUUID удаляет из кэша клиента с внутренним UUID clientUUID.
// Вызывается, когда Keycloak отвечает 404 на путь клиента: клиент
// удалён или пересоздан с новым UUID.
func (c *Client) forgetClientUUID(clientUUID string) {
	for _, clientID := range c.clients.Keys() {
		if cached, ok := c.clients.Peek(clientID); ok && cached.ID == clientUUID {
			c.clients.Remove(clientID)
			c.logger.Info("Клиент Keycloak удалён из кэша",
				slog.String("client_id", clientID),
				slog.String("uuid", clientUUID),
			)
		}
	}
}

// --- Client roles API ---

func clientRolesPath(clientUUID string) string {
	return "/clients/" + url.PathEscape(clientUUID) + "/roles"
}

// ListClientRoles возвращает все роли клиента.
func (c *Client) ListClientRoles(ctx context.Context, clientUUID string) ([]RoleRepr, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, clientRolesPath(clientUUID)+"?briefRepresentation=false", nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepr
	if err := decodeResponse(resp, &roles); err != nil {
		// Список ролей существующего клиента не даёт 404
		if errors.Is(err, ErrNotFound) {
			c.forgetClientUUID(clientUUID)
		}
		return nil, fmt.Errorf("ListClientRoles: %w", err)
	}

	return roles, nil
}

// GetClientRole возвращает роль клиента по имени.
func (c *Client) GetClientRole(ctx context.Context, clientUUID, name string) (*RoleRepr, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, clientRolesPath(clientUUID)+"/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}

	var role RoleRepr
	if err := decodeResponse(resp, &role); err != nil {
		return nil, fmt.Errorf("GetClientRole %s: %w", name, err)
	}

	return &role, nil
}

// CreateClientRole создаёт роль клиента.
func (c *Client) CreateClientRole(ctx context.Context, clientUUID string, role RoleRepr) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, clientRolesPath(clientUUID), role)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusCreated); err != nil {
		return fmt.Errorf("CreateClientRole %s: %w", role.Name, err)
	}

	return nil
}

// UpdateClientRole обновляет роль клиента.
func (c *Client) UpdateClientRole(ctx context.Context, clientUUID, name string, role RoleRepr) error {
	resp, err := c.doAuthorized(ctx, http.MethodPut, clientRolesPath(clientUUID)+"/"+url.PathEscape(name), role)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("UpdateClientRole %s: %w", name, err)
	}

	return nil
}

// DeleteClientRole удаляет роль клиента.
func (c *Client) DeleteClientRole(ctx context.Context, clientUUID, name string) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, clientRolesPath(clientUUID)+"/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("DeleteClientRole %s: %w", name, err)
	}

	return nil
}
