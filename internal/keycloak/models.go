// Пакет keycloak — HTTP-клиент к Keycloak Admin REST API.
// models.go — модели данных Keycloak.
package keycloak

// TokenResponse — ответ на запрос токена через Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// RoleRepr — роль Keycloak (realm role или client role).
// Разрешения — client roles, роли администраторов — composite realm roles.
type RoleRepr struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
	// ContainerID — ID realm или UUID клиента, которому принадлежит роль
	ContainerID string `json:"containerId,omitempty"`
	// Attributes — произвольные атрибуты роли
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// ClientRepr — клиент (application) в Keycloak.
type ClientRepr struct {
	// ID — внутренний UUID клиента
	ID string `json:"id"`
	// ClientID — человекочитаемый clientId
	ClientID    string `json:"clientId"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UserRepr — пользователь в Keycloak.
type UserRepr struct {
	ID            string              `json:"id,omitempty"`
	Username      string              `json:"username"`
	Email         string              `json:"email"`
	FirstName     string              `json:"firstName"`
	LastName      string              `json:"lastName"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

// RealmRepresentation — краткая информация о realm.
type RealmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}
