package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/events"
	"github.com/Reptilefury/prediction-markets-sub000/internal/keycloak"
	"github.com/Reptilefury/prediction-markets-sub000/internal/repository"
)

const testPermissionsClient = "pm-admin"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func kcNotFound() error { return &keycloak.APIError{StatusCode: http.StatusNotFound, Body: "not found"} }
func kcConflict() error { return &keycloak.APIError{StatusCode: http.StatusConflict, Body: "exists"} }
func kcServerError() error {
	return &keycloak.APIError{StatusCode: http.StatusInternalServerError, Body: "boom"}
}

// testRoleRepr — client role разрешений, которой нет в fakeIDP.
func testRoleRepr(id, name string) keycloak.RoleRepr {
	return keycloak.RoleRepr{ID: id, Name: name, ClientRole: true, ContainerID: "client-uuid"}
}

// --- Keycloak ---

// fakeIDP — Keycloak в памяти со счётчиками вызовов.
type fakeIDP struct {
	mu sync.Mutex

	client      keycloak.ClientRepr
	clientRoles map[string]*keycloak.RoleRepr
	realmRoles  map[string]*keycloak.RoleRepr
	composites  map[string][]keycloak.RoleRepr
	users       map[string]keycloak.UserRepr
	userRoles   map[string][]keycloak.RoleRepr
	seq         int

	calls map[string]int
	// errs — ошибка, возвращаемая методом с данным именем
	errs map[string]error
	// clientRoleErrs — ошибка GetClientRole для конкретного имени
	clientRoleErrs map[string]error
	// addedComposites — аргументы вызовов AddRoleComposites
	addedComposites [][]keycloak.RoleRepr
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{
		client:         keycloak.ClientRepr{ID: "client-uuid", ClientID: testPermissionsClient, Enabled: true},
		clientRoles:    map[string]*keycloak.RoleRepr{},
		realmRoles:     map[string]*keycloak.RoleRepr{},
		composites:     map[string][]keycloak.RoleRepr{},
		users:          map[string]keycloak.UserRepr{},
		userRoles:      map[string][]keycloak.RoleRepr{},
		calls:          map[string]int{},
		errs:           map[string]error{},
		clientRoleErrs: map[string]error{},
	}
}

// enter регистрирует вызов и возвращает заданную для метода ошибку.
// Вызывается под f.mu.
func (f *fakeIDP) enter(method string) error {
	f.calls[method]++
	return f.errs[method]
}

func (f *fakeIDP) nextID() string {
	f.seq++
	return fmt.Sprintf("kc-%d", f.seq)
}

func (f *fakeIDP) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeIDP) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

var idpWriteMethods = []string{
	"CreateRealmRole", "UpdateRealmRole", "DeleteRealmRole", "AddRoleComposites", "RemoveRoleComposites",
	"CreateClientRole", "UpdateClientRole", "DeleteClientRole", "CreateUser", "AssignRealmRoles", "DeleteUser",
}

func (f *fakeIDP) writeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range idpWriteMethods {
		n += f.calls[m]
	}
	return n
}

// seedPermission добавляет client role напрямую, минуя счётчики.
func (f *fakeIDP) seedPermission(name, description string) keycloak.RoleRepr {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &keycloak.RoleRepr{ID: f.nextID(), Name: name, Description: description, ClientRole: true, ContainerID: f.client.ID}
	f.clientRoles[name] = r
	return *r
}

// seedRealmRole добавляет realm role с composite-участниками.
func (f *fakeIDP) seedRealmRole(name string, members ...keycloak.RoleRepr) keycloak.RoleRepr {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &keycloak.RoleRepr{ID: f.nextID(), Name: name, Composite: len(members) > 0}
	f.realmRoles[name] = r
	if len(members) > 0 {
		f.composites[name] = append([]keycloak.RoleRepr(nil), members...)
	}
	return *r
}

func (f *fakeIDP) GetRealmRole(_ context.Context, name string) (*keycloak.RoleRepr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetRealmRole"); err != nil {
		return nil, err
	}
	r, ok := f.realmRoles[name]
	if !ok {
		return nil, kcNotFound()
	}
	cp := *r
	return &cp, nil
}

func (f *fakeIDP) ListRealmRoles(context.Context) ([]keycloak.RoleRepr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListRealmRoles"); err != nil {
		return nil, err
	}
	result := make([]keycloak.RoleRepr, 0, len(f.realmRoles))
	for _, r := range f.realmRoles {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (f *fakeIDP) CreateRealmRole(_ context.Context, role keycloak.RoleRepr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateRealmRole"); err != nil {
		return err
	}
	if _, ok := f.realmRoles[role.Name]; ok {
		return kcConflict()
	}
	role.ID = f.nextID()
	// Keycloak выставляет composite только при наличии участников
	role.Composite = false
	f.realmRoles[role.Name] = &role
	return nil
}

func (f *fakeIDP) UpdateRealmRole(_ context.Context, name string, role keycloak.RoleRepr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateRealmRole"); err != nil {
		return err
	}
	r, ok := f.realmRoles[name]
	if !ok {
		return kcNotFound()
	}
	r.Description = role.Description
	return nil
}

func (f *fakeIDP) DeleteRealmRole(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteRealmRole"); err != nil {
		return err
	}
	if _, ok := f.realmRoles[name]; !ok {
		return kcNotFound()
	}
	delete(f.realmRoles, name)
	delete(f.composites, name)
	return nil
}

func (f *fakeIDP) GetRoleComposites(_ context.Context, name string) ([]keycloak.RoleRepr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetRoleComposites"); err != nil {
		return nil, err
	}
	if _, ok := f.realmRoles[name]; !ok {
		return nil, kcNotFound()
	}
	return append([]keycloak.RoleRepr(nil), f.composites[name]...), nil
}

func (f *fakeIDP) AddRoleComposites(_ context.Context, name string, roles []keycloak.RoleRepr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddRoleComposites"); err != nil {
		return err
	}
	r, ok := f.realmRoles[name]
	if !ok {
		return kcNotFound()
	}
	f.addedComposites = append(f.addedComposites, append([]keycloak.RoleRepr(nil), roles...))
	f.composites[name] = append(f.composites[name], roles...)
	r.Composite = len(f.composites[name]) > 0
	return nil
}

func (f *fakeIDP) RemoveRoleComposites(_ context.Context, name string, roles []keycloak.RoleRepr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemoveRoleComposites"); err != nil {
		return err
	}
	r, ok := f.realmRoles[name]
	if !ok {
		return kcNotFound()
	}
	remove := make(map[string]struct{}, len(roles))
	for _, x := range roles {
		remove[x.ID] = struct{}{}
	}
	var kept []keycloak.RoleRepr
	for _, c := range f.composites[name] {
		if _, ok := remove[c.ID]; !ok {
			kept = append(kept, c)
		}
	}
	f.composites[name] = kept
	r.Composite = len(kept) > 0
	return nil
}

func (f *fakeIDP) GetClientByClientID(_ context.Context, clientID string) (*keycloak.ClientRepr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetClientByClientID"); err != nil {
		return nil, err
	}
	if clientID != f.client.ClientID {
		return nil, fmt.Errorf("клиент %s: %w", clientID, keycloak.ErrNotFound)
	}
	cp := f.client
	return &cp, nil
}

func (f *fakeIDP) ListClientRoles(_ context.Context, clientUUID string) ([]keycloak.RoleRepr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListClientRoles"); err != nil {
		return nil, err
	}
	if clientUUID != f.client.ID {
		return nil, kcNotFound()
	}
	result := make([]keycloak.RoleRepr, 0, len(f.clientRoles))
	for _, r := range f.clientRoles {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (f *fakeIDP) GetClientRole(_ context.Context, _ string, name string) (*keycloak.RoleRepr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetClientRole"); err != nil {
		return nil, err
	}
	if err := f.clientRoleErrs[name]; err != nil {
		return nil, err
	}
	r, ok := f.clientRoles[name]
	if !ok {
		return nil, kcNotFound()
	}
	cp := *r
	return &cp, nil
}

func (f *fakeIDP) CreateClientRole(_ context.Context, _ string, role keycloak.RoleRepr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateClientRole"); err != nil {
		return err
	}
	if _, ok := f.clientRoles[role.Name]; ok {
		return kcConflict()
	}
	role.ID = f.nextID()
	role.ClientRole = true
	role.ContainerID = f.client.ID
	f.clientRoles[role.Name] = &role
	return nil
}

func (f *fakeIDP) UpdateClientRole(_ context.Context, _ string, name string, role keycloak.RoleRepr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateClientRole"); err != nil {
		return err
	}
	r, ok := f.clientRoles[name]
	if !ok {
		return kcNotFound()
	}
	r.Description = role.Description
	return nil
}

func (f *fakeIDP) DeleteClientRole(_ context.Context, _ string, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteClientRole"); err != nil {
		return err
	}
	if _, ok := f.clientRoles[name]; !ok {
		return kcNotFound()
	}
	delete(f.clientRoles, name)
	return nil
}

func (f *fakeIDP) CreateUser(_ context.Context, user keycloak.UserRepr) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateUser"); err != nil {
		return "", err
	}
	for _, u := range f.users {
		if u.Username == user.Username {
			return "", kcConflict()
		}
	}
	user.ID = f.nextID()
	f.users[user.ID] = user
	return user.ID, nil
}

func (f *fakeIDP) AssignRealmRoles(_ context.Context, userID string, roles []keycloak.RoleRepr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AssignRealmRoles"); err != nil {
		return err
	}
	if _, ok := f.users[userID]; !ok {
		return kcNotFound()
	}
	f.userRoles[userID] = append(f.userRoles[userID], roles...)
	return nil
}

func (f *fakeIDP) DeleteUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteUser"); err != nil {
		return err
	}
	if _, ok := f.users[userID]; !ok {
		return kcNotFound()
	}
	delete(f.users, userID)
	delete(f.userRoles, userID)
	return nil
}

func (f *fakeIDP) RealmInfo(context.Context) (*keycloak.RealmRepresentation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RealmInfo"); err != nil {
		return nil, err
	}
	return &keycloak.RealmRepresentation{Realm: "pm", Enabled: true}, nil
}

// --- Зеркало разрешений ---

type fakePermRepo struct {
	mu      sync.Mutex
	records map[string]*model.PermissionRecord // по keycloak_role_id
	calls   map[string]int
	errs    map[string]error
}

func newFakePermRepo() *fakePermRepo {
	return &fakePermRepo{
		records: map[string]*model.PermissionRecord{},
		calls:   map[string]int{},
		errs:    map[string]error{},
	}
}

func (r *fakePermRepo) callCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *fakePermRepo) writeCalls() int {
	return r.callCount("Create") + r.callCount("Upsert") + r.callCount("Deactivate")
}

func (r *fakePermRepo) get(keycloakRoleID string) *model.PermissionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[keycloakRoleID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// seed добавляет активную запись, минуя счётчики.
func (r *fakePermRepo) seed(p keycloak.RoleRepr) *model.PermissionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	module, action := model.ParsePermissionName(p.Name)
	rec := &model.PermissionRecord{
		ID: uuid.NewString(), KeycloakRoleID: p.ID, Name: p.Name, Module: module, Action: action,
		Description: p.Description, IsActive: true, LastSyncedAt: time.Now().UTC(),
	}
	r.records[p.ID] = rec
	cp := *rec
	return &cp
}

func (r *fakePermRepo) Create(_ context.Context, p *model.PermissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Create"]++
	if err := r.errs["Create"]; err != nil {
		return err
	}
	if _, ok := r.records[p.KeycloakRoleID]; ok {
		return repository.ErrConflict
	}
	for _, rec := range r.records {
		if rec.IsActive && rec.Name == p.Name {
			return repository.ErrConflict
		}
	}
	p.ID = uuid.NewString()
	p.IsActive = true
	cp := *p
	r.records[p.KeycloakRoleID] = &cp
	return nil
}

func (r *fakePermRepo) Upsert(_ context.Context, p *model.PermissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Upsert"]++
	if err := r.errs["Upsert"]; err != nil {
		return err
	}
	for _, rec := range r.records {
		if rec.IsActive && rec.Name == p.Name && rec.KeycloakRoleID != p.KeycloakRoleID {
			rec.IsActive = false
		}
	}
	if existing, ok := r.records[p.KeycloakRoleID]; ok {
		p.ID = existing.ID
	} else {
		p.ID = uuid.NewString()
	}
	p.IsActive = true
	cp := *p
	r.records[p.KeycloakRoleID] = &cp
	return nil
}

func (r *fakePermRepo) GetByName(_ context.Context, name string) (*model.PermissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GetByName"]++
	if err := r.errs["GetByName"]; err != nil {
		return nil, err
	}
	for _, rec := range r.records {
		if rec.IsActive && rec.Name == name {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakePermRepo) GetByKeycloakRoleID(_ context.Context, id string) (*model.PermissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GetByKeycloakRoleID"]++
	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakePermRepo) ListActive(context.Context) ([]*model.PermissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListActive"]++
	if err := r.errs["ListActive"]; err != nil {
		return nil, err
	}
	var result []*model.PermissionRecord
	for _, rec := range r.records {
		if rec.IsActive {
			cp := *rec
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *fakePermRepo) Deactivate(_ context.Context, keycloakRoleID string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Deactivate"]++
	if err := r.errs["Deactivate"]; err != nil {
		return err
	}
	rec, ok := r.records[keycloakRoleID]
	if !ok || !rec.IsActive {
		return repository.ErrNotFound
	}
	rec.IsActive = false
	rec.LastSyncedAt = syncedAt
	return nil
}

// activeNames возвращает отсортированные имена активных записей с данными ID.
func (r *fakePermRepo) activeNames(ids []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, id := range ids {
		if rec, ok := r.records[id]; ok && rec.IsActive {
			names = append(names, rec.Name)
		}
	}
	sort.Strings(names)
	return names
}

// --- Зеркало ролей ---

type fakeRoleRepo struct {
	mu      sync.Mutex
	perms   *fakePermRepo
	records map[string]*model.RoleRecord // по keycloak_role_id
	edges   map[string][]string          // локальный ID роли → keycloak_role_id разрешений
	calls   map[string]int
	errs    map[string]error
}

func newFakeRoleRepo(perms *fakePermRepo) *fakeRoleRepo {
	return &fakeRoleRepo{
		perms:   perms,
		records: map[string]*model.RoleRecord{},
		edges:   map[string][]string{},
		calls:   map[string]int{},
		errs:    map[string]error{},
	}
}

func (r *fakeRoleRepo) callCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *fakeRoleRepo) byName(name string) *model.RoleRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Name == name {
			cp := *rec
			return &cp
		}
	}
	return nil
}

// seed добавляет запись, минуя счётчики.
func (r *fakeRoleRepo) seed(keycloakRoleID, name string, active bool) *model.RoleRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &model.RoleRecord{
		ID: uuid.NewString(), KeycloakRoleID: keycloakRoleID, Name: name,
		IsComposite: true, IsActive: active, LastSyncedAt: time.Now().UTC(),
	}
	r.records[keycloakRoleID] = rec
	cp := *rec
	return &cp
}

func (r *fakeRoleRepo) Upsert(_ context.Context, rr *model.RoleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Upsert"]++
	if err := r.errs["Upsert"]; err != nil {
		return err
	}
	for _, rec := range r.records {
		if rec.IsActive && rec.Name == rr.Name && rec.KeycloakRoleID != rr.KeycloakRoleID {
			rec.IsActive = false
		}
	}
	if existing, ok := r.records[rr.KeycloakRoleID]; ok {
		rr.ID = existing.ID
	} else {
		rr.ID = uuid.NewString()
	}
	rr.IsActive = true
	cp := *rr
	r.records[rr.KeycloakRoleID] = &cp
	return nil
}

func (r *fakeRoleRepo) GetByID(_ context.Context, id string) (*model.RoleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GetByID"]++
	if err := r.errs["GetByID"]; err != nil {
		return nil, err
	}
	for _, rec := range r.records {
		if rec.ID == id && rec.IsActive {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRoleRepo) GetByName(_ context.Context, name string) (*model.RoleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GetByName"]++
	if err := r.errs["GetByName"]; err != nil {
		return nil, err
	}
	for _, rec := range r.records {
		if rec.Name == name && rec.IsActive {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRoleRepo) ListActive(context.Context) ([]*model.RoleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListActive"]++
	if err := r.errs["ListActive"]; err != nil {
		return nil, err
	}
	var result []*model.RoleRecord
	for _, rec := range r.records {
		if rec.IsActive {
			cp := *rec
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *fakeRoleRepo) Deactivate(_ context.Context, id string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Deactivate"]++
	if err := r.errs["Deactivate"]; err != nil {
		return err
	}
	for _, rec := range r.records {
		if rec.ID == id && rec.IsActive {
			rec.IsActive = false
			rec.LastSyncedAt = syncedAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeRoleRepo) ReplacePermissions(_ context.Context, roleID string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ReplacePermissions"]++
	if err := r.errs["ReplacePermissions"]; err != nil {
		return err
	}
	r.edges[roleID] = append([]string(nil), ids...)
	return nil
}

func (r *fakeRoleRepo) ListPermissionNames(_ context.Context, roleID string) ([]string, error) {
	r.mu.Lock()
	r.calls["ListPermissionNames"]++
	err := r.errs["ListPermissionNames"]
	ids := append([]string(nil), r.edges[roleID]...)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.perms.activeNames(ids), nil
}

// --- Администраторы ---

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.AdminUser
	calls map[string]int
	errs  map[string]error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users: map[string]*model.AdminUser{},
		calls: map[string]int{},
		errs:  map[string]error{},
	}
}

func (r *fakeUserRepo) callCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *fakeUserRepo) Create(_ context.Context, u *model.AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Create"]++
	if err := r.errs["Create"]; err != nil {
		return err
	}
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return repository.ErrConflict
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*model.AdminUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GetByID"]++
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ExistsByEmail"]++
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) matching(search string) []*model.AdminUser {
	term := strings.ToLower(search)
	var result []*model.AdminUser
	for _, u := range r.users {
		fields := []string{u.FirstName, u.LastName, u.Username, u.Email}
		match := term == ""
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), term) {
				match = true
				break
			}
		}
		if match {
			cp := *u
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result
}

func (r *fakeUserRepo) List(_ context.Context, search string, limit, offset int) ([]*model.AdminUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["List"]++
	all := r.matching(search)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (r *fakeUserRepo) Count(_ context.Context, search string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Count"]++
	return len(r.matching(search)), nil
}

func (r *fakeUserRepo) Update(_ context.Context, u *model.AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Update"]++
	if _, ok := r.users[u.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, existing := range r.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return repository.ErrConflict
		}
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["Delete"]++
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// --- Состояние сверки ---

type fakeSyncStateRepo struct {
	mu    sync.Mutex
	state model.SyncState
	err   error
}

func (r *fakeSyncStateRepo) Get(context.Context) (*model.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	cp := r.state
	return &cp, nil
}

func (r *fakeSyncStateRepo) UpdateMirrorSyncAt(_ context.Context, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.LastMirrorSyncAt = &t
	return nil
}

// --- Публикация событий ---

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.Type)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

// --- Сборка ---

type testEnv struct {
	idp       *fakeIDP
	permRepo  *fakePermRepo
	roleRepo  *fakeRoleRepo
	userRepo  *fakeUserRepo
	syncState *fakeSyncStateRepo
	events    *recordingPublisher

	perms  *PermissionService
	roles  *RoleService
	users  *AdminUserService
	mirror *MirrorSyncService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		idp:       newFakeIDP(),
		permRepo:  newFakePermRepo(),
		userRepo:  newFakeUserRepo(),
		syncState: &fakeSyncStateRepo{state: model.SyncState{ID: 1}},
		events:    &recordingPublisher{},
	}
	env.roleRepo = newFakeRoleRepo(env.permRepo)

	logger := testLogger()
	env.perms = NewPermissionService(env.idp, env.permRepo, testPermissionsClient, logger)
	env.roles = NewRoleService(env.idp, env.perms, env.roleRepo, logger)
	env.users = NewAdminUserService(env.idp, env.userRepo, env.roleRepo, logger)
	env.mirror = NewMirrorSyncService(env.idp, env.perms, env.permRepo, env.roleRepo, env.syncState, 0, logger)

	env.perms.SetEventPublisher(env.events)
	env.roles.SetEventPublisher(env.events)
	env.users.SetEventPublisher(env.events)
	return env
}
