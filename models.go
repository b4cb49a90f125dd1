package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	// RoleAdmin grants access to the admin surface
	RoleAdmin = "admin"
	// RoleCustomer is attached to every self registered user
	RoleCustomer = "customer"
)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email         string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	IsEnabled     bool       `bun:"is_enabled,notnull" json:"is_enabled"`
	IsActive      bool       `bun:"is_active,notnull" json:"is_active"`
	Roles         []*Role    `bun:"m2m:users_roles,join:User=Role" json:"roles,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

var _ bun.BeforeAppendModelHook = (*User)(nil)

// BeforeAppendModel keeps the timestamps current
func (u *User) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now()
	switch query.(type) {
	case *bun.InsertQuery:
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		if u.CreatedAt == nil {
			u.CreatedAt = &now
		}
		u.UpdatedAt = &now
	case *bun.UpdateQuery:
		u.UpdatedAt = &now
	}
	return nil
}

// HasRole reports if the user has a role with the given name loaded
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r != nil && r.Name == name {
			return true
		}
	}
	return false
}

// Role groups permissions
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:rol"`
	ID            uuid.UUID     `bun:"id,pk,type:uuid" json:"id"`
	Name          string        `bun:"name,notnull,unique" json:"name"`
	Label         string        `bun:"label,notnull,unique" json:"label"`
	Permissions   []*Permission `bun:"m2m:roles_permissions,join:Role=Permission" json:"permissions,omitempty"`
}

var _ bun.BeforeAppendModelHook = (*Role)(nil)

func (r *Role) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Permission is a grant over an action in an app
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	App           string    `bun:"app,notnull,unique:app_action" json:"app"`
	Action        string    `bun:"action,notnull,unique:app_action" json:"action"`
	Name          string    `bun:"name,notnull,unique" json:"name"`
	Label         string    `bun:"label,notnull,unique" json:"label"`
}

var _ bun.BeforeAppendModelHook = (*Permission)(nil)

func (p *Permission) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// AuthCode is the single live code for a user
type AuthCode struct {
	bun.BaseModel `bun:"table:auth_codes,alias:ac"`
	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Code          string    `bun:"code,notnull" json:"code"`
	UserID        uuid.UUID `bun:"user_id,notnull,unique,type:uuid" json:"user_id"`
	User          *User     `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}

var _ bun.BeforeAppendModelHook = (*AuthCode)(nil)

func (a *AuthCode) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// UserRole joins users and roles
type UserRole struct {
	bun.BaseModel `bun:"table:users_roles,alias:ur"`
	UserID        uuid.UUID `bun:"user_id,pk,type:uuid" json:"user_id"`
	User          *User     `bun:"rel:belongs-to,join:user_id=id" json:"-"`
	RoleID        uuid.UUID `bun:"role_id,pk,type:uuid" json:"role_id"`
	Role          *Role     `bun:"rel:belongs-to,join:role_id=id" json:"-"`
}

// RolePermission joins roles and permissions
type RolePermission struct {
	bun.BaseModel `bun:"table:roles_permissions,alias:rp"`
	RoleID        uuid.UUID   `bun:"role_id,pk,type:uuid" json:"role_id"`
	Role          *Role       `bun:"rel:belongs-to,join:role_id=id" json:"-"`
	PermissionID  uuid.UUID   `bun:"permission_id,pk,type:uuid" json:"permission_id"`
	Permission    *Permission `bun:"rel:belongs-to,join:permission_id=id" json:"-"`
}

// UserSnapshot is the payload we carry in bearer tokens
type UserSnapshot struct {
	ID        uuid.UUID      `json:"id"`
	Email     string         `json:"email"`
	IsEnabled bool           `json:"is_enabled"`
	IsActive  bool           `json:"is_active"`
	Roles     []RoleSnapshot `json:"roles"`
}

type RoleSnapshot struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	Label       string               `json:"label"`
	Permissions []PermissionSnapshot `json:"permissions"`
}

type PermissionSnapshot struct {
	ID     uuid.UUID `json:"id"`
	App    string    `json:"app"`
	Action string    `json:"action"`
	Name   string    `json:"name"`
	Label  string    `json:"label"`
}

// Snapshot flattens the user and its loaded roles
func (u *User) Snapshot() UserSnapshot {
	s := UserSnapshot{
		ID:        u.ID,
		Email:     u.Email,
		IsEnabled: u.IsEnabled,
		IsActive:  u.IsActive,
		Roles:     make([]RoleSnapshot, 0, len(u.Roles)),
	}

	for _, r := range u.Roles {
		if r == nil {
			continue
		}
		rs := RoleSnapshot{
			ID:          r.ID,
			Name:        r.Name,
			Label:       r.Label,
			Permissions: make([]PermissionSnapshot, 0, len(r.Permissions)),
		}
		for _, p := range r.Permissions {
			if p == nil {
				continue
			}
			rs.Permissions = append(rs.Permissions, PermissionSnapshot{
				ID:     p.ID,
				App:    p.App,
				Action: p.Action,
				Name:   p.Name,
				Label:  p.Label,
			})
		}
		s.Roles = append(s.Roles, rs)
	}

	return s
}

// RoleNames returns the names of the roles in the snapshot
func (s UserSnapshot) RoleNames() []string {
	out := make([]string, 0, len(s.Roles))
	for _, r := range s.Roles {
		out = append(out, r.Name)
	}
	return out
}
