package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Roles interface {
	repository.Repository[*Role]

	GetByName(ctx context.Context, name string) (*Role, error)
	GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error)
	GetWithPermissions(ctx context.Context, id uuid.UUID) (*Role, error)
	GetWithPermissionsTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Role, error)
}

type roles struct {
	repository.Repository[*Role]
	db *bun.DB
}

var _ Roles = (*roles)(nil)

func NewRolesRepository(db *bun.DB) Roles {
	repo := repository.NewRepository[*Role](db, repository.ModelHandlers[*Role]{
		NewRecord: func() *Role { return &Role{} },
		GetID: func(r *Role) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Role, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &roles{
		Repository: repo,
		db:         db,
	}
}

func (r *roles) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.GetByNameTx(ctx, r.db, name)
}

func (r *roles) GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Role, error) {
	return r.Repository.GetTx(ctx, tx, selectEq("name", name))
}

func (r *roles) GetWithPermissions(ctx context.Context, id uuid.UUID) (*Role, error) {
	return r.GetWithPermissionsTx(ctx, r.db, id)
}

func (r *roles) GetWithPermissionsTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Role, error) {
	withPermissions := func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Relation("Permissions")
	}
	return r.Repository.GetByIDTx(ctx, tx, id.String(), withPermissions)
}

type Permissions interface {
	repository.Repository[*Permission]

	GetByName(ctx context.Context, name string) (*Permission, error)
	GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Permission, error)
}

type permissions struct {
	repository.Repository[*Permission]
	db *bun.DB
}

var _ Permissions = (*permissions)(nil)

func NewPermissionsRepository(db *bun.DB) Permissions {
	repo := repository.NewRepository[*Permission](db, repository.ModelHandlers[*Permission]{
		NewRecord: func() *Permission { return &Permission{} },
		GetID: func(p *Permission) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Permission, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &permissions{
		Repository: repo,
		db:         db,
	}
}

func (p *permissions) GetByName(ctx context.Context, name string) (*Permission, error) {
	return p.GetByNameTx(ctx, p.db, name)
}

func (p *permissions) GetByNameTx(ctx context.Context, tx bun.IDB, name string) (*Permission, error) {
	return p.Repository.GetTx(ctx, tx, selectEq("name", name))
}

// UserRoles holds user to role association rows. The rows have a
// composite key so the id handlers are no-ops.
type UserRoles interface {
	repository.Repository[*UserRole]

	RoleIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	RoleIDsTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]uuid.UUID, error)
	Attach(ctx context.Context, userID uuid.UUID, roleIDs ...uuid.UUID) error
	AttachTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs ...uuid.UUID) error
	Detach(ctx context.Context, userID uuid.UUID, roleIDs ...uuid.UUID) error
	DetachTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs ...uuid.UUID) error
}

type userRoles struct {
	repository.Repository[*UserRole]
	db *bun.DB
}

var _ UserRoles = (*userRoles)(nil)

func NewUserRolesRepository(db *bun.DB) UserRoles {
	repo := repository.NewRepository[*UserRole](db, repository.ModelHandlers[*UserRole]{
		NewRecord: func() *UserRole { return &UserRole{} },
		GetID:     func(*UserRole) uuid.UUID { return uuid.Nil },
		SetID:     func(*UserRole, uuid.UUID) {},
	})

	return &userRoles{
		Repository: repo,
		db:         db,
	}
}

func (u *userRoles) RoleIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return u.RoleIDsTx(ctx, u.db, userID)
}

func (u *userRoles) RoleIDsTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, _, err := u.Repository.ListTx(ctx, tx, selectEq("user_id", userID))
	if err != nil && !IsRecordNotFound(err) {
		return nil, wrapStoreError(err, "failed to list user roles")
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.RoleID)
	}
	return ids, nil
}

func (u *userRoles) Attach(ctx context.Context, userID uuid.UUID, roleIDs ...uuid.UUID) error {
	return u.AttachTx(ctx, u.db, userID, roleIDs...)
}

func (u *userRoles) AttachTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs ...uuid.UUID) error {
	if len(roleIDs) == 0 {
		return nil
	}

	rows := make([]*UserRole, 0, len(roleIDs))
	for _, id := range roleIDs {
		rows = append(rows, &UserRole{UserID: userID, RoleID: id})
	}

	if _, err := u.Repository.CreateManyTx(ctx, tx, rows); err != nil {
		return wrapStoreError(err, "failed to attach roles")
	}
	return nil
}

func (u *userRoles) Detach(ctx context.Context, userID uuid.UUID, roleIDs ...uuid.UUID) error {
	return u.DetachTx(ctx, u.db, userID, roleIDs...)
}

func (u *userRoles) DetachTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleIDs ...uuid.UUID) error {
	if len(roleIDs) == 0 {
		return nil
	}

	err := u.Repository.DeleteManyTx(ctx, tx,
		deleteEq("user_id", userID),
		deleteIn("role_id", roleIDs),
	)
	if err != nil {
		return wrapStoreError(err, "failed to detach roles")
	}
	return nil
}

// RolePermissions holds role to permission association rows
type RolePermissions interface {
	repository.Repository[*RolePermission]

	PermissionIDs(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)
	PermissionIDsTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID) ([]uuid.UUID, error)
	Replace(ctx context.Context, roleID uuid.UUID, permissionIDs ...uuid.UUID) error
	ReplaceTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID, permissionIDs ...uuid.UUID) error
}

type rolePermissions struct {
	repository.Repository[*RolePermission]
	db *bun.DB
}

var _ RolePermissions = (*rolePermissions)(nil)

func NewRolePermissionsRepository(db *bun.DB) RolePermissions {
	repo := repository.NewRepository[*RolePermission](db, repository.ModelHandlers[*RolePermission]{
		NewRecord: func() *RolePermission { return &RolePermission{} },
		GetID:     func(*RolePermission) uuid.UUID { return uuid.Nil },
		SetID:     func(*RolePermission, uuid.UUID) {},
	})

	return &rolePermissions{
		Repository: repo,
		db:         db,
	}
}

func (r *rolePermissions) PermissionIDs(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	return r.PermissionIDsTx(ctx, r.db, roleID)
}

func (r *rolePermissions) PermissionIDsTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID) ([]uuid.UUID, error) {
	rows, _, err := r.Repository.ListTx(ctx, tx, selectEq("role_id", roleID))
	if err != nil && !IsRecordNotFound(err) {
		return nil, wrapStoreError(err, "failed to list role permissions")
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.PermissionID)
	}
	return ids, nil
}

func (r *rolePermissions) Replace(ctx context.Context, roleID uuid.UUID, permissionIDs ...uuid.UUID) error {
	return r.ReplaceTx(ctx, r.db, roleID, permissionIDs...)
}

// ReplaceTx drops every grant of the role and writes permissionIDs.
// Run it inside a transaction, partial state is visible otherwise.
func (r *rolePermissions) ReplaceTx(ctx context.Context, tx bun.IDB, roleID uuid.UUID, permissionIDs ...uuid.UUID) error {
	if err := r.Repository.DeleteManyTx(ctx, tx, deleteEq("role_id", roleID)); err != nil {
		return wrapStoreError(err, "failed to clear role permissions")
	}

	rows := make([]*RolePermission, 0, len(permissionIDs))
	seen := make(map[uuid.UUID]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, &RolePermission{RoleID: roleID, PermissionID: id})
	}

	if len(rows) == 0 {
		return nil
	}

	if _, err := r.Repository.CreateManyTx(ctx, tx, rows); err != nil {
		return wrapStoreError(err, "failed to grant permissions")
	}
	return nil
}
