package auth

import (
	"context"
	"database/sql"
	"log"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	DB() *bun.DB
	Users() Users
	Roles() Roles
	Permissions() Permissions
	AuthCodes() AuthCodes
	UserRoles() UserRoles
	RolePermissions() RolePermissions
}

type mngr struct {
	db              *bun.DB
	users           Users
	roles           Roles
	permissions     Permissions
	authCodes       AuthCodes
	userRoles       UserRoles
	rolePermissions RolePermissions
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	RegisterModels(db)
	return &mngr{
		db:              db,
		users:           NewUsersRepository(db),
		roles:           NewRolesRepository(db),
		permissions:     NewPermissionsRepository(db),
		authCodes:       NewAuthCodesRepository(db),
		userRoles:       NewUserRolesRepository(db),
		rolePermissions: NewRolePermissionsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return goerrors.New("repository manager needs a database", goerrors.CategoryInternal)
	}

	if m.users == nil {
		return goerrors.New("repository users should be initialized", goerrors.CategoryInternal)
	}

	if m.roles == nil || m.permissions == nil {
		return goerrors.New("repository roles and permissions should be initialized", goerrors.CategoryInternal)
	}

	if m.authCodes == nil {
		return goerrors.New("repository authCodes should be initialized", goerrors.CategoryInternal)
	}

	if m.userRoles == nil || m.rolePermissions == nil {
		return goerrors.New("association repositories should be initialized", goerrors.CategoryInternal)
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) Permissions() Permissions {
	return m.permissions
}

func (m mngr) AuthCodes() AuthCodes {
	return m.authCodes
}

func (m mngr) UserRoles() UserRoles {
	return m.userRoles
}

func (m mngr) RolePermissions() RolePermissions {
	return m.rolePermissions
}
