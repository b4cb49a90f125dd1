package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NOTE: field updates go through raw SQL, the ORM update skips zero
// values and would never write is_enabled = FALSE.
var (
	ActivateUserSQL = `UPDATE "users"
SET
	"is_active" = TRUE,
	"updated_at" = ?
WHERE "id" = ?
RETURNING *;`

	ResetUserPasswordSQL = `UPDATE "users"
SET
	"password_hash" = ?,
	"is_active" = TRUE,
	"updated_at" = ?
WHERE "id" = ?
RETURNING *;`

	SetUserPasswordSQL = `UPDATE "users"
SET
	"password_hash" = ?,
	"updated_at" = ?
WHERE "id" = ?
RETURNING *;`

	SetUserEnabledSQL = `UPDATE "users"
SET
	"is_enabled" = ?,
	"updated_at" = ?
WHERE "id" = ?
RETURNING *;`
)

type Users interface {
	repository.Repository[*User]

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
	GetWithRoles(ctx context.Context, id uuid.UUID) (*User, error)
	GetWithRolesTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)

	Activate(ctx context.Context, id uuid.UUID) error
	ActivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	SetEnabledTx(ctx context.Context, tx bun.IDB, id uuid.UUID, enabled bool) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

// NormalizeEmail is applied to every email we store or look up
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	user, err := a.Repository.GetTx(ctx, tx, selectEq("email", NormalizeEmail(email)))
	if err != nil {
		if IsRecordNotFound(err) {
			return nil, NewRecordNotFound().WithMetadata(map[string]any{
				"email": NormalizeEmail(email),
			})
		}
		return nil, err
	}
	return user, nil
}

func (a *users) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return a.ExistsByEmailTx(ctx, a.db, email)
}

func (a *users) ExistsByEmailTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	n, err := a.Repository.CountTx(ctx, tx, selectEq("email", NormalizeEmail(email)))
	if err != nil {
		return false, wrapStoreError(err, "failed to count users")
	}
	return n > 0, nil
}

func (a *users) GetWithRoles(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.GetWithRolesTx(ctx, a.db, id)
}

// GetWithRolesTx loads the user with roles and their permissions
func (a *users) GetWithRolesTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record, err := a.Repository.GetByIDTx(ctx, tx, id.String())
	if err != nil {
		return nil, err
	}

	roles := make([]*Role, 0)
	err = tx.NewSelect().
		Model(&roles).
		Relation("Permissions").
		Where("?TableAlias.id IN (?)", tx.NewSelect().
			Model((*UserRole)(nil)).
			Column("role_id").
			Where("user_id = ?", id)).
		OrderExpr("?TableAlias.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to load user roles")
	}

	record.Roles = roles
	return record, nil
}

func (a *users) Activate(ctx context.Context, id uuid.UUID) error {
	return a.ActivateTx(ctx, a.db, id)
}

func (a *users) ActivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	return a.updateTx(ctx, tx, id, ActivateUserSQL, time.Now().UTC(), id.String())
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

// ResetPasswordTx stores the hash and marks the user active, proving
// mailbox ownership is as good as activating.
func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return a.updateTx(ctx, tx, id, ResetUserPasswordSQL, passwordHash, time.Now().UTC(), id.String())
}

func (a *users) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.SetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return a.updateTx(ctx, tx, id, SetUserPasswordSQL, passwordHash, time.Now().UTC(), id.String())
}

func (a *users) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return a.SetEnabledTx(ctx, a.db, id, enabled)
}

func (a *users) SetEnabledTx(ctx context.Context, tx bun.IDB, id uuid.UUID, enabled bool) error {
	return a.updateTx(ctx, tx, id, SetUserEnabledSQL, enabled, time.Now().UTC(), id.String())
}

func (a *users) updateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, sql string, args ...any) error {
	res, err := a.Repository.RawTx(ctx, tx, sql, args...)
	if err != nil {
		return wrapStoreError(err, "failed to update user")
	}

	if len(res) == 0 {
		return NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}
