package auth

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AuthCodes interface {
	repository.Repository[*AuthCode]

	ListByCode(ctx context.Context, code string) ([]*AuthCode, error)
	ListByCodeTx(ctx context.Context, tx bun.IDB, code string) ([]*AuthCode, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (*AuthCode, error)
	GetByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*AuthCode, error)
	Issue(ctx context.Context, userID uuid.UUID, code string) (*AuthCode, error)
	IssueTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, code string) (*AuthCode, error)
}

type authCodes struct {
	repository.Repository[*AuthCode]
	db *bun.DB
}

var _ AuthCodes = (*authCodes)(nil)

func NewAuthCodesRepository(db *bun.DB) AuthCodes {
	repo := repository.NewRepository[*AuthCode](db, repository.ModelHandlers[*AuthCode]{
		NewRecord: func() *AuthCode { return &AuthCode{} },
		GetID: func(c *AuthCode) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *AuthCode, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
	})

	return &authCodes{
		Repository: repo,
		db:         db,
	}
}

func (a *authCodes) ListByCode(ctx context.Context, code string) ([]*AuthCode, error) {
	return a.ListByCodeTx(ctx, a.db, code)
}

// ListByCodeTx returns every row holding code. Six digit codes collide
// across users, callers pick the row whose owner validates.
func (a *authCodes) ListByCodeTx(ctx context.Context, tx bun.IDB, code string) ([]*AuthCode, error) {
	records, _, err := a.Repository.ListTx(ctx, tx, selectEq("code", code))
	if err != nil {
		if IsRecordNotFound(err) {
			return []*AuthCode{}, nil
		}
		return nil, wrapStoreError(err, "failed to list auth codes")
	}
	return records, nil
}

func (a *authCodes) GetByUser(ctx context.Context, userID uuid.UUID) (*AuthCode, error) {
	return a.GetByUserTx(ctx, a.db, userID)
}

func (a *authCodes) GetByUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*AuthCode, error) {
	return a.Repository.GetTx(ctx, tx, selectEq("user_id", userID))
}

func (a *authCodes) Issue(ctx context.Context, userID uuid.UUID, code string) (*AuthCode, error) {
	return a.IssueTx(ctx, a.db, userID, code)
}

// IssueTx stores code for the user, replacing the live one if any.
// The unique user_id column makes this a single upsert.
func (a *authCodes) IssueTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, code string) (*AuthCode, error) {
	record := &AuthCode{
		UserID: userID,
		Code:   code,
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (user_id) DO UPDATE").
		Set("code = EXCLUDED.code").
		Exec(ctx)
	if err != nil {
		return nil, wrapStoreError(err, "failed to issue auth code")
	}

	// on conflict the generated id was discarded
	return a.GetByUserTx(ctx, tx, userID)
}
