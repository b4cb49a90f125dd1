package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RegisterModels registers the association models bun needs to
// resolve m2m relations. It is safe to call more than once.
func RegisterModels(db *bun.DB) {
	db.RegisterModel((*UserRole)(nil), (*RolePermission)(nil))
}

// Models lists every table model, parents first
func Models() []any {
	return []any{
		(*User)(nil),
		(*Role)(nil),
		(*Permission)(nil),
		(*AuthCode)(nil),
		(*UserRole)(nil),
		(*RolePermission)(nil),
	}
}

// CreateSchema creates every table if missing, parents first
func CreateSchema(ctx context.Context, db bun.IDB) error {
	steps := []*bun.CreateTableQuery{
		db.NewCreateTable().Model((*User)(nil)).IfNotExists(),
		db.NewCreateTable().Model((*Role)(nil)).IfNotExists(),
		db.NewCreateTable().Model((*Permission)(nil)).IfNotExists(),
		db.NewCreateTable().Model((*AuthCode)(nil)).IfNotExists().
			ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`),
		db.NewCreateTable().Model((*UserRole)(nil)).IfNotExists().
			ForeignKey(`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`).
			ForeignKey(`("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`),
		db.NewCreateTable().Model((*RolePermission)(nil)).IfNotExists().
			ForeignKey(`("role_id") REFERENCES "roles" ("id") ON DELETE CASCADE`).
			ForeignKey(`("permission_id") REFERENCES "permissions" ("id") ON DELETE CASCADE`),
	}

	for _, q := range steps {
		if _, err := q.Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create schema")
		}
	}

	// codes are looked up by value on activation and reset
	_, err := db.NewCreateIndex().
		Model((*AuthCode)(nil)).
		Index("auth_codes_code_idx").
		Column("code").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create auth code index")
	}

	return nil
}

// DropSchema drops every table, children first
func DropSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*RolePermission)(nil),
		(*UserRole)(nil),
		(*AuthCode)(nil),
		(*Permission)(nil),
		(*Role)(nil),
		(*User)(nil),
	}

	for _, m := range models {
		if _, err := db.NewDropTable().Model(m).IfExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to drop schema")
		}
	}

	return nil
}
