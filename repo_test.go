package auth_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	auth "github.com/service-laboratory/lab-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newTestUser(email string) *auth.User {
	return &auth.User{
		Email:        email,
		PasswordHash: auth.RandomPasswordHash(),
		IsEnabled:    true,
	}
}

func TestRepositoryManagerValidate(t *testing.T) {
	db := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)

	assert.NoError(t, repo.Validate())
	assert.NotPanics(t, repo.MustValidate)
	assert.Equal(t, db, repo.DB())
}

func TestUsersRepository(t *testing.T) {
	db := setupTestDB(t)
	users := auth.NewUsersRepository(db)
	ctx := context.Background()

	created, err := users.Create(ctx, newTestUser("user@mail.com"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.NotNil(t, created.CreatedAt)

	found, err := users.GetByEmail(ctx, " USER@mail.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.False(t, found.IsActive)
	assert.True(t, found.IsEnabled)

	exists, err := users.ExistsByEmail(ctx, "user@mail.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = users.ExistsByEmail(ctx, "other@mail.com")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = users.GetByEmail(ctx, "other@mail.com")
	assert.True(t, auth.IsRecordNotFound(err))

	_, err = users.Create(ctx, newTestUser("user@mail.com"))
	require.Error(t, err)
	assert.True(t, auth.IsUniqueViolation(err))
}

func TestUsersRepositoryFlags(t *testing.T) {
	db := setupTestDB(t)
	users := auth.NewUsersRepository(db)
	ctx := context.Background()

	user, err := users.Create(ctx, newTestUser("user@mail.com"))
	require.NoError(t, err)

	require.NoError(t, users.Activate(ctx, user.ID))
	require.NoError(t, users.SetEnabled(ctx, user.ID, false))

	stored, err := users.GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.False(t, stored.IsEnabled)

	// the email and hash are left alone
	assert.Equal(t, user.Email, stored.Email)
	assert.Equal(t, user.PasswordHash, stored.PasswordHash)

	require.NoError(t, users.SetPassword(ctx, user.ID, "hash-1"))
	stored, err = users.GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "hash-1", stored.PasswordHash)
	assert.False(t, stored.IsEnabled)

	err = users.Activate(ctx, uuid.New())
	assert.True(t, auth.IsRecordNotFound(err))
}

func TestUsersRepositoryResetPassword(t *testing.T) {
	db := setupTestDB(t)
	users := auth.NewUsersRepository(db)
	ctx := context.Background()

	user, err := users.Create(ctx, newTestUser("user@mail.com"))
	require.NoError(t, err)

	require.NoError(t, users.ResetPassword(ctx, user.ID, "hash-2"))

	stored, err := users.GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "hash-2", stored.PasswordHash)
	assert.True(t, stored.IsActive)
}

func TestAuthCodesRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)
	ctx := context.Background()

	user, err := repo.Users().Create(ctx, newTestUser("user@mail.com"))
	require.NoError(t, err)

	first, err := repo.AuthCodes().Issue(ctx, user.ID, "11111111")
	require.NoError(t, err)
	assert.Equal(t, "11111111", first.Code)

	second, err := repo.AuthCodes().Issue(ctx, user.ID, "22222222")
	require.NoError(t, err)
	assert.Equal(t, "22222222", second.Code)
	assert.Equal(t, first.ID, second.ID)

	n, err := repo.AuthCodes().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := repo.AuthCodes().ListByCode(ctx, "11111111")
	require.NoError(t, err)
	assert.Empty(t, stale)

	matches, err := repo.AuthCodes().ListByCode(ctx, "22222222")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	found := matches[0]
	assert.Equal(t, user.ID, found.UserID)

	require.NoError(t, repo.AuthCodes().Delete(ctx, found))
	_, err = repo.AuthCodes().GetByUser(ctx, user.ID)
	assert.True(t, auth.IsRecordNotFound(err))
}

func TestAuthCodesSharedCode(t *testing.T) {
	db := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)
	ctx := context.Background()

	alice, err := repo.Users().Create(ctx, newTestUser("alice@mail.com"))
	require.NoError(t, err)
	bob, err := repo.Users().Create(ctx, newTestUser("bob@mail.com"))
	require.NoError(t, err)

	_, err = repo.AuthCodes().Issue(ctx, alice.ID, "123456")
	require.NoError(t, err)
	_, err = repo.AuthCodes().Issue(ctx, bob.ID, "123456")
	require.NoError(t, err)

	matches, err := repo.AuthCodes().ListByCode(ctx, "123456")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	owners := []uuid.UUID{matches[0].UserID, matches[1].UserID}
	assert.ElementsMatch(t, []uuid.UUID{alice.ID, bob.ID}, owners)
}

func TestAuthCodesCascade(t *testing.T) {
	db := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)
	ctx := context.Background()

	user, err := repo.Users().Create(ctx, newTestUser("user@mail.com"))
	require.NoError(t, err)

	_, err = repo.AuthCodes().Issue(ctx, user.ID, "11111111")
	require.NoError(t, err)

	require.NoError(t, repo.Users().Delete(ctx, user))

	n, err := repo.AuthCodes().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUserRolesRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)
	ctx := context.Background()

	user, err := repo.Users().Create(ctx, newTestUser("user@mail.com"))
	require.NoError(t, err)

	a, err := repo.Roles().Create(ctx, &auth.Role{Name: "a", Label: "A"})
	require.NoError(t, err)
	b, err := repo.Roles().Create(ctx, &auth.Role{Name: "b", Label: "B"})
	require.NoError(t, err)

	require.NoError(t, repo.UserRoles().Attach(ctx, user.ID, a.ID, b.ID))

	ids, err := repo.UserRoles().RoleIDs(ctx, user.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, ids)

	// the pair is the primary key
	err = repo.UserRoles().Attach(ctx, user.ID, a.ID)
	assert.True(t, auth.IsUniqueViolation(err))

	require.NoError(t, repo.UserRoles().Detach(ctx, user.ID, a.ID))
	require.NoError(t, repo.UserRoles().Detach(ctx, user.ID))

	ids, err = repo.UserRoles().RoleIDs(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, ids)

	loaded, err := repo.Users().GetWithRoles(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Roles, 1)
	assert.Equal(t, "b", loaded.Roles[0].Name)

	byName, err := repo.Roles().GetByName(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byName.ID)
}

func TestRolePermissionsRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)
	ctx := context.Background()

	role, err := repo.Roles().Create(ctx, &auth.Role{Name: "manager", Label: "Manager"})
	require.NoError(t, err)

	view, err := repo.Permissions().Create(ctx, &auth.Permission{App: "races", Action: "view", Name: "races.view", Label: "View races"})
	require.NoError(t, err)
	edit, err := repo.Permissions().Create(ctx, &auth.Permission{App: "races", Action: "edit", Name: "races.edit", Label: "Edit races"})
	require.NoError(t, err)

	_, err = repo.Permissions().Create(ctx, &auth.Permission{App: "races", Action: "edit", Name: "dup", Label: "dup"})
	assert.True(t, auth.IsUniqueViolation(err))

	require.NoError(t, repo.RolePermissions().Replace(ctx, role.ID, view.ID, view.ID, edit.ID))

	ids, err := repo.RolePermissions().PermissionIDs(ctx, role.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{view.ID, edit.ID}, ids)

	require.NoError(t, repo.RolePermissions().Replace(ctx, role.ID, edit.ID))

	loaded, err := repo.Roles().GetWithPermissions(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Permissions, 1)
	assert.Equal(t, "races.edit", loaded.Permissions[0].Name)

	byName, err := repo.Permissions().GetByName(ctx, "races.view")
	require.NoError(t, err)
	assert.Equal(t, view.ID, byName.ID)
}

func TestSelectCriteria(t *testing.T) {
	db := setupTestDB(t)
	users := auth.NewUsersRepository(db)
	ctx := context.Background()

	var ids []string
	for _, email := range []string{"a@mail.com", "b@mail.com", "c@mail.com"} {
		u, err := users.Create(ctx, newTestUser(email))
		require.NoError(t, err)
		ids = append(ids, u.ID.String())
	}

	in := func(values []string) repository.SelectCriteria {
		return func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.id IN (?)", bun.In(values))
		}
	}

	tests := []struct {
		name     string
		criteria []repository.SelectCriteria
		want     int
	}{
		{name: "no criteria", want: 3},
		{name: "eq", criteria: []repository.SelectCriteria{where("email", "a@mail.com")}, want: 1},
		{name: "in", criteria: []repository.SelectCriteria{in(ids[:2])}, want: 2},
		{name: "combined", criteria: []repository.SelectCriteria{in(ids), where("email", "c@mail.com")}, want: 1},
		{name: "no match", criteria: []repository.SelectCriteria{where("email", "z@mail.com")}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := users.Count(ctx, tt.criteria...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)

			list, total, err := users.List(ctx, tt.criteria...)
			require.NoError(t, err)
			assert.Len(t, list, tt.want)
			assert.Equal(t, tt.want, total)
		})
	}

	byEmail := func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("email = ?", "a@mail.com")
	}
	require.NoError(t, users.DeleteMany(ctx, byEmail))

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunInTxRollback(t *testing.T) {
	db := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)
	ctx := context.Background()

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := repo.Users().CreateTx(ctx, tx, newTestUser("a@mail.com")); err != nil {
			return err
		}
		_, err := repo.Users().CreateTx(ctx, tx, newTestUser("a@mail.com"))
		return err
	})
	require.Error(t, err)

	n, err := repo.Users().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSchemaIsRepeatable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	assert.NoError(t, auth.CreateSchema(ctx, db))
	assert.NoError(t, auth.DropSchema(ctx, db))
	assert.NoError(t, auth.CreateSchema(ctx, db))
}
