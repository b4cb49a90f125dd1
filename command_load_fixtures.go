package auth

import (
	"context"
	"io/fs"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

// DefaultFixturePassword is the password of every fixture user
const DefaultFixturePassword = "password"

// Fixtures is the document read by LoadFixturesHandler
type Fixtures struct {
	Permissions []PermissionFixture `yaml:"permissions"`
	Roles       []RoleFixture       `yaml:"roles"`
	Users       []UserFixture       `yaml:"users"`
}

type PermissionFixture struct {
	Name   string `yaml:"name"`
	Label  string `yaml:"label"`
	App    string `yaml:"app"`
	Action string `yaml:"action"`
}

type RoleFixture struct {
	Name        string   `yaml:"name"`
	Label       string   `yaml:"label"`
	Permissions []string `yaml:"permissions"`
}

type UserFixture struct {
	Email    string   `yaml:"email"`
	IsActive bool     `yaml:"is_active"`
	Roles    []string `yaml:"roles"`
}

// ParseFixtures decodes a fixture document
func ParseFixtures(data []byte) (*Fixtures, error) {
	fx := &Fixtures{}
	if err := yaml.Unmarshal(data, fx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse fixtures")
	}
	return fx, nil
}

// ReadFixtures reads and decodes path from fsys
func ReadFixtures(fsys fs.FS, path string) (*Fixtures, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read fixtures").
			WithMetadata(map[string]any{"path": path})
	}
	return ParseFixtures(data)
}

type LoadFixturesMessage struct {
	// Fixtures defaults to the bundled data/fixtures/auth.yaml
	Fixtures *Fixtures
	// Password for every user, DefaultFixturePassword when empty
	Password string
}

func (m LoadFixturesMessage) Type() string { return "auth.fixtures.load" }

type ClearFixturesMessage struct{}

func (m ClearFixturesMessage) Type() string { return "auth.fixtures.clear" }

// LoadFixturesHandler wipes auth data and loads the fixtures in one
// transaction.
type LoadFixturesHandler struct {
	repo   RepositoryManager
	hasher PasswordHasher
	logger Logger
}

func NewLoadFixturesHandler(repo RepositoryManager) *LoadFixturesHandler {
	return &LoadFixturesHandler{
		repo:   repo,
		hasher: NewBcryptHasher(),
		logger: defLogger{},
	}
}

func (h *LoadFixturesHandler) WithPasswordHasher(hasher PasswordHasher) *LoadFixturesHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

func (h *LoadFixturesHandler) WithLogger(logger Logger) *LoadFixturesHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *LoadFixturesHandler) Execute(ctx context.Context, event LoadFixturesMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during fixture load",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LoadFixturesHandler) execute(ctx context.Context, event LoadFixturesMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	fx := event.Fixtures
	if fx == nil {
		var err error
		if fx, err = ReadFixtures(fixturesFS, DefaultFixturesPath); err != nil {
			return err
		}
	}

	password := event.Password
	if password == "" {
		password = DefaultFixturePassword
	}

	// one hash for every user, bcrypt is slow on purpose
	hash, err := h.hasher.Hash(password)
	if err != nil {
		return err
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := clearAuthData(ctx, h.repo, tx); err != nil {
			return err
		}

		permissions := make(map[string]*Permission, len(fx.Permissions))
		for _, p := range fx.Permissions {
			created, err := h.repo.Permissions().CreateTx(ctx, tx, &Permission{
				Name:   p.Name,
				Label:  p.Label,
				App:    p.App,
				Action: p.Action,
			})
			if err != nil {
				return wrapStoreError(err, "failed to create permission")
			}
			permissions[created.Name] = created
		}

		roles := make(map[string]*Role, len(fx.Roles))
		for _, r := range fx.Roles {
			role, err := h.repo.Roles().CreateTx(ctx, tx, &Role{Name: r.Name, Label: r.Label})
			if err != nil {
				return wrapStoreError(err, "failed to create role")
			}
			roles[role.Name] = role

			ids, missing := lookupIDs(permissions, r.Permissions, func(p *Permission) uuid.UUID { return p.ID })
			if missing != "" {
				h.logger.Error("role %s references unknown permission %s", r.Name, missing)
				return ErrPermissionNotFound
			}
			if err := h.repo.RolePermissions().ReplaceTx(ctx, tx, role.ID, ids...); err != nil {
				return err
			}
		}

		for _, u := range fx.Users {
			user, err := h.repo.Users().CreateTx(ctx, tx, &User{
				Email:        NormalizeEmail(u.Email),
				PasswordHash: hash,
				IsEnabled:    true,
				IsActive:     u.IsActive,
			})
			if err != nil {
				return wrapStoreError(err, "failed to create user")
			}

			ids, missing := lookupIDs(roles, u.Roles, func(r *Role) uuid.UUID { return r.ID })
			if missing != "" {
				h.logger.Error("user %s references unknown role %s", u.Email, missing)
				return ErrRoleNotFound
			}
			if err := h.repo.UserRoles().AttachTx(ctx, tx, user.ID, uniqueIDs(ids)...); err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "fixture load transaction failed")
	}

	h.logger.Info("loaded %d permissions, %d roles, %d users",
		len(fx.Permissions), len(fx.Roles), len(fx.Users))

	return nil
}

// ClearFixturesHandler removes users, roles, permissions and their links
type ClearFixturesHandler struct {
	repo RepositoryManager
}

func NewClearFixturesHandler(repo RepositoryManager) *ClearFixturesHandler {
	return &ClearFixturesHandler{repo: repo}
}

func (h *ClearFixturesHandler) Execute(ctx context.Context, event ClearFixturesMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during fixture clear",
		)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return clearAuthData(ctx, h.repo, tx)
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "fixture clear transaction failed")
	}

	return nil
}

// clearAuthData deletes children first so it works without cascades
func clearAuthData(ctx context.Context, repo RepositoryManager, tx bun.IDB) error {
	steps := []func() error{
		func() error { return repo.RolePermissions().DeleteManyTx(ctx, tx, deleteAll()) },
		func() error { return repo.UserRoles().DeleteManyTx(ctx, tx, deleteAll()) },
		func() error { return repo.AuthCodes().DeleteManyTx(ctx, tx, deleteAll()) },
		func() error { return repo.Permissions().DeleteManyTx(ctx, tx, deleteAll()) },
		func() error { return repo.Roles().DeleteManyTx(ctx, tx, deleteAll()) },
		func() error { return repo.Users().DeleteManyTx(ctx, tx, deleteAll()) },
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return wrapStoreError(err, "failed to clear auth data")
		}
	}
	return nil
}

// lookupIDs resolves names against index, missing is the first
// unknown name
func lookupIDs[T any](index map[string]T, names []string, id func(T) uuid.UUID) (ids []uuid.UUID, missing string) {
	ids = make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		v, ok := index[name]
		if !ok {
			return nil, name
		}
		ids = append(ids, id(v))
	}
	return ids, ""
}
