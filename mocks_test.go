package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	auth "github.com/service-laboratory/lab-auth"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

// testConfig implements auth.Config
type testConfig struct {
	signingKey  string
	otpSecret   string
	expiration  time.Duration
	interval    time.Duration
	skew        uint
	defaultRole string
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:  "test-signing-key",
		otpSecret:   "secret32base",
		expiration:  time.Hour,
		interval:    10 * time.Minute,
		skew:        1,
		defaultRole: auth.RoleCustomer,
	}
}

func (c *testConfig) GetSigningKey() string             { return c.signingKey }
func (c *testConfig) GetOTPSecret() string              { return c.otpSecret }
func (c *testConfig) GetTokenExpiration() time.Duration { return c.expiration }
func (c *testConfig) GetCodeInterval() time.Duration    { return c.interval }
func (c *testConfig) GetCodeSkew() uint                 { return c.skew }
func (c *testConfig) GetDefaultRole() string            { return c.defaultRole }

// fakeClock is a settable time source shared by codes and tokens
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockEmitter implements auth.EventEmitter
type MockEmitter struct {
	mock.Mock
}

func (m *MockEmitter) Emit(ctx context.Context, event string, args ...any) {
	m.Called(append([]any{event}, args...)...)
}

// recordingEmitter keeps every emitted auth code per email
type recordingEmitter struct {
	mu    sync.Mutex
	codes map[string][]string
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{codes: map[string][]string{}}
}

func (r *recordingEmitter) Emit(ctx context.Context, event string, args ...any) {
	if event != auth.EventSendAuthCode {
		return
	}
	email, code, err := auth.AuthCodeArgs(args...)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[email] = append(r.codes[email], code)
}

func (r *recordingEmitter) Count(email string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes[email])
}

func (r *recordingEmitter) Last(email string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := r.codes[email]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) Types() []auth.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	auth.RegisterModels(db)
	require.NoError(t, auth.CreateSchema(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

type testEnv struct {
	db      *bun.DB
	repo    auth.RepositoryManager
	service *auth.AuthService
	codes   *auth.TOTPCodes
	tokens  *auth.TokenService
	clock   *fakeClock
	emitter *recordingEmitter
	sink    *capturingSink
	cfg     *testConfig
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	cfg := newTestConfig()
	clock := newFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	repo := auth.NewRepositoryManager(db)
	codes := auth.NewTOTPCodes(cfg).WithCodeClock(clock.Now)
	tokens := auth.NewTokenService(cfg).WithTokenClock(clock.Now)
	emitter := newRecordingEmitter()
	sink := &capturingSink{}

	service := auth.NewAuthService(repo, cfg).
		WithPasswordHasher(auth.NewBcryptHasher(bcrypt.MinCost)).
		WithCodeGenerator(codes).
		WithTokenCodec(tokens).
		WithEventEmitter(emitter).
		WithActivitySink(sink).
		WithClock(clock.Now)

	return &testEnv{
		db:      db,
		repo:    repo,
		service: service,
		codes:   codes,
		tokens:  tokens,
		clock:   clock,
		emitter: emitter,
		sink:    sink,
		cfg:     cfg,
	}
}

// seedRole creates a role with the given permissions
func (e *testEnv) seedRole(t *testing.T, name string, perms ...*auth.Permission) *auth.Role {
	t.Helper()
	ctx := context.Background()

	role, err := e.repo.Roles().Create(ctx, &auth.Role{Name: name, Label: name + " label"})
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	require.NoError(t, e.repo.RolePermissions().Replace(ctx, role.ID, ids...))

	return role
}

func (e *testEnv) seedPermission(t *testing.T, app, action string) *auth.Permission {
	t.Helper()
	p, err := e.repo.Permissions().Create(context.Background(), &auth.Permission{
		App:    app,
		Action: action,
		Name:   app + "." + action,
		Label:  app + " " + action,
	})
	require.NoError(t, err)
	return p
}

// where filters on column equality
func where(column string, value any) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	}
}
