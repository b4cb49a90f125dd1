package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MinPasswordLength applies to self registration
const MinPasswordLength = 8

// DefaultOperationTimeout bounds a single service call
const DefaultOperationTimeout = 10 * time.Second

// AuthService runs the credential flows. Every call is one
// transaction over the repositories, notifications go out after
// commit.
type AuthService struct {
	repo        RepositoryManager
	hasher      PasswordHasher
	codes       CodeGenerator
	tokens      TokenCodec
	emitter     EventEmitter
	activity    ActivitySink
	logger      Logger
	defaultRole string
	useHashid   bool
	timeout     time.Duration
	now         func() time.Time
}

// NewAuthService creates a service with bcrypt, TOTP codes and HS256
// tokens built from cfg.
func NewAuthService(repo RepositoryManager, cfg Config) *AuthService {
	defaultRole := cfg.GetDefaultRole()
	if defaultRole == "" {
		defaultRole = RoleCustomer
	}

	return &AuthService{
		repo:        repo,
		hasher:      NewBcryptHasher(),
		codes:       NewTOTPCodes(cfg),
		tokens:      NewTokenService(cfg),
		emitter:     noopEmitter{},
		activity:    noopActivitySink{},
		logger:      defLogger{},
		defaultRole: defaultRole,
		timeout:     DefaultOperationTimeout,
		now:         time.Now,
	}
}

// WithPasswordHasher sets the hasher
func (s *AuthService) WithPasswordHasher(h PasswordHasher) *AuthService {
	if h != nil {
		s.hasher = h
	}
	return s
}

// WithCodeGenerator sets the generator used for activation and reset codes
func (s *AuthService) WithCodeGenerator(c CodeGenerator) *AuthService {
	if c != nil {
		s.codes = c
	}
	return s
}

// WithTokenCodec sets the bearer token codec
func (s *AuthService) WithTokenCodec(t TokenCodec) *AuthService {
	if t != nil {
		s.tokens = t
	}
	return s
}

// WithEventEmitter sets where send_auth_code goes
func (s *AuthService) WithEventEmitter(e EventEmitter) *AuthService {
	if e != nil {
		s.emitter = e
	}
	return s
}

// WithActivitySink sets the sink used to emit auth events.
func (s *AuthService) WithActivitySink(sink ActivitySink) *AuthService {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithLogger sets the logger
func (s *AuthService) WithLogger(logger Logger) *AuthService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithHashidIDs derives user ids from the email instead of random uuids
func (s *AuthService) WithHashidIDs(enabled bool) *AuthService {
	s.useHashid = enabled
	return s
}

// WithTimeout bounds each call
func (s *AuthService) WithTimeout(d time.Duration) *AuthService {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithClock sets the time source for activity timestamps
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

// Register creates an inactive user with the default role and sends
// an activation code.
func (s *AuthService) Register(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)

	if err := validateEmail(email); err != nil {
		return nil, err
	}

	var user *User
	var code string

	err := s.run(ctx, "registration", func(ctx context.Context, tx bun.Tx) error {
		exists, err := s.repo.Users().ExistsByEmailTx(ctx, tx, email)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyExists
		}

		if err := validatePassword(password); err != nil {
			return err
		}

		hash, err := s.hasher.Hash(password)
		if err != nil {
			return err
		}

		user = &User{
			Email:        email,
			PasswordHash: hash,
			IsEnabled:    true,
			IsActive:     false,
		}

		if s.useHashid {
			if id, err := hashid.NewUUID(email); err == nil {
				user.ID = id
			}
		}

		if user, err = s.repo.Users().CreateTx(ctx, tx, user); err != nil {
			if IsUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}

		if err := s.attachRoleByNameTx(ctx, tx, user.ID, s.defaultRole); err != nil {
			return err
		}

		code, err = s.issueCodeTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sendCode(ctx, user, code)
	s.record(ctx, ActivityEventRegistered, user, nil)

	return user, nil
}

// Login checks the credentials. Inactive users still log in, they get
// a fresh activation code as a side effect.
func (s *AuthService) Login(ctx context.Context, email, password string) (*User, error) {
	var user *User
	var code string

	err := s.run(ctx, "login", func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.repo.Users().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		if !s.hasher.Verify(password, user.PasswordHash) {
			return ErrWrongPassword
		}

		if !user.IsEnabled {
			return ErrUserDisabled
		}

		if !user.IsActive {
			code, err = s.issueCodeTx(ctx, tx, user)
			return err
		}

		return nil
	})

	if err != nil {
		s.record(ctx, ActivityEventLoginFailure, user, map[string]any{
			"email": NormalizeEmail(email),
			"error": err.Error(),
		})
		return nil, err
	}

	if code != "" {
		s.logger.Debug("user %s is not active, resending code", user.ID)
		s.sendCode(ctx, user, code)
	}

	s.record(ctx, ActivityEventLoginSuccess, user, map[string]any{
		"is_active": user.IsActive,
	})

	return user, nil
}

// Activate consumes code and marks its owner active
func (s *AuthService) Activate(ctx context.Context, code string) (*User, error) {
	var user *User

	err := s.run(ctx, "activation", func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.consumeCodeTx(ctx, tx, code)
		if err != nil {
			return err
		}

		if err := s.repo.Users().ActivateTx(ctx, tx, user.ID); err != nil {
			return err
		}
		user.IsActive = true

		return nil
	})

	if err != nil {
		s.record(ctx, ActivityEventActivationFailure, nil, map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	s.record(ctx, ActivityEventActivated, user, nil)

	return user, nil
}

// StartResetPassword issues a code for the user with email
func (s *AuthService) StartResetPassword(ctx context.Context, email string) error {
	var user *User
	var code string

	err := s.run(ctx, "password reset request", func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.repo.Users().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		code, err = s.issueCodeTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return err
	}

	s.sendCode(ctx, user, code)
	s.record(ctx, ActivityEventPasswordResetStarted, user, nil)

	return nil
}

// ResetPassword consumes code and stores the new password. Owning the
// mailbox also activates the account.
func (s *AuthService) ResetPassword(ctx context.Context, code, password string) (*User, error) {
	if err := checkPasswordBytes(password); err != nil {
		return nil, err
	}

	var user *User

	err := s.run(ctx, "password reset", func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.consumeCodeTx(ctx, tx, code)
		if err != nil {
			return err
		}

		hash, err := s.hasher.Hash(password)
		if err != nil {
			return err
		}

		if err := s.repo.Users().ResetPasswordTx(ctx, tx, user.ID, hash); err != nil {
			return err
		}

		user.PasswordHash = hash
		user.IsActive = true

		return nil
	})

	if err != nil {
		s.record(ctx, ActivityEventPasswordResetFailure, nil, map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	s.record(ctx, ActivityEventPasswordResetSuccess, user, nil)

	return user, nil
}

// SetUserPassword overwrites the password without any code
func (s *AuthService) SetUserPassword(ctx context.Context, email, password string) error {
	if err := checkPasswordBytes(password); err != nil {
		return err
	}

	var user *User

	err := s.run(ctx, "set password", func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.repo.Users().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if IsRecordNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}

		hash, err := s.hasher.Hash(password)
		if err != nil {
			return err
		}

		return s.repo.Users().SetPasswordTx(ctx, tx, user.ID, hash)
	})
	if err != nil {
		return err
	}

	s.record(ctx, ActivityEventPasswordSet, user, nil)

	return nil
}

// SetUserEnabled turns authentication on or off for a user
func (s *AuthService) SetUserEnabled(ctx context.Context, userID uuid.UUID, enabled bool) (*User, error) {
	var user *User

	err := s.run(ctx, "set enabled", func(ctx context.Context, tx bun.Tx) error {
		var err error
		if user, err = s.getUserTx(ctx, tx, userID); err != nil {
			return err
		}

		if user.IsEnabled == enabled {
			return nil
		}

		if err := s.repo.Users().SetEnabledTx(ctx, tx, userID, enabled); err != nil {
			return err
		}
		user.IsEnabled = enabled

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, ActivityEventUserStatusChanged, user, map[string]any{
		"is_enabled": enabled,
	})

	return user, nil
}

// UpdateUserRoles makes roleIDs the exact role set of the user. Only
// the difference is written so repeated calls are no-ops.
func (s *AuthService) UpdateUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error {
	var added, removed []uuid.UUID
	var user *User

	err := s.run(ctx, "update user roles", func(ctx context.Context, tx bun.Tx) error {
		var err error
		if user, err = s.getUserTx(ctx, tx, userID); err != nil {
			return err
		}

		desired := uniqueIDs(roleIDs)
		if err := s.ensureRolesTx(ctx, tx, desired); err != nil {
			return err
		}

		current, err := s.repo.UserRoles().RoleIDsTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		added, removed = diffIDs(current, desired)

		if err := s.repo.UserRoles().DetachTx(ctx, tx, userID, removed...); err != nil {
			return err
		}

		return s.repo.UserRoles().AttachTx(ctx, tx, userID, added...)
	})
	if err != nil {
		return err
	}

	if len(added) > 0 || len(removed) > 0 {
		s.record(ctx, ActivityEventUserRolesUpdated, user, map[string]any{
			"added":   len(added),
			"removed": len(removed),
		})
	}

	return nil
}

// UpdateRolePermissions replaces the whole permission set of a role
func (s *AuthService) UpdateRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	desired := uniqueIDs(permissionIDs)

	err := s.run(ctx, "update role permissions", func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.Roles().GetByIDTx(ctx, tx, roleID.String()); err != nil {
			if IsRecordNotFound(err) {
				return ErrRoleNotFound
			}
			return err
		}

		if len(desired) > 0 {
			n, err := s.repo.Permissions().CountTx(ctx, tx, selectIn("id", desired))
			if err != nil {
				return err
			}
			if n != len(desired) {
				return ErrPermissionNotFound
			}
		}

		return s.repo.RolePermissions().ReplaceTx(ctx, tx, roleID, desired...)
	})
	if err != nil {
		return err
	}

	s.record(ctx, ActivityEventRolePermissionsUpdate, nil, map[string]any{
		"role_id":     roleID.String(),
		"permissions": len(desired),
	})

	return nil
}

// AddUserRole attaches the role called name, creating the role if needed
func (s *AuthService) AddUserRole(ctx context.Context, userID uuid.UUID, name string) error {
	return s.run(ctx, "add user role", func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.getUserTx(ctx, tx, userID); err != nil {
			return err
		}
		return s.attachRoleByNameTx(ctx, tx, userID, name)
	})
}

// CreateAdmin creates an active user holding the admin role
func (s *AuthService) CreateAdmin(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)

	if err := validateEmail(email); err != nil {
		return nil, err
	}

	if err := checkPasswordBytes(password); err != nil {
		return nil, err
	}

	var user *User

	err := s.run(ctx, "create admin", func(ctx context.Context, tx bun.Tx) error {
		hash, err := s.hasher.Hash(password)
		if err != nil {
			return err
		}

		user = &User{
			Email:        email,
			PasswordHash: hash,
			IsEnabled:    true,
			IsActive:     true,
		}

		if user, err = s.repo.Users().CreateTx(ctx, tx, user); err != nil {
			if IsUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}

		return s.attachRoleByNameTx(ctx, tx, user.ID, RoleAdmin)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, ActivityEventRegistered, user, map[string]any{
		"role": RoleAdmin,
	})

	return user, nil
}

// TokenFor mints a bearer token carrying the user snapshot with roles
// and permissions as stored right now.
func (s *AuthService) TokenFor(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.repo.Users().GetWithRoles(ctx, userID)
	if err != nil {
		if IsRecordNotFound(err) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	return s.tokens.Encode(user.Snapshot(), 0)
}

// SessionFromToken verifies token and returns its claims
func (s *AuthService) SessionFromToken(token string) (*TokenClaims, error) {
	return s.tokens.Decode(token)
}

func (s *AuthService) run(ctx context.Context, operation string, fn func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during "+operation,
		)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.repo.RunInTx(ctx, nil, fn)
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, operation+" transaction failed")
}

// issueCodeTx replaces whatever code the user had
func (s *AuthService) issueCodeTx(ctx context.Context, tx bun.IDB, user *User) (string, error) {
	code, err := s.codes.Generate(user.ID.String())
	if err != nil {
		return "", err
	}

	if _, err := s.repo.AuthCodes().IssueTx(ctx, tx, user.ID, code); err != nil {
		return "", err
	}

	return code, nil
}

// consumeCodeTx validates code against its owner and deletes it.
// Codes are not unique across users, the row whose owner validates wins.
func (s *AuthService) consumeCodeTx(ctx context.Context, tx bun.IDB, code string) (*User, error) {
	matches, err := s.repo.AuthCodes().ListByCodeTx(ctx, tx, code)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, ErrCodeNotFound
	}

	var authCode *AuthCode
	for _, row := range matches {
		if s.codes.Validate(code, row.UserID.String()) {
			authCode = row
			break
		}
	}

	if authCode == nil {
		return nil, ErrWrongOrExpiredCode
	}

	if err := s.repo.AuthCodes().DeleteTx(ctx, tx, authCode); err != nil {
		return nil, wrapStoreError(err, "failed to delete auth code")
	}

	return s.getUserTx(ctx, tx, authCode.UserID)
}

func (s *AuthService) getUserTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	user, err := s.repo.Users().GetByIDTx(ctx, tx, id.String())
	if err != nil {
		if IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) ensureRolesTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	n, err := s.repo.Roles().CountTx(ctx, tx, selectIn("id", ids))
	if err != nil {
		return err
	}

	if n != len(ids) {
		return ErrRoleNotFound
	}

	return nil
}

func (s *AuthService) attachRoleByNameTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, name string) error {
	role, err := s.repo.Roles().GetByNameTx(ctx, tx, name)
	if err != nil {
		if !IsRecordNotFound(err) {
			return err
		}
		s.logger.Warn("role %s missing, creating it", name)
		if role, err = s.repo.Roles().CreateTx(ctx, tx, &Role{Name: name, Label: name}); err != nil {
			return wrapStoreError(err, "failed to create role")
		}
	}

	current, err := s.repo.UserRoles().RoleIDsTx(ctx, tx, userID)
	if err != nil {
		return err
	}

	for _, id := range current {
		if id == role.ID {
			return nil
		}
	}

	return s.repo.UserRoles().AttachTx(ctx, tx, userID, role.ID)
}

// sendCode runs after commit, delivery problems never undo the code
func (s *AuthService) sendCode(ctx context.Context, user *User, code string) {
	s.emitter.Emit(ctx, EventSendAuthCode, user.Email, code)
	s.record(ctx, ActivityEventCodeIssued, user, nil)
}

func (s *AuthService) record(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Metadata:   metadata,
		OccurredAt: s.now(),
	}

	if user != nil {
		event.UserID = user.ID.String()
		event.Email = user.Email
		event.Actor = ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		}
	}

	if err := normalizeActivitySink(s.activity).Record(ctx, event); err != nil {
		s.logger.Warn("activity sink error during %s: %v", eventType, err)
	}
}

func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

func validatePassword(password string) error {
	if err := validation.Validate(password, validation.Required, validation.RuneLength(MinPasswordLength, 0)); err != nil {
		return ErrPasswordTooShort
	}
	return checkPasswordBytes(password)
}

func checkPasswordBytes(password string) error {
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// diffIDs returns what desired adds to and removes from current
func diffIDs(current, desired []uuid.UUID) (added, removed []uuid.UUID) {
	have := make(map[uuid.UUID]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}

	want := make(map[uuid.UUID]struct{}, len(desired))
	for _, id := range desired {
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			added = append(added, id)
		}
	}

	for _, id := range current {
		if _, ok := want[id]; !ok {
			removed = append(removed, id)
		}
	}

	return added, removed
}
