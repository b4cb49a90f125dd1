package auth

import (
	"strings"
)

// IsAdmin checks if the snapshot carries the admin role
func IsAdmin(s UserSnapshot) bool {
	return HasAnyRole(s, RoleAdmin)
}

// HasAnyRole checks if the snapshot carries at least one of roles
func HasAnyRole(s UserSnapshot, roles ...string) bool {
	for _, r := range s.Roles {
		for _, want := range roles {
			if r.Name == want {
				return true
			}
		}
	}
	return false
}

// CanPerform checks if any role in the snapshot grants action on app
func CanPerform(s UserSnapshot, app, action string) bool {
	for _, r := range s.Roles {
		for _, p := range r.Permissions {
			if p.App == app && p.Action == action {
				return true
			}
		}
	}
	return false
}

// RequireRoles decodes the user in claims and checks it holds one of
// roles. Disabled users are always rejected.
func RequireRoles(claims *TokenClaims, roles ...string) (UserSnapshot, error) {
	if claims == nil {
		return UserSnapshot{}, ErrInvalidToken
	}

	user, err := claims.User()
	if err != nil {
		return UserSnapshot{}, ErrInvalidToken
	}

	if !user.IsEnabled {
		return user, ErrUserDisabled
	}

	if len(roles) > 0 && !HasAnyRole(user, roles...) {
		return user, ErrForbidden
	}

	return user, nil
}

// RequireAdmin is RequireRoles for the admin role
func RequireAdmin(claims *TokenClaims) (UserSnapshot, error) {
	return RequireRoles(claims, RoleAdmin)
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrInvalidToken
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	return token, nil
}
