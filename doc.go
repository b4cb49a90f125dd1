// Package auth is the account core of the lab services: credential
// storage, email activation with one time codes, password resets and
// role based permissions, with stateless HS256 tokens carrying a
// snapshot of the user.
//
// Accounts:
//   - AuthService owns every state change. Register, Login, Activate,
//     StartResetPassword and ResetPassword run inside a single
//     transaction through RepositoryManager.RunInTx.
//   - Codes are TOTP values bound to the user id and the configured
//     secret. A code is stored on the user's AuthCode row and consumed
//     on first use.
//
// Events:
//   - Code delivery leaves the service through an EventEmitter after
//     the transaction commits. AsyncEmitter runs listeners in the
//     background and only logs their failures, so mail problems never
//     undo an account change.
//   - ActivitySink receives audit events for logins, activations and
//     role changes.
//
// Tokens:
//   - TokenService signs TokenClaims carrying a UserSnapshot. RequireRoles
//     and the role guards on UserSnapshot authorize callers without a
//     database round trip.
package auth
