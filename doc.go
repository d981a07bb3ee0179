// Package auth implements the credential lifecycle of a campus account:
// registration, email verification, first password set, login and password
// recovery, plus owner or admin driven password and profile changes.
//
// Account lifecycle:
//   - An Account carries two flags, Verified and PasswordSet. StateOf derives
//     the lifecycle state from them (registered, verified, active) and the
//     transition graph only moves forward. Every transition is a single
//     conditional CredentialStore write so concurrent requests for the same
//     identity cannot both succeed.
//   - Lifecycle links carry stateless JWTs from TokenCodec. Each token names
//     its purpose and is rejected for any other operation. Reset tokens embed
//     the credential version, any password change invalidates them.
//
// Notifications:
//   - The store transition is committed first, then the Notifier is called.
//     A delivery failure is returned as ErrNotificationUnreachable on the
//     result's NotificationWarning and never rolls the account back.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by LifecycleManager
//     and Authenticator. Events carry the from and to states of the account.
//     Sinks run best-effort (errors are logged) so you can forward to a
//     database or queue without blocking the request.
package auth
