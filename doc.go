// Package accounts implements a self-service user directory gate: visitors
// register, an administrator approves or rejects them, approved accounts can
// authenticate and recover a forgotten password through an emailed,
// time-limited, single-use token.
//
// Account lifecycle:
//   - Accounts carry an AccountStatus persisted via Bun. New registrations
//     start as pending. Approve and Reject settle a pending account, Disable
//     and Enable toggle an approved one. Every other move fails with
//     ErrInvalidTransition.
//   - AccountStateMachine owns the transition graph and applies each move with
//     a conditional update so two administrators racing on the same row cannot
//     both win.
//
// Activity log:
//   - Every persisted mutation appends one ActivityEntry in the same
//     transaction as the change. Entries are immutable and only removed by
//     ActivityPurger once they are older than the retention window.
//   - ActivitySink receives a copy of each entry after commit. Sinks are best
//     effort (errors are logged) and feed things like Prometheus counters.
//
// Password recovery:
//   - PasswordRecovery.RequestReset issues a random token for approved
//     accounts only and answers unknown emails with the same result.
//   - PasswordRecovery.ConfirmReset rotates the hash and clears the token in a
//     single statement guarded by the token expiry, so a token can be redeemed
//     at most once.
//
// Notifications are soft: a failed email never rolls back the state change
// that triggered it, the failure is reported on the operation result instead.
package accounts
