// Package library implements the domain core of a library-management backend:
// catalog inventory, the borrow-request lifecycle, member accounts, and the
// single-session registry that gates every authenticated request.
//
// Borrow lifecycle:
//   - BorrowRequests carry a BorrowStatus persisted via Bun. Statuses cover
//     pending, borrowed, returned, late-return, and overdue flows, and a
//     request becomes terminal the moment its return date is recorded.
//   - BorrowStateMachine centralizes the transition graph, timestamp handling,
//     hooks, and persistence. The interactive commands (approve, return) and
//     the overdue sweep drive the exact same transitions, so there is a single
//     definition of what each status change means.
//
// Inventory:
//   - The Books repository doubles as the inventory ledger. Available-copy
//     counters only move through conditional SQL updates, so two concurrent
//     approvals of the last copy resolve to one success and one rejection.
//
// Sessions:
//   - SessionRegistry maps a member to their one valid token. Binding a new
//     token silently supersedes the previous one; the request gate rejects
//     superseded tokens even while the underlying JWT is still unexpired.
//
// Notifications:
//   - Mailer is a best-effort gateway. Lifecycle transitions commit first,
//     then a dispatch step attempts delivery under a timeout and only logs
//     failures; a slow or broken mail gateway never reverses a transition.
package library
