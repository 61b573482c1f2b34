// Package service contains the application use cases behind the HTTP API:
// accepting generation requests, reporting task status, requesting panel
// regenerations, cancelling tasks and triggering maintenance jobs.
//
// Services validate requests against the domain rules, persist through the
// store interfaces and hand background work to an events.EventEmitter. They
// never depend on a concrete queue, database or storage backend; those are
// wired in cmd/.
//
// Errors:
//   - Expected conditions are sentinel errors (ErrTaskNotCancellable,
//     ErrPanelNotCompleted, store.ErrTaskNotFound, domain validation errors)
//     returned unwrapped so the API can map them with errors.Is.
//   - Anything else is wrapped in a ServiceError naming the operation.
package service
