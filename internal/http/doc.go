// Package http provides the control surface for the booking service.
//
// The router exposes the following endpoints:
//   - GET /workers: snapshots of every registered campaign worker.
//   - POST /workers/{id}/start: launch a campaign for the user. Responds 202
//     Accepted; 409 when one is already running.
//   - POST /workers/{id}/stop: cancel the user's campaign and confirm the
//     worker exited.
//   - POST /workers/{id}/resume: wake a worker paused on an expired session.
//   - GET /workers/{id}/status: the worker snapshot including recent events.
//   - GET /workers/{id}/history?limit=N: the booking attempt ledger, newest
//     first.
//   - GET /users/{id}/config, PUT /users/{id}/config: the per-user booking
//     configuration document; PUT validates and applies defaults.
//   - PUT /users/{id}/credential: store a freshly captured session state and
//     wake any paused worker.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
